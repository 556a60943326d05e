package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shouni/go-slide-kit/internal/events"
	"github.com/shouni/go-slide-kit/pkg/domain"
	"github.com/shouni/go-slide-kit/pkg/workflow"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) GetBytes(name string, _ ...nats.GetObjectOpt) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[name]
	if !ok {
		return nil, nats.ErrObjectNotFound
	}
	return data, nil
}

func (s *memStore) PutBytes(name string, data []byte, _ ...nats.ObjectOpt) (*nats.ObjectInfo, error) {
	if s.putErr != nil {
		return nil, s.putErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = append([]byte(nil), data...)
	return &nats.ObjectInfo{ObjectMeta: nats.ObjectMeta{Name: name}, Size: uint64(len(data))}, nil
}

type published struct {
	subject string
	data    []byte
}

type memPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *memPublisher) Publish(subj string, data []byte, _ ...nats.PubOpt) (*nats.PubAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{subject: subj, data: data})
	return &nats.PubAck{Stream: "TEST"}, nil
}

func (p *memPublisher) on(subject string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, m := range p.msgs {
		if m.subject == subject {
			out = append(out, m)
		}
	}
	return out
}

type stubRunner struct {
	dir  string
	err  error
	last workflow.RunRequest
}

func (r *stubRunner) Generate(_ context.Context, req workflow.RunRequest) (*workflow.GenerateResult, error) {
	r.last = req
	if r.err != nil {
		return nil, r.err
	}
	deck := filepath.Join(r.dir, "slides.pptx")
	if err := os.WriteFile(deck, []byte("PK-deck"), 0o644); err != nil {
		return nil, err
	}
	return &workflow.GenerateResult{
		PlanResult: workflow.PlanResult{
			RunID:    "run-20260101-000000-abcd",
			Contract: domain.Contract{Pages: []domain.PageConfig{{TemplatePageNum: 1}}},
			Warnings: []domain.Warning{{Block: 1, Message: "cut"}},
		},
		DeckPath: deck,
	}, nil
}

var testSubjects = Subjects{Completed: "run.completed", DeadLetter: "run.dead"}

func newTestProcessor(t *testing.T, runner Runner) (*Processor, *memStore, *memStore, *memPublisher) {
	t.Helper()
	scripts, decks, pub := newMemStore(), newMemStore(), &memPublisher{}
	proc, err := NewProcessor(runner, scripts, decks, pub, workflow.Sources{ManifestPath: "m.json"}, testSubjects)
	require.NoError(t, err)
	return proc, scripts, decks, pub
}

func requestBody(t *testing.T, key string) []byte {
	t.Helper()
	body, err := json.Marshal(events.RunRequestedEvent{
		Header:     events.NewHeader("wf-1"),
		ScriptKey:  key,
		Overrides:  domain.Metadata{Course: "操作系统"},
		UserPrompt: "简洁",
	})
	require.NoError(t, err)
	return body
}

func decodeCompleted(t *testing.T, msgs []published) events.RunCompletedEvent {
	t.Helper()
	require.Len(t, msgs, 1)
	var ev events.RunCompletedEvent
	require.NoError(t, json.Unmarshal(msgs[0].data, &ev))
	return ev
}

func TestProcessor_Success(t *testing.T) {
	runner := &stubRunner{dir: t.TempDir()}
	proc, scripts, decks, pub := newTestProcessor(t, runner)
	scripts.objects["lectures/ch1.md"] = []byte("## 第一章")

	done, err := proc.Process(context.Background(), requestBody(t, "lectures/ch1.md"))
	require.NoError(t, err)

	assert.True(t, done.Succeeded())
	assert.Equal(t, "wf-1/run-20260101-000000-abcd/slides.pptx", done.DeckKey)
	assert.Equal(t, []byte("PK-deck"), decks.objects[done.DeckKey])

	assert.Equal(t, "ch1.md", runner.last.ScriptName, "拡張子で形式を判定できるようにベース名を渡すのだ")
	assert.Equal(t, []byte("## 第一章"), runner.last.Script)
	assert.Equal(t, "操作系统", runner.last.Overrides.Course)
	assert.Equal(t, "m.json", runner.last.ManifestPath)

	ev := decodeCompleted(t, pub.on(testSubjects.Completed))
	assert.Equal(t, "wf-1", ev.Header.WorkflowID)
	require.NotNil(t, ev.Contract)
	assert.Equal(t, []int{1}, ev.Contract.PageNumbers())
	assert.Len(t, ev.Warnings, 1)
	assert.Empty(t, pub.on(testSubjects.DeadLetter))
}

func TestProcessor_Failures(t *testing.T) {
	t.Run("パイプラインの失敗は種別付きで報告するのだ", func(t *testing.T) {
		runner := &stubRunner{err: &domain.PipelineError{Kind: domain.ErrNoAssignmentStrategy}}
		proc, scripts, _, pub := newTestProcessor(t, runner)
		scripts.objects["a.md"] = []byte("x")

		body := requestBody(t, "a.md")
		_, err := proc.Process(context.Background(), body)
		require.ErrorIs(t, err, domain.ErrNoAssignmentStrategy)

		ev := decodeCompleted(t, pub.on(testSubjects.Completed))
		assert.False(t, ev.Succeeded())
		assert.Equal(t, "NoAssignmentStrategyError", ev.ErrorKind)

		dead := pub.on(testSubjects.DeadLetter)
		require.Len(t, dead, 1)
		assert.Equal(t, body, dead[0].data, "デッドレターには元の要求をそのまま送るのだ")
	})

	t.Run("原稿がストアになければ失敗するのだ", func(t *testing.T) {
		proc, _, _, pub := newTestProcessor(t, &stubRunner{dir: t.TempDir()})
		_, err := proc.Process(context.Background(), requestBody(t, "missing.md"))
		require.ErrorIs(t, err, nats.ErrObjectNotFound)
		assert.Len(t, pub.on(testSubjects.DeadLetter), 1)
	})

	t.Run("アップロード失敗でも実行 ID は残すのだ", func(t *testing.T) {
		proc, scripts, decks, pub := newTestProcessor(t, &stubRunner{dir: t.TempDir()})
		scripts.objects["a.md"] = []byte("x")
		decks.putErr = errors.New("bucket full")

		_, err := proc.Process(context.Background(), requestBody(t, "a.md"))
		require.Error(t, err)
		ev := decodeCompleted(t, pub.on(testSubjects.Completed))
		assert.Equal(t, "run-20260101-000000-abcd", ev.RunID)
		assert.Empty(t, ev.ErrorKind)
	})

	t.Run("壊れた JSON はデッドレターだけに送るのだ", func(t *testing.T) {
		proc, _, _, pub := newTestProcessor(t, &stubRunner{})
		_, err := proc.Process(context.Background(), []byte("{not json"))
		require.Error(t, err)
		assert.Len(t, pub.on(testSubjects.DeadLetter), 1)
		assert.Empty(t, pub.on(testSubjects.Completed))
	})
}

func TestNewProcessor_Validation(t *testing.T) {
	s, p := newMemStore(), &memPublisher{}
	_, err := NewProcessor(nil, s, s, p, workflow.Sources{}, testSubjects)
	assert.Error(t, err)
	_, err = NewProcessor(&stubRunner{}, s, s, p, workflow.Sources{}, Subjects{})
	assert.Error(t, err)
}

func TestDeckKeyFor(t *testing.T) {
	assert.Equal(t, "wf/run-1/slides.pptx", deckKeyFor("wf", "run-1"))
	assert.Equal(t, "run-1/slides.pptx", deckKeyFor("", "run-1"))
}

// scriptedFetcher は用意したエラーを順に返し、尽きたらタイムアウトを返し続けるのだ。
type scriptedFetcher struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *scriptedFetcher) Fetch(int, ...nats.PullOpt) ([]*nats.Msg, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) == 0 {
		time.Sleep(time.Millisecond)
		return nil, nats.ErrTimeout
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return nil, err
}

func (f *scriptedFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestNatsWorker_Loop(t *testing.T) {
	t.Run("接続が閉じられたらループを抜けてエラーを返すのだ", func(t *testing.T) {
		f := &scriptedFetcher{errs: []error{nats.ErrTimeout, nats.ErrConnectionClosed}}
		err := (&NatsWorker{}).loop(context.Background(), f)
		require.ErrorIs(t, err, nats.ErrConnectionClosed)
		assert.Equal(t, 2, f.count())
	})

	t.Run("その他のフェッチ失敗は待ってから再試行するのだ", func(t *testing.T) {
		prev := fetchErrorBackoff
		fetchErrorBackoff = 50 * time.Millisecond
		t.Cleanup(func() { fetchErrorBackoff = prev })

		boom := errors.New("nats: consumer deleted")
		f := &scriptedFetcher{errs: []error{boom, boom, boom, boom, boom, boom, boom, boom}}
		ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
		defer cancel()

		start := time.Now()
		require.NoError(t, (&NatsWorker{}).loop(ctx, f))
		assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
		assert.LessOrEqual(t, f.count(), 4, "失敗のたびに待つので空回りしないのだ")
	})

	t.Run("キャンセル済みならすぐに戻るのだ", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		f := &scriptedFetcher{}
		require.NoError(t, (&NatsWorker{}).loop(ctx, f))
		assert.Zero(t, f.count())
	})
}

func TestNatsWorker_CloseWithoutConn(t *testing.T) {
	assert.NotPanics(t, func() { (&NatsWorker{}).Close() })
}
