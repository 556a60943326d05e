// Package worker は NATS JetStream から実行要求を受け取ってスライドを生成するワーカーなのだ。
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/shouni/go-slide-kit/internal/events"
	"github.com/shouni/go-slide-kit/pkg/asset"
	"github.com/shouni/go-slide-kit/pkg/domain"
	"github.com/shouni/go-slide-kit/pkg/workflow"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

const (
	// NatsConnectTimeout は NATS への接続タイムアウトなのだ。
	NatsConnectTimeout = 10 * time.Second
	// NatsMaxReconnectAttempts は再接続の最大回数なのだ。
	NatsMaxReconnectAttempts = 5
	// NatsFetchMaxWait は1回のフェッチでメッセージを待つ最大時間なのだ。
	NatsFetchMaxWait = 5 * time.Second
)

// Runner は1本の原稿からデッキを生成する処理なのだ。workflow.Manager が満たすのだ。
type Runner interface {
	Generate(ctx context.Context, req workflow.RunRequest) (*workflow.GenerateResult, error)
}

// ObjectStore は nats.ObjectStore のうちワーカーが使う部分なのだ。
type ObjectStore interface {
	GetBytes(name string, opts ...nats.GetObjectOpt) ([]byte, error)
	PutBytes(name string, data []byte, opts ...nats.ObjectOpt) (*nats.ObjectInfo, error)
}

// Publisher はイベントの発行先なのだ。nats.JetStreamContext が満たすのだ。
type Publisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Subjects はワーカーが発行するサブジェクトなのだ。
type Subjects struct {
	Completed  string
	DeadLetter string
}

// Processor は要求1件を処理して結果イベントを発行するのだ。NATS の接続には依存しないのだ。
type Processor struct {
	runner   Runner
	scripts  ObjectStore
	decks    ObjectStore
	pub      Publisher
	sources  workflow.Sources
	subjects Subjects
}

// NewProcessor は Processor を作るのだ。
func NewProcessor(runner Runner, scripts, decks ObjectStore, pub Publisher, sources workflow.Sources, subjects Subjects) (*Processor, error) {
	if runner == nil {
		return nil, errors.New("runner は必須です")
	}
	if scripts == nil || decks == nil {
		return nil, errors.New("オブジェクトストアは必須です")
	}
	if pub == nil {
		return nil, errors.New("publisher は必須です")
	}
	if subjects.Completed == "" {
		return nil, errors.New("完了サブジェクトが設定されていません")
	}
	return &Processor{
		runner:   runner,
		scripts:  scripts,
		decks:    decks,
		pub:      pub,
		sources:  sources,
		subjects: subjects,
	}, nil
}

// Process はメッセージ本文を RunRequestedEvent として処理するのだ。
// 失敗した場合も完了イベント（ErrorKind 付き）を発行し、元の本文をデッドレターに送るのだ。
func (p *Processor) Process(ctx context.Context, data []byte) (events.RunCompletedEvent, error) {
	var req events.RunRequestedEvent
	if err := json.Unmarshal(data, &req); err != nil {
		err = fmt.Errorf("RunRequestedEvent のデコードに失敗しました: %w", err)
		p.deadLetter(data, err)
		return events.RunCompletedEvent{}, err
	}

	done, err := p.run(ctx, req)
	if err != nil {
		done = events.RunCompletedEvent{
			Header:    events.NewHeader(req.Header.WorkflowID),
			ScriptKey: req.ScriptKey,
			RunID:     done.RunID,
			ErrorKind: domain.KindOf(err),
			Error:     err.Error(),
		}
		p.deadLetter(data, err)
	}

	if pubErr := p.publish(p.subjects.Completed, done); pubErr != nil {
		return done, errors.Join(err, pubErr)
	}
	return done, err
}

func (p *Processor) run(ctx context.Context, req events.RunRequestedEvent) (events.RunCompletedEvent, error) {
	if req.ScriptKey == "" {
		return events.RunCompletedEvent{}, errors.New("script_key が空です")
	}

	script, err := p.scripts.GetBytes(req.ScriptKey)
	if err != nil {
		return events.RunCompletedEvent{}, fmt.Errorf("原稿 '%s' をオブジェクトストアから取得できません: %w", req.ScriptKey, err)
	}

	res, err := p.runner.Generate(ctx, workflow.RunRequest{
		Sources:    p.sources,
		Script:     script,
		ScriptName: path.Base(req.ScriptKey),
		Overrides:  req.Overrides,
		UserPrompt: req.UserPrompt,
	})
	if err != nil {
		return events.RunCompletedEvent{}, fmt.Errorf("'%s' の生成に失敗しました: %w", req.ScriptKey, err)
	}

	deck, err := os.ReadFile(res.DeckPath)
	if err != nil {
		return events.RunCompletedEvent{RunID: res.RunID}, fmt.Errorf("デッキ '%s' の読み込みに失敗しました: %w", res.DeckPath, err)
	}

	deckKey := deckKeyFor(req.Header.WorkflowID, res.RunID)
	if _, err := p.decks.PutBytes(deckKey, deck); err != nil {
		return events.RunCompletedEvent{RunID: res.RunID}, fmt.Errorf("デッキのアップロードに失敗しました: %w", err)
	}

	contract := res.Contract
	return events.RunCompletedEvent{
		Header:    events.NewHeader(req.Header.WorkflowID),
		ScriptKey: req.ScriptKey,
		RunID:     res.RunID,
		DeckKey:   deckKey,
		Contract:  &contract,
		Warnings:  res.Warnings,
	}, nil
}

// deckKeyFor はデッキの保存キーを作るのだ。ワークフロー ID がなければ実行 ID だけを使うのだ。
func deckKeyFor(workflowID, runID string) string {
	if workflowID == "" {
		return path.Join(runID, asset.DefaultDeckName)
	}
	return path.Join(workflowID, runID, asset.DefaultDeckName)
}

func (p *Processor) publish(subject string, event events.RunCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("RunCompletedEvent のエンコードに失敗しました: %w", err)
	}
	if _, err := p.pub.Publish(subject, body); err != nil {
		return fmt.Errorf("'%s' への発行に失敗しました: %w", subject, err)
	}
	return nil
}

func (p *Processor) deadLetter(data []byte, cause error) {
	slog.Error("要求の処理に失敗しました", "error", cause)
	if p.subjects.DeadLetter == "" {
		return
	}
	if _, err := p.pub.Publish(p.subjects.DeadLetter, data); err != nil {
		slog.Error("デッドレターへの発行に失敗しました", "subject", p.subjects.DeadLetter, "error", err)
	}
}

// Settings は NatsWorker の接続先と購読設定なのだ。
type Settings struct {
	URL            string
	Stream         string
	RequestSubject string
	Durable        string
	ScriptBucket   string
	DeckBucket     string
	Workers        int
	Subjects       Subjects
	Sources        workflow.Sources
}

// NatsWorker は NATS 接続とメッセージ消費を管理するのだ。
type NatsWorker struct {
	nc        *nats.Conn
	jetstream nats.JetStreamContext
	processor *Processor
	settings  Settings
}

// New は NATS に接続し、ストリームとオブジェクトストアを用意してワーカーを作るのだ。
func New(settings Settings, runner Runner) (*NatsWorker, error) {
	nc, err := nats.Connect(
		settings.URL,
		nats.Timeout(NatsConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(NatsMaxReconnectAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("NATS への接続に失敗しました: %w", err)
	}
	slog.Info("NATS に接続しました", "url", settings.URL)

	w, err := newWorker(nc, settings, runner)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return w, nil
}

func newWorker(nc *nats.Conn, settings Settings, runner Runner) (*NatsWorker, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("JetStream コンテキストの取得に失敗しました: %w", err)
	}

	if err := ensureStream(js, settings); err != nil {
		return nil, err
	}
	scripts, err := ensureObjectStore(js, settings.ScriptBucket)
	if err != nil {
		return nil, err
	}
	decks, err := ensureObjectStore(js, settings.DeckBucket)
	if err != nil {
		return nil, err
	}

	proc, err := NewProcessor(runner, scripts, decks, js, settings.Sources, settings.Subjects)
	if err != nil {
		return nil, err
	}

	if settings.Workers <= 0 {
		settings.Workers = 1
	}
	return &NatsWorker{nc: nc, jetstream: js, processor: proc, settings: settings}, nil
}

// ensureStream はストリームがなければ要求・完了・デッドレターの3サブジェクトで作るのだ。
func ensureStream(js nats.JetStreamContext, settings Settings) error {
	_, err := js.StreamInfo(settings.Stream)
	if err == nil {
		slog.Info("ストリームが見つかりました", "stream", settings.Stream)
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("ストリーム '%s' の確認に失敗しました: %w", settings.Stream, err)
	}

	subjects := []string{settings.RequestSubject, settings.Subjects.Completed}
	if settings.Subjects.DeadLetter != "" {
		subjects = append(subjects, settings.Subjects.DeadLetter)
	}
	if _, err := js.AddStream(&nats.StreamConfig{Name: settings.Stream, Subjects: subjects}); err != nil {
		return fmt.Errorf("ストリーム '%s' の作成に失敗しました: %w", settings.Stream, err)
	}
	slog.Info("ストリームを作成しました", "stream", settings.Stream, "subjects", subjects)
	return nil
}

func ensureObjectStore(js nats.JetStreamContext, bucket string) (nats.ObjectStore, error) {
	store, err := js.ObjectStore(bucket)
	if err == nil {
		return store, nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) && !errors.Is(err, nats.ErrBucketNotFound) {
		return nil, fmt.Errorf("オブジェクトストア '%s' の取得に失敗しました: %w", bucket, err)
	}
	store, err = js.CreateObjectStore(&nats.ObjectStoreConfig{Bucket: bucket})
	if err != nil {
		return nil, fmt.Errorf("オブジェクトストア '%s' の作成に失敗しました: %w", bucket, err)
	}
	return store, nil
}

// Run はコンテキストがキャンセルされるまで要求を処理するのだ。
// Workers 個のゴルーチンがそれぞれプル購読からフェッチするのだ。
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.jetstream.PullSubscribe(
		w.settings.RequestSubject,
		w.settings.Durable,
		nats.BindStream(w.settings.Stream),
	)
	if err != nil {
		return fmt.Errorf("プル購読に失敗しました: %w", err)
	}
	slog.Info("ワーカーを起動しました",
		"subject", w.settings.RequestSubject,
		"durable", w.settings.Durable,
		"workers", w.settings.Workers,
	)

	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.settings.Workers; i++ {
		eg.Go(func() error {
			return w.loop(ctx, sub)
		})
	}
	err = eg.Wait()
	slog.Info("ワーカーを停止しました")
	return err
}

// fetcher は *nats.Subscription のうち loop が使う部分なのだ。
type fetcher interface {
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
}

// fetchErrorBackoff はタイムアウト以外のフェッチ失敗のあとに待つ時間なのだ。
var fetchErrorBackoff = time.Second

// loop はコンテキストのキャンセルか接続の終了まで要求をフェッチするのだ。
func (w *NatsWorker) loop(ctx context.Context, sub fetcher) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(NatsFetchMaxWait))
		switch {
		case err == nil:
		case errors.Is(err, nats.ErrTimeout):
			continue
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, nats.ErrConnectionClosed):
			return fmt.Errorf("NATS 接続が閉じられました: %w", err)
		default:
			slog.Error("メッセージのフェッチに失敗しました", "error", err, "retry_in", fetchErrorBackoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(fetchErrorBackoff):
			}
			continue
		}

		for _, msg := range msgs {
			w.handleMsg(ctx, msg)
		}
	}
}

// handleMsg は成否にかかわらずメッセージを Ack するのだ。失敗はデッドレターで追跡するのだ。
func (w *NatsWorker) handleMsg(ctx context.Context, msg *nats.Msg) {
	start := time.Now()
	done, err := w.processor.Process(ctx, msg.Data)
	if err != nil {
		slog.Error("実行が失敗しました", "script", done.ScriptKey, "kind", done.ErrorKind, "error", err)
	} else {
		slog.Info("実行が完了しました",
			"script", done.ScriptKey,
			"deck", done.DeckKey,
			"warnings", len(done.Warnings),
			"elapsed", time.Since(start),
		)
	}

	if ackErr := msg.Ack(); ackErr != nil {
		slog.Error("Ack に失敗しました", "error", ackErr)
	}
}

// Close は NATS 接続を閉じるのだ。
func (w *NatsWorker) Close() {
	if w.nc == nil {
		return
	}
	if err := w.nc.Drain(); err != nil {
		slog.Warn("NATS 接続のドレインに失敗しました", "error", err)
	}
}
