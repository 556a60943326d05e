package planner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/shouni/go-slide-kit/pkg/domain"
	"github.com/shouni/go-slide-kit/pkg/manifest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hint(n int) *int { return &n }

func sampleRequest() Request {
	return Request{
		Blocks: []domain.ScriptBlock{
			{SequenceIndex: 0, Text: "栈是一种后进先出的结构", Images: []string{"doc_image_1.png"}},
		},
		Pages: []manifest.PageSpec{{
			TemplatePageNum: 3,
			PageType:        "图文页",
			TextSlots:       1,
			ImageSlots:      1,
			Fields: []manifest.Field{
				{Name: "正文", Locator: "body", Kind: manifest.KindText, MaxChars: 50, Required: true},
				{Name: "配图", Locator: "pic", Kind: manifest.KindImage},
			},
		}},
		Images: domain.NewImageSet(domain.NewImageAsset(1, "png", []byte("png"))),
	}
}

func TestExtractContract(t *testing.T) {
	t.Run("コードフェンスを外すのだ", func(t *testing.T) {
		raw := "以下是结果：\n```json\n{\"ppt_pages\":[{\"page_type\":\"封面\",\"template_page_num\":1,\"fields\":{\"标题\":\"栈\"}}]}\n```\n祝顺利"
		c, err := ExtractContract(raw)
		require.NoError(t, err)
		require.Len(t, c.Pages, 1)
		assert.Equal(t, 1, c.Pages[0].TemplatePageNum)
		assert.Equal(t, "栈", c.Pages[0].Fields["标题"])
	})

	t.Run("ページ配列だけでも受け付けるのだ", func(t *testing.T) {
		c, err := ExtractContract(`[{"page_type":"正文页","template_page_num":3,"fields":{}}]`)
		require.NoError(t, err)
		assert.Equal(t, []int{3}, c.PageNumbers())
	})

	t.Run("契約でない JSON は読み飛ばすのだ", func(t *testing.T) {
		c, err := ExtractContract(`思考：{"note":"draft"} 最终 {"ppt_pages":[{"template_page_num":4,"fields":{"a":"b"}}]}`)
		require.NoError(t, err)
		assert.Equal(t, []int{4}, c.PageNumbers())
	})

	t.Run("JSON がなければエラーなのだ", func(t *testing.T) {
		_, err := ExtractContract("抱歉，我无法完成")
		assert.ErrorIs(t, err, ErrNoContract)
	})
}

func TestLLMPlanner_Plan(t *testing.T) {
	var got Prompt
	model := ModelFunc(func(_ context.Context, p Prompt) (string, error) {
		got = p
		return `{"ppt_pages":[{"page_type":"图文页","template_page_num":3,"fields":{"正文":"栈","配图":"doc_image_1.png"}}]}`, nil
	})

	t.Run("画像対応なら画像を添付し、違反をプロンプトに含めるのだ", func(t *testing.T) {
		p, err := NewLLMPlanner(model, LLMPlannerConfig{Name: "fake", SupportsImages: true, DefaultPrompt: "语气正式"})
		require.NoError(t, err)

		req := sampleRequest()
		req.Violations = []domain.Violation{{Page: 1, TemplatePageNum: 3, Field: "正文", Reason: "exceeds max_chars 50"}}
		c, err := p.Plan(context.Background(), req)
		require.NoError(t, err)

		assert.Equal(t, []int{3}, c.PageNumbers())
		require.Len(t, got.Images, 1)
		assert.Equal(t, "doc_image_1.png", got.Images[0].Name)
		assert.Contains(t, got.Text, "exceeds max_chars 50")
		assert.Contains(t, got.Text, "语气正式")
		assert.Contains(t, got.Text, "[图片资源: doc_image_1.png]")
	})

	t.Run("画像非対応なら画像名だけなのだ", func(t *testing.T) {
		p, err := NewLLMPlanner(model, LLMPlannerConfig{Name: "text-only"})
		require.NoError(t, err)
		_, err = p.Plan(context.Background(), sampleRequest())
		require.NoError(t, err)
		assert.Empty(t, got.Images)
		assert.Contains(t, got.Text, "doc_image_1.png")
		assert.False(t, p.Capabilities().SupportsImages)
	})

	t.Run("モデルのエラーは包んで返すのだ", func(t *testing.T) {
		boom := errors.New("boom")
		p, err := NewLLMPlanner(ModelFunc(func(context.Context, Prompt) (string, error) { return "", boom }), LLMPlannerConfig{})
		require.NoError(t, err)
		_, err = p.Plan(context.Background(), sampleRequest())
		assert.ErrorIs(t, err, boom)
	})

	t.Run("model が nil ならエラーなのだ", func(t *testing.T) {
		_, err := NewLLMPlanner(nil, LLMPlannerConfig{})
		assert.Error(t, err)
	})
}

func TestLLMPlanner_RewriteScript(t *testing.T) {
	var gotText string
	p, err := NewLLMPlanner(ModelFunc(func(_ context.Context, pr Prompt) (string, error) {
		gotText = pr.Text
		return "\n【PPT3】栈\n[图片资源: doc_image_1.png]\n", nil
	}), LLMPlannerConfig{})
	require.NoError(t, err)

	req := sampleRequest()
	req.Blocks[0].TemplateHint = hint(3)
	out, err := p.RewriteScript(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "【PPT3】栈\n[图片资源: doc_image_1.png]", out)
	assert.Contains(t, gotText, "【PPT3】")

	var rw ScriptRewriter = p
	assert.NotNil(t, rw)
}

func TestOpenAIModel_Generate(t *testing.T) {
	t.Run("マルチモーダルのパートと認証ヘッダーを送るのだ", func(t *testing.T) {
		var body map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
			data, _ := io.ReadAll(r.Body)
			assert.NoError(t, json.Unmarshal(data, &body))
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  ok  "}}]}`))
		}))
		defer srv.Close()

		m, err := NewOpenAIModel(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Model: "glm-4.6", HTTPClient: srv.Client()})
		require.NoError(t, err)
		out, err := m.Generate(context.Background(), Prompt{
			Text:   "hello",
			Images: []domain.ImageAsset{domain.NewImageAsset(1, "png", []byte("abc"))},
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", out)

		assert.Equal(t, "glm-4.6", body["model"])
		msgs := body["messages"].([]any)
		parts := msgs[0].(map[string]any)["content"].([]any)
		require.Len(t, parts, 2)
		img := parts[1].(map[string]any)["image_url"].(map[string]any)
		assert.Equal(t, "data:image/png;base64,YWJj", img["url"])
	})

	t.Run("200 以外はステータスを含むエラーにして、自分では再送しないのだ", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			http.Error(w, `{"error":{"message":"busy"}}`, http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		m, err := NewOpenAIModel(OpenAIConfig{BaseURL: srv.URL, Model: "x", HTTPClient: srv.Client()})
		require.NoError(t, err)
		_, err = m.Generate(context.Background(), Prompt{Text: "hi"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "503")
		assert.EqualValues(t, 1, calls.Load())
	})
}

// countingDoer は渡された Doer で送りつつ、送信回数を数えるのだ。
type countingDoer struct {
	next  Doer
	calls atomic.Int32
}

func (d *countingDoer) Do(req *http.Request) (*http.Response, error) {
	d.calls.Add(1)
	return d.next.Do(req)
}

func TestRegistry_SharedHTTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/generate" {
			_ = json.NewEncoder(w).Encode(map[string]any{"text": `{"ppt_pages":[{"template_page_num":3,"fields":{}}]}`})
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"ppt_pages\":[{\"template_page_num\":3,\"fields\":{}}]}"}}]}`))
	}))
	defer srv.Close()

	doer := &countingDoer{next: srv.Client()}
	for _, provider := range []string{"local", "qwen"} {
		p, err := New(context.Background(), ProviderConfig{Provider: provider, BaseURL: srv.URL, HTTPClient: doer})
		require.NoError(t, err)
		c, err := p.Plan(context.Background(), sampleRequest())
		require.NoError(t, err, provider)
		assert.Equal(t, []int{3}, c.PageNumbers())
	}
	assert.EqualValues(t, 2, doer.calls.Load(), "どちらのプロバイダも注入したクライアントで送るのだ")
}

func TestVLLMModel_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate", r.URL.Path)
		var req vllmRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, strings.HasSuffix(req.Prompt, "<|im_start|>assistant\n"))
		_ = json.NewEncoder(w).Encode(map[string]any{"text": []string{req.Prompt + `{"ppt_pages":[]}`}})
	}))
	defer srv.Close()

	m, err := NewVLLMModel(VLLMConfig{BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	out, err := m.Generate(context.Background(), Prompt{Text: "规划"})
	require.NoError(t, err)
	assert.Equal(t, `{"ppt_pages":[]}`, out)
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("プリセットが登録されているのだ", func(t *testing.T) {
		for _, name := range []string{"openai", "deepseek", "local", "qwen", "taichu", "glm", "zhipu", "gemini"} {
			assert.Contains(t, Providers(), name)
		}
	})

	t.Run("未登録はエラーなのだ", func(t *testing.T) {
		_, err := New(ctx, ProviderConfig{Provider: "nope"})
		assert.Error(t, err)
	})

	t.Run("API キー必須のプロバイダはキーなしで失敗するのだ", func(t *testing.T) {
		_, err := New(ctx, ProviderConfig{Provider: "deepseek"})
		assert.Error(t, err)
	})

	t.Run("能力フラグはプリセットと上書きで決まるのだ", func(t *testing.T) {
		p, err := New(ctx, ProviderConfig{Provider: "GLM", APIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, "glm", p.Name())
		assert.True(t, p.Capabilities().SupportsImages)

		off := false
		p, err = New(ctx, ProviderConfig{Provider: "glm", APIKey: "k", SupportsImages: &off})
		require.NoError(t, err)
		assert.False(t, p.Capabilities().SupportsImages)

		p, err = New(ctx, ProviderConfig{Provider: "local"})
		require.NoError(t, err)
		assert.False(t, p.Capabilities().SupportsImages)
	})

	t.Run("独自プロバイダを登録できるのだ", func(t *testing.T) {
		Register("custom-test", func(_ context.Context, cfg ProviderConfig) (Planner, error) {
			return NewLLMPlanner(ModelFunc(func(context.Context, Prompt) (string, error) { return "[]", nil }), LLMPlannerConfig{Name: cfg.Provider})
		})
		p, err := New(ctx, ProviderConfig{Provider: "custom-test"})
		require.NoError(t, err)
		assert.Equal(t, "custom-test", p.Name())
	})
}

// scriptedGemini は用意した応答を順に返す Gemini の呼び出しなのだ。受け取ったプロンプトも記録するのだ。
type scriptedGemini struct {
	replies []string
	prompts []Prompt
	models  []string
}

func (g *scriptedGemini) call(_ context.Context, model string, prompt Prompt) (string, error) {
	g.prompts = append(g.prompts, prompt)
	g.models = append(g.models, model)
	reply := g.replies[min(len(g.prompts)-1, len(g.replies)-1)]
	return reply, nil
}

func TestGeminiPlanner_MalformedResponse(t *testing.T) {
	text := &scriptedGemini{replies: []string{
		"```json\n{\"ppt_pages\": [{\"template_page_num\": 3, \"fields\": {\"正文\": \"栈\"\n```",
		`{"ppt_pages":[{"page_type":"图文页","template_page_num":3,"fields":{"正文":"栈"}}]}`,
	}}
	multimodal := &scriptedGemini{replies: []string{"unused"}}
	model := newGeminiModel("gemini-test", text.call, multimodal.call)

	p, err := NewLLMPlanner(model, LLMPlannerConfig{Name: "gemini"})
	require.NoError(t, err)
	ctx := context.Background()
	req := sampleRequest()

	_, err = p.Plan(ctx, req)
	require.ErrorIs(t, err, ErrNoContract, "途中で切れた JSON は契約として扱わないのだ")

	feedback := MalformedFeedback(err)
	require.Len(t, feedback, 1)
	assert.Nil(t, MalformedFeedback(errors.New("connection reset")), "通信エラーには添える違反がないのだ")

	req.Violations = feedback
	c, err := p.Plan(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, c.PageNumbers())

	require.Len(t, text.prompts, 2)
	assert.NotContains(t, text.prompts[0].Text, "parseable JSON contract")
	assert.Contains(t, text.prompts[1].Text, "parseable JSON contract", "再依頼のプロンプトに直し方が入るのだ")
	assert.Equal(t, []string{"gemini-test", "gemini-test"}, text.models)
	assert.Empty(t, multimodal.prompts, "画像なしならテキストの経路だけを使うのだ")
}

func TestGeminiModel_Generate(t *testing.T) {
	text := &scriptedGemini{replies: []string{"  "}}
	multimodal := &scriptedGemini{replies: []string{" {\"ppt_pages\":[]} "}}
	model := newGeminiModel("gemini-test", text.call, multimodal.call)
	ctx := context.Background()

	t.Run("画像付きならパートの経路で送るのだ", func(t *testing.T) {
		out, err := model.Generate(ctx, Prompt{Text: "规划", Images: sampleRequest().Images.All()})
		require.NoError(t, err)
		assert.Equal(t, `{"ppt_pages":[]}`, out)
		require.Len(t, multimodal.prompts, 1)
		assert.Len(t, multimodal.prompts[0].Images, 1)
	})

	t.Run("空の応答はエラーなのだ", func(t *testing.T) {
		_, err := model.Generate(ctx, Prompt{Text: "规划"})
		assert.Error(t, err)
	})

	t.Run("API キーがなければ作れないのだ", func(t *testing.T) {
		_, err := NewGeminiModel(ctx, GeminiConfig{})
		assert.Error(t, err)
	})
}
