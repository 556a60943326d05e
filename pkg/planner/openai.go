package planner

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shouni/go-http-kit/httpkit"
)

const (
	DefaultOpenAIBaseURL  = "https://api.openai.com/v1"
	DefaultRequestTimeout = 120 * time.Second
	DefaultTemperature    = 0.3
)

// Doer は HTTP のモデルが使う送信口なのだ。通常は httpkit.ClientInterface を渡すのだ。
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// doerOr は client が nil なら timeout 付きの httpkit クライアントを作るのだ。
func doerOr(client Doer, timeout time.Duration) Doer {
	if client != nil {
		return client
	}
	return httpkit.New(timeout)
}

// OpenAIConfig は OpenAI 互換 Chat Completions エンドポイントの設定なのだ。
// DeepSeek、vLLM、GLM など互換 API を持つプロバイダで共用するのだ。
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	HTTPClient  Doer
}

// OpenAIModel は OpenAI 互換 API を呼び出す Model 実装なのだ。
type OpenAIModel struct {
	cfg        OpenAIConfig
	httpClient Doer
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string または []contentPart
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAIModel は設定を補完して OpenAIModel を作るのだ。
func NewOpenAIModel(cfg OpenAIConfig) (*OpenAIModel, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("モデル名は必須です")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	return &OpenAIModel{cfg: cfg, httpClient: doerOr(cfg.HTTPClient, cfg.Timeout)}, nil
}

// Generate はプロンプトを送信し、最初の候補の本文を返すのだ。
// 通信の再送は HTTP クライアントに任せ、ここでは1回だけ送るのだ。
func (m *OpenAIModel) Generate(ctx context.Context, prompt Prompt) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(chatRequest{
		Model:       m.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: buildContent(prompt)}},
		MaxTokens:   m.cfg.MaxTokens,
		Temperature: m.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	}

	data, err := send(m.httpClient, req)
	if err != nil {
		return "", err
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("レスポンスの解析に失敗しました: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("APIエラー: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("候補が返されませんでした")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// send はリクエストを送り、200 以外ならステータスと本文の先頭をエラーにするのだ。
func send(client Doer, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("リクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスの読み込みに失敗しました: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("APIリクエストが失敗しました (%d): %s", resp.StatusCode, preview(string(data)))
	}
	return data, nil
}

// buildContent は画像があれば data URL のパートを並べたマルチモーダル形式にするのだ。
func buildContent(prompt Prompt) any {
	if len(prompt.Images) == 0 {
		return prompt.Text
	}
	parts := make([]contentPart, 0, len(prompt.Images)+1)
	parts = append(parts, contentPart{Type: "text", Text: prompt.Text})
	for _, img := range prompt.Images {
		url := fmt.Sprintf("data:%s;base64,%s", img.MimeType, base64.StdEncoding.EncodeToString(img.Data))
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: url}})
	}
	return parts
}
