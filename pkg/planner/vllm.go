package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultVLLMMaxTokens = 5000

// VLLMConfig は vLLM の素の /generate エンドポイントの設定なのだ。
type VLLMConfig struct {
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	HTTPClient  Doer
}

// VLLMModel は Qwen を vLLM で配信している /generate API 向けの Model なのだ。
// チャット形式ではないので、ChatML のテンプレートを自前で組み立てるのだ。
type VLLMModel struct {
	cfg        VLLMConfig
	httpClient Doer
}

type vllmRequest struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// NewVLLMModel は VLLMModel を作るのだ。
func NewVLLMModel(cfg VLLMConfig) (*VLLMModel, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("vLLM のベースURLは必須です")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultVLLMMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	return &VLLMModel{cfg: cfg, httpClient: doerOr(cfg.HTTPClient, cfg.Timeout)}, nil
}

// Generate はプロンプトを ChatML に包んで送信するのだ。画像は扱わないのだ。
func (m *VLLMModel) Generate(ctx context.Context, prompt Prompt) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(vllmRequest{
		Prompt:      formatChatML(prompt.Text),
		MaxTokens:   m.cfg.MaxTokens,
		Temperature: m.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	data, err := send(m.httpClient, req)
	if err != nil {
		return "", fmt.Errorf("vLLM の呼び出しに失敗しました: %w", err)
	}

	var out struct {
		Text json.RawMessage `json:"text"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("レスポンスの解析に失敗しました: %w", err)
	}
	text, err := decodeVLLMText(out.Text)
	if err != nil {
		return "", fmt.Errorf("vLLM の返却形式が不正です: %w", err)
	}
	return strings.TrimSpace(stripEchoedPrompt(text)), nil
}

// decodeVLLMText は "text" が文字列でも文字列配列でも受け付けるのだ。
func decodeVLLMText(raw json.RawMessage) (string, error) {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return "", fmt.Errorf("text が空配列です")
		}
		return list[0], nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

const chatMLAssistant = "<|im_start|>assistant\n"

func formatChatML(userText string) string {
	return "<|im_start|>user\n" + userText + "<|im_end|>\n" + chatMLAssistant
}

// stripEchoedPrompt は、プロンプトごと返すサーバーの応答からアシスタント部分だけを取り出すのだ。
func stripEchoedPrompt(text string) string {
	if i := strings.LastIndex(text, chatMLAssistant); i >= 0 {
		return text[i+len(chatMLAssistant):]
	}
	return text
}
