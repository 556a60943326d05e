package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/shouni/go-gemini-client/gemini"
	"google.golang.org/genai"
)

// DefaultGeminiModel は Gemini プロバイダの既定モデルなのだ。
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiConfig は Gemini API の設定です。
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
}

// geminiCall はモデル名とプロンプトから応答本文を返す呼び出しなのだ。
type geminiCall func(ctx context.Context, model string, prompt Prompt) (string, error)

// GeminiModel は Gemini を呼ぶ Model 実装なのだ。
// テキストだけのプロンプトは go-gemini-client の GenerateContent で送り、
// 画像付きのプロンプトだけ genai のパートを組み立てて送るのだ。
type GeminiModel struct {
	model      string
	text       geminiCall
	multimodal geminiCall
}

// NewGeminiModel は Gemini クライアントを初期化するのだ。
func NewGeminiModel(ctx context.Context, cfg GeminiConfig) (*GeminiModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini の API キーは必須です")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}

	aiClient, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:      cfg.APIKey,
		Temperature: genai.Ptr(cfg.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("AIクライアントの初期化に失敗しました: %w", err)
	}
	partsClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("マルチモーダル用クライアントの初期化に失敗しました: %w", err)
	}

	return newGeminiModel(cfg.Model, textCall(aiClient), partsCall(partsClient, cfg.Temperature)), nil
}

func newGeminiModel(model string, text, multimodal geminiCall) *GeminiModel {
	return &GeminiModel{model: model, text: text, multimodal: multimodal}
}

// textCall は go-gemini-client のクライアントをテキスト専用の呼び出しにするのだ。
func textCall(aiClient gemini.GenerativeModel) geminiCall {
	return func(ctx context.Context, model string, prompt Prompt) (string, error) {
		resp, err := aiClient.GenerateContent(ctx, prompt.Text, model)
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	}
}

// partsCall はテキストと画像パートを1つのユーザー発話として送るのだ。
func partsCall(client *genai.Client, temperature float32) geminiCall {
	return func(ctx context.Context, model string, prompt Prompt) (string, error) {
		parts := make([]*genai.Part, 0, len(prompt.Images)+1)
		parts = append(parts, genai.NewPartFromText(prompt.Text))
		for _, img := range prompt.Images {
			parts = append(parts, genai.NewPartFromBytes(img.Data, img.MimeType))
		}

		resp, err := client.Models.GenerateContent(ctx, model,
			[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
			&genai.GenerateContentConfig{Temperature: genai.Ptr(temperature)},
		)
		if err != nil {
			return "", err
		}
		return resp.Text(), nil
	}
}

// Generate は画像の有無で送り方を切り替えるのだ。
func (m *GeminiModel) Generate(ctx context.Context, prompt Prompt) (string, error) {
	call := m.text
	if len(prompt.Images) > 0 {
		call = m.multimodal
	}

	raw, err := call(ctx, m.model, prompt)
	if err != nil {
		return "", fmt.Errorf("Gemini の呼び出しに失敗しました: %w", err)
	}
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", fmt.Errorf("Gemini が空の応答を返しました")
	}
	return text, nil
}
