package planner

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// ProviderConfig は1つのプランナーを組み立てるための解決済み設定なのだ。
// 設定は呼び出し側から明示的に渡され、環境変数はここでは読まないのだ。
type ProviderConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	// SupportsImages が nil ならプリセットの既定値を使うのだ。
	SupportsImages *bool
	DefaultPrompt  string
	Temperature    *float64
	Timeout        time.Duration
	RateInterval   time.Duration
	// HTTPClient は HTTP で呼ぶプロバイダが共有するクライアントなのだ。nil なら各モデルが作るのだ。
	HTTPClient Doer
}

// Factory は ProviderConfig から Planner を作る関数なのだ。
type Factory func(ctx context.Context, cfg ProviderConfig) (Planner, error)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
)

// Register はプロバイダ名にファクトリを登録するのだ。同名は上書きするのだ。
// 新しいプロバイダはエンジンを触らず、ここへの登録だけで追加できるのだ。
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[strings.ToLower(name)] = f
}

// Providers は登録済みのプロバイダ名を昇順で返すのだ。
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New は登録済みのファクトリで Planner を作るのだ。
func New(ctx context.Context, cfg ProviderConfig) (Planner, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	registryMu.RLock()
	f, ok := factories[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("未登録のプランナープロバイダです: '%s' (利用可能: %s)", cfg.Provider, strings.Join(Providers(), ", "))
	}
	return f(ctx, cfg)
}

// preset は OpenAI 互換プロバイダの既定値なのだ。
type preset struct {
	baseURL        string
	model          string
	supportsImages bool
	requiresKey    bool
}

var openAIPresets = map[string]preset{
	"openai":   {baseURL: DefaultOpenAIBaseURL, model: "gpt-4o-mini", supportsImages: true, requiresKey: true},
	"deepseek": {baseURL: "https://api.deepseek.com", model: "deepseek-chat", requiresKey: true},
	"local":    {baseURL: "http://127.0.0.1:8000/v1", model: "local-model"},
	"taichu":   {baseURL: "https://platform.wair.ac.cn/maas/v1", model: "taichu4_vl_32b", supportsImages: true, requiresKey: true},
	"glm":      {baseURL: "https://open.bigmodel.cn/api/paas/v4", model: "glm-4.6", supportsImages: true, requiresKey: true},
}

func init() {
	for name, p := range openAIPresets {
		Register(name, openAIFactory(name, p))
	}
	Register("zhipu", openAIFactory("glm", openAIPresets["glm"]))
	Register("qwen", vllmFactory)
	Register("gemini", geminiFactory)
}

func openAIFactory(name string, p preset) Factory {
	return func(_ context.Context, cfg ProviderConfig) (Planner, error) {
		if p.requiresKey && cfg.APIKey == "" {
			return nil, fmt.Errorf("プロバイダ '%s' には API キーが必要です", name)
		}
		model, err := NewOpenAIModel(OpenAIConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     firstNonEmpty(cfg.BaseURL, p.baseURL),
			Model:       firstNonEmpty(cfg.Model, p.model),
			Temperature: temperatureOr(cfg.Temperature),
			Timeout:     cfg.Timeout,
			HTTPClient:  cfg.HTTPClient,
		})
		if err != nil {
			return nil, err
		}
		return NewLLMPlanner(model, llmConfig(name, cfg, p.supportsImages))
	}
}

func vllmFactory(_ context.Context, cfg ProviderConfig) (Planner, error) {
	model, err := NewVLLMModel(VLLMConfig{
		BaseURL:     cfg.BaseURL,
		Temperature: temperatureOr(cfg.Temperature),
		Timeout:     cfg.Timeout,
		HTTPClient:  cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return NewLLMPlanner(model, llmConfig("qwen", cfg, false))
}

func geminiFactory(ctx context.Context, cfg ProviderConfig) (Planner, error) {
	model, err := NewGeminiModel(ctx, GeminiConfig{
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Temperature: float32(temperatureOr(cfg.Temperature)),
	})
	if err != nil {
		return nil, err
	}
	return NewLLMPlanner(model, llmConfig("gemini", cfg, true))
}

func llmConfig(name string, cfg ProviderConfig, supportsImages bool) LLMPlannerConfig {
	if cfg.SupportsImages != nil {
		supportsImages = *cfg.SupportsImages
	}
	return LLMPlannerConfig{
		Name:           name,
		SupportsImages: supportsImages,
		DefaultPrompt:  cfg.DefaultPrompt,
		RateInterval:   cfg.RateInterval,
	}
}

func firstNonEmpty(values ...string) string {
	i := slices.IndexFunc(values, func(s string) bool { return strings.TrimSpace(s) != "" })
	if i < 0 {
		return ""
	}
	return values[i]
}

func temperatureOr(t *float64) float64 {
	if t == nil {
		return DefaultTemperature
	}
	return *t
}
