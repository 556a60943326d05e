package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shouni/go-slide-kit/pkg/domain"
	"github.com/shouni/go-slide-kit/pkg/parser"
	"github.com/shouni/go-slide-kit/pkg/prompts"

	"golang.org/x/time/rate"
)

// LLMPlannerConfig は LLMPlanner の設定なのだ。
type LLMPlannerConfig struct {
	Name           string
	SupportsImages bool
	// DefaultPrompt は毎回のプロンプトに追記される既定の指示なのだ。
	DefaultPrompt string
	// RateInterval はモデル呼び出しの最小間隔です。0 以下なら制限しないのだ。
	RateInterval time.Duration
	Builder      prompts.PromptBuilder
}

// LLMPlanner は言語モデルを使って割り当て案を作る Planner 実装なのだ。
// プロンプト構築、モデル呼び出し、JSON の取り出しまでを担当するのだ。
type LLMPlanner struct {
	name          string
	caps          Capabilities
	model         Model
	builder       prompts.PromptBuilder
	defaultPrompt string
	limiter       *rate.Limiter
}

// NewLLMPlanner は Model をラップした Planner を作るのだ。
func NewLLMPlanner(model Model, cfg LLMPlannerConfig) (*LLMPlanner, error) {
	if model == nil {
		return nil, fmt.Errorf("model は必須です")
	}
	builder := cfg.Builder
	if builder == nil {
		b, err := prompts.NewTextPromptBuilder()
		if err != nil {
			return nil, fmt.Errorf("TextPromptBuilder の新規作成に失敗しました: %w", err)
		}
		builder = b
	}
	name := cfg.Name
	if name == "" {
		name = "llm"
	}

	limit := rate.Inf
	if cfg.RateInterval > 0 {
		limit = rate.Every(cfg.RateInterval)
	}

	return &LLMPlanner{
		name:          name,
		caps:          Capabilities{SupportsImages: cfg.SupportsImages},
		model:         model,
		builder:       builder,
		defaultPrompt: cfg.DefaultPrompt,
		limiter:       rate.NewLimiter(limit, 1),
	}, nil
}

// Name はプランナー名を返すのだ。
func (p *LLMPlanner) Name() string { return p.name }

// Capabilities は能力フラグを返すのだ。
func (p *LLMPlanner) Capabilities() Capabilities { return p.caps }

// Plan はブロック列から JSON 契約の候補を生成するのだ。
func (p *LLMPlanner) Plan(ctx context.Context, req Request) (domain.Contract, error) {
	raw, err := p.call(ctx, prompts.ModePlan, req)
	if err != nil {
		return domain.Contract{}, err
	}
	contract, err := ExtractContract(raw)
	if err != nil {
		return domain.Contract{}, err
	}
	slog.Debug("プランナーが契約を返しました", "planner", p.name, "pages", len(contract.Pages))
	return contract, nil
}

// RewriteScript はマーカーを書き込んだ中間稿を生成するのだ。
func (p *LLMPlanner) RewriteScript(ctx context.Context, req Request) (string, error) {
	raw, err := p.call(ctx, prompts.ModeRewrite, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", fmt.Errorf("プランナー '%s' が空の中間稿を返しました", p.name)
	}
	return text, nil
}

func (p *LLMPlanner) call(ctx context.Context, mode string, req Request) (string, error) {
	prompt, err := p.buildPrompt(mode, req)
	if err != nil {
		return "", err
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("レートリミッターの待機中にエラーが発生しました: %w", err)
	}

	start := time.Now()
	slog.Info("プランナーを呼び出します",
		"planner", p.name,
		"mode", mode,
		"blocks", len(req.Blocks),
		"images", len(prompt.Images),
		"retry", len(req.Violations) > 0,
	)
	raw, err := p.model.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("モデル呼び出しに失敗しました: %w", err)
	}
	slog.Debug("プランナー応答を受信しました", "planner", p.name, "elapsed", time.Since(start), "response_len", len(raw))
	return raw, nil
}

func (p *LLMPlanner) buildPrompt(mode string, req Request) (Prompt, error) {
	violations := make([]string, 0, len(req.Violations))
	for _, v := range req.Violations {
		violations = append(violations, v.String())
	}

	var images []domain.ImageAsset
	if p.caps.SupportsImages {
		images = req.Images.All()
	}

	text, err := p.builder.Build(mode, prompts.TemplateData{
		Pages:        prompts.NewPageViews(req.Pages),
		Images:       req.Images.Names(),
		Multimodal:   len(images) > 0,
		Script:       parser.RenderScript(req.Blocks),
		Violations:   violations,
		Instructions: prompts.JoinInstructions(p.defaultPrompt, req.Instructions),
	})
	if err != nil {
		return Prompt{}, fmt.Errorf("プロンプトの構築に失敗しました: %w", err)
	}
	return Prompt{Text: text, Images: images}, nil
}
