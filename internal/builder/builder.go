package builder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shouni/go-slide-kit/internal/config"
	"github.com/shouni/go-slide-kit/pkg/planner"
	"github.com/shouni/go-slide-kit/pkg/workflow"

	"github.com/shouni/go-http-kit/httpkit"
)

// Build は設定からプランナーと Manager を組み立てて AppContext を返すのだ。
func Build(ctx context.Context, cfg *config.Config, opts config.GenerateOptions) (*AppContext, error) {
	httpClient := httpkit.New(cfg.HTTPTimeout())
	p, err := BuildPlanner(ctx, cfg, httpClient)
	if err != nil {
		return nil, err
	}
	mgr, err := BuildManager(cfg, p)
	if err != nil {
		return nil, err
	}
	appCtx := NewAppContext(cfg, opts, httpClient, p, mgr)
	return &appCtx, nil
}

// BuildPlanner はプロバイダ設定からプランナーを構築します。
// プロバイダが none、またはマーカーモードの場合は nil を返すのだ。
// httpClient は OpenAI 互換と vLLM のプランナーに渡すのだ。
func BuildPlanner(ctx context.Context, cfg *config.Config, httpClient httpkit.HTTPClient) (planner.Planner, error) {
	if !cfg.UsesPlanner() {
		slog.Debug("プランナーは使わないのだ", "provider", cfg.LLM.Provider, "mode", cfg.Run.Mode)
		return nil, nil
	}
	pc := cfg.PlannerConfig()
	if httpClient != nil {
		pc.HTTPClient = httpClient
	}
	p, err := planner.New(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("プランナー '%s' の初期化に失敗しました: %w", cfg.LLM.Provider, err)
	}
	slog.Info("プランナーを初期化しました",
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"multimodal", p.Capabilities().SupportsImages,
	)
	return p, nil
}

// BuildManager は Workflow Manager を構築します。
func BuildManager(cfg *config.Config, p planner.Planner) (*workflow.Manager, error) {
	mgr, err := workflow.New(workflow.ManagerArgs{
		Config:  cfg.WorkflowConfig(),
		Planner: p,
	})
	if err != nil {
		return nil, fmt.Errorf("ワークフローの初期化に失敗しました: %w", err)
	}
	return mgr, nil
}
