package builder

import (
	"github.com/shouni/go-slide-kit/internal/config"
	"github.com/shouni/go-slide-kit/pkg/planner"
	"github.com/shouni/go-slide-kit/pkg/workflow"

	"github.com/shouni/go-http-kit/httpkit"
)

// AppContext は、アプリケーション実行に必要な共通コンテキストを保持する
// これを各 Execute 関数に渡すことで、依存関係の注入を簡素化します。
type AppContext struct {
	Config     *config.Config          // Config は既定値・TOML・環境変数・フラグを重ねた最終的な設定です。
	Options    config.GenerateOptions  // Options は、コマンドラインから渡された実行時の設定です（入力ファイル、上書き値など）。
	HTTPClient httpkit.HTTPClient // HTTPClient は HTTP で呼ぶプランナーが共有するクライアントです。
	Planner    planner.Planner         // Planner はマーカーのみで動かす場合 nil なのだ。
	Workflow   workflow.Workflow       // Workflow は計画・合成・生成の各工程を提供します。
}

// NewAppContext は AppContext の新しいインスタンスを生成する
func NewAppContext(
	cfg *config.Config,
	opts config.GenerateOptions,
	httpClient httpkit.HTTPClient,
	p planner.Planner,
	wf workflow.Workflow,
) AppContext {
	return AppContext{
		Config:     cfg,
		Options:    opts,
		HTTPClient: httpClient,
		Planner:    p,
		Workflow:   wf,
	}
}
