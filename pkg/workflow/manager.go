package workflow

import (
	"fmt"

	"github.com/shouni/go-slide-kit/pkg/assign"
	"github.com/shouni/go-slide-kit/pkg/planner"
	"github.com/shouni/go-slide-kit/pkg/publisher"
)

// ManagerArgs は Manager の生成に必要な依存なのだ。
type ManagerArgs struct {
	Config Config
	// Planner は nil でもよいのだ。その場合はマーカーモードだけが使えるのだ。
	Planner planner.Planner
	// Publisher が nil ならローカルの作業ディレクトリへ書き出すのだ。
	Publisher *publisher.ArtifactPublisher
}

// Manager は、割り当てエンジン・合成器・パブリッシャーを束ねて実行を管理します。
// 各実行は専用の作業ディレクトリを持ち、共有するのは読み取り専用のキャッシュだけなのだ。
type Manager struct {
	cfg       Config
	planner   planner.Planner
	publisher *publisher.ArtifactPublisher
	res       *resources
}

var _ Workflow = (*Manager)(nil)

// New は、設定とプランナーを基に新しい Manager を初期化します。
func New(args ManagerArgs) (*Manager, error) {
	cfg := args.Config
	if cfg.WorkDir == "" {
		cfg.WorkDir = DefaultWorkDir
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultBatchLimit
	}
	// 不正なモードや手順は実行前に弾くのだ
	if err := validateOptions(cfg.engineOptions()); err != nil {
		return nil, err
	}

	pub := args.Publisher
	if pub == nil {
		pub = publisher.NewArtifactPublisher(nil)
	}

	return &Manager{
		cfg:       cfg,
		planner:   args.Planner,
		publisher: pub,
		res:       newResources(),
	}, nil
}

// validateOptions はモードと手順の値を検証します。
func validateOptions(opts assign.Options) error {
	switch opts.Mode {
	case "", assign.ModeAuto, assign.ModeMarker, assign.ModePlanner:
	default:
		return fmt.Errorf("不明な割り当てモードです: '%s'", opts.Mode)
	}
	switch opts.Flow {
	case "", assign.FlowDirect, assign.FlowRewrite:
	default:
		return fmt.Errorf("不明なプランナー手順です: '%s'", opts.Flow)
	}
	return nil
}
