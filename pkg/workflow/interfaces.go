package workflow

import (
	"context"

	"github.com/shouni/go-slide-kit/pkg/assign"
	"github.com/shouni/go-slide-kit/pkg/domain"
	"github.com/shouni/go-slide-kit/pkg/publisher"
)

// Workflow は、原稿からデッキを作る各工程を外部（CLI やワーカー）へ公開するインターフェースです。
type Workflow interface {
	Plan(ctx context.Context, req RunRequest) (*PlanResult, error)
	Compose(ctx context.Context, req ComposeRequest) (*ComposeResult, error)
	Generate(ctx context.Context, req RunRequest) (*GenerateResult, error)
	GenerateBatch(ctx context.Context, reqs []RunRequest, limit int) []BatchItem
}

// Sources はテンプレート関連の入力ファイルなのだ。
type Sources struct {
	ManifestPath  string
	AllowListPath string // 空なら全ページ許可
	TemplatePath  string
}

// RunRequest は原稿1本分の実行要求なのだ。
type RunRequest struct {
	Sources
	// ScriptPath か Script のどちらかを指定するのだ。
	// Script を使う場合、ScriptName の拡張子で DOCX / テキストを判別するのだ。
	ScriptPath string
	Script     []byte
	ScriptName string

	Overrides  domain.Metadata
	UserPrompt string
}

// PlanResult は割り当てまでの結果なのだ。
type PlanResult struct {
	RunID    string
	RunDir   string
	Contract domain.Contract
	Warnings []domain.Warning
	Mode     assign.Mode
	Metadata domain.Metadata
	Attempts int
	Images   *domain.ImageSet
	Files    publisher.PublishResult
}

// ComposeRequest は保存済みの JSON 契約からデッキを合成する要求なのだ。
type ComposeRequest struct {
	Sources
	ContractPath string
	// ImageDir が空なら、契約ファイルと同じ場所の images/ を使うのだ。
	ImageDir string
	// OutputDir が空なら、契約ファイルと同じディレクトリに書き出すのだ。
	OutputDir string
}

// ComposeResult は合成結果なのだ。
type ComposeResult struct {
	DeckPath string
	Slides   int
}

// GenerateResult は原稿からデッキまで通した結果なのだ。
type GenerateResult struct {
	PlanResult
	DeckPath string
}

// BatchItem はバッチ内の1実行分の結果なのだ。Err が nil でなければ Result は nil なのだ。
type BatchItem struct {
	Index  int
	Result *GenerateResult
	Err    error
}
