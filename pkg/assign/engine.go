package assign

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shouni/go-slide-kit/pkg/domain"
	"github.com/shouni/go-slide-kit/pkg/manifest"
	"github.com/shouni/go-slide-kit/pkg/planner"
)

// Mode は割り当て戦略なのだ。実行ごとに一度だけ決まるのだ。
type Mode string

const (
	ModeAuto    Mode = "auto"
	ModeMarker  Mode = "marker"
	ModePlanner Mode = "planner"
)

// Flow はプランナー利用時の手順なのだ。
type Flow string

const (
	// FlowDirect はプランナーに JSON 契約を直接作らせるのだ。
	FlowDirect Flow = "direct"
	// FlowRewrite はマーカー付きの中間稿を書かせ、マーカー経路で埋めるのだ。
	FlowRewrite Flow = "rewrite"
)

const (
	DefaultDelimiter      = "\n"
	DefaultRetries        = 1
	DefaultPlannerTimeout = 2 * time.Minute
	coverTemplatePageNum  = 1
)

// Options は Engine の動作設定なのだ。
type Options struct {
	Mode Mode
	Flow Flow
	// Delimiter は1ブロックの本文を複数のテキストスロットへ分けるときの区切りなのだ。
	Delimiter string
	// Retries は検証失敗・プランナー失敗時の再依頼回数なのだ。
	Retries        int
	PlannerTimeout time.Duration
	// PrependCover が true なら、先頭が表紙でないときに空の表紙ページを差し込むのだ。
	PrependCover bool
}

// DefaultOptions は既定の Options を返すのだ。
func DefaultOptions() Options {
	return Options{
		Mode:           ModeAuto,
		Flow:           FlowDirect,
		Delimiter:      DefaultDelimiter,
		Retries:        DefaultRetries,
		PlannerTimeout: DefaultPlannerTimeout,
		PrependCover:   true,
	}
}

// Input は1回分の割り当て入力です。
type Input struct {
	Blocks []domain.ScriptBlock
	// Metadata は原稿から抽出した値、Overrides は呼び出し側の指定値なのだ。Overrides が常に勝つのだ。
	Metadata   domain.Metadata
	Overrides  domain.Metadata
	Images     *domain.ImageSet
	UserPrompt string
}

// Result は検証済みの割り当て結果なのだ。
type Result struct {
	Contract domain.Contract
	Warnings []domain.Warning
	Mode     Mode
	Metadata domain.Metadata
	// Attempts はプランナーを呼んだ回数です。マーカーモードでは 0 なのだ。
	Attempts int
	// AnnotatedScript は rewrite 手順でプランナーが書いた中間稿なのだ。
	AnnotatedScript string
}

// Engine はブロック列をテンプレートページへ割り当て、検証済みの契約を作るのだ。
// マーカーとプランナーの2つの戦略は、同じ検証経路を通るのだ。
type Engine struct {
	manifest *manifest.Manifest
	planner  planner.Planner
	opts     Options
}

// NewEngine は Engine を作るのだ。planner は nil でもよく、その場合はマーカーモードだけが使えるのだ。
func NewEngine(m *manifest.Manifest, p planner.Planner, opts Options) (*Engine, error) {
	if m == nil {
		return nil, fmt.Errorf("manifest は必須です")
	}
	if opts.Mode == "" {
		opts.Mode = ModeAuto
	}
	switch opts.Mode {
	case ModeAuto, ModeMarker, ModePlanner:
	default:
		return nil, fmt.Errorf("不明な割り当てモードです: '%s'", opts.Mode)
	}
	if opts.Flow == "" {
		opts.Flow = FlowDirect
	}
	if opts.Flow != FlowDirect && opts.Flow != FlowRewrite {
		return nil, fmt.Errorf("不明なプランナー手順です: '%s'", opts.Flow)
	}
	if opts.Delimiter == "" {
		opts.Delimiter = DefaultDelimiter
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.PlannerTimeout <= 0 {
		opts.PlannerTimeout = DefaultPlannerTimeout
	}
	return &Engine{manifest: m, planner: p, opts: opts}, nil
}

// Assign は入力ブロックから検証済みの JSON 契約を作るのだ。
func (e *Engine) Assign(ctx context.Context, in Input) (*Result, error) {
	mode, err := e.resolveMode(in.Blocks)
	if err != nil {
		return nil, err
	}
	if len(in.Blocks) == 0 {
		return nil, fmt.Errorf("原稿にブロックがありません")
	}

	res := &Result{Mode: mode, Metadata: in.Metadata.Override(in.Overrides)}
	slog.Info("テンプレート割り当てを開始します", "mode", mode, "blocks", len(in.Blocks), "images", in.Images.Len())

	switch mode {
	case ModeMarker:
		pages, warnings, err := e.fillFromMarkers(in.Blocks, in.Images)
		if err != nil {
			return nil, err
		}
		res.Warnings = warnings
		validated, err := e.finalize(pages, res.Metadata, in.Images, &res.Warnings)
		if err != nil {
			return nil, err
		}
		res.Contract = domain.Contract{Pages: validated}
	default:
		if err := e.assignWithPlanner(ctx, in, res); err != nil {
			return nil, err
		}
	}

	slog.Info("テンプレート割り当てが完了しました",
		"mode", res.Mode,
		"pages", len(res.Contract.Pages),
		"warnings", len(res.Warnings),
		"attempts", res.Attempts,
	)
	return res, nil
}

// resolveMode は実行の戦略を一度だけ決めるのだ。
// マーカーもプランナーもない場合に推測で割り当てることはしないのだ。
func (e *Engine) resolveMode(blocks []domain.ScriptBlock) (Mode, error) {
	hinted := false
	for _, b := range blocks {
		if b.HasHint() {
			hinted = true
			break
		}
	}

	switch e.opts.Mode {
	case ModeMarker:
		if !hinted {
			return "", noStrategyError("marker mode was requested but the script contains no markers")
		}
		return ModeMarker, nil
	case ModePlanner:
		if e.planner == nil {
			return "", noStrategyError("planner mode was requested but no planner is configured")
		}
		return ModePlanner, nil
	default:
		if hinted {
			return ModeMarker, nil
		}
		if e.planner == nil {
			return "", noStrategyError("the script contains no markers and no planner is enabled")
		}
		return ModePlanner, nil
	}
}

func noStrategyError(msg string) error {
	return &domain.PipelineError{Kind: domain.ErrNoAssignmentStrategy, Message: msg}
}

// finalize は表紙の差し込み、メタデータの反映、検証を順に行う共通経路なのだ。
func (e *Engine) finalize(pages []domain.PageConfig, meta domain.Metadata, images *domain.ImageSet, warnings *[]domain.Warning) ([]domain.PageConfig, error) {
	if e.opts.PrependCover {
		pages = e.prependCover(pages, meta, warnings)
	}
	pages = applyMetadata(pages, e.manifest, meta)
	return Validate(pages, e.manifest, images)
}

// prependCover は先頭が表紙でなければ、メタデータだけで埋まる空の表紙を差し込むのだ。
func (e *Engine) prependCover(pages []domain.PageConfig, meta domain.Metadata, warnings *[]domain.Warning) []domain.PageConfig {
	if len(pages) == 0 || pages[0].TemplatePageNum == coverTemplatePageNum {
		return pages
	}
	spec, err := e.manifest.Resolve(coverTemplatePageNum)
	if err != nil {
		return pages
	}
	for _, f := range spec.Fields {
		if !f.Required {
			continue
		}
		key, bound := f.BoundMetadataKey()
		if !bound || meta.Get(key) == "" {
			addWarning(warnings, domain.Warning{
				Block:           -1,
				TemplatePageNum: coverTemplatePageNum,
				Field:           f.Name,
				Message:         "cover page not inserted: required field cannot be filled from metadata",
			})
			return pages
		}
	}

	cover := domain.PageConfig{
		PageType:        spec.PageType,
		TemplatePageNum: coverTemplatePageNum,
		Fields:          map[string]string{},
	}
	slog.Debug("表紙ページを先頭に挿入します", "template_page_num", coverTemplatePageNum)
	return append([]domain.PageConfig{cover}, pages...)
}

// applyMetadata は予約キーに対応するフィールドをメタデータで上書きするのだ。
// メタデータが空のキーは、割り当てで得た値をそのまま残すのだ。
func applyMetadata(pages []domain.PageConfig, m *manifest.Manifest, meta domain.Metadata) []domain.PageConfig {
	out := make([]domain.PageConfig, 0, len(pages))
	for _, p := range pages {
		p = p.Clone()
		spec, err := m.Resolve(p.TemplatePageNum)
		if err == nil {
			for _, f := range spec.Fields {
				key, bound := f.BoundMetadataKey()
				if !bound {
					continue
				}
				if v := meta.Get(key); v != "" {
					p.Fields[f.Name] = v
				}
			}
		}
		out = append(out, p)
	}
	return out
}

func addWarning(warnings *[]domain.Warning, w domain.Warning) {
	slog.Warn("割り当て時の警告",
		"block", w.Block,
		"template_page_num", w.TemplatePageNum,
		"field", w.Field,
		"message", w.Message,
	)
	*warnings = append(*warnings, w)
}
