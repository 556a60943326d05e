package prompts

import (
	_ "embed"
	"strings"

	"github.com/shouni/go-slide-kit/pkg/manifest"
)

const (
	// ModePlan は JSON 契約を直接生成させるプロンプトなのだ。
	ModePlan = "plan"
	// ModeRewrite はマーカー付きの中間稿を生成させるプロンプトなのだ。
	ModeRewrite = "rewrite"
)

var (
	//go:embed plan.md
	PlanPrompt string
	//go:embed rewrite.md
	RewritePrompt string
)

// allTemplates はモードとテンプレート文字列を紐づけるマップなのだ。
var allTemplates = map[string]string{
	ModePlan:    PlanPrompt,
	ModeRewrite: RewritePrompt,
}

// TemplateData はプランナープロンプトのテンプレートに渡すデータ構造です。
type TemplateData struct {
	Pages        []PageView
	Images       []string
	Multimodal   bool
	Script       string
	Violations   []string
	Instructions string
}

// PageView はテンプレートに表示するページ仕様なのだ。
type PageView struct {
	TemplatePageNum int
	PageType        string
	TextSlots       int
	ImageSlots      int
	Layout          string
	Scene           string
	Style           string
	Notes           string
	Fields          []manifest.Field
}

// NewPageViews はマニフェストのページ仕様を表示用に変換するのだ。
func NewPageViews(specs []manifest.PageSpec) []PageView {
	views := make([]PageView, 0, len(specs))
	for _, s := range specs {
		views = append(views, PageView{
			TemplatePageNum: s.TemplatePageNum,
			PageType:        s.PageType,
			TextSlots:       s.TextSlots,
			ImageSlots:      s.ImageSlots,
			Layout:          s.Meta.Layout,
			Scene:           strings.Join(s.Meta.Scene, "、"),
			Style:           s.Meta.Style,
			Notes:           s.Meta.Notes,
			Fields:          s.Fields,
		})
	}
	return views
}

// JoinInstructions は設定の既定プロンプトと実行ごとのユーザープロンプトを結合するのだ。
func JoinInstructions(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
