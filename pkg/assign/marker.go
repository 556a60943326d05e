package assign

import (
	"fmt"
	"strings"

	"github.com/shouni/go-slide-kit/pkg/domain"
	"github.com/shouni/go-slide-kit/pkg/manifest"
)

// fillFromMarkers はマーカーで指定されたページへ、ブロックの内容を機械的に流し込むのだ。
// 本文は宣言順のテキストスロットへ、画像は宣言順の画像スロットへ入れるのだ。
// 溢れた内容は捨てて警告に残すのだ。
func (e *Engine) fillFromMarkers(blocks []domain.ScriptBlock, images *domain.ImageSet) ([]domain.PageConfig, []domain.Warning, error) {
	var (
		pages    []domain.PageConfig
		warnings []domain.Warning
	)
	for _, b := range blocks {
		if !b.HasHint() {
			if !b.IsEmpty() {
				addWarning(&warnings, domain.Warning{
					Block:   b.SequenceIndex,
					Message: "block has no page marker and was skipped",
				})
			}
			continue
		}

		spec, err := e.manifest.Resolve(*b.TemplateHint)
		if err != nil {
			return nil, nil, fmt.Errorf("ブロック %d のマーカーを解決できません: %w", b.SequenceIndex, err)
		}
		pages = append(pages, e.fillPage(b, spec, &warnings))
	}
	if len(pages) == 0 {
		return nil, nil, noStrategyError("no block carries a usable page marker")
	}
	return pages, warnings, nil
}

func (e *Engine) fillPage(b domain.ScriptBlock, spec manifest.PageSpec, warnings *[]domain.Warning) domain.PageConfig {
	page := domain.PageConfig{
		PageType:        spec.PageType,
		TemplatePageNum: spec.TemplatePageNum,
		Fields:          make(map[string]string, len(spec.Fields)),
	}

	// メタデータ用のフィールドは後で上書きされるので、本文の流し込み先から外すのだ
	var textFields []manifest.Field
	for _, f := range spec.TextFields() {
		if _, bound := f.BoundMetadataKey(); !bound {
			textFields = append(textFields, f)
		}
	}

	parts := e.splitText(b.Text, len(textFields))
	for i, part := range parts {
		if i >= len(textFields) {
			addWarning(warnings, domain.Warning{
				Block:           b.SequenceIndex,
				TemplatePageNum: spec.TemplatePageNum,
				Message:         fmt.Sprintf("text segment dropped, no free text slot: %q", preview(part)),
			})
			continue
		}
		page.Fields[textFields[i].Name] = part
	}

	imageFields := spec.ImageFields()
	for i, name := range b.Images {
		if i >= len(imageFields) {
			addWarning(warnings, domain.Warning{
				Block:           b.SequenceIndex,
				TemplatePageNum: spec.TemplatePageNum,
				Message:         fmt.Sprintf("image %s dropped, page has %d image slot(s)", name, len(imageFields)),
			})
			continue
		}
		page.Fields[imageFields[i].Name] = name
	}
	return page
}

// splitText は本文をスロット数に応じて分けるのだ。
// テキストスロットが1つ以下なら本文全体を1つの値として扱うのだ。
func (e *Engine) splitText(text string, slots int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if slots <= 1 {
		return []string{text}
	}
	var parts []string
	for _, p := range strings.Split(text, e.opts.Delimiter) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func preview(s string) string {
	const limit = 20
	if r := []rune(s); len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return s
}
