package assign

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/shouni/go-slide-kit/pkg/domain"
	"github.com/shouni/go-slide-kit/pkg/manifest"
)

// Validate はページ設定の列をマニフェストと画像集合に照らして検証し、正規化した列を返すのだ。
// マーカーモードとプランナーモードの両方がここを通るのだ。
//
// 未定義・未許可のページ番号は UnresolvedTemplate として即座に失敗します。
// それ以外の違反はまとめて SchemaViolation として返すのだ。
// 返す各ページは仕様どおりのフィールドをちょうど持ち、未使用のフィールドは空文字なのだ。
func Validate(pages []domain.PageConfig, m *manifest.Manifest, images *domain.ImageSet) ([]domain.PageConfig, error) {
	out := make([]domain.PageConfig, 0, len(pages))
	var violations []domain.Violation

	for i, p := range pages {
		pos := i + 1
		spec, err := m.Resolve(p.TemplatePageNum)
		if err != nil {
			return nil, err
		}

		violate := func(field, format string, args ...any) {
			violations = append(violations, domain.Violation{
				Page:            pos,
				TemplatePageNum: spec.TemplatePageNum,
				Field:           field,
				Reason:          fmt.Sprintf(format, args...),
			})
		}

		var unknown []string
		for name, v := range p.Fields {
			if _, ok := spec.Field(name); !ok && strings.TrimSpace(v) != "" {
				unknown = append(unknown, name)
			}
		}
		sort.Strings(unknown)
		for _, name := range unknown {
			violate(name, "field is not declared by template %d", spec.TemplatePageNum)
		}

		cfg := domain.PageConfig{
			PageType:        spec.PageType,
			TemplatePageNum: spec.TemplatePageNum,
			Fields:          make(map[string]string, len(spec.Fields)),
		}
		for _, f := range spec.Fields {
			v := strings.TrimSpace(p.Fields[f.Name])
			switch {
			case f.IsImage() && v != "":
				asset, ok := images.Lookup(v)
				if !ok {
					violate(f.Name, "image reference %q does not resolve to an extracted image", v)
				} else {
					v = asset.Name
				}
			case !f.IsImage() && f.MaxChars > 0:
				if n := utf8.RuneCountInString(v); n > f.MaxChars {
					violate(f.Name, "text length %d exceeds max_chars %d", n, f.MaxChars)
				}
			}
			if f.Required && v == "" {
				violate(f.Name, "required field is empty")
			}
			cfg.Fields[f.Name] = v
		}
		out = append(out, cfg)
	}

	if len(violations) > 0 {
		return nil, domain.NewSchemaViolationError(violations)
	}
	return out, nil
}
