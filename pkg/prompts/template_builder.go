package prompts

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"text/template"
)

// TextPromptBuilder は埋め込みのプランナー用テンプレートを1つのセットとして保持するのだ。
// 解析済みテンプレートは読み取り専用なので、並行する実行から共有してよいのだ。
type TextPromptBuilder struct {
	set *template.Template
}

var _ PromptBuilder = (*TextPromptBuilder)(nil)

// NewTextPromptBuilder は全モードのテンプレートを解析します。1つでも壊れていればエラーなのだ。
func NewTextPromptBuilder() (*TextPromptBuilder, error) {
	set := template.New("prompts").Option("missingkey=error")
	for _, mode := range slices.Sorted(maps.Keys(allTemplates)) {
		content := allTemplates[mode]
		if content == "" {
			return nil, fmt.Errorf("埋め込みプロンプト '%s' が空です", mode)
		}
		if _, err := set.New(mode).Parse(content); err != nil {
			return nil, fmt.Errorf("プロンプト '%s' の解析に失敗しました: %w", mode, err)
		}
	}
	return &TextPromptBuilder{set: set}, nil
}

// Modes は利用できるモード名を名前順に返すのだ。
func (b *TextPromptBuilder) Modes() []string {
	var modes []string
	for _, t := range b.set.Templates() {
		if _, ok := allTemplates[t.Name()]; ok {
			modes = append(modes, t.Name())
		}
	}
	slices.Sort(modes)
	return modes
}

// Build は mode のテンプレートに data を流し込むのだ。
func (b *TextPromptBuilder) Build(mode string, data TemplateData) (string, error) {
	if b.set.Lookup(mode) == nil {
		return "", fmt.Errorf("不明なプロンプトモードです: '%s' (利用可能: %v)", mode, b.Modes())
	}

	var buf bytes.Buffer
	if err := b.set.ExecuteTemplate(&buf, mode, data); err != nil {
		return "", fmt.Errorf("プロンプト '%s' の生成に失敗しました: %w", mode, err)
	}
	return buf.String(), nil
}
