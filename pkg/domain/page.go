package domain

import (
	"encoding/json"
	"fmt"
	"io"
)

// PageConfig はパイプラインの JSON 契約における1ページ分のレコードなのだ。
// Fields の値はテキスト、または ImageSet 内の画像名なのだ。
type PageConfig struct {
	PageType        string            `json:"page_type"`
	TemplatePageNum int               `json:"template_page_num"`
	Fields          map[string]string `json:"fields"`
}

// Clone はフィールドマップを含めて複製します。
func (p PageConfig) Clone() PageConfig {
	out := p
	out.Fields = make(map[string]string, len(p.Fields))
	for k, v := range p.Fields {
		out.Fields[k] = v
	}
	return out
}

// Contract はステージ(b)と(c)の境界となる永続化アーティファクトなのだ。
// 並び順がそのままスライドの出力順になるのだ。
type Contract struct {
	Pages []PageConfig `json:"ppt_pages"`
}

// PageNumbers はテンプレートページ番号を出力順に返すのだ。
func (c Contract) PageNumbers() []int {
	nums := make([]int, 0, len(c.Pages))
	for _, p := range c.Pages {
		nums = append(nums, p.TemplatePageNum)
	}
	return nums
}

// Encode は契約を整形済み JSON として書き出します。
func (c Contract) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("JSON契約のエンコードに失敗しました: %w", err)
	}
	return nil
}

// DecodeContract は JSON 契約を読み込むのだ。
func DecodeContract(r io.Reader) (Contract, error) {
	var c Contract
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return Contract{}, fmt.Errorf("JSON契約のデコードに失敗しました: %w", err)
	}
	return c, nil
}

// Warning は実行を止めない注意事項なのだ（スロット超過で捨てた内容など）。
type Warning struct {
	Block           int    `json:"block"` // 対象ブロックの sequence_index、該当なしは -1
	TemplatePageNum int    `json:"template_page_num,omitempty"`
	Field           string `json:"field,omitempty"`
	Message         string `json:"message"`
}

func (w Warning) String() string {
	s := fmt.Sprintf("block %d", w.Block)
	if w.TemplatePageNum > 0 {
		s += fmt.Sprintf(" (template %d)", w.TemplatePageNum)
	}
	if w.Field != "" {
		s += fmt.Sprintf(" field %q", w.Field)
	}
	return s + ": " + w.Message
}
