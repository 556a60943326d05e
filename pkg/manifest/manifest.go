package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/shouni/go-slide-kit/pkg/domain"

	"gopkg.in/yaml.v3"
)

// フィールドの種類なのだ。
const (
	KindText  = "text"
	KindImage = "image"
)

// ErrInvalidManifest はマニフェスト自体が不変条件を満たさないときのエラーです。
var ErrInvalidManifest = errors.New("invalid template manifest")

// Field はテンプレートページ内の名前付きスロットなのだ。
type Field struct {
	Name        string `json:"name" yaml:"name"`
	Locator     string `json:"locator" yaml:"locator"` // グループ名/図形名 のパス
	Kind        string `json:"kind" yaml:"kind"`
	MaxChars    int    `json:"max_chars,omitempty" yaml:"max_chars,omitempty"` // 0 は無制限
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Hint        string `json:"hint,omitempty" yaml:"hint,omitempty"`
	Notes       string `json:"notes,omitempty" yaml:"notes,omitempty"`
	MetadataKey string `json:"metadata_key,omitempty" yaml:"metadata_key,omitempty"` // course / college / lecturer
}

// IsImage は画像スロットかを返すのだ。
func (f Field) IsImage() bool {
	return f.Kind == KindImage
}

// BoundMetadataKey はこのフィールドに流し込むメタデータキーを返します。
// 明示指定がなければフィールド名から判定するのだ。
func (f Field) BoundMetadataKey() (string, bool) {
	if f.IsImage() {
		return "", false
	}
	if f.MetadataKey != "" {
		return domain.NormalizeMetadataKey(f.MetadataKey)
	}
	return domain.NormalizeMetadataKey(f.Name)
}

// PageMeta はプランナーへ伝えるページの補足情報なのだ。
type PageMeta struct {
	Layout string   `json:"layout,omitempty" yaml:"layout,omitempty"`
	Scene  []string `json:"scene,omitempty" yaml:"scene,omitempty"`
	Style  string   `json:"style,omitempty" yaml:"style,omitempty"`
	Notes  string   `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// PageSpec はテンプレートページ1枚分のスキーマなのだ。
type PageSpec struct {
	TemplatePageNum int      `json:"template_page_num" yaml:"template_page_num"`
	PageType        string   `json:"page_type" yaml:"page_type"`
	TextSlots       int      `json:"text_slots" yaml:"text_slots"`
	ImageSlots      int      `json:"image_slots" yaml:"image_slots"`
	Fields          []Field  `json:"fields" yaml:"fields"`
	Meta            PageMeta `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// TextFields は宣言順のテキストスロットを返すのだ。
func (p PageSpec) TextFields() []Field {
	return p.fieldsOf(false)
}

// ImageFields は宣言順の画像スロットを返すのだ。
func (p PageSpec) ImageFields() []Field {
	return p.fieldsOf(true)
}

func (p PageSpec) fieldsOf(image bool) []Field {
	var out []Field
	for _, f := range p.Fields {
		if f.IsImage() == image {
			out = append(out, f)
		}
	}
	return out
}

// Field は名前でフィールドを探すのだ。
func (p PageSpec) Field(name string) (Field, bool) {
	for _, f := range p.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// document はマニフェストファイルの外形です。
type document struct {
	Manifest []PageSpec `json:"manifest" yaml:"manifest"`
}

// Manifest は検証済みで読み取り専用のテンプレートページ登録簿なのだ。
// 実行中に共有されるので、生成後は変更しないのだ。
type Manifest struct {
	pages    map[int]PageSpec
	order    []int
	allowed  map[int]struct{} // nil は全ページ許可
	locators map[int]map[string]string
}

// Load は JSON マニフェストを読み込み、検証するのだ。
func Load(r io.Reader) (*Manifest, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("マニフェストのデコードに失敗しました: %w", err)
	}
	return New(doc.Manifest)
}

// LoadYAML は YAML マニフェストを読み込むのだ。
func LoadYAML(r io.Reader) (*Manifest, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("YAMLマニフェストのデコードに失敗しました: %w", err)
	}
	return New(doc.Manifest)
}

// LoadFile は拡張子で JSON / YAML を切り替えて読み込むのだ。
func LoadFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("マニフェスト '%s' を開けません: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(f)
	default:
		return Load(f)
	}
}

// New はページ仕様のリストを検証して Manifest を作ります。
func New(specs []PageSpec) (*Manifest, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: manifest is empty", ErrInvalidManifest)
	}
	m := &Manifest{
		pages:    make(map[int]PageSpec, len(specs)),
		locators: make(map[int]map[string]string, len(specs)),
	}
	for _, spec := range specs {
		if err := validateSpec(spec); err != nil {
			return nil, err
		}
		if _, dup := m.pages[spec.TemplatePageNum]; dup {
			return nil, fmt.Errorf("%w: duplicate template_page_num %d", ErrInvalidManifest, spec.TemplatePageNum)
		}
		if spec.PageType == "" {
			spec.PageType = fmt.Sprintf("template-%d", spec.TemplatePageNum)
		}
		m.pages[spec.TemplatePageNum] = spec
		m.order = append(m.order, spec.TemplatePageNum)

		// フィールド名 → ロケータの索引はロード時に一度だけ作るのだ
		idx := make(map[string]string, len(spec.Fields))
		for _, f := range spec.Fields {
			idx[f.Name] = f.Locator
		}
		m.locators[spec.TemplatePageNum] = idx
	}
	slices.Sort(m.order)
	return m, nil
}

func validateSpec(spec PageSpec) error {
	num := spec.TemplatePageNum
	if num <= 0 {
		return fmt.Errorf("%w: template_page_num must be positive, got %d", ErrInvalidManifest, num)
	}
	seen := make(map[string]struct{}, len(spec.Fields))
	var texts, images int
	for _, f := range spec.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("%w: page %d has a field without name", ErrInvalidManifest, num)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: page %d declares field %q twice", ErrInvalidManifest, num, f.Name)
		}
		seen[f.Name] = struct{}{}
		if strings.TrimSpace(f.Locator) == "" {
			return fmt.Errorf("%w: page %d field %q has no locator", ErrInvalidManifest, num, f.Name)
		}
		if f.MaxChars < 0 {
			return fmt.Errorf("%w: page %d field %q has negative max_chars", ErrInvalidManifest, num, f.Name)
		}
		switch f.Kind {
		case KindText:
			texts++
		case KindImage:
			images++
		default:
			return fmt.Errorf("%w: page %d field %q has unknown kind %q", ErrInvalidManifest, num, f.Name, f.Kind)
		}
	}
	if texts != spec.TextSlots || images != spec.ImageSlots {
		return fmt.Errorf("%w: page %d declares %d/%d text/image slots but has %d/%d fields",
			ErrInvalidManifest, num, spec.TextSlots, spec.ImageSlots, texts, images)
	}
	return nil
}

// WithAllowList は許可リストを適用した Manifest を返すのだ。元の Manifest は変更しないのだ。
// マニフェストにない番号は使えないので警告だけ出すのだ。
func (m *Manifest) WithAllowList(allow AllowList) *Manifest {
	out := *m
	out.allowed = make(map[int]struct{}, len(allow))
	for _, n := range allow {
		if _, ok := m.pages[n]; !ok {
			slog.Warn("許可リストのページがマニフェストに存在しません", "template_page_num", n)
			continue
		}
		out.allowed[n] = struct{}{}
	}
	return &out
}

// Resolve はページ番号を、マニフェストと許可リストの両方に照らして解決するのだ。
func (m *Manifest) Resolve(num int) (PageSpec, error) {
	spec, ok := m.pages[num]
	if !ok {
		return PageSpec{}, domain.NewUnresolvedTemplateError(num, "template %d is not defined in the manifest", num)
	}
	if !m.IsAllowed(num) {
		return PageSpec{}, domain.NewUnresolvedTemplateError(num, "template %d is not in the allow-list", num)
	}
	return spec, nil
}

// IsAllowed はページ番号が今回の実行で使えるかを返すのだ。
func (m *Manifest) IsAllowed(num int) bool {
	if _, ok := m.pages[num]; !ok {
		return false
	}
	if m.allowed == nil {
		return true
	}
	_, ok := m.allowed[num]
	return ok
}

// Allowed は使用可能なページ仕様を番号順に返すのだ。
func (m *Manifest) Allowed() []PageSpec {
	out := make([]PageSpec, 0, len(m.order))
	for _, n := range m.order {
		if m.IsAllowed(n) {
			out = append(out, m.pages[n])
		}
	}
	return out
}

// Locator は事前計算済みの索引からロケータを引くのだ。
func (m *Manifest) Locator(num int, field string) (string, bool) {
	idx, ok := m.locators[num]
	if !ok {
		return "", false
	}
	loc, ok := idx[field]
	return loc, ok
}

// Len はマニフェストに定義されたページ数を返します。
func (m *Manifest) Len() int {
	return len(m.order)
}
