package domain

import "strings"

// 予約済みのメタデータキーなのだ。テンプレートのフィールド名がこれと一致すると、
// 割り当て後にメタデータの値で上書きされるのだ。
const (
	MetaCourse   = "course"
	MetaCollege  = "college"
	MetaLecturer = "lecturer"
)

// metadataAliases は講義原稿やテンプレートで使われるラベルを予約キーへ正規化する表です。
var metadataAliases = map[string]string{
	MetaCourse:   MetaCourse,
	MetaCollege:  MetaCollege,
	MetaLecturer: MetaLecturer,
	"课程名称":       MetaCourse,
	"学院名称":       MetaCollege,
	"主讲教师":       MetaLecturer,
}

// NormalizeMetadataKey はラベルを予約キーに変換します。予約キーでなければ ok=false なのだ。
func NormalizeMetadataKey(label string) (string, bool) {
	key, ok := metadataAliases[strings.ToLower(strings.TrimSpace(label))]
	return key, ok
}

// ScriptBlock は1枚のスライドに対応する原稿の連続した単位なのだ。
// 分割時に一度だけ作られ、その後は変更しないのだ。
type ScriptBlock struct {
	SequenceIndex int      `json:"sequence_index"`
	Text          string   `json:"text"`
	Images        []string `json:"images,omitempty"`        // ImageSet 内の画像名（原稿順）
	TemplateHint  *int     `json:"template_hint,omitempty"` // マーカーで明示されたテンプレートページ番号
}

// HasHint はマーカーによるページ指定があるかを返します。
func (b ScriptBlock) HasHint() bool {
	return b.TemplateHint != nil
}

// IsEmpty はテキストも画像も持たないブロックかを判定するのだ。
func (b ScriptBlock) IsEmpty() bool {
	return strings.TrimSpace(b.Text) == "" && len(b.Images) == 0
}

// Metadata は原稿から抽出した講義情報なのだ。
type Metadata struct {
	Course   string `json:"course,omitempty" toml:"course"`
	College  string `json:"college,omitempty" toml:"college"`
	Lecturer string `json:"lecturer,omitempty" toml:"lecturer"`
}

// Set は予約キーに値を設定します。同じキーは後勝ちなのだ。
func (m *Metadata) Set(key, value string) {
	switch key {
	case MetaCourse:
		m.Course = value
	case MetaCollege:
		m.College = value
	case MetaLecturer:
		m.Lecturer = value
	}
}

// Get は予約キーの値を返します。
func (m Metadata) Get(key string) string {
	switch key {
	case MetaCourse:
		return m.Course
	case MetaCollege:
		return m.College
	case MetaLecturer:
		return m.Lecturer
	}
	return ""
}

// Override は呼び出し側の上書き値を適用した新しい Metadata を返すのだ。
// 空でない上書き値は常に抽出値に勝つのだ。
func (m Metadata) Override(o Metadata) Metadata {
	out := m
	for _, key := range []string{MetaCourse, MetaCollege, MetaLecturer} {
		if v := strings.TrimSpace(o.Get(key)); v != "" {
			out.Set(key, v)
		}
	}
	return out
}
