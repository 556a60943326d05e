package parser

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shouni/go-slide-kit/pkg/domain"
)

// Paragraph は原稿の段落1つ分なのだ。画像は段落内の出現順に並ぶのだ。
type Paragraph struct {
	Text   string
	Images []domain.ImageAsset
}

// Document は段落順に並んだ原稿なのだ。
type Document struct {
	Paragraphs []Paragraph
}

// Images は文書内の全画像を原稿順に返すのだ。
func (d Document) Images() []domain.ImageAsset {
	var out []domain.ImageAsset
	for _, p := range d.Paragraphs {
		out = append(out, p.Images...)
	}
	return out
}

// ReadFile は拡張子に応じて DOCX またはテキスト原稿を読み込むのだ。
func ReadFile(path string) (Document, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".docx":
		f, err := os.Open(path)
		if err != nil {
			return Document{}, fmt.Errorf("原稿 '%s' を開けません: %w", path, err)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return Document{}, fmt.Errorf("原稿 '%s' の情報を取得できません: %w", path, err)
		}
		return ReadDocx(f, info.Size())
	default:
		f, err := os.Open(path)
		if err != nil {
			return Document{}, fmt.Errorf("原稿 '%s' を開けません: %w", path, err)
		}
		defer f.Close()
		return ReadText(f, filepath.Dir(path))
	}
}

// ReadBytes はメモリ上の原稿を name の拡張子で判別して読み込むのだ。
// テキスト原稿の画像参照は解決しないのだ。
func ReadBytes(name string, data []byte) (Document, error) {
	if strings.EqualFold(filepath.Ext(name), ".docx") {
		return ReadDocx(bytes.NewReader(data), int64(len(data)))
	}
	return ReadText(bytes.NewReader(data), "")
}
