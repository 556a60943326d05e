package domain

import (
	"fmt"
	"mime"
	"path"
	"strings"
)

// ImageNameFormat は原稿から取り出した画像の命名規則です。
const ImageNameFormat = "doc_image_%d.%s"

// ImageAsset は原稿から抽出した画像1枚分のデータなのだ。
type ImageAsset struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// Ext は画像名の拡張子（ドットなし、小文字）を返すのだ。
func (a ImageAsset) Ext() string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(a.Name), "."))
}

// NewImageAsset は連番と拡張子から規則どおりの名前を付けた ImageAsset を作ります。
func NewImageAsset(idx int, ext string, data []byte) ImageAsset {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		ext = "png"
	}
	name := fmt.Sprintf(ImageNameFormat, idx, ext)
	return ImageAsset{
		Name:     name,
		MimeType: MimeTypeForExt(ext),
		Data:     data,
	}
}

// MimeTypeForExt は拡張子から MIME タイプを推定するのだ。
func MimeTypeForExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	switch ext {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "bmp":
		return "image/bmp"
	case "tif", "tiff":
		return "image/tiff"
	case "webp":
		return "image/webp"
	}
	if t := mime.TypeByExtension("." + ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// ImageSet は1回の実行で抽出された画像の集合なのだ。順序は原稿順を保つのだ。
type ImageSet struct {
	order  []string
	assets map[string]ImageAsset
}

// NewImageSet は画像リストから ImageSet を作ります。同名は後勝ちです。
func NewImageSet(assets ...ImageAsset) *ImageSet {
	s := &ImageSet{assets: make(map[string]ImageAsset, len(assets))}
	for _, a := range assets {
		s.Add(a)
	}
	return s
}

// Add は画像を追加するのだ。
func (s *ImageSet) Add(a ImageAsset) {
	if s.assets == nil {
		s.assets = make(map[string]ImageAsset)
	}
	if _, exists := s.assets[a.Name]; !exists {
		s.order = append(s.order, a.Name)
	}
	s.assets[a.Name] = a
}

// Lookup は画像参照を解決します。
// プランナーがパス付きで返すことがあるので、ベース名でも照合するのだ。
func (s *ImageSet) Lookup(ref string) (ImageAsset, bool) {
	if s == nil {
		return ImageAsset{}, false
	}
	ref = strings.TrimSpace(ref)
	if a, ok := s.assets[ref]; ok {
		return a, true
	}
	a, ok := s.assets[path.Base(strings.ReplaceAll(ref, `\`, "/"))]
	return a, ok
}

// Len は画像の枚数を返すのだ。
func (s *ImageSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// All は原稿順に全画像を返します。
func (s *ImageSet) All() []ImageAsset {
	if s == nil {
		return nil
	}
	out := make([]ImageAsset, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.assets[name])
	}
	return out
}

// Names は原稿順の画像名リストなのだ。
func (s *ImageSet) Names() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}
