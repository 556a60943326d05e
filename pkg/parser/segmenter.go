package parser

import (
	"strings"

	"github.com/shouni/go-slide-kit/pkg/domain"
)

// Segmentation は原稿の分割結果なのだ。
type Segmentation struct {
	Blocks     []domain.ScriptBlock
	Metadata   domain.Metadata
	HasMarkers bool
	Images     *domain.ImageSet
}

// HintedBlocks はマーカー付きブロックの数を返すのだ。
func (s Segmentation) HintedBlocks() int {
	n := 0
	for _, b := range s.Blocks {
		if b.HasHint() {
			n++
		}
	}
	return n
}

// Segment は段落を順にたどってブロックに分割し、メタデータとマーカーを取り出すのだ。
// マーカーは直前のブロックを閉じ、そのページ番号を持つ新しいブロックを開くのだ。
// メタデータ行はブロックの本文には含めないのだ。
func Segment(doc Document) Segmentation {
	seg := Segmentation{Images: domain.NewImageSet()}

	var current *domain.ScriptBlock
	var buffer []string

	ensureBlock := func() {
		if current == nil {
			current = &domain.ScriptBlock{}
		}
	}

	// 現在のブロックを確定して追加するヘルパー関数
	flush := func() {
		if current == nil {
			buffer = nil
			return
		}
		current.Text = strings.TrimSpace(strings.Join(buffer, "\n"))
		// マーカーで開かれたブロックは空でも残すのだ（表紙など本文のないページ用）
		if current.HasHint() || !current.IsEmpty() {
			current.SequenceIndex = len(seg.Blocks)
			seg.Blocks = append(seg.Blocks, *current)
		}
		current = nil
		buffer = nil
	}

	attachImages := func(images []domain.ImageAsset) {
		if len(images) == 0 {
			return
		}
		ensureBlock()
		for _, img := range images {
			seg.Images.Add(img)
			current.Images = append(current.Images, img.Name)
		}
	}

	appendText := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		ensureBlock()
		buffer = append(buffer, s)
	}

	for _, para := range doc.Paragraphs {
		if key, value, ok := ExtractMetadata(para.Text); ok {
			seg.Metadata.Set(key, value)
			attachImages(para.Images)
			continue
		}

		markers := FindMarkers(para.Text)
		if len(markers) == 0 {
			appendText(para.Text)
			attachImages(para.Images)
			continue
		}

		seg.HasMarkers = true
		idx := 0
		for _, m := range markers {
			appendText(para.Text[idx:m.Start])
			flush()
			page := m.Page
			current = &domain.ScriptBlock{TemplateHint: &page}
			idx = m.End
		}
		appendText(para.Text[idx:])
		// マーカーと同じ段落の画像は最後に開いたブロックに属するのだ
		attachImages(para.Images)
	}
	flush()

	return seg
}
