package parser

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/shouni/go-slide-kit/pkg/domain"
)

// ImageRefFormat は注釈付き原稿で画像の位置を示す書式なのだ。
const ImageRefFormat = "[图片资源: %s]"

// FormatImageRef は画像名を注釈付き原稿の画像参照に変換するのだ。
func FormatImageRef(name string) string {
	return fmt.Sprintf(ImageRefFormat, name)
}

// ParseAnnotatedScript は、プランナーがマーカーを書き込んだ原稿を再びブロックに分割するのだ。
// 画像参照は今回の実行で抽出済みの画像だけを解決し、それ以外は警告して捨てるのだ。
func ParseAnnotatedScript(text string, images *domain.ImageSet) Segmentation {
	var doc Document
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		// AIが付けがちなコードフェンスは本文ではないのだ
		if strings.HasPrefix(trimmed, "```") {
			continue
		}

		para := Paragraph{}
		for _, m := range ImageRefRegex.FindAllStringSubmatch(line, -1) {
			name := strings.TrimSpace(m[1])
			img, ok := images.Lookup(name)
			if !ok {
				slog.Warn("注釈付き原稿の画像参照を解決できません", "image", name)
				continue
			}
			para.Images = append(para.Images, img)
		}
		para.Text = ImageRefRegex.ReplaceAllString(line, "")
		doc.Paragraphs = append(doc.Paragraphs, para)
	}
	return Segment(doc)
}

// RenderScript はブロック列を、画像参照を埋め込んだプレーンな原稿に戻すのだ。
// プランナーへの入力として使うのだ。
func RenderScript(blocks []domain.ScriptBlock) string {
	var sb strings.Builder
	for i, b := range blocks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		if b.Text != "" {
			sb.WriteString(b.Text)
		}
		for _, name := range b.Images {
			if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
				sb.WriteString("\n")
			}
			sb.WriteString(FormatImageRef(name))
		}
	}
	return sb.String()
}
