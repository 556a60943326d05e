package parser

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/shouni/go-slide-kit/pkg/domain"
)

const maxLineSize = 1024 * 1024

// ReadText はテキスト／Markdown 原稿を1行1段落として読み込むのだ。
// "![説明](path)" 形式の画像は baseDir からの相対パスで読み込み、段落の画像にするのだ。
// baseDir が空のときはローカル画像を読まないのだ。
func ReadText(r io.Reader, baseDir string) (Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var doc Document
	nextImage := 1
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		para := Paragraph{}

		for _, m := range MarkdownImageRegex.FindAllStringSubmatch(line, -1) {
			ref := m[1]
			data, err := loadLocalImage(baseDir, ref)
			if err != nil {
				slog.Warn("原稿内の画像を読み込めませんでした", "ref", ref, "error", err)
				continue
			}
			para.Images = append(para.Images, domain.NewImageAsset(nextImage, path.Ext(ref), data))
			nextImage++
		}
		para.Text = MarkdownImageRegex.ReplaceAllString(line, "")
		doc.Paragraphs = append(doc.Paragraphs, para)
	}
	if err := scanner.Err(); err != nil {
		return Document{}, fmt.Errorf("テキスト原稿の読み込みに失敗しました: %w", err)
	}
	return doc, nil
}

func loadLocalImage(baseDir, ref string) ([]byte, error) {
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" && u.Host != "" {
		return nil, fmt.Errorf("リモート画像はサポートしていません: %s", ref)
	}
	if baseDir == "" {
		return nil, fmt.Errorf("画像の基準ディレクトリがないため読み込めません: %s", ref)
	}
	p := ref
	if !filepath.IsAbs(p) {
		p = filepath.Join(baseDir, filepath.FromSlash(ref))
	}
	return os.ReadFile(p)
}
