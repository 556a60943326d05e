package parser

import (
	"archive/zip"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/shouni/go-slide-kit/pkg/domain"

	"github.com/beevik/etree"
)

const (
	docxDocumentPart = "word/document.xml"
	docxRelsPart     = "word/_rels/document.xml.rels"
	relTargetModeExt = "External"
)

// ReadDocx は DOCX を段落単位で読み込み、埋め込み画像を原稿順に取り出すのだ。
// 取り出した画像には doc_image_{連番}.{拡張子} という名前を付けるのだ。
func ReadDocx(r io.ReaderAt, size int64) (Document, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return Document{}, fmt.Errorf("DOCXの展開に失敗しました: %w", err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	body, err := readZipXML(files, docxDocumentPart)
	if err != nil {
		return Document{}, err
	}
	targets, err := readDocxRels(files)
	if err != nil {
		return Document{}, err
	}

	root := body.FindElement("//w:body")
	if root == nil {
		return Document{}, fmt.Errorf("DOCXに本文（w:body）がありません")
	}

	rd := &docxReader{files: files, targets: targets, nextImage: 1}
	rd.walk(root)
	return Document{Paragraphs: rd.paragraphs}, nil
}

type docxReader struct {
	files      map[string]*zip.File
	targets    map[string]string
	nextImage  int
	paragraphs []Paragraph
}

// walk は本文を文書順にたどり、w:p ごとに段落を作るのだ。
// テキストボックス内の段落は外側の段落の後に続くのだ。
func (rd *docxReader) walk(el *etree.Element) {
	for _, child := range el.ChildElements() {
		if isFallback(child) {
			continue
		}
		if child.Space == "w" && child.Tag == "p" {
			rd.paragraphs = append(rd.paragraphs, rd.paragraph(child))
		}
		rd.walk(child)
	}
}

func (rd *docxReader) paragraph(p *etree.Element) Paragraph {
	var sb strings.Builder
	var embeds []string
	collectParagraph(p, &sb, &embeds)

	para := Paragraph{Text: sb.String()}
	for _, id := range embeds {
		img, ok := rd.image(id)
		if !ok {
			continue
		}
		para.Images = append(para.Images, img)
	}
	return para
}

// collectParagraph は入れ子の段落に入らずにテキストと画像参照を集めるのだ。
func collectParagraph(el *etree.Element, sb *strings.Builder, embeds *[]string) {
	for _, child := range el.ChildElements() {
		if isFallback(child) || (child.Space == "w" && child.Tag == "p") {
			continue
		}
		switch {
		case child.Space == "w" && child.Tag == "t":
			sb.WriteString(child.Text())
		case child.Space == "w" && child.Tag == "tab":
			sb.WriteByte('\t')
		case child.Space == "w" && (child.Tag == "br" || child.Tag == "cr"):
			sb.WriteByte('\n')
		case child.Tag == "blip":
			if id := child.SelectAttrValue("r:embed", ""); id != "" {
				*embeds = append(*embeds, id)
			}
		}
		collectParagraph(child, sb, embeds)
	}
}

// isFallback は mc:AlternateContent の代替表現を判定します。画像の二重取得を防ぐのだ。
func isFallback(el *etree.Element) bool {
	return el.Space == "mc" && el.Tag == "Fallback"
}

func (rd *docxReader) image(relID string) (domain.ImageAsset, bool) {
	target, ok := rd.targets[relID]
	if !ok {
		slog.Debug("画像のリレーションが見つかりません", "r_id", relID)
		return domain.ImageAsset{}, false
	}
	f, ok := rd.files[target]
	if !ok {
		slog.Warn("画像パーツがDOCX内に存在しません", "target", target)
		return domain.ImageAsset{}, false
	}
	data, err := readZipFile(f)
	if err != nil {
		slog.Warn("画像パーツの読み込みに失敗しました", "target", target, "error", err)
		return domain.ImageAsset{}, false
	}
	img := domain.NewImageAsset(rd.nextImage, path.Ext(target), data)
	rd.nextImage++
	return img, true
}

// readDocxRels は本文のリレーションを rId → パーツ名 の表にするのだ。
func readDocxRels(files map[string]*zip.File) (map[string]string, error) {
	targets := make(map[string]string)
	if _, ok := files[docxRelsPart]; !ok {
		return targets, nil
	}
	doc, err := readZipXML(files, docxRelsPart)
	if err != nil {
		return nil, err
	}
	for _, rel := range doc.FindElements("//Relationship") {
		if rel.SelectAttrValue("TargetMode", "") == relTargetModeExt {
			continue
		}
		id := rel.SelectAttrValue("Id", "")
		target := rel.SelectAttrValue("Target", "")
		if id == "" || target == "" {
			continue
		}
		if strings.HasPrefix(target, "/") {
			targets[id] = strings.TrimPrefix(path.Clean(target), "/")
		} else {
			targets[id] = path.Clean(path.Join("word", target))
		}
	}
	return targets, nil
}

func readZipXML(files map[string]*zip.File, name string) (*etree.Document, error) {
	f, ok := files[name]
	if !ok {
		return nil, fmt.Errorf("パーツ '%s' が見つかりません", name)
	}
	data, err := readZipFile(f)
	if err != nil {
		return nil, err
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("パーツ '%s' のXML解析に失敗しました: %w", name, err)
	}
	return doc, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("パーツ '%s' を開けません: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("パーツ '%s' の読み込みに失敗しました: %w", f.Name, err)
	}
	return data, nil
}
