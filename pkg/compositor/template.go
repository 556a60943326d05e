package compositor

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
)

// Template は読み取り専用のテンプレートデッキなのだ。
// 合成は毎回パーツを複製して行うので、複数の実行から同時に使ってよいのだ。
type Template struct {
	parts map[string][]byte
	// slides はデッキ順のスライドパーツ名です。テンプレートページ N は slides[N-1] なのだ。
	slides []string
}

// OpenTemplate はファイルからテンプレートデッキを読み込むのだ。
func OpenTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("テンプレートデッキの読み込みに失敗しました: %w", err)
	}
	return ReadTemplate(bytes.NewReader(data), int64(len(data)))
}

// ReadTemplate は PPTX をメモリに読み込み、スライド順を解決するのだ。
func ReadTemplate(r io.ReaderAt, size int64) (*Template, error) {
	parts, err := readPackage(r, size)
	if err != nil {
		return nil, err
	}
	if _, ok := parts[contentTypesPart]; !ok {
		return nil, fmt.Errorf("PPTXに [Content_Types].xml がありません")
	}

	slides, err := slideOrder(parts)
	if err != nil {
		return nil, err
	}
	if len(slides) == 0 {
		return nil, fmt.Errorf("テンプレートデッキにスライドがありません")
	}
	return &Template{parts: parts, slides: slides}, nil
}

// slideOrder は presentation.xml の sldIdLst からスライドパーツ名をデッキ順に並べるのだ。
func slideOrder(parts map[string][]byte) ([]string, error) {
	pres, err := parseXML(parts, presentationPart)
	if err != nil {
		return nil, err
	}
	rels, err := parseRelationships(parts[relsPathFor(presentationPart)])
	if err != nil {
		return nil, err
	}
	targets := make(map[string]string, len(rels))
	for _, r := range rels {
		if r.kind() == "slide" {
			targets[r.ID] = resolveTarget(presentationPart, r.Target)
		}
	}

	list := pres.Root().SelectElement("p:sldIdLst")
	if list == nil {
		return nil, nil
	}
	var slides []string
	for _, el := range list.SelectElements("p:sldId") {
		id := el.SelectAttrValue("r:id", "")
		part, ok := targets[id]
		if !ok {
			return nil, fmt.Errorf("スライド %s のリレーションが見つかりません", id)
		}
		if _, ok := parts[part]; !ok {
			return nil, fmt.Errorf("スライドパーツ '%s' が見つかりません", part)
		}
		slides = append(slides, part)
	}
	return slides, nil
}

// NumPages はテンプレートのスライド数を返すのだ。
func (t *Template) NumPages() int {
	return len(t.slides)
}

// ShapeInfo は図形1つ分の概要なのだ。Path がそのままロケータとして使えるのだ。
type ShapeInfo struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
}

// SlideOutline はスライド1枚分の図形一覧なのだ。
type SlideOutline struct {
	Page   int         `json:"page"`
	Part   string      `json:"part"`
	Shapes []ShapeInfo `json:"shapes"`
}

// Outline は全スライドの図形パスを返します。マニフェストのロケータを書くときに使うのだ。
func (t *Template) Outline() ([]SlideOutline, error) {
	out := make([]SlideOutline, 0, len(t.slides))
	for i, part := range t.slides {
		doc, err := parseXML(t.parts, part)
		if err != nil {
			return nil, err
		}
		tree, err := spTreeOf(doc)
		if err != nil {
			return nil, fmt.Errorf("スライド %d: %w", i+1, err)
		}
		so := SlideOutline{Page: i + 1, Part: part}
		for _, s := range collectShapes(tree) {
			so.Shapes = append(so.Shapes, ShapeInfo{
				Path: s.path,
				Kind: s.el.Tag,
				Text: strings.TrimSpace(shapeText(s.el)),
			})
		}
		out = append(out, so)
	}
	return out, nil
}
