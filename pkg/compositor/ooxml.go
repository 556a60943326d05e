package compositor

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

const (
	contentTypesPart = "[Content_Types].xml"
	presentationPart = "ppt/presentation.xml"
	appPropsPart     = "docProps/app.xml"
	notesSlidesDir   = "ppt/notesSlides/"

	nsRelationships   = "http://schemas.openxmlformats.org/package/2006/relationships"
	nsOfficeRelations = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"
	relTypeImage      = nsOfficeRelations + "/image"
	relTypeSlide      = nsOfficeRelations + "/slide"

	ctSlide = "application/vnd.openxmlformats-officedocument.presentationml.slide+xml"
	ctTags  = "application/vnd.openxmlformats-officedocument.presentationml.tags+xml"

	firstSlideID = 256
)

// relationship は .rels パーツの1要素なのだ。
type relationship struct {
	ID         string
	Type       string
	Target     string
	TargetMode string
}

// kind は関係タイプの末尾（slide, image, notesSlide など）を返すのだ。
// Strict 形式の名前空間でも同じ判定ができるのだ。
func (r relationship) kind() string {
	return path.Base(r.Type)
}

func (r relationship) external() bool {
	return r.TargetMode == "External"
}

// relsPathFor はパーツに対応する .rels パーツ名を返すのだ。
func relsPathFor(part string) string {
	dir, file := path.Split(part)
	return dir + "_rels/" + file + ".rels"
}

// resolveTarget は関係のターゲットをパッケージ内のパーツ名へ解決するのだ。
func resolveTarget(sourcePart, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(path.Clean(target), "/")
	}
	return path.Clean(path.Join(path.Dir(sourcePart), target))
}

func parseRelationships(data []byte) ([]relationship, error) {
	if len(data) == 0 {
		return nil, nil
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("リレーションの解析に失敗しました: %w", err)
	}
	var rels []relationship
	for _, el := range doc.FindElements("//Relationship") {
		rels = append(rels, relationship{
			ID:         el.SelectAttrValue("Id", ""),
			Type:       el.SelectAttrValue("Type", ""),
			Target:     el.SelectAttrValue("Target", ""),
			TargetMode: el.SelectAttrValue("TargetMode", ""),
		})
	}
	return rels, nil
}

func encodeRelationships(rels []relationship) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8" standalone="yes"`)
	root := doc.CreateElement("Relationships")
	root.CreateAttr("xmlns", nsRelationships)
	for _, r := range rels {
		el := root.CreateElement("Relationship")
		el.CreateAttr("Id", r.ID)
		el.CreateAttr("Type", r.Type)
		el.CreateAttr("Target", r.Target)
		if r.TargetMode != "" {
			el.CreateAttr("TargetMode", r.TargetMode)
		}
	}
	return doc.WriteToBytes()
}

var relIDPattern = regexp.MustCompile(`^rId(\d+)$`)

// nextRelID は既存の rId と衝突しない次の ID を返すのだ。
func nextRelID(rels []relationship) string {
	maxID := 0
	for _, r := range rels {
		if m := relIDPattern.FindStringSubmatch(r.ID); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > maxID {
				maxID = n
			}
		}
	}
	return fmt.Sprintf("rId%d", maxID+1)
}

// contentTypes は [Content_Types].xml の編集用ラッパーなのだ。
type contentTypes struct {
	doc *etree.Document
}

func parseContentTypes(data []byte) (*contentTypes, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("[Content_Types].xml の解析に失敗しました: %w", err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("[Content_Types].xml が空です")
	}
	return &contentTypes{doc: doc}, nil
}

func (ct *contentTypes) override(part string) string {
	name := "/" + part
	for _, el := range ct.doc.Root().SelectElements("Override") {
		if el.SelectAttrValue("PartName", "") == name {
			return el.SelectAttrValue("ContentType", "")
		}
	}
	return ""
}

func (ct *contentTypes) removeOverride(part string) {
	name := "/" + part
	root := ct.doc.Root()
	for _, el := range root.SelectElements("Override") {
		if el.SelectAttrValue("PartName", "") == name {
			root.RemoveChild(el)
		}
	}
}

func (ct *contentTypes) setOverride(part, contentType string) {
	ct.removeOverride(part)
	el := ct.doc.Root().CreateElement("Override")
	el.CreateAttr("PartName", "/"+part)
	el.CreateAttr("ContentType", contentType)
}

// ensureDefault は拡張子の既定コンテンツタイプがなければ追加するのだ。
// Default 要素は Override より前に置くのだ。
func (ct *contentTypes) ensureDefault(ext, contentType string) {
	root := ct.doc.Root()
	for _, el := range root.SelectElements("Default") {
		if strings.EqualFold(el.SelectAttrValue("Extension", ""), ext) {
			return
		}
	}
	el := etree.NewElement("Default")
	el.CreateAttr("Extension", ext)
	el.CreateAttr("ContentType", contentType)
	root.InsertChildAt(0, el)
}

func (ct *contentTypes) bytes() ([]byte, error) {
	return ct.doc.WriteToBytes()
}

// readPackage は ZIP パッケージの全パーツをメモリに読み込むのだ。
func readPackage(r io.ReaderAt, size int64) (map[string][]byte, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("PPTXの展開に失敗しました: %w", err)
	}
	parts := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("パーツ '%s' を開けません: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("パーツ '%s' の読み込みに失敗しました: %w", f.Name, err)
		}
		parts[f.Name] = data
	}
	return parts, nil
}

// writePackage はパーツを ZIP にまとめるのだ。
// [Content_Types].xml を先頭に置き、残りは名前順に並べるので出力は決定的なのだ。
func writePackage(parts map[string][]byte) ([]byte, error) {
	names := make([]string, 0, len(parts))
	for name := range parts {
		if name != contentTypesPart {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	names = append([]string{contentTypesPart}, names...)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return nil, fmt.Errorf("パーツ '%s' の書き込みに失敗しました: %w", name, err)
		}
		if _, err := w.Write(parts[name]); err != nil {
			return nil, fmt.Errorf("パーツ '%s' の書き込みに失敗しました: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("PPTXの書き込みに失敗しました: %w", err)
	}
	return buf.Bytes(), nil
}

func parseXML(parts map[string][]byte, name string) (*etree.Document, error) {
	data, ok := parts[name]
	if !ok {
		return nil, fmt.Errorf("パーツ '%s' が見つかりません", name)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("パーツ '%s' のXML解析に失敗しました: %w", name, err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("パーツ '%s' にルート要素がありません", name)
	}
	return doc, nil
}
