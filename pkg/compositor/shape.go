package compositor

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// shapeRef は spTree 内の図形と、そのグループ名を含むパスなのだ。
type shapeRef struct {
	path string
	name string
	el   *etree.Element
}

var shapeTags = map[string]bool{
	"sp":           true,
	"pic":          true,
	"grpSp":        true,
	"graphicFrame": true,
	"cxnSp":        true,
}

func spTreeOf(doc *etree.Document) (*etree.Element, error) {
	cSld := doc.Root().SelectElement("p:cSld")
	if cSld == nil {
		return nil, fmt.Errorf("p:cSld がありません")
	}
	tree := cSld.SelectElement("p:spTree")
	if tree == nil {
		return nil, fmt.Errorf("p:spTree がありません")
	}
	return tree, nil
}

// collectShapes は図形を文書順に集めるのだ。グループの中身は "グループ名/図形名" で表すのだ。
func collectShapes(tree *etree.Element) []shapeRef {
	var out []shapeRef
	var walk func(parent *etree.Element, prefix string)
	walk = func(parent *etree.Element, prefix string) {
		for _, child := range parent.ChildElements() {
			if child.Space == "mc" && child.Tag == "AlternateContent" {
				if choice := child.SelectElement("mc:Choice"); choice != nil {
					walk(choice, prefix)
				}
				continue
			}
			if child.Space != "p" || !shapeTags[child.Tag] {
				continue
			}
			name := shapeName(child)
			p := name
			if prefix != "" {
				p = prefix + "/" + name
			}
			out = append(out, shapeRef{path: p, name: name, el: child})
			if child.Tag == "grpSp" {
				walk(child, p)
			}
		}
	}
	walk(tree, "")
	return out
}

// shapeName は nvXxxPr/cNvPr の name 属性を返すのだ。
func shapeName(el *etree.Element) string {
	for _, child := range el.ChildElements() {
		if !strings.HasPrefix(child.Tag, "nv") {
			continue
		}
		if c := child.SelectElement("p:cNvPr"); c != nil {
			return c.SelectAttrValue("name", "")
		}
	}
	return ""
}

// locate はロケータに一致する図形を1つだけ探すのだ。
// 完全なパスで一致しなければ、末尾の図形名が一意に一致するものを採用するのだ。
func locate(shapes []shapeRef, locator string) (*etree.Element, error) {
	locator = strings.Trim(strings.TrimSpace(locator), "/")
	if locator == "" {
		return nil, fmt.Errorf("ロケータが空です")
	}

	var byPath, byName []shapeRef
	for _, s := range shapes {
		if s.path == locator {
			byPath = append(byPath, s)
		}
		if s.name == locator {
			byName = append(byName, s)
		}
	}
	switch {
	case len(byPath) == 1:
		return byPath[0].el, nil
	case len(byPath) > 1:
		return nil, fmt.Errorf("ロケータ %q に一致する図形が %d 個あります", locator, len(byPath))
	case len(byName) == 1:
		return byName[0].el, nil
	case len(byName) > 1:
		return nil, fmt.Errorf("図形名 %q が一意ではありません（%d 個）、グループ名を含むパスで指定してください", locator, len(byName))
	default:
		return nil, fmt.Errorf("ロケータ %q に一致する図形がありません", locator)
	}
}

// shapeText は図形内のテキストを段落ごとに改行でつないで返すのだ。
func shapeText(el *etree.Element) string {
	tx := el.SelectElement("p:txBody")
	if tx == nil {
		return ""
	}
	var lines []string
	for _, p := range tx.SelectElements("a:p") {
		var sb strings.Builder
		for _, t := range p.FindElements(".//t") {
			if t.Space == "a" {
				sb.WriteString(t.Text())
			}
		}
		lines = append(lines, sb.String())
	}
	return strings.Join(lines, "\n")
}
