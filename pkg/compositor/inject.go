package compositor

import (
	"bytes"
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/beevik/etree"
)

// setText は図形のテキストを置き換えるのだ。
// 各段落の最初のランの書式を残し、値の1行を1段落に対応させるのだ。
func setText(el *etree.Element, value string) error {
	if el.Tag != "sp" {
		return fmt.Errorf("図形 p:%s にはテキストを入れられません", el.Tag)
	}
	tx := el.SelectElement("p:txBody")
	if tx == nil {
		tx = el.CreateElement("p:txBody")
		tx.CreateElement("a:bodyPr")
		tx.CreateElement("a:lstStyle")
	}
	paras := tx.SelectElements("a:p")
	if len(paras) == 0 {
		paras = []*etree.Element{tx.CreateElement("a:p")}
	}

	lines := strings.Split(strings.ReplaceAll(value, "\r\n", "\n"), "\n")
	last := paras[len(paras)-1]
	for i, line := range lines {
		if i < len(paras) {
			fillParagraph(paras[i], line)
			continue
		}
		// 段落が足りなければ最後の段落を書式ごと複製するのだ
		clone := last.Copy()
		tx.InsertChildAt(last.Index()+1, clone)
		fillParagraph(clone, line)
		last = clone
	}
	for _, p := range paras[min(len(lines), len(paras)):] {
		tx.RemoveChild(p)
	}
	return nil
}

// fillParagraph は段落の最初のランにテキストを入れ、残りのランを取り除くのだ。
func fillParagraph(p *etree.Element, text string) {
	var first *etree.Element
	for _, child := range p.ChildElements() {
		if child.Space != "a" {
			continue
		}
		switch child.Tag {
		case "r":
			if first == nil {
				first = child
				continue
			}
			p.RemoveChild(child)
		case "br", "fld":
			p.RemoveChild(child)
		}
	}

	if first == nil {
		first = etree.NewElement("a:r")
		if end := p.SelectElement("a:endParaRPr"); end != nil {
			rPr := end.Copy()
			rPr.Tag = "rPr"
			first.AddChild(rPr)
			p.InsertChildAt(end.Index(), first)
		} else {
			p.AddChild(first)
		}
	}

	t := first.SelectElement("a:t")
	if t == nil {
		t = first.CreateElement("a:t")
	}
	t.SetText(text)
}

// box は EMU 単位の位置と大きさなのだ。
type box struct {
	x, y, cx, cy int64
}

// shapeBox は図形の xfrm を読むのだ。幾何を持たない（レイアウトから継承する）図形は ok=false なのだ。
func shapeBox(el *etree.Element) (box, bool) {
	var xfrm *etree.Element
	if el.Tag == "graphicFrame" {
		xfrm = el.SelectElement("p:xfrm")
	} else if spPr := firstChild(el, "p:spPr", "p:grpSpPr"); spPr != nil {
		xfrm = spPr.SelectElement("a:xfrm")
	}
	if xfrm == nil {
		return box{}, false
	}
	off, ext := xfrm.SelectElement("a:off"), xfrm.SelectElement("a:ext")
	if off == nil || ext == nil {
		return box{}, false
	}
	b := box{
		x:  attrInt(off, "x"),
		y:  attrInt(off, "y"),
		cx: attrInt(ext, "cx"),
		cy: attrInt(ext, "cy"),
	}
	return b, b.cx > 0 && b.cy > 0
}

// fit は縦横比を保ったまま枠に収め、中央に寄せるのだ。
func (b box) fit(width, height int) box {
	if width <= 0 || height <= 0 {
		return b
	}
	scale := math.Min(float64(b.cx)/float64(width), float64(b.cy)/float64(height))
	cx := int64(math.Round(float64(width) * scale))
	cy := int64(math.Round(float64(height) * scale))
	return box{x: b.x + (b.cx-cx)/2, y: b.y + (b.cy-cy)/2, cx: cx, cy: cy}
}

// imageSize は画像のピクセル寸法を返すのだ。読めない形式なら 0 なのだ。
func imageSize(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

// replaceWithPicture は図形を同じ id・名前の p:pic に置き換えるのだ。
// 幾何がある図形は枠内に縦横比を保って配置し、ない図形はプレースホルダー情報を引き継いで画像で塗るのだ。
func replaceWithPicture(el *etree.Element, relID, descr string, data []byte) error {
	parent := el.Parent()
	if parent == nil {
		return fmt.Errorf("図形の親要素がありません")
	}

	id, name := "0", ""
	var nvPr *etree.Element
	for _, child := range el.ChildElements() {
		if !strings.HasPrefix(child.Tag, "nv") {
			continue
		}
		if c := child.SelectElement("p:cNvPr"); c != nil {
			id = c.SelectAttrValue("id", id)
			name = c.SelectAttrValue("name", "")
		}
		nvPr = child.SelectElement("p:nvPr")
	}

	pic := etree.NewElement("p:pic")
	nv := pic.CreateElement("p:nvPicPr")
	cNvPr := nv.CreateElement("p:cNvPr")
	cNvPr.CreateAttr("id", id)
	cNvPr.CreateAttr("name", name)
	cNvPr.CreateAttr("descr", descr)
	nv.CreateElement("p:cNvPicPr").CreateElement("a:picLocks").CreateAttr("noChangeAspect", "1")

	blipFill := pic.CreateElement("p:blipFill")
	blipFill.CreateElement("a:blip").CreateAttr("r:embed", relID)
	blipFill.CreateElement("a:stretch").CreateElement("a:fillRect")
	spPr := pic.CreateElement("p:spPr")

	if b, ok := shapeBox(el); ok {
		nv.CreateElement("p:nvPr")
		placed := b.fit(imageSize(data))
		xfrm := spPr.CreateElement("a:xfrm")
		off := xfrm.CreateElement("a:off")
		off.CreateAttr("x", strconv.FormatInt(placed.x, 10))
		off.CreateAttr("y", strconv.FormatInt(placed.y, 10))
		ext := xfrm.CreateElement("a:ext")
		ext.CreateAttr("cx", strconv.FormatInt(placed.cx, 10))
		ext.CreateAttr("cy", strconv.FormatInt(placed.cy, 10))
		geom := spPr.CreateElement("a:prstGeom")
		geom.CreateAttr("prst", "rect")
		geom.CreateElement("a:avLst")
	} else {
		if nvPr == nil {
			return fmt.Errorf("図形 %q は位置もプレースホルダー情報も持たないので画像を配置できません", name)
		}
		nv.AddChild(nvPr.Copy())
	}

	idx := el.Index()
	parent.RemoveChildAt(idx)
	parent.InsertChildAt(idx, pic)
	return nil
}

func firstChild(el *etree.Element, tags ...string) *etree.Element {
	for _, tag := range tags {
		if c := el.SelectElement(tag); c != nil {
			return c
		}
	}
	return nil
}

func attrInt(el *etree.Element, key string) int64 {
	n, _ := strconv.ParseInt(el.SelectAttrValue(key, "0"), 10, 64)
	return n
}

// ensureNamespace はルート要素に名前空間宣言がなければ追加するのだ。
func ensureNamespace(root *etree.Element, prefix, uri string) {
	if root.SelectAttr("xmlns:"+prefix) == nil {
		root.CreateAttr("xmlns:"+prefix, uri)
	}
}
