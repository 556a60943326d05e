package compositor

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"

	"github.com/shouni/go-slide-kit/pkg/domain"
	"github.com/shouni/go-slide-kit/pkg/manifest"

	"github.com/beevik/etree"
)

// Compositor は検証済みの契約とテンプレートデッキから出力デッキを組み立てるのだ。
type Compositor struct {
	manifest *manifest.Manifest
}

// New は Compositor を作るのだ。
func New(m *manifest.Manifest) *Compositor {
	return &Compositor{manifest: m}
}

// Composite は契約のページ順どおりにテンプレートページを複製し、内容を流し込んだデッキを返すのだ。
// 途中で失敗した場合は何も返さないので、部分的なデッキが成功扱いになることはないのだ。
func (c *Compositor) Composite(ctx context.Context, tmpl *Template, contract domain.Contract, images *domain.ImageSet) ([]byte, error) {
	if c.manifest == nil {
		return nil, fmt.Errorf("manifest は必須です")
	}
	if tmpl == nil {
		return nil, fmt.Errorf("テンプレートデッキは必須です")
	}
	if len(contract.Pages) == 0 {
		return nil, fmt.Errorf("契約にページがありません")
	}

	b, err := newDeckBuilder(tmpl)
	if err != nil {
		return nil, err
	}
	for i, page := range contract.Pages {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("スライド合成がキャンセルされました: %w", err)
		}
		if err := b.addSlide(i+1, page, c.manifest, images); err != nil {
			return nil, err
		}
	}

	out, err := b.finish()
	if err != nil {
		return nil, err
	}
	slog.Info("スライド合成が完了しました", "slides", len(contract.Pages), "media", len(b.media), "bytes", len(out))
	return out, nil
}

// deckBuilder は1回の合成の作業状態なのだ。テンプレートのパーツは書き換えないのだ。
type deckBuilder struct {
	tmpl      *Template
	parts     map[string][]byte
	types     *contentTypes
	presRels  []relationship
	slideType string
	slideRels []string
	media     map[string]string // 画像名 → メディアパーツ名
	srcTypes  *contentTypes     // テンプレートのままのコンテンツタイプ
	seqs      map[string]int    // 複製パーツ名の連番
}

func newDeckBuilder(tmpl *Template) (*deckBuilder, error) {
	types, err := parseContentTypes(tmpl.parts[contentTypesPart])
	if err != nil {
		return nil, err
	}
	srcTypes, err := parseContentTypes(tmpl.parts[contentTypesPart])
	if err != nil {
		return nil, err
	}
	presRels, err := parseRelationships(tmpl.parts[relsPathFor(presentationPart)])
	if err != nil {
		return nil, err
	}

	b := &deckBuilder{
		tmpl:      tmpl,
		parts:     make(map[string][]byte, len(tmpl.parts)),
		types:     types,
		slideType: relTypeSlide,
		media:     make(map[string]string),
		srcTypes:  srcTypes,
		seqs:      make(map[string]int),
	}

	presTargets := make(map[string]bool)
	for _, r := range presRels {
		if r.kind() == "slide" {
			b.slideType = r.Type
			continue
		}
		b.presRels = append(b.presRels, r)
		presTargets[resolveTarget(presentationPart, r.Target)] = true
	}

	// テンプレートのスライド、ノート、スライド専用のパーツは出力に持ち越さないのだ
	excluded := make(map[string]bool)
	for _, slide := range tmpl.slides {
		excluded[slide] = true
		excluded[relsPathFor(slide)] = true
		owned, err := ownedParts(tmpl.parts, slide)
		if err != nil {
			return nil, err
		}
		for _, part := range owned {
			if !presTargets[part] {
				excluded[part] = true
				excluded[relsPathFor(part)] = true
			}
		}
	}
	for name, data := range tmpl.parts {
		if excluded[name] || isNotesSlidePart(name) {
			types.removeOverride(name)
			continue
		}
		b.parts[name] = data
	}
	return b, nil
}

func isNotesSlidePart(name string) bool {
	return strings.HasPrefix(name, notesSlidesDir)
}

// addSlide はテンプレートページを複製して k 枚目のスライドを作るのだ。
func (b *deckBuilder) addSlide(k int, page domain.PageConfig, m *manifest.Manifest, images *domain.ImageSet) error {
	num := page.TemplatePageNum
	spec, err := m.Resolve(num)
	if err != nil {
		return err
	}
	if num < 1 || num > len(b.tmpl.slides) {
		return domain.NewCompositingError(num, "", fmt.Sprintf("template deck has only %d slide(s)", len(b.tmpl.slides)))
	}
	src := b.tmpl.slides[num-1]

	doc, err := parseXML(b.tmpl.parts, src)
	if err != nil {
		return domain.NewCompositingError(num, "", err.Error())
	}
	srcRels, err := parseRelationships(b.tmpl.parts[relsPathFor(src)])
	if err != nil {
		return domain.NewCompositingError(num, "", err.Error())
	}
	rels, err := b.carryRelationships(src, srcRels)
	if err != nil {
		return domain.NewCompositingError(num, "", err.Error())
	}

	tree, err := spTreeOf(doc)
	if err != nil {
		return domain.NewCompositingError(num, "", err.Error())
	}
	shapes := collectShapes(tree)

	// 先に全フィールドの図形を解決してから書き換えるのだ
	targets := make([]*etree.Element, len(spec.Fields))
	for i, f := range spec.Fields {
		loc, _ := m.Locator(num, f.Name)
		el, err := locate(shapes, loc)
		if err != nil {
			return domain.NewCompositingError(num, f.Name, err.Error())
		}
		targets[i] = el
	}

	for i, f := range spec.Fields {
		value := page.Fields[f.Name]
		if value == "" {
			continue
		}
		if !f.IsImage() {
			if err := setText(targets[i], value); err != nil {
				return domain.NewCompositingError(num, f.Name, err.Error())
			}
			continue
		}

		asset, ok := images.Lookup(value)
		if !ok {
			return domain.NewCompositingError(num, f.Name, fmt.Sprintf("image %q is not available", value))
		}
		relID := nextRelID(rels)
		rels = append(rels, relationship{ID: relID, Type: relTypeImage, Target: "../media/" + path.Base(b.addMedia(asset))})
		ensureNamespace(doc.Root(), "r", nsOfficeRelations)
		if err := replaceWithPicture(targets[i], relID, asset.Name, asset.Data); err != nil {
			return domain.NewCompositingError(num, f.Name, err.Error())
		}
	}

	part := fmt.Sprintf("ppt/slides/slide%d.xml", k)
	data, err := doc.WriteToBytes()
	if err != nil {
		return fmt.Errorf("スライド %d の書き出しに失敗しました: %w", k, err)
	}
	relsData, err := encodeRelationships(rels)
	if err != nil {
		return fmt.Errorf("スライド %d のリレーション書き出しに失敗しました: %w", k, err)
	}
	b.parts[part] = data
	b.parts[relsPathFor(part)] = relsData
	b.types.setOverride(part, ctSlide)

	id := nextRelID(b.presRels)
	b.presRels = append(b.presRels, relationship{ID: id, Type: b.slideType, Target: "slides/" + path.Base(part)})
	b.slideRels = append(b.slideRels, id)

	slog.Debug("スライドを複製しました", "slide", k, "template_page_num", num, "source", src)
	return nil
}

// slideOwnedKinds はスライドごとに複製する関係の種類なのだ。
// 複製しておけば、片方のグラフやコメントを編集してももう片方は変わらないのだ。
// レイアウトや画像、グラフのスタイルは共有のままなのだ。
var slideOwnedKinds = map[string]bool{
	"tags":              true,
	"chart":             true,
	"chartUserShapes":   true,
	"comments":          true,
	"package":           true,
	"oleObject":         true,
	"diagramData":       true,
	"diagramLayout":     true,
	"diagramQuickStyle": true,
	"diagramColors":     true,
	"diagramDrawing":    true,
}

func ownedRel(r relationship) bool {
	return !r.external() && slideOwnedKinds[r.kind()]
}

// ownedParts は src から辿れるスライド専用パーツを列挙するのだ。
func ownedParts(parts map[string][]byte, src string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	var walk func(part string) error
	walk = func(part string) error {
		rels, err := parseRelationships(parts[relsPathFor(part)])
		if err != nil {
			return err
		}
		for _, r := range rels {
			if !ownedRel(r) {
				continue
			}
			target := resolveTarget(part, r.Target)
			if seen[target] {
				continue
			}
			seen[target] = true
			out = append(out, target)
			if err := walk(target); err != nil {
				return err
			}
		}
		return nil
	}
	return out, walk(src)
}

// carryRelationships は複製元スライドの関係を引き継ぐのだ。
// ノートへの関係は落とし、スライド専用のパーツはスライドごとに複製するのだ。
func (b *deckBuilder) carryRelationships(src string, rels []relationship) ([]relationship, error) {
	return b.carryOwned(src, rels, make(map[string]string))
}

func (b *deckBuilder) carryOwned(src string, rels []relationship, cloned map[string]string) ([]relationship, error) {
	out := make([]relationship, 0, len(rels))
	for _, r := range rels {
		switch {
		case r.external():
		case r.kind() == "notesSlide":
			continue
		case ownedRel(r):
			target := resolveTarget(src, r.Target)
			clone, ok := cloned[target]
			if !ok {
				var err error
				clone, err = b.clonePart(target, r.kind(), cloned)
				if err != nil {
					return nil, err
				}
			}
			if clone == "" {
				continue
			}
			r.Target = path.Join(path.Dir(r.Target), path.Base(clone))
		}
		out = append(out, r)
	}
	return out, nil
}

// clonePart はテンプレートのパーツを同じディレクトリに別名で複製するのだ。
// パーツ自身の関係も引き継ぐので、埋め込みブックなども一緒に複製されるのだ。
// テンプレートに存在しないパーツなら空文字を返すのだ。
func (b *deckBuilder) clonePart(target, kind string, cloned map[string]string) (string, error) {
	data, ok := b.tmpl.parts[target]
	if !ok {
		cloned[target] = ""
		return "", nil
	}

	dir, file := path.Split(target)
	ext := path.Ext(file)
	stem := strings.TrimRight(strings.TrimSuffix(file, ext), "0123456789")
	key := dir + stem
	seq := b.seqs[key]
	clone := b.uniquePart(func(n int) string { return fmt.Sprintf("%sslidekit_%s%d%s", dir, stem, n, ext) }, &seq)
	b.seqs[key] = seq
	cloned[target] = clone

	b.parts[clone] = data
	ct := b.srcTypes.override(target)
	if ct == "" && kind == "tags" {
		ct = ctTags
	}
	if ct != "" {
		b.types.setOverride(clone, ct)
	}

	relsData, ok := b.tmpl.parts[relsPathFor(target)]
	if !ok {
		return clone, nil
	}
	rels, err := parseRelationships(relsData)
	if err != nil {
		return "", fmt.Errorf("%s のリレーション解析に失敗しました: %w", target, err)
	}
	rels, err = b.carryOwned(target, rels, cloned)
	if err != nil {
		return "", err
	}
	out, err := encodeRelationships(rels)
	if err != nil {
		return "", err
	}
	b.parts[relsPathFor(clone)] = out
	return clone, nil
}

// addMedia は画像をメディアパーツとして追加するのだ。同じ画像は1つのパーツを共有するのだ。
func (b *deckBuilder) addMedia(asset domain.ImageAsset) string {
	if part, ok := b.media[asset.Name]; ok {
		return part
	}
	ext := asset.Ext()
	seq := 0
	part := b.uniquePart(func(n int) string { return fmt.Sprintf("ppt/media/slidekit_image%d.%s", n, ext) }, &seq)
	b.parts[part] = asset.Data
	b.types.ensureDefault(ext, domain.MimeTypeForExt(ext))
	b.media[asset.Name] = part
	return part
}

func (b *deckBuilder) uniquePart(name func(n int) string, seq *int) string {
	for {
		*seq++
		candidate := name(*seq)
		if _, exists := b.parts[candidate]; !exists {
			return candidate
		}
	}
}

// finish は presentation.xml とパッケージ全体を書き出すのだ。
func (b *deckBuilder) finish() ([]byte, error) {
	pres, err := parseXML(b.tmpl.parts, presentationPart)
	if err != nil {
		return nil, err
	}
	root := pres.Root()
	list := root.SelectElement("p:sldIdLst")
	if list == nil {
		return nil, fmt.Errorf("presentation.xml に p:sldIdLst がありません")
	}
	for _, el := range list.ChildElements() {
		list.RemoveChild(el)
	}
	for i, rid := range b.slideRels {
		el := list.CreateElement("p:sldId")
		el.CreateAttr("id", strconv.Itoa(firstSlideID+i))
		el.CreateAttr("r:id", rid)
	}

	// 旧スライド ID を参照するカスタムショーとセクションは整合しなくなるので外すのだ
	if cs := root.SelectElement("p:custShowLst"); cs != nil {
		root.RemoveChild(cs)
	}
	if extLst := root.SelectElement("p:extLst"); extLst != nil {
		for _, ext := range extLst.ChildElements() {
			if ext.FindElement(".//sectionLst") != nil {
				extLst.RemoveChild(ext)
			}
		}
	}

	presData, err := pres.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("presentation.xml の書き出しに失敗しました: %w", err)
	}
	relsData, err := encodeRelationships(b.presRels)
	if err != nil {
		return nil, err
	}
	b.parts[presentationPart] = presData
	b.parts[relsPathFor(presentationPart)] = relsData

	if err := b.updateAppProps(); err != nil {
		return nil, err
	}

	types, err := b.types.bytes()
	if err != nil {
		return nil, fmt.Errorf("[Content_Types].xml の書き出しに失敗しました: %w", err)
	}
	b.parts[contentTypesPart] = types
	return writePackage(b.parts)
}

// updateAppProps は docProps/app.xml のスライド数を更新するのだ。
func (b *deckBuilder) updateAppProps() error {
	if _, ok := b.parts[appPropsPart]; !ok {
		return nil
	}
	doc, err := parseXML(b.parts, appPropsPart)
	if err != nil {
		return err
	}
	slides := doc.Root().SelectElement("Slides")
	if slides == nil {
		return nil
	}
	slides.SetText(strconv.Itoa(len(b.slideRels)))
	if notes := doc.Root().SelectElement("Notes"); notes != nil {
		notes.SetText("0")
	}
	data, err := doc.WriteToBytes()
	if err != nil {
		return fmt.Errorf("docProps/app.xml の書き出しに失敗しました: %w", err)
	}
	b.parts[appPropsPart] = data
	return nil
}
