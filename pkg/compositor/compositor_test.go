package compositor

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"testing"

	"github.com/shouni/go-slide-kit/pkg/domain"
	"github.com/shouni/go-slide-kit/pkg/manifest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	slideHead = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"><p:cSld><p:spTree><p:nvGrpSpPr><p:cNvPr id="1" name=""/><p:cNvGrpSpPr/><p:nvPr/></p:nvGrpSpPr><p:grpSpPr/>`
	slideTail = `</p:spTree></p:cSld></p:sld>`
	relsHead  = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`
	relsTail  = `</Relationships>`
	relBase   = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/"

	ctChart    = "application/vnd.openxmlformats-officedocument.drawingml.chart+xml"
	ctComments = "application/vnd.openxmlformats-officedocument.presentationml.comments+xml"
)

func textShape(id int, name string, paras ...string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `<p:sp><p:nvSpPr><p:cNvPr id="%d" name="%s"/><p:cNvSpPr/><p:nvPr/></p:nvSpPr>`, id, name)
	sb.WriteString(`<p:spPr><a:xfrm><a:off x="0" y="0"/><a:ext cx="500" cy="100"/></a:xfrm></p:spPr><p:txBody><a:bodyPr/><a:lstStyle/>`)
	for _, p := range paras {
		fmt.Fprintf(&sb, `<a:p><a:r><a:rPr lang="zh-CN" sz="2400"/><a:t>%s</a:t></a:r><a:endParaRPr lang="zh-CN"/></a:p>`, p)
	}
	sb.WriteString(`</p:txBody></p:sp>`)
	return sb.String()
}

func boxShape(id int, name string, x, y, cx, cy int) string {
	return fmt.Sprintf(`<p:sp><p:nvSpPr><p:cNvPr id="%d" name="%s"/><p:cNvSpPr/><p:nvPr/></p:nvSpPr><p:spPr><a:xfrm><a:off x="%d" y="%d"/><a:ext cx="%d" cy="%d"/></a:xfrm></p:spPr></p:sp>`, id, name, x, y, cx, cy)
}

func group(id int, name string, children ...string) string {
	return fmt.Sprintf(`<p:grpSp><p:nvGrpSpPr><p:cNvPr id="%d" name="%s"/><p:cNvGrpSpPr/><p:nvPr/></p:nvGrpSpPr><p:grpSpPr/>%s</p:grpSp>`, id, name, strings.Join(children, ""))
}

// buildTemplate は3ページのテンプレートデッキを組み立てるのだ。
// sldIdLst の順序はファイル名と異なり、ページ2が slide3.xml、ページ3が slide2.xml なのだ。
func buildTemplate(t *testing.T) []byte {
	t.Helper()
	parts := map[string]string{
		contentTypesPart: `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/><Default Extension="xml" ContentType="application/xml"/>` +
			`<Override PartName="/ppt/presentation.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.presentation.main+xml"/>` +
			`<Override PartName="/ppt/slides/slide1.xml" ContentType="` + ctSlide + `"/>` +
			`<Override PartName="/ppt/slides/slide2.xml" ContentType="` + ctSlide + `"/>` +
			`<Override PartName="/ppt/slides/slide3.xml" ContentType="` + ctSlide + `"/>` +
			`<Override PartName="/ppt/notesSlides/notesSlide1.xml" ContentType="application/vnd.openxmlformats-officedocument.presentationml.notesSlide+xml"/>` +
			`<Override PartName="/ppt/tags/tag1.xml" ContentType="` + ctTags + `"/>` +
			`<Default Extension="xlsx" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"/>` +
			`<Override PartName="/ppt/charts/chart1.xml" ContentType="` + ctChart + `"/>` +
			`<Override PartName="/ppt/charts/style1.xml" ContentType="application/vnd.ms-office.chartstyle+xml"/>` +
			`<Override PartName="/ppt/comments/comment1.xml" ContentType="` + ctComments + `"/>` +
			`<Override PartName="/docProps/app.xml" ContentType="application/vnd.openxmlformats-officedocument.extended-properties+xml"/></Types>`,
		"docProps/app.xml": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?><Properties xmlns="http://schemas.openxmlformats.org/officeDocument/2006/extended-properties"><Slides>3</Slides><Notes>1</Notes></Properties>`,
		presentationPart: `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:presentation xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">` +
			`<p:sldMasterIdLst><p:sldMasterId id="2147483648" r:id="rId1"/></p:sldMasterIdLst>` +
			`<p:sldIdLst><p:sldId id="256" r:id="rId2"/><p:sldId id="257" r:id="rId4"/><p:sldId id="258" r:id="rId3"/></p:sldIdLst>` +
			`<p:sldSz cx="9144000" cy="6858000"/>` +
			`<p:extLst><p:ext uri="{521415D9-36F7-43E2-AB2F-B90AF26B5E84}"><p14:sectionLst xmlns:p14="http://schemas.microsoft.com/office/powerpoint/2010/main"><p14:section name="默认节" id="{00000000-0000-0000-0000-000000000001}"><p14:sldIdLst><p14:sldId id="256"/></p14:sldIdLst></p14:section></p14:sectionLst></p:ext></p:extLst></p:presentation>`,
		"ppt/_rels/presentation.xml.rels": relsHead +
			`<Relationship Id="rId1" Type="` + relBase + `slideMaster" Target="slideMasters/slideMaster1.xml"/>` +
			`<Relationship Id="rId2" Type="` + relBase + `slide" Target="slides/slide1.xml"/>` +
			`<Relationship Id="rId3" Type="` + relBase + `slide" Target="slides/slide2.xml"/>` +
			`<Relationship Id="rId4" Type="` + relBase + `slide" Target="slides/slide3.xml"/>` + relsTail,
		"ppt/slideMasters/slideMaster1.xml": `<p:sldMaster xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"/>`,

		// ページ1: 表紙
		"ppt/slides/slide1.xml": slideHead + textShape(2, "标题", "课程名称占位") + textShape(3, "讲师", "讲师占位") + slideTail,
		"ppt/slides/_rels/slide1.xml.rels": relsHead +
			`<Relationship Id="rId1" Type="` + relBase + `slideLayout" Target="../slideLayouts/slideLayout1.xml"/>` + relsTail,

		// ページ2: 図文ページ（ノート付き）
		"ppt/slides/slide3.xml": slideHead +
			textShape(2, "标题", "标题占位") +
			group(10, "内容组",
				textShape(11, "正文", "第一段占位", "第二段占位"),
				boxShape(12, "图片框", 1000, 2000, 1000, 1000),
				textShape(13, "备注", "左侧备注"),
			) +
			group(20, "侧栏", textShape(21, "备注", "右侧备注")) +
			slideTail,
		"ppt/slides/_rels/slide3.xml.rels": relsHead +
			`<Relationship Id="rId1" Type="` + relBase + `slideLayout" Target="../slideLayouts/slideLayout2.xml"/>` +
			`<Relationship Id="rId2" Type="` + relBase + `notesSlide" Target="../notesSlides/notesSlide1.xml"/>` + relsTail,
		"ppt/notesSlides/notesSlide1.xml": `<p:notes xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"/>`,

		// ページ3: 本文と画像プレースホルダー（タグ付き）
		"ppt/slides/slide2.xml": slideHead +
			textShape(2, "正文", "正文占位") +
			`<p:sp><p:nvSpPr><p:cNvPr id="3" name="配图"/><p:cNvSpPr><a:spLocks noGrp="1"/></p:cNvSpPr><p:nvPr><p:ph type="pic" idx="1"/></p:nvPr></p:nvSpPr><p:spPr/></p:sp>` +
			slideTail,
		"ppt/slides/_rels/slide2.xml.rels": relsHead +
			`<Relationship Id="rId1" Type="` + relBase + `slideLayout" Target="../slideLayouts/slideLayout3.xml"/>` +
			`<Relationship Id="rId2" Type="` + relBase + `tags" Target="../tags/tag1.xml"/>` +
			`<Relationship Id="rId3" Type="` + relBase + `chart" Target="../charts/chart1.xml"/>` +
			`<Relationship Id="rId4" Type="` + relBase + `comments" Target="../comments/comment1.xml"/>` + relsTail,
		"ppt/tags/tag1.xml":     `<p:tagLst xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"><p:tag name="KIND" val="content"/></p:tagLst>`,
		"ppt/charts/chart1.xml": `<c:chartSpace xmlns:c="http://schemas.openxmlformats.org/drawingml/2006/chart"/>`,
		"ppt/charts/_rels/chart1.xml.rels": relsHead +
			`<Relationship Id="rId1" Type="` + relBase + `package" Target="../embeddings/workbook1.xlsx"/>` +
			`<Relationship Id="rId2" Type="http://schemas.microsoft.com/office/2011/relationships/chartStyle" Target="style1.xml"/>` + relsTail,
		"ppt/charts/style1.xml":         `<cs:chartStyle xmlns:cs="http://schemas.microsoft.com/office/drawing/2012/chartStyle"/>`,
		"ppt/embeddings/workbook1.xlsx": "PK-not-a-real-workbook",
		"ppt/comments/comment1.xml":     `<p:cmLst xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"/>`,
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range parts {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func loadTemplate(t *testing.T) *Template {
	t.Helper()
	data := buildTemplate(t)
	tmpl, err := ReadTemplate(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	return tmpl
}

func testManifest(t *testing.T, override ...manifest.PageSpec) *manifest.Manifest {
	t.Helper()
	specs := []manifest.PageSpec{
		{TemplatePageNum: 1, PageType: "封面", TextSlots: 2, Fields: []manifest.Field{
			{Name: "课程名称", Locator: "标题", Kind: manifest.KindText},
			{Name: "主讲教师", Locator: "讲师", Kind: manifest.KindText},
		}},
		{TemplatePageNum: 2, PageType: "图文页", TextSlots: 2, ImageSlots: 1, Fields: []manifest.Field{
			{Name: "标题", Locator: "标题", Kind: manifest.KindText},
			{Name: "正文", Locator: "内容组/正文", Kind: manifest.KindText},
			{Name: "配图", Locator: "/内容组/图片框/", Kind: manifest.KindImage},
		}},
		{TemplatePageNum: 3, PageType: "正文页", TextSlots: 1, ImageSlots: 1, Fields: []manifest.Field{
			{Name: "正文", Locator: "正文", Kind: manifest.KindText},
			{Name: "配图", Locator: "配图", Kind: manifest.KindImage},
		}},
	}
	for _, o := range override {
		for i := range specs {
			if specs[i].TemplatePageNum == o.TemplatePageNum {
				specs[i] = o
			}
		}
		if o.TemplatePageNum > len(specs) {
			specs = append(specs, o)
		}
	}
	m, err := manifest.New(specs)
	require.NoError(t, err)
	return m
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func shapeByPath(t *testing.T, so SlideOutline, p string) ShapeInfo {
	t.Helper()
	for _, s := range so.Shapes {
		if s.Path == p {
			return s
		}
	}
	t.Fatalf("スライド %d に図形 %q がないのだ", so.Page, p)
	return ShapeInfo{}
}

func TestReadTemplate_Order(t *testing.T) {
	tmpl := loadTemplate(t)
	assert.Equal(t, 3, tmpl.NumPages())

	outline, err := tmpl.Outline()
	require.NoError(t, err)
	require.Len(t, outline, 3)
	assert.Equal(t, "ppt/slides/slide3.xml", outline[1].Part, "ページ番号は sldIdLst の順なのだ")
	assert.Equal(t, "第一段占位\n第二段占位", shapeByPath(t, outline[1], "内容组/正文").Text)
	assert.Equal(t, "grpSp", shapeByPath(t, outline[1], "侧栏").Kind)
}

func TestReadTemplate_NotZip(t *testing.T) {
	_, err := ReadTemplate(bytes.NewReader([]byte("nope")), 4)
	assert.Error(t, err)
}

func TestComposite(t *testing.T) {
	tmpl := loadTemplate(t)
	images := domain.NewImageSet(domain.NewImageAsset(1, "png", pngBytes(t, 200, 100)))
	contract := domain.Contract{Pages: []domain.PageConfig{
		{TemplatePageNum: 2, Fields: map[string]string{"标题": "栈", "正文": "定义\n性质\n应用", "配图": "doc_image_1.png"}},
		{TemplatePageNum: 1, Fields: map[string]string{"课程名称": "数据结构", "主讲教师": ""}},
		{TemplatePageNum: 2, Fields: map[string]string{"标题": "队列"}},
	}}

	out, err := New(testManifest(t)).Composite(context.Background(), tmpl, contract, images)
	require.NoError(t, err)

	deck, err := ReadTemplate(bytes.NewReader(out), int64(len(out)))
	require.NoError(t, err)
	outline, err := deck.Outline()
	require.NoError(t, err)
	require.Len(t, outline, 3, "契約のページ数とスライド数が一致するのだ")

	assert.Equal(t, "栈", shapeByPath(t, outline[0], "标题").Text)
	assert.Equal(t, "定义\n性质\n应用", shapeByPath(t, outline[0], "内容组/正文").Text)
	assert.Equal(t, "pic", shapeByPath(t, outline[0], "内容组/图片框").Kind)
	assert.Equal(t, "数据结构", shapeByPath(t, outline[1], "标题").Text)
	assert.Equal(t, "讲师占位", shapeByPath(t, outline[1], "讲师").Text, "空のフィールドはテンプレートのままなのだ")
	assert.Equal(t, "队列", shapeByPath(t, outline[2], "标题").Text)
	assert.Equal(t, "sp", shapeByPath(t, outline[2], "内容组/图片框").Kind)

	parts, err := readPackage(bytes.NewReader(out), int64(len(out)))
	require.NoError(t, err)

	slide1 := string(parts["ppt/slides/slide1.xml"])
	assert.Contains(t, slide1, `sz="2400"`, "ランの書式は残るのだ")
	assert.Contains(t, slide1, `<a:off x="1000" y="2250"/>`, "縦横比を保って中央に置くのだ")
	assert.Contains(t, slide1, `<a:ext cx="1000" cy="500"/>`)

	assert.NotContains(t, string(parts["ppt/slides/_rels/slide1.xml.rels"]), "notesSlide")
	assert.Contains(t, string(parts["ppt/slides/_rels/slide1.xml.rels"]), "../media/slidekit_image1.png")
	assert.Contains(t, parts, "ppt/media/slidekit_image1.png")
	assert.NotContains(t, parts, "ppt/notesSlides/notesSlide1.xml")

	types := string(parts[contentTypesPart])
	assert.Contains(t, types, `Extension="png"`)
	assert.NotContains(t, types, "notesSlide1.xml")

	assert.NotContains(t, string(parts[presentationPart]), "sectionLst")
	assert.Contains(t, string(parts[appPropsPart]), "<Slides>3</Slides>")

	t.Run("テンプレートは変更されないのだ", func(t *testing.T) {
		again, err := tmpl.Outline()
		require.NoError(t, err)
		assert.Equal(t, "标题占位", shapeByPath(t, again[1], "标题").Text)
	})

	t.Run("同じ入力なら同じデッキになるのだ", func(t *testing.T) {
		second, err := New(testManifest(t)).Composite(context.Background(), tmpl, contract, images)
		require.NoError(t, err)
		deck2, err := ReadTemplate(bytes.NewReader(second), int64(len(second)))
		require.NoError(t, err)
		outline2, err := deck2.Outline()
		require.NoError(t, err)
		assert.Equal(t, outline, outline2)
	})
}

func TestComposite_TagsAndPlaceholder(t *testing.T) {
	tmpl := loadTemplate(t)
	images := domain.NewImageSet(domain.NewImageAsset(1, "jpg", []byte("not-really-a-jpeg")))
	contract := domain.Contract{Pages: []domain.PageConfig{
		{TemplatePageNum: 3, Fields: map[string]string{"正文": "第一页", "配图": "doc_image_1.jpg"}},
		{TemplatePageNum: 3, Fields: map[string]string{"正文": "第二页"}},
	}}

	out, err := New(testManifest(t)).Composite(context.Background(), tmpl, contract, images)
	require.NoError(t, err)
	parts, err := readPackage(bytes.NewReader(out), int64(len(out)))
	require.NoError(t, err)

	assert.NotContains(t, parts, "ppt/tags/tag1.xml")
	assert.Contains(t, parts, "ppt/tags/slidekit_tag1.xml")
	assert.Contains(t, parts, "ppt/tags/slidekit_tag2.xml")
	assert.Contains(t, string(parts["ppt/slides/_rels/slide2.xml.rels"]), "../tags/slidekit_tag2.xml")

	slide1 := string(parts["ppt/slides/slide1.xml"])
	assert.Contains(t, slide1, "<p:pic>")
	assert.Contains(t, slide1, `<p:ph type="pic" idx="1"/>`, "幾何のないプレースホルダーは情報を引き継ぐのだ")
	assert.Contains(t, string(parts[contentTypesPart]), `Extension="jpg" ContentType="image/jpeg"`)
}

func TestComposite_SlideOwnedParts(t *testing.T) {
	tmpl := loadTemplate(t)
	contract := domain.Contract{Pages: []domain.PageConfig{
		{TemplatePageNum: 3, Fields: map[string]string{"正文": "第一页"}},
		{TemplatePageNum: 3, Fields: map[string]string{"正文": "第二页"}},
	}}

	out, err := New(testManifest(t)).Composite(context.Background(), tmpl, contract, domain.NewImageSet())
	require.NoError(t, err)
	parts, err := readPackage(bytes.NewReader(out), int64(len(out)))
	require.NoError(t, err)

	t.Run("グラフとコメントはスライドごとに別パーツなのだ", func(t *testing.T) {
		for k := 1; k <= 2; k++ {
			rels := string(parts[fmt.Sprintf("ppt/slides/_rels/slide%d.xml.rels", k)])
			assert.Contains(t, rels, fmt.Sprintf("../charts/slidekit_chart%d.xml", k))
			assert.Contains(t, rels, fmt.Sprintf("../comments/slidekit_comment%d.xml", k))
			assert.Contains(t, parts, fmt.Sprintf("ppt/charts/slidekit_chart%d.xml", k))
			assert.Contains(t, parts, fmt.Sprintf("ppt/comments/slidekit_comment%d.xml", k))
		}
		assert.NotContains(t, parts, "ppt/charts/chart1.xml")
		assert.NotContains(t, parts, "ppt/comments/comment1.xml")
	})

	t.Run("埋め込みブックも複製し、グラフのスタイルは共有するのだ", func(t *testing.T) {
		chartRels := string(parts["ppt/charts/_rels/slidekit_chart2.xml.rels"])
		assert.Contains(t, chartRels, "../embeddings/slidekit_workbook2.xlsx")
		assert.Contains(t, chartRels, `Target="style1.xml"`)
		assert.Equal(t, "PK-not-a-real-workbook", string(parts["ppt/embeddings/slidekit_workbook2.xlsx"]))
		assert.NotContains(t, parts, "ppt/embeddings/workbook1.xlsx")
		assert.Contains(t, parts, "ppt/charts/style1.xml")
	})

	t.Run("複製したパーツのコンテンツタイプを登録するのだ", func(t *testing.T) {
		types := string(parts[contentTypesPart])
		assert.Contains(t, types, `PartName="/ppt/charts/slidekit_chart2.xml" ContentType="`+ctChart+`"`)
		assert.Contains(t, types, `PartName="/ppt/comments/slidekit_comment1.xml" ContentType="`+ctComments+`"`)
		assert.NotContains(t, types, `"/ppt/charts/chart1.xml"`)
	})
}

func TestComposite_Errors(t *testing.T) {
	tmpl := loadTemplate(t)
	ctx := context.Background()
	page := func(num int, fields map[string]string) domain.Contract {
		return domain.Contract{Pages: []domain.PageConfig{{TemplatePageNum: num, Fields: fields}}}
	}

	t.Run("ロケータが見つからなければ CompositingError なのだ", func(t *testing.T) {
		m := testManifest(t, manifest.PageSpec{TemplatePageNum: 1, TextSlots: 1, Fields: []manifest.Field{
			{Name: "课程名称", Locator: "不存在", Kind: manifest.KindText},
		}})
		_, err := New(m).Composite(ctx, tmpl, page(1, nil), nil)
		require.ErrorIs(t, err, domain.ErrCompositing)
		assert.Contains(t, err.Error(), "课程名称")
	})

	t.Run("図形名が曖昧なら CompositingError なのだ", func(t *testing.T) {
		m := testManifest(t, manifest.PageSpec{TemplatePageNum: 2, TextSlots: 1, Fields: []manifest.Field{
			{Name: "备注", Locator: "备注", Kind: manifest.KindText},
		}})
		_, err := New(m).Composite(ctx, tmpl, page(2, map[string]string{"备注": "x"}), nil)
		require.ErrorIs(t, err, domain.ErrCompositing)

		m = testManifest(t, manifest.PageSpec{TemplatePageNum: 2, TextSlots: 1, Fields: []manifest.Field{
			{Name: "备注", Locator: "侧栏/备注", Kind: manifest.KindText},
		}})
		_, err = New(m).Composite(ctx, tmpl, page(2, map[string]string{"备注": "x"}), nil)
		assert.NoError(t, err)
	})

	t.Run("デッキにないページは CompositingError なのだ", func(t *testing.T) {
		m := testManifest(t, manifest.PageSpec{TemplatePageNum: 4, TextSlots: 1, Fields: []manifest.Field{
			{Name: "正文", Locator: "正文", Kind: manifest.KindText},
		}})
		_, err := New(m).Composite(ctx, tmpl, page(4, nil), nil)
		assert.ErrorIs(t, err, domain.ErrCompositing)
	})

	t.Run("画像が手元になければ CompositingError なのだ", func(t *testing.T) {
		_, err := New(testManifest(t)).Composite(ctx, tmpl, page(3, map[string]string{"配图": "doc_image_9.png"}), domain.NewImageSet())
		assert.ErrorIs(t, err, domain.ErrCompositing)
	})

	t.Run("キャンセルされたら何も返さないのだ", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		out, err := New(testManifest(t)).Composite(cctx, tmpl, page(1, nil), nil)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Nil(t, out)
	})
}

func TestSetText_ParagraphsShrink(t *testing.T) {
	tmpl := loadTemplate(t)
	contract := domain.Contract{Pages: []domain.PageConfig{
		{TemplatePageNum: 2, Fields: map[string]string{"正文": "只有一段"}},
	}}
	out, err := New(testManifest(t)).Composite(context.Background(), tmpl, contract, nil)
	require.NoError(t, err)
	deck, err := ReadTemplate(bytes.NewReader(out), int64(len(out)))
	require.NoError(t, err)
	outline, err := deck.Outline()
	require.NoError(t, err)
	assert.Equal(t, "只有一段", shapeByPath(t, outline[0], "内容组/正文").Text)
}
