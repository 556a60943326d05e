package publisher

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shouni/go-slide-kit/pkg/asset"
	"github.com/shouni/go-slide-kit/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleContract() domain.Contract {
	return domain.Contract{Pages: []domain.PageConfig{
		{PageType: "图文页", TemplatePageNum: 3, Fields: map[string]string{"正文": "栈", "配图": "doc_image_1.png"}},
	}}
}

func TestArtifactPublisher_PublishPlan(t *testing.T) {
	dir := t.TempDir()
	p := NewArtifactPublisher(nil)
	images := domain.NewImageSet(
		domain.NewImageAsset(1, "png", []byte("png")),
		domain.NewImageAsset(2, "jpg", nil),
	)

	res, err := p.PublishPlan(context.Background(), PlanArtifacts{
		Contract:        sampleContract(),
		Images:          images,
		AnnotatedScript: "【PPT3】栈",
	}, Options{OutputDir: dir})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, asset.DefaultContractJSON), res.ContractPath)
	assert.Equal(t, []string{filepath.Join(dir, asset.DefaultImageDir, "doc_image_1.png")}, res.ImagePaths, "空の画像は保存しないのだ")

	f, err := os.Open(res.ContractPath)
	require.NoError(t, err)
	defer f.Close()
	got, err := domain.DecodeContract(f)
	require.NoError(t, err)
	assert.Equal(t, sampleContract(), got)

	script, err := os.ReadFile(res.AnnotatedScriptPath)
	require.NoError(t, err)
	assert.Equal(t, "【PPT3】栈", string(script))
}

func TestArtifactPublisher_PublishPlan_NoAnnotatedScript(t *testing.T) {
	dir := t.TempDir()
	res, err := NewArtifactPublisher(nil).PublishPlan(context.Background(), PlanArtifacts{Contract: sampleContract()}, Options{OutputDir: dir})
	require.NoError(t, err)
	assert.Empty(t, res.AnnotatedScriptPath)
	assert.NoFileExists(t, filepath.Join(dir, asset.DefaultAnnotatedScript))
}

func TestArtifactPublisher_PublishDeck(t *testing.T) {
	dir := t.TempDir()
	p := NewArtifactPublisher(nil)

	t.Run("既定の名前で保存されるのだ", func(t *testing.T) {
		path, err := p.PublishDeck(context.Background(), []byte("deck"), Options{OutputDir: dir})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, asset.DefaultDeckName), path)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "deck", string(data))
	})

	t.Run("空のデッキはエラーなのだ", func(t *testing.T) {
		_, err := p.PublishDeck(context.Background(), nil, Options{OutputDir: dir, DeckName: "empty.pptx"})
		require.Error(t, err)
		assert.NoFileExists(t, filepath.Join(dir, "empty.pptx"))
	})
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestLocalWriter_Write(t *testing.T) {
	dir := t.TempDir()
	w := NewLocalWriter()

	t.Run("途中で失敗したらファイルを残さないのだ", func(t *testing.T) {
		target := filepath.Join(dir, "broken.pptx")
		err := w.Write(context.Background(), target, io.MultiReader(strings.NewReader("half"), failingReader{}), contentTypeDeck)
		require.Error(t, err)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries, "一時ファイルも消えているのだ")
	})

	t.Run("キャンセル済みなら書き込まないのだ", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		target := filepath.Join(dir, "cancelled.pptx")
		err := w.Write(ctx, target, strings.NewReader("deck"), contentTypeDeck)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NoFileExists(t, target)
	})
}
