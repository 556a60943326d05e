package publisher

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shouni/go-slide-kit/pkg/asset"
	"github.com/shouni/go-slide-kit/pkg/domain"
)

const (
	contentTypeJSON     = "application/json; charset=utf-8"
	contentTypeMarkdown = "text/markdown; charset=utf-8"
	contentTypeDeck     = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
)

// Options はパブリッシュ動作を制御する設定項目です。
type Options struct {
	OutputDir string
	// DeckName が空なら asset.DefaultDeckName を使うのだ。
	DeckName string
}

func (o Options) deckName() string {
	if o.DeckName != "" {
		return o.DeckName
	}
	return asset.DefaultDeckName
}

// PlanArtifacts は割り当てステージまでで確定する成果物なのだ。
type PlanArtifacts struct {
	Contract        domain.Contract
	Images          *domain.ImageSet
	AnnotatedScript string // rewrite フロー以外では空
}

// PublishResult はパブリッシュ処理の結果として生成されたファイルの情報を保持します。
type PublishResult struct {
	ContractPath        string   // JSON 契約のパス
	AnnotatedScriptPath string   // preprocessed_script.md のパス（書き出した場合のみ）
	ImagePaths          []string // 保存された全画像のパスリスト
	DeckPath            string   // 出力デッキのパス
}

// ArtifactPublisher は1回の実行の成果物の永続化を担います。
type ArtifactPublisher struct {
	writer OutputWriter
}

// NewArtifactPublisher は ArtifactPublisher を生成します。writer が nil ならローカルへ書き出すのだ。
func NewArtifactPublisher(writer OutputWriter) *ArtifactPublisher {
	if writer == nil {
		writer = NewLocalWriter()
	}
	return &ArtifactPublisher{writer: writer}
}

// PublishPlan は画像、マーカー付き原稿、JSON 契約の順に保存するのだ。
func (p *ArtifactPublisher) PublishPlan(ctx context.Context, art PlanArtifacts, opts Options) (PublishResult, error) {
	result := PublishResult{}

	imgDir, err := asset.ResolveOutputPath(opts.OutputDir, asset.DefaultImageDir)
	if err != nil {
		return result, err
	}
	savedPaths, err := p.saveImages(ctx, art.Images, imgDir)
	if err != nil {
		return result, fmt.Errorf("画像の書き込みに失敗しました: %w", err)
	}
	result.ImagePaths = savedPaths

	if strings.TrimSpace(art.AnnotatedScript) != "" {
		scriptPath, err := asset.ResolveOutputPath(opts.OutputDir, asset.DefaultAnnotatedScript)
		if err != nil {
			return result, err
		}
		if err := p.writer.Write(ctx, scriptPath, strings.NewReader(art.AnnotatedScript), contentTypeMarkdown); err != nil {
			return result, fmt.Errorf("マーカー付き原稿の書き込みに失敗しました: %w", err)
		}
		result.AnnotatedScriptPath = scriptPath
	}

	contractPath, err := asset.ResolveOutputPath(opts.OutputDir, asset.DefaultContractJSON)
	if err != nil {
		return result, err
	}
	var buf bytes.Buffer
	if err := art.Contract.Encode(&buf); err != nil {
		return result, err
	}
	if err := p.writer.Write(ctx, contractPath, &buf, contentTypeJSON); err != nil {
		return result, fmt.Errorf("JSON契約の書き込みに失敗しました: %w", err)
	}
	result.ContractPath = contractPath

	slog.Info("Plan artifacts published",
		"contract", contractPath,
		"images", len(savedPaths),
	)
	return result, nil
}

// PublishDeck は合成済みデッキを保存し、そのパスを返すのだ。
func (p *ArtifactPublisher) PublishDeck(ctx context.Context, deck []byte, opts Options) (string, error) {
	if len(deck) == 0 {
		return "", fmt.Errorf("保存するデッキが空です")
	}
	deckPath, err := asset.ResolveOutputPath(opts.OutputDir, opts.deckName())
	if err != nil {
		return "", err
	}
	if err := p.writer.Write(ctx, deckPath, bytes.NewReader(deck), contentTypeDeck); err != nil {
		return "", fmt.Errorf("デッキの書き込みに失敗しました: %w", err)
	}
	slog.Info("Deck published", "path", deckPath, slog.Int("bytes", len(deck)))
	return deckPath, nil
}

// saveImages は抽出画像を原稿順に保存し、そのパスを返します。
func (p *ArtifactPublisher) saveImages(ctx context.Context, images *domain.ImageSet, baseDir string) ([]string, error) {
	var paths []string
	for _, img := range images.All() {
		if len(img.Data) == 0 {
			continue
		}
		fullPath, err := asset.ResolveOutputPath(baseDir, img.Name)
		if err != nil {
			return nil, fmt.Errorf("出力パスの解決に失敗しました: %w", err)
		}
		if err := p.writer.Write(ctx, fullPath, bytes.NewReader(img.Data), img.MimeType); err != nil {
			return nil, fmt.Errorf("画像の書き込みに失敗しました %s: %w", fullPath, err)
		}
		paths = append(paths, fullPath)
	}
	return paths, nil
}
