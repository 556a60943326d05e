package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/shouni/go-slide-kit/pkg/asset"
	"github.com/shouni/go-slide-kit/pkg/assign"
	"github.com/shouni/go-slide-kit/pkg/compositor"
	"github.com/shouni/go-slide-kit/pkg/domain"
	"github.com/shouni/go-slide-kit/pkg/manifest"
	"github.com/shouni/go-slide-kit/pkg/parser"
	"github.com/shouni/go-slide-kit/pkg/publisher"
)

// Plan は原稿を分割・割り当てし、JSON 契約と抽出画像を新しい実行ディレクトリへ保存するのだ。
func (m *Manager) Plan(ctx context.Context, req RunRequest) (*PlanResult, error) {
	mf, err := m.res.manifest(req.Sources)
	if err != nil {
		return nil, err
	}
	out, images, err := m.runAssignment(ctx, req, mf)
	if err != nil {
		return nil, err
	}

	var result *PlanResult
	err = m.withRunDir(func(runDir asset.RunDir) error {
		var err error
		result, err = m.publishPlan(ctx, runDir, out, images)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Generate は原稿からデッキまでを一度に実行するのだ。
// どこかで失敗した場合、途中の成果物は残さないのだ（KeepWorkDir を除く）。
func (m *Manager) Generate(ctx context.Context, req RunRequest) (*GenerateResult, error) {
	mf, err := m.res.manifest(req.Sources)
	if err != nil {
		return nil, err
	}
	// テンプレートの不備は LLM を呼ぶ前に検出するのだ
	tmpl, err := m.res.template(req.TemplatePath)
	if err != nil {
		return nil, err
	}
	out, images, err := m.runAssignment(ctx, req, mf)
	if err != nil {
		return nil, err
	}

	var result *GenerateResult
	err = m.withRunDir(func(runDir asset.RunDir) error {
		plan, err := m.publishPlan(ctx, runDir, out, images)
		if err != nil {
			return err
		}
		deck, err := compositor.New(mf).Composite(ctx, tmpl, out.Contract, images)
		if err != nil {
			return err
		}
		deckPath, err := m.publisher.PublishDeck(ctx, deck, publisher.Options{OutputDir: runDir.Path, DeckName: m.cfg.DeckName})
		if err != nil {
			return err
		}
		plan.Files.DeckPath = deckPath
		result = &GenerateResult{PlanResult: *plan, DeckPath: deckPath}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("デッキの生成が完了しました",
		"run", result.RunID,
		"deck", result.DeckPath,
		slog.Int("slides", len(result.Contract.Pages)),
		slog.Int("warnings", len(result.Warnings)),
	)
	return result, nil
}

// Compose は保存済みの JSON 契約を再検証してからデッキを合成するのだ。
// 契約は外部で編集されている可能性があるので、必ず検証を通すのだ。
func (m *Manager) Compose(ctx context.Context, req ComposeRequest) (*ComposeResult, error) {
	if req.ContractPath == "" {
		return nil, fmt.Errorf("JSON契約のパスが指定されていません")
	}
	mf, err := m.res.manifest(req.Sources)
	if err != nil {
		return nil, err
	}
	tmpl, err := m.res.template(req.TemplatePath)
	if err != nil {
		return nil, err
	}

	contract, err := loadContract(req.ContractPath)
	if err != nil {
		return nil, err
	}
	baseDir := filepath.Dir(req.ContractPath)
	imageDir := req.ImageDir
	if imageDir == "" {
		imageDir = filepath.Join(baseDir, asset.DefaultImageDir)
	}
	images, err := loadImageDir(imageDir)
	if err != nil {
		return nil, err
	}

	pages, err := assign.Validate(contract.Pages, mf, images)
	if err != nil {
		return nil, err
	}
	contract.Pages = pages

	deck, err := compositor.New(mf).Composite(ctx, tmpl, contract, images)
	if err != nil {
		return nil, err
	}

	outDir := req.OutputDir
	if outDir == "" {
		outDir = baseDir
	}
	deckPath, err := m.publisher.PublishDeck(ctx, deck, publisher.Options{OutputDir: outDir, DeckName: m.cfg.DeckName})
	if err != nil {
		return nil, err
	}
	return &ComposeResult{DeckPath: deckPath, Slides: len(contract.Pages)}, nil
}

// runAssignment は原稿を読み込んで割り当てエンジンに通すのだ。
// 実行ごとにエンジンを作るので、実行間で状態を共有しないのだ。
func (m *Manager) runAssignment(ctx context.Context, req RunRequest, mf *manifest.Manifest) (*assign.Result, *domain.ImageSet, error) {
	doc, err := loadScript(req)
	if err != nil {
		return nil, nil, err
	}
	seg := parser.Segment(doc)
	slog.Info("原稿を分割しました",
		slog.Int("blocks", len(seg.Blocks)),
		slog.Int("hinted", seg.HintedBlocks()),
		slog.Int("images", seg.Images.Len()),
	)

	engine, err := assign.NewEngine(mf, m.planner, m.cfg.engineOptions())
	if err != nil {
		return nil, nil, err
	}
	out, err := engine.Assign(ctx, assign.Input{
		Blocks:     seg.Blocks,
		Metadata:   seg.Metadata,
		Overrides:  req.Overrides,
		Images:     seg.Images,
		UserPrompt: req.UserPrompt,
	})
	if err != nil {
		return nil, nil, err
	}
	return out, seg.Images, nil
}

func (m *Manager) publishPlan(ctx context.Context, runDir asset.RunDir, out *assign.Result, images *domain.ImageSet) (*PlanResult, error) {
	files, err := m.publisher.PublishPlan(ctx, publisher.PlanArtifacts{
		Contract:        out.Contract,
		Images:          images,
		AnnotatedScript: out.AnnotatedScript,
	}, publisher.Options{OutputDir: runDir.Path})
	if err != nil {
		return nil, err
	}
	return &PlanResult{
		RunID:    runDir.Name(),
		RunDir:   runDir.Path,
		Contract: out.Contract,
		Warnings: out.Warnings,
		Mode:     out.Mode,
		Metadata: out.Metadata,
		Attempts: out.Attempts,
		Images:   images,
		Files:    files,
	}, nil
}

// withRunDir は新しい実行ディレクトリで fn を実行し、失敗したらディレクトリを破棄するのだ。
func (m *Manager) withRunDir(fn func(asset.RunDir) error) error {
	runDir, err := asset.NewRunDir(m.cfg.WorkDir)
	if err != nil {
		return err
	}
	if err := fn(runDir); err != nil {
		if m.cfg.KeepWorkDir {
			slog.Warn("失敗した実行の作業ディレクトリを保持します", "dir", runDir.Path)
			return err
		}
		if rmErr := runDir.Remove(); rmErr != nil {
			return errors.Join(err, rmErr)
		}
		return err
	}
	return nil
}

func loadScript(req RunRequest) (parser.Document, error) {
	switch {
	case req.Script != nil:
		return parser.ReadBytes(req.ScriptName, req.Script)
	case req.ScriptPath != "":
		return parser.ReadFile(req.ScriptPath)
	default:
		return parser.Document{}, fmt.Errorf("原稿が指定されていません")
	}
}

func loadContract(path string) (domain.Contract, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Contract{}, fmt.Errorf("JSON契約 '%s' を開けません: %w", path, err)
	}
	defer f.Close()
	return domain.DecodeContract(f)
}

// loadImageDir は保存済みの抽出画像をファイル名の順に読み込むのだ。
// ディレクトリがなければ空の集合を返すのだ。
func loadImageDir(dir string) (*domain.ImageSet, error) {
	set := domain.NewImageSet()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return set, nil
		}
		return nil, fmt.Errorf("画像ディレクトリ '%s' を読み込めません: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("画像 '%s' を読み込めません: %w", e.Name(), err)
		}
		set.Add(domain.ImageAsset{
			Name:     e.Name(),
			MimeType: domain.MimeTypeForExt(filepath.Ext(e.Name())),
			Data:     data,
		})
	}
	return set, nil
}
