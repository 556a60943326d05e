package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/shouni/go-slide-kit/internal/builder"
	"github.com/shouni/go-slide-kit/internal/worker"
	"github.com/shouni/go-slide-kit/pkg/compositor"
	"github.com/shouni/go-slide-kit/pkg/domain"
	"github.com/shouni/go-slide-kit/pkg/workflow"
)

// StdinName は --script-file - のときに使う原稿名なのだ。
const StdinName = "stdin.md"

// scriptExts はバッチでディレクトリを展開するときに拾う拡張子なのだ。
var scriptExts = []string{".docx", ".md", ".markdown", ".txt"}

// Execute は原稿からデッキまでを一度に生成するのだ。
func Execute(ctx context.Context, appCtx *builder.AppContext, stdin io.Reader, out io.Writer) error {
	req, err := runRequest(appCtx, appCtx.Options.ScriptFile, stdin)
	if err != nil {
		return err
	}

	res, err := appCtx.Workflow.Generate(ctx, req)
	if err != nil {
		return fmt.Errorf("デッキの生成に失敗しました: %w", err)
	}

	reportPlan(out, &res.PlanResult)
	fmt.Fprintf(out, "deck: %s\n", res.DeckPath)
	return nil
}

// ExecutePlanOnly は割り当てまでを実行し、JSON 契約と画像を保存するのだ。
// 保存した契約は compose でデッキにできるのだ。
func ExecutePlanOnly(ctx context.Context, appCtx *builder.AppContext, stdin io.Reader, out io.Writer) error {
	req, err := runRequest(appCtx, appCtx.Options.ScriptFile, stdin)
	if err != nil {
		return err
	}

	res, err := appCtx.Workflow.Plan(ctx, req)
	if err != nil {
		return fmt.Errorf("割り当てに失敗しました: %w", err)
	}

	reportPlan(out, res)
	fmt.Fprintf(out, "contract: %s\n", res.Files.ContractPath)
	return nil
}

// ExecuteComposeOnly は保存済みの JSON 契約からデッキを合成するのだ。
func ExecuteComposeOnly(ctx context.Context, appCtx *builder.AppContext, out io.Writer) error {
	opts := appCtx.Options
	if opts.ContractFile == "" {
		return errors.New("JSON 契約ファイル（--contract）を指定してほしいのだ")
	}

	res, err := appCtx.Workflow.Compose(ctx, workflow.ComposeRequest{
		Sources:      appCtx.Config.Sources(),
		ContractPath: opts.ContractFile,
		ImageDir:     opts.ImageDir,
		OutputDir:    opts.OutputDir,
	})
	if err != nil {
		return fmt.Errorf("デッキの合成に失敗しました: %w", err)
	}

	fmt.Fprintf(out, "slides: %d\n", res.Slides)
	fmt.Fprintf(out, "deck: %s\n", res.DeckPath)
	return nil
}

// ExecuteBatch は複数の原稿を独立した実行として並列に処理するのだ。
// 1本でも失敗したらエラーを返すけど、他の実行の成果物は残るのだ。
func ExecuteBatch(ctx context.Context, appCtx *builder.AppContext, paths []string, out io.Writer) error {
	scripts, err := CollectScripts(paths)
	if err != nil {
		return err
	}
	if len(scripts) == 0 {
		return errors.New("処理する原稿が見つからないのだ")
	}

	reqs := make([]workflow.RunRequest, 0, len(scripts))
	for _, path := range scripts {
		req, err := runRequest(appCtx, path, nil)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}

	items := appCtx.Workflow.GenerateBatch(ctx, reqs, appCtx.Config.Run.BatchLimit)

	var errs []error
	for _, it := range items {
		script := scripts[it.Index]
		if it.Err != nil {
			fmt.Fprintf(out, "FAIL %s: %s\n", script, describe(it.Err))
			errs = append(errs, fmt.Errorf("%s: %w", script, it.Err))
			continue
		}
		fmt.Fprintf(out, "OK   %s -> %s (%d warning(s))\n", script, it.Result.DeckPath, len(it.Result.Warnings))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d/%d 件の実行が失敗しました: %w", len(errs), len(items), errors.Join(errs...))
	}
	return nil
}

// ExecuteInspect はテンプレートの全スライドの図形パスを JSON で出力するのだ。
// マニフェストのロケータを書くときに使うのだ。
func ExecuteInspect(_ context.Context, templatePath string, out io.Writer) error {
	if templatePath == "" {
		return errors.New("テンプレートファイルを指定してほしいのだ")
	}
	tmpl, err := compositor.OpenTemplate(templatePath)
	if err != nil {
		return err
	}
	outline, err := tmpl.Outline()
	if err != nil {
		return fmt.Errorf("テンプレートの解析に失敗しました: %w", err)
	}

	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(outline)
}

// ExecuteServe は NATS JetStream のワーカーとして要求を待ち受けるのだ。
func ExecuteServe(ctx context.Context, appCtx *builder.AppContext) error {
	n := appCtx.Config.NATS
	w, err := worker.New(worker.Settings{
		URL:            n.URL,
		Stream:         n.Stream,
		RequestSubject: n.RequestSubject,
		Durable:        n.Durable,
		ScriptBucket:   n.ScriptBucket,
		DeckBucket:     n.DeckBucket,
		Workers:        n.Workers,
		Subjects: worker.Subjects{
			Completed:  n.CompletedSubject,
			DeadLetter: n.DLQSubject,
		},
		Sources: appCtx.Config.Sources(),
	}, appCtx.Workflow)
	if err != nil {
		return err
	}
	defer w.Close()

	return w.Run(ctx)
}

// CollectScripts はファイルとディレクトリの並びを原稿ファイルの一覧に展開するのだ。
// ディレクトリ直下の対応拡張子だけを名前順に拾い、重複は除くのだ。
func CollectScripts(paths []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("原稿 '%s' が見つかりません: %w", p, err)
		}
		if !info.IsDir() {
			add(p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("ディレクトリ '%s' の読み込みに失敗しました: %w", p, err)
		}
		for _, e := range entries {
			if e.IsDir() || !isScript(e.Name()) {
				continue
			}
			add(filepath.Join(p, e.Name()))
		}
	}
	return out, nil
}

func isScript(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return slices.Contains(scriptExts, ext) && !strings.HasPrefix(name, "~$")
}

// runRequest は設定と原稿パスから実行要求を作るのだ。"-" は標準入力なのだ。
func runRequest(appCtx *builder.AppContext, scriptPath string, stdin io.Reader) (workflow.RunRequest, error) {
	req := workflow.RunRequest{
		Sources:    appCtx.Config.Sources(),
		Overrides:  appCtx.Config.Overrides(appCtx.Options),
		UserPrompt: appCtx.Options.UserPrompt,
	}

	switch scriptPath {
	case "":
		return req, errors.New("原稿ファイル（--script-file）を指定してほしいのだ")
	case "-":
		if stdin == nil {
			return req, errors.New("標準入力が使えないのだ")
		}
		data, err := io.ReadAll(stdin)
		if err != nil {
			return req, fmt.Errorf("標準入力の読み込みに失敗しました: %w", err)
		}
		req.Script = data
		req.ScriptName = StdinName
	default:
		req.ScriptPath = scriptPath
	}
	return req, nil
}

// reportPlan は実行の要約と警告を出力するのだ。
func reportPlan(out io.Writer, res *workflow.PlanResult) {
	fmt.Fprintf(out, "run: %s\n", res.RunID)
	fmt.Fprintf(out, "mode: %s (attempts: %d)\n", res.Mode, res.Attempts)
	fmt.Fprintf(out, "pages: %v\n", res.Contract.PageNumbers())
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	slog.Debug("実行ディレクトリ", "path", res.RunDir)
}

// describe は種別名が分かるエラーはその名前を先頭に付けるのだ。
func describe(err error) string {
	if kind := domain.KindOf(err); kind != "" && !strings.HasPrefix(err.Error(), kind) {
		return kind + ": " + err.Error()
	}
	return err.Error()
}
