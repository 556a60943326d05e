package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shouni/go-slide-kit/internal/builder"
	"github.com/shouni/go-slide-kit/internal/config"
	"github.com/shouni/go-slide-kit/pkg/assign"

	"github.com/spf13/cobra"
)

// opts は全コマンドで共有する CLI フラグの値なのだ。
var opts config.GenerateOptions

var rootCmd = &cobra.Command{
	Use:   "slidekit",
	Short: "講義原稿から PPTX テンプレートに沿ったスライドを生成するのだ。",
	Long: `講義原稿（DOCX / Markdown / テキスト）を分割し、マーカーまたは LLM プランナーで
テンプレートページへ割り当て、JSON 契約を経由して PPTX デッキを合成するのだ。`,
	SilenceUsage:      true,
	PersistentPreRunE: preRunAppE,
}

// addAppFlags は、アプリケーション全般に適用されるグローバルフラグを定義するのだ。
func addAppFlags(rootCmd *cobra.Command) {
	pf := rootCmd.PersistentFlags()

	// --- 設定・ログ ---
	pf.StringVar(&opts.ConfigFile, "config", "", "TOML 設定ファイルのパスなのだ（既定: ./"+config.DefaultConfigFilename+"）。")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "デバッグログを出すのだ。")

	// --- ソース入力関連 ---
	pf.StringVarP(&opts.ScriptFile, "script-file", "f", "", "原稿ファイルのパス（'-'で標準入力なのだ）。")
	pf.StringVar(&opts.UserPrompt, "user-prompt", "", "この実行だけプランナーに追加で渡す指示なのだ。")

	// --- テンプレート ---
	pf.StringVar(&opts.Manifest, config.FlagManifest, config.DefaultManifestFile, "テンプレートマニフェスト（JSON / YAML）なのだ。")
	pf.StringVar(&opts.AllowList, config.FlagAllowList, "", "使用を許可するテンプレートページ番号のリストなのだ。")
	pf.StringVar(&opts.Template, config.FlagTemplate, config.DefaultTemplateFile, "テンプレートデッキ（.pptx）なのだ。")
	pf.StringVar(&opts.WorkDir, config.FlagWorkDir, "", "実行ディレクトリを作る場所なのだ。")

	// --- プランナー ---
	pf.StringVar(&opts.Provider, config.FlagProvider, config.DefaultProvider, "プランナーのプロバイダなのだ（none でマーカーのみ）。")
	pf.StringVar(&opts.Model, config.FlagModel, "", "プランナーのモデル名なのだ。")
	pf.StringVar(&opts.BaseURL, config.FlagBaseURL, "", "OpenAI 互換 API のベース URL なのだ。")
	pf.IntVar(&opts.TimeoutSeconds, config.FlagTimeout, config.DefaultLLMTimeout, "LLM 呼び出しのタイムアウト秒数なのだ。")

	// --- 割り当て ---
	pf.StringVarP(&opts.Mode, config.FlagMode, "m", string(assign.ModeAuto), "割り当てモードなのだ（auto / marker / planner）。")
	pf.StringVar(&opts.Flow, config.FlagFlow, string(assign.FlowDirect), "プランナーの手順なのだ（direct / rewrite）。")
	pf.StringVar(&opts.Delimiter, config.FlagDelimiter, "", "ブロックの区切り文字列なのだ。")
	pf.BoolVar(&opts.NoCover, config.FlagNoCover, false, "表紙ページを自動で先頭に付けないのだ。")
	pf.BoolVar(&opts.KeepWorkDir, config.FlagKeepWorkDir, false, "失敗しても実行ディレクトリを残すのだ。")

	// --- メタデータの上書き ---
	pf.StringVar(&opts.Course, config.FlagCourse, "", "課程名を上書きするのだ。")
	pf.StringVar(&opts.College, config.FlagCollege, "", "学院名を上書きするのだ。")
	pf.StringVar(&opts.Lecturer, config.FlagLecturer, "", "講師名を上書きするのだ。")
}

// preRunAppE は、コマンド実行前にログの出力先とレベルを決めるのだ。
func preRunAppE(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	return nil
}

// loadConfig は設定ファイルと環境変数を読み、変更されたフラグを重ねるのだ。
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	cfg.ApplyOptions(opts, cmd.Flags().Changed)
	return cfg, nil
}

// loadAppContext は設定を読み込んでプランナーとワークフローを組み立てるのだ。
func loadAppContext(cmd *cobra.Command) (*builder.AppContext, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	appCtx, err := builder.Build(cmd.Context(), cfg, opts)
	if err != nil {
		return nil, err
	}
	slog.Debug("設定を読み込んだのだ",
		"provider", cfg.LLM.Provider,
		"mode", cfg.Run.Mode,
		"flow", cfg.Run.Flow,
		"manifest", cfg.Template.Manifest,
		"template", cfg.Template.Deck,
		"work_dir", cfg.Run.WorkDir,
	)
	return appCtx, nil
}

func init() {
	addAppFlags(rootCmd)
	rootCmd.AddCommand(generateCmd, planCmd, composeCmd, batchCmd, inspectCmd, serveCmd)
}

// Execute は、アプリケーションのメインエントリポイントなのだ。
// main.go から呼び出されて、cobra のコマンドライン解析を開始するのだよ。
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "エラー:", err)
		os.Exit(1)
	}
}
