package cmd

import (
	"fmt"
	"log/slog"

	"github.com/shouni/go-slide-kit/internal/pipeline"

	"github.com/spf13/cobra"
)

// generateCmd は、原稿から PPTX デッキまでを一度に生成するのだ。
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "原稿からスライドデッキを生成するのだ。",
	Long: `原稿を解析してテンプレートページへ割り当て、JSON 契約と抽出画像を保存したうえで
PPTX デッキを合成するのだ。成果物は作業ディレクトリ配下の run-* に出力されるのだよ。`,
	Args: cobra.MaximumNArgs(1),
	RunE: generateCommand,
}

func generateCommand(cmd *cobra.Command, args []string) error {
	if opts.ScriptFile == "" && len(args) == 1 {
		opts.ScriptFile = args[0]
	}
	appCtx, err := loadAppContext(cmd)
	if err != nil {
		return err
	}

	slog.Info("スライド生成パイプラインを起動するのだ！",
		"script", opts.ScriptFile,
		"mode", appCtx.Config.Run.Mode,
		"provider", appCtx.Config.LLM.Provider,
	)

	if err := pipeline.Execute(cmd.Context(), appCtx, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
		return fmt.Errorf("パイプライン実行中にエラーが発生したのだ: %w", err)
	}

	slog.Info("すべての生成工程が完了したのだ！")
	return nil
}
