package cmd

import (
	"github.com/shouni/go-slide-kit/internal/pipeline"

	"github.com/spf13/cobra"
)

// batchCmd は、複数の原稿を独立した実行として並列に処理するのだ。
var batchCmd = &cobra.Command{
	Use:   "batch <script-or-dir>...",
	Short: "複数の原稿からそれぞれデッキを生成するのだ。",
	Long: `ファイルやディレクトリ（直下の .docx / .md / .txt）を並列に処理するのだ。
各実行は別々の run-* ディレクトリを持ち、1本の失敗が他の実行を止めることはないのだよ。`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx, err := loadAppContext(cmd)
		if err != nil {
			return err
		}
		return pipeline.ExecuteBatch(cmd.Context(), appCtx, args, cmd.OutOrStdout())
	},
}

func init() {
	batchCmd.Flags().IntVarP(&opts.BatchLimit, "limit", "l", 0, "同時に実行する数の上限なのだ（0 で設定値）。")
}
