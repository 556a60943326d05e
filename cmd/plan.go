package cmd

import (
	"fmt"

	"github.com/shouni/go-slide-kit/internal/pipeline"

	"github.com/spf13/cobra"
)

// planCmd は、割り当てまでを実行して JSON 契約を保存するのだ。
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "JSON 契約（config.json）と抽出画像だけを出力するのだ。",
	Long: `原稿を割り当てて JSON 契約を保存するだけで、デッキは合成しないのだ。
契約を確認・編集してから compose コマンドでデッキにできるのだよ。`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if opts.ScriptFile == "" && len(args) == 1 {
			opts.ScriptFile = args[0]
		}
		appCtx, err := loadAppContext(cmd)
		if err != nil {
			return err
		}
		if err := pipeline.ExecutePlanOnly(cmd.Context(), appCtx, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
			return fmt.Errorf("割り当て中にエラーが発生したのだ: %w", err)
		}
		return nil
	},
}
