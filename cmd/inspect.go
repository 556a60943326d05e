package cmd

import (
	"github.com/shouni/go-slide-kit/internal/pipeline"

	"github.com/spf13/cobra"
)

// inspectCmd は、テンプレートデッキの図形パスを一覧するのだ。
var inspectCmd = &cobra.Command{
	Use:   "inspect [template.pptx]",
	Short: "テンプレートの各スライドの図形パスを JSON で出力するのだ。",
	Long: `マニフェストの locator を書くために、テンプレートの全スライドについて
図形のパス（グループ名/図形名）と種類、テキストを出力するのだ。`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		path := cfg.Template.Deck
		if len(args) == 1 {
			path = args[0]
		}
		return pipeline.ExecuteInspect(cmd.Context(), path, cmd.OutOrStdout())
	},
}
