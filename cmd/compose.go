package cmd

import (
	"fmt"

	"github.com/shouni/go-slide-kit/internal/pipeline"

	"github.com/spf13/cobra"
)

// composeCmd は、保存済みの JSON 契約からデッキを合成するのだ。
var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "JSON 契約からスライドデッキを合成するのだ。",
	Long: `plan で出力した（または手で編集した）JSON 契約を検証し、テンプレートデッキに
流し込んで PPTX を出力するのだ。画像は契約と同じ場所の images/ から読むのだよ。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx, err := loadAppContext(cmd)
		if err != nil {
			return err
		}
		if err := pipeline.ExecuteComposeOnly(cmd.Context(), appCtx, cmd.OutOrStdout()); err != nil {
			return fmt.Errorf("合成中にエラーが発生したのだ: %w", err)
		}
		return nil
	},
}

func init() {
	composeCmd.Flags().StringVarP(&opts.ContractFile, "contract", "c", "", "JSON 契約ファイルのパスなのだ。")
	composeCmd.Flags().StringVar(&opts.ImageDir, "image-dir", "", "画像ディレクトリなのだ（既定: 契約と同じ場所の images/）。")
	composeCmd.Flags().StringVarP(&opts.OutputDir, "output-dir", "o", "", "デッキの出力先なのだ（既定: 契約と同じディレクトリ）。")
}
