package cmd

import (
	"log/slog"

	"github.com/shouni/go-slide-kit/internal/pipeline"

	"github.com/spf13/cobra"
)

// serveCmd は、NATS JetStream のワーカーとして常駐するのだ。
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "NATS JetStream から実行要求を受け取るワーカーを起動するのだ。",
	Long: `要求サブジェクトをプル購読し、オブジェクトストアの原稿からデッキを生成して
デッキ用バケットに保存し、完了イベントを発行するのだ。失敗した要求はデッドレターに送るのだよ。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx, err := loadAppContext(cmd)
		if err != nil {
			return err
		}
		slog.Info("ワーカーモードで起動するのだ！", "nats", appCtx.Config.NATS.URL)
		return pipeline.ExecuteServe(cmd.Context(), appCtx)
	},
}
