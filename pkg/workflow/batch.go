package workflow

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// GenerateBatch は複数の原稿を並列に処理するのだ。
// 各実行は独立していて、1本が失敗しても他の実行は止めないのだ。
// limit が 0 以下なら設定の BatchLimit を使うのだ。結果は reqs と同じ順に並ぶのだ。
func (m *Manager) GenerateBatch(ctx context.Context, reqs []RunRequest, limit int) []BatchItem {
	if limit <= 0 {
		limit = m.cfg.BatchLimit
	}
	items := make([]BatchItem, len(reqs))

	var eg errgroup.Group
	eg.SetLimit(limit)
	for i, req := range reqs {
		eg.Go(func() error {
			items[i].Index = i
			if err := ctx.Err(); err != nil {
				items[i].Err = err
				return nil
			}
			res, err := m.Generate(ctx, req)
			if err != nil {
				slog.Error("バッチ内の実行が失敗しました", "index", i, "error", err)
				items[i].Err = err
				return nil
			}
			items[i].Result = res
			return nil
		})
	}
	_ = eg.Wait()

	failed := 0
	for _, it := range items {
		if it.Err != nil {
			failed++
		}
	}
	slog.Info("バッチ処理が完了しました", slog.Int("total", len(reqs)), slog.Int("failed", failed))
	return items
}
