package planner

import (
	"context"

	"github.com/shouni/go-slide-kit/pkg/domain"
)

// Prompt はモデルに送る一回分の入力なのだ。
type Prompt struct {
	Text   string
	Images []domain.ImageAsset // 空ならテキストのみ
}

// Model はテキスト生成モデルへの最小限の呼び出し口です。
// プロバイダ固有のリクエスト整形はこの実装側に閉じ込めるのだ。
type Model interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// ModelFunc は関数を Model として使うためのアダプタなのだ。
type ModelFunc func(ctx context.Context, prompt Prompt) (string, error)

// Generate は f(ctx, prompt) を呼ぶのだ。
func (f ModelFunc) Generate(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}
