package planner

import (
	"context"

	"github.com/shouni/go-slide-kit/pkg/domain"
	"github.com/shouni/go-slide-kit/pkg/manifest"
)

// Capabilities はプランナーごとの能力フラグなのだ。
// エンジンはプロバイダ名ではなく、この値だけを見て振る舞いを変えるのだ。
type Capabilities struct {
	// SupportsImages が true なら抽出画像そのものをプロンプトに添付するのだ。
	SupportsImages bool
}

// Request はプランナーに渡す一回分の依頼なのだ。
type Request struct {
	Blocks       []domain.ScriptBlock
	Pages        []manifest.PageSpec // 今回使えるテンプレートページ（許可リスト適用済み）
	Images       *domain.ImageSet
	Instructions string
	// Violations は前回の出力で見つかった違反です。再試行のときだけ設定されるのだ。
	Violations []domain.Violation
}

// Planner はブロック列をテンプレートページへ割り当てる外部協調者の契約です。
type Planner interface {
	Name() string
	Capabilities() Capabilities
	// Plan は候補の JSON 契約を返します。検証は呼び出し側の責務なのだ。
	Plan(ctx context.Context, req Request) (domain.Contract, error)
}

// ScriptRewriter は、原稿にマーカーを書き込んだ中間稿を返せるプランナーの追加能力なのだ。
type ScriptRewriter interface {
	RewriteScript(ctx context.Context, req Request) (string, error)
}
