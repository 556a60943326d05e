package workflow

import (
	"time"

	"github.com/shouni/go-slide-kit/pkg/assign"
)

// デフォルト値の定義なのだ
const (
	DefaultWorkDir    = "output"
	DefaultBatchLimit = 4
)

// Config は1回の実行に使う設定なのだ。
// Manager 生成時に値として受け取り、実行中にグローバルな設定を読むことはないのだ。
type Config struct {
	// --- Assignment Settings ---
	Mode           assign.Mode
	Flow           assign.Flow
	Delimiter      string
	Retries        int
	PlannerTimeout time.Duration
	PrependCover   bool

	// --- Storage & Output Settings ---
	WorkDir     string
	KeepWorkDir bool
	DeckName    string

	// --- Batch Settings ---
	BatchLimit int
}

// DefaultConfig は推奨されるデフォルト設定を返すヘルパー関数なのだ。
func DefaultConfig() Config {
	opts := assign.DefaultOptions()
	return Config{
		Mode:           opts.Mode,
		Flow:           opts.Flow,
		Delimiter:      opts.Delimiter,
		Retries:        opts.Retries,
		PlannerTimeout: opts.PlannerTimeout,
		PrependCover:   opts.PrependCover,
		WorkDir:        DefaultWorkDir,
		BatchLimit:     DefaultBatchLimit,
	}
}

// engineOptions は割り当てエンジン用の Options に変換するのだ。
func (c Config) engineOptions() assign.Options {
	return assign.Options{
		Mode:           c.Mode,
		Flow:           c.Flow,
		Delimiter:      c.Delimiter,
		Retries:        c.Retries,
		PlannerTimeout: c.PlannerTimeout,
		PrependCover:   c.PrependCover,
	}
}
