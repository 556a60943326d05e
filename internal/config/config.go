package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shouni/go-slide-kit/pkg/assign"
	"github.com/shouni/go-slide-kit/pkg/domain"
	"github.com/shouni/go-slide-kit/pkg/planner"
	"github.com/shouni/go-slide-kit/pkg/workflow"

	"github.com/pelletier/go-toml/v2"
	"github.com/shouni/go-utils/envutil"
)

// デフォルト値の定義なのだ
const (
	DefaultConfigFilename   = "slidekit.toml"
	DefaultProvider         = ProviderNone
	DefaultLLMTimeout       = 120 // 秒
	DefaultManifestFile     = "template/manifest.json"
	DefaultTemplateFile     = "template/template.pptx"
	DefaultNATSURL          = "nats://127.0.0.1:4222"
	DefaultRequestSubject   = "slidekit.run.requested"
	DefaultCompletedSubject = "slidekit.run.completed"
	DefaultDLQSubject       = "slidekit.run.dead"
	DefaultStream           = "SLIDEKIT"
	DefaultDurable          = "slidekit-worker"
	DefaultScriptBucket     = "slidekit-scripts"
	DefaultDeckBucket       = "slidekit-decks"
	DefaultWorkers          = 2
)

// ProviderNone はプランナーを使わない（マーカーのみ）ことを表すのだ。
const ProviderNone = "none"

// providerKeyEnv はプロバイダごとの API キー環境変数なのだ。
var providerKeyEnv = map[string]string{
	"openai":   "OPENAI_API_KEY",
	"deepseek": "DEEPSEEK_API_KEY",
	"gemini":   "GEMINI_API_KEY",
	"taichu":   "TAICHU_API_KEY",
	"glm":      "ZHIPU_API_KEY",
	"zhipu":    "ZHIPU_API_KEY",
}

// Config はアプリケーション全体の設定を保持する構造体なのだ。
// 既定値 < TOML ファイル < 環境変数 < CLI フラグ の順に上書きされるのだ。
type Config struct {
	LLM      LLMSettings      `toml:"llm"`
	Run      RunSettings      `toml:"run"`
	Template TemplateSettings `toml:"template"`
	NATS     NATSSettings     `toml:"nats"`
}

// LLMSettings はプランナーの設定なのだ。
type LLMSettings struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	// APIKeyVariable は API キーを保持する環境変数名なのだ。キーそのものはファイルに書かないのだ。
	APIKeyVariable      string   `toml:"api_key_variable"`
	APIKey              string   `toml:"-"`
	BaseURL             string   `toml:"base_url"`
	SupportsMultimodal  *bool    `toml:"supports_multimodal"`
	DefaultPrompt       string   `toml:"default_prompt"`
	Temperature         *float64 `toml:"temperature"`
	TimeoutSeconds      int      `toml:"timeout_seconds"`
	RateIntervalSeconds int      `toml:"rate_interval_seconds"`
}

// RunSettings は割り当てと出力の設定なのだ。
type RunSettings struct {
	Mode               string `toml:"mode"`
	Flow               string `toml:"flow"`
	Delimiter          string `toml:"delimiter"`
	Retries            int    `toml:"retries"`
	PlannerTimeoutSecs int    `toml:"planner_timeout_seconds"`
	NoCover            bool   `toml:"no_cover"`
	WorkDir            string `toml:"work_dir"`
	KeepWorkDir        bool   `toml:"keep_work_dir"`
	DeckName           string `toml:"deck_name"`
	BatchLimit         int    `toml:"batch_limit"`

	// Metadata は原稿から抽出した値より優先される上書き値なのだ。
	Metadata domain.Metadata `toml:"metadata"`
}

// TemplateSettings はテンプレート関連ファイルのパスなのだ。
type TemplateSettings struct {
	Manifest  string `toml:"manifest"`
	AllowList string `toml:"allow_list"`
	Deck      string `toml:"deck"`
}

// NATSSettings は serve モードのワーカー設定なのだ。
type NATSSettings struct {
	URL              string `toml:"url"`
	Stream           string `toml:"stream"`
	RequestSubject   string `toml:"request_subject"`
	CompletedSubject string `toml:"completed_subject"`
	DLQSubject       string `toml:"dlq_subject"`
	Durable          string `toml:"durable"`
	ScriptBucket     string `toml:"script_bucket"`
	DeckBucket       string `toml:"deck_bucket"`
	Workers          int    `toml:"workers"`
}

// Default は既定値だけで埋めた Config を返すのだ。
func Default() *Config {
	wf := workflow.DefaultConfig()
	return &Config{
		LLM: LLMSettings{
			Provider:       DefaultProvider,
			TimeoutSeconds: DefaultLLMTimeout,
		},
		Run: RunSettings{
			Mode:               string(wf.Mode),
			Flow:               string(wf.Flow),
			Delimiter:          wf.Delimiter,
			Retries:            wf.Retries,
			PlannerTimeoutSecs: int(wf.PlannerTimeout / time.Second),
			WorkDir:            wf.WorkDir,
			BatchLimit:         wf.BatchLimit,
		},
		Template: TemplateSettings{
			Manifest: DefaultManifestFile,
			Deck:     DefaultTemplateFile,
		},
		NATS: NATSSettings{
			URL:              DefaultNATSURL,
			Stream:           DefaultStream,
			RequestSubject:   DefaultRequestSubject,
			CompletedSubject: DefaultCompletedSubject,
			DLQSubject:       DefaultDLQSubject,
			Durable:          DefaultDurable,
			ScriptBucket:     DefaultScriptBucket,
			DeckBucket:       DefaultDeckBucket,
			Workers:          DefaultWorkers,
		},
	}
}

// LoadConfig は既定値に TOML ファイルと環境変数を重ねた設定を返すのだ！
// path が空の場合、カレントディレクトリに slidekit.toml があれば読むのだ。
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}
	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("設定ファイル '%s' を開けません: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewDecoder(f).Decode(c); err != nil {
		return fmt.Errorf("設定ファイル '%s' の TOML デコードに失敗しました: %w", path, err)
	}
	return nil
}

// applyEnv は環境変数で設定を上書きするのだ。
func (c *Config) applyEnv() {
	c.LLM.Provider = envutil.GetEnv("SLIDE_LLM_PROVIDER", c.LLM.Provider)
	c.LLM.Model = envutil.GetEnv("SLIDE_LLM_MODEL", c.LLM.Model)
	c.LLM.BaseURL = envutil.GetEnv("SLIDE_LLM_BASE_URL", c.LLM.BaseURL)
	if strings.EqualFold(c.LLM.Provider, "qwen") {
		c.LLM.BaseURL = envutil.GetEnv("QWEN_VLLM_BASE_URL", c.LLM.BaseURL)
	}
	if v, err := strconv.ParseBool(envutil.GetEnv("SLIDE_LLM_MULTIMODAL", "")); err == nil {
		c.LLM.SupportsMultimodal = &v
	}
	c.Run.WorkDir = envutil.GetEnv("SLIDE_WORK_DIR", c.Run.WorkDir)
	c.NATS.URL = envutil.GetEnv("SLIDE_NATS_URL", c.NATS.URL)
	c.LLM.APIKey = c.resolveAPIKey()
}

// resolveAPIKey は SLIDE_LLM_API_KEY、設定で指定された変数、プロバイダ既定の変数の順に探すのだ。
func (c *Config) resolveAPIKey() string {
	if key := envutil.GetEnv("SLIDE_LLM_API_KEY", ""); key != "" {
		return key
	}
	if c.LLM.APIKeyVariable != "" {
		if key := envutil.GetEnv(c.LLM.APIKeyVariable, ""); key != "" {
			return key
		}
	}
	if name, ok := providerKeyEnv[strings.ToLower(c.LLM.Provider)]; ok {
		return envutil.GetEnv(name, "")
	}
	return c.LLM.APIKey
}

// UsesPlanner はプランナーを組み立てる必要があるかを返すのだ。
func (c *Config) UsesPlanner() bool {
	p := strings.TrimSpace(strings.ToLower(c.LLM.Provider))
	return p != "" && p != ProviderNone && c.Run.Mode != string(assign.ModeMarker)
}

// PlannerConfig はプランナーレジストリ用の設定に変換するのだ。
func (c *Config) PlannerConfig() planner.ProviderConfig {
	return planner.ProviderConfig{
		Provider:       c.LLM.Provider,
		Model:          c.LLM.Model,
		APIKey:         c.LLM.APIKey,
		BaseURL:        c.LLM.BaseURL,
		SupportsImages: c.LLM.SupportsMultimodal,
		DefaultPrompt:  c.LLM.DefaultPrompt,
		Temperature:    c.LLM.Temperature,
		Timeout:        seconds(c.LLM.TimeoutSeconds),
		RateInterval:   seconds(c.LLM.RateIntervalSeconds),
	}
}

// WorkflowConfig は Manager 用の実行設定に変換するのだ。
func (c *Config) WorkflowConfig() workflow.Config {
	return workflow.Config{
		Mode:           assign.Mode(c.Run.Mode),
		Flow:           assign.Flow(c.Run.Flow),
		Delimiter:      c.Run.Delimiter,
		Retries:        c.Run.Retries,
		PlannerTimeout: seconds(c.Run.PlannerTimeoutSecs),
		PrependCover:   !c.Run.NoCover,
		WorkDir:        c.Run.WorkDir,
		KeepWorkDir:    c.Run.KeepWorkDir,
		DeckName:       c.Run.DeckName,
		BatchLimit:     c.Run.BatchLimit,
	}
}

// Sources はテンプレート関連の入力パスを返すのだ。
func (c *Config) Sources() workflow.Sources {
	return workflow.Sources{
		ManifestPath:  c.Template.Manifest,
		AllowListPath: c.Template.AllowList,
		TemplatePath:  c.Template.Deck,
	}
}

// HTTPTimeout は共有 HTTP クライアントのタイムアウトなのだ。未設定なら既定の LLM タイムアウトなのだ。
func (c *Config) HTTPTimeout() time.Duration {
	if d := seconds(c.LLM.TimeoutSeconds); d > 0 {
		return d
	}
	return DefaultLLMTimeout * time.Second
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
