package config

import (
	"github.com/shouni/go-slide-kit/pkg/domain"
)

// CLI フラグ名なのだ。ApplyOptions は変更されたフラグだけを設定に反映するのだ。
const (
	FlagManifest    = "manifest"
	FlagAllowList   = "allow-list"
	FlagTemplate    = "template"
	FlagWorkDir     = "work-dir"
	FlagProvider    = "provider"
	FlagModel       = "model"
	FlagBaseURL     = "base-url"
	FlagTimeout     = "llm-timeout"
	FlagMode        = "mode"
	FlagFlow        = "flow"
	FlagDelimiter   = "delimiter"
	FlagNoCover     = "no-cover"
	FlagKeepWorkDir = "keep-work-dir"
	FlagCourse      = "course"
	FlagCollege     = "college"
	FlagLecturer    = "lecturer"
)

// GenerateOptions は CLI フラグから渡される実行時のパラメータなのだ。
type GenerateOptions struct {
	ConfigFile string // --config
	Verbose    bool   // --verbose

	// ソース入力関連
	ScriptFile   string // --script-file
	ContractFile string // --contract (compose)
	ImageDir     string // --image-dir (compose)
	OutputDir    string // --output-dir (compose)
	UserPrompt   string // --user-prompt
	BatchLimit   int    // --limit (batch)

	// テンプレート
	Manifest  string
	AllowList string
	Template  string
	WorkDir   string

	// プランナー
	Provider       string
	Model          string
	BaseURL        string
	TimeoutSeconds int

	// 割り当て
	Mode        string
	Flow        string
	Delimiter   string
	NoCover     bool
	KeepWorkDir bool

	// メタデータの上書き
	Course   string
	College  string
	Lecturer string
}

// ApplyOptions は changed が true を返すフラグの値だけで設定を上書きするのだ。
// 変更されていないフラグの既定値は TOML や環境変数の値を上書きしないのだ。
func (c *Config) ApplyOptions(opts GenerateOptions, changed func(name string) bool) {
	set := func(name string, dst *string, v string) {
		if changed(name) {
			*dst = v
		}
	}
	set(FlagManifest, &c.Template.Manifest, opts.Manifest)
	set(FlagAllowList, &c.Template.AllowList, opts.AllowList)
	set(FlagTemplate, &c.Template.Deck, opts.Template)
	set(FlagWorkDir, &c.Run.WorkDir, opts.WorkDir)
	set(FlagModel, &c.LLM.Model, opts.Model)
	set(FlagBaseURL, &c.LLM.BaseURL, opts.BaseURL)
	set(FlagMode, &c.Run.Mode, opts.Mode)
	set(FlagFlow, &c.Run.Flow, opts.Flow)
	set(FlagDelimiter, &c.Run.Delimiter, opts.Delimiter)

	if changed(FlagProvider) && opts.Provider != c.LLM.Provider {
		c.LLM.Provider = opts.Provider
		// プロバイダが変わったらキーも選び直すのだ
		c.LLM.APIKey = c.resolveAPIKey()
	}
	if changed(FlagTimeout) {
		c.LLM.TimeoutSeconds = opts.TimeoutSeconds
	}
	if changed(FlagNoCover) {
		c.Run.NoCover = opts.NoCover
	}
	if changed(FlagKeepWorkDir) {
		c.Run.KeepWorkDir = opts.KeepWorkDir
	}
	if opts.BatchLimit > 0 {
		c.Run.BatchLimit = opts.BatchLimit
	}
}

// Overrides は設定ファイルのメタデータにフラグの値を重ねたものを返すのだ。
func (c *Config) Overrides(opts GenerateOptions) domain.Metadata {
	return c.Run.Metadata.Override(domain.Metadata{
		Course:   opts.Course,
		College:  opts.College,
		Lecturer: opts.Lecturer,
	})
}
