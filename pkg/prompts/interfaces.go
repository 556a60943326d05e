package prompts

// PromptBuilder は、プランナーに渡すプロンプトを構築する契約です。
type PromptBuilder interface {
	// Build は、指定されたモード（ModePlan / ModeRewrite）とデータに基づいてプロンプト文字列を生成します。
	Build(mode string, data TemplateData) (string, error)
}
