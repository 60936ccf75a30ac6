package model

// EmailTemplate はメールテンプレートの定義。各項目はGoのテンプレート構文で書く。
// HTMLが空でMarkdownが指定されている場合はMarkdownからHTMLを生成する。
type EmailTemplate struct {
	Subject  string `yaml:"subject"`
	Text     string `yaml:"text"`
	HTML     string `yaml:"html"`
	Markdown string `yaml:"markdown"`
}
