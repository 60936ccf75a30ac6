// Package security はメール本文のサニタイズと、外部送信先へのSSRF対策を提供する。
package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// HTMLSanitizer はHTMLをサニタイズする。
type HTMLSanitizer interface {
	Sanitize(rawHTML string) string
}

// EmailSanitizer はメール本文用の許可リストでHTMLをサニタイズする。
// テンプレートは設定ファイルで差し替えられるため、描画後の本文を必ず通す。
type EmailSanitizer struct {
	policy *bluemonday.Policy
}

// NewEmailSanitizer はEmailSanitizerを生成する。
//   - 許可タグ: 段落・見出し・リスト・引用・強調・表・リンク・画像
//   - script, iframe, style, form と on* 属性は除去
//   - URLは http・https・mailto の絶対URLのみ
func NewEmailSanitizer() *EmailSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "hr", "div", "span",
		"h1", "h2", "h3", "h4",
		"ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "b", "i", "u",
		"table", "thead", "tbody", "tr", "th", "td",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https", "mailto")
	p.AllowRelativeURLs(false)
	p.RequireNoReferrerOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)

	p.AllowAttrs("src").OnElements("img")
	p.AllowAttrs("alt", "width", "height").OnElements("img")

	return &EmailSanitizer{policy: p}
}

// Sanitize はHTMLをサニタイズする。
func (s *EmailSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}
