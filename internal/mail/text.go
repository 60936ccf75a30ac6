package mail

import (
	"strings"

	"golang.org/x/net/html"
)

// blockElements は前後で改行を入れる要素。
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "hr": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true,
	"blockquote": true, "pre": true, "table": true, "ul": true, "ol": true,
}

// TextFromHTML はHTMLからプレーンテキストの代替本文を作る。
// リンクはテキストの後ろに "(URL)" として残す。
func TextFromHTML(body string) string {
	if body == "" {
		return ""
	}

	var sb strings.Builder
	var href string
	z := html.NewTokenizer(strings.NewReader(body))

	for {
		switch z.Next() {
		case html.ErrorToken:
			return normalizeLines(sb.String())
		case html.TextToken:
			sb.WriteString(collapseSpace(string(z.Text())))
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if blockElements[tok.Data] {
				sb.WriteString("\n")
			}
			if tok.Data == "a" {
				href = attr(tok, "href")
			}
		case html.EndTagToken:
			tok := z.Token()
			if tok.Data == "a" && href != "" {
				sb.WriteString(" (" + href + ")")
				href = ""
			}
			if blockElements[tok.Data] {
				sb.WriteString("\n")
			}
		}
	}
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// collapseSpace は改行を含む連続した空白を1つの空白にまとめる。
func collapseSpace(s string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range s {
		if isSpace(r) {
			if !prevSpace {
				sb.WriteByte(' ')
			}
			prevSpace = true
			continue
		}
		prevSpace = false
		sb.WriteRune(r)
	}
	return sb.String()
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f'
}

// normalizeLines は行内の連続した空白と空行を取り除く。
func normalizeLines(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
