package mail

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"

	"github.com/yuin/goldmark"

	"github.com/sketchdev/wrestler/internal/model"
	"github.com/sketchdev/wrestler/internal/security"
)

// DefaultTemplates は設定ファイルで上書きされない場合に使うテンプレート。
var DefaultTemplates = map[string]model.EmailTemplate{
	TemplateConfirm: {
		Subject: "Confirm your account",
		Text:    "Welcome! Use the following code to confirm your account: {{.Code}}",
		HTML:    "<p>Welcome!</p><p>Use the following code to confirm your account: <strong>{{.Code}}</strong></p>",
	},
	TemplateRecover: {
		Subject: "Reset your password",
		Text:    "Use the following code to reset your password: {{.Code}}",
		HTML:    "<p>Use the following code to reset your password: <strong>{{.Code}}</strong></p>",
	},
	TemplateChangeEmail: {
		Subject: "Confirm your new email address",
		Text:    "Use the following code to confirm {{.Email}} as your new email address: {{.Code}}",
		HTML:    "<p>Use the following code to confirm {{.Email}} as your new email address: <strong>{{.Code}}</strong></p>",
	},
}

type compiledTemplate struct {
	subject *texttemplate.Template
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

// Templates は名前付きのメールテンプレートを保持する。
type Templates struct {
	templates map[string]compiledTemplate
	sanitizer security.HTMLSanitizer
}

// NewTemplates はDefaultTemplatesにoverridesを重ねてテンプレートを構築する。
// 上書きは項目単位ではなくテンプレート単位で行う。
func NewTemplates(overrides map[string]model.EmailTemplate, sanitizer security.HTMLSanitizer) (*Templates, error) {
	defs := make(map[string]model.EmailTemplate, len(DefaultTemplates)+len(overrides))
	for name, def := range DefaultTemplates {
		defs[name] = def
	}
	for name, def := range overrides {
		defs[name] = def
	}

	t := &Templates{templates: make(map[string]compiledTemplate, len(defs)), sanitizer: sanitizer}
	for name, def := range defs {
		compiled, err := compile(name, def)
		if err != nil {
			return nil, err
		}
		t.templates[name] = compiled
	}
	return t, nil
}

func compile(name string, def model.EmailTemplate) (compiledTemplate, error) {
	var c compiledTemplate
	var err error

	if c.subject, err = texttemplate.New(name + ".subject").Parse(def.Subject); err != nil {
		return c, fmt.Errorf("invalid subject template %s: %w", name, err)
	}
	if def.Text != "" {
		if c.text, err = texttemplate.New(name + ".text").Parse(def.Text); err != nil {
			return c, fmt.Errorf("invalid text template %s: %w", name, err)
		}
	}

	body := def.HTML
	if body == "" && def.Markdown != "" {
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(def.Markdown), &buf); err != nil {
			return c, fmt.Errorf("invalid markdown template %s: %w", name, err)
		}
		body = buf.String()
	}
	if body != "" {
		if c.html, err = htmltemplate.New(name + ".html").Parse(body); err != nil {
			return c, fmt.Errorf("invalid html template %s: %w", name, err)
		}
	}

	if c.text == nil && c.html == nil {
		return c, fmt.Errorf("template %s has no body", name)
	}
	return c, nil
}

// Render はテンプレートを描画する。HTMLはサニタイズし、テキストが無い場合はHTMLから生成する。
func (t *Templates) Render(name string, data Data) (Message, error) {
	c, ok := t.templates[name]
	if !ok {
		return Message{}, fmt.Errorf("unknown email template: %s", name)
	}

	var msg Message
	var buf bytes.Buffer

	if err := c.subject.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("failed to render subject %s: %w", name, err)
	}
	msg.Subject = buf.String()

	if c.html != nil {
		buf.Reset()
		if err := c.html.Execute(&buf, data); err != nil {
			return Message{}, fmt.Errorf("failed to render html %s: %w", name, err)
		}
		msg.HTML = buf.String()
		if t.sanitizer != nil {
			msg.HTML = t.sanitizer.Sanitize(msg.HTML)
		}
	}

	if c.text != nil {
		buf.Reset()
		if err := c.text.Execute(&buf, data); err != nil {
			return Message{}, fmt.Errorf("failed to render text %s: %w", name, err)
		}
		msg.Text = buf.String()
	} else {
		msg.Text = TextFromHTML(msg.HTML)
	}

	return msg, nil
}
