// Package mail はメール通知を提供する。
//
// テンプレートから組み立てたMessageをキューに積み、バックグラウンドのワーカーが
// Notifier経由で送信する。送信の失敗はログとメトリクスに記録するだけで、
// 既に返したHTTPレスポンスには影響しない。
package mail

import (
	"context"
	"fmt"
)

// テンプレート名
const (
	TemplateConfirm     = "confirm"
	TemplateRecover     = "recover"
	TemplateChangeEmail = "change-email"
)

// Message は送信する1通のメール。
type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`
}

// Notifier はメールを実際に送信する。戻り値は送信先が返す受付IDなど。
type Notifier interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Queue はメールを非同期送信の待ち行列に積む。
type Queue interface {
	Enqueue(ctx context.Context, template string, msg Message) error
}

// Data はテンプレートに渡す値。
type Data struct {
	Email   string
	Code    string
	BaseURL string
}

// Mailer はテンプレートの描画とキューへの投入をまとめる。
type Mailer struct {
	templates *Templates
	from      string
	queue     Queue
}

// NewMailer はMailerを生成する。
func NewMailer(templates *Templates, from string, queue Queue) *Mailer {
	return &Mailer{templates: templates, from: from, queue: queue}
}

// Send はtemplateを描画してtoへのメールをキューに積む。
func (m *Mailer) Send(ctx context.Context, template, to string, data Data) error {
	msg, err := m.templates.Render(template, data)
	if err != nil {
		return err
	}
	msg.From = m.from
	msg.To = to

	if err := m.queue.Enqueue(ctx, template, msg); err != nil {
		return fmt.Errorf("failed to enqueue %s email: %w", template, err)
	}
	return nil
}
