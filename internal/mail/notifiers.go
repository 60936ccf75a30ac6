package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/resend/resend-go/v3"
)

// LogNotifier はメールを送信せずにログへ出力する。開発環境向け。
// 確認コードを含む本文は出力しない。
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier はLogNotifierを生成する。
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send はメールの宛先と件名をログに出力する。
func (n *LogNotifier) Send(_ context.Context, msg Message) (string, error) {
	receipt := uuid.NewString()
	n.logger.Info("email (log driver)",
		slog.String("receipt", receipt),
		slog.String("from", msg.From),
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	return receipt, nil
}

// ResendNotifier はResendのAPIでメールを送信する。
type ResendNotifier struct {
	client *resend.Client
}

// NewResendNotifier はResendNotifierを生成する。
func NewResendNotifier(apiKey string) *ResendNotifier {
	return &ResendNotifier{client: resend.NewClient(apiKey)}
}

// Send はメールを送信し、ResendのメールIDを返す。
func (n *ResendNotifier) Send(ctx context.Context, msg Message) (string, error) {
	resp, err := n.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		return "", fmt.Errorf("resend: failed to send email: %w", err)
	}
	return resp.Id, nil
}

// webhookResponse はWebhookの応答のうち受付IDだけを読む。
type webhookResponse struct {
	ID string `json:"id"`
}

// WebhookNotifier はメールをJSONで任意のHTTPエンドポイントにPOSTする。
// クライアントはSSRF対策済みのものを渡す。
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier はWebhookNotifierを生成する。
func NewWebhookNotifier(url string, client *http.Client) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: client}
}

// Send はメールをPOSTする。2xx以外の応答はエラーとして扱う。
// 応答ボディにidがあれば受付IDとして返す。
func (n *WebhookNotifier) Send(ctx context.Context, msg Message) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call email webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("email webhook returned status %d", resp.StatusCode)
	}

	var out webhookResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return out.ID, nil
}
