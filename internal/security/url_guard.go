package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// URLGuard は外部への送信先URLを検証し、内部ネットワークに到達しないHTTPクライアントを作る。
type URLGuard interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

var guardedSchemes = []string{"http", "https"}

// privateRanges は送信先として拒否するアドレス範囲。
var privateRanges = mustParseCIDRs(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %s: %v", c, err))
		}
		out = append(out, n)
	}
	return out
}

// WebhookGuard はメール送信用Webhookの送信先を守るURLGuard。
type WebhookGuard struct{}

// NewWebhookGuard はWebhookGuardを生成する。
func NewWebhookGuard() *WebhookGuard {
	return &WebhookGuard{}
}

// NewSafeClient はsafeurlでラップしたHTTPクライアントを返す。
// 接続時に名前解決後のIPを検証するため、DNSリバインディングも防げる。
func (g *WebhookGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(guardedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL は設定値のURLを名前解決せずに検証する。起動時の設定チェックに使う。
func (g *WebhookGuard) ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("webhook URL must use http or https: %q", rawURL)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("webhook URL has no host: %q", rawURL)
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("webhook host is not allowed: %s", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, n := range privateRanges {
			if n.Contains(ip) {
				return fmt.Errorf("webhook address is not allowed: %s", ip)
			}
		}
	}

	return nil
}
