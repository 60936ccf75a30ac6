package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebhookGuard_ValidateURL(t *testing.T) {
	g := NewWebhookGuard()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"公開ホスト", "https://hooks.example.com/mail", false},
		{"http", "http://hooks.example.com/mail", false},
		{"ftpスキーム", "ftp://hooks.example.com/mail", true},
		{"ホストなし", "https:///mail", true},
		{"localhost", "http://localhost:8080/mail", true},
		{"ループバック", "http://127.0.0.1/mail", true},
		{"プライベートIP", "https://10.1.2.3/mail", true},
		{"メタデータIP", "http://169.254.169.254/latest", true},
		{"IPv6ループバック", "http://[::1]/mail", true},
		{"不正なURL", "://bad", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestWebhookGuard_NewSafeClient(t *testing.T) {
	client := NewWebhookGuard().NewSafeClient(5 * time.Second)
	if client == nil {
		t.Fatal("expected non-nil client")
	}
	if client.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", client.Timeout)
	}
}

// ループバック上のサーバーへの接続が拒否されることを検証
func TestWebhookGuard_NewSafeClient_BlocksLoopback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewWebhookGuard().NewSafeClient(5 * time.Second)
	resp, err := client.Get(server.URL)
	if err == nil {
		resp.Body.Close()
		t.Error("expected request to loopback to be blocked")
	}
}
