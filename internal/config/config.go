// Package config は環境変数とポリシーファイルから設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ストレージドライバ
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// メール送信ドライバ
const (
	EmailLog     = "log"
	EmailResend  = "resend"
	EmailWebhook = "webhook"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Storage
	StorageDriver string
	DatabaseURL   string

	// Users
	UsersEnabled     bool
	JWTSecret        string
	JWTExpiry        time.Duration
	DefaultRole      string
	SelfRegisterRole string
	CodeTTL          time.Duration

	// Password hashing
	PasswordIterations int
	PasswordKeylen     int
	PasswordDigest     string

	// Resources
	PageSize   int
	Whitelist  []string
	PolicyFile string

	// Email
	EmailDriver     string
	EmailFrom       string
	ResendAPIKey    string
	EmailWebhookURL string
	EmailWorkers    int

	// Rate Limit
	RateLimitGeneral     int
	RateLimitCredentials int

	// Server
	ServerPort        string
	BaseURL           string
	CORSAllowedOrigin string
	LogLevel          string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はまとめてエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.StorageDriver = strings.ToLower(getEnvString("STORAGE_DRIVER", StorageMemory))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.UsersEnabled = getEnvBool("USERS_ENABLED", true)
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.EmailDriver = strings.ToLower(getEnvString("EMAIL_DRIVER", EmailLog))
	cfg.ResendAPIKey = os.Getenv("RESEND_API_KEY")
	cfg.EmailWebhookURL = os.Getenv("EMAIL_WEBHOOK_URL")

	// Required fields
	var missing []string

	switch cfg.StorageDriver {
	case StorageMemory:
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	default:
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER: %s", cfg.StorageDriver)
	}

	if cfg.UsersEnabled && cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	switch cfg.EmailDriver {
	case EmailLog:
	case EmailResend:
		if cfg.ResendAPIKey == "" {
			missing = append(missing, "RESEND_API_KEY")
		}
	case EmailWebhook:
		if cfg.EmailWebhookURL == "" {
			missing = append(missing, "EMAIL_WEBHOOK_URL")
		}
	default:
		return nil, fmt.Errorf("unsupported EMAIL_DRIVER: %s", cfg.EmailDriver)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.JWTExpiry = getEnvDuration("JWT_EXPIRY", 24*time.Hour)
	cfg.DefaultRole = getEnvString("DEFAULT_ROLE", "user")
	cfg.SelfRegisterRole = getEnvString("SELF_REGISTER_ROLE", cfg.DefaultRole)
	cfg.CodeTTL = getEnvDuration("CODE_TTL", time.Hour)
	cfg.PasswordIterations = getEnvInt("PASSWORD_ITERATIONS", 10000)
	cfg.PasswordKeylen = getEnvInt("PASSWORD_KEYLEN", 64)
	cfg.PasswordDigest = strings.ToLower(getEnvString("PASSWORD_DIGEST", "sha512"))
	cfg.PageSize = getEnvInt("PAGE_SIZE", 10)
	cfg.Whitelist = getEnvList("WHITELIST")
	cfg.PolicyFile = os.Getenv("POLICY_FILE")
	cfg.EmailFrom = getEnvString("EMAIL_FROM", "no-reply@localhost")
	cfg.EmailWorkers = getEnvInt("EMAIL_WORKERS", 2)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 600)
	cfg.RateLimitCredentials = getEnvInt("RATE_LIMIT_CREDENTIALS", 20)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = strings.TrimRight(os.Getenv("BASE_URL"), "/")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("PAGE_SIZE must be positive: %d", cfg.PageSize)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの値を空要素を除いて返す。
func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
