// Package app は設定の読み込みから依存関係の組み立て、サーバーの起動までを担う。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sketchdev/wrestler/internal/auth"
	"github.com/sketchdev/wrestler/internal/config"
	"github.com/sketchdev/wrestler/internal/database"
	"github.com/sketchdev/wrestler/internal/handler"
	"github.com/sketchdev/wrestler/internal/logger"
	"github.com/sketchdev/wrestler/internal/mail"
	"github.com/sketchdev/wrestler/internal/metrics"
	"github.com/sketchdev/wrestler/internal/middleware"
	"github.com/sketchdev/wrestler/internal/repository"
	"github.com/sketchdev/wrestler/internal/security"
)

// ShutdownTimeout はグレースフルシャットダウンの待ち時間。
const ShutdownTimeout = 30 * time.Second

// Init はログをセットアップしてから環境変数の設定を読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 設定読み込み前にログを使えるようにする
	log := logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, log, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("storage", cfg.StorageDriver),
		slog.String("email", cfg.EmailDriver),
		slog.Bool("users_enabled", cfg.UsersEnabled),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg, log, database.RunMigrations)
	case CommandRollback:
		return runMigrate(cfg, log, database.RollbackMigrations)
	default:
		return runServe(cfg, log)
	}
}

// App は組み立て済みのHTTPハンドラーと、終了時に解放するリソースを保持する。
type App struct {
	Handler http.Handler

	store       repository.DocumentStore
	dispatcher  *mail.Dispatcher
	rateLimiter *middleware.RateLimiter
	db          *sql.DB
	log         *slog.Logger
}

// New は設定に従って全依存関係をワイヤリングする。
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	a := &App{log: log}

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}

	// 1. ストレージ
	if err := a.openStore(ctx, cfg); err != nil {
		return nil, err
	}

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. ユーザー機能（トークン・ハッシュ・メール）
	deps := handler.PipelineDeps{
		Store:            a.store,
		Logger:           log,
		Metrics:          collector,
		UsersEnabled:     cfg.UsersEnabled,
		DefaultRole:      cfg.DefaultRole,
		SelfRegisterRole: cfg.SelfRegisterRole,
		CodeTTL:          cfg.CodeTTL,
		Rules:            policy.Rules,
		Schemas:          policy.Schemas,
		Whitelist:        cfg.Whitelist,
		PageSize:         cfg.PageSize,
		BaseURL:          cfg.BaseURL,
	}

	if cfg.UsersEnabled {
		hasher, err := auth.NewHasher(cfg.PasswordIterations, cfg.PasswordKeylen, cfg.PasswordDigest)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid password hashing settings: %w", err)
		}

		notifier, err := newNotifier(cfg, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		templates, err := mail.NewTemplates(policy.Templates, security.NewEmailSanitizer())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid email template: %w", err)
		}

		dispatcherCfg := mail.DefaultDispatcherConfig()
		dispatcherCfg.Workers = cfg.EmailWorkers
		a.dispatcher = mail.NewDispatcher(notifier, log, collector, dispatcherCfg)

		deps.Tokens = auth.NewTokenService(cfg.JWTSecret, cfg.JWTExpiry)
		deps.Hasher = hasher
		deps.Mailer = mail.NewMailer(templates, cfg.EmailFrom, a.dispatcher)
	}

	// 4. パイプラインとルーター
	p, err := handler.NewPipeline(deps)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.rateLimiter = middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitCredentials),
	)

	a.Handler = handler.NewRouter(&handler.RouterDeps{
		Pipeline:          p,
		HealthChecker:     a.store,
		Gatherer:          registry,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       a.rateLimiter,
		Logger:            log,
	})

	return a, nil
}

// openStore は設定されたドライバのストレージを開く。
func (a *App) openStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig)
		if err != nil {
			return err
		}
		if err := database.Ping(ctx, db, 5*time.Second); err != nil {
			db.Close()
			return err
		}
		a.db = db
		a.store = repository.NewPostgresDocumentRepo(db)
		a.log.Info("database connection established")
	default:
		a.store = repository.NewMemoryDocumentRepo()
		a.log.Warn("using in-memory storage; data is lost on restart")
	}
	return nil
}

// newNotifier は設定されたドライバのメール送信を生成する。
func newNotifier(cfg *config.Config, log *slog.Logger) (mail.Notifier, error) {
	switch cfg.EmailDriver {
	case config.EmailResend:
		return mail.NewResendNotifier(cfg.ResendAPIKey), nil
	case config.EmailWebhook:
		guard := security.NewWebhookGuard()
		if err := guard.ValidateURL(cfg.EmailWebhookURL); err != nil {
			return nil, fmt.Errorf("invalid EMAIL_WEBHOOK_URL: %w", err)
		}
		return mail.NewWebhookNotifier(cfg.EmailWebhookURL, guard.NewSafeClient(10*time.Second)), nil
	default:
		return mail.NewLogNotifier(log), nil
	}
}

// Close はメール送信の待ち行列を送り切ってからリソースを解放する。
func (a *App) Close() {
	if a.rateLimiter != nil {
		a.rateLimiter.Stop()
	}
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config, log *slog.Logger) error {
	a, err := New(context.Background(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      a.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	log.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runMigrate はPostgreSQLドライバのマイグレーションを実行する。
func runMigrate(cfg *config.Config, log *slog.Logger, apply func(databaseURL string) error) error {
	if cfg.StorageDriver != config.StoragePostgres {
		return fmt.Errorf("migrations require STORAGE_DRIVER=%s", config.StoragePostgres)
	}

	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := apply(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck は /health にHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードを伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
