package handler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sketchdev/wrestler/internal/acl"
	"github.com/sketchdev/wrestler/internal/auth"
	"github.com/sketchdev/wrestler/internal/metrics"
	"github.com/sketchdev/wrestler/internal/model"
	"github.com/sketchdev/wrestler/internal/pipeline"
	"github.com/sketchdev/wrestler/internal/repository"
	"github.com/sketchdev/wrestler/internal/rest"
	"github.com/sketchdev/wrestler/internal/user"
	"github.com/sketchdev/wrestler/internal/validation"
)

// PipelineDeps はNewPipelineに必要な依存関係と設定。
type PipelineDeps struct {
	Store   repository.DocumentStore
	Logger  *slog.Logger
	Metrics metrics.MetricsCollector

	// ユーザー機能。UsersEnabledがfalseの場合、Tokens・Hasher・Mailerは使わない
	UsersEnabled     bool
	Tokens           *auth.TokenService
	Hasher           *auth.Hasher
	Mailer           user.Mailer
	DefaultRole      string
	SelfRegisterRole string
	CodeTTL          time.Duration

	// リソース
	Rules     []model.Rule
	Schemas   map[string]model.Schema
	Whitelist []string
	PageSize  int
	BaseURL   string
}

// NewPipeline はリソースAPIのパイプラインを組み立てる。
//
// ステップの実行順序:
//
//	Resolve → DecodeBody → Whitelist → Authenticate → Authorize → Validate → User → REST
func NewPipeline(deps PipelineDeps) (*pipeline.Pipeline, error) {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.PageSize <= 0 {
		deps.PageSize = rest.DefaultPageSize
	}

	restHandler := rest.NewHandler(deps.Store, deps.PageSize,
		rest.WithBaseURL(deps.BaseURL),
		rest.WithProtectedFields(model.ResourceUser, model.UserProtectedFields...),
		rest.WithCarriedFields(model.ResourceUser, model.UserPrivilegedFields...),
	)

	validator, err := validation.NewValidator(deps.Schemas, user.IsAction)
	if err != nil {
		return nil, fmt.Errorf("invalid validation schema: %w", err)
	}

	steps := []pipeline.Step{
		pipeline.DecodeBody,
		acl.NewWhitelist(deps.Whitelist, deps.UsersEnabled).Step,
		auth.NewAuthenticator(deps.Tokens, deps.UsersEnabled, user.IsAnonymousOperation).Step,
	}

	authzOpts := []acl.Option{}
	if deps.UsersEnabled {
		role := deps.SelfRegisterRole
		if role == "" {
			role = deps.DefaultRole
		}
		if role != "" {
			authzOpts = append(authzOpts, acl.WithAuthorizeFunc(acl.ForceRole(role)))
		}
		authzOpts = append(authzOpts, acl.WithSkip(func(rc *pipeline.Context) bool {
			return user.IsAction(rc) || user.IsAnonymousRegistration(rc)
		}))
	}
	steps = append(steps,
		acl.NewAuthorizer(deps.Rules, authzOpts...).Step,
		validator.Step,
	)

	if deps.UsersEnabled {
		users := user.NewService(deps.Store, deps.Hasher, deps.Tokens, deps.Mailer, restHandler, deps.Metrics,
			user.Config{
				CodeTTL:     deps.CodeTTL,
				DefaultRole: deps.DefaultRole,
				BaseURL:     deps.BaseURL,
			},
		)
		steps = append(steps, users.Step)
	}
	steps = append(steps, restHandler.Step)

	return pipeline.New(steps,
		pipeline.WithLogger(deps.Logger),
		pipeline.WithMetrics(deps.Metrics),
	), nil
}
