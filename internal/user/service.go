// Package user はユーザーアカウントのライフサイクルを提供する。
//
// 登録・確認・ログイン・パスワード再設定・メールアドレス変更の各フローは、
// それぞれ独立した確認コードと有効期限を持つため、同時に進行しても干渉しない。
// /user 以下の特別なパスはここで処理し、それ以外は汎用CRUDに委ねる。
package user

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sketchdev/wrestler/internal/auth"
	"github.com/sketchdev/wrestler/internal/codec"
	"github.com/sketchdev/wrestler/internal/mail"
	"github.com/sketchdev/wrestler/internal/metrics"
	"github.com/sketchdev/wrestler/internal/model"
	"github.com/sketchdev/wrestler/internal/pipeline"
	"github.com/sketchdev/wrestler/internal/repository"
	"github.com/sketchdev/wrestler/internal/rest"
)

// /user 以下の操作名
const (
	ActionLogin              = "login"
	ActionConfirm            = "confirm"
	ActionResendConfirm      = "resend-confirm"
	ActionForgotPassword     = "forgot-password"
	ActionRecoverPassword    = "recover-password"
	ActionChangeEmail        = "change-email"
	ActionConfirmChangeEmail = "confirm-change-email"
)

// 検証メッセージ
const (
	MsgRequired = "is required"
	MsgInvalid  = "is invalid"
	MsgTaken    = "has already been taken"
	MsgNotFound = "not found"
	MsgExpired  = "has expired"
)

// DefaultCodeTTL は確認コードの既定の有効期間。
const DefaultCodeTTL = time.Hour

// Mailer はテンプレートのメールを送る。
type Mailer interface {
	Send(ctx context.Context, template, to string, data mail.Data) error
}

// Config はユーザー処理の設定。
type Config struct {
	CodeTTL     time.Duration
	DefaultRole string
	BaseURL     string
}

// Service はユーザーのライフサイクルを扱うパイプラインのステップ。
type Service struct {
	store   repository.DocumentStore
	hasher  *auth.Hasher
	tokens  *auth.TokenService
	mailer  Mailer
	rest    *rest.Handler
	metrics metrics.MetricsCollector

	codeTTL     time.Duration
	defaultRole string
	baseURL     string
	now         func() time.Time
	newCode     func() string
}

// Option はServiceの設定を変更する。
type Option func(*Service)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithCodeGenerator は確認コードの生成関数を差し替える。
func WithCodeGenerator(gen func() string) Option {
	return func(s *Service) {
		s.newCode = gen
	}
}

// NewService はServiceを生成する。
func NewService(
	store repository.DocumentStore,
	hasher *auth.Hasher,
	tokens *auth.TokenService,
	mailer Mailer,
	handler *rest.Handler,
	m metrics.MetricsCollector,
	cfg Config,
	opts ...Option,
) *Service {
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = DefaultCodeTTL
	}
	if m == nil {
		m = metrics.Nop{}
	}
	s := &Service{
		store:       store,
		hasher:      hasher,
		tokens:      tokens,
		mailer:      mailer,
		rest:        handler,
		metrics:     m,
		codeTTL:     cfg.CodeTTL,
		defaultRole: cfg.DefaultRole,
		baseURL:     cfg.BaseURL,
		now:         time.Now,
		newCode:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type action func(s *Service, ctx context.Context, rc *pipeline.Context) pipeline.Outcome

var actions = map[string]action{
	ActionLogin:              (*Service).Login,
	ActionConfirm:            (*Service).Confirm,
	ActionResendConfirm:      (*Service).ResendConfirm,
	ActionForgotPassword:     (*Service).ForgotPassword,
	ActionRecoverPassword:    (*Service).RecoverPassword,
	ActionChangeEmail:        (*Service).ChangeEmail,
	ActionConfirmChangeEmail: (*Service).ConfirmChangeEmail,
}

// anonymousActions は認証なしで実行できる操作。
var anonymousActions = map[string]bool{
	ActionLogin:              true,
	ActionConfirm:            true,
	ActionResendConfirm:      true,
	ActionForgotPassword:     true,
	ActionRecoverPassword:    true,
	ActionConfirmChangeEmail: true,
}

// IsAction は /user 以下の特別な操作へのPOSTかを返す。
func IsAction(rc *pipeline.Context) bool {
	if rc.Resource != model.ResourceUser || rc.Method != http.MethodPost {
		return false
	}
	_, ok := actions[rc.ID]
	return ok
}

// IsAnonymousOperation は認証なしで実行できる操作かを返す。ユーザー登録も含む。
func IsAnonymousOperation(rc *pipeline.Context) bool {
	if rc.Resource != model.ResourceUser || rc.Method != http.MethodPost {
		return false
	}
	return rc.ID == "" || anonymousActions[rc.ID]
}

// IsAnonymousRegistration は未認証の呼び出し元によるユーザー登録かを返す。
func IsAnonymousRegistration(rc *pipeline.Context) bool {
	return rc.Resource == model.ResourceUser && rc.ID == "" && rc.Method == http.MethodPost && rc.Principal == nil
}

// Step はuserと_bulkへのリクエストを処理する。その他のリソースは次のステップへ渡す。
func (s *Service) Step(ctx context.Context, rc *pipeline.Context) pipeline.Outcome {
	switch rc.Resource {
	case model.ResourceBulk:
		rc.Transformer = codec.StripUserSecrets
		if rc.Method != http.MethodPatch {
			return pipeline.Fail(model.NewNotFoundError())
		}
		return s.BulkPatch(ctx, rc)
	case model.ResourceUser:
		rc.Transformer = codec.StripUserSecrets
	default:
		return pipeline.Next()
	}

	if IsAction(rc) {
		return actions[rc.ID](s, ctx, rc)
	}

	switch {
	case rc.Method == http.MethodPost && rc.ID == "":
		return s.Register(ctx, rc)
	case rc.Method == http.MethodPut, rc.Method == http.MethodPatch:
		return s.prepareWrite(ctx, rc)
	}

	return pipeline.Next()
}

// normalizeEmail はメールアドレスの前後の空白を除き、小文字に揃える。
func normalizeEmail(v any) string {
	s, _ := v.(string)
	return strings.ToLower(strings.TrimSpace(s))
}

// findByEmail はメールアドレスでユーザーを探す。見つからない場合はnilを返す。
func (s *Service) findByEmail(ctx context.Context, field, email string) (model.Document, error) {
	if email == "" {
		return nil, nil
	}
	return s.store.FindOne(ctx, model.ResourceUser, model.Filter{field: email}, nil)
}

// update はIDで指定したユーザーにfieldsをマージする。
func (s *Service) update(ctx context.Context, id string, fields model.Document) (model.Document, error) {
	fields[model.FieldUpdatedAt] = model.FormatTimestamp(s.now())
	return s.store.FindOneAndUpdate(ctx, model.ResourceUser, model.Filter{model.FieldID: id}, fields)
}

// ownerRestricted は呼び出し元が所有者条件付きで認可されたかを返す。
func ownerRestricted(rc *pipeline.Context) bool {
	return rc.Principal != nil && rc.Principal.Filter != nil
}

// issueCode は新しい確認コードと有効期限を返す。
func (s *Service) issueCode() (string, string) {
	return s.newCode(), model.FormatTimestamp(s.now().Add(s.codeTTL))
}

// checkCode はユーザーに保存されたコードと照合する。
// 不一致と期限切れは区別し、不一致を先に判定する。
func (s *Service) checkCode(user model.Document, codeField, expiresField, code string) error {
	stored := user.String(codeField)
	if stored == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return model.NewFieldError(model.FieldCode, MsgInvalid)
	}

	expiresAt, ok := model.ParseTimestamp(user[expiresField])
	if !ok || s.now().After(expiresAt) {
		return model.NewFieldError(model.FieldCode, MsgExpired)
	}

	return nil
}

// notify はメールを送る。失敗はログに記録するだけでレスポンスには影響させない。
func (s *Service) notify(ctx context.Context, rc *pipeline.Context, template, to, code string) {
	if s.mailer == nil {
		return
	}
	err := s.mailer.Send(ctx, template, to, mail.Data{Email: to, Code: code, BaseURL: s.baseURL})
	if err != nil {
		rc.Log().Error("failed to queue email",
			slog.String("template", template),
			slog.String("error", err.Error()),
		)
	}
}

// requirePresent は空のフィールドをerrsに追加する。
func requirePresent(errs model.FieldErrors, values map[string]string) {
	for field, v := range values {
		if v == "" {
			errs.Add(field, MsgRequired)
		}
	}
}

func isTrue(v any) bool {
	b, ok := v.(bool)
	return ok && b
}
