package auth

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sketchdev/wrestler/internal/middleware"
	"github.com/sketchdev/wrestler/internal/model"
	"github.com/sketchdev/wrestler/internal/pipeline"
)

// 認証失敗時のメッセージ
const (
	MessageMissingToken = "No authorization token was found"
	MessageInvalidToken = "Invalid or expired token"
)

// ClaimRole はトークン内のロールのキー。
const ClaimRole = "role"

// Authenticator はBearerトークンを検証し、呼び出し元をContextに設定するステップ。
type Authenticator struct {
	tokens    *TokenService
	enabled   bool
	anonymous func(rc *pipeline.Context) bool
}

// NewAuthenticator はAuthenticatorを生成する。
// anonymousは認証なしで実行できる操作かどうかを判定する。
// enabledがfalseの場合、ステップは何もしない。
func NewAuthenticator(tokens *TokenService, enabled bool, anonymous func(rc *pipeline.Context) bool) *Authenticator {
	if anonymous == nil {
		anonymous = func(*pipeline.Context) bool { return false }
	}
	return &Authenticator{tokens: tokens, enabled: enabled, anonymous: anonymous}
}

// Step はパイプラインのステップとして認証を行う。
// トークンが無い・無効な場合でも、匿名で実行できる操作であれば処理を続ける。
func (a *Authenticator) Step(ctx context.Context, rc *pipeline.Context) pipeline.Outcome {
	if !a.enabled {
		return pipeline.Next()
	}

	rc.Auth, rc.Principal = a.authenticate(rc)

	switch rc.Auth {
	case pipeline.AuthValid:
		middleware.SetPrincipalID(ctx, rc.Principal.ID)
		return pipeline.Next()
	case pipeline.AuthMissing:
		if a.anonymous(rc) {
			return pipeline.Next()
		}
		return pipeline.Fail(model.NewAuthenticationError(MessageMissingToken))
	default:
		if a.anonymous(rc) {
			return pipeline.Next()
		}
		return pipeline.Fail(model.NewAuthenticationError(MessageInvalidToken))
	}
}

func (a *Authenticator) authenticate(rc *pipeline.Context) (pipeline.AuthState, *model.Principal) {
	header := rc.Request.Header.Get("Authorization")
	if header == "" {
		return pipeline.AuthMissing, nil
	}

	token, ok := bearerToken(header)
	if !ok {
		return pipeline.AuthInvalid, nil
	}

	claims, err := a.tokens.Verify(token)
	if err != nil {
		rc.Log().Debug("token verification failed", slog.String("error", err.Error()))
		return pipeline.AuthInvalid, nil
	}

	principal := PrincipalFromClaims(claims)
	if principal.ID == "" {
		return pipeline.AuthInvalid, nil
	}

	return pipeline.AuthValid, principal
}

// bearerToken は "Bearer <token>" 形式のヘッダーからトークンを取り出す。
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}

// PrincipalFromClaims は検証済みclaimsから呼び出し元を組み立てる。
// IDは "id"、無ければ "sub" から取り出す。
func PrincipalFromClaims(claims map[string]any) *model.Principal {
	id, _ := claims[model.FieldID].(string)
	if id == "" {
		id, _ = claims["sub"].(string)
	}
	role, _ := claims[ClaimRole].(string)
	return &model.Principal{
		ID:     id,
		Role:   role,
		Claims: claims,
	}
}
