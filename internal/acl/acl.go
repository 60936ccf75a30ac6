// Package acl は宣言的なACLルールによる認可と、所有者条件の注入を提供する。
//
// ルールは宣言順に評価され、最初に一致したルールだけが採用される。
// ルールが1件も設定されていない場合は全許可、1件でもあれば一致しないリクエストは拒否する。
package acl

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sketchdev/wrestler/internal/model"
	"github.com/sketchdev/wrestler/internal/pipeline"
)

// AuthorizeFunc はデプロイごとに差し込む認可関数。ACLの評価より先に実行される。
// Continue以外を返すと、ACLを評価せずにパイプラインを打ち切る。
type AuthorizeFunc func(ctx context.Context, rc *pipeline.Context) pipeline.Outcome

// Authorizer はACLルールを評価するステップ。
type Authorizer struct {
	rules  []model.Rule
	custom AuthorizeFunc
	skip   func(rc *pipeline.Context) bool
}

// Option はAuthorizerの設定を変更する。
type Option func(*Authorizer)

// WithAuthorizeFunc はACLより先に実行する認可関数を設定する。
func WithAuthorizeFunc(fn AuthorizeFunc) Option {
	return func(a *Authorizer) {
		a.custom = fn
	}
}

// WithSkip はACLの評価を省略するリクエストの判定関数を設定する。
// ユーザーのライフサイクル操作のように、ハンドラー自身が対象を特定するものに使う。
func WithSkip(skip func(rc *pipeline.Context) bool) Option {
	return func(a *Authorizer) {
		a.skip = skip
	}
}

// NewAuthorizer はAuthorizerを生成する。rulesは宣言順に評価される。
func NewAuthorizer(rules []model.Rule, opts ...Option) *Authorizer {
	normalized := make([]model.Rule, len(rules))
	for i, r := range rules {
		normalized[i] = r.Normalize()
	}
	a := &Authorizer{rules: normalized}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Step はパイプラインのステップとして認可を行う。
// 所有者条件が必要な場合はrc.Principal.Filterに設定する。
func (a *Authorizer) Step(ctx context.Context, rc *pipeline.Context) pipeline.Outcome {
	if a.custom != nil {
		if out := a.custom(ctx, rc); out.Kind != pipeline.Continue {
			return out
		}
	}

	if len(a.rules) == 0 {
		return pipeline.Next()
	}
	if a.skip != nil && a.skip(rc) {
		return pipeline.Next()
	}

	resource, method := target(rc)
	role := ""
	if rc.Principal != nil {
		role = rc.Principal.Role
	}

	rule, ok := a.Match(role, resource, method)
	if !ok {
		rc.Log().Info("access denied",
			slog.String("resource", resource),
			slog.String("method", method),
			slog.String("role", role),
		)
		return pipeline.Fail(model.NewForbiddenError())
	}

	if !rule.OnlyOwned {
		return pipeline.Next()
	}

	filter, ok := ownerFilter(rc, resource)
	if !ok {
		return pipeline.Fail(model.NewForbiddenError())
	}
	rc.Principal.Filter = filter

	return pipeline.Next()
}

// Match は{role, resource, method}に最初に一致したルールを返す。
func (a *Authorizer) Match(role, resource, method string) (model.Rule, bool) {
	for _, r := range a.rules {
		if r.Matches(role, resource, method) {
			return r, true
		}
	}
	return model.Rule{}, false
}

// target は評価対象の{resource, method}を返す。
// 一括更新はuserに対するPATCHとして評価する。
func target(rc *pipeline.Context) (string, string) {
	if rc.Resource == model.ResourceBulk {
		return model.ResourceUser, http.MethodPatch
	}
	return rc.Resource, rc.Method
}

// ownerFilter は所有者条件を組み立てる。
// userリソースでは自分自身のドキュメントに限り、パスのIDが呼び出し元と異なれば拒否する。
func ownerFilter(rc *pipeline.Context, resource string) (model.Filter, bool) {
	id := rc.PrincipalID()
	if id == "" {
		return nil, false
	}

	if resource == model.ResourceUser {
		if rc.ID != "" && rc.ID != id {
			return nil, false
		}
		return model.Filter{model.FieldID: id}, true
	}

	return model.Filter{model.FieldCreatedBy: id}, true
}
