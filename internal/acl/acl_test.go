package acl

import (
	"context"
	"net/http"
	"testing"

	"github.com/sketchdev/wrestler/internal/model"
	"github.com/sketchdev/wrestler/internal/pipeline"
)

func newRequestContext(resource, id, method string, principal *model.Principal) *pipeline.Context {
	return &pipeline.Context{Resource: resource, ID: id, Method: method, Principal: principal}
}

func assertForbidden(t *testing.T, out pipeline.Outcome) {
	t.Helper()
	if out.Kind != pipeline.StopWithError || !model.IsCode(out.Err, model.ErrCodeForbidden) {
		t.Fatalf("outcome = %+v, want Forbidden", out)
	}
}

// ルールが1件もない場合はすべて許可されることを検証
func TestAuthorizer_NoRulesIsPermissive(t *testing.T) {
	a := NewAuthorizer(nil)

	out := a.Step(context.Background(), newRequestContext("widget", "", http.MethodDelete, nil))
	if out.Kind != pipeline.Continue {
		t.Errorf("Kind = %v, want Continue", out.Kind)
	}
}

func TestAuthorizer_Matching(t *testing.T) {
	rules := []model.Rule{
		{Roles: model.SetOf("admin"), Resource: "widget", Methods: model.AnyOf()},
		{Roles: model.AnyOf(), Resource: "widget", Methods: model.SetOf("get")},
		{Roles: model.SetOf("editor"), Resource: "gadget", Methods: model.SetOf("POST", "PATCH")},
	}
	a := NewAuthorizer(rules)

	tests := []struct {
		name     string
		role     string
		resource string
		method   string
		allowed  bool
	}{
		{"adminはすべてのメソッド", "admin", "widget", http.MethodDelete, true},
		{"ワイルドカードロールのGET", "user", "widget", http.MethodGet, true},
		{"一致するルールがないDELETE", "user", "widget", http.MethodDelete, false},
		{"ロール違い", "user", "gadget", http.MethodPost, false},
		{"editorのPATCH", "editor", "gadget", http.MethodPatch, true},
		{"editorのGETは未定義", "editor", "gadget", http.MethodGet, false},
		{"ルールのないリソース", "admin", "other", http.MethodGet, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := newRequestContext(tt.resource, "", tt.method, &model.Principal{ID: "u1", Role: tt.role})
			out := a.Step(context.Background(), rc)

			if tt.allowed {
				if out.Kind != pipeline.Continue {
					t.Errorf("outcome = %+v, want Continue", out)
				}
				return
			}
			assertForbidden(t, out)
		})
	}
}

// 最初に一致したルールだけが採用され、後続のルールとはマージされないことを検証
func TestAuthorizer_FirstMatchWins(t *testing.T) {
	a := NewAuthorizer([]model.Rule{
		{Roles: model.AnyOf(), Resource: "widget", Methods: model.AnyOf(), OnlyOwned: true},
		{Roles: model.SetOf("admin"), Resource: "widget", Methods: model.AnyOf()},
	})
	rc := newRequestContext("widget", "", http.MethodGet, &model.Principal{ID: "admin-1", Role: "admin"})

	if out := a.Step(context.Background(), rc); out.Kind != pipeline.Continue {
		t.Fatalf("outcome = %+v", out)
	}
	if rc.Principal.Filter[model.FieldCreatedBy] != "admin-1" {
		t.Errorf("Filter = %v, want createdBy filter from the first rule", rc.Principal.Filter)
	}
}

func TestAuthorizer_OnlyOwned(t *testing.T) {
	a := NewAuthorizer([]model.Rule{
		{Roles: model.AnyOf(), Resource: "widget", Methods: model.AnyOf(), OnlyOwned: true},
		{Roles: model.AnyOf(), Resource: "user", Methods: model.AnyOf(), OnlyOwned: true},
	})

	t.Run("userリソース以外はcreatedByで絞り込む", func(t *testing.T) {
		rc := newRequestContext("widget", "w1", http.MethodGet, &model.Principal{ID: "u1"})
		if out := a.Step(context.Background(), rc); out.Kind != pipeline.Continue {
			t.Fatalf("outcome = %+v", out)
		}
		if len(rc.Principal.Filter) != 1 || rc.Principal.Filter[model.FieldCreatedBy] != "u1" {
			t.Errorf("Filter = %v", rc.Principal.Filter)
		}
	})

	t.Run("userリソースは自分のIDで絞り込む", func(t *testing.T) {
		rc := newRequestContext("user", "u1", http.MethodGet, &model.Principal{ID: "u1"})
		if out := a.Step(context.Background(), rc); out.Kind != pipeline.Continue {
			t.Fatalf("outcome = %+v", out)
		}
		if len(rc.Principal.Filter) != 1 || rc.Principal.Filter[model.FieldID] != "u1" {
			t.Errorf("Filter = %v", rc.Principal.Filter)
		}
	})

	t.Run("userリソースで他人のIDは拒否", func(t *testing.T) {
		rc := newRequestContext("user", "u2", http.MethodGet, &model.Principal{ID: "u1"})
		assertForbidden(t, a.Step(context.Background(), rc))
	})

	t.Run("呼び出し元が不明な場合は拒否", func(t *testing.T) {
		rc := newRequestContext("widget", "", http.MethodGet, nil)
		assertForbidden(t, a.Step(context.Background(), rc))
	})
}

// 一括更新はuserに対するPATCHとして評価されることを検証
func TestAuthorizer_BulkIsEvaluatedAsUserPatch(t *testing.T) {
	a := NewAuthorizer([]model.Rule{
		{Roles: model.SetOf("user"), Resource: "user", Methods: model.SetOf("PATCH"), OnlyOwned: true},
	})

	rc := newRequestContext(model.ResourceBulk, "", http.MethodPatch, &model.Principal{ID: "u1", Role: "user"})
	if out := a.Step(context.Background(), rc); out.Kind != pipeline.Continue {
		t.Fatalf("outcome = %+v", out)
	}
	if rc.Principal.Filter[model.FieldID] != "u1" {
		t.Errorf("Filter = %v", rc.Principal.Filter)
	}

	rc = newRequestContext(model.ResourceBulk, "", http.MethodPatch, &model.Principal{ID: "a1", Role: "admin"})
	assertForbidden(t, a.Step(context.Background(), rc))
}

func TestAuthorizer_Skip(t *testing.T) {
	a := NewAuthorizer(
		[]model.Rule{{Roles: model.SetOf("admin"), Resource: "widget", Methods: model.AnyOf()}},
		WithSkip(func(rc *pipeline.Context) bool { return rc.ID == "login" }),
	)

	if out := a.Step(context.Background(), newRequestContext("widget", "login", http.MethodPost, nil)); out.Kind != pipeline.Continue {
		t.Errorf("outcome = %+v, want Continue", out)
	}
	assertForbidden(t, a.Step(context.Background(), newRequestContext("widget", "", http.MethodPost, nil)))
}

// 認可関数がACLより先に実行され、打ち切れることを検証
func TestAuthorizer_CustomFuncRunsFirst(t *testing.T) {
	var called bool
	a := NewAuthorizer(nil, WithAuthorizeFunc(func(_ context.Context, rc *pipeline.Context) pipeline.Outcome {
		called = true
		if rc.Method == http.MethodDelete {
			return pipeline.Fail(model.NewForbiddenError())
		}
		return pipeline.Next()
	}))

	assertForbidden(t, a.Step(context.Background(), newRequestContext("widget", "w1", http.MethodDelete, nil)))
	if !called {
		t.Error("custom authorize func was not called")
	}
	if out := a.Step(context.Background(), newRequestContext("widget", "w1", http.MethodGet, nil)); out.Kind != pipeline.Continue {
		t.Errorf("outcome = %+v, want Continue", out)
	}
}

// ルールのメソッド・リソースが大文字小文字を問わず一致することを検証
func TestNewAuthorizer_NormalizesRules(t *testing.T) {
	a := NewAuthorizer([]model.Rule{{Roles: model.AnyOf(), Resource: "Widget", Methods: model.SetOf("get")}})

	if _, ok := a.Match("user", "widget", "GET"); !ok {
		t.Error("expected normalized rule to match")
	}
}

func TestForceRole(t *testing.T) {
	fn := ForceRole("member")

	rc := newRequestContext("user", "", http.MethodPost, nil)
	rc.Body = model.Document{"email": "a@example.com", "role": "admin"}
	if out := fn(context.Background(), rc); out.Kind != pipeline.Continue {
		t.Fatalf("outcome = %+v", out)
	}
	if rc.Body["role"] != "member" {
		t.Errorf("role = %v, want member", rc.Body["role"])
	}

	// 認証済みの呼び出し元による登録はそのまま
	rc = newRequestContext("user", "", http.MethodPost, &model.Principal{ID: "a1", Role: "admin"})
	rc.Body = model.Document{"role": "admin"}
	fn(context.Background(), rc)
	if rc.Body["role"] != "admin" {
		t.Errorf("role = %v, want admin", rc.Body["role"])
	}

	// ライフサイクル操作は対象外
	rc = newRequestContext("user", "login", http.MethodPost, nil)
	rc.Body = model.Document{}
	fn(context.Background(), rc)
	if _, ok := rc.Body["role"]; ok {
		t.Error("role should not be set for login")
	}
}

func TestWhitelist(t *testing.T) {
	tests := []struct {
		name         string
		resources    []string
		usersEnabled bool
		resource     string
		allowed      bool
	}{
		{"無効", nil, true, "anything", true},
		{"一覧にある", []string{"widget"}, true, "widget", true},
		{"大文字で設定", []string{" Widget "}, true, "widget", true},
		{"一覧にない", []string{"widget"}, true, "gadget", false},
		{"ユーザー有効時のuser", []string{"widget"}, true, "user", true},
		{"ユーザー有効時の_bulk", []string{"widget"}, true, "_bulk", true},
		{"ユーザー無効時のuser", []string{"widget"}, false, "user", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWhitelist(tt.resources, tt.usersEnabled)
			out := w.Step(context.Background(), newRequestContext(tt.resource, "", http.MethodGet, nil))

			if tt.allowed {
				if out.Kind != pipeline.Continue {
					t.Errorf("outcome = %+v, want Continue", out)
				}
				return
			}
			if !model.IsCode(out.Err, model.ErrCodeWhitelist) {
				t.Errorf("err = %v, want WhitelistError", out.Err)
			}
		})
	}
}
