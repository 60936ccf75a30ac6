package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sketchdev/wrestler/internal/model"
	"github.com/sketchdev/wrestler/internal/pipeline"
	"github.com/sketchdev/wrestler/internal/repository"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// withPrincipal はテスト用に呼び出し元と所有者条件を設定するステップ。
func withPrincipal(p *model.Principal) pipeline.Step {
	return func(_ context.Context, rc *pipeline.Context) pipeline.Outcome {
		if p != nil {
			copied := *p
			rc.Principal = &copied
		}
		return pipeline.Next()
	}
}

func newTestPipeline(store repository.DocumentStore, principal *model.Principal, opts ...Option) http.Handler {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	h := NewHandler(store, 10, opts...)
	return pipeline.New([]pipeline.Step{pipeline.DecodeBody, withPrincipal(principal), h.Step})
}

func doRequest(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeDocument(t *testing.T, rec *httptest.ResponseRecorder) model.Document {
	t.Helper()
	var doc model.Document
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return doc
}

func decodeDocuments(t *testing.T, rec *httptest.ResponseRecorder) []model.Document {
	t.Helper()
	var docs []model.Document
	if err := json.NewDecoder(rec.Body).Decode(&docs); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return docs
}

// 作成したドキュメントを同じ内容で取得できることを検証
func TestHandler_CreateThenGet_RoundTrip(t *testing.T) {
	store := repository.NewMemoryDocumentRepo()
	h := newTestPipeline(store, &model.Principal{ID: "u1"})

	rec := doRequest(t, h, http.MethodPost, "/widget", `{"name":"coconut","company":"acme","id":"client"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	created := decodeDocument(t, rec)
	id := created.ID()
	if id == "" || id == "client" {
		t.Fatalf("id = %q, want server-assigned", id)
	}
	if got := rec.Header().Get("Location"); got != "/widget/"+id {
		t.Errorf("Location = %q, want /widget/%s", got, id)
	}
	wantTime := model.FormatTimestamp(fixedNow)
	if created["createdAt"] != wantTime || created["updatedAt"] != wantTime {
		t.Errorf("timestamps = %v / %v", created["createdAt"], created["updatedAt"])
	}
	if created["createdBy"] != "u1" {
		t.Errorf("createdBy = %v, want u1", created["createdBy"])
	}

	rec = doRequest(t, h, http.MethodGet, "/widget/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decodeDocument(t, rec)
	for k, v := range created {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
	if len(got) != len(created) {
		t.Errorf("got %v, want %v", got, created)
	}
}

func TestHandler_IDRules(t *testing.T) {
	store := repository.NewMemoryDocumentRepo()
	h := newTestPipeline(store, nil)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"IDつきPOST", http.MethodPost, "/widget/abc", `{}`, http.StatusBadRequest},
		{"IDなしPUT", http.MethodPut, "/widget", `{}`, http.StatusBadRequest},
		{"IDなしPATCH", http.MethodPatch, "/widget", `{}`, http.StatusBadRequest},
		{"IDなしDELETE", http.MethodDelete, "/widget", "", http.StatusBadRequest},
		{"存在しないGET", http.MethodGet, "/widget/missing", "", http.StatusNotFound},
		{"存在しないPUT", http.MethodPut, "/widget/missing", `{}`, http.StatusNotFound},
		{"存在しないPATCH", http.MethodPatch, "/widget/missing", `{}`, http.StatusNotFound},
		{"存在しないDELETE", http.MethodDelete, "/widget/missing", "", http.StatusNotFound},
		{"配列の本文", http.MethodPost, "/widget", `[{"a":1}]`, http.StatusBadRequest},
		{"リソースなし", http.MethodGet, "/", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, tt.method, tt.target, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

// ページングとリンク生成を検証
func TestHandler_List_Pagination(t *testing.T) {
	store := repository.NewMemoryDocumentRepo()
	for i := 0; i < 5; i++ {
		store.InsertOne(context.Background(), "widget", model.Document{
			"n":         float64(i),
			"createdAt": model.FormatTimestamp(fixedNow.Add(time.Duration(i) * time.Second)),
		})
	}
	h := newTestPipeline(store, nil)

	rec := doRequest(t, h, http.MethodGet, "/widget?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	docs := decodeDocuments(t, rec)
	if len(docs) != 2 || docs[0]["n"] != float64(0) || docs[1]["n"] != float64(1) {
		t.Errorf("docs = %v", docs)
	}
	link := rec.Header().Get("Link")
	if !strings.Contains(link, `rel="next"`) || !strings.Contains(link, "skip=2") || strings.Contains(link, `rel="prev"`) {
		t.Errorf("Link = %q", link)
	}
	if !strings.HasPrefix(link, "<http://example.com/widget?") {
		t.Errorf("Link should be absolute: %q", link)
	}

	rec = doRequest(t, h, http.MethodGet, "/widget?limit=2&skip=4", "")
	docs = decodeDocuments(t, rec)
	if len(docs) != 1 || docs[0]["n"] != float64(4) {
		t.Errorf("docs = %v", docs)
	}
	link = rec.Header().Get("Link")
	if strings.Contains(link, `rel="next"`) {
		t.Errorf("unexpected next link: %q", link)
	}
	if !strings.Contains(link, "skip=2") || !strings.Contains(link, `rel="prev"`) {
		t.Errorf("Link = %q, want prev with skip=2", link)
	}

	// 1ページに収まる場合はLinkヘッダーを出さない
	rec = doRequest(t, h, http.MethodGet, "/widget", "")
	if len(decodeDocuments(t, rec)) != 5 || rec.Header().Get("Link") != "" {
		t.Errorf("Link = %q", rec.Header().Get("Link"))
	}
}

// ソート・プロジェクション・フィルタを検証
func TestHandler_List_SortFieldsFilter(t *testing.T) {
	store := repository.NewMemoryDocumentRepo()
	for _, d := range []model.Document{
		{"name": "b", "company": "acme", "color": "red"},
		{"name": "a", "company": "acme", "color": "blue"},
		{"name": "c", "company": "other", "color": "red"},
	} {
		store.InsertOne(context.Background(), "widget", d)
	}
	h := newTestPipeline(store, nil)

	rec := doRequest(t, h, http.MethodGet, "/widget?company=acme&sort=-name&fields=name", "")
	docs := decodeDocuments(t, rec)
	if len(docs) != 2 || docs[0]["name"] != "b" || docs[1]["name"] != "a" {
		t.Fatalf("docs = %v", docs)
	}
	if _, ok := docs[0]["company"]; ok {
		t.Errorf("projection should drop company: %v", docs[0])
	}
	if docs[0].ID() == "" {
		t.Error("projection should keep id")
	}

	rec = doRequest(t, h, http.MethodGet, "/widget?limit=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// 所有者条件により他人のドキュメントが見えないことを検証
func TestHandler_OwnershipFilter(t *testing.T) {
	store := repository.NewMemoryDocumentRepo()
	ctx := context.Background()
	mine, _ := store.InsertOne(ctx, "widget", model.Document{"name": "mine", "createdBy": "u1"})
	theirs, _ := store.InsertOne(ctx, "widget", model.Document{"name": "theirs", "createdBy": "u2"})
	store.InsertOne(ctx, "widget", model.Document{"name": "theirs-too", "createdBy": "u2"})

	h := newTestPipeline(store, &model.Principal{ID: "u1", Filter: model.Filter{"createdBy": "u1"}})

	rec := doRequest(t, h, http.MethodGet, "/widget?createdBy=u2", "")
	docs := decodeDocuments(t, rec)
	if len(docs) != 1 || docs[0].ID() != mine.ID() {
		t.Errorf("docs = %v, want only own document", docs)
	}

	if rec := doRequest(t, h, http.MethodGet, "/widget/"+theirs.ID(), ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET other = %d, want 404", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodPatch, "/widget/"+theirs.ID(), `{"name":"x"}`); rec.Code != http.StatusNotFound {
		t.Errorf("PATCH other = %d, want 404", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodDelete, "/widget/"+theirs.ID(), ""); rec.Code != http.StatusNotFound {
		t.Errorf("DELETE other = %d, want 404", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodDelete, "/widget/"+mine.ID(), ""); rec.Code != http.StatusNoContent {
		t.Errorf("DELETE own = %d, want 204", rec.Code)
	}
}

// PUTは置き換え、PATCHはマージであることを検証
func TestHandler_ReplaceAndPatch(t *testing.T) {
	store := repository.NewMemoryDocumentRepo()
	created, _ := store.InsertOne(context.Background(), "widget", model.Document{
		"name":      "a",
		"company":   "acme",
		"createdBy": "owner",
		"createdAt": "2020-01-01T00:00:00.000Z",
	})
	h := newTestPipeline(store, &model.Principal{ID: "editor"})

	rec := doRequest(t, h, http.MethodPatch, "/widget/"+created.ID(), `{"color":"red","createdBy":"hacker"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PATCH status = %d", rec.Code)
	}
	patched := decodeDocument(t, rec)
	if patched["company"] != "acme" || patched["color"] != "red" {
		t.Errorf("PATCH should merge: %v", patched)
	}
	if patched["createdBy"] != "owner" || patched["updatedBy"] != "editor" {
		t.Errorf("createdBy/updatedBy = %v/%v", patched["createdBy"], patched["updatedBy"])
	}
	if patched["createdAt"] != "2020-01-01T00:00:00.000Z" {
		t.Errorf("PATCH must not touch createdAt: %v", patched["createdAt"])
	}

	rec = doRequest(t, h, http.MethodPut, "/widget/"+created.ID(), `{"name":"b","createdBy":"hacker","id":"other"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d", rec.Code)
	}
	replaced := decodeDocument(t, rec)
	if _, ok := replaced["company"]; ok {
		t.Errorf("PUT should replace: %v", replaced)
	}
	if replaced.ID() != created.ID() || replaced["name"] != "b" {
		t.Errorf("replaced = %v", replaced)
	}
	if replaced["createdBy"] != "owner" {
		t.Errorf("createdBy = %v, want owner", replaced["createdBy"])
	}
	if replaced["createdAt"] != model.FormatTimestamp(fixedNow) {
		t.Errorf("createdAt = %v, want now", replaced["createdAt"])
	}
}

// 保護フィールドがPUTで引き継がれ、条件に使えないことを検証
func TestHandler_ProtectedFields(t *testing.T) {
	store := repository.NewMemoryDocumentRepo()
	created, _ := store.InsertOne(context.Background(), "account", model.Document{"name": "a", "secret": "s"})
	h := newTestPipeline(store, nil, WithProtectedFields("account", "secret"))

	rec := doRequest(t, h, http.MethodPut, "/account/"+created.ID(), `{"name":"b"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	found, _ := store.FindOne(context.Background(), "account", model.Filter{"id": created.ID()}, nil)
	if found["secret"] != "s" {
		t.Errorf("secret = %v, want carried over", found["secret"])
	}

	rec = doRequest(t, h, http.MethodGet, "/account?secret=wrong", "")
	if docs := decodeDocuments(t, rec); len(docs) != 1 {
		t.Errorf("protected field must not be used as a filter: %v", docs)
	}
}

// レスポンス変換が適用されることを検証
func TestHandler_AppliesTransformer(t *testing.T) {
	store := repository.NewMemoryDocumentRepo()
	created, _ := store.InsertOne(context.Background(), "widget", model.Document{"name": "a", "hidden": "x"})

	h := NewHandler(store, 10)
	p := pipeline.New([]pipeline.Step{
		func(_ context.Context, rc *pipeline.Context) pipeline.Outcome {
			rc.Transformer = func(d model.Document) model.Document { return d.Without("hidden") }
			return pipeline.Next()
		},
		h.Step,
	})

	rec := doRequest(t, p, http.MethodGet, "/widget/"+created.ID(), "")
	if _, ok := decodeDocument(t, rec)["hidden"]; ok {
		t.Error("transformer was not applied")
	}
}

// userリソースの作成では作成者を付与しないことを検証
func TestHandler_Create_UserHasNoCreatedBy(t *testing.T) {
	store := repository.NewMemoryDocumentRepo()
	h := newTestPipeline(store, &model.Principal{ID: "admin"})

	rec := doRequest(t, h, http.MethodPost, "/user", `{"email":"a@example.com"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, ok := decodeDocument(t, rec)["createdBy"]; ok {
		t.Error("user documents must not carry createdBy")
	}
}
