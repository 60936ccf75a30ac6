// Package rest はリソース名だけで動作する汎用のCRUDハンドラーを提供する。
//
// すべての読み書きは認可で注入された所有者条件で絞り込まれる。
package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sketchdev/wrestler/internal/model"
	"github.com/sketchdev/wrestler/internal/pipeline"
	"github.com/sketchdev/wrestler/internal/repository"
)

// DefaultPageSize は一覧取得の既定の件数。
const DefaultPageSize = 10

// Handler は汎用CRUDを行うパイプラインの終端ステップ。
type Handler struct {
	store     repository.DocumentStore
	pageSize  int
	baseURL   string
	protected map[string][]string
	carried   map[string][]string
	now       func() time.Time
}

// Option はHandlerの設定を変更する。
type Option func(*Handler)

// WithBaseURL はページングリンクの基点URLを設定する。
func WithBaseURL(baseURL string) Option {
	return func(h *Handler) {
		h.baseURL = baseURL
	}
}

// WithProtectedFields はリソースの保護フィールドを設定する。
// 保護フィールドはクエリの条件・ソートに使えず、PUTで省略されても既存の値が引き継がれる。
func WithProtectedFields(resource string, fields ...string) Option {
	return func(h *Handler) {
		h.protected[resource] = append(h.protected[resource], fields...)
	}
}

// WithCarriedFields はPUTで省略された場合に既存の値を引き継ぐフィールドを追加する。
// 保護フィールドと違い、クエリの条件・ソートには使える。
func WithCarriedFields(resource string, fields ...string) Option {
	return func(h *Handler) {
		h.carried[resource] = append(h.carried[resource], fields...)
	}
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// NewHandler はHandlerを生成する。pageSizeが0以下の場合はDefaultPageSizeを使う。
func NewHandler(store repository.DocumentStore, pageSize int, opts ...Option) *Handler {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	h := &Handler{
		store:     store,
		pageSize:  pageSize,
		protected: map[string][]string{},
		carried:   map[string][]string{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Step はメソッドに応じたCRUD操作を実行する。
func (h *Handler) Step(ctx context.Context, rc *pipeline.Context) pipeline.Outcome {
	if rc.Resource == "" {
		return pipeline.Fail(model.NewNotFoundError())
	}
	if rc.Items != nil {
		return pipeline.Fail(model.NewBadRequestError("Expected a JSON object"))
	}

	switch rc.Method {
	case http.MethodGet:
		if rc.ID == "" {
			return h.List(ctx, rc)
		}
		return h.Get(ctx, rc)
	case http.MethodPost:
		return h.Create(ctx, rc)
	case http.MethodPut:
		return h.Replace(ctx, rc)
	case http.MethodPatch:
		return h.Patch(ctx, rc)
	case http.MethodDelete:
		return h.Delete(ctx, rc)
	default:
		return pipeline.Next()
	}
}

// List はコレクションを取得する。次ページの有無を件数クエリなしで判定するため、limit+1件を取得する。
func (h *Handler) List(ctx context.Context, rc *pipeline.Context) pipeline.Outcome {
	cursor, err := ParseCursor(rc.Query, h.pageSize)
	if err != nil {
		return pipeline.Fail(err)
	}
	cursor = cursor.Without(h.protected[rc.Resource]...)

	docs, err := h.store.Find(ctx, rc.Resource, rc.Scope(cursor.Filter), cursor.Fields, repository.FindOptions{
		Sort:  cursor.Sort,
		Limit: cursor.Limit + 1,
		Skip:  cursor.Skip,
	})
	if err != nil {
		return pipeline.Fail(fmt.Errorf("failed to list %s: %w", rc.Resource, err))
	}

	hasMore := len(docs) > cursor.Limit
	if hasMore {
		docs = docs[:cursor.Limit]
	}

	base := RequestURL(rc.Request, h.baseURL, "/"+rc.Resource)
	if link := BuildLinks(base, cursor, rc.Query, hasMore).Header(); link != "" {
		rc.Writer.Header().Set("Link", link)
	}

	return rc.RespondDocuments(http.StatusOK, docs)
}

// Get はIDで1件取得する。
func (h *Handler) Get(ctx context.Context, rc *pipeline.Context) pipeline.Outcome {
	var fields []string
	if rc.Query != nil {
		fields = splitList(rc.Query.Get(ParamFields))
	}

	doc, err := h.store.FindOne(ctx, rc.Resource, rc.Scope(model.Filter{model.FieldID: rc.ID}), fields)
	if err != nil {
		return pipeline.Fail(fmt.Errorf("failed to get %s: %w", rc.Resource, err))
	}
	if doc == nil {
		return pipeline.Fail(model.NewNotFoundError())
	}

	return rc.RespondDocument(http.StatusOK, doc)
}

// Create はドキュメントを作成し、201とLocationヘッダーを返す。
func (h *Handler) Create(ctx context.Context, rc *pipeline.Context) pipeline.Outcome {
	if rc.ID != "" {
		return pipeline.Fail(model.NewBadRequestError("Cannot create a document with an id"))
	}

	inserted, err := h.Insert(ctx, rc, rc.Body)
	if err != nil {
		return pipeline.Fail(err)
	}

	return h.Created(rc, inserted)
}

// Insert はタイムスタンプと作成者を付与してドキュメントを保存する。
// 作成者はuserリソースと匿名の呼び出しでは付与しない。
func (h *Handler) Insert(ctx context.Context, rc *pipeline.Context, body model.Document) (model.Document, error) {
	doc := body.Without(model.FieldID)

	now := model.FormatTimestamp(h.now())
	doc[model.FieldCreatedAt] = now
	doc[model.FieldUpdatedAt] = now
	delete(doc, model.FieldCreatedBy)
	delete(doc, model.FieldUpdatedBy)
	if id := rc.PrincipalID(); id != "" && rc.Resource != model.ResourceUser {
		doc[model.FieldCreatedBy] = id
	}

	inserted, err := h.store.InsertOne(ctx, rc.Resource, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", rc.Resource, err)
	}

	rc.Log().Debug("document created",
		slog.String("resource", rc.Resource),
		slog.String("id", inserted.ID()),
	)

	return inserted, nil
}

// Created は201とLocationヘッダーでドキュメントを返す。
func (h *Handler) Created(rc *pipeline.Context, doc model.Document) pipeline.Outcome {
	rc.Writer.Header().Set("Location", "/"+rc.Resource+"/"+doc.ID())
	return rc.RespondDocument(http.StatusCreated, doc)
}

// Replace はドキュメントを置き換える。作成者は既存の値を引き継ぎ、作成日時と更新日時は現在時刻になる。
// リレーショナルストアでは置き換えは更新として扱われる。
func (h *Handler) Replace(ctx context.Context, rc *pipeline.Context) pipeline.Outcome {
	if rc.ID == "" {
		return pipeline.Fail(model.NewBadRequestError("An id is required"))
	}

	filter := rc.Scope(model.Filter{model.FieldID: rc.ID})
	existing, err := h.store.FindOne(ctx, rc.Resource, filter, nil)
	if err != nil {
		return pipeline.Fail(fmt.Errorf("failed to find %s: %w", rc.Resource, err))
	}
	if existing == nil {
		return pipeline.Fail(model.NewNotFoundError())
	}

	doc := rc.Body.Without(model.FieldID, model.FieldCreatedBy, model.FieldCreatedAt, model.FieldUpdatedBy)
	carried := append([]string{model.FieldCreatedBy}, h.protected[rc.Resource]...)
	carried = append(carried, h.carried[rc.Resource]...)
	for _, f := range carried {
		if _, ok := doc[f]; ok {
			continue
		}
		if v, ok := existing[f]; ok {
			doc[f] = v
		}
	}

	now := model.FormatTimestamp(h.now())
	doc[model.FieldCreatedAt] = now
	doc[model.FieldUpdatedAt] = now
	if id := rc.PrincipalID(); id != "" {
		doc[model.FieldUpdatedBy] = id
	}

	replaced, err := h.store.FindOneAndReplace(ctx, rc.Resource, filter, doc)
	if err != nil {
		return pipeline.Fail(fmt.Errorf("failed to replace %s: %w", rc.Resource, err))
	}
	if replaced == nil {
		return pipeline.Fail(model.NewNotFoundError())
	}

	return rc.RespondDocument(http.StatusOK, replaced)
}

// Patch は送信されたフィールドだけをマージする。
func (h *Handler) Patch(ctx context.Context, rc *pipeline.Context) pipeline.Outcome {
	if rc.ID == "" {
		return pipeline.Fail(model.NewBadRequestError("An id is required"))
	}

	updated, err := h.PatchOne(ctx, h.store, rc, rc.Resource, rc.ID, rc.Body)
	if err != nil {
		return pipeline.Fail(err)
	}

	return rc.RespondDocument(http.StatusOK, updated)
}

// PatchOne はstore上の1件にfieldsをマージする。一括更新からはトランザクションのstoreで呼ばれる。
// 一致するドキュメントがない場合はNotFoundErrorを返す。
func (h *Handler) PatchOne(ctx context.Context, store repository.DocumentStore, rc *pipeline.Context, resource, id string, fields model.Document) (model.Document, error) {
	target := model.Filter{model.FieldID: id}
	if rc.Principal.OwnerFilter().Conflicts(target) {
		return nil, model.NewNotFoundError()
	}

	doc := fields.Without(model.FieldID, model.FieldCreatedBy, model.FieldCreatedAt, model.FieldUpdatedBy)
	doc[model.FieldUpdatedAt] = model.FormatTimestamp(h.now())
	if pid := rc.PrincipalID(); pid != "" {
		doc[model.FieldUpdatedBy] = pid
	}

	updated, err := store.FindOneAndUpdate(ctx, resource, rc.Scope(target), doc)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", resource, err)
	}
	if updated == nil {
		return nil, model.NewNotFoundError()
	}

	return updated, nil
}

// Delete はドキュメントを削除し、204を返す。
func (h *Handler) Delete(ctx context.Context, rc *pipeline.Context) pipeline.Outcome {
	if rc.ID == "" {
		return pipeline.Fail(model.NewBadRequestError("An id is required"))
	}

	deleted, err := h.store.DeleteOne(ctx, rc.Resource, rc.Scope(model.Filter{model.FieldID: rc.ID}))
	if err != nil {
		return pipeline.Fail(fmt.Errorf("failed to delete %s: %w", rc.Resource, err))
	}
	if !deleted {
		return pipeline.Fail(model.NewNotFoundError())
	}

	return rc.NoContent()
}
