// Package pipeline はリクエストを順序付きのステップ列で処理するオーケストレーターを提供する。
//
// 各ステップはリクエストごとのContextを受け取り、Outcomeで継続・停止・エラー停止を返す。
// 制御フローはOutcomeのタグで決まり、panicは想定外の失敗としてのみ扱う。
package pipeline

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/sketchdev/wrestler/internal/codec"
	"github.com/sketchdev/wrestler/internal/model"
)

// AuthState はAuthorizationヘッダーの検証結果。
type AuthState int

const (
	// AuthMissing はBearerトークンが送られていない状態。
	AuthMissing AuthState = iota
	// AuthInvalid はトークンが不正・期限切れ・形式誤りの状態。
	AuthInvalid
	// AuthValid はトークンの検証に成功した状態。
	AuthValid
)

func (s AuthState) String() string {
	switch s {
	case AuthMissing:
		return "missing"
	case AuthInvalid:
		return "invalid"
	case AuthValid:
		return "valid"
	default:
		return "unknown"
	}
}

// Context はリクエストスコープの状態。ステップ間で明示的に受け渡される。
type Context struct {
	Request *http.Request
	Writer  http.ResponseWriter

	// パスから解決した対象
	Resource string
	ID       string
	Method   string
	Query    url.Values

	// 本文。JSONオブジェクトはBody、配列はItemsに入る
	Body  model.Document
	Items []model.Document

	// 認証・認可の結果
	Auth      AuthState
	Principal *model.Principal

	// レスポンス直前にドキュメントへ適用する変換
	Transformer codec.Transformer

	Logger *slog.Logger
}

// Log はリクエストのロガーを返す。未設定の場合はデフォルトロガーを返す。
func (rc *Context) Log() *slog.Logger {
	if rc.Logger == nil {
		return slog.Default()
	}
	return rc.Logger
}

// PrincipalID は呼び出し元のIDを返す。未認証の場合は空文字を返す。
func (rc *Context) PrincipalID() string {
	if rc.Principal == nil {
		return ""
	}
	return rc.Principal.ID
}

// Scope は条件に所有者条件を重ねたフィルタを返す。所有者条件が優先される。
func (rc *Context) Scope(filter model.Filter) model.Filter {
	if filter == nil {
		filter = model.Filter{}
	}
	return filter.Merge(rc.Principal.OwnerFilter())
}

// Written はレスポンスが書き込み済みかを返す。
func (rc *Context) Written() bool {
	if rec, ok := rc.Writer.(*statusRecorder); ok {
		return rec.written
	}
	return false
}

// Respond はステータスとJSONボディを書き込み、パイプラインを停止する。
func (rc *Context) Respond(status int, v any) Outcome {
	WriteJSON(rc.Writer, status, v)
	return Done()
}

// RespondDocument はTransformerを適用したドキュメントを書き込む。
func (rc *Context) RespondDocument(status int, doc model.Document) Outcome {
	return rc.Respond(status, rc.Transformer.Apply(doc))
}

// RespondDocuments はTransformerを適用したドキュメント列を書き込む。
func (rc *Context) RespondDocuments(status int, docs []model.Document) Outcome {
	return rc.Respond(status, rc.Transformer.ApplyAll(docs))
}

// NoContent は204を書き込み、パイプラインを停止する。
func (rc *Context) NoContent() Outcome {
	rc.Writer.WriteHeader(http.StatusNoContent)
	return Done()
}

// WriteJSON はJSONレスポンスを書き込む。
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
