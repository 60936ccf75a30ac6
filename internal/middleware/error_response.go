package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/sketchdev/wrestler/internal/model"
)

// FieldMessages は1フィールド分のエラーメッセージ。
type FieldMessages struct {
	Messages []string `json:"messages"`
}

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// フィールド名をキーとし、フィールドに紐付かないエラーは "base" に格納する。
type ErrorResponseBody map[string]FieldMessages

// NewErrorResponseBody はAPIErrorからレスポンスボディを組み立てる。
func NewErrorResponseBody(apiErr *model.APIError) ErrorResponseBody {
	body := make(ErrorResponseBody, len(apiErr.Messages))
	for field, msgs := range apiErr.Messages {
		body[field] = FieldMessages{Messages: msgs}
	}
	return body
}

// HTTPStatus はエラーコードに対応するHTTPステータスコードを返す。
func HTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation:
		return http.StatusUnprocessableEntity
	case model.ErrCodeWhitelist, model.ErrCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeLogin, model.ErrCodeAuthentication:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeBadRequest:
		return http.StatusBadRequest
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// メッセージを持たないエラー（NotFound）はボディなしで応答する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	if len(apiErr.Messages) == 0 {
		w.WriteHeader(statusCode)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(NewErrorResponseBody(apiErr))
}

// WriteAPIError はエラーコードに対応するステータスでレスポンスを書き込む。
func WriteAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	WriteErrorResponse(w, HTTPStatus(apiErr), apiErr)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewUnknownError())
}
