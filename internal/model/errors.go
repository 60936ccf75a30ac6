// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// BaseField はフィールドに紐付かないエラーメッセージを格納するキー。
const BaseField = "base"

// APIError は統一エラーフォーマットを表す。
// Codeでエラーの種別を、Messagesでフィールドごとのメッセージを保持する。
type APIError struct {
	Code     string              // エラーコード
	Messages map[string][]string // フィールド名 -> メッセージ一覧
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("[%s]", e.Code)
	}

	fields := make([]string, 0, len(e.Messages))
	for field := range e.Messages {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, strings.Join(e.Messages[field], ", ")))
	}
	return fmt.Sprintf("[%s] %s", e.Code, strings.Join(parts, "; "))
}

// 定義済みエラーコード
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeWhitelist      = "WHITELIST_ERROR"
	ErrCodeLogin          = "LOGIN_ERROR"
	ErrCodeAuthentication = "AUTHENTICATION_ERROR"
	ErrCodeForbidden      = "FORBIDDEN"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeBadRequest     = "BAD_REQUEST"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeUnknown        = "UNKNOWN_ERROR"
)

// LoginFailedMessage はログイン失敗時に返す唯一のメッセージ。
// 失敗理由（未登録・未確認・パスワード不一致）を区別しない。
const LoginFailedMessage = "Invalid email or password"

func baseError(code, message string) *APIError {
	return &APIError{
		Code:     code,
		Messages: map[string][]string{BaseField: {message}},
	}
}

// NewValidationError はフィールドごとのメッセージを持つ検証エラーを生成する。
func NewValidationError(messages map[string][]string) *APIError {
	return &APIError{Code: ErrCodeValidation, Messages: messages}
}

// NewFieldError は単一フィールドの検証エラーを生成する。
func NewFieldError(field, message string) *APIError {
	return NewValidationError(map[string][]string{field: {message}})
}

// NewWhitelistError は許可されていないリソースへのアクセスエラーを生成する。
func NewWhitelistError(resource string) *APIError {
	return baseError(ErrCodeWhitelist, fmt.Sprintf("Resource %q is not available", resource))
}

// NewLoginError はログイン失敗エラーを生成する。
func NewLoginError() *APIError {
	return baseError(ErrCodeLogin, LoginFailedMessage)
}

// NewAuthenticationError は認証エラーを生成する。
func NewAuthenticationError(message string) *APIError {
	return baseError(ErrCodeAuthentication, message)
}

// NewForbiddenError は認可エラーを生成する。
func NewForbiddenError() *APIError {
	return baseError(ErrCodeForbidden, "You are not allowed to perform this action")
}

// NewNotFoundError は対象未検出エラーを生成する。レスポンスボディは持たない。
func NewNotFoundError() *APIError {
	return &APIError{Code: ErrCodeNotFound}
}

// NewBadRequestError は不正なリクエストのエラーを生成する。
func NewBadRequestError(message string) *APIError {
	return baseError(ErrCodeBadRequest, message)
}

// NewRateLimitError はレート制限超過エラーを生成する。
func NewRateLimitError() *APIError {
	return baseError(ErrCodeRateLimited, "Too many requests. Please try again later.")
}

// NewUnknownError は内部エラーを生成する。詳細はクライアントに返さない。
func NewUnknownError() *APIError {
	return baseError(ErrCodeUnknown, "An unknown error occurred")
}

// IsCode はerrがcodeのAPIErrorかどうかを判定する。
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// FieldErrors はフィールドごとの検証メッセージを集約する。
// 最初の失敗で打ち切らず、全フィールドの結果をまとめて返すために使う。
type FieldErrors map[string][]string

// Add はフィールドにメッセージを追加する。
func (fe FieldErrors) Add(field, message string) {
	fe[field] = append(fe[field], message)
}

// Has はフィールドにメッセージが存在するかを返す。
func (fe FieldErrors) Has(field string) bool {
	return len(fe[field]) > 0
}

// Empty はメッセージが1件もないかを返す。
func (fe FieldErrors) Empty() bool {
	return len(fe) == 0
}

// Err はメッセージがあれば検証エラーを、なければnilを返す。
func (fe FieldErrors) Err() error {
	if fe.Empty() {
		return nil
	}
	return NewValidationError(fe)
}
