// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"sync"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストに呼び出し元の保持領域を格納するためのキー。
var principalContextKey = contextKey("principal_id")

// principalHolder は下流（パイプライン）で確定した呼び出し元IDを
// 上流（アクセスログ）へ受け渡すための保持領域。
type principalHolder struct {
	mu sync.Mutex
	id string
}

// ContextWithPrincipalHolder は空の保持領域を持つコンテキストを返す。
// すでに保持領域がある場合はそのまま返す。
func ContextWithPrincipalHolder(ctx context.Context) context.Context {
	if _, ok := ctx.Value(principalContextKey).(*principalHolder); ok {
		return ctx
	}
	return context.WithValue(ctx, principalContextKey, &principalHolder{})
}

// SetPrincipalID は認証済みの呼び出し元IDを保持領域に記録する。
// 保持領域がないコンテキストでは何もしない。
func SetPrincipalID(ctx context.Context, id string) {
	h, ok := ctx.Value(principalContextKey).(*principalHolder)
	if !ok {
		return
	}
	h.mu.Lock()
	h.id = id
	h.mu.Unlock()
}

// PrincipalIDFromContext はリクエストコンテキストから呼び出し元IDを取得する。
// 認証ステップを通過したリクエストでのみ有効。
func PrincipalIDFromContext(ctx context.Context) (string, error) {
	h, ok := ctx.Value(principalContextKey).(*principalHolder)
	if !ok {
		return "", fmt.Errorf("principal not found in context")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.id == "" {
		return "", fmt.Errorf("principal not found in context")
	}
	return h.id, nil
}
