package middleware

import (
	"context"
	"testing"
)

func TestPrincipalIDFromContext(t *testing.T) {
	ctx := ContextWithPrincipalHolder(context.Background())

	if _, err := PrincipalIDFromContext(ctx); err == nil {
		t.Error("expected error before principal is set")
	}

	SetPrincipalID(ctx, "user-1")

	got, err := PrincipalIDFromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "user-1" {
		t.Errorf("principal = %q, want %q", got, "user-1")
	}
}

// 保持領域がないコンテキストではSetPrincipalIDが何もしないことを検証
func TestSetPrincipalID_WithoutHolder(t *testing.T) {
	ctx := context.Background()
	SetPrincipalID(ctx, "user-1")

	if _, err := PrincipalIDFromContext(ctx); err == nil {
		t.Error("expected error without holder")
	}
}

// 保持領域を二重に作らないことを検証
func TestContextWithPrincipalHolder_Reuses(t *testing.T) {
	outer := ContextWithPrincipalHolder(context.Background())
	inner := ContextWithPrincipalHolder(outer)

	SetPrincipalID(inner, "user-2")

	if got, _ := PrincipalIDFromContext(outer); got != "user-2" {
		t.Errorf("principal = %q, want %q", got, "user-2")
	}
}
