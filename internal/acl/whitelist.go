package acl

import (
	"context"
	"strings"

	"github.com/sketchdev/wrestler/internal/model"
	"github.com/sketchdev/wrestler/internal/pipeline"
)

// Whitelist は公開するリソースを限定するステップ。
// 一覧が空の場合はすべてのリソースを公開する。
type Whitelist struct {
	allowed map[string]bool
}

// NewWhitelist はWhitelistを生成する。
// usersEnabledがtrueの場合、userと_bulkは一覧になくても公開する。
func NewWhitelist(resources []string, usersEnabled bool) *Whitelist {
	allowed := make(map[string]bool, len(resources)+2)
	for _, r := range resources {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			allowed[r] = true
		}
	}
	if len(allowed) > 0 && usersEnabled {
		allowed[model.ResourceUser] = true
		allowed[model.ResourceBulk] = true
	}
	return &Whitelist{allowed: allowed}
}

// Enabled はホワイトリストモードが有効かを返す。
func (w *Whitelist) Enabled() bool {
	return len(w.allowed) > 0
}

// Step はパイプラインのステップとしてリソースを検査する。
func (w *Whitelist) Step(_ context.Context, rc *pipeline.Context) pipeline.Outcome {
	if !w.Enabled() || w.allowed[rc.Resource] {
		return pipeline.Next()
	}
	return pipeline.Fail(model.NewWhitelistError(rc.Resource))
}
