package acl

import (
	"context"
	"net/http"

	"github.com/sketchdev/wrestler/internal/model"
	"github.com/sketchdev/wrestler/internal/pipeline"
)

// ForceRole は匿名での自己登録（POST /user）のロールをroleに固定する認可関数を返す。
func ForceRole(role string) AuthorizeFunc {
	return func(_ context.Context, rc *pipeline.Context) pipeline.Outcome {
		if rc.Resource != model.ResourceUser || rc.ID != "" || rc.Method != http.MethodPost {
			return pipeline.Next()
		}
		if rc.Principal != nil {
			return pipeline.Next()
		}
		if rc.Body == nil {
			rc.Body = model.Document{}
		}
		rc.Body[model.FieldRole] = role
		return pipeline.Next()
	}
}
