package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sketchdev/wrestler/internal/model"
)

// MaxBodyBytes はリクエストボディの上限サイズ。
const MaxBodyBytes = 1 << 20

// DecodeBody はPOST/PUT/PATCHの本文をJSONとして1度だけ解釈する。
// オブジェクトはBodyに、配列はItemsに格納する。空の本文は空オブジェクトとして扱う。
func DecodeBody(ctx context.Context, rc *Context) Outcome {
	switch rc.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return Next()
	}

	rc.Body = model.Document{}
	if rc.Request.Body == nil {
		return Next()
	}

	raw, err := io.ReadAll(http.MaxBytesReader(rc.Writer, rc.Request.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return Fail(model.NewBadRequestError("Request body is too large"))
		}
		return Fail(err)
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Next()
	}

	switch raw[0] {
	case '{':
		var doc model.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return Fail(model.NewBadRequestError("Request body is not valid JSON"))
		}
		rc.Body = doc
	case '[':
		var items []model.Document
		if err := json.Unmarshal(raw, &items); err != nil {
			return Fail(model.NewBadRequestError("Request body is not valid JSON"))
		}
		rc.Body = nil
		rc.Items = items
	default:
		return Fail(model.NewBadRequestError("Request body must be a JSON object or array"))
	}

	return Next()
}
