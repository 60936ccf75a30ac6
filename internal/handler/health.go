package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sketchdev/wrestler/internal/pipeline"
)

// HealthTimeout はストレージへの疎通確認のタイムアウト。
const HealthTimeout = 2 * time.Second

// HealthChecker はストレージへの疎通を確認する。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthHandler はGET /healthを処理する。
type HealthHandler struct {
	checker HealthChecker
}

// NewHealthHandler はHealthHandlerを生成する。checkerがnilの場合は常に正常を返す。
func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// ServeHTTP はストレージに到達できれば200、できなければ503を返す。
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.checker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), HealthTimeout)
		defer cancel()

		if err := h.checker.Ping(ctx); err != nil {
			slog.Warn("health check failed", slog.String("error", err.Error()))
			pipeline.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}

	pipeline.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
