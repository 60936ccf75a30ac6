package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sketchdev/wrestler/internal/metrics"
	"github.com/sketchdev/wrestler/internal/middleware"
	"github.com/sketchdev/wrestler/internal/model"
)

// statusRecorder はhttp.ResponseWriterをラップし、書き込み状態とステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.written {
		return
	}
	sr.statusCode = code
	sr.written = true
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.WriteHeader(http.StatusOK)
	}
	return sr.ResponseWriter.Write(b)
}

// Pipeline はステップを宣言順に実行するhttp.Handler。
type Pipeline struct {
	steps   []Step
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// Option はPipelineの設定を変更する。
type Option func(*Pipeline)

// WithLogger はロガーを設定する。
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithMetrics はメトリクス収集先を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// New はPipelineを生成する。先頭には常にパス解決のステップが入る。
func New(steps []Step, opts ...Option) *Pipeline {
	p := &Pipeline{
		steps:   append([]Step{Resolve}, steps...),
		logger:  slog.Default(),
		metrics: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ServeHTTP はリクエストをステップ列で処理する。
// どのステップもレスポンスを書き込まなかった場合は404を返す。
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
	rc := &Context{
		Request: r,
		Writer:  rec,
		Query:   r.URL.Query(),
		Logger:  p.logger,
	}

	if err := p.Run(r.Context(), rc); err != nil {
		p.writeError(rc, err)
	} else if !rec.written {
		middleware.WriteAPIError(rec, model.NewNotFoundError())
	}

	p.metrics.RecordRequest(rc.Resource, rc.Method, rec.statusCode, time.Since(start))
}

// Run はステップを順に実行し、エラー停止した場合はそのエラーを返す。
// ステップ内のpanicは想定外のエラーとして返す。
func (p *Pipeline) Run(ctx context.Context, rc *Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("panic recovered in pipeline step",
				slog.Any("panic", rec),
				slog.String("resource", rc.Resource),
				slog.String("method", rc.Method),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in pipeline step: %v", rec)
		}
	}()

	for _, step := range p.steps {
		out := step(ctx, rc)
		switch out.Kind {
		case Continue:
			continue
		case StopWithError:
			return out.Err
		default:
			return nil
		}
	}
	return nil
}

// writeError はエラーをステータスコードに対応付けて書き込む。
// APIError以外のエラーはログに記録し、詳細を含まない500に置き換える。
func (p *Pipeline) writeError(rc *Context, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		p.logger.Error("unknown error",
			slog.String("error", err.Error()),
			slog.String("resource", rc.Resource),
			slog.String("method", rc.Method),
			slog.String("path", rc.Request.URL.Path),
		)
		apiErr = model.NewUnknownError()
	}

	if rc.Written() {
		p.logger.Warn("error after response was written",
			slog.String("code", apiErr.Code),
			slog.String("path", rc.Request.URL.Path),
		)
		return
	}

	middleware.WriteAPIError(rc.Writer, apiErr)
}

// Resolve はパスから{resource, id}とメソッドを解決する。検証は行わない。
// 先頭セグメントを小文字化したものがリソース名、2番目のセグメントがIDになる。
func Resolve(ctx context.Context, rc *Context) Outcome {
	segments := strings.Split(strings.Trim(rc.Request.URL.Path, "/"), "/")
	rc.Resource = strings.ToLower(segments[0])
	if len(segments) > 1 {
		rc.ID = segments[1]
	}
	rc.Method = strings.ToUpper(rc.Request.Method)
	return Next()
}
