// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// パイプラインやメール送信ワーカーから利用する。
type MetricsCollector interface {
	RecordRequest(resource, method string, statusCode int, duration time.Duration)
	RecordLoginFailure()
	RecordEmailSent(template string)
	RecordEmailFailure(template string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	loginFailures prometheus.Counter
	emailsSent    *prometheus.CounterVec
	emailsFailed  *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wrestler_requests_total",
			Help: "リソース・メソッド・ステータスコード別のリクエスト数",
		}, []string{"resource", "method", "status_code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wrestler_request_duration_seconds",
			Help:    "パイプラインの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"resource", "method"}),
		loginFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wrestler_login_failures_total",
			Help: "ログイン失敗の合計数",
		}),
		emailsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wrestler_emails_sent_total",
			Help: "テンプレート別のメール送信成功数",
		}, []string{"template"}),
		emailsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wrestler_emails_failed_total",
			Help: "テンプレート別のメール送信失敗数",
		}, []string{"template"}),
	}

	reg.MustRegister(
		c.requests,
		c.latency,
		c.loginFailures,
		c.emailsSent,
		c.emailsFailed,
	)

	return c
}

// RecordRequest はパイプラインで処理したリクエストを記録する。
func (c *Collector) RecordRequest(resource, method string, statusCode int, duration time.Duration) {
	c.requests.WithLabelValues(resource, method, strconv.Itoa(statusCode)).Inc()
	c.latency.WithLabelValues(resource, method).Observe(duration.Seconds())
}

// RecordLoginFailure はログイン失敗を記録する。
func (c *Collector) RecordLoginFailure() {
	c.loginFailures.Inc()
}

// RecordEmailSent はメール送信成功を記録する。
func (c *Collector) RecordEmailSent(template string) {
	c.emailsSent.WithLabelValues(template).Inc()
}

// RecordEmailFailure はメール送信失敗を記録する。
func (c *Collector) RecordEmailFailure(template string) {
	c.emailsFailed.WithLabelValues(template).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordRequest(string, string, int, time.Duration) {}
func (Nop) RecordLoginFailure()                               {}
func (Nop) RecordEmailSent(string)                            {}
func (Nop) RecordEmailFailure(string)                         {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
