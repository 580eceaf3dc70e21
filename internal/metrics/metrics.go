// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// サインアップ結果のラベル値
const (
	SignupOutcomeSuccess          = "success"
	SignupOutcomeValidationFailed = "validation_failed"
	SignupOutcomeIdentityFailed   = "identity_failed"
	SignupOutcomeProfileFailed    = "profile_failed"
	SignupOutcomeSessionFailed    = "session_failed"
)

// バックエンド呼び出し結果のラベル値
const (
	BackendOutcomeOK    = "ok"
	BackendOutcomeError = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// バックエンドクライアントやサインアップ処理から利用する。
type MetricsCollector interface {
	RecordSignup(outcome string)
	RecordSignupLatency(duration time.Duration)
	RecordBackendCall(operation, outcome string, duration time.Duration)
	RecordBackendStatus(statusCode int)
	RecordSessionsCleaned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signups         *prometheus.CounterVec
	signupLatency   prometheus.Histogram
	backendCalls    *prometheus.CounterVec
	backendLatency  *prometheus.HistogramVec
	backendStatus   *prometheus.CounterVec
	sessionsCleaned prometheus.Counter
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lensecho_signup_total",
			Help: "結果別のサインアップ試行数",
		}, []string{"outcome"}),
		signupLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lensecho_signup_latency_seconds",
			Help:    "サインアップ処理全体のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		backendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lensecho_backend_calls_total",
			Help: "操作・結果別のバックエンド呼び出し数",
		}, []string{"operation", "outcome"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lensecho_backend_latency_seconds",
			Help:    "バックエンド呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		backendStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lensecho_backend_http_status_total",
			Help: "バックエンドのHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lensecho_sessions_cleaned_total",
			Help: "クリーンアップで削除された期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.signups,
		c.signupLatency,
		c.backendCalls,
		c.backendLatency,
		c.backendStatus,
		c.sessionsCleaned,
	)

	return c
}

// RecordSignup はサインアップ試行の結果を記録する。
func (c *Collector) RecordSignup(outcome string) {
	c.signups.WithLabelValues(outcome).Inc()
}

// RecordSignupLatency はサインアップ処理のレイテンシを記録する。
func (c *Collector) RecordSignupLatency(duration time.Duration) {
	c.signupLatency.Observe(duration.Seconds())
}

// RecordBackendCall はバックエンド呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordBackendCall(operation, outcome string, duration time.Duration) {
	c.backendCalls.WithLabelValues(operation, outcome).Inc()
	c.backendLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBackendStatus はバックエンドのHTTPステータスコードを記録する。
func (c *Collector) RecordBackendStatus(statusCode int) {
	c.backendStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSessionsCleaned は削除されたセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。
// メトリクスを必要としないテストやツールで使用する。
type Nop struct{}

var _ MetricsCollector = Nop{}

func (Nop) RecordSignup(string) {}
func (Nop) RecordSignupLatency(time.Duration) {}
func (Nop) RecordBackendCall(string, string, time.Duration) {}
func (Nop) RecordBackendStatus(int) {}
func (Nop) RecordSessionsCleaned(int64) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute はAPIサーバーを持たないプロセス（worker）向けに
// GET /metrics と、healthがnilでなければ GET /health を提供するハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer, health http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler(gatherer))
	if health != nil {
		mux.Handle("GET /health", health)
	}
	return mux
}
