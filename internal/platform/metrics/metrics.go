package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds HTTP-level and upstream Prometheus metrics for the application.
type Metrics struct {
	RequestDuration  *prometheus.HistogramVec
	RequestsTotal    *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	CompletionTokens *prometheus.HistogramVec
}

// New creates and registers HTTP metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "glaze_http_request_duration_seconds",
			Help:    "Latency of HTTP requests by route",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"route"}),
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "glaze_http_requests_total",
			Help: "Total HTTP requests by route and status",
		}, []string{"route", "status"}),
		UpstreamDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "glaze_upstream_request_duration_seconds",
			Help:    "Latency of outbound calls by upstream, operation and outcome",
			Buckets: prometheus.DefBuckets,
		}, []string{"upstream", "operation", "outcome"}),
		CompletionTokens: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "glaze_completion_tokens",
			Help:    "Tokens reported per completion by kind",
			Buckets: prometheus.ExponentialBuckets(100, 2, 8),
		}, []string{"kind"}),
	}
}

// ObserveRequest records one finished request.
func (m *Metrics) ObserveRequest(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// ObserveUpstream records one outbound call. A nil error is outcome "ok".
func (m *Metrics) ObserveUpstream(upstream, operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.UpstreamDuration.WithLabelValues(upstream, operation, outcome).Observe(d.Seconds())
}

func (m *Metrics) ObserveCompletionTokens(kind string, tokens int64) {
	if m == nil {
		return
	}
	m.CompletionTokens.WithLabelValues(kind).Observe(float64(tokens))
}
