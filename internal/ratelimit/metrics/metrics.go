package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks admission outcomes and counter health. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Admissions          *prometheus.CounterVec
	TokensConsumed      prometheus.Counter
	ConsistencyFailures prometheus.Counter
	CounterReadFailures prometheus.Counter
	ReconcileRuns       *prometheus.CounterVec
	TokensUsedToday     prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Admissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "glaze_admissions_total",
			Help: "Admission decisions by outcome",
		}, []string{"outcome"}),
		TokensConsumed: f.NewCounter(prometheus.CounterOpts{
			Name: "glaze_tokens_consumed_total",
			Help: "Completion tokens added to the daily counter",
		}),
		ConsistencyFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "glaze_counter_consistency_failures_total",
			Help: "Counter increments that exhausted their verify retries",
		}),
		CounterReadFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "glaze_counter_read_failures_total",
			Help: "Counter reads that fell back to zero",
		}),
		ReconcileRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "glaze_reconcile_runs_total",
			Help: "Reconciliation runs by result",
		}, []string{"result"}),
		TokensUsedToday: f.NewGauge(prometheus.GaugeOpts{
			Name: "glaze_tokens_used_today",
			Help: "Last observed value of the daily token counter",
		}),
	}
}

func (m *Metrics) RecordAdmission(outcome string) {
	if m == nil {
		return
	}
	m.Admissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddTokensConsumed(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.TokensConsumed.Add(float64(n))
}

func (m *Metrics) IncrementConsistencyFailures() {
	if m == nil {
		return
	}
	m.ConsistencyFailures.Inc()
}

func (m *Metrics) IncrementReadFailures() {
	if m == nil {
		return
	}
	m.CounterReadFailures.Inc()
}

func (m *Metrics) RecordReconcile(result string) {
	if m == nil {
		return
	}
	m.ReconcileRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) SetTokensUsed(v int64) {
	if m == nil {
		return
	}
	m.TokensUsedToday.Set(float64(v))
}
