package biometric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records biometric service health.
type Metrics struct {
	calls      *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	mismatches prometheus.Counter
}

// NewMetrics registers biometric metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "insureflow_biometric_calls_total",
			Help: "Biometric service calls by operation and outcome",
		}, []string{"operation", "outcome"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "insureflow_biometric_call_duration_seconds",
			Help:    "Biometric service call latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		mismatches: f.NewCounter(prometheus.CounterOpts{
			Name: "insureflow_biometric_mismatches_total",
			Help: "Verifications that completed without a match",
		}),
	}
}

func (m *Metrics) recordCall(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(op, outcome).Inc()
	if d > 0 {
		m.latency.WithLabelValues(op).Observe(d.Seconds())
	}
}

func (m *Metrics) recordMismatch() {
	if m == nil {
		return
	}
	m.mismatches.Inc()
}
