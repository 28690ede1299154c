package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for compliance checks and scoring.
type Metrics struct {
	// Check outcomes by type and result
	ChecksRun *prometheus.CounterVec

	// Evaluator latency by check type, including provider calls
	CheckLatency *prometheus.HistogramVec

	// Checks that degraded to WARNING because a provider was unreachable
	ProviderDegraded *prometheus.CounterVec

	// Distribution of recomputed compliance scores
	ComplianceScore prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		ChecksRun: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerguard_compliance_checks_total",
			Help: "Compliance checks run by type and result",
		}, []string{"check_type", "result"}),

		CheckLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "brokerguard_compliance_check_duration_seconds",
			Help:    "Duration of compliance check evaluation by type",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"check_type"}),

		ProviderDegraded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerguard_compliance_checks_degraded_total",
			Help: "Checks recorded as WARNING because their provider failed",
		}, []string{"check_type"}),

		ComplianceScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "brokerguard_compliance_score",
			Help:    "Recomputed broker compliance scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		}),
	}
}

func (m *Metrics) IncCheck(checkType, result string) {
	if m != nil {
		m.ChecksRun.WithLabelValues(checkType, result).Inc()
	}
}

func (m *Metrics) ObserveCheckLatency(checkType string, d time.Duration) {
	if m != nil {
		m.CheckLatency.WithLabelValues(checkType).Observe(d.Seconds())
	}
}

func (m *Metrics) IncDegraded(checkType string) {
	if m != nil {
		m.ProviderDegraded.WithLabelValues(checkType).Inc()
	}
}

func (m *Metrics) ObserveScore(score float64) {
	if m != nil {
		m.ComplianceScore.Observe(score)
	}
}
