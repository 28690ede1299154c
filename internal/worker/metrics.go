package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Processed      *prometheus.CounterVec
	Duration       *prometheus.HistogramVec
	LockContention *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Processed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerguard_jobs_processed_total",
			Help: "Jobs processed by name and outcome (completed, retried, failed, deferred)",
		}, []string{"job", "outcome"}),
		Duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "brokerguard_job_duration_seconds",
			Help:    "Job handler duration",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"job"}),
		LockContention: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerguard_job_lock_contention_total",
			Help: "Jobs deferred because another worker held the stage lock",
		}, []string{"job"}),
	}
}

func (m *Metrics) observe(job, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Processed.WithLabelValues(job, outcome).Inc()
	if seconds > 0 {
		m.Duration.WithLabelValues(job).Observe(seconds)
	}
}

func (m *Metrics) incContention(job string) {
	if m == nil {
		return
	}
	m.LockContention.WithLabelValues(job).Inc()
}
