package providers

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks outbound provider calls.
type Metrics struct {
	Calls       *prometheus.CounterVec
	Latency     *prometheus.HistogramVec
	CacheLookup *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Calls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerguard_provider_calls_total",
			Help: "Outbound provider calls by provider and outcome",
		}, []string{"provider", "outcome"}),

		Latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "brokerguard_provider_call_duration_seconds",
			Help:    "Duration of outbound provider calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider"}),

		CacheLookup: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerguard_provider_cache_lookups_total",
			Help: "Provider result cache lookups by provider and result (hit/miss)",
		}, []string{"provider", "result"}),
	}
}

func (m *Metrics) IncCall(provider, outcome string) {
	if m != nil {
		m.Calls.WithLabelValues(provider, outcome).Inc()
	}
}

func (m *Metrics) ObserveLatency(provider string, d time.Duration) {
	if m != nil {
		m.Latency.WithLabelValues(provider).Observe(d.Seconds())
	}
}

func (m *Metrics) IncCacheLookup(provider string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookup.WithLabelValues(provider, result).Inc()
}
