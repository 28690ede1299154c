// Package metrics holds engine-wide collectors that do not belong to one
// domain package.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// QueueCounter reports job rows by status.
type QueueCounter interface {
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// QueueDepth is a collector that reads job counts at scrape time.
type QueueDepth struct {
	counter QueueCounter
	timeout time.Duration
	logger  *slog.Logger
	depth   *prometheus.Desc
	up      *prometheus.Desc
}

func NewQueueDepth(counter QueueCounter, logger *slog.Logger) *QueueDepth {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueDepth{
		counter: counter,
		timeout: 2 * time.Second,
		logger:  logger,
		depth: prometheus.NewDesc(
			"brokerguard_job_queue_depth",
			"Jobs in the queue by status",
			[]string{"status"}, nil,
		),
		up: prometheus.NewDesc(
			"brokerguard_job_queue_up",
			"Whether the last queue count succeeded",
			nil, nil,
		),
	}
}

func (q *QueueDepth) Describe(ch chan<- *prometheus.Desc) {
	ch <- q.depth
	ch <- q.up
}

func (q *QueueDepth) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	counts, err := q.counter.CountByStatus(ctx)
	if err != nil {
		q.logger.Warn("queue depth scrape failed", "error", err)
		ch <- prometheus.MustNewConstMetric(q.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(q.up, prometheus.GaugeValue, 1)
	for status, n := range counts {
		ch <- prometheus.MustNewConstMetric(q.depth, prometheus.GaugeValue, float64(n), status)
	}
}
