// Package worker relays audit outbox entries to the audit stream.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"brokerguard/pkg/platform/audit/store/postgres"
)

// Outbox is the subset of the Postgres audit store the relay drains.
type Outbox interface {
	PendingOutbox(ctx context.Context, limit int) ([]postgres.OutboxEntry, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Producer publishes one keyed payload.
type Producer interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Worker polls the outbox and publishes entries in creation order. An entry
// is marked published only after the producer acknowledges it, so delivery is
// at-least-once.
type Worker struct {
	outbox    Outbox
	producer  Producer
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

type Option func(*Worker)

func WithInterval(d time.Duration) Option {
	return func(w *Worker) { w.interval = d }
}

func WithBatchSize(n int) Option {
	return func(w *Worker) { w.batchSize = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

func NewWorker(outbox Outbox, producer Producer, opts ...Option) *Worker {
	w := &Worker{
		outbox:    outbox,
		producer:  producer,
		interval:  time.Second,
		batchSize: 100,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run relays until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.RelayOnce(ctx); err != nil {
				w.logger.WarnContext(ctx, "audit outbox relay failed", "error", err)
			}
		}
	}
}

// RelayOnce publishes one batch and returns how many entries were delivered.
// It stops at the first publish failure to preserve ordering.
func (w *Worker) RelayOnce(ctx context.Context) (int, error) {
	entries, err := w.outbox.PendingOutbox(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, e := range entries {
		if err := w.producer.Publish(ctx, e.Key, e.Payload); err != nil {
			return sent, err
		}
		if err := w.outbox.MarkPublished(ctx, e.ID, time.Now()); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
