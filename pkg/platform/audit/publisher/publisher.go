// Package publisher provides the audit sink used by domain services.
//
// In sync mode Record blocks until the store accepts the event and returns the
// store error; compliance-relevant callers treat that as a failed operation.
// In async mode events are buffered and written by a background goroutine;
// a full buffer drops the event with ErrBufferFull.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	audit "brokerguard/pkg/platform/audit"
	"brokerguard/pkg/requestcontext"
)

var ErrBufferFull = errors.New("audit buffer full")

type Publisher struct {
	store   audit.Store
	mirrors []audit.Appender
	logger  *slog.Logger

	async  chan audit.Event
	wg     sync.WaitGroup
	closed sync.Once
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithAsyncBuffer switches the publisher to buffered background writes.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.async = make(chan audit.Event, size)
		}
	}
}

// WithMirror adds a best-effort secondary appender (e.g. a Kafka topic).
// Mirror failures are logged, never returned.
func WithMirror(a audit.Appender) Option {
	return func(p *Publisher) {
		if a != nil {
			p.mirrors = append(p.mirrors, a)
		}
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.async != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Record enriches the event from ctx and persists it.
func (p *Publisher) Record(ctx context.Context, event audit.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.Category == "" {
		event.Category = audit.Action(event.Action).Category()
	}
	if event.CorrelationID == "" {
		event.CorrelationID = requestcontext.CorrelationID(ctx)
	}
	if event.JobID == "" {
		if jobID := requestcontext.JobID(ctx); !jobID.IsNil() {
			event.JobID = jobID.String()
		}
	}

	if p.async == nil {
		return p.write(ctx, event)
	}
	select {
	case p.async <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.logger.WarnContext(ctx, "audit buffer full, dropping event",
			"action", event.Action,
			"entity_id", event.EntityID,
		)
		return ErrBufferFull
	}
}

func (p *Publisher) write(ctx context.Context, event audit.Event) error {
	if err := p.store.Append(ctx, event); err != nil {
		p.logger.ErrorContext(ctx, "audit persistence failed",
			"action", event.Action,
			"entity_id", event.EntityID,
			"error", err,
		)
		return err
	}
	for _, m := range p.mirrors {
		if err := m.Append(ctx, event); err != nil {
			p.logger.WarnContext(ctx, "audit mirror failed",
				"action", event.Action,
				"error", err,
			)
		}
	}
	return nil
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.async {
		_ = p.write(context.Background(), event)
	}
}

// List returns events recorded for an entity.
func (p *Publisher) List(ctx context.Context, entityID string) ([]audit.Event, error) {
	return p.store.ListByEntity(ctx, entityID)
}

// Close drains buffered events.
func (p *Publisher) Close() {
	p.closed.Do(func() {
		if p.async != nil {
			close(p.async)
			p.wg.Wait()
		}
	})
}
