package audit

import "context"

// Appender is the write side of an audit store. Mirrors (Kafka) only need this.
type Appender interface {
	Append(ctx context.Context, event Event) error
}

// Store persists audit events and serves them back for reporting.
type Store interface {
	Appender
	ListByEntity(ctx context.Context, entityID string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Sink is what domain services depend on to record an event.
type Sink interface {
	Record(ctx context.Context, event Event) error
}
