// Package requestcontext provides context accessors for values scoped to a single
// unit of work (a job execution, a scheduler tick, a test).
//
// Usage in workers (set values):
//
//	ctx = requestcontext.WithJobID(ctx, job.ID)
//	ctx = requestcontext.WithTime(ctx, tickTime)
//
// Usage in services (read values):
//
//	now := requestcontext.Now(ctx)
//	jobID := requestcontext.JobID(ctx)
package requestcontext

import (
	"context"
	"time"

	id "brokerguard/pkg/domain"
)

type (
	jobIDKey       struct{}
	attemptKey     struct{}
	correlationKey struct{}
	requestTimeKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyJobID         = jobIDKey{}
	ContextKeyAttempt       = attemptKey{}
	ContextKeyCorrelationID = correlationKey{}
	ContextKeyRequestTime   = requestTimeKey{}
)

// JobID retrieves the ID of the job being executed.
// Returns the zero value (nil UUID) if not set.
func JobID(ctx context.Context) id.JobID {
	if jobID, ok := ctx.Value(ContextKeyJobID).(id.JobID); ok {
		return jobID
	}
	return id.JobID{}
}

// WithJobID injects a job ID into the context.
func WithJobID(ctx context.Context, jobID id.JobID) context.Context {
	return context.WithValue(ctx, ContextKeyJobID, jobID)
}

// Attempt returns the 1-based attempt number of the running job, or 0.
func Attempt(ctx context.Context) int {
	if n, ok := ctx.Value(ContextKeyAttempt).(int); ok {
		return n
	}
	return 0
}

func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, ContextKeyAttempt, attempt)
}

// CorrelationID retrieves the correlation ID used to tie audit events together.
func CorrelationID(ctx context.Context) string {
	if c, ok := ctx.Value(ContextKeyCorrelationID).(string); ok {
		return c
	}
	return ""
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, ContextKeyCorrelationID, correlationID)
}

// Now retrieves the work-scoped time from context.
// Falls back to time.Now() if not set.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
// Useful for:
//   - Service unit tests that need a fixed clock
//   - Workers that need consistent time within a batch operation
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
