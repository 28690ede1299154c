package jobs

import (
	"context"
	"encoding/json"
	"time"

	id "brokerguard/pkg/domain"
)

// Queue is the only way stages hand work to each other.
type Queue interface {
	Enqueue(ctx context.Context, job Job, opts EnqueueOptions) (id.JobID, error)
}

// Envelope is a claimed job as the worker sees it.
type Envelope struct {
	ID          id.JobID
	Name        Name
	Payload     json.RawMessage
	Attempt     int // 1-based, incremented on claim
	MaxAttempts int
	Backoff     Backoff
	RunAt       time.Time
}

// Exhausted reports whether this was the last permitted attempt.
func (e Envelope) Exhausted() bool {
	return e.Attempt >= e.MaxAttempts
}

// Prepare validates and encodes a job for storage, filling in default
// options where the caller left them zero.
func Prepare(job Job, opts EnqueueOptions) (Name, json.RawMessage, EnqueueOptions, error) {
	if err := Validate(job); err != nil {
		return "", nil, opts, err
	}
	name, raw, err := Encode(job)
	if err != nil {
		return "", nil, opts, err
	}
	def := DefaultOptions(name)
	if opts.Attempts < 1 {
		opts.Attempts = def.Attempts
	}
	if opts.Backoff.Kind == "" {
		opts.Backoff = def.Backoff
	}
	return name, raw, opts, nil
}
