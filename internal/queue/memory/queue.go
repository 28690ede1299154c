// Package memory is an in-process job queue for tests and single-node runs.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"brokerguard/internal/jobs"
	id "brokerguard/pkg/domain"
	"brokerguard/pkg/platform/sentinel"
	"brokerguard/pkg/requestcontext"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record is a job row as stored by the queue.
type Record struct {
	jobs.Envelope
	Status    Status
	LastError string
	QueuedAt  time.Time
}

type Queue struct {
	mu   sync.Mutex
	seq  int
	rows map[id.JobID]*Record
	// order preserves insertion for stable claims among equal run times.
	order map[id.JobID]int
}

func New() *Queue {
	return &Queue{
		rows:  make(map[id.JobID]*Record),
		order: make(map[id.JobID]int),
	}
}

func (q *Queue) Enqueue(ctx context.Context, job jobs.Job, opts jobs.EnqueueOptions) (id.JobID, error) {
	name, raw, opts, err := jobs.Prepare(job, opts)
	if err != nil {
		return id.JobID{}, err
	}
	now := requestcontext.Now(ctx)
	jobID := id.NewJobID()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.order[jobID] = q.seq
	q.rows[jobID] = &Record{
		Envelope: jobs.Envelope{
			ID:          jobID,
			Name:        name,
			Payload:     raw,
			MaxAttempts: opts.Attempts,
			Backoff:     opts.Backoff,
			RunAt:       now.Add(opts.Delay),
		},
		Status:   StatusQueued,
		QueuedAt: now,
	}
	return jobID, nil
}

// ClaimNext hands out the earliest due job and counts the attempt.
func (q *Queue) ClaimNext(_ context.Context, now time.Time) (jobs.Envelope, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var next *Record
	for _, r := range q.rows {
		if r.Status != StatusQueued || r.RunAt.After(now) {
			continue
		}
		if next == nil || r.RunAt.Before(next.RunAt) ||
			(r.RunAt.Equal(next.RunAt) && q.order[r.ID] < q.order[next.ID]) {
			next = r
		}
	}
	if next == nil {
		return jobs.Envelope{}, false, nil
	}
	next.Status = StatusRunning
	next.Attempt++
	return next.Envelope, true, nil
}

func (q *Queue) MarkCompleted(_ context.Context, jobID id.JobID) error {
	return q.update(jobID, func(r *Record) {
		r.Status = StatusCompleted
		r.LastError = ""
	})
}

// Retry requeues a job after a failed attempt.
func (q *Queue) Retry(_ context.Context, jobID id.JobID, runAt time.Time, reason string) error {
	return q.update(jobID, func(r *Record) {
		r.Status = StatusQueued
		r.RunAt = runAt
		r.LastError = reason
	})
}

// Defer requeues a job without consuming the attempt it was claimed with.
func (q *Queue) Defer(_ context.Context, jobID id.JobID, runAt time.Time) error {
	return q.update(jobID, func(r *Record) {
		r.Status = StatusQueued
		r.RunAt = runAt
		if r.Attempt > 0 {
			r.Attempt--
		}
	})
}

func (q *Queue) MarkFailed(_ context.Context, jobID id.JobID, reason string) error {
	return q.update(jobID, func(r *Record) {
		r.Status = StatusFailed
		r.LastError = reason
	})
}

func (q *Queue) update(jobID id.JobID, fn func(*Record)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.rows[jobID]
	if !ok {
		return sentinel.ErrNotFound
	}
	fn(r)
	return nil
}

// Get returns a copy of a job row.
func (q *Queue) Get(jobID id.JobID) (Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.rows[jobID]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Pending returns queued jobs in enqueue order, decoded.
func (q *Queue) Pending() []jobs.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var rows []*Record
	for _, r := range q.rows {
		if r.Status == StatusQueued {
			rows = append(rows, r)
		}
	}
	slices.SortFunc(rows, func(a, b *Record) int { return q.order[a.ID] - q.order[b.ID] })
	out := make([]jobs.Job, 0, len(rows))
	for _, r := range rows {
		j, err := jobs.Decode(r.Name, r.Payload)
		if err != nil {
			continue
		}
		out = append(out, j)
	}
	return out
}

// PendingByName filters Pending to one job name.
func (q *Queue) PendingByName(name jobs.Name) []jobs.Job {
	var out []jobs.Job
	for _, j := range q.Pending() {
		if j.JobName() == name {
			out = append(out, j)
		}
	}
	return out
}

func (q *Queue) CountByStatus(_ context.Context) (map[string]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int)
	for _, r := range q.rows {
		out[string(r.Status)]++
	}
	return out, nil
}
