// Package postgres is the durable job queue. Claims use FOR UPDATE SKIP LOCKED
// so any number of workers can poll the same table. A claim is a lease: a job
// left running past the lease by a dead worker becomes claimable again.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"brokerguard/internal/jobs"
	id "brokerguard/pkg/domain"
	"brokerguard/pkg/platform/sentinel"
	"brokerguard/pkg/requestcontext"
)

const (
	writeTimeout = 5 * time.Second
	defaultLease = 10 * time.Minute
)

type Queue struct {
	pool  *pgxpool.Pool
	lease time.Duration
}

type Option func(*Queue)

// WithLease sets how long a claimed job may stay running before another
// worker may reclaim it. It must exceed the worker's job timeout.
func WithLease(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.lease = d
		}
	}
}

func New(pool *pgxpool.Pool, opts ...Option) *Queue {
	q := &Queue{pool: pool, lease: defaultLease}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Enqueue(ctx context.Context, job jobs.Job, opts jobs.EnqueueOptions) (id.JobID, error) {
	name, raw, opts, err := jobs.Prepare(job, opts)
	if err != nil {
		return id.JobID{}, err
	}
	now := requestcontext.Now(ctx)
	jobID := id.NewJobID()
	_, err = q.pool.Exec(ctx, `
		INSERT INTO jobs (id, name, payload, status, attempts, max_attempts, backoff_kind, backoff_base, run_at, queued_at)
		VALUES ($1, $2, $3, 'queued', 0, $4, $5, $6, $7, $8)
	`, uuid.UUID(jobID), string(name), []byte(raw), opts.Attempts, string(opts.Backoff.Kind),
		opts.Backoff.Base.Nanoseconds(), now.Add(opts.Delay), now)
	if err != nil {
		return id.JobID{}, fmt.Errorf("enqueue %s: %w", name, err)
	}
	return jobID, nil
}

// ClaimNext locks the earliest due job, marks it running and bumps attempts.
// A running job whose lease has lapsed counts as due; its lost run consumes
// an attempt.
func (q *Queue) ClaimNext(ctx context.Context, now time.Time) (env jobs.Envelope, found bool, err error) {
	tx, err := q.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return env, false, fmt.Errorf("begin claim: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	var (
		jobID       uuid.UUID
		name        string
		payload     []byte
		attempts    int
		backoffKind string
		backoffBase int64
	)
	err = tx.QueryRow(ctx, `
		SELECT id, name, payload, attempts, max_attempts, backoff_kind, backoff_base, run_at
		FROM jobs
		WHERE (status = 'queued' AND run_at <= $1)
		   OR (status = 'running' AND started_at <= $2)
		ORDER BY run_at, queued_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, now, now.Add(-q.lease)).Scan(&jobID, &name, &payload, &attempts, &env.MaxAttempts, &backoffKind, &backoffBase, &env.RunAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return jobs.Envelope{}, false, nil
	}
	if err != nil {
		return env, false, fmt.Errorf("select next job: %w", err)
	}

	if _, err = tx.Exec(ctx, `
		UPDATE jobs SET status = 'running', started_at = $2, attempts = attempts + 1 WHERE id = $1
	`, jobID, now); err != nil {
		return env, false, fmt.Errorf("mark running: %w", err)
	}

	env.ID = id.JobID(jobID)
	env.Name = jobs.Name(name)
	env.Payload = payload
	env.Attempt = attempts + 1
	env.Backoff = jobs.Backoff{Kind: jobs.BackoffKind(backoffKind), Base: time.Duration(backoffBase)}
	return env, true, nil
}

func (q *Queue) MarkCompleted(ctx context.Context, jobID id.JobID) error {
	return q.exec(ctx, jobID, `
		UPDATE jobs SET status = 'completed', finished_at = $2, last_error = '' WHERE id = $1
	`, requestcontext.Now(ctx))
}

func (q *Queue) Retry(ctx context.Context, jobID id.JobID, runAt time.Time, reason string) error {
	return q.exec(ctx, jobID, `
		UPDATE jobs SET status = 'queued', run_at = $2, last_error = $3 WHERE id = $1
	`, runAt, reason)
}

// Defer requeues without consuming the claimed attempt.
func (q *Queue) Defer(ctx context.Context, jobID id.JobID, runAt time.Time) error {
	return q.exec(ctx, jobID, `
		UPDATE jobs SET status = 'queued', run_at = $2, attempts = GREATEST(attempts - 1, 0) WHERE id = $1
	`, runAt)
}

func (q *Queue) MarkFailed(ctx context.Context, jobID id.JobID, reason string) error {
	return q.exec(ctx, jobID, `
		UPDATE jobs SET status = 'failed', finished_at = $2, last_error = $3 WHERE id = $1
	`, requestcontext.Now(ctx), reason)
}

func (q *Queue) exec(ctx context.Context, jobID id.JobID, sql string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	tag, err := q.pool.Exec(ctx, sql, append([]any{uuid.UUID(jobID)}, args...)...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// CountByStatus feeds the queue depth gauge.
func (q *Queue) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := q.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}
