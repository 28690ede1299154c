// Package worker claims jobs from the queue and runs them on a bounded pool.
//
// A dispatcher polls Source.ClaimNext and feeds N goroutines. Each job holds a
// KV lock on its (broker, stage) key while it runs; contention defers the job
// without consuming an attempt. Failures are retried with the job's backoff
// until its attempts are exhausted, then marked failed and handed to the
// exhaustion hook.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"brokerguard/internal/jobs"
	id "brokerguard/pkg/domain"
	dErrors "brokerguard/pkg/domain-errors"
	"brokerguard/pkg/platform/kv"
	"brokerguard/pkg/platform/sentinel"
	"brokerguard/pkg/requestcontext"
)

// Source is the queue surface the worker drives.
type Source interface {
	ClaimNext(ctx context.Context, now time.Time) (jobs.Envelope, bool, error)
	MarkCompleted(ctx context.Context, jobID id.JobID) error
	Retry(ctx context.Context, jobID id.JobID, runAt time.Time, reason string) error
	Defer(ctx context.Context, jobID id.JobID, runAt time.Time) error
	MarkFailed(ctx context.Context, jobID id.JobID, reason string) error
}

// Handler executes one decoded job.
type Handler interface {
	Handle(ctx context.Context, job jobs.Job) error
}

// ExhaustionHook is told about jobs that will not be retried again.
type ExhaustionHook interface {
	OnExhausted(ctx context.Context, job jobs.Job, cause error) error
}

type Pool struct {
	source  Source
	handler Handler
	locks   kv.Store

	hook           ExhaustionHook
	concurrency    int
	pollInterval   time.Duration
	lockTTL        time.Duration
	lockRetryDelay time.Duration
	jobTimeout     time.Duration
	now            func() time.Time
	logger         *slog.Logger
	metrics        *Metrics
}

type Option func(*Pool)

func WithConcurrency(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(p *Pool) { p.pollInterval = d }
}

func WithLockTTL(d time.Duration) Option {
	return func(p *Pool) { p.lockTTL = d }
}

func WithLockRetryDelay(d time.Duration) Option {
	return func(p *Pool) { p.lockRetryDelay = d }
}

func WithJobTimeout(d time.Duration) Option {
	return func(p *Pool) { p.jobTimeout = d }
}

func WithExhaustionHook(h ExhaustionHook) Option {
	return func(p *Pool) { p.hook = h }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

func New(source Source, handler Handler, locks kv.Store, opts ...Option) (*Pool, error) {
	if source == nil {
		return nil, fmt.Errorf("job source is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("job handler is required")
	}
	if locks == nil {
		return nil, fmt.Errorf("lock store is required")
	}
	p := &Pool{
		source:         source,
		handler:        handler,
		locks:          locks,
		concurrency:    4,
		pollInterval:   time.Second,
		lockTTL:        5 * time.Minute,
		lockRetryDelay: 30 * time.Second,
		jobTimeout:     2 * time.Minute,
		now:            time.Now,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run blocks until ctx is cancelled and every in-flight job has finished.
func (p *Pool) Run(ctx context.Context) {
	ch := make(chan jobs.Envelope, p.concurrency)
	var wg sync.WaitGroup

	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for env := range ch {
				// In-flight jobs finish even when shutdown has begun.
				p.process(context.WithoutCancel(ctx), env)
			}
		}()
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	defer func() {
		close(ch)
		wg.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				env, found, err := p.source.ClaimNext(ctx, p.now())
				if err != nil {
					if ctx.Err() == nil {
						p.logger.WarnContext(ctx, "job claim failed", "error", err)
					}
					break
				}
				if !found {
					break
				}
				select {
				case ch <- env:
				case <-ctx.Done():
					p.release(env)
					return
				}
			}
		}
	}
}

// release hands a claimed but unstarted job back on shutdown.
func (p *Pool) release(env jobs.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.source.Defer(ctx, env.ID, p.now()); err != nil {
		p.logger.Warn("failed to release claimed job", "job_id", env.ID.String(), "error", err)
	}
}

// RunOnce claims and processes a single due job. It reports whether one ran.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	env, found, err := p.source.ClaimNext(ctx, p.now())
	if err != nil || !found {
		return false, err
	}
	p.process(ctx, env)
	return true, nil
}

// Drain runs due jobs until the queue has none left or limit is reached.
func (p *Pool) Drain(ctx context.Context, limit int) (int, error) {
	n := 0
	for n < limit {
		ran, err := p.RunOnce(ctx)
		if err != nil {
			return n, err
		}
		if !ran {
			break
		}
		n++
	}
	return n, nil
}

func (p *Pool) process(ctx context.Context, env jobs.Envelope) {
	now := p.now()
	ctx = requestcontext.WithJobID(ctx, env.ID)
	ctx = requestcontext.WithAttempt(ctx, env.Attempt)
	ctx = requestcontext.WithTime(ctx, now)
	logger := p.logger.With("job_id", env.ID.String(), "job", string(env.Name), "attempt", env.Attempt)

	job, err := jobs.Decode(env.Name, env.Payload)
	if err != nil {
		logger.ErrorContext(ctx, "undecodable job payload", "error", err)
		p.fail(ctx, env, nil, err)
		return
	}

	if key := job.LockKey(); key != "" {
		acquired, err := p.locks.SetNX(ctx, key, env.ID.String(), p.lockTTL)
		if err != nil {
			logger.WarnContext(ctx, "lock store unavailable", "error", err)
			p.retry(ctx, env, job, fmt.Errorf("acquire %s: %w", key, sentinel.ErrUnavailable))
			return
		}
		if !acquired {
			logger.DebugContext(ctx, "stage locked, deferring", "lock", key)
			p.metrics.incContention(string(env.Name))
			p.metrics.observe(string(env.Name), "deferred", 0)
			if err := p.source.Defer(ctx, env.ID, now.Add(p.lockRetryDelay)); err != nil {
				logger.ErrorContext(ctx, "failed to defer job", "error", err)
			}
			return
		}
		defer p.unlock(ctx, key, env.ID)
	}

	runCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	start := time.Now()
	err = p.handle(runCtx, job)
	cancel()
	elapsed := time.Since(start).Seconds()

	if err == nil {
		p.metrics.observe(string(env.Name), "completed", elapsed)
		if err := p.source.MarkCompleted(ctx, env.ID); err != nil {
			logger.ErrorContext(ctx, "failed to complete job", "error", err)
		}
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		err = dErrors.Wrap(err, dErrors.CodeTimeout, "job timed out")
	}
	logger.WarnContext(ctx, "job failed", "error", err)
	if !Retryable(err) || env.Exhausted() {
		p.metrics.observe(string(env.Name), "failed", elapsed)
		p.fail(ctx, env, job, err)
		return
	}
	p.metrics.observe(string(env.Name), "retried", elapsed)
	p.retry(ctx, env, job, err)
}

// handle runs the handler and turns a panic into an internal error, so the
// job takes the normal retry and exhaustion path.
func (p *Pool) handle(ctx context.Context, job jobs.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "job handler panicked",
				"job", string(job.JobName()),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = dErrors.New(dErrors.CodeInternal, fmt.Sprintf("job handler panicked: %v", r))
		}
	}()
	return p.handler.Handle(ctx, job)
}

func (p *Pool) retry(ctx context.Context, env jobs.Envelope, job jobs.Job, cause error) {
	if env.Exhausted() {
		p.fail(ctx, env, job, cause)
		return
	}
	runAt := p.now().Add(env.Backoff.Delay(env.Attempt))
	if err := p.source.Retry(ctx, env.ID, runAt, cause.Error()); err != nil {
		p.logger.ErrorContext(ctx, "failed to schedule retry", "job_id", env.ID.String(), "error", err)
	}
}

func (p *Pool) fail(ctx context.Context, env jobs.Envelope, job jobs.Job, cause error) {
	if err := p.source.MarkFailed(ctx, env.ID, cause.Error()); err != nil {
		p.logger.ErrorContext(ctx, "failed to mark job failed", "job_id", env.ID.String(), "error", err)
	}
	if p.hook == nil || job == nil {
		return
	}
	if err := p.hook.OnExhausted(ctx, job, cause); err != nil {
		p.logger.ErrorContext(ctx, "exhaustion hook failed", "job_id", env.ID.String(), "error", err)
	}
}

// unlock releases the lock only while this job still owns it.
func (p *Pool) unlock(ctx context.Context, key string, jobID id.JobID) {
	owner, err := p.locks.Get(ctx, key)
	if err != nil || owner != jobID.String() {
		return
	}
	if err := p.locks.Del(ctx, key); err != nil {
		p.logger.WarnContext(ctx, "failed to release lock", "lock", key, "error", err)
	}
}

// Retryable separates transient failures from ones no retry can fix.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case dErrors.HasCode(err, dErrors.CodeInvalidInput),
		dErrors.HasCode(err, dErrors.CodeValidation),
		dErrors.HasCode(err, dErrors.CodeNotFound),
		dErrors.HasCode(err, dErrors.CodeInvariantViolation):
		return false
	}
	return true
}
