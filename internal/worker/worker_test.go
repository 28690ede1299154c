package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"brokerguard/internal/jobs"
	"brokerguard/internal/queue/memory"
	id "brokerguard/pkg/domain"
	dErrors "brokerguard/pkg/domain-errors"
	kvmemory "brokerguard/pkg/platform/kv/memory"
	"brokerguard/pkg/requestcontext"
)

type scriptedHandler struct {
	mu    sync.Mutex
	errs  []error
	calls []jobs.Job
	seen  func(ctx context.Context)
}

func (h *scriptedHandler) Handle(ctx context.Context, job jobs.Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, job)
	if h.seen != nil {
		h.seen(ctx)
	}
	if len(h.errs) == 0 {
		return nil
	}
	err := h.errs[0]
	h.errs = h.errs[1:]
	return err
}

type panickingHandler struct{}

func (panickingHandler) Handle(context.Context, jobs.Job) error {
	var m map[string]int
	m["x"]++
	return nil
}

type recordingHook struct {
	jobs  []jobs.Job
	cause error
}

func (r *recordingHook) OnExhausted(_ context.Context, job jobs.Job, cause error) error {
	r.jobs = append(r.jobs, job)
	r.cause = cause
	return nil
}

type WorkerSuite struct {
	suite.Suite
	queue   *memory.Queue
	locks   *kvmemory.Store
	handler *scriptedHandler
	hook    *recordingHook
	pool    *Pool
	now     time.Time
	ctx     context.Context
}

func TestWorkerSuite(t *testing.T) {
	suite.Run(t, new(WorkerSuite))
}

func (s *WorkerSuite) SetupTest() {
	s.now = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.queue = memory.New()
	s.locks = kvmemory.NewWithClock(func() time.Time { return s.now })
	s.handler = &scriptedHandler{}
	s.hook = &recordingHook{}
	pool, err := New(s.queue, s.handler, s.locks,
		WithClock(func() time.Time { return s.now }),
		WithExhaustionHook(s.hook),
		WithLockRetryDelay(30*time.Second),
	)
	s.Require().NoError(err)
	s.pool = pool
}

func (s *WorkerSuite) enqueue(job jobs.Job, opts jobs.EnqueueOptions) id.JobID {
	jobID, err := s.queue.Enqueue(s.ctx, job, opts)
	s.Require().NoError(err)
	return jobID
}

// =============================================================================
// Constructor
// =============================================================================

func (s *WorkerSuite) TestNewRequiresDependencies() {
	_, err := New(nil, s.handler, s.locks)
	s.Error(err)
	_, err = New(s.queue, nil, s.locks)
	s.Error(err)
	_, err = New(s.queue, s.handler, nil)
	s.Error(err)
}

// =============================================================================
// Processing
// =============================================================================

func (s *WorkerSuite) TestCompletesJob() {
	jobID := s.enqueue(jobs.VerifyLicense{BrokerID: id.NewBrokerID()}, jobs.EnqueueOptions{})
	s.handler.seen = func(ctx context.Context) {
		s.Equal(jobID, requestcontext.JobID(ctx))
		s.Equal(1, requestcontext.Attempt(ctx))
		s.Equal(s.now, requestcontext.Now(ctx))
	}

	ran, err := s.pool.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.True(ran)

	rec, _ := s.queue.Get(jobID)
	s.Equal(memory.StatusCompleted, rec.Status)
}

func (s *WorkerSuite) TestRetriesWithBackoffThenExhausts() {
	job := jobs.VerifyLicense{BrokerID: id.NewBrokerID()}
	jobID := s.enqueue(job, jobs.EnqueueOptions{
		Attempts: 2,
		Backoff:  jobs.Backoff{Kind: jobs.BackoffExponential, Base: time.Minute},
	})
	transient := errors.New("registry unreachable")
	s.handler.errs = []error{transient, transient}

	s.Run("first failure schedules a retry", func() {
		_, err := s.pool.RunOnce(s.ctx)
		s.Require().NoError(err)
		rec, _ := s.queue.Get(jobID)
		s.Equal(memory.StatusQueued, rec.Status)
		s.Equal(s.now.Add(time.Minute), rec.RunAt)
		s.Empty(s.hook.jobs)
	})

	s.Run("retry is not due before its backoff", func() {
		ran, _ := s.pool.RunOnce(s.ctx)
		s.False(ran)
	})

	s.Run("last attempt fails and calls the hook", func() {
		s.now = s.now.Add(time.Minute)
		_, err := s.pool.RunOnce(s.ctx)
		s.Require().NoError(err)
		rec, _ := s.queue.Get(jobID)
		s.Equal(memory.StatusFailed, rec.Status)
		s.Require().Len(s.hook.jobs, 1)
		s.Equal(job, s.hook.jobs[0])
		s.ErrorIs(s.hook.cause, transient)
	})
}

func (s *WorkerSuite) TestPermanentErrorFailsImmediately() {
	jobID := s.enqueue(jobs.RunComplianceChecks{BrokerID: id.NewBrokerID()}, jobs.EnqueueOptions{})
	s.handler.errs = []error{dErrors.New(dErrors.CodeNotFound, "broker not found")}

	_, err := s.pool.RunOnce(s.ctx)
	s.Require().NoError(err)

	rec, _ := s.queue.Get(jobID)
	s.Equal(memory.StatusFailed, rec.Status)
	s.Equal(1, rec.Attempt)
}

func (s *WorkerSuite) TestHandlerPanicRetriesThenExhausts() {
	job := jobs.RunComplianceChecks{BrokerID: id.NewBrokerID()}
	jobID := s.enqueue(job, jobs.EnqueueOptions{
		Attempts: 2,
		Backoff:  jobs.Backoff{Kind: jobs.BackoffFixed, Base: time.Minute},
	})
	pool, err := New(s.queue, panickingHandler{}, s.locks,
		WithClock(func() time.Time { return s.now }),
		WithExhaustionHook(s.hook),
	)
	s.Require().NoError(err)

	s.Run("panic is retried like any internal error", func() {
		s.NotPanics(func() {
			_, err := pool.RunOnce(s.ctx)
			s.NoError(err)
		})
		rec, _ := s.queue.Get(jobID)
		s.Equal(memory.StatusQueued, rec.Status)
		s.Empty(s.hook.jobs)
	})

	s.Run("lock is released after the panic", func() {
		acquired, err := s.locks.SetNX(s.ctx, job.LockKey(), "next-owner", time.Second)
		s.Require().NoError(err)
		s.True(acquired)
		s.Require().NoError(s.locks.Del(s.ctx, job.LockKey()))
	})

	s.Run("last attempt fails and reaches the hook", func() {
		s.now = s.now.Add(time.Minute)
		s.NotPanics(func() {
			_, err := pool.RunOnce(s.ctx)
			s.NoError(err)
		})
		rec, _ := s.queue.Get(jobID)
		s.Equal(memory.StatusFailed, rec.Status)
		s.Require().Len(s.hook.jobs, 1)
		s.True(dErrors.HasCode(s.hook.cause, dErrors.CodeInternal))
	})
}

func (s *WorkerSuite) TestLockContentionDefersWithoutConsumingAttempt() {
	job := jobs.VerifyDirectors{BrokerID: id.NewBrokerID()}
	jobID := s.enqueue(job, jobs.EnqueueOptions{})
	_, err := s.locks.SetNX(s.ctx, job.LockKey(), "other-worker", time.Minute)
	s.Require().NoError(err)

	_, err = s.pool.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Empty(s.handler.calls)

	rec, _ := s.queue.Get(jobID)
	s.Equal(memory.StatusQueued, rec.Status)
	s.Equal(0, rec.Attempt)
	s.Equal(s.now.Add(30*time.Second), rec.RunAt)

	s.Run("runs once the lock expires", func() {
		s.now = s.now.Add(time.Minute)
		_, err := s.pool.RunOnce(s.ctx)
		s.Require().NoError(err)
		s.Len(s.handler.calls, 1)
		rec, _ := s.queue.Get(jobID)
		s.Equal(memory.StatusCompleted, rec.Status)
		s.Equal(1, rec.Attempt)
	})

	s.Run("lock is released after the job", func() {
		acquired, err := s.locks.SetNX(s.ctx, job.LockKey(), "next", time.Minute)
		s.Require().NoError(err)
		s.True(acquired)
	})
}

func (s *WorkerSuite) TestDrain() {
	for range 3 {
		s.enqueue(jobs.ManualReview{BrokerID: id.NewBrokerID(), Stage: "LICENSE", Reason: "x"}, jobs.EnqueueOptions{})
	}
	n, err := s.pool.Drain(s.ctx, 10)
	s.Require().NoError(err)
	s.Equal(3, n)
}

func (s *WorkerSuite) TestRunStopsOnCancel() {
	s.enqueue(jobs.VerifyLicense{BrokerID: id.NewBrokerID()}, jobs.EnqueueOptions{})
	pool, err := New(s.queue, s.handler, s.locks,
		WithClock(func() time.Time { return s.now }),
		WithPollInterval(5*time.Millisecond),
		WithConcurrency(2),
	)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	s.Eventually(func() bool {
		s.handler.mu.Lock()
		defer s.handler.mu.Unlock()
		return len(s.handler.calls) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	s.Eventually(func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestRetryable(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"plain error": {errors.New("boom"), true},
		"timeout":     {dErrors.New(dErrors.CodeTimeout, "slow"), true},
		"unavailable": {dErrors.New(dErrors.CodeUnavailable, "down"), true},
		"not found":   {dErrors.New(dErrors.CodeNotFound, "gone"), false},
		"validation":  {dErrors.New(dErrors.CodeValidation, "bad"), false},
		"nil":         {nil, false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := Retryable(tc.err); got != tc.want {
				t.Fatalf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
