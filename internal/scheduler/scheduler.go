// Package scheduler turns cron specs into batch jobs. It never does work
// itself; every entry only enqueues.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	_ "time/tzdata" // distroless images ship without zoneinfo

	"github.com/robfig/cron/v3"

	"brokerguard/internal/jobs"
	"brokerguard/internal/platform/config"
	id "brokerguard/pkg/domain"
	"brokerguard/pkg/platform/sentinel"
	"brokerguard/pkg/requestcontext"
)

// ErrUnknownEntry is returned by Trigger for a name not in the schedule.
var ErrUnknownEntry = fmt.Errorf("unknown schedule entry: %w", sentinel.ErrNotFound)

// ReminderWindowDays is how far ahead the expiry sweep looks.
const ReminderWindowDays = 90

// Entry is one cron-driven batch.
type Entry struct {
	Name string
	Spec string
	Job  func() jobs.Job
}

// Entries returns the standard schedule for cfg.
func Entries(cfg config.SchedulerConfig) []Entry {
	return []Entry{
		{
			Name: "daily-compliance",
			Spec: cfg.DailyCheckSpec,
			Job:  func() jobs.Job { return jobs.DailyComplianceBatch{MaxJitter: cfg.MaxJitter} },
		},
		{
			Name: "license-recheck",
			Spec: cfg.LicenseRecheck,
			Job:  func() jobs.Job { return jobs.LicenseStatusSweep{} },
		},
		{
			Name: "expiry-reminders",
			Spec: cfg.ReminderSweepSpec,
			Job:  func() jobs.Job { return jobs.ExpiryReminderSweep{WindowDays: ReminderWindowDays} },
		},
		{
			Name: "weekly-report",
			Spec: cfg.WeeklyReportSpec,
			Job:  func() jobs.Job { return jobs.GenerateReport{Period: jobs.ReportWeekly} },
		},
		{
			Name: "monthly-report",
			Spec: cfg.MonthlyReportSpec,
			Job:  func() jobs.Job { return jobs.GenerateReport{Period: jobs.ReportMonthly} },
		},
	}
}

type Scheduler struct {
	cron    *cron.Cron
	queue   jobs.Queue
	entries map[string]Entry
	ids     map[string]cron.EntryID
	logger  *slog.Logger
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// New registers entries on a cron running in the given timezone. A bad spec
// fails construction rather than silently never firing.
func New(queue jobs.Queue, timezone string, entries []Entry, opts ...Option) (*Scheduler, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	loc := time.UTC
	if timezone != "" {
		var err error
		if loc, err = time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("load scheduler timezone %q: %w", timezone, err)
		}
	}

	s := &Scheduler{
		queue:   queue,
		entries: make(map[string]Entry, len(entries)),
		ids:     make(map[string]cron.EntryID, len(entries)),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{s.logger})),
	)

	for _, e := range entries {
		if _, dup := s.entries[e.Name]; dup {
			return nil, fmt.Errorf("duplicate schedule entry %q", e.Name)
		}
		entryID, err := s.cron.AddFunc(e.Spec, func() { s.fire(context.Background(), e) })
		if err != nil {
			return nil, fmt.Errorf("schedule %s (%q): %w", e.Name, e.Spec, err)
		}
		s.entries[e.Name] = e
		s.ids[e.Name] = entryID
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for name, entryID := range s.ids {
		s.logger.Info("schedule registered", "entry", name, "spec", s.entries[name].Spec, "next", s.cron.Entry(entryID).Next)
	}
}

// Stop halts the cron and waits for in-flight enqueues or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Trigger enqueues an entry's batch job immediately.
func (s *Scheduler) Trigger(ctx context.Context, name string) (id.JobID, error) {
	e, ok := s.entries[name]
	if !ok {
		return id.JobID{}, fmt.Errorf("%w: %q", ErrUnknownEntry, name)
	}
	return s.enqueue(ctx, e)
}

// Next reports when an entry fires next. Zero until Start.
func (s *Scheduler) Next(name string) time.Time {
	entryID, ok := s.ids[name]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(entryID).Next
}

func (s *Scheduler) fire(ctx context.Context, e Entry) {
	ctx = requestcontext.WithTime(ctx, time.Now())
	if _, err := s.enqueue(ctx, e); err != nil {
		s.logger.ErrorContext(ctx, "scheduled enqueue failed", "entry", e.Name, "error", err)
	}
}

func (s *Scheduler) enqueue(ctx context.Context, e Entry) (id.JobID, error) {
	job := e.Job()
	jobID, err := s.queue.Enqueue(ctx, job, jobs.DefaultOptions(job.JobName()))
	if err != nil {
		return id.JobID{}, fmt.Errorf("enqueue %s: %w", job.JobName(), err)
	}
	s.logger.InfoContext(ctx, "batch job enqueued", "entry", e.Name, "job", job.JobName(), "job_id", jobID)
	return jobID, nil
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
