// Package orchestrator executes verification and scheduler jobs. Each job
// maps to one stage; stages hand off to each other only by enqueueing jobs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	alertmodels "brokerguard/internal/alerting/models"
	brokermodels "brokerguard/internal/broker/models"
	"brokerguard/internal/compliance/checks"
	compliancemodels "brokerguard/internal/compliance/models"
	"brokerguard/internal/jobs"
	"brokerguard/internal/kyc"
	"brokerguard/internal/notify"
	"brokerguard/internal/providers/fsca"
	verification "brokerguard/internal/verification/models"
	verificationstore "brokerguard/internal/verification/store"
	id "brokerguard/pkg/domain"
	dErrors "brokerguard/pkg/domain-errors"
	"brokerguard/pkg/platform/audit"
	"brokerguard/pkg/platform/kv"
	"brokerguard/pkg/platform/sentinel"
)

// ErrProviderFailure marks a stage that could not reach its external
// provider. Such failures are retried and end in manual review, never in a
// rejection.
var ErrProviderFailure = errors.New("verification provider failure")

type BrokerStore interface {
	FindByID(ctx context.Context, brokerID id.BrokerID) (*brokermodels.Broker, error)
	Update(ctx context.Context, brokerID id.BrokerID, patch func(*brokermodels.Broker) error) (*brokermodels.Broker, error)
	ListIDsByStatus(ctx context.Context, statuses ...brokermodels.Status) ([]id.BrokerID, error)
	ListLicenseExpiringBefore(ctx context.Context, cutoff time.Time) ([]*brokermodels.Broker, error)
	Stats(ctx context.Context) (brokermodels.Stats, error)
}

type RecordStore interface {
	Get(ctx context.Context, key verification.Key) (*verification.Record, error)
	Upsert(ctx context.Context, key verification.Key, patch verificationstore.Patch) (*verification.Record, error)
}

type Screening interface {
	ScreenPeople(ctx context.Context, people []brokermodels.Director) ([]verification.PersonCheck, error)
	ScreenEntity(ctx context.Context, name, registrationNumber string) (*verification.AMLChecks, error)
}

type Decider interface {
	Evaluate(ctx context.Context, brokerID id.BrokerID) (*verification.KYCDecision, error)
	Gate(ctx context.Context, brokerID id.BrokerID) (kyc.GateOutcome, error)
}

type ComplianceRunner interface {
	Run(ctx context.Context, brokerID id.BrokerID, opts checks.RunOptions) (checks.RunSummary, error)
}

type Scorer interface {
	RecomputeScore(ctx context.Context, brokerID id.BrokerID) (float64, error)
}

type Alerts interface {
	Raise(ctx context.Context, brokerID id.BrokerID, in alertmodels.NewAlert) (*alertmodels.Alert, error)
	OpenBySeverity(ctx context.Context) (map[alertmodels.Severity]int, error)
}

type CheckSummarizer interface {
	SummarizeSince(ctx context.Context, since time.Time) (compliancemodels.Summary, error)
}

// Deps are the collaborators every handler may reach.
type Deps struct {
	Brokers   BrokerStore
	Records   RecordStore
	Checks    CheckSummarizer
	Registry  fsca.Registry
	Screening Screening
	KYC       Decider
	Runner    ComplianceRunner
	Scorer    Scorer
	Alerts    Alerts
	Notifier  notify.Sender
	Queue     jobs.Queue
	KV        kv.Store
	Audit     audit.Sink
}

func (d Deps) validate() error {
	required := []struct {
		name string
		ok   bool
	}{
		{"broker store", d.Brokers != nil},
		{"verification store", d.Records != nil},
		{"compliance store", d.Checks != nil},
		{"license registry", d.Registry != nil},
		{"screening service", d.Screening != nil},
		{"kyc engine", d.KYC != nil},
		{"compliance runner", d.Runner != nil},
		{"scorer", d.Scorer != nil},
		{"alerting service", d.Alerts != nil},
		{"notifier", d.Notifier != nil},
		{"job queue", d.Queue != nil},
		{"kv store", d.KV != nil},
		{"audit sink", d.Audit != nil},
	}
	for _, r := range required {
		if !r.ok {
			return fmt.Errorf("%s is required", r.name)
		}
	}
	return nil
}

type Orchestrator struct {
	Deps
	maxJitter     time.Duration
	batchParallel int
	autoQueueTTL  time.Duration
	jitter        func(limit time.Duration) time.Duration
	tracer        trace.Tracer
	logger        *slog.Logger
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMaxJitter caps the random delay spread over batch fan-out.
func WithMaxJitter(d time.Duration) Option {
	return func(o *Orchestrator) { o.maxJitter = d }
}

// WithJitter replaces the jitter source; tests use it for determinism.
func WithJitter(fn func(limit time.Duration) time.Duration) Option {
	return func(o *Orchestrator) { o.jitter = fn }
}

func WithBatchParallelism(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.batchParallel = n
		}
	}
}

func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		Deps:          deps,
		maxJitter:     5 * time.Minute,
		batchParallel: 8,
		autoQueueTTL:  time.Hour,
		jitter:        randomJitter,
		tracer:        otel.Tracer("brokerguard/orchestrator"),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Handle dispatches a job to its stage handler.
func (o *Orchestrator) Handle(ctx context.Context, job jobs.Job) (err error) {
	ctx, span := o.tracer.Start(ctx, "job "+string(job.JobName()),
		trace.WithAttributes(
			attribute.String("job.name", string(job.JobName())),
			attribute.String("job.lock", job.LockKey()),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	switch j := job.(type) {
	case jobs.VerifyLicense:
		return o.verifyLicense(ctx, j)
	case jobs.VerifyDocuments:
		return o.verifyDocuments(ctx, j)
	case jobs.VerifyDirectors:
		return o.verifyDirectors(ctx, j)
	case jobs.ManualReview:
		return o.manualReview(ctx, j)
	case jobs.SendVerificationResult:
		return o.sendVerificationResult(ctx, j)
	case jobs.LicenseRenewalReminder:
		return o.licenseReminder(ctx, j)
	case jobs.RunComplianceChecks:
		return o.runComplianceChecks(ctx, j)
	case jobs.DailyComplianceBatch:
		return o.dailyComplianceBatch(ctx, j)
	case jobs.LicenseStatusSweep:
		return o.licenseStatusSweep(ctx, j)
	case jobs.RecheckLicenseStatus:
		return o.recheckLicenseStatus(ctx, j)
	case jobs.ExpiryReminderSweep:
		return o.expiryReminderSweep(ctx, j)
	case jobs.GenerateReport:
		return o.generateReport(ctx, j)
	}
	panic(fmt.Sprintf("orchestrator: unhandled job type %T", job))
}

// OnExhausted routes verification and compliance jobs that ran out of
// retries on a provider failure to manual review. Every exhausted job is
// audited.
func (o *Orchestrator) OnExhausted(ctx context.Context, job jobs.Job, cause error) error {
	o.recordBestEffort(ctx, audit.Event{
		EntityID: job.LockKey(),
		Action:   string(audit.ActionJobFailed),
		Details: map[string]any{
			"job":   string(job.JobName()),
			"error": cause.Error(),
		},
	})
	if !IsProviderFailure(cause) {
		return nil
	}

	var (
		brokerID id.BrokerID
		stage    verification.Type
	)
	switch j := job.(type) {
	case jobs.VerifyLicense:
		brokerID, stage = j.BrokerID, verification.TypeLicense
	case jobs.RecheckLicenseStatus:
		brokerID, stage = j.BrokerID, verification.TypeLicense
	case jobs.VerifyDirectors:
		brokerID, stage = j.BrokerID, verification.TypeKYCDirectors
	case jobs.VerifyDocuments:
		brokerID, stage = j.BrokerID, documentStage(j)
	case jobs.RunComplianceChecks:
		return o.exhaustComplianceRun(ctx, j, cause)
	default:
		return nil
	}
	return o.requestManualReview(ctx, brokerID, stage, "provider unavailable after retries: "+cause.Error())
}

// IsProviderFailure reports whether err came from an unreachable provider
// rather than from a business outcome.
func IsProviderFailure(err error) bool {
	return errors.Is(err, ErrProviderFailure) || errors.Is(err, checks.ErrProviderUnavailable)
}

func providerFailure(stage string, err error) error {
	return fmt.Errorf("%s: %w: %w", stage, ErrProviderFailure, err)
}

func (o *Orchestrator) loadBroker(ctx context.Context, brokerID id.BrokerID) (*brokermodels.Broker, error) {
	b, err := o.Brokers.FindByID(ctx, brokerID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "broker not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load broker")
	}
	return b, nil
}

// closed reports brokers no verification job should touch.
func closed(b *brokermodels.Broker) bool {
	return b.Status == brokermodels.StatusSuspended || b.Status == brokermodels.StatusDeleted
}

func (o *Orchestrator) upsert(ctx context.Context, brokerID id.BrokerID, t verification.Type, patch verificationstore.Patch) (*verification.Record, error) {
	rec, err := o.Records.Upsert(ctx, verification.Key{BrokerID: brokerID, Type: t}, patch)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("failed to store %s record", t))
	}
	return rec, nil
}

func (o *Orchestrator) enqueue(ctx context.Context, job jobs.Job, opts jobs.EnqueueOptions) error {
	if _, err := o.Queue.Enqueue(ctx, job, opts); err != nil {
		return fmt.Errorf("enqueue %s: %w", job.JobName(), err)
	}
	return nil
}

// record writes an audit event whose loss would hide a regulatory outcome.
func (o *Orchestrator) record(ctx context.Context, event audit.Event) error {
	if err := o.Audit.Record(ctx, event); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to audit "+event.Action)
	}
	return nil
}

func (o *Orchestrator) recordBestEffort(ctx context.Context, event audit.Event) {
	if err := o.Audit.Record(ctx, event); err != nil {
		o.logger.WarnContext(ctx, "audit write failed", "action", event.Action, "error", err)
	}
}
