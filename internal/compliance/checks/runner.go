// Package checks runs the five compliance evaluators against a broker and
// appends each outcome to the compliance log.
package checks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	alertmodels "brokerguard/internal/alerting/models"
	brokermodels "brokerguard/internal/broker/models"
	"brokerguard/internal/compliance/metrics"
	"brokerguard/internal/compliance/models"
	"brokerguard/internal/providers/media"
	"brokerguard/internal/providers/screening"
	id "brokerguard/pkg/domain"
	dErrors "brokerguard/pkg/domain-errors"
	"brokerguard/pkg/platform/audit"
	"brokerguard/pkg/platform/sentinel"
	pkgstrings "brokerguard/pkg/platform/strings"
	"brokerguard/pkg/requestcontext"
)

// ErrProviderUnavailable marks a check that was recorded in degraded form
// because its provider could not be reached. The job should be retried.
var ErrProviderUnavailable = errors.New("compliance provider unavailable")

type BrokerReader interface {
	FindByID(ctx context.Context, brokerID id.BrokerID) (*brokermodels.Broker, error)
}

type CheckAppender interface {
	Append(ctx context.Context, c *models.Check) error
}

type AlertRaiser interface {
	Raise(ctx context.Context, brokerID id.BrokerID, in alertmodels.NewAlert) (*alertmodels.Alert, error)
}

type Runner struct {
	brokers  BrokerReader
	checks   CheckAppender
	alerts   AlertRaiser
	auditor  audit.Sink
	screener screening.Screener
	media    media.Monitor
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Runner)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func NewRunner(
	brokers BrokerReader,
	checks CheckAppender,
	alerts AlertRaiser,
	auditor audit.Sink,
	screener screening.Screener,
	monitor media.Monitor,
	opts ...Option,
) (*Runner, error) {
	switch {
	case brokers == nil:
		return nil, fmt.Errorf("broker store is required")
	case checks == nil:
		return nil, fmt.Errorf("check store is required")
	case alerts == nil:
		return nil, fmt.Errorf("alert raiser is required")
	case auditor == nil:
		return nil, fmt.Errorf("audit sink is required")
	case screener == nil:
		return nil, fmt.Errorf("sanctions screener is required")
	case monitor == nil:
		return nil, fmt.Errorf("media monitor is required")
	}
	r := &Runner{
		brokers:  brokers,
		checks:   checks,
		alerts:   alerts,
		auditor:  auditor,
		screener: screener,
		media:    monitor,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RunCheck evaluates one check type and appends the result. When a provider
// was unreachable the degraded check is still returned and persisted, and the
// error wraps ErrProviderUnavailable.
func (r *Runner) RunCheck(ctx context.Context, brokerID id.BrokerID, checkType models.CheckType) (*models.Check, error) {
	if !checkType.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown check type %q", checkType))
	}
	broker, err := r.brokers.FindByID(ctx, brokerID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "broker not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load broker")
	}
	return r.run(ctx, broker, checkType, false)
}

// run evaluates and appends one check. With quiet set, a degraded result is
// not alerted.
func (r *Runner) run(ctx context.Context, broker *brokermodels.Broker, checkType models.CheckType, quiet bool) (*models.Check, error) {
	now := requestcontext.Now(ctx)
	start := time.Now()
	ev, providerErr := r.evaluate(ctx, broker, checkType, now)
	r.metrics.ObserveCheckLatency(string(checkType), time.Since(start))

	check := &models.Check{
		ID:              id.NewCheckID(),
		BrokerID:        broker.ID,
		CheckType:       checkType,
		CheckDate:       now,
		Result:          ev.result,
		Score:           ev.score,
		Details:         ev.details,
		Flags:           pkgstrings.DedupeAndTrimUpper(ev.flags),
		Recommendations: pkgstrings.DedupeAndTrim(ev.recommendations),
	}
	if err := r.checks.Append(ctx, check); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to append compliance check")
	}
	r.metrics.IncCheck(string(checkType), string(check.Result))

	// Auditing is best-effort once the row is appended.
	if err := r.auditor.Record(ctx, audit.Event{
		EntityID: broker.ID.String(),
		Action:   string(audit.ActionComplianceCheckCompleted),
		Details: map[string]any{
			"check_id":   check.ID.String(),
			"check_type": string(checkType),
			"result":     string(check.Result),
			"score":      check.Score,
			"flags":      check.Flags,
		},
	}); err != nil {
		r.logger.WarnContext(ctx, "audit write failed",
			"broker_id", broker.ID,
			"check_id", check.ID.String(),
			"error", err,
		)
	}

	if !(quiet && providerErr != nil) {
		if err := r.raiseFor(ctx, check); err != nil {
			return nil, err
		}
	}

	if providerErr != nil {
		r.metrics.IncDegraded(string(checkType))
		r.logger.WarnContext(ctx, "compliance check degraded",
			"broker_id", broker.ID,
			"check_type", checkType,
			"error", providerErr,
		)
		return check, fmt.Errorf("%s check: %w: %w", checkType, ErrProviderUnavailable, providerErr)
	}

	r.logger.InfoContext(ctx, "compliance check completed",
		"broker_id", broker.ID,
		"check_type", checkType,
		"result", check.Result,
		"score", check.Score,
	)
	return check, nil
}

func (r *Runner) evaluate(ctx context.Context, b *brokermodels.Broker, checkType models.CheckType, now time.Time) (evaluation, error) {
	switch checkType {
	case models.CheckLicense:
		return evaluateLicense(b), nil
	case models.CheckSanctions:
		return evaluateSanctions(ctx, r.screener, b)
	case models.CheckAdverseMedia:
		return evaluateAdverseMedia(ctx, r.media, b, now)
	case models.CheckFinancialHealth:
		return evaluateFinancialHealth(b), nil
	case models.CheckSecurityAssessment:
		return evaluateSecurity(b), nil
	}
	panic(fmt.Sprintf("checks: unhandled check type %q", checkType))
}

// raiseFor raises HIGH for FAIL and MEDIUM for WARNING.
func (r *Runner) raiseFor(ctx context.Context, check *models.Check) error {
	var severity alertmodels.Severity
	switch check.Result {
	case models.ResultFail:
		severity = alertmodels.SeverityHigh
	case models.ResultWarning:
		severity = alertmodels.SeverityMedium
	default:
		return nil
	}
	_, err := r.alerts.Raise(ctx, check.BrokerID, alertmodels.NewAlert{
		Type:     alertmodels.TypeComplianceCheck,
		Severity: severity,
		Message:  fmt.Sprintf("%s check returned %s (score %.2f)", check.CheckType, check.Result, check.Score),
		Details: map[string]any{
			"check_id":   check.ID.String(),
			"check_type": string(check.CheckType),
			"flags":      check.Flags,
		},
		Recommendations: check.Recommendations,
	})
	if err != nil {
		return fmt.Errorf("raise alert for %s check: %w", check.CheckType, err)
	}
	return nil
}

// RunSummary reports a run across one or more check types.
type RunSummary struct {
	BrokerID id.BrokerID
	Checks   []*models.Check
	Failed   map[models.CheckType]error
}

// Err joins the per-type errors, or nil when every type succeeded.
func (s RunSummary) Err() error {
	errs := make([]error, 0, len(s.Failed))
	for _, t := range s.FailedTypes() {
		errs = append(errs, s.Failed[t])
	}
	return errors.Join(errs...)
}

// FailedTypes lists the failed types in check order.
func (s RunSummary) FailedTypes() []models.CheckType {
	var out []models.CheckType
	for _, t := range models.AllCheckTypes {
		if _, ok := s.Failed[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// RunOptions narrows a run. An empty Types runs every check type. Retry marks
// a re-run of types that already degraded earlier in the same logical run, so
// a second degraded result raises no new alert.
type RunOptions struct {
	Types []models.CheckType
	Retry bool
}

// RunAll runs every check type, isolating failures per type.
func (r *Runner) RunAll(ctx context.Context, brokerID id.BrokerID) (RunSummary, error) {
	return r.Run(ctx, brokerID, RunOptions{})
}

// Run runs the selected check types, isolating failures per type. The
// returned error covers only failures that prevent the run, such as an
// unknown broker.
func (r *Runner) Run(ctx context.Context, brokerID id.BrokerID, opts RunOptions) (RunSummary, error) {
	summary := RunSummary{BrokerID: brokerID, Failed: map[models.CheckType]error{}}
	types := opts.Types
	if len(types) == 0 {
		types = models.AllCheckTypes
	}
	for _, t := range types {
		if !t.IsValid() {
			return summary, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown check type %q", t))
		}
	}
	broker, err := r.brokers.FindByID(ctx, brokerID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return summary, dErrors.New(dErrors.CodeNotFound, "broker not found")
		}
		return summary, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load broker")
	}

	for _, t := range types {
		check, err := r.run(ctx, broker, t, opts.Retry)
		if check != nil {
			summary.Checks = append(summary.Checks, check)
		}
		if err != nil {
			summary.Failed[t] = err
		}
	}
	return summary, nil
}
