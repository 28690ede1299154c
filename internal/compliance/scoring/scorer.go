// Package scoring aggregates the compliance log into a weighted score and
// folds it into the broker's trust score.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	brokermodels "brokerguard/internal/broker/models"
	"brokerguard/internal/compliance/metrics"
	"brokerguard/internal/compliance/models"
	id "brokerguard/pkg/domain"
	dErrors "brokerguard/pkg/domain-errors"
	"brokerguard/pkg/platform/audit"
	"brokerguard/pkg/platform/sentinel"
	"brokerguard/pkg/requestcontext"
)

// historyWindow is how many recent checks are considered.
const historyWindow = 100

// Trust score blending: compliance contributes at most 30 points per
// recomputation, the prior trust score keeps 70% of its weight.
const (
	complianceWeight = 30.0
	trustRetention   = 0.7
)

type CheckLister interface {
	ListRecent(ctx context.Context, brokerID id.BrokerID, limit int) ([]*models.Check, error)
}

type BrokerUpdater interface {
	Update(ctx context.Context, brokerID id.BrokerID, patch func(*brokermodels.Broker) error) (*brokermodels.Broker, error)
}

type Scorer struct {
	checks  CheckLister
	brokers BrokerUpdater
	auditor audit.Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Scorer)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scorer) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scorer) { s.metrics = m }
}

func NewScorer(checks CheckLister, brokers BrokerUpdater, auditor audit.Sink, opts ...Option) (*Scorer, error) {
	if checks == nil {
		return nil, fmt.Errorf("check store is required")
	}
	if brokers == nil {
		return nil, fmt.Errorf("broker store is required")
	}
	if auditor == nil {
		return nil, fmt.Errorf("audit sink is required")
	}
	s := &Scorer{checks: checks, brokers: brokers, auditor: auditor, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ComplianceScore is the weighted mean of the latest check per type, with
// weights normalized over the types present. It returns 0 for no checks.
// checks must be ordered newest first.
func ComplianceScore(checks []*models.Check) float64 {
	latest := make(map[models.CheckType]*models.Check, len(models.Weights))
	for _, c := range checks {
		if _, seen := latest[c.CheckType]; !seen && c.CheckType.IsValid() {
			latest[c.CheckType] = c
		}
	}
	if len(latest) == 0 {
		return 0
	}

	var weighted, total float64
	for t, c := range latest {
		w := models.Weights[t]
		weighted += clamp(c.Score, 0, 1) * w
		total += w
	}
	return math.Round(weighted/total*100) / 100
}

// BlendTrustScore folds a compliance score into a prior trust score.
func BlendTrustScore(compliance float64, prior int) int {
	next := math.Round(compliance*complianceWeight + float64(prior)*trustRetention)
	return int(clamp(next, 0, 100))
}

// RecomputeScore recalculates the compliance score and updates the broker's
// trust score from it.
func (s *Scorer) RecomputeScore(ctx context.Context, brokerID id.BrokerID) (float64, error) {
	checks, err := s.checks.ListRecent(ctx, brokerID, historyWindow)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list compliance checks")
	}
	score := ComplianceScore(checks)
	now := requestcontext.Now(ctx)

	var prior int
	updated, err := s.brokers.Update(ctx, brokerID, func(b *brokermodels.Broker) error {
		prior = b.TrustScore
		b.TrustScore = BlendTrustScore(score, b.TrustScore)
		b.ComplianceInfo.ComplianceScore = score
		b.ComplianceInfo.LastScoredAt = &now
		return nil
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return 0, dErrors.New(dErrors.CodeNotFound, "broker not found")
		}
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update trust score")
	}
	s.metrics.ObserveScore(score)

	if err := s.auditor.Record(ctx, audit.Event{
		EntityID: brokerID.String(),
		Action:   string(audit.ActionComplianceScoreUpdated),
		Details: map[string]any{
			"compliance_score":  score,
			"prior_trust_score": prior,
			"trust_score":       updated.TrustScore,
			"checks_considered": len(checks),
		},
	}); err != nil {
		return score, dErrors.Wrap(err, dErrors.CodeInternal, "failed to audit score update")
	}

	s.logger.InfoContext(ctx, "compliance score recomputed",
		"broker_id", brokerID,
		"compliance_score", score,
		"trust_score", updated.TrustScore,
	)
	return score, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
