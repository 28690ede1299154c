// Package screening runs KYC checks on a broker's directors and UBOs and AML
// checks on the broker entity. It holds no state between calls.
package screening

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	brokermodels "brokerguard/internal/broker/models"
	"brokerguard/internal/providers/media"
	providerscreening "brokerguard/internal/providers/screening"
	verification "brokerguard/internal/verification/models"
	"brokerguard/pkg/requestcontext"
)

const (
	// RiskScoreSanctioned is assigned to a person with a sanctions match.
	RiskScoreSanctioned = 80
	// RiskScoreClear is assigned to everyone else.
	RiskScoreClear = 20

	defaultConcurrency = 4
)

// Service screens people and entities against the configured providers.
type Service struct {
	screener    providerscreening.Screener
	media       media.Monitor
	logger      *slog.Logger
	concurrency int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithConcurrency bounds the number of in-flight provider lookups per call.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func New(screener providerscreening.Screener, monitor media.Monitor, opts ...Option) (*Service, error) {
	if screener == nil {
		return nil, fmt.Errorf("screener is required")
	}
	if monitor == nil {
		return nil, fmt.Errorf("media monitor is required")
	}
	s := &Service{
		screener:    screener,
		media:       monitor,
		logger:      slog.Default(),
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ScreenPeople validates each person's ID number and checks them for
// sanctions and PEP matches. An invalid ID number rejects the person
// regardless of the screening outcome. A provider failure aborts the whole
// call so the job can retry with a consistent result set.
func (s *Service) ScreenPeople(ctx context.Context, people []brokermodels.Director) ([]verification.PersonCheck, error) {
	out := make([]verification.PersonCheck, len(people))
	now := requestcontext.Now(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, p := range people {
		g.Go(func() error {
			res, err := s.screener.Check(gctx, p.Name, "")
			if err != nil {
				return fmt.Errorf("screening %q: %w", p.Name, err)
			}
			out[i] = personCheck(p, res, now)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func personCheck(p brokermodels.Director, res providerscreening.Result, now time.Time) verification.PersonCheck {
	issues := ValidateSAID(p.IDNumber)
	pc := verification.PersonCheck{
		Name:           p.Name,
		IDNumber:       p.IDNumber,
		IDValid:        len(issues) == 0,
		SanctionsMatch: res.HasKind(providerscreening.KindSanctions),
		PEP:            res.HasKind(providerscreening.KindPEP),
		Issues:         issues,
		CheckedAt:      now,
	}

	pc.RiskScore = RiskScoreClear
	if pc.SanctionsMatch {
		pc.RiskScore = RiskScoreSanctioned
		pc.Issues = append(pc.Issues, "SANCTIONS_MATCH")
	}

	pc.VerificationStatus = verification.StatusApproved
	if pc.SanctionsMatch || !pc.IDValid {
		pc.VerificationStatus = verification.StatusRejected
	}
	return pc
}

// ScreenEntity runs sanctions, PEP and adverse-media checks on the broker
// itself, in parallel.
func (s *Service) ScreenEntity(ctx context.Context, name, registrationNumber string) (*verification.AMLChecks, error) {
	var (
		sanctions providerscreening.Result
		coverage  media.Result
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sanctions, err = s.screener.Check(gctx, name, registrationNumber)
		return err
	})
	g.Go(func() error {
		var err error
		coverage, err = s.media.Coverage(gctx, name)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("screening entity %q: %w", name, err)
	}

	aml := &verification.AMLChecks{
		SanctionsClear:    !sanctions.HasKind(providerscreening.KindSanctions),
		PEPClear:          !sanctions.HasKind(providerscreening.KindPEP),
		AdverseMediaClear: len(coverage.Adverse()) == 0,
		RiskLevel:         string(sanctions.RiskLevel),
		CheckedAt:         requestcontext.Now(ctx),
	}
	for _, m := range sanctions.Matches {
		aml.Matches = append(aml.Matches, m.ListName+": "+m.Name)
	}

	s.logger.InfoContext(ctx, "entity screened",
		"name", name,
		"sanctions_clear", aml.SanctionsClear,
		"pep_clear", aml.PEPClear,
		"adverse_media_clear", aml.AdverseMediaClear,
	)
	return aml, nil
}

// Clear reports whether an AML result has no hits of any kind.
func Clear(aml *verification.AMLChecks) bool {
	return aml != nil && aml.SanctionsClear && aml.PEPClear && aml.AdverseMediaClear
}
