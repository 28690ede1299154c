package checks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	alertmodels "brokerguard/internal/alerting/models"
	brokermodels "brokerguard/internal/broker/models"
	brokerstore "brokerguard/internal/broker/store"
	"brokerguard/internal/compliance/models"
	checkstore "brokerguard/internal/compliance/store"
	"brokerguard/internal/providers"
	"brokerguard/internal/providers/media"
	"brokerguard/internal/providers/mocks"
	"brokerguard/internal/providers/screening"
	id "brokerguard/pkg/domain"
	dErrors "brokerguard/pkg/domain-errors"
	"brokerguard/pkg/platform/audit"
	"brokerguard/pkg/platform/audit/publisher"
	auditmemory "brokerguard/pkg/platform/audit/store/memory"
	"brokerguard/pkg/requestcontext"
)

type fakeRaiser struct {
	mu     sync.Mutex
	raised []alertmodels.NewAlert
}

func (f *fakeRaiser) Raise(_ context.Context, brokerID id.BrokerID, in alertmodels.NewAlert) (*alertmodels.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raised = append(f.raised, in)
	return &alertmodels.Alert{ID: id.NewAlertID(), BrokerID: brokerID, Severity: in.Severity}, nil
}

type failingSink struct{}

func (failingSink) Record(context.Context, audit.Event) error {
	return errors.New("audit store down")
}

type RunnerSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	screener *mocks.MockScreener
	monitor  *mocks.MockMonitor
	brokers  *brokerstore.InMemoryStore
	checks   *checkstore.InMemoryStore
	alerts   *fakeRaiser
	auditLog *auditmemory.InMemoryStore
	runner   *Runner
	now      time.Time
	ctx      context.Context
}

func TestRunnerSuite(t *testing.T) {
	suite.Run(t, new(RunnerSuite))
}

func (s *RunnerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.screener = mocks.NewMockScreener(s.ctrl)
	s.monitor = mocks.NewMockMonitor(s.ctrl)
	s.brokers = brokerstore.NewInMemory()
	s.checks = checkstore.NewInMemory()
	s.alerts = &fakeRaiser{}
	s.auditLog = auditmemory.NewInMemoryStore()

	r, err := NewRunner(s.brokers, s.checks, s.alerts, publisher.NewPublisher(s.auditLog), s.screener, s.monitor)
	s.Require().NoError(err)
	s.runner = r
	s.now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *RunnerSuite) broker(mutate func(*brokermodels.Broker)) *brokermodels.Broker {
	aum := decimal.NewFromInt(150_000_000)
	clients := 2500
	b := &brokermodels.Broker{
		ID:                 id.NewBrokerID(),
		CompanyName:        "Acme Markets",
		RegistrationNumber: "2019/123456/07",
		LicenseNumber:      "FSP-4521",
		Status:             brokermodels.StatusVerified,
		IsActive:           true,
		TrustScore:         50,
		ComplianceInfo:     brokermodels.ComplianceInfo{FSCAVerified: true},
		AUM:                &aum,
		ClientCount:        &clients,
		APIConfig: brokermodels.APIConfig{
			APIKey: "k", APISecret: "s", WebhookURL: "https://hooks.acme.test",
			IPWhitelist: []string{"10.0.0.1"}, RateLimit: 100,
		},
		CreatedAt: s.now.Add(-365 * 24 * time.Hour),
	}
	if mutate != nil {
		mutate(b)
	}
	s.Require().NoError(s.brokers.Create(s.ctx, b))
	return b
}

// =============================================================================
// LICENSE
// =============================================================================

func (s *RunnerSuite) TestLicense() {
	s.Run("no license number fails with zero", func() {
		b := s.broker(func(b *brokermodels.Broker) { b.LicenseNumber = "" })
		c, err := s.runner.RunCheck(s.ctx, b.ID, models.CheckLicense)
		s.Require().NoError(err)
		s.Equal(models.ResultFail, c.Result)
		s.Zero(c.Score)
	})

	s.Run("verified and active passes", func() {
		b := s.broker(nil)
		c, err := s.runner.RunCheck(s.ctx, b.ID, models.CheckLicense)
		s.Require().NoError(err)
		s.Equal(models.ResultPass, c.Result)
		s.Equal(1.0, c.Score)
	})

	s.Run("verified but inactive fails with 0.2", func() {
		b := s.broker(func(b *brokermodels.Broker) { b.IsActive = false })
		c, err := s.runner.RunCheck(s.ctx, b.ID, models.CheckLicense)
		s.Require().NoError(err)
		s.Equal(models.ResultFail, c.Result)
		s.Equal(0.2, c.Score)
		s.Equal([]string{RecCompleteLicenseVerification}, c.Recommendations)
	})
}

// =============================================================================
// SANCTIONS
// =============================================================================

func (s *RunnerSuite) TestSanctions() {
	s.Run("no matches passes", func() {
		b := s.broker(nil)
		s.screener.EXPECT().Check(gomock.Any(), b.CompanyName, b.RegistrationNumber).Return(screening.Result{}, nil)

		c, err := s.runner.RunCheck(s.ctx, b.ID, models.CheckSanctions)
		s.Require().NoError(err)
		s.Equal(models.ResultPass, c.Result)
		s.Equal(1.0, c.Score)
	})

	s.Run("high risk match fails", func() {
		b := s.broker(nil)
		s.screener.EXPECT().Check(gomock.Any(), gomock.Any(), gomock.Any()).Return(screening.Result{
			Matches:   []screening.Match{{ListName: "UN", Name: "Acme", Kind: screening.KindSanctions}},
			RiskLevel: screening.RiskHigh,
		}, nil)

		c, err := s.runner.RunCheck(s.ctx, b.ID, models.CheckSanctions)
		s.Require().NoError(err)
		s.Equal(models.ResultFail, c.Result)
		s.Equal(0.1, c.Score)
	})

	s.Run("lower risk match warns", func() {
		b := s.broker(nil)
		s.screener.EXPECT().Check(gomock.Any(), gomock.Any(), gomock.Any()).Return(screening.Result{
			Matches:   []screening.Match{{ListName: "EU", Name: "Acme", Kind: screening.KindSanctions}},
			RiskLevel: screening.RiskMedium,
		}, nil)

		c, err := s.runner.RunCheck(s.ctx, b.ID, models.CheckSanctions)
		s.Require().NoError(err)
		s.Equal(models.ResultWarning, c.Result)
		s.Equal(0.5, c.Score)
	})

	s.Run("provider failure records a degraded warning and asks for a retry", func() {
		b := s.broker(nil)
		outage := providers.NewProviderError(providers.ErrorProviderOutage, "sanctions", "503", nil)
		s.screener.EXPECT().Check(gomock.Any(), gomock.Any(), gomock.Any()).Return(screening.Result{}, outage)

		c, err := s.runner.RunCheck(s.ctx, b.ID, models.CheckSanctions)
		s.Require().Error(err)
		s.ErrorIs(err, ErrProviderUnavailable)
		s.True(providers.IsRetryable(err))
		s.Require().NotNil(c)
		s.Equal(models.ResultWarning, c.Result)
		s.Equal(0.7, c.Score)
		s.Equal([]string{FlagSanctionsCheckFailed}, c.Flags)

		stored, listErr := s.checks.ListRecent(s.ctx, b.ID, 10)
		s.Require().NoError(listErr)
		s.Len(stored, 1)
	})
}

// =============================================================================
// ADVERSE_MEDIA
// =============================================================================

func (s *RunnerSuite) TestAdverseMedia() {
	s.Run("young broker gets grace without a provider call", func() {
		b := s.broker(func(b *brokermodels.Broker) { b.CreatedAt = s.now.Add(-10 * 24 * time.Hour) })

		c, err := s.runner.RunCheck(s.ctx, b.ID, models.CheckAdverseMedia)
		s.Require().NoError(err)
		s.Equal(models.ResultPass, c.Result)
		s.Equal(0.9, c.Score)
	})

	s.Run("clean coverage passes", func() {
		b := s.broker(nil)
		s.monitor.EXPECT().Coverage(gomock.Any(), b.CompanyName).Return(media.Result{
			Articles: []media.Article{{Title: "expands", Sentiment: 0.5}},
		}, nil)

		c, err := s.runner.RunCheck(s.ctx, b.ID, models.CheckAdverseMedia)
		s.Require().NoError(err)
		s.Equal(models.ResultPass, c.Result)
		s.Equal(0.95, c.Score)
	})

	s.Run("negative coverage warns", func() {
		b := s.broker(nil)
		s.monitor.EXPECT().Coverage(gomock.Any(), b.CompanyName).Return(media.Result{
			Articles: []media.Article{{Title: "probe", Sentiment: -0.7}},
		}, nil)

		c, err := s.runner.RunCheck(s.ctx, b.ID, models.CheckAdverseMedia)
		s.Require().NoError(err)
		s.Equal(models.ResultWarning, c.Result)
		s.Equal(0.6, c.Score)
	})

	s.Run("provider failure degrades", func() {
		b := s.broker(nil)
		s.monitor.EXPECT().Coverage(gomock.Any(), gomock.Any()).Return(media.Result{}, context.DeadlineExceeded)

		c, err := s.runner.RunCheck(s.ctx, b.ID, models.CheckAdverseMedia)
		s.ErrorIs(err, ErrProviderUnavailable)
		s.Equal([]string{FlagAdverseMediaFailed}, c.Flags)
	})
}

// =============================================================================
// FINANCIAL_HEALTH and SECURITY_ASSESSMENT
// =============================================================================

func (s *RunnerSuite) TestFinancialHealth() {
	cases := []struct {
		name    string
		aum     *decimal.Decimal
		clients *int
		result  models.Result
		score   float64
	}{
		{"at targets", ptr(decimal.NewFromInt(100_000_000)), ptr(1000), models.ResultPass, 1.0},
		{"half way", ptr(decimal.NewFromInt(50_000_000)), ptr(500), models.ResultWarning, 0.5},
		{"small", ptr(decimal.NewFromInt(10_000_000)), ptr(100), models.ResultFail, 0.1},
		{"missing AUM", nil, ptr(100), models.ResultWarning, 0.7},
		{"missing clients", ptr(decimal.NewFromInt(1)), nil, models.ResultWarning, 0.7},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			b := s.broker(func(b *brokermodels.Broker) {
				b.AUM = tc.aum
				b.ClientCount = tc.clients
			})
			c, err := s.runner.RunCheck(s.ctx, b.ID, models.CheckFinancialHealth)
			s.Require().NoError(err)
			s.Equal(tc.result, c.Result)
			s.InDelta(tc.score, c.Score, 1e-9)
		})
	}
}

func (s *RunnerSuite) TestSecurityAssessment() {
	s.Run("all controls pass", func() {
		b := s.broker(nil)
		c, err := s.runner.RunCheck(s.ctx, b.ID, models.CheckSecurityAssessment)
		s.Require().NoError(err)
		s.Equal(models.ResultPass, c.Result)
		s.Empty(c.Flags)
	})

	s.Run("failing controls are named", func() {
		b := s.broker(func(b *brokermodels.Broker) {
			b.APIConfig.IPWhitelist = nil
			b.APIConfig.RateLimit = 0
		})
		c, err := s.runner.RunCheck(s.ctx, b.ID, models.CheckSecurityAssessment)
		s.Require().NoError(err)
		s.Equal(models.ResultWarning, c.Result)
		s.InDelta(0.6, c.Score, 1e-9)
		s.Equal([]string{FlagIPWhitelistEmpty, FlagRateLimitUnconfigured}, c.Flags)
	})

	s.Run("mostly unconfigured fails", func() {
		b := s.broker(func(b *brokermodels.Broker) { b.APIConfig = brokermodels.APIConfig{APIKey: "k"} })
		c, err := s.runner.RunCheck(s.ctx, b.ID, models.CheckSecurityAssessment)
		s.Require().NoError(err)
		s.Equal(models.ResultFail, c.Result)
		s.Len(c.Flags, 4)
	})
}

// =============================================================================
// Alerts, audit and full runs
// =============================================================================

func (s *RunnerSuite) TestAlertsFollowResult() {
	b := s.broker(func(b *brokermodels.Broker) { b.LicenseNumber = "" })
	_, err := s.runner.RunCheck(s.ctx, b.ID, models.CheckLicense)
	s.Require().NoError(err)
	s.Require().Len(s.alerts.raised, 1)
	s.Equal(alertmodels.SeverityHigh, s.alerts.raised[0].Severity)

	b2 := s.broker(func(b *brokermodels.Broker) { b.AUM = nil })
	_, err = s.runner.RunCheck(s.ctx, b2.ID, models.CheckFinancialHealth)
	s.Require().NoError(err)
	s.Require().Len(s.alerts.raised, 2)
	s.Equal(alertmodels.SeverityMedium, s.alerts.raised[1].Severity)

	s.Len(s.auditLog.ListByAction(audit.ActionComplianceCheckCompleted), 2)
}

func (s *RunnerSuite) TestRunCheckErrors() {
	s.Run("unknown check type", func() {
		_, err := s.runner.RunCheck(s.ctx, id.NewBrokerID(), "CREDIT")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
	s.Run("unknown broker", func() {
		_, err := s.runner.RunCheck(s.ctx, id.NewBrokerID(), models.CheckLicense)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *RunnerSuite) TestRunAllIsolatesFailures() {
	b := s.broker(nil)
	s.screener.EXPECT().Check(gomock.Any(), gomock.Any(), gomock.Any()).Return(screening.Result{}, errors.New("boom"))
	s.monitor.EXPECT().Coverage(gomock.Any(), gomock.Any()).Return(media.Result{}, nil)

	summary, err := s.runner.RunAll(s.ctx, b.ID)
	s.Require().NoError(err)
	s.Len(summary.Checks, len(models.AllCheckTypes))
	s.Require().Len(summary.Failed, 1)
	s.ErrorIs(summary.Failed[models.CheckSanctions], ErrProviderUnavailable)
	s.ErrorIs(summary.Err(), ErrProviderUnavailable)
}

func (s *RunnerSuite) TestRunNarrowsTypes() {
	b := s.broker(nil)
	s.screener.EXPECT().Check(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(screening.Result{}, errors.New("boom")).Times(2)

	s.Run("first failure raises the degraded alert", func() {
		summary, err := s.runner.Run(s.ctx, b.ID, RunOptions{Types: []models.CheckType{models.CheckSanctions}})
		s.Require().NoError(err)
		s.Len(summary.Checks, 1)
		s.Equal([]models.CheckType{models.CheckSanctions}, summary.FailedTypes())
		s.Len(s.alerts.raised, 1)
	})

	s.Run("retry of a degraded type appends but does not alert again", func() {
		summary, err := s.runner.Run(s.ctx, b.ID, RunOptions{Types: []models.CheckType{models.CheckSanctions}, Retry: true})
		s.Require().NoError(err)
		s.ErrorIs(summary.Err(), ErrProviderUnavailable)
		s.Len(s.alerts.raised, 1)
		recent, err := s.checks.ListRecent(s.ctx, b.ID, 10)
		s.Require().NoError(err)
		s.Len(recent, 2)
	})

	s.Run("unknown type is rejected before any check runs", func() {
		_, err := s.runner.Run(s.ctx, b.ID, RunOptions{Types: []models.CheckType{"CREDIT"}})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *RunnerSuite) TestRetryStillAlertsBusinessFailures() {
	b := s.broker(nil)
	s.screener.EXPECT().Check(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(screening.Result{
			Matches:   []screening.Match{{ListName: "OFAC", Name: "Acme", Kind: screening.KindSanctions}},
			RiskLevel: screening.RiskHigh,
		}, nil)

	summary, err := s.runner.Run(s.ctx, b.ID, RunOptions{Types: []models.CheckType{models.CheckSanctions}, Retry: true})
	s.Require().NoError(err)
	s.NoError(summary.Err())
	s.Require().Len(s.alerts.raised, 1)
	s.Equal(alertmodels.SeverityHigh, s.alerts.raised[0].Severity)
}

func (s *RunnerSuite) TestAuditFailureKeepsSingleCheckRow() {
	r, err := NewRunner(s.brokers, s.checks, s.alerts, failingSink{}, s.screener, s.monitor)
	s.Require().NoError(err)
	b := s.broker(func(b *brokermodels.Broker) { b.LicenseNumber = "" })

	c, err := r.RunCheck(s.ctx, b.ID, models.CheckLicense)
	s.Require().NoError(err)
	s.Equal(models.ResultFail, c.Result)
	s.Len(s.alerts.raised, 1)

	recent, err := s.checks.ListRecent(s.ctx, b.ID, 10)
	s.Require().NoError(err)
	s.Len(recent, 1)
}

func ptr[T any](v T) *T { return &v }
