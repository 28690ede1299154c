package screening

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	brokermodels "brokerguard/internal/broker/models"
	"brokerguard/internal/providers/media"
	"brokerguard/internal/providers/mocks"
	providerscreening "brokerguard/internal/providers/screening"
	verification "brokerguard/internal/verification/models"
)

const validID = "8001015009087"

type ServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	screener *mocks.MockScreener
	monitor  *mocks.MockMonitor
	service  *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.screener = mocks.NewMockScreener(s.ctrl)
	s.monitor = mocks.NewMockMonitor(s.ctrl)

	svc, err := New(s.screener, s.monitor, WithConcurrency(2))
	s.Require().NoError(err)
	s.service = svc
}

// =============================================================================
// People screening
// =============================================================================

func (s *ServiceSuite) TestScreenPeople() {
	ctx := context.Background()

	s.Run("clear director is approved with low risk", func() {
		s.screener.EXPECT().Check(gomock.Any(), "Jane Doe", "").Return(providerscreening.Result{}, nil)

		out, err := s.service.ScreenPeople(ctx, []brokermodels.Director{{Name: "Jane Doe", IDNumber: validID}})
		s.Require().NoError(err)
		s.Require().Len(out, 1)
		s.Equal(verification.StatusApproved, out[0].VerificationStatus)
		s.Equal(RiskScoreClear, out[0].RiskScore)
		s.True(out[0].IDValid)
	})

	s.Run("sanctions match rejects with high risk", func() {
		s.screener.EXPECT().Check(gomock.Any(), "Bad Actor", "").Return(providerscreening.Result{
			Matches:   []providerscreening.Match{{ListName: "OFAC", Name: "Bad Actor", Kind: providerscreening.KindSanctions}},
			RiskLevel: providerscreening.RiskHigh,
		}, nil)

		out, err := s.service.ScreenPeople(ctx, []brokermodels.Director{{Name: "Bad Actor", IDNumber: validID}})
		s.Require().NoError(err)
		s.Equal(verification.StatusRejected, out[0].VerificationStatus)
		s.Equal(RiskScoreSanctioned, out[0].RiskScore)
		s.True(out[0].SanctionsMatch)
	})

	s.Run("failed checksum rejects regardless of clean screening", func() {
		s.screener.EXPECT().Check(gomock.Any(), "Typo Person", "").Return(providerscreening.Result{}, nil)

		out, err := s.service.ScreenPeople(ctx, []brokermodels.Director{{Name: "Typo Person", IDNumber: "8001015009088"}})
		s.Require().NoError(err)
		s.Equal(verification.StatusRejected, out[0].VerificationStatus)
		s.False(out[0].IDValid)
		s.Contains(out[0].Issues, IssueIDChecksum)
		s.Equal(RiskScoreClear, out[0].RiskScore)
	})

	s.Run("PEP match is recorded without rejecting", func() {
		s.screener.EXPECT().Check(gomock.Any(), "Minister", "").Return(providerscreening.Result{
			Matches: []providerscreening.Match{{Name: "Minister", Kind: providerscreening.KindPEP}},
		}, nil)

		out, err := s.service.ScreenPeople(ctx, []brokermodels.Director{{Name: "Minister", IDNumber: validID}})
		s.Require().NoError(err)
		s.True(out[0].PEP)
		s.Equal(verification.StatusApproved, out[0].VerificationStatus)
	})

	s.Run("results keep input order", func() {
		s.screener.EXPECT().Check(gomock.Any(), gomock.Any(), "").Return(providerscreening.Result{}, nil).Times(3)

		people := []brokermodels.Director{{Name: "A", IDNumber: validID}, {Name: "B", IDNumber: validID}, {Name: "C", IDNumber: validID}}
		out, err := s.service.ScreenPeople(ctx, people)
		s.Require().NoError(err)
		s.Equal("A", out[0].Name)
		s.Equal("B", out[1].Name)
		s.Equal("C", out[2].Name)
	})

	s.Run("provider failure fails the call", func() {
		s.screener.EXPECT().Check(gomock.Any(), "Jane Doe", "").Return(providerscreening.Result{}, errors.New("outage"))

		_, err := s.service.ScreenPeople(ctx, []brokermodels.Director{{Name: "Jane Doe", IDNumber: validID}})
		s.Error(err)
	})
}

// =============================================================================
// Entity screening
// =============================================================================

func (s *ServiceSuite) TestScreenEntity() {
	ctx := context.Background()

	s.Run("clean entity", func() {
		s.screener.EXPECT().Check(gomock.Any(), "Acme", "2020/1").Return(providerscreening.Result{RiskLevel: providerscreening.RiskLow}, nil)
		s.monitor.EXPECT().Coverage(gomock.Any(), "Acme").Return(media.Result{Articles: []media.Article{{Sentiment: 0.4}}}, nil)

		aml, err := s.service.ScreenEntity(ctx, "Acme", "2020/1")
		s.Require().NoError(err)
		s.True(Clear(aml))
	})

	s.Run("adverse coverage is not clear", func() {
		s.screener.EXPECT().Check(gomock.Any(), "Acme", "2020/1").Return(providerscreening.Result{}, nil)
		s.monitor.EXPECT().Coverage(gomock.Any(), "Acme").Return(media.Result{Articles: []media.Article{{Sentiment: -0.9}}}, nil)

		aml, err := s.service.ScreenEntity(ctx, "Acme", "2020/1")
		s.Require().NoError(err)
		s.False(aml.AdverseMediaClear)
		s.False(Clear(aml))
	})

	s.Run("media failure fails the call", func() {
		s.screener.EXPECT().Check(gomock.Any(), "Acme", "2020/1").Return(providerscreening.Result{}, nil).AnyTimes()
		s.monitor.EXPECT().Coverage(gomock.Any(), "Acme").Return(media.Result{}, errors.New("down"))

		_, err := s.service.ScreenEntity(ctx, "Acme", "2020/1")
		s.Error(err)
	})
}
