//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"brokerguard/internal/compliance/models"
	"brokerguard/internal/compliance/store"
	id "brokerguard/pkg/domain"
	"brokerguard/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "compliance_checks"))
}

func (s *PostgresStoreSuite) check(brokerID id.BrokerID, kind models.CheckType, result models.Result, at time.Time) *models.Check {
	return &models.Check{
		ID:        id.NewCheckID(),
		BrokerID:  brokerID,
		CheckType: kind,
		CheckDate: at,
		Result:    result,
		Score:     0.8,
		Details:   map[string]any{"source": "daily"},
	}
}

func (s *PostgresStoreSuite) TestAppendAndListRecent() {
	ctx := context.Background()
	brokerID := id.NewBrokerID()
	base := time.Now().UTC().Truncate(time.Microsecond)
	for i, kind := range models.AllCheckTypes {
		s.Require().NoError(s.store.Append(ctx, s.check(brokerID, kind, models.ResultPass, base.Add(time.Duration(i)*time.Minute))))
	}
	s.Require().NoError(s.store.Append(ctx, s.check(id.NewBrokerID(), models.CheckLicense, models.ResultFail, base)))

	got, err := s.store.ListRecent(ctx, brokerID, 3)
	s.Require().NoError(err)
	s.Require().Len(got, 3)
	s.True(got[0].CheckDate.After(got[1].CheckDate))
	s.Equal(models.AllCheckTypes[len(models.AllCheckTypes)-1], got[0].CheckType)
	s.Equal("daily", got[0].Details["source"])
	s.Empty(got[0].Flags)
}

func (s *PostgresStoreSuite) TestSummarizeSince() {
	ctx := context.Background()
	brokerID := id.NewBrokerID()
	now := time.Now().UTC()
	s.Require().NoError(s.store.Append(ctx, s.check(brokerID, models.CheckLicense, models.ResultPass, now)))
	s.Require().NoError(s.store.Append(ctx, s.check(brokerID, models.CheckSanctions, models.ResultFail, now)))
	s.Require().NoError(s.store.Append(ctx, s.check(brokerID, models.CheckSanctions, models.ResultWarning, now.AddDate(0, 0, -30))))

	sum, err := s.store.SummarizeSince(ctx, now.AddDate(0, 0, -7))
	s.Require().NoError(err)
	s.Equal(1, sum.ByResult[models.ResultPass])
	s.Equal(1, sum.ByResult[models.ResultFail])
	s.Zero(sum.ByResult[models.ResultWarning])
	s.Equal(1, sum.ByType[models.CheckSanctions])
}
