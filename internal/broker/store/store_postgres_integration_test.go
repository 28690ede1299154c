//go:build integration

package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"brokerguard/internal/broker/models"
	"brokerguard/internal/broker/store"
	id "brokerguard/pkg/domain"
	"brokerguard/pkg/platform/sentinel"
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
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "brokers"))
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	aum := decimal.RequireFromString("125000000.50")
	clients := 1500
	expiry := time.Now().UTC().AddDate(1, 0, 0).Truncate(time.Second)
	b := &models.Broker{
		ID:                 id.NewBrokerID(),
		CompanyName:        "Acme Markets",
		RegistrationNumber: "2019/123456/07",
		LicenseNumber:      "FSP-1234",
		LicenseExpiry:      &expiry,
		Status:             models.StatusPending,
		TrustScore:         50,
		AUM:                &aum,
		ClientCount:        &clients,
		APIConfig:          models.APIConfig{APIKey: "k", IPWhitelist: []string{"10.0.0.1"}, RateLimit: 100},
		Directors:          []models.Director{{Name: "Thandi Mokoena", IDNumber: "8001015009087", Ownership: decimal.NewFromInt(51)}},
		CreatedAt:          time.Now().UTC().Truncate(time.Microsecond),
		UpdatedAt:          time.Now().UTC().Truncate(time.Microsecond),
	}
	s.Require().NoError(s.store.Create(ctx, b))
	s.ErrorIs(s.store.Create(ctx, b), sentinel.ErrConflict)

	got, err := s.store.FindByID(ctx, b.ID)
	s.Require().NoError(err)
	s.True(aum.Equal(*got.AUM))
	s.Equal(1500, *got.ClientCount)
	s.Equal([]string{"10.0.0.1"}, got.APIConfig.IPWhitelist)
	s.Require().Len(got.Directors, 1)
	s.True(got.Directors[0].IsUBO())
}

// TestConcurrentUpdatesSerialize verifies row locking: N concurrent increments
// must all be applied.
func (s *PostgresStoreSuite) TestConcurrentUpdatesSerialize() {
	ctx := context.Background()
	b := &models.Broker{ID: id.NewBrokerID(), CompanyName: "c", RegistrationNumber: "r", Status: models.StatusPending,
		TrustScore: 0, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	s.Require().NoError(s.store.Create(ctx, b))

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Update(ctx, b.ID, func(b *models.Broker) error {
				b.TrustScore++
				return nil
			})
			s.NoError(err)
		}()
	}
	wg.Wait()

	got, err := s.store.FindByID(ctx, b.ID)
	s.Require().NoError(err)
	s.Equal(20, got.TrustScore)
}
