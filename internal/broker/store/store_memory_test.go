package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"brokerguard/internal/broker/models"
	id "brokerguard/pkg/domain"
	"brokerguard/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
}

func (s *InMemoryStoreSuite) newBroker(status models.Status) *models.Broker {
	b := &models.Broker{
		ID:                 id.NewBrokerID(),
		CompanyName:        "Acme Markets",
		RegistrationNumber: "2019/123456/07",
		LicenseNumber:      "FSP-1234",
		Status:             status,
		TrustScore:         50,
		CreatedAt:          time.Now(),
	}
	s.Require().NoError(s.store.Create(context.Background(), b))
	return b
}

func (s *InMemoryStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	b := s.newBroker(models.StatusPending)

	s.Run("duplicate create conflicts", func() {
		err := s.store.Create(ctx, b)
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("find returns a copy", func() {
		got, err := s.store.FindByID(ctx, b.ID)
		s.Require().NoError(err)
		got.CompanyName = "mutated"
		again, err := s.store.FindByID(ctx, b.ID)
		s.Require().NoError(err)
		s.Equal("Acme Markets", again.CompanyName)
	})

	s.Run("missing broker", func() {
		_, err := s.store.FindByID(ctx, id.NewBrokerID())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryStoreSuite) TestUpdate() {
	ctx := context.Background()
	b := s.newBroker(models.StatusPending)

	s.Run("applies patch", func() {
		updated, err := s.store.Update(ctx, b.ID, func(b *models.Broker) error {
			b.Status = models.StatusVerified
			b.IsActive = true
			return nil
		})
		s.Require().NoError(err)
		s.Equal(models.StatusVerified, updated.Status)
		s.True(updated.IsActive)
	})

	s.Run("patch error leaves broker unchanged", func() {
		boom := errors.New("boom")
		_, err := s.store.Update(ctx, b.ID, func(b *models.Broker) error {
			b.Status = models.StatusRejected
			return boom
		})
		s.ErrorIs(err, boom)
		got, err := s.store.FindByID(ctx, b.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusVerified, got.Status)
	})
}

func (s *InMemoryStoreSuite) TestListings() {
	ctx := context.Background()
	now := time.Now()
	verified := s.newBroker(models.StatusVerified)
	pending := s.newBroker(models.StatusPendingVerification)
	s.newBroker(models.StatusRejected)

	ids, err := s.store.ListIDsByStatus(ctx, models.StatusVerified, models.StatusPendingVerification)
	s.Require().NoError(err)
	s.ElementsMatch([]id.BrokerID{verified.ID, pending.ID}, ids)

	soon := now.AddDate(0, 0, 20)
	later := now.AddDate(0, 0, 200)
	_, err = s.store.Update(ctx, verified.ID, func(b *models.Broker) error { b.LicenseExpiry = &soon; return nil })
	s.Require().NoError(err)
	_, err = s.store.Update(ctx, pending.ID, func(b *models.Broker) error { b.LicenseExpiry = &later; return nil })
	s.Require().NoError(err)

	expiring, err := s.store.ListLicenseExpiringBefore(ctx, now.AddDate(0, 0, 90))
	s.Require().NoError(err)
	s.Require().Len(expiring, 1)
	s.Equal(verified.ID, expiring[0].ID)
}

func (s *InMemoryStoreSuite) TestStats() {
	ctx := context.Background()
	a := s.newBroker(models.StatusVerified)
	s.newBroker(models.StatusPending)
	_, err := s.store.Update(ctx, a.ID, func(b *models.Broker) error {
		b.TrustScore = 70
		b.IsActive = true
		return nil
	})
	s.Require().NoError(err)

	stats, err := s.store.Stats(ctx)
	s.Require().NoError(err)
	s.Equal(1, stats.ByStatus[models.StatusVerified])
	s.Equal(1, stats.ByStatus[models.StatusPending])
	s.Equal(1, stats.Active)
	s.InDelta(60.0, stats.AverageTrustScore, 0.001)
}
