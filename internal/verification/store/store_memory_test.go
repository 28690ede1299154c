package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"brokerguard/internal/verification/models"
	id "brokerguard/pkg/domain"
	"brokerguard/pkg/platform/sentinel"
	"brokerguard/pkg/requestcontext"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
	now   time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.now = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *InMemoryStoreSuite) TestUpsertCreatesThenUpdates() {
	key := models.Key{BrokerID: id.NewBrokerID(), Type: models.TypeLicense}

	first, err := s.store.Upsert(s.ctx, key, func(r *models.Record) error {
		r.Status = models.StatusInProgress
		return nil
	})
	s.Require().NoError(err)
	s.Equal(models.StatusInProgress, first.Status)
	s.Equal(models.KYCNotStarted, first.KYCStatus)
	s.NotEmpty(first.ID)

	second, err := s.store.Upsert(s.ctx, key, func(r *models.Record) error {
		r.Status = models.StatusApproved
		r.FSCAResponse = &models.FSCAResponse{IsValid: true, LicenseStatus: "ACTIVE", CheckedAt: s.now}
		return nil
	})
	s.Require().NoError(err)
	s.Equal(first.ID, second.ID, "same key must update the same record")
	s.Equal(models.StatusApproved, second.Status)
	s.True(second.FSCAResponse.IsValid)

	records, err := s.store.ListByBroker(s.ctx, key.BrokerID)
	s.Require().NoError(err)
	s.Len(records, 1)
}

func (s *InMemoryStoreSuite) TestUpsertPatchErrorAborts() {
	key := models.Key{BrokerID: id.NewBrokerID(), Type: models.TypeDocuments}
	boom := errors.New("boom")

	_, err := s.store.Upsert(s.ctx, key, func(*models.Record) error { return boom })
	s.ErrorIs(err, boom)

	_, err = s.store.Get(s.ctx, key)
	s.ErrorIs(err, sentinel.ErrNotFound, "aborted first write must not create a record")
}

func (s *InMemoryStoreSuite) TestReturnedRecordIsDetached() {
	key := models.Key{BrokerID: id.NewBrokerID(), Type: models.TypeKYCDirectors}
	rec, err := s.store.Upsert(s.ctx, key, func(r *models.Record) error {
		r.EnsureKYCData().Directors = []models.PersonCheck{{Name: "A"}}
		return nil
	})
	s.Require().NoError(err)
	rec.KYCData.Directors[0].Name = "mutated"

	got, err := s.store.Get(s.ctx, key)
	s.Require().NoError(err)
	s.Equal("A", got.KYCData.Directors[0].Name)
}

func (s *InMemoryStoreSuite) TestConcurrentUpsertsSerialize() {
	key := models.Key{BrokerID: id.NewBrokerID(), Type: models.TypeAMLSanctions}
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Upsert(s.ctx, key, func(r *models.Record) error {
				r.Documents = append(r.Documents, models.Document{Type: "sanctions"})
				return nil
			})
			s.NoError(err)
		}()
	}
	wg.Wait()

	got, err := s.store.Get(s.ctx, key)
	s.Require().NoError(err)
	s.Len(got.Documents, 50)
}
