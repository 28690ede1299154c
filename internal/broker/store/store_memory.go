// Package store persists brokers.
package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"brokerguard/internal/broker/models"
	id "brokerguard/pkg/domain"
	"brokerguard/pkg/platform/sentinel"
)

// InMemoryStore keeps brokers in a map guarded by a mutex. Reads return copies.
type InMemoryStore struct {
	mu      sync.RWMutex
	brokers map[id.BrokerID]*models.Broker
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{brokers: make(map[id.BrokerID]*models.Broker)}
}

func clone(b *models.Broker) *models.Broker {
	c := *b
	c.Directors = slices.Clone(b.Directors)
	c.APIConfig.IPWhitelist = slices.Clone(b.APIConfig.IPWhitelist)
	return &c
}

func (s *InMemoryStore) Create(_ context.Context, b *models.Broker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.brokers[b.ID]; ok {
		return sentinel.ErrConflict
	}
	s.brokers[b.ID] = clone(b)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, brokerID id.BrokerID) (*models.Broker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.brokers[brokerID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(b), nil
}

// Update applies patch atomically. A patch error leaves the broker unchanged.
func (s *InMemoryStore) Update(_ context.Context, brokerID id.BrokerID, patch func(*models.Broker) error) (*models.Broker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.brokers[brokerID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	next := clone(b)
	if err := patch(next); err != nil {
		return nil, err
	}
	next.ID = brokerID
	next.UpdatedAt = time.Now()
	s.brokers[brokerID] = next
	return clone(next), nil
}

func (s *InMemoryStore) ListIDsByStatus(_ context.Context, statuses ...models.Status) ([]id.BrokerID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []id.BrokerID
	for _, b := range s.brokers {
		if slices.Contains(statuses, b.Status) {
			out = append(out, b.ID)
		}
	}
	slices.SortFunc(out, func(a, b id.BrokerID) int {
		return cmp.Compare(a.String(), b.String())
	})
	return out, nil
}

// ListLicenseExpiringBefore returns licensed, non-deleted brokers whose license
// expires before the cutoff.
func (s *InMemoryStore) ListLicenseExpiringBefore(_ context.Context, cutoff time.Time) ([]*models.Broker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Broker
	for _, b := range s.brokers {
		if b.LicenseExpiry == nil || b.Status == models.StatusDeleted || b.LicenseNumber == "" {
			continue
		}
		if b.LicenseExpiry.Before(cutoff) {
			out = append(out, clone(b))
		}
	}
	slices.SortFunc(out, func(a, b *models.Broker) int {
		return a.LicenseExpiry.Compare(*b.LicenseExpiry)
	})
	return out, nil
}

func (s *InMemoryStore) Stats(_ context.Context) (models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := models.Stats{ByStatus: make(map[models.Status]int)}
	total := 0
	for _, b := range s.brokers {
		stats.ByStatus[b.Status]++
		if b.IsActive {
			stats.Active++
		}
		if b.Status != models.StatusDeleted {
			stats.AverageTrustScore += float64(b.TrustScore)
			total++
		}
	}
	if total > 0 {
		stats.AverageTrustScore /= float64(total)
	}
	return stats, nil
}
