// Package store persists the append-only compliance check log.
package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"brokerguard/internal/compliance/models"
	id "brokerguard/pkg/domain"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	checks []*models.Check
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, c *models.Check) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	cp.Flags = slices.Clone(c.Flags)
	cp.Recommendations = slices.Clone(c.Recommendations)
	s.checks = append(s.checks, &cp)
	return nil
}

// ListRecent returns up to limit checks for a broker, newest first.
func (s *InMemoryStore) ListRecent(_ context.Context, brokerID id.BrokerID, limit int) ([]*models.Check, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Check
	for i := len(s.checks) - 1; i >= 0; i-- {
		c := s.checks[i]
		if c.BrokerID != brokerID {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	slices.SortStableFunc(out, func(a, b *models.Check) int {
		return b.CheckDate.Compare(a.CheckDate)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) SummarizeSince(_ context.Context, since time.Time) (models.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := models.Summary{ByResult: map[models.Result]int{}, ByType: map[models.CheckType]int{}}
	for _, c := range s.checks {
		if c.CheckDate.Before(since) {
			continue
		}
		sum.ByResult[c.Result]++
		sum.ByType[c.CheckType]++
	}
	return sum, nil
}
