// Package store persists compliance alerts.
package store

import (
	"context"
	"maps"
	"slices"
	"sync"

	"brokerguard/internal/alerting/models"
	id "brokerguard/pkg/domain"
	"brokerguard/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	alerts map[id.AlertID]*models.Alert
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{alerts: make(map[id.AlertID]*models.Alert)}
}

func clone(a *models.Alert) *models.Alert {
	c := *a
	c.Details = maps.Clone(a.Details)
	c.Recommendations = slices.Clone(a.Recommendations)
	return &c
}

func (s *InMemoryStore) Create(_ context.Context, a *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[a.ID]; ok {
		return sentinel.ErrConflict
	}
	s.alerts[a.ID] = clone(a)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, alertID id.AlertID) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(a), nil
}

// Update applies patch atomically. A patch error leaves the alert unchanged.
func (s *InMemoryStore) Update(_ context.Context, alertID id.AlertID, patch func(*models.Alert) error) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	next := clone(a)
	if err := patch(next); err != nil {
		return nil, err
	}
	next.ID = alertID
	s.alerts[alertID] = next
	return clone(next), nil
}

// ListOpen returns OPEN and ACKNOWLEDGED alerts for a broker, oldest first.
func (s *InMemoryStore) ListOpen(_ context.Context, brokerID id.BrokerID) ([]*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Alert
	for _, a := range s.alerts {
		if a.BrokerID == brokerID && !a.Status.IsTerminal() {
			out = append(out, clone(a))
		}
	}
	slices.SortFunc(out, func(a, b *models.Alert) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// CountOpenBySeverity counts non-terminal alerts across all brokers.
func (s *InMemoryStore) CountOpenBySeverity(_ context.Context) (map[models.Severity]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[models.Severity]int)
	for _, a := range s.alerts {
		if !a.Status.IsTerminal() {
			out[a.Severity]++
		}
	}
	return out, nil
}
