// Package store persists verification records. Every write goes through
// Upsert so the one-record-per-(broker, type) invariant holds under
// concurrent job completions.
package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"brokerguard/internal/verification/models"
	id "brokerguard/pkg/domain"
	"brokerguard/pkg/platform/sentinel"
	"brokerguard/pkg/requestcontext"
)

// Patch mutates a record in place. Returning an error aborts the write.
type Patch func(*models.Record) error

type InMemoryStore struct {
	mu      sync.Mutex
	records map[models.Key]*models.Record
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{records: make(map[models.Key]*models.Record)}
}

// deepCopy round-trips through the same JSON payload the Postgres store uses,
// so both backends share aliasing behavior.
func deepCopy(r *models.Record) *models.Record {
	p := toPayload(r)
	raw, _ := json.Marshal(p)
	var back payload
	_ = json.Unmarshal(raw, &back)
	out := *r
	back.apply(&out)
	return &out
}

func (s *InMemoryStore) Upsert(ctx context.Context, key models.Key, patch Patch) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := requestcontext.Now(ctx)
	current, ok := s.records[key]
	var next *models.Record
	if ok {
		next = deepCopy(current)
	} else {
		next = models.NewRecord(key, now)
		next.ID = uuid.NewString()
	}
	if err := patch(next); err != nil {
		return nil, err
	}
	next.BrokerID = key.BrokerID
	next.Type = key.Type
	next.UpdatedAt = now
	s.records[key] = next
	return deepCopy(next), nil
}

func (s *InMemoryStore) Get(_ context.Context, key models.Key) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return deepCopy(r), nil
}

func (s *InMemoryStore) ListByBroker(_ context.Context, brokerID id.BrokerID) ([]*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Record
	for k, r := range s.records {
		if k.BrokerID == brokerID {
			out = append(out, deepCopy(r))
		}
	}
	return out, nil
}
