package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	audit "brokerguard/pkg/platform/audit"
	txcontext "brokerguard/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Each event is materialized in audit_events and queued in outbox within the
// caller's transaction (if any); the outbox relay publishes to Kafka.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// outboxPayload is the JSON structure published to Kafka.
type outboxPayload struct {
	ID            string         `json:"id"`
	Category      string         `json:"category"`
	Timestamp     string         `json:"timestamp"`
	EntityID      string         `json:"entity_id"`
	Action        string         `json:"action"`
	Details       map[string]any `json:"details,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	JobID         string         `json:"job_id,omitempty"`
}

// Append writes the event row and its outbox entry.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()
	if event.ID != "" {
		if parsed, err := uuid.Parse(event.ID); err == nil {
			eventID = parsed
		}
	}
	category := audit.Action(event.Action).Category()

	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	payload, err := json.Marshal(outboxPayload{
		ID:            eventID.String(),
		Category:      string(category),
		Timestamp:     event.Timestamp.Format(time.RFC3339Nano),
		EntityID:      event.EntityID,
		Action:        event.Action,
		Details:       event.Details,
		CorrelationID: event.CorrelationID,
		JobID:         event.JobID,
	})
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	exec := txcontext.Exec(ctx, s.db)
	_, err = exec.ExecContext(ctx, `
		INSERT INTO audit_events (id, category, timestamp, entity_id, action, details, correlation_id, job_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, eventID, string(category), event.Timestamp, event.EntityID, event.Action, details, event.CorrelationID, event.JobID)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	_, err = exec.ExecContext(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New(), "broker", event.EntityID, event.Action, payload, time.Now())
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// ListByEntity returns events for a broker, oldest first.
func (s *Store) ListByEntity(ctx context.Context, entityID string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, timestamp, entity_id, action, details, correlation_id, job_id
		FROM audit_events
		WHERE entity_id = $1
		ORDER BY timestamp ASC
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListRecent returns the N most recent events.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, timestamp, entity_id, action, details, correlation_id, job_id
		FROM audit_events
		ORDER BY timestamp DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			event    audit.Event
			id       uuid.UUID
			category string
			details  []byte
		)
		if err := rows.Scan(&id, &category, &event.Timestamp, &event.EntityID, &event.Action,
			&details, &event.CorrelationID, &event.JobID); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.ID = id.String()
		event.Category = audit.EventCategory(category)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &event.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// OutboxEntry is an unpublished outbox row.
type OutboxEntry struct {
	ID        uuid.UUID
	Key       string
	EventType string
	Payload   []byte
}

// PendingOutbox returns up to limit unpublished entries, oldest first.
func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, aggregate_id, event_type, payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.Key, &e.EventType, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkPublished stamps an outbox entry as delivered.
func (s *Store) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE outbox SET published_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}
