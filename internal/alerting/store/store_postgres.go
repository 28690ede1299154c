package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"brokerguard/internal/alerting/models"
	id "brokerguard/pkg/domain"
	"brokerguard/pkg/platform/sentinel"
	txcontext "brokerguard/pkg/platform/tx"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const alertColumns = `id, broker_id, type, severity, message, details, recommendations, status,
	escalation_level, resolution_note, handled_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		a        models.Alert
		alertID  uuid.UUID
		brokerID uuid.UUID
		alertTyp string
		severity string
		status   string
		details  []byte
		recs     []string
	)
	if err := row.Scan(&alertID, &brokerID, &alertTyp, &severity, &a.Message, &details, pq.Array(&recs), &status,
		&a.EscalationLevel, &a.ResolutionNote, &a.HandledBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.ID = id.AlertID(alertID)
	a.BrokerID = id.BrokerID(brokerID)
	a.Type = models.Type(alertTyp)
	a.Severity = models.Severity(severity)
	a.Status = models.Status(status)
	a.Recommendations = recs
	if len(details) > 0 {
		if err := json.Unmarshal(details, &a.Details); err != nil {
			return nil, fmt.Errorf("unmarshal alert details: %w", err)
		}
	}
	return &a, nil
}

func (s *PostgresStore) Create(ctx context.Context, a *models.Alert) error {
	details, err := json.Marshal(a.Details)
	if err != nil {
		return fmt.Errorf("marshal alert details: %w", err)
	}
	recs := a.Recommendations
	if recs == nil {
		recs = []string{}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO compliance_alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, uuid.UUID(a.ID), uuid.UUID(a.BrokerID), string(a.Type), string(a.Severity), a.Message, details,
		pq.Array(recs), string(a.Status), a.EscalationLevel, a.ResolutionNote, a.HandledBy, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, alertID id.AlertID) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM compliance_alerts WHERE id = $1`, uuid.UUID(alertID))
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find alert: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) Update(ctx context.Context, alertID id.AlertID, patch func(*models.Alert) error) (*models.Alert, error) {
	var out *models.Alert
	err := txcontext.RunInTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM compliance_alerts WHERE id = $1 FOR UPDATE`, uuid.UUID(alertID))
		a, err := scanAlert(row)
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock alert: %w", err)
		}
		if err := patch(a); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE compliance_alerts
			SET status = $2, resolution_note = $3, handled_by = $4, escalation_level = $5, updated_at = $6
			WHERE id = $1
		`, uuid.UUID(alertID), string(a.Status), a.ResolutionNote, a.HandledBy, a.EscalationLevel, a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update alert: %w", err)
		}
		out = a
		return nil
	})
	return out, err
}

func (s *PostgresStore) ListOpen(ctx context.Context, brokerID id.BrokerID) ([]*models.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+alertColumns+`
		FROM compliance_alerts
		WHERE broker_id = $1 AND status IN ('OPEN', 'ACKNOWLEDGED')
		ORDER BY created_at ASC
	`, uuid.UUID(brokerID))
	if err != nil {
		return nil, fmt.Errorf("list open alerts: %w", err)
	}
	defer rows.Close()

	var out []*models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountOpenBySeverity(ctx context.Context) (map[models.Severity]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT severity, COUNT(*) FROM compliance_alerts
		WHERE status IN ('OPEN', 'ACKNOWLEDGED')
		GROUP BY severity
	`)
	if err != nil {
		return nil, fmt.Errorf("count open alerts: %w", err)
	}
	defer rows.Close()

	out := make(map[models.Severity]int)
	for rows.Next() {
		var (
			severity string
			n        int
		)
		if err := rows.Scan(&severity, &n); err != nil {
			return nil, fmt.Errorf("scan alert count: %w", err)
		}
		out[models.Severity(severity)] = n
	}
	return out, rows.Err()
}
