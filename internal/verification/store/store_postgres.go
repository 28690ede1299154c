package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"brokerguard/internal/verification/models"
	id "brokerguard/pkg/domain"
	"brokerguard/pkg/platform/sentinel"
	txcontext "brokerguard/pkg/platform/tx"
	"brokerguard/pkg/requestcontext"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `id, broker_id, type, status, kyc_status, payload, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		r        models.Record
		rawID    uuid.UUID
		brokerID uuid.UUID
		typ      string
		status   string
		kyc      string
		raw      []byte
	)
	if err := row.Scan(&rawID, &brokerID, &typ, &status, &kyc, &raw, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.ID = rawID.String()
	r.BrokerID = id.BrokerID(brokerID)
	r.Type = models.Type(typ)
	r.Status = models.Status(status)
	r.KYCStatus = models.KYCStatus(kyc)
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode verification payload: %w", err)
	}
	p.apply(&r)
	return &r, nil
}

// Upsert inserts the initial row if absent, then locks it with SELECT ... FOR
// UPDATE, applies patch and writes it back. Concurrent writers on one key
// serialize on the row lock; the unique (broker_id, type) constraint rules out
// duplicates.
func (s *PostgresStore) Upsert(ctx context.Context, key models.Key, patch Patch) (*models.Record, error) {
	now := requestcontext.Now(ctx)
	var out *models.Record
	err := txcontext.RunInTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		initial := models.NewRecord(key, now)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO verification_records (id, broker_id, type, status, kyc_status, payload, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, '{}'::jsonb, $6, $6)
			ON CONFLICT (broker_id, type) DO NOTHING
		`, uuid.New(), uuid.UUID(key.BrokerID), string(key.Type), string(initial.Status), string(initial.KYCStatus), now)
		if err != nil {
			return fmt.Errorf("insert verification record: %w", err)
		}

		row := tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM verification_records
			WHERE broker_id = $1 AND type = $2 FOR UPDATE`, uuid.UUID(key.BrokerID), string(key.Type))
		rec, err := scanRecord(row)
		if err != nil {
			return fmt.Errorf("lock verification record: %w", err)
		}
		if err := patch(rec); err != nil {
			return err
		}
		raw, err := json.Marshal(toPayload(rec))
		if err != nil {
			return fmt.Errorf("encode verification payload: %w", err)
		}
		rec.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `UPDATE verification_records
			SET status = $3, kyc_status = $4, payload = $5, updated_at = $6
			WHERE broker_id = $1 AND type = $2`,
			uuid.UUID(key.BrokerID), string(key.Type), string(rec.Status), string(rec.KYCStatus), raw, now)
		if err != nil {
			return fmt.Errorf("update verification record: %w", err)
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, key models.Key) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM verification_records
		WHERE broker_id = $1 AND type = $2`, uuid.UUID(key.BrokerID), string(key.Type))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get verification record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListByBroker(ctx context.Context, brokerID id.BrokerID) ([]*models.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM verification_records
		WHERE broker_id = $1 ORDER BY type`, uuid.UUID(brokerID))
	if err != nil {
		return nil, fmt.Errorf("list verification records: %w", err)
	}
	defer rows.Close()
	var out []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
