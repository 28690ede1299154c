package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"brokerguard/internal/broker/models"
	id "brokerguard/pkg/domain"
	"brokerguard/pkg/platform/sentinel"
	txcontext "brokerguard/pkg/platform/tx"
)

// PostgresStore persists brokers in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const brokerColumns = `id, company_name, registration_number, license_number, license_category,
	license_expiry, status, trust_score, compliance_info, is_active, aum, client_count,
	api_config, directors, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBroker(row rowScanner) (*models.Broker, error) {
	var (
		b           models.Broker
		rawID       uuid.UUID
		expiry      sql.NullTime
		status      string
		compliance  []byte
		aum         decimal.NullDecimal
		clientCount sql.NullInt64
		apiConfig   []byte
		directors   []byte
	)
	err := row.Scan(&rawID, &b.CompanyName, &b.RegistrationNumber, &b.LicenseNumber, &b.LicenseCategory,
		&expiry, &status, &b.TrustScore, &compliance, &b.IsActive, &aum, &clientCount,
		&apiConfig, &directors, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.ID = id.BrokerID(rawID)
	b.Status = models.Status(status)
	if expiry.Valid {
		t := expiry.Time
		b.LicenseExpiry = &t
	}
	if aum.Valid {
		v := aum.Decimal
		b.AUM = &v
	}
	if clientCount.Valid {
		n := int(clientCount.Int64)
		b.ClientCount = &n
	}
	if err := json.Unmarshal(compliance, &b.ComplianceInfo); err != nil {
		return nil, fmt.Errorf("decode compliance_info: %w", err)
	}
	if err := json.Unmarshal(apiConfig, &b.APIConfig); err != nil {
		return nil, fmt.Errorf("decode api_config: %w", err)
	}
	if err := json.Unmarshal(directors, &b.Directors); err != nil {
		return nil, fmt.Errorf("decode directors: %w", err)
	}
	return &b, nil
}

func brokerArgs(b *models.Broker) ([]any, error) {
	compliance, err := json.Marshal(b.ComplianceInfo)
	if err != nil {
		return nil, err
	}
	apiConfig, err := json.Marshal(b.APIConfig)
	if err != nil {
		return nil, err
	}
	directors := b.Directors
	if directors == nil {
		directors = []models.Director{}
	}
	dirJSON, err := json.Marshal(directors)
	if err != nil {
		return nil, err
	}
	var expiry sql.NullTime
	if b.LicenseExpiry != nil {
		expiry = sql.NullTime{Time: *b.LicenseExpiry, Valid: true}
	}
	var aum decimal.NullDecimal
	if b.AUM != nil {
		aum = decimal.NullDecimal{Decimal: *b.AUM, Valid: true}
	}
	var clientCount sql.NullInt64
	if b.ClientCount != nil {
		clientCount = sql.NullInt64{Int64: int64(*b.ClientCount), Valid: true}
	}
	return []any{
		uuid.UUID(b.ID), b.CompanyName, b.RegistrationNumber, b.LicenseNumber, b.LicenseCategory,
		expiry, string(b.Status), b.TrustScore, compliance, b.IsActive, aum, clientCount,
		apiConfig, dirJSON, b.CreatedAt, b.UpdatedAt,
	}, nil
}

func (s *PostgresStore) Create(ctx context.Context, b *models.Broker) error {
	args, err := brokerArgs(b)
	if err != nil {
		return fmt.Errorf("encode broker: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO brokers (`+brokerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`, args...)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert broker: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, brokerID id.BrokerID) (*models.Broker, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+brokerColumns+` FROM brokers WHERE id = $1`, uuid.UUID(brokerID))
	b, err := scanBroker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find broker: %w", err)
	}
	return b, nil
}

// Update locks the row, applies patch and writes it back in one transaction.
func (s *PostgresStore) Update(ctx context.Context, brokerID id.BrokerID, patch func(*models.Broker) error) (*models.Broker, error) {
	var updated *models.Broker
	err := txcontext.RunInTx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+brokerColumns+` FROM brokers WHERE id = $1 FOR UPDATE`, uuid.UUID(brokerID))
		b, err := scanBroker(row)
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock broker: %w", err)
		}
		if err := patch(b); err != nil {
			return err
		}
		b.ID = brokerID
		b.UpdatedAt = time.Now()
		args, err := brokerArgs(b)
		if err != nil {
			return fmt.Errorf("encode broker: %w", err)
		}
		_, err = tx.ExecContext(ctx, `UPDATE brokers SET
			company_name = $2, registration_number = $3, license_number = $4, license_category = $5,
			license_expiry = $6, status = $7, trust_score = $8, compliance_info = $9, is_active = $10,
			aum = $11, client_count = $12, api_config = $13, directors = $14, created_at = $15, updated_at = $16
			WHERE id = $1`, args...)
		if err != nil {
			return fmt.Errorf("update broker: %w", err)
		}
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PostgresStore) ListIDsByStatus(ctx context.Context, statuses ...models.Status) ([]id.BrokerID, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM brokers WHERE status = ANY($1) ORDER BY id`, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("list brokers by status: %w", err)
	}
	defer rows.Close()
	var out []id.BrokerID
	for rows.Next() {
		var u uuid.UUID
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan broker id: %w", err)
		}
		out = append(out, id.BrokerID(u))
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListLicenseExpiringBefore(ctx context.Context, cutoff time.Time) ([]*models.Broker, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+brokerColumns+` FROM brokers
		WHERE license_expiry IS NOT NULL AND license_expiry < $1
		  AND license_number <> '' AND status <> $2
		ORDER BY license_expiry`, cutoff, string(models.StatusDeleted))
	if err != nil {
		return nil, fmt.Errorf("list expiring licenses: %w", err)
	}
	defer rows.Close()
	var out []*models.Broker
	for rows.Next() {
		b, err := scanBroker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan broker: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Stats(ctx context.Context) (models.Stats, error) {
	stats := models.Stats{ByStatus: make(map[models.Status]int)}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*), COUNT(*) FILTER (WHERE is_active) FROM brokers GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("broker stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status        string
			count, active int
		)
		if err := rows.Scan(&status, &count, &active); err != nil {
			return stats, fmt.Errorf("scan broker stats: %w", err)
		}
		stats.ByStatus[models.Status(status)] = count
		stats.Active += active
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}
	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT AVG(trust_score) FROM brokers WHERE status <> $1`,
		string(models.StatusDeleted)).Scan(&avg); err != nil {
		return stats, fmt.Errorf("average trust score: %w", err)
	}
	stats.AverageTrustScore = avg.Float64
	return stats, nil
}
