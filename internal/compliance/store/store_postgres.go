package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"brokerguard/internal/compliance/models"
	id "brokerguard/pkg/domain"
	txcontext "brokerguard/pkg/platform/tx"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, c *models.Check) error {
	details, err := json.Marshal(c.Details)
	if err != nil {
		return fmt.Errorf("marshal check details: %w", err)
	}
	flags := c.Flags
	if flags == nil {
		flags = []string{}
	}
	recs := c.Recommendations
	if recs == nil {
		recs = []string{}
	}
	_, err = txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO compliance_checks (id, broker_id, check_type, check_date, result, score, details, flags, recommendations)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuid.UUID(c.ID), uuid.UUID(c.BrokerID), string(c.CheckType), c.CheckDate, string(c.Result), c.Score,
		details, pq.Array(flags), pq.Array(recs))
	if err != nil {
		return fmt.Errorf("insert compliance check: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, brokerID id.BrokerID, limit int) ([]*models.Check, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, `
		SELECT id, broker_id, check_type, check_date, result, score, details, flags, recommendations
		FROM compliance_checks
		WHERE broker_id = $1
		ORDER BY check_date DESC
		LIMIT $2
	`, uuid.UUID(brokerID), limit)
	if err != nil {
		return nil, fmt.Errorf("list compliance checks: %w", err)
	}
	defer rows.Close()

	var out []*models.Check
	for rows.Next() {
		var (
			c         models.Check
			rawID     uuid.UUID
			rawBroker uuid.UUID
			checkType string
			result    string
			details   []byte
		)
		if err := rows.Scan(&rawID, &rawBroker, &checkType, &c.CheckDate, &result, &c.Score, &details,
			pq.Array(&c.Flags), pq.Array(&c.Recommendations)); err != nil {
			return nil, fmt.Errorf("scan compliance check: %w", err)
		}
		c.ID = id.CheckID(rawID)
		c.BrokerID = id.BrokerID(rawBroker)
		c.CheckType = models.CheckType(checkType)
		c.Result = models.Result(result)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &c.Details); err != nil {
				return nil, fmt.Errorf("decode check details: %w", err)
			}
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SummarizeSince(ctx context.Context, since time.Time) (models.Summary, error) {
	sum := models.Summary{ByResult: map[models.Result]int{}, ByType: map[models.CheckType]int{}}
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, `
		SELECT check_type, result, COUNT(*) FROM compliance_checks
		WHERE check_date >= $1
		GROUP BY check_type, result
	`, since)
	if err != nil {
		return sum, fmt.Errorf("summarize compliance checks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			checkType, result string
			n                 int
		)
		if err := rows.Scan(&checkType, &result, &n); err != nil {
			return sum, fmt.Errorf("scan summary: %w", err)
		}
		sum.ByType[models.CheckType(checkType)] += n
		sum.ByResult[models.Result(result)] += n
	}
	return sum, rows.Err()
}
