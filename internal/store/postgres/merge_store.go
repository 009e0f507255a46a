package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Xenovative/PMBot/internal/domain"
)

// MergeStore implements domain.MergeStore using PostgreSQL.
type MergeStore struct {
	pool *pgxpool.Pool
}

// NewMergeStore creates a MergeStore backed by the given connection pool.
func NewMergeStore(pool *pgxpool.Pool) *MergeStore {
	return &MergeStore{pool: pool}
}

const mergeSelectCols = `timestamp, market_slug, condition_id, amount,
	usdc_received, tx_hash, gas_cost, net_profit, status, details`

func scanMergeRows(rows pgx.Rows) ([]domain.MergeRecord, error) {
	var records []domain.MergeRecord
	for rows.Next() {
		var r domain.MergeRecord
		if err := rows.Scan(
			&r.Timestamp, &r.MarketSlug, &r.ConditionID, &r.Amount,
			&r.USDCReceived, &r.TxHash, &r.GasCost, &r.NetProfit,
			&r.Status, &r.Details,
		); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Insert persists one merge record.
func (s *MergeStore) Insert(ctx context.Context, rec domain.MergeRecord) error {
	const query = `
		INSERT INTO merges (
			timestamp, market_slug, condition_id, amount,
			usdc_received, tx_hash, gas_cost, net_profit, status, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		rec.Timestamp, rec.MarketSlug, rec.ConditionID, rec.Amount,
		rec.USDCReceived, rec.TxHash, rec.GasCost, rec.NetProfit,
		rec.Status, rec.Details,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert merge: %w", err)
	}
	return nil
}

// ListRecent returns the newest merge records, newest first.
func (s *MergeStore) ListRecent(ctx context.Context, limit int) ([]domain.MergeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + mergeSelectCols + ` FROM merges ORDER BY timestamp DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent merges: %w", err)
	}
	defer rows.Close()

	records, err := scanMergeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent merges: %w", err)
	}
	return records, nil
}

// ListBefore returns all merges strictly older than the given time, oldest
// first (for archiving).
func (s *MergeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.MergeRecord, error) {
	query := `SELECT ` + mergeSelectCols + ` FROM merges WHERE timestamp < $1 ORDER BY timestamp ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list merges before: %w", err)
	}
	defer rows.Close()
	return scanMergeRows(rows)
}

// DeleteBefore deletes all merges older than the given time and returns
// the number deleted.
func (s *MergeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM merges WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete merges before: %w", err)
	}
	return tag.RowsAffected(), nil
}
