package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Xenovative/PMBot/internal/domain"
)

// ScanStore implements domain.ScanStore using PostgreSQL. Scan rows arrive
// once per market per cycle, so writes are batched.
type ScanStore struct {
	pool *pgxpool.Pool
}

// NewScanStore creates a ScanStore backed by the given connection pool.
func NewScanStore(pool *pgxpool.Pool) *ScanStore {
	return &ScanStore{pool: pool}
}

// InsertBatch inserts scan rows using a pgx Batch.
func (s *ScanStore) InsertBatch(ctx context.Context, rows []domain.ScanRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO scans (
			timestamp, market_slug, up_price, down_price, total_cost,
			spread, up_liquidity, down_liquidity, viable
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for _, r := range rows {
		batch.Queue(query,
			r.Timestamp, r.MarketSlug, r.UpPrice, r.DownPrice, r.TotalCost,
			r.Spread, r.UpLiquidity, r.DownLiquidity, r.Viable,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert scan batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListBefore returns all scans strictly older than the given time, oldest
// first (for archiving).
func (s *ScanStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ScanRow, error) {
	const query = `
		SELECT id, timestamp, market_slug, up_price, down_price, total_cost,
		       spread, up_liquidity, down_liquidity, viable
		FROM scans WHERE timestamp < $1 ORDER BY timestamp ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list scans before: %w", err)
	}
	defer rows.Close()

	var out []domain.ScanRow
	for rows.Next() {
		var r domain.ScanRow
		if err := rows.Scan(
			&r.ID, &r.Timestamp, &r.MarketSlug, &r.UpPrice, &r.DownPrice,
			&r.TotalCost, &r.Spread, &r.UpLiquidity, &r.DownLiquidity, &r.Viable,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan scans before: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteBefore deletes all scans older than the given time and returns
// the number deleted.
func (s *ScanStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scans WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete scans before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DailySummary aggregates one UTC day of trading activity from the trades
// and scans tables.
func (s *ScanStore) DailySummary(ctx context.Context, day time.Time) (domain.DailySummary, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	summary := domain.DailySummary{Date: start}

	const tradeQuery = `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status IN ('executed', 'simulated')),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       COALESCE(SUM(profit) FILTER (WHERE status IN ('executed', 'simulated')), 0)
		FROM trades WHERE timestamp >= $1 AND timestamp < $2`
	err := s.pool.QueryRow(ctx, tradeQuery, start, end).Scan(
		&summary.TotalTrades, &summary.Successful, &summary.Failed, &summary.TotalProfit,
	)
	if err != nil {
		return domain.DailySummary{}, fmt.Errorf("postgres: daily trade summary: %w", err)
	}

	const scanQuery = `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE viable)
		FROM scans WHERE timestamp >= $1 AND timestamp < $2`
	err = s.pool.QueryRow(ctx, scanQuery, start, end).Scan(&summary.ScanCount, &summary.ViableScans)
	if err != nil {
		return domain.DailySummary{}, fmt.Errorf("postgres: daily scan summary: %w", err)
	}

	return summary, nil
}
