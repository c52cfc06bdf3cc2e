package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/job-scanner/internal/models"
	"github.com/job-scanner/internal/types"
)

// RateLimitRepository handles fixed-window counter persistence.
// The increment is a single conditional upsert so concurrent callers never
// race a read-then-write on the shared counter.
type RateLimitRepository struct {
	db *PostgresDB
}

// NewRateLimitRepository creates a new rate limit repository
func NewRateLimitRepository(db *PostgresDB) *RateLimitRepository {
	return &RateLimitRepository{db: db}
}

// Increment bumps the counter for (identity, category) in one statement:
// a missing record is created with count 1, a record whose window has aged
// out (window_start <= expiredBefore) is reset to {1, now}, and a live
// window is incremented. Returns the resulting count and window start.
func (r *RateLimitRepository) Increment(ctx context.Context, identity string, category types.RateLimitCategory, now, expiredBefore time.Time) (*models.RateLimitRecord, error) {
	query := `
		INSERT INTO rate_limit_records (identity, category, count, window_start)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (identity, category) DO UPDATE
		SET count = CASE
				WHEN rate_limit_records.window_start <= $4 THEN 1
				ELSE rate_limit_records.count + 1
			END,
			window_start = CASE
				WHEN rate_limit_records.window_start <= $4 THEN $3
				ELSE rate_limit_records.window_start
			END
		RETURNING identity, category, count, window_start
	`

	var record models.RateLimitRecord
	err := r.db.Pool().QueryRow(ctx, query, identity, category, now, expiredBefore).Scan(
		&record.Identity,
		&record.Category,
		&record.Count,
		&record.WindowStart,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	return &record, nil
}

// DeleteOlderThan bulk-purges counters whose window started before the cutoff
func (r *RateLimitRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM rate_limit_records WHERE window_start < $1`

	result, err := r.db.Pool().Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge rate limit records: %w", err)
	}

	return result.RowsAffected(), nil
}

// KeyCount pairs a rate-limit key with its current window count
type KeyCount struct {
	Identity string                  `json:"identity"`
	Category types.RateLimitCategory `json:"category"`
	Count    int                     `json:"count"`
}

// RateLimitStats aggregates counter state for operational visibility
type RateLimitStats struct {
	TotalRecords  int64      `json:"totalRecords"`
	TotalRequests int64      `json:"totalRequests"`
	TopKeys       []KeyCount `json:"topKeys"`
}

// GetStats returns totals plus the top-N highest-count keys
func (r *RateLimitRepository) GetStats(ctx context.Context, topN int) (*RateLimitStats, error) {
	var stats RateLimitStats

	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(count), 0) FROM rate_limit_records`,
	).Scan(&stats.TotalRecords, &stats.TotalRequests)
	if err != nil {
		return nil, fmt.Errorf("failed to get rate limit totals: %w", err)
	}

	rows, err := r.db.Pool().Query(ctx,
		`SELECT identity, category, count FROM rate_limit_records ORDER BY count DESC LIMIT $1`,
		topN,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get top rate limit keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kc KeyCount
		if err := rows.Scan(&kc.Identity, &kc.Category, &kc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan rate limit key: %w", err)
		}
		stats.TopKeys = append(stats.TopKeys, kc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rate limit keys: %w", err)
	}

	return &stats, nil
}
