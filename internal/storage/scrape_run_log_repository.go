package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/job-scanner/internal/models"
)

// ScrapeRunLogRepository appends scrape run records to ClickHouse.
// Rows are written once, after the per-source pass has finished, with the
// terminal status already set; nothing is ever updated in place.
type ScrapeRunLogRepository struct {
	db *ClickHouseDB
}

// NewScrapeRunLogRepository creates a new scrape run log repository
func NewScrapeRunLogRepository(db *ClickHouseDB) *ScrapeRunLogRepository {
	return &ScrapeRunLogRepository{db: db}
}

// Append writes one completed per-source run record
func (r *ScrapeRunLogRepository) Append(ctx context.Context, entry *models.ScrapeRunLog) error {
	query := `
		INSERT INTO scrape_run_logs (
			run_id, source, search_query, location, started_at, finished_at,
			jobs_found, jobs_created, jobs_updated, error_count, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	err := r.db.Conn().Exec(ctx, query,
		entry.RunID,
		entry.Source,
		entry.SearchQuery,
		entry.Location,
		entry.StartedAt,
		entry.FinishedAt,
		entry.JobsFound,
		entry.JobsCreated,
		entry.JobsUpdated,
		entry.ErrorCount,
		entry.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to append scrape run log: %w", err)
	}

	return nil
}

// SourceRunStats aggregates run history for one source
type SourceRunStats struct {
	Source       string    `json:"source"`
	Runs         int64     `json:"runs"`
	SuccessRuns  int64     `json:"successRuns"`
	ErrorRuns    int64     `json:"errorRuns"`
	JobsFound    int64     `json:"jobsFound"`
	LastRunAt    time.Time `json:"lastRunAt"`
}

// GetSourceStats aggregates per-source run counts since the cutoff
func (r *ScrapeRunLogRepository) GetSourceStats(ctx context.Context, since time.Time) ([]*SourceRunStats, error) {
	query := `
		SELECT
			source,
			count(),
			countIf(status = 'completed'),
			countIf(status = 'failed'),
			sum(jobs_found),
			max(finished_at)
		FROM scrape_run_logs
		WHERE started_at >= $1
		GROUP BY source
		ORDER BY source
	`

	rows, err := r.db.Conn().Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query scrape run stats: %w", err)
	}
	defer rows.Close()

	var stats []*SourceRunStats
	for rows.Next() {
		var s SourceRunStats
		var runs, successRuns, errorRuns uint64
		var jobsFound int64
		if err := rows.Scan(&s.Source, &runs, &successRuns, &errorRuns, &jobsFound, &s.LastRunAt); err != nil {
			return nil, fmt.Errorf("failed to scan scrape run stats: %w", err)
		}
		s.Runs = int64(runs)
		s.SuccessRuns = int64(successRuns)
		s.ErrorRuns = int64(errorRuns)
		s.JobsFound = jobsFound
		stats = append(stats, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scrape run stats: %w", err)
	}

	return stats, nil
}
