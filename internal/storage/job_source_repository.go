package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/job-scanner/internal/models"
)

// JobSourceRepository handles job source persistence
type JobSourceRepository struct {
	db *PostgresDB
}

// NewJobSourceRepository creates a new job source repository
func NewJobSourceRepository(db *PostgresDB) *JobSourceRepository {
	return &JobSourceRepository{db: db}
}

// Upsert inserts a source or refreshes its provider on conflict by name.
// Used at startup to register the configured adapters.
func (r *JobSourceRepository) Upsert(ctx context.Context, source *models.JobSource) error {
	query := `
		INSERT INTO job_sources (id, name, provider, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET provider = EXCLUDED.provider
	`

	_, err := r.db.Pool().Exec(ctx, query,
		source.ID,
		source.Name,
		source.Provider,
		source.IsActive,
		source.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert job source: %w", err)
	}

	return nil
}

// GetByID retrieves a source by ID
func (r *JobSourceRepository) GetByID(ctx context.Context, id string) (*models.JobSource, error) {
	query := `SELECT id, name, provider, is_active, created_at FROM job_sources WHERE id = $1`

	var source models.JobSource
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&source.ID,
		&source.Name,
		&source.Provider,
		&source.IsActive,
		&source.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("job source not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get job source: %w", err)
	}

	return &source, nil
}

// GetByName retrieves a source by its unique name
func (r *JobSourceRepository) GetByName(ctx context.Context, name string) (*models.JobSource, error) {
	query := `SELECT id, name, provider, is_active, created_at FROM job_sources WHERE name = $1`

	var source models.JobSource
	err := r.db.Pool().QueryRow(ctx, query, name).Scan(
		&source.ID,
		&source.Name,
		&source.Provider,
		&source.IsActive,
		&source.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("job source not found: %s", name)
		}
		return nil, fmt.Errorf("failed to get job source: %w", err)
	}

	return &source, nil
}

// SetActive toggles a source's active flag
func (r *JobSourceRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE job_sources SET is_active = $2 WHERE id = $1`

	result, err := r.db.Pool().Exec(ctx, query, id, active)
	if err != nil {
		return fmt.Errorf("failed to update job source: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("job source not found: %s", id)
	}

	return nil
}
