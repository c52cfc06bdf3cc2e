package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/job-scanner/internal/models"
	"github.com/job-scanner/internal/types"
)

const jobPostingColumns = `
	id, title, description, company_name, location, job_type,
	salary_min, salary_max, requirements, is_active, is_scraped,
	source_id, source_url, validity_status, last_validated,
	expires_at, application_deadline, created_at, updated_at,
	views, applications_count
`

// JobPostingRepository handles job posting persistence
type JobPostingRepository struct {
	db *PostgresDB
}

// NewJobPostingRepository creates a new job posting repository
func NewJobPostingRepository(db *PostgresDB) *JobPostingRepository {
	return &JobPostingRepository{db: db}
}

// Create inserts a new job posting
func (r *JobPostingRepository) Create(ctx context.Context, posting *models.JobPosting) error {
	query := `
		INSERT INTO job_postings (
			id, title, description, company_name, location, job_type,
			salary_min, salary_max, requirements, is_active, is_scraped,
			source_id, source_url, fingerprint, validity_status, last_validated,
			expires_at, application_deadline, created_at, updated_at,
			views, applications_count
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		posting.ID,
		posting.Title,
		posting.Description,
		posting.CompanyName,
		posting.Location,
		posting.JobType,
		posting.SalaryMin,
		posting.SalaryMax,
		posting.Requirements,
		posting.IsActive,
		posting.IsScraped,
		posting.SourceID,
		posting.SourceURL,
		posting.Fingerprint(),
		posting.ValidityStatus,
		posting.LastValidated,
		posting.ExpiresAt,
		posting.ApplicationDeadline,
		posting.CreatedAt,
		posting.UpdatedAt,
		posting.Views,
		posting.ApplicationsCount,
	)

	if err != nil {
		return fmt.Errorf("failed to create job posting: %w", err)
	}

	return nil
}

// GetByID retrieves a job posting by ID
func (r *JobPostingRepository) GetByID(ctx context.Context, id string) (*models.JobPosting, error) {
	query := `SELECT ` + jobPostingColumns + ` FROM job_postings WHERE id = $1`

	row := r.db.Pool().QueryRow(ctx, query, id)
	posting, err := scanJobPosting(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("job posting not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get job posting: %w", err)
	}

	return posting, nil
}

// FindRecentByFingerprint returns the posting with the given fingerprint
// created or updated after the cutoff, or nil when no such row exists.
// This is the dedup lookup used by the scraper.
func (r *JobPostingRepository) FindRecentByFingerprint(ctx context.Context, fingerprint string, since time.Time) (*models.JobPosting, error) {
	query := `
		SELECT ` + jobPostingColumns + `
		FROM job_postings
		WHERE fingerprint = $1 AND updated_at >= $2
		ORDER BY updated_at DESC
		LIMIT 1
	`

	row := r.db.Pool().QueryRow(ctx, query, fingerprint, since)
	posting, err := scanJobPosting(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find posting by fingerprint: %w", err)
	}

	return posting, nil
}

// RefreshFromScrape updates a deduplicated posting in place: salary,
// description and expiry are refreshed, updated_at is bumped.
func (r *JobPostingRepository) RefreshFromScrape(ctx context.Context, posting *models.JobPosting) error {
	query := `
		UPDATE job_postings
		SET description = $2, salary_min = $3, salary_max = $4,
			requirements = $5, source_url = $6, expires_at = $7, updated_at = $8
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query,
		posting.ID,
		posting.Description,
		posting.SalaryMin,
		posting.SalaryMax,
		posting.Requirements,
		posting.SourceURL,
		posting.ExpiresAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to refresh job posting: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("job posting not found: %s", posting.ID)
	}

	return nil
}

// DeleteExpiredScraped hard-deletes every scraped posting whose expiry has
// passed and returns the number of rows removed. Manual postings are never
// deleted here; see DeactivateExpiredManual.
func (r *JobPostingRepository) DeleteExpiredScraped(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM job_postings WHERE is_scraped = TRUE AND expires_at < $1`

	result, err := r.db.Pool().Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired scraped postings: %w", err)
	}

	return result.RowsAffected(), nil
}

// DeactivateExpiredManual marks expired manual postings inactive with
// validity_status EXPIRED, retaining the rows for audit. Returns the number
// of rows newly deactivated.
func (r *JobPostingRepository) DeactivateExpiredManual(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE job_postings
		SET is_active = FALSE, validity_status = $2, updated_at = $1
		WHERE is_scraped = FALSE AND expires_at < $1
		  AND (is_active = TRUE OR validity_status <> $2)
	`

	result, err := r.db.Pool().Exec(ctx, query, now, types.ValidityExpired)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired manual postings: %w", err)
	}

	return result.RowsAffected(), nil
}

// GetRevalidationBatch selects up to limit scraped, active, VALID postings
// whose last_validated is null or older than the cutoff, oldest first.
func (r *JobPostingRepository) GetRevalidationBatch(ctx context.Context, cutoff time.Time, limit int) ([]*models.JobPosting, error) {
	query := `
		SELECT ` + jobPostingColumns + `
		FROM job_postings
		WHERE is_scraped = TRUE AND is_active = TRUE AND validity_status = $1
		  AND (last_validated IS NULL OR last_validated < $2)
		ORDER BY last_validated ASC NULLS FIRST
		LIMIT $3
	`

	rows, err := r.db.Pool().Query(ctx, query, types.ValidityValid, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select revalidation batch: %w", err)
	}
	defer rows.Close()

	var postings []*models.JobPosting
	for rows.Next() {
		posting, err := scanJobPosting(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job posting: %w", err)
		}
		postings = append(postings, posting)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job postings: %w", err)
	}

	return postings, nil
}

// MarkInvalid records a failed validation: the posting becomes inactive with
// the given terminal validity status.
func (r *JobPostingRepository) MarkInvalid(ctx context.Context, id string, status types.ValidityStatus) error {
	query := `
		UPDATE job_postings
		SET is_active = FALSE, validity_status = $2, last_validated = $3, updated_at = $3
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, id, status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark posting invalid: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("job posting not found: %s", id)
	}

	return nil
}

// MarkValidated refreshes last_validated after a successful validation pass
func (r *JobPostingRepository) MarkValidated(ctx context.Context, id string, validatedAt time.Time) error {
	query := `
		UPDATE job_postings
		SET last_validated = $2, updated_at = $2
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, id, validatedAt)
	if err != nil {
		return fmt.Errorf("failed to mark posting validated: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("job posting not found: %s", id)
	}

	return nil
}

// CleanupCounts reports what a cleanup cycle would touch right now without
// mutating anything. Used for the dry-run cleanup response.
type CleanupCounts struct {
	ExpiredScraped int64
	ExpiredManual  int64
	Invalid        int64
}

// CountCleanupTargets counts expired scraped, expired manual and invalid
// postings as of now
func (r *JobPostingRepository) CountCleanupTargets(ctx context.Context, now time.Time) (*CleanupCounts, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE is_scraped = TRUE AND expires_at < $1),
			COUNT(*) FILTER (WHERE is_scraped = FALSE AND expires_at < $1 AND (is_active = TRUE OR validity_status <> $2)),
			COUNT(*) FILTER (WHERE is_active = TRUE AND validity_status NOT IN ($3, $2))
		FROM job_postings
	`

	var counts CleanupCounts
	err := r.db.Pool().QueryRow(ctx, query, now, types.ValidityExpired, types.ValidityValid).Scan(
		&counts.ExpiredScraped,
		&counts.ExpiredManual,
		&counts.Invalid,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count cleanup targets: %w", err)
	}

	return &counts, nil
}

// PostingStats summarizes posting state for the cleanup status endpoint
type PostingStats struct {
	TotalJobs         int64 `json:"totalJobs"`
	ActiveJobs        int64 `json:"activeJobs"`
	ExpiredJobs       int64 `json:"expiredJobs"`
	InvalidJobs       int64 `json:"invalidJobs"`
	RecentlyValidated int64 `json:"recentlyValidated"`
}

// GetStats returns aggregate posting counts. recentWindow bounds the
// "recently validated" bucket.
func (r *JobPostingRepository) GetStats(ctx context.Context, recentWindow time.Duration) (*PostingStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE is_active = TRUE),
			COUNT(*) FILTER (WHERE validity_status = $1 OR expires_at < now()),
			COUNT(*) FILTER (WHERE validity_status IN ($2, $3)),
			COUNT(*) FILTER (WHERE last_validated >= $4)
		FROM job_postings
	`

	var stats PostingStats
	err := r.db.Pool().QueryRow(ctx, query,
		types.ValidityExpired,
		types.ValidityNotFound,
		types.ValidityInvalidURL,
		time.Now().Add(-recentWindow),
	).Scan(
		&stats.TotalJobs,
		&stats.ActiveJobs,
		&stats.ExpiredJobs,
		&stats.InvalidJobs,
		&stats.RecentlyValidated,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get posting stats: %w", err)
	}

	return &stats, nil
}

// scanJobPosting scans one job posting row
func scanJobPosting(row pgx.Row) (*models.JobPosting, error) {
	var posting models.JobPosting

	err := row.Scan(
		&posting.ID,
		&posting.Title,
		&posting.Description,
		&posting.CompanyName,
		&posting.Location,
		&posting.JobType,
		&posting.SalaryMin,
		&posting.SalaryMax,
		&posting.Requirements,
		&posting.IsActive,
		&posting.IsScraped,
		&posting.SourceID,
		&posting.SourceURL,
		&posting.ValidityStatus,
		&posting.LastValidated,
		&posting.ExpiresAt,
		&posting.ApplicationDeadline,
		&posting.CreatedAt,
		&posting.UpdatedAt,
		&posting.Views,
		&posting.ApplicationsCount,
	)
	if err != nil {
		return nil, err
	}

	return &posting, nil
}
