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

const queueTaskColumns = `
	id, task_type, payload, priority, scheduled_for, status,
	attempts, max_attempts, last_error, created_at, updated_at
`

// QueueTaskRepository handles durable task queue persistence
type QueueTaskRepository struct {
	db *PostgresDB
}

// NewQueueTaskRepository creates a new queue task repository
func NewQueueTaskRepository(db *PostgresDB) *QueueTaskRepository {
	return &QueueTaskRepository{db: db}
}

// Create persists a new PENDING task
func (r *QueueTaskRepository) Create(ctx context.Context, task *models.QueueTask) error {
	query := `
		INSERT INTO queue_tasks (
			id, task_type, payload, priority, scheduled_for, status,
			attempts, max_attempts, last_error, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		task.ID,
		task.TaskType,
		task.Payload,
		task.Priority,
		task.ScheduledFor,
		task.Status,
		task.Attempts,
		task.MaxAttempts,
		task.LastError,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create queue task: %w", err)
	}

	return nil
}

// GetByID retrieves a task by ID
func (r *QueueTaskRepository) GetByID(ctx context.Context, id string) (*models.QueueTask, error) {
	query := `SELECT ` + queueTaskColumns + ` FROM queue_tasks WHERE id = $1`

	task, err := scanQueueTask(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("queue task not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get queue task: %w", err)
	}

	return task, nil
}

// ClaimNext atomically claims the highest-priority due PENDING task and
// transitions it to RUNNING. The inner SELECT uses FOR UPDATE SKIP LOCKED so
// two workers can never claim the same row. Returns (nil, nil) when no task
// is due.
func (r *QueueTaskRepository) ClaimNext(ctx context.Context, now time.Time) (*models.QueueTask, error) {
	query := `
		UPDATE queue_tasks
		SET status = $1, attempts = attempts + 1, updated_at = $2
		WHERE id = (
			SELECT id FROM queue_tasks
			WHERE status = $3 AND scheduled_for <= $2
			ORDER BY priority DESC, scheduled_for ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + queueTaskColumns

	task, err := scanQueueTask(r.db.Pool().QueryRow(ctx, query, types.TaskStatusRunning, now, types.TaskStatusPending))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim queue task: %w", err)
	}

	return task, nil
}

// MarkDone transitions a task to its DONE terminal state
func (r *QueueTaskRepository) MarkDone(ctx context.Context, id string) error {
	return r.setTerminal(ctx, id, types.TaskStatusDone, nil)
}

// MarkFailed transitions a task to its FAILED terminal state with the last error
func (r *QueueTaskRepository) MarkFailed(ctx context.Context, id string, lastError string) error {
	return r.setTerminal(ctx, id, types.TaskStatusFailed, &lastError)
}

func (r *QueueTaskRepository) setTerminal(ctx context.Context, id string, status types.TaskStatus, lastError *string) error {
	query := `
		UPDATE queue_tasks
		SET status = $2, last_error = $3, updated_at = $4
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, id, status, lastError, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update queue task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("queue task not found: %s", id)
	}

	return nil
}

// Reschedule returns a failed attempt to PENDING with a new due time so the
// worker loop retries it after backoff
func (r *QueueTaskRepository) Reschedule(ctx context.Context, id string, nextRun time.Time, lastError string) error {
	query := `
		UPDATE queue_tasks
		SET status = $2, scheduled_for = $3, last_error = $4, updated_at = $5
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, id, types.TaskStatusPending, nextRun, lastError, time.Now())
	if err != nil {
		return fmt.Errorf("failed to reschedule queue task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("queue task not found: %s", id)
	}

	return nil
}

// QueueStats summarizes queue state for observability and backpressure
type QueueStats struct {
	Pending          int64         `json:"pending"`
	Running          int64         `json:"running"`
	Done             int64         `json:"done"`
	Failed           int64         `json:"failed"`
	OldestPendingAge time.Duration `json:"oldestPendingAge"`
}

// GetStats returns per-status counts and the age of the oldest PENDING task
func (r *QueueTaskRepository) GetStats(ctx context.Context) (*QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3),
			COUNT(*) FILTER (WHERE status = $4),
			COALESCE(MIN(created_at) FILTER (WHERE status = $1), now())
		FROM queue_tasks
	`

	var stats QueueStats
	var oldestPending time.Time
	err := r.db.Pool().QueryRow(ctx, query,
		types.TaskStatusPending,
		types.TaskStatusRunning,
		types.TaskStatusDone,
		types.TaskStatusFailed,
	).Scan(
		&stats.Pending,
		&stats.Running,
		&stats.Done,
		&stats.Failed,
		&oldestPending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}

	stats.OldestPendingAge = time.Since(oldestPending)
	if stats.Pending == 0 {
		stats.OldestPendingAge = 0
	}

	return &stats, nil
}

func scanQueueTask(row pgx.Row) (*models.QueueTask, error) {
	var task models.QueueTask

	err := row.Scan(
		&task.ID,
		&task.TaskType,
		&task.Payload,
		&task.Priority,
		&task.ScheduledFor,
		&task.Status,
		&task.Attempts,
		&task.MaxAttempts,
		&task.LastError,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &task, nil
}
