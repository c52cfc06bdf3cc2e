package models

import (
	"time"

	"github.com/job-scanner/internal/types"
)

// QueueTask represents a deferred unit of work in the durable task queue.
// A task is claimed by exactly one worker (compare-and-swap on status) and is
// terminal on DONE or FAILED after a bounded retry count.
type QueueTask struct {
	ID           string           `json:"id" db:"id"`
	TaskType     string           `json:"taskType" db:"task_type"`
	Payload      []byte           `json:"payload" db:"payload"`
	Priority     int              `json:"priority" db:"priority"` // higher = sooner
	ScheduledFor time.Time        `json:"scheduledFor" db:"scheduled_for"`
	Status       types.TaskStatus `json:"status" db:"status"`
	Attempts     int              `json:"attempts" db:"attempts"`
	MaxAttempts  int              `json:"maxAttempts" db:"max_attempts"`
	LastError    *string          `json:"lastError,omitempty" db:"last_error"`
	CreatedAt    time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time        `json:"updatedAt" db:"updated_at"`
}
