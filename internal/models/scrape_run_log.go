package models

import "time"

// Scrape run terminal statuses
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// ScrapeRunLog is an append-only observability record of one per-source scrape
// pass within a run. Never mutated after completion except the terminal status.
type ScrapeRunLog struct {
	RunID       string    `json:"runId" db:"run_id"`
	Source      string    `json:"source" db:"source"`
	SearchQuery string    `json:"searchQuery" db:"search_query"`
	Location    string    `json:"location" db:"location"`
	StartedAt   time.Time `json:"startedAt" db:"started_at"`
	FinishedAt  time.Time `json:"finishedAt" db:"finished_at"`
	JobsFound   int64     `json:"jobsFound" db:"jobs_found"`
	JobsCreated int64     `json:"jobsCreated" db:"jobs_created"`
	JobsUpdated int64     `json:"jobsUpdated" db:"jobs_updated"`
	ErrorCount  int64     `json:"errorCount" db:"error_count"`
	Status      string    `json:"status" db:"status"`
}
