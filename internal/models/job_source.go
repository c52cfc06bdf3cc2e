package models

import "time"

// JobSource represents an external job site that postings are scraped from.
// Deactivating a source is the trigger for its postings to fail re-validation.
type JobSource struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Provider  string    `json:"provider" db:"provider"`
	IsActive  bool      `json:"isActive" db:"is_active"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
