package models

import (
	"time"

	"github.com/job-scanner/internal/types"
)

// RateLimitRecord represents one fixed-window counter, keyed by
// (identity, category). Created lazily on the first request in a window and
// reset in place once the window has elapsed.
type RateLimitRecord struct {
	Identity    string                  `json:"identity" db:"identity"`
	Category    types.RateLimitCategory `json:"category" db:"category"`
	Count       int                     `json:"count" db:"count"`
	WindowStart time.Time               `json:"windowStart" db:"window_start"`
}
