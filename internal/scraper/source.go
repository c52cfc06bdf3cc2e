// Package scraper orchestrates scraping job postings from external sources.
// A run fans out over the registered source adapters; each source is isolated
// behind its own circuit breaker and outbound pacer, so one failing site
// produces a partial result rather than a failed run.
package scraper

import (
	"context"
	"time"

	"github.com/job-scanner/internal/types"
)

// RawPosting is a normalized posting as produced by a source adapter, before
// dedup and persistence
type RawPosting struct {
	Title               string
	Description         string
	CompanyName         string
	Location            string
	JobType             types.JobType
	SalaryMin           *int64
	SalaryMax           *int64
	Requirements        []string
	SourceURL           string
	ApplicationDeadline *time.Time
}

// Source is a job site adapter. Fetch retrieves the raw payload for a search;
// Normalize decodes it into postings. The split keeps transport failures
// (SOURCE_UNAVAILABLE, SOURCE_RATE_LIMITED) distinguishable from decode
// failures (PARSE_ERROR).
type Source interface {
	Name() string
	Fetch(ctx context.Context, query, location string) ([]byte, error)
	Normalize(data []byte) ([]*RawPosting, error)
}
