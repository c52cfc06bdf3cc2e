package models

import (
	"strings"
	"time"

	"github.com/job-scanner/internal/types"
)

// JobPosting represents a job posting row, either scraped from an external
// source (IsScraped=true) or created manually by a recruiter
type JobPosting struct {
	ID                  string               `json:"id" db:"id"`
	Title               string               `json:"title" db:"title"`
	Description         string               `json:"description" db:"description"`
	CompanyName         string               `json:"companyName" db:"company_name"`
	Location            string               `json:"location" db:"location"`
	JobType             types.JobType        `json:"jobType" db:"job_type"`
	SalaryMin           *int64               `json:"salaryMin,omitempty" db:"salary_min"`
	SalaryMax           *int64               `json:"salaryMax,omitempty" db:"salary_max"`
	Requirements        []string             `json:"requirements,omitempty" db:"requirements"`
	IsActive            bool                 `json:"isActive" db:"is_active"`
	IsScraped           bool                 `json:"isScraped" db:"is_scraped"`
	SourceID            *string              `json:"sourceId,omitempty" db:"source_id"`
	SourceURL           *string              `json:"sourceUrl,omitempty" db:"source_url"`
	ValidityStatus      types.ValidityStatus `json:"validityStatus" db:"validity_status"`
	LastValidated       *time.Time           `json:"lastValidated,omitempty" db:"last_validated"`
	ExpiresAt           time.Time            `json:"expiresAt" db:"expires_at"`
	ApplicationDeadline *time.Time           `json:"applicationDeadline,omitempty" db:"application_deadline"`
	CreatedAt           time.Time            `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time            `json:"updatedAt" db:"updated_at"`
	Views               int64                `json:"views" db:"views"`
	ApplicationsCount   int64                `json:"applicationsCount" db:"applications_count"`
}

// Fingerprint returns the dedup key for this posting: a normalized composite
// of title, company and location. Re-scraping the same logical posting within
// the recency window upserts the existing row instead of inserting a duplicate.
func (p *JobPosting) Fingerprint() string {
	return Fingerprint(p.Title, p.CompanyName, p.Location)
}

// Fingerprint normalizes (title, company, location) into a dedup key.
// Normalization: trim, lowercase, collapse internal whitespace runs.
func Fingerprint(title, company, location string) string {
	return normalizeField(title) + "|" + normalizeField(company) + "|" + normalizeField(location)
}

func normalizeField(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
