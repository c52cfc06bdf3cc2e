// Package types provides common type definitions for the job scanner system.
package types

import "time"

// Role represents the access role claim supplied by the authorization collaborator
type Role string

const (
	// RoleAdmin represents administrators with full pipeline access
	RoleAdmin Role = "ADMIN"
	// RoleRecruiter represents recruiters allowed to trigger scraping runs
	RoleRecruiter Role = "RECRUITER"
	// RoleMember represents regular members with no pipeline access
	RoleMember Role = "MEMBER"
)

// CanTrigger reports whether the role may trigger scraping runs
func (r Role) CanTrigger() bool {
	return r == RoleAdmin || r == RoleRecruiter
}

// JobType represents the employment type of a posting
type JobType string

const (
	// JobTypeFullTime represents full-time positions
	JobTypeFullTime JobType = "FULL_TIME"
	// JobTypePartTime represents part-time positions
	JobTypePartTime JobType = "PART_TIME"
	// JobTypeContract represents contract positions
	JobTypeContract JobType = "CONTRACT"
	// JobTypeInternship represents internships
	JobTypeInternship JobType = "INTERNSHIP"
	// JobTypeRemote represents fully remote positions
	JobTypeRemote JobType = "REMOTE"
)

// ValidityStatus represents the lifecycle state of a posting with respect
// to external reality
type ValidityStatus string

const (
	// ValidityValid represents a posting believed to still be live
	ValidityValid ValidityStatus = "VALID"
	// ValidityNotFound represents a posting whose source no longer serves it
	ValidityNotFound ValidityStatus = "NOT_FOUND"
	// ValidityInvalidURL represents a posting whose source URL is unusable
	ValidityInvalidURL ValidityStatus = "INVALID_URL"
	// ValidityExpired represents a posting past its expiry time
	ValidityExpired ValidityStatus = "EXPIRED"
)

// TaskStatus represents the status of a queued task
type TaskStatus string

const (
	// TaskStatusPending represents a task waiting to be claimed
	TaskStatusPending TaskStatus = "PENDING"
	// TaskStatusRunning represents a task claimed by a worker
	TaskStatusRunning TaskStatus = "RUNNING"
	// TaskStatusDone represents a successfully completed task
	TaskStatusDone TaskStatus = "DONE"
	// TaskStatusFailed represents a task that exhausted its retries
	TaskStatusFailed TaskStatus = "FAILED"
)

// RateLimitCategory represents an admission-control category with its own
// window policy
type RateLimitCategory string

const (
	// CategoryScraping guards scrape trigger endpoints
	CategoryScraping RateLimitCategory = "scraping"
	// CategoryGeneral guards general API traffic
	CategoryGeneral RateLimitCategory = "general"
	// CategoryAuth guards authentication attempts
	CategoryAuth RateLimitCategory = "auth"
)

// SourceErrorCause classifies per-source scrape failures
type SourceErrorCause string

const (
	// CauseSourceUnavailable represents a source that could not be reached
	CauseSourceUnavailable SourceErrorCause = "SOURCE_UNAVAILABLE"
	// CauseParseError represents a source whose payload could not be decoded
	CauseParseError SourceErrorCause = "PARSE_ERROR"
	// CauseRateLimitedBySource represents a source that throttled us
	CauseRateLimitedBySource SourceErrorCause = "SOURCE_RATE_LIMITED"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// SourceError represents a contained failure of a single source during a
// scrape run. It never aborts the run; it is reported in the partial result.
type SourceError struct {
	Source  string           `json:"source"`
	Cause   SourceErrorCause `json:"cause"`
	Message string           `json:"message"`
}

func (e *SourceError) Error() string {
	return e.Source + ": " + e.Message
}

// RateLimitDecision is the outcome of an admission check
type RateLimitDecision struct {
	Allowed    bool      `json:"allowed"`
	Remaining  int       `json:"remaining"`
	ResetTime  time.Time `json:"resetTime"`
	RetryAfter int       `json:"retryAfter,omitempty"` // seconds, set when denied
	FailedOpen bool      `json:"-"`                    // store unreachable, request allowed anyway
}

// HealthClassification buckets per-source error rates for operators
type HealthClassification string

const (
	// HealthGood represents an error rate below the warning threshold
	HealthGood HealthClassification = "good"
	// HealthWarning represents an elevated error rate
	HealthWarning HealthClassification = "warning"
	// HealthCritical represents a mostly-failing source
	HealthCritical HealthClassification = "critical"
)
