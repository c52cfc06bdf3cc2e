package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/job-scanner/internal/types"
	"golang.org/x/time/rate"
)

// LinkedInSource scrapes the LinkedIn job search API
type LinkedInSource struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewLinkedInSource creates a LinkedIn adapter pacing outbound requests to rps
func NewLinkedInSource(baseURL string, timeout time.Duration, rps int) *LinkedInSource {
	return &LinkedInSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// Name returns the registry name of this source
func (s *LinkedInSource) Name() string { return "linkedin" }

// Fetch retrieves the raw search payload for (query, location)
func (s *LinkedInSource) Fetch(ctx context.Context, query, location string) ([]byte, error) {
	params := url.Values{}
	params.Set("keywords", query)
	params.Set("location", location)
	params.Set("count", "25")

	return fetchURL(ctx, s.client, s.limiter, s.Name(), s.baseURL+"?"+params.Encode())
}

type linkedInResponse struct {
	Elements []linkedInJob `json:"elements"`
}

type linkedInJob struct {
	Title          string   `json:"title"`
	CompanyName    string   `json:"companyName"`
	Location       string   `json:"formattedLocation"`
	Description    string   `json:"description"`
	EmploymentType string   `json:"employmentType"`
	ApplyURL       string   `json:"applyUrl"`
	Skills         []string `json:"skills"`
	ClosesAtMillis *int64   `json:"closeAt"`
}

// Normalize decodes the LinkedIn payload into postings
func (s *LinkedInSource) Normalize(data []byte) ([]*RawPosting, error) {
	var payload linkedInResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &types.SourceError{
			Source:  s.Name(),
			Cause:   types.CauseParseError,
			Message: fmt.Sprintf("failed to decode payload: %v", err),
		}
	}

	postings := make([]*RawPosting, 0, len(payload.Elements))
	for _, job := range payload.Elements {
		if job.Title == "" || job.CompanyName == "" {
			continue
		}

		posting := &RawPosting{
			Title:        job.Title,
			Description:  job.Description,
			CompanyName:  job.CompanyName,
			Location:     job.Location,
			JobType:      mapJobType(job.EmploymentType),
			Requirements: job.Skills,
			SourceURL:    job.ApplyURL,
		}
		if job.ClosesAtMillis != nil {
			deadline := time.UnixMilli(*job.ClosesAtMillis).UTC()
			posting.ApplicationDeadline = &deadline
		}
		postings = append(postings, posting)
	}

	return postings, nil
}
