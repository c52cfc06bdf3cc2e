package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/job-scanner/internal/types"
	"golang.org/x/time/rate"
)

// IndeedSource scrapes the Indeed publisher search API
type IndeedSource struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewIndeedSource creates an Indeed adapter pacing outbound requests to rps
func NewIndeedSource(baseURL string, timeout time.Duration, rps int) *IndeedSource {
	return &IndeedSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// Name returns the registry name of this source
func (s *IndeedSource) Name() string { return "indeed" }

// Fetch retrieves the raw search payload for (query, location)
func (s *IndeedSource) Fetch(ctx context.Context, query, location string) ([]byte, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("l", location)
	params.Set("format", "json")
	params.Set("limit", "25")

	return fetchURL(ctx, s.client, s.limiter, s.Name(), s.baseURL+"?"+params.Encode())
}

type indeedResponse struct {
	Results []indeedJob `json:"results"`
}

type indeedJob struct {
	JobTitle        string `json:"jobtitle"`
	Company         string `json:"company"`
	FormattedCity   string `json:"formattedLocation"`
	Snippet         string `json:"snippet"`
	URL             string `json:"url"`
	JobType         string `json:"jobType"`
	SalaryMinAnnual *int64 `json:"salaryMin"`
	SalaryMaxAnnual *int64 `json:"salaryMax"`
}

// Normalize decodes the Indeed payload into postings
func (s *IndeedSource) Normalize(data []byte) ([]*RawPosting, error) {
	var payload indeedResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &types.SourceError{
			Source:  s.Name(),
			Cause:   types.CauseParseError,
			Message: fmt.Sprintf("failed to decode payload: %v", err),
		}
	}

	postings := make([]*RawPosting, 0, len(payload.Results))
	for _, job := range payload.Results {
		if job.JobTitle == "" || job.Company == "" {
			continue
		}
		postings = append(postings, &RawPosting{
			Title:       job.JobTitle,
			Description: job.Snippet,
			CompanyName: job.Company,
			Location:    job.FormattedCity,
			JobType:     mapJobType(job.JobType),
			SalaryMin:   job.SalaryMinAnnual,
			SalaryMax:   job.SalaryMaxAnnual,
			SourceURL:   job.URL,
		})
	}

	return postings, nil
}

// mapJobType maps loosely-typed source employment labels onto the internal
// enum, defaulting to full time
func mapJobType(label string) types.JobType {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "parttime", "part-time", "part_time":
		return types.JobTypePartTime
	case "contract", "contractor", "temporary":
		return types.JobTypeContract
	case "internship", "intern":
		return types.JobTypeInternship
	case "remote":
		return types.JobTypeRemote
	default:
		return types.JobTypeFullTime
	}
}
