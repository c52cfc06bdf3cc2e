package monitor

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/job-scanner/internal/models"
	"github.com/job-scanner/internal/retry"
	"github.com/job-scanner/internal/types"
)

// Validator decides whether a scraped posting is still live at its source
type Validator interface {
	Validate(ctx context.Context, posting *models.JobPosting) types.ValidityStatus
}

// SourceGetter looks up the source row a posting references
type SourceGetter interface {
	GetByID(ctx context.Context, id string) (*models.JobSource, error)
}

// HTTPValidator probes the posting's source URL. Validation fails closed: if
// the source cannot be reached or answers with an error, the posting is
// treated as gone rather than kept alive on stale evidence.
type HTTPValidator struct {
	client   *http.Client
	sources  SourceGetter
	retryCfg *retry.Config
}

// NewHTTPValidator creates a validator with the given probe timeout
func NewHTTPValidator(sources SourceGetter, timeout time.Duration) *HTTPValidator {
	return &HTTPValidator{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		sources: sources,
		// One retry before failing closed, so a single connection blip does
		// not invalidate a live posting
		retryCfg: &retry.Config{
			MaxAttempts:  2,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// Validate classifies one posting. A posting referencing a deactivated source
// is NOT_FOUND without probing; an unusable URL is INVALID_URL.
func (v *HTTPValidator) Validate(ctx context.Context, posting *models.JobPosting) types.ValidityStatus {
	if posting.SourceURL == nil || *posting.SourceURL == "" {
		return types.ValidityInvalidURL
	}

	parsed, err := url.Parse(*posting.SourceURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return types.ValidityInvalidURL
	}

	if posting.SourceID != nil {
		source, err := v.sources.GetByID(ctx, *posting.SourceID)
		if err == nil && !source.IsActive {
			return types.ValidityNotFound
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, *posting.SourceURL, nil)
	if err != nil {
		return types.ValidityInvalidURL
	}

	// Transport errors are retried; an HTTP error status is a definitive
	// answer and is not
	var resp *http.Response
	probeErr := retry.WithExponentialBackoff(ctx, v.retryCfg, func(ctx context.Context, attempt int) error {
		var doErr error
		resp, doErr = v.client.Do(req)
		return doErr
	})
	if probeErr != nil {
		return types.ValidityNotFound
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return types.ValidityNotFound
	}
	return types.ValidityValid
}
