package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/job-scanner/internal/types"
	"golang.org/x/time/rate"
)

// fetchURL performs one paced GET against a source endpoint and classifies
// transport-level failures. 429 maps to SOURCE_RATE_LIMITED, every other
// failure to SOURCE_UNAVAILABLE.
func fetchURL(ctx context.Context, client *http.Client, limiter *rate.Limiter, sourceName, url string) ([]byte, error) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, &types.SourceError{
			Source:  sourceName,
			Cause:   types.CauseSourceUnavailable,
			Message: fmt.Sprintf("rate wait aborted: %v", err),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &types.SourceError{
			Source:  sourceName,
			Cause:   types.CauseSourceUnavailable,
			Message: fmt.Sprintf("invalid request: %v", err),
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &types.SourceError{
			Source:  sourceName,
			Cause:   types.CauseSourceUnavailable,
			Message: fmt.Sprintf("request failed: %v", err),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &types.SourceError{
			Source:  sourceName,
			Cause:   types.CauseRateLimitedBySource,
			Message: "source throttled the request",
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &types.SourceError{
			Source:  sourceName,
			Cause:   types.CauseSourceUnavailable,
			Message: fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &types.SourceError{
			Source:  sourceName,
			Cause:   types.CauseSourceUnavailable,
			Message: fmt.Sprintf("failed to read response: %v", err),
		}
	}

	return body, nil
}
