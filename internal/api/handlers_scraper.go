package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/job-scanner/internal/queue"
	"github.com/job-scanner/internal/scraper"
	"github.com/job-scanner/internal/types"
)

// TaskTypeScrape is the queue task type carrying a scrape request payload
const TaskTypeScrape = "scrape"

// triggerScrapeRequest is the trigger body: a scrape request plus an optional
// schedule. When schedule is set the run is deferred to the queue instead of
// executing inline.
type triggerScrapeRequest struct {
	scraper.ScrapeRequest
	Schedule *time.Time `json:"schedule,omitempty"`
}

// triggerScrapeResponse acknowledges a deferred scrape trigger
type triggerScrapeResponse struct {
	TaskID    string `json:"taskId"`
	Status    string `json:"status"`
	Remaining int    `json:"rateLimitRemaining"`
}

// handleTriggerScrape admits a scrape trigger: role check first, then the
// scraping rate limit keyed by the authenticated user. Without a schedule the
// run executes inline and the result is returned directly; with one, the task
// is enqueued and the caller gets the task id.
func (s *Server) handleTriggerScrape(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		respondError(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return
	}

	if !requestRole(r).CanTrigger() {
		respondError(w, http.StatusForbidden, CodeForbidden, "role is not allowed to trigger scraping")
		return
	}

	decision := s.limiter.CheckLimit(r.Context(), userID, types.CategoryScraping)
	s.limiter.LogRequest(r.Context(), userID, types.CategoryScraping, decision.Allowed)
	setRateLimitHeaders(w, decision)
	if !decision.Allowed {
		respondError(w, http.StatusTooManyRequests, CodeRateLimited, "scraping trigger limit exceeded")
		return
	}

	var req triggerScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "searchQuery is required")
		return
	}

	if req.Schedule == nil {
		result, err := s.scraperService.ScrapeJobs(r.Context(), &req.ScrapeRequest)
		if err != nil {
			mapServiceError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, result)
		return
	}

	priority := req.Priority
	if priority <= 0 {
		priority = queue.PriorityNormal
	}

	payload, err := json.Marshal(&req.ScrapeRequest)
	if err != nil {
		mapServiceError(w, err)
		return
	}

	task, err := s.taskQueue.Enqueue(r.Context(), TaskTypeScrape, payload, priority, *req.Schedule)
	if err != nil {
		mapServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, triggerScrapeResponse{
		TaskID:    task.ID,
		Status:    string(task.Status),
		Remaining: decision.Remaining,
	})
}

// scraperStatusResponse combines source health and queue depth
type scraperStatusResponse struct {
	Scraping *scraper.ScrapingStats `json:"scraping"`
	Queue    interface{}            `json:"queue"`
}

// handleScraperStatus reports per-source health over the stats window plus
// the current queue depth
func (s *Server) handleScraperStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.scraperService.GetScrapingStats(r.Context(), s.config.StatsWindow)
	if err != nil {
		mapServiceError(w, err)
		return
	}

	queueStats, err := s.taskQueue.GetStats(r.Context())
	if err != nil {
		mapServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, scraperStatusResponse{
		Scraping: stats,
		Queue:    queueStats,
	})
}
