package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/job-scanner/internal/logging"
	"github.com/job-scanner/internal/models"
	"github.com/job-scanner/internal/monitor"
	"github.com/job-scanner/internal/queue"
	"github.com/job-scanner/internal/scraper"
	"github.com/job-scanner/internal/storage"
	"github.com/job-scanner/internal/types"
)

// allowAllLimiter admits everything; specific tests flip deny flags
type fakeLimiter struct {
	denyGeneral  bool
	denyScraping bool
	lastIdentity string
}

func (l *fakeLimiter) CheckLimit(ctx context.Context, identity string, category types.RateLimitCategory) *types.RateLimitDecision {
	l.lastIdentity = identity
	deny := (category == types.CategoryGeneral && l.denyGeneral) ||
		(category == types.CategoryScraping && l.denyScraping)
	if deny {
		return &types.RateLimitDecision{
			Allowed:    false,
			ResetTime:  time.Now().Add(time.Hour),
			RetryAfter: 1800,
		}
	}
	return &types.RateLimitDecision{
		Allowed:   true,
		Remaining: 9,
		ResetTime: time.Now().Add(time.Hour),
	}
}

func (l *fakeLimiter) LogRequest(ctx context.Context, identity string, category types.RateLimitCategory, allowed bool) {
}

type fakeScraperService struct {
	stats   *scraper.ScrapingStats
	result  *scraper.ScrapeResult
	err     error
	lastReq *scraper.ScrapeRequest
}

func (s *fakeScraperService) ScrapeJobs(ctx context.Context, req *scraper.ScrapeRequest) (*scraper.ScrapeResult, error) {
	s.lastReq = req
	return s.result, s.err
}

func (s *fakeScraperService) GetScrapingStats(ctx context.Context, window time.Duration) (*scraper.ScrapingStats, error) {
	return s.stats, s.err
}

type fakeCleanupService struct {
	result  *monitor.CleanupResult
	stats   *storage.PostingStats
	err     error
	lastDry bool
}

func (s *fakeCleanupService) RunCleanup(ctx context.Context, dryRun bool) (*monitor.CleanupResult, error) {
	s.lastDry = dryRun
	return s.result, s.err
}

func (s *fakeCleanupService) GetCleanupStats(ctx context.Context) (*storage.PostingStats, error) {
	return s.stats, s.err
}

type fakeTaskQueue struct {
	err          error
	lastType     string
	lastPriority int
	stats        *storage.QueueStats
}

func (q *fakeTaskQueue) Enqueue(ctx context.Context, taskType string, payload []byte, priority int, scheduledFor time.Time) (*models.QueueTask, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.lastType = taskType
	q.lastPriority = priority
	return &models.QueueTask{
		ID:       uuid.New().String(),
		TaskType: taskType,
		Payload:  payload,
		Priority: priority,
		Status:   types.TaskStatusPending,
	}, nil
}

func (q *fakeTaskQueue) GetStats(ctx context.Context) (*storage.QueueStats, error) {
	if q.stats != nil {
		return q.stats, nil
	}
	return &storage.QueueStats{}, nil
}

type serverFixture struct {
	server  *Server
	limiter *fakeLimiter
	scraper *fakeScraperService
	cleanup *fakeCleanupService
	queue   *fakeTaskQueue
}

func newTestServer() *serverFixture {
	f := &serverFixture{
		limiter: &fakeLimiter{},
		scraper: &fakeScraperService{
			stats:  &scraper.ScrapingStats{Window: "24h0m0s"},
			result: &scraper.ScrapeResult{RunID: "run-1", JobsFound: 5, JobsCreated: 3, JobsUpdated: 2},
		},
		cleanup: &fakeCleanupService{
			result: &monitor.CleanupResult{JobsRemoved: 2, JobsExpired: 1},
			stats:  &storage.PostingStats{TotalJobs: 10, ActiveJobs: 8},
		},
		queue: &fakeTaskQueue{},
	}

	cfg := &ServerConfig{
		Host:        "127.0.0.1",
		Port:        "0",
		StatsWindow: 24 * time.Hour,
	}
	logger := logging.NewLogger(logging.LevelError, logging.FormatText)
	f.server = NewServer(cfg, f.scraper, f.cleanup, f.queue, f.limiter, logger)
	return f
}

func doRequest(f *serverFixture, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.RemoteAddr = "198.51.100.7:4242"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func recruiterHeaders() map[string]string {
	return map[string]string{"X-User-ID": "user-1", "X-User-Role": "RECRUITER"}
}

func adminHeaders() map[string]string {
	return map[string]string{"X-User-ID": "admin-1", "X-User-Role": "ADMIN"}
}

func TestHealthEndpoint(t *testing.T) {
	f := newTestServer()
	f.limiter.denyGeneral = true // health is exempt from rate limiting

	rec := doRequest(f, "GET", "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "healthy" {
		t.Errorf("status field = %q, want healthy", body["status"])
	}
}

func TestGeneralRateLimit(t *testing.T) {
	f := newTestServer()
	f.limiter.denyGeneral = true

	rec := doRequest(f, "GET", "/api/cleanup", nil, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1800" {
		t.Errorf("Retry-After = %q, want 1800", rec.Header().Get("Retry-After"))
	}
}

func TestTriggerScrape_Immediate(t *testing.T) {
	f := newTestServer()
	body := []byte(`{"searchQuery":"golang","location":"Berlin","limit":25}`)

	rec := doRequest(f, "POST", "/api/scraper/trigger", body, recruiterHeaders())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}

	var resp scraper.ScrapeResult
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.JobsFound != 5 || resp.JobsCreated != 3 {
		t.Errorf("result = %+v, want jobsFound=5 jobsCreated=3", resp)
	}
	if f.scraper.lastReq == nil || f.scraper.lastReq.Query != "golang" || f.scraper.lastReq.Limit != 25 {
		t.Errorf("forwarded request = %+v", f.scraper.lastReq)
	}
	if f.queue.lastType != "" {
		t.Errorf("unexpected enqueue of type %q for immediate trigger", f.queue.lastType)
	}
	// Scraping limit is keyed by the user, not the IP
	if f.limiter.lastIdentity != "user-1" {
		t.Errorf("limit identity = %q, want user-1", f.limiter.lastIdentity)
	}
}

func TestTriggerScrape_Deferred(t *testing.T) {
	f := newTestServer()
	body := []byte(`{"searchQuery":"golang","priority":10,"schedule":"2026-09-02T06:00:00Z"}`)

	rec := doRequest(f, "POST", "/api/scraper/trigger", body, recruiterHeaders())
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body: %s", rec.Code, rec.Body.String())
	}

	var resp triggerScrapeResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.TaskID == "" {
		t.Error("expected taskId in response")
	}
	if resp.Status != string(types.TaskStatusPending) {
		t.Errorf("status = %q, want PENDING", resp.Status)
	}
	if f.queue.lastType != TaskTypeScrape {
		t.Errorf("enqueued type = %q, want scrape", f.queue.lastType)
	}
	if f.queue.lastPriority != queue.PriorityHigh {
		t.Errorf("enqueued priority = %d, want %d", f.queue.lastPriority, queue.PriorityHigh)
	}
	if f.scraper.lastReq != nil {
		t.Error("deferred trigger must not scrape inline")
	}
}

func TestTriggerScrape_RequiresAuth(t *testing.T) {
	f := newTestServer()

	rec := doRequest(f, "POST", "/api/scraper/trigger", []byte(`{"searchQuery":"x"}`), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestTriggerScrape_MemberForbidden(t *testing.T) {
	f := newTestServer()
	headers := map[string]string{"X-User-ID": "user-2", "X-User-Role": "MEMBER"}

	rec := doRequest(f, "POST", "/api/scraper/trigger", []byte(`{"searchQuery":"x"}`), headers)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestTriggerScrape_ScrapingLimitDenied(t *testing.T) {
	f := newTestServer()
	f.limiter.denyScraping = true

	rec := doRequest(f, "POST", "/api/scraper/trigger", []byte(`{"searchQuery":"x"}`), recruiterHeaders())
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}

	var env errorEnvelope
	json.Unmarshal(rec.Body.Bytes(), &env)
	if env.Error == nil || env.Error.Code != CodeRateLimited {
		t.Errorf("error = %+v, want RATE_LIMITED", env.Error)
	}
}

func TestTriggerScrape_MissingQuery(t *testing.T) {
	f := newTestServer()

	rec := doRequest(f, "POST", "/api/scraper/trigger", []byte(`{}`), recruiterHeaders())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTriggerScrape_QueueSaturated(t *testing.T) {
	f := newTestServer()
	f.queue.err = queue.ErrBackpressure
	body := []byte(`{"searchQuery":"x","schedule":"2026-09-02T06:00:00Z"}`)

	rec := doRequest(f, "POST", "/api/scraper/trigger", body, recruiterHeaders())
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	var env errorEnvelope
	json.Unmarshal(rec.Body.Bytes(), &env)
	if env.Error == nil || env.Error.Code != CodeQueueSaturated {
		t.Errorf("error = %+v, want QUEUE_SATURATED", env.Error)
	}
}

func TestScraperStatus(t *testing.T) {
	f := newTestServer()
	f.queue.stats = &storage.QueueStats{Pending: 4}

	rec := doRequest(f, "GET", "/api/scraper/trigger", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Scraping *scraper.ScrapingStats `json:"scraping"`
		Queue    *storage.QueueStats    `json:"queue"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Queue == nil || resp.Queue.Pending != 4 {
		t.Errorf("queue stats = %+v, want pending=4", resp.Queue)
	}
}

func TestTriggerCleanup(t *testing.T) {
	f := newTestServer()

	rec := doRequest(f, "POST", "/api/cleanup", []byte(`{"dryRun":true}`), adminHeaders())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}
	if !f.cleanup.lastDry {
		t.Error("expected dryRun to be forwarded")
	}

	var result monitor.CleanupResult
	json.Unmarshal(rec.Body.Bytes(), &result)
	if result.JobsRemoved != 2 || result.JobsExpired != 1 {
		t.Errorf("result = %+v, want jobsRemoved=2 jobsExpired=1", result)
	}
}

func TestTriggerCleanup_EmptyBodyRunsFull(t *testing.T) {
	f := newTestServer()
	f.cleanup.lastDry = true

	rec := doRequest(f, "POST", "/api/cleanup", nil, adminHeaders())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}
	if f.cleanup.lastDry {
		t.Error("empty body must trigger a full run, not a dry run")
	}
}

func TestTriggerCleanup_AdminOnly(t *testing.T) {
	f := newTestServer()

	rec := doRequest(f, "POST", "/api/cleanup", nil, recruiterHeaders())
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestCleanupStatus(t *testing.T) {
	f := newTestServer()

	rec := doRequest(f, "GET", "/api/cleanup", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var stats storage.PostingStats
	json.Unmarshal(rec.Body.Bytes(), &stats)
	if stats.TotalJobs != 10 {
		t.Errorf("TotalJobs = %d, want 10", stats.TotalJobs)
	}
}
