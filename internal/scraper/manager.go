package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/job-scanner/internal/broadcast"
	"github.com/job-scanner/internal/circuitbreaker"
	"github.com/job-scanner/internal/config"
	"github.com/job-scanner/internal/logging"
	"github.com/job-scanner/internal/models"
	"github.com/job-scanner/internal/storage"
	"github.com/job-scanner/internal/types"
)

// PostingStore is the posting persistence contract the manager needs
type PostingStore interface {
	Create(ctx context.Context, posting *models.JobPosting) error
	FindRecentByFingerprint(ctx context.Context, fingerprint string, since time.Time) (*models.JobPosting, error)
	RefreshFromScrape(ctx context.Context, posting *models.JobPosting) error
}

// SourceStore is the job source persistence contract
type SourceStore interface {
	Upsert(ctx context.Context, source *models.JobSource) error
}

// RunLogStore is the run history contract
type RunLogStore interface {
	Append(ctx context.Context, entry *models.ScrapeRunLog) error
	GetSourceStats(ctx context.Context, since time.Time) ([]*storage.SourceRunStats, error)
}

// ScrapeRequest describes one scrape run
type ScrapeRequest struct {
	Query    string   `json:"searchQuery"`
	Location string   `json:"location"`
	Limit    int      `json:"limit,omitempty"`    // max postings kept per source, 0 = no cap
	Sources  []string `json:"sources,omitempty"`  // empty = all enabled sources
	Priority int      `json:"priority,omitempty"` // queue priority for deferred runs
}

// SourceResult reports what one source contributed to a run
type SourceResult struct {
	Source      string `json:"source"`
	JobsFound   int    `json:"jobsFound"`
	JobsCreated int    `json:"jobsCreated"`
	JobsUpdated int    `json:"jobsUpdated"`
}

// ScrapeResult is the aggregate outcome of one run. A run succeeds as long as
// at least the orchestration completed; per-source failures are carried in
// Errors and never abort the other sources.
type ScrapeResult struct {
	RunID       string              `json:"runId"`
	StartedAt   time.Time           `json:"startedAt"`
	FinishedAt  time.Time           `json:"finishedAt"`
	JobsFound   int                 `json:"jobsFound"`
	JobsCreated int                 `json:"jobsCreated"`
	JobsUpdated int                 `json:"jobsUpdated"`
	Sources     []SourceResult      `json:"sources"`
	Errors      []types.SourceError `json:"errors,omitempty"`
}

// Manager orchestrates scrape runs across the registered sources
type Manager struct {
	registry    *Registry
	postings    PostingStore
	sources     SourceStore
	runLogs     RunLogStore
	broadcaster broadcast.Broadcaster
	cfg         *config.ScraperConfig
	logger      *logging.Logger
	breakerMu   sync.Mutex
	breakers    map[string]*circuitbreaker.CircuitBreaker
	now         func() time.Time
}

// NewManager creates a scraper manager. Every adapter in the registry gets
// its own circuit breaker.
func NewManager(
	registry *Registry,
	postings PostingStore,
	sources SourceStore,
	runLogs RunLogStore,
	broadcaster broadcast.Broadcaster,
	cfg *config.ScraperConfig,
	logger *logging.Logger,
) *Manager {
	breakers := make(map[string]*circuitbreaker.CircuitBreaker)
	for _, name := range registry.Names() {
		breakers[name] = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("scraper-" + name))
	}

	return &Manager{
		registry:    registry,
		postings:    postings,
		sources:     sources,
		runLogs:     runLogs,
		broadcaster: broadcaster,
		cfg:         cfg,
		logger:      logger,
		breakers:    breakers,
		now:         time.Now,
	}
}

// ScrapeJobs runs one scrape pass over the requested sources. Each source is
// fetched behind its breaker with a per-source deadline; failures are
// contained and reported in the partial result.
func (m *Manager) ScrapeJobs(ctx context.Context, req *ScrapeRequest) (*ScrapeResult, error) {
	if req.Query == "" {
		return nil, &types.ServiceError{Code: "INVALID_REQUEST", Message: "searchQuery is required"}
	}

	sourceNames := req.Sources
	if len(sourceNames) == 0 {
		sourceNames = m.registry.Names()
	}

	result := &ScrapeResult{
		RunID:     uuid.New().String(),
		StartedAt: m.now(),
	}

	runLogger := m.logger.WithFields(map[string]interface{}{
		"runId": result.RunID,
		"query": req.Query,
	})
	runLogger.Info("Scrape run started")

	for _, name := range sourceNames {
		sourceResult, srcErr := m.scrapeSource(ctx, result.RunID, name, req)

		if sourceResult != nil {
			result.Sources = append(result.Sources, *sourceResult)
			result.JobsFound += sourceResult.JobsFound
			result.JobsCreated += sourceResult.JobsCreated
			result.JobsUpdated += sourceResult.JobsUpdated
		}
		if srcErr != nil {
			result.Errors = append(result.Errors, *srcErr)
		}
	}

	result.FinishedAt = m.now()
	runLogger.WithFields(map[string]interface{}{
		"jobsFound":   result.JobsFound,
		"jobsCreated": result.JobsCreated,
		"jobsUpdated": result.JobsUpdated,
		"errorCount":  len(result.Errors),
	}).Info("Scrape run finished")

	if err := m.broadcaster.PublishScrapeSummary(ctx, &broadcast.ScrapeSummary{
		RunID:       result.RunID,
		FinishedAt:  result.FinishedAt,
		JobsFound:   result.JobsFound,
		JobsCreated: result.JobsCreated,
		JobsUpdated: result.JobsUpdated,
		ErrorCount:  len(result.Errors),
	}); err != nil {
		runLogger.WithError(err).Warn("Failed to broadcast scrape summary")
	}

	return result, nil
}

// scrapeSource runs one source pass: fetch behind the breaker, normalize,
// dedup-upsert each posting, then append the run log row with the terminal
// status. Persistence errors on individual postings are counted, not fatal.
func (m *Manager) scrapeSource(ctx context.Context, runID, name string, req *ScrapeRequest) (*SourceResult, *types.SourceError) {
	startedAt := m.now()
	logger := m.logger.WithFields(map[string]interface{}{
		"runId":  runID,
		"source": name,
	})

	source, err := m.registry.Get(name)
	if err != nil {
		return nil, &types.SourceError{
			Source:  name,
			Cause:   types.CauseSourceUnavailable,
			Message: err.Error(),
		}
	}

	sourceCtx, cancel := context.WithTimeout(ctx, m.cfg.SourceTimeout)
	defer cancel()

	var raw []byte
	fetchErr := m.breakerFor(name).Execute(sourceCtx, func() error {
		var err error
		raw, err = source.Fetch(sourceCtx, req.Query, req.Location)
		return err
	})
	if fetchErr != nil {
		srcErr := classifySourceError(name, fetchErr)
		logger.WithError(fetchErr).Warn("Source fetch failed")
		m.appendRunLog(ctx, runID, name, req, startedAt, 0, 0, 0, 1, models.RunStatusFailed)
		return nil, srcErr
	}

	postings, normErr := source.Normalize(raw)
	if normErr != nil {
		srcErr := classifySourceError(name, normErr)
		logger.WithError(normErr).Warn("Source payload could not be decoded")
		m.appendRunLog(ctx, runID, name, req, startedAt, 0, 0, 0, 1, models.RunStatusFailed)
		return nil, srcErr
	}

	if req.Limit > 0 && len(postings) > req.Limit {
		postings = postings[:req.Limit]
	}

	sourceID := m.ensureSource(ctx, name, logger)

	sourceResult := &SourceResult{Source: name, JobsFound: len(postings)}
	persistErrors := 0
	for _, posting := range postings {
		created, err := m.upsertPosting(ctx, posting, sourceID)
		if err != nil {
			persistErrors++
			logger.WithError(err).WithField("title", posting.Title).Error("Failed to persist posting")
			continue
		}
		if created {
			sourceResult.JobsCreated++
		} else {
			sourceResult.JobsUpdated++
		}
	}

	status := models.RunStatusCompleted
	if persistErrors > 0 && persistErrors == len(postings) {
		status = models.RunStatusFailed
	}
	m.appendRunLog(ctx, runID, name, req, startedAt,
		sourceResult.JobsFound, sourceResult.JobsCreated, sourceResult.JobsUpdated, persistErrors, status)

	logger.WithFields(map[string]interface{}{
		"jobsFound":   sourceResult.JobsFound,
		"jobsCreated": sourceResult.JobsCreated,
		"jobsUpdated": sourceResult.JobsUpdated,
	}).Info("Source pass finished")

	return sourceResult, nil
}

// upsertPosting dedups by fingerprint within the recency window: a recent
// match is refreshed in place, anything else becomes a new row. Returns true
// when a new row was created.
func (m *Manager) upsertPosting(ctx context.Context, raw *RawPosting, sourceID *string) (bool, error) {
	fingerprint := models.Fingerprint(raw.Title, raw.CompanyName, raw.Location)
	now := m.now()

	existing, err := m.postings.FindRecentByFingerprint(ctx, fingerprint, now.Add(-m.cfg.DedupWindow))
	if err != nil {
		return false, err
	}

	if existing != nil {
		existing.Description = raw.Description
		existing.SalaryMin = raw.SalaryMin
		existing.SalaryMax = raw.SalaryMax
		if len(raw.Requirements) > 0 {
			existing.Requirements = raw.Requirements
		}
		if raw.SourceURL != "" {
			existing.SourceURL = &raw.SourceURL
		}
		existing.ExpiresAt = now.Add(m.cfg.DefaultExpiry)
		return false, m.postings.RefreshFromScrape(ctx, existing)
	}

	posting := &models.JobPosting{
		ID:                  uuid.New().String(),
		Title:               raw.Title,
		Description:         raw.Description,
		CompanyName:         raw.CompanyName,
		Location:            raw.Location,
		JobType:             raw.JobType,
		SalaryMin:           raw.SalaryMin,
		SalaryMax:           raw.SalaryMax,
		Requirements:        raw.Requirements,
		IsActive:            true,
		IsScraped:           true,
		SourceID:            sourceID,
		ValidityStatus:      types.ValidityValid,
		ExpiresAt:           now.Add(m.cfg.DefaultExpiry),
		ApplicationDeadline: raw.ApplicationDeadline,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if raw.SourceURL != "" {
		posting.SourceURL = &raw.SourceURL
	}

	return true, m.postings.Create(ctx, posting)
}

// ensureSource upserts the source row so scraped postings can reference it.
// A failure here degrades to a nil source reference rather than failing the pass.
func (m *Manager) ensureSource(ctx context.Context, name string, logger *logging.Logger) *string {
	source := &models.JobSource{
		ID:        uuid.NewSHA1(uuid.NameSpaceURL, []byte("job-source:"+name)).String(),
		Name:      name,
		Provider:  name,
		IsActive:  true,
		CreatedAt: m.now(),
	}

	if err := m.sources.Upsert(ctx, source); err != nil {
		logger.WithError(err).Warn("Failed to upsert job source")
		return nil
	}
	return &source.ID
}

func (m *Manager) appendRunLog(ctx context.Context, runID, source string, req *ScrapeRequest, startedAt time.Time, found, created, updated, errorCount int, status string) {
	entry := &models.ScrapeRunLog{
		RunID:       runID,
		Source:      source,
		SearchQuery: req.Query,
		Location:    req.Location,
		StartedAt:   startedAt,
		FinishedAt:  m.now(),
		JobsFound:   int64(found),
		JobsCreated: int64(created),
		JobsUpdated: int64(updated),
		ErrorCount:  int64(errorCount),
		Status:      status,
	}

	if err := m.runLogs.Append(ctx, entry); err != nil {
		m.logger.WithError(err).WithFields(map[string]interface{}{
			"runId":  runID,
			"source": source,
		}).Error("Failed to append scrape run log")
	}
}

// breakerFor returns the breaker for a source, creating one on first use
func (m *Manager) breakerFor(name string) *circuitbreaker.CircuitBreaker {
	m.breakerMu.Lock()
	defer m.breakerMu.Unlock()

	breaker, ok := m.breakers[name]
	if !ok {
		breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("scraper-" + name))
		m.breakers[name] = breaker
	}
	return breaker
}

// classifySourceError maps any failure from a source pass to a typed
// SourceError. Breaker rejections and deadline hits count as unavailability.
func classifySourceError(name string, err error) *types.SourceError {
	var srcErr *types.SourceError
	if errors.As(err, &srcErr) {
		return srcErr
	}

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return &types.SourceError{
			Source:  name,
			Cause:   types.CauseSourceUnavailable,
			Message: "source temporarily disabled by circuit breaker",
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &types.SourceError{
			Source:  name,
			Cause:   types.CauseSourceUnavailable,
			Message: "source timed out",
		}
	}

	return &types.SourceError{
		Source:  name,
		Cause:   types.CauseSourceUnavailable,
		Message: err.Error(),
	}
}

// Health classification thresholds on the per-source error-run ratio
const (
	healthWarningRatio  = 0.1
	healthCriticalRatio = 0.5
)

// SourceHealth is the operator-facing health summary for one source
type SourceHealth struct {
	Source         string                     `json:"source"`
	Runs           int64                      `json:"runs"`
	ErrorRuns      int64                      `json:"errorRuns"`
	JobsFound      int64                      `json:"jobsFound"`
	LastRunAt      time.Time                  `json:"lastRunAt"`
	ErrorRate      float64                    `json:"errorRate"`
	Classification types.HealthClassification `json:"classification"`
	BreakerState   string                     `json:"breakerState"`
}

// ScrapingStats is the response of the scraper status endpoint
type ScrapingStats struct {
	Window  string         `json:"window"`
	Sources []SourceHealth `json:"sources"`
}

// GetScrapingStats aggregates run history over the window and classifies each
// source's health from its error rate
func (m *Manager) GetScrapingStats(ctx context.Context, window time.Duration) (*ScrapingStats, error) {
	runStats, err := m.runLogs.GetSourceStats(ctx, m.now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("failed to load scrape run stats: %w", err)
	}

	stats := &ScrapingStats{Window: window.String()}
	for _, rs := range runStats {
		health := SourceHealth{
			Source:    rs.Source,
			Runs:      rs.Runs,
			ErrorRuns: rs.ErrorRuns,
			JobsFound: rs.JobsFound,
			LastRunAt: rs.LastRunAt,
		}
		if rs.Runs > 0 {
			health.ErrorRate = float64(rs.ErrorRuns) / float64(rs.Runs)
		}
		health.Classification = classifyHealth(health.ErrorRate)
		m.breakerMu.Lock()
		if breaker, ok := m.breakers[rs.Source]; ok {
			health.BreakerState = string(breaker.GetState())
		}
		m.breakerMu.Unlock()
		stats.Sources = append(stats.Sources, health)
	}

	return stats, nil
}

func classifyHealth(errorRate float64) types.HealthClassification {
	switch {
	case errorRate >= healthCriticalRatio:
		return types.HealthCritical
	case errorRate >= healthWarningRatio:
		return types.HealthWarning
	default:
		return types.HealthGood
	}
}
