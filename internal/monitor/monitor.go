// Package monitor runs the recurring validity cycle over job postings:
// purge what has expired, re-validate what has gone stale, and broadcast a
// summary of each cycle.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/job-scanner/internal/broadcast"
	"github.com/job-scanner/internal/config"
	"github.com/job-scanner/internal/logging"
	"github.com/job-scanner/internal/models"
	"github.com/job-scanner/internal/storage"
	"github.com/job-scanner/internal/types"
)

// PostingStore is the persistence contract the monitor needs
type PostingStore interface {
	DeleteExpiredScraped(ctx context.Context, now time.Time) (int64, error)
	DeactivateExpiredManual(ctx context.Context, now time.Time) (int64, error)
	GetRevalidationBatch(ctx context.Context, cutoff time.Time, limit int) ([]*models.JobPosting, error)
	MarkInvalid(ctx context.Context, id string, status types.ValidityStatus) error
	MarkValidated(ctx context.Context, id string, validatedAt time.Time) error
	CountCleanupTargets(ctx context.Context, now time.Time) (*storage.CleanupCounts, error)
	GetStats(ctx context.Context, recentWindow time.Duration) (*storage.PostingStats, error)
}

// ValidityMonitor owns the recurring cleanup and re-validation cycle.
// Cycles are single-flight: a tick that fires while the previous cycle is
// still running is skipped, never queued.
type ValidityMonitor struct {
	postings    PostingStore
	validator   Validator
	broadcaster broadcast.Broadcaster
	cfg         *config.MonitorConfig
	logger      *logging.Logger
	now         func() time.Time

	cycleRunning atomic.Bool
	stopCh       chan struct{}
	doneCh       chan struct{}
	startOnce    sync.Once
	stopOnce     sync.Once
}

// NewValidityMonitor creates a validity monitor
func NewValidityMonitor(
	postings PostingStore,
	validator Validator,
	broadcaster broadcast.Broadcaster,
	cfg *config.MonitorConfig,
	logger *logging.Logger,
) *ValidityMonitor {
	return &ValidityMonitor{
		postings:    postings,
		validator:   validator,
		broadcaster: broadcaster,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start launches the cycle loop. The first cycle runs after one interval,
// not immediately.
func (m *ValidityMonitor) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		go m.loop(ctx)
		m.logger.WithField("interval", m.cfg.CycleInterval.String()).Info("Validity monitor started")
	})
}

// Stop requests shutdown and waits for an in-flight cycle to finish
func (m *ValidityMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
	m.logger.Info("Validity monitor stopped")
}

func (m *ValidityMonitor) loop(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunCycle(ctx)
		}
	}
}

// RunCycle executes one full cycle: purge, re-validate, summarize. Returns
// false when a cycle was already in flight and this one was skipped.
func (m *ValidityMonitor) RunCycle(ctx context.Context) bool {
	if !m.cycleRunning.CompareAndSwap(false, true) {
		m.logger.Debug("Skipping validity cycle, previous cycle still running")
		return false
	}
	defer m.cycleRunning.Store(false)

	startedAt := m.now()
	summary := &broadcast.CycleSummary{StartedAt: startedAt}

	removed, expired := m.purgeExpired(ctx)
	summary.JobsRemoved = removed
	summary.JobsExpired = expired

	revalidated, invalidated := m.revalidateStale(ctx)
	summary.Revalidated = revalidated
	summary.JobsInvalid = invalidated

	summary.FinishedAt = m.now()
	m.logger.WithFields(map[string]interface{}{
		"removed":     summary.JobsRemoved,
		"expired":     summary.JobsExpired,
		"invalidated": summary.JobsInvalid,
		"revalidated": summary.Revalidated,
		"duration":    summary.FinishedAt.Sub(startedAt).String(),
	}).Info("Validity cycle finished")

	if err := m.broadcaster.PublishCycleSummary(ctx, summary); err != nil {
		m.logger.WithError(err).Warn("Failed to broadcast cycle summary")
	}

	return true
}

// purgeExpired removes expired postings. Scraped rows are hard-deleted;
// manual rows are kept but deactivated with status EXPIRED, so recruiters
// retain their history.
func (m *ValidityMonitor) purgeExpired(ctx context.Context) (removed, expired int64) {
	now := m.now()

	removed, err := m.postings.DeleteExpiredScraped(ctx, now)
	if err != nil {
		m.logger.WithError(err).Error("Failed to delete expired scraped postings")
	}

	expired, err = m.postings.DeactivateExpiredManual(ctx, now)
	if err != nil {
		m.logger.WithError(err).Error("Failed to deactivate expired manual postings")
	}

	return removed, expired
}

// revalidateStale probes one batch of stale postings against their sources.
// Postings past the staleness threshold are expired without probing. The
// per-posting delay keeps the probe traffic from hammering the sources.
func (m *ValidityMonitor) revalidateStale(ctx context.Context) (revalidated, invalidated int64) {
	now := m.now()

	batch, err := m.postings.GetRevalidationBatch(ctx, now.Add(-m.cfg.RevalidationInterval), m.cfg.BatchSize)
	if err != nil {
		m.logger.WithError(err).Error("Failed to load revalidation batch")
		return 0, 0
	}

	for i, posting := range batch {
		select {
		case <-m.stopCh:
			return revalidated, invalidated
		case <-ctx.Done():
			return revalidated, invalidated
		default:
		}

		if i > 0 && m.cfg.PerPostingDelay > 0 {
			time.Sleep(m.cfg.PerPostingDelay)
		}

		if now.Sub(posting.CreatedAt) > m.cfg.StalenessThreshold {
			if err := m.postings.MarkInvalid(ctx, posting.ID, types.ValidityExpired); err != nil {
				m.logger.WithError(err).WithField("postingId", posting.ID).Error("Failed to expire stale posting")
				continue
			}
			invalidated++
			continue
		}

		// A passed application deadline invalidates the posting regardless of
		// whether the source still answers for it
		if posting.ApplicationDeadline != nil && posting.ApplicationDeadline.Before(now) {
			if err := m.postings.MarkInvalid(ctx, posting.ID, types.ValidityNotFound); err != nil {
				m.logger.WithError(err).WithField("postingId", posting.ID).Error("Failed to invalidate posting past its deadline")
				continue
			}
			invalidated++
			continue
		}

		status := m.validator.Validate(ctx, posting)
		if status == types.ValidityValid {
			if err := m.postings.MarkValidated(ctx, posting.ID, m.now()); err != nil {
				m.logger.WithError(err).WithField("postingId", posting.ID).Error("Failed to mark posting validated")
				continue
			}
			revalidated++
			continue
		}

		if err := m.postings.MarkInvalid(ctx, posting.ID, status); err != nil {
			m.logger.WithError(err).WithField("postingId", posting.ID).Error("Failed to mark posting invalid")
			continue
		}
		m.logger.WithFields(map[string]interface{}{
			"postingId": posting.ID,
			"status":    status,
		}).Info("Posting failed re-validation")
		invalidated++
	}

	return revalidated, invalidated
}

// CleanupResult is the outcome of a manually triggered cleanup. JobsRemoved
// counts hard-deleted scraped rows, JobsExpired the deactivated manual rows,
// JobsInvalid the active postings whose validity status is not VALID.
type CleanupResult struct {
	DryRun      bool  `json:"dryRun"`
	JobsRemoved int64 `json:"jobsRemoved"`
	JobsExpired int64 `json:"jobsExpired"`
	JobsInvalid int64 `json:"jobsInvalid"`
}

// RunCleanup performs (or previews, when dryRun is set) an expiry purge
// outside the regular cycle
func (m *ValidityMonitor) RunCleanup(ctx context.Context, dryRun bool) (*CleanupResult, error) {
	if dryRun {
		counts, err := m.postings.CountCleanupTargets(ctx, m.now())
		if err != nil {
			return nil, err
		}
		return &CleanupResult{
			DryRun:      true,
			JobsRemoved: counts.ExpiredScraped,
			JobsExpired: counts.ExpiredManual,
			JobsInvalid: counts.Invalid,
		}, nil
	}

	now := m.now()
	removed, err := m.postings.DeleteExpiredScraped(ctx, now)
	if err != nil {
		return nil, err
	}
	expired, err := m.postings.DeactivateExpiredManual(ctx, now)
	if err != nil {
		return nil, err
	}

	result := &CleanupResult{JobsRemoved: removed, JobsExpired: expired}
	if counts, err := m.postings.CountCleanupTargets(ctx, now); err != nil {
		m.logger.WithError(err).Warn("Failed to count invalid postings after cleanup")
	} else if counts != nil {
		result.JobsInvalid = counts.Invalid
	}

	m.logger.WithFields(map[string]interface{}{
		"removed": removed,
		"expired": expired,
		"invalid": result.JobsInvalid,
	}).Info("Manual cleanup finished")

	return result, nil
}

// GetCleanupStats reports aggregate posting state for the cleanup status
// endpoint
func (m *ValidityMonitor) GetCleanupStats(ctx context.Context) (*storage.PostingStats, error) {
	return m.postings.GetStats(ctx, m.cfg.RevalidationInterval)
}
