// Package ratelimit provides fixed-window admission control for trigger
// endpoints, keyed by (identity, category).
package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/job-scanner/internal/config"
	"github.com/job-scanner/internal/logging"
	"github.com/job-scanner/internal/models"
	"github.com/job-scanner/internal/storage"
	"github.com/job-scanner/internal/types"
	"github.com/redis/go-redis/v9"
)

// Policy is the fixed-window policy for one category
type Policy struct {
	Window      time.Duration
	MaxRequests int
}

// Store is the counter persistence contract. The production implementation
// is storage.RateLimitRepository; its Increment is a single conditional
// upsert, so the read-check-increment happens as one atomic operation.
type Store interface {
	Increment(ctx context.Context, identity string, category types.RateLimitCategory, now, expiredBefore time.Time) (*models.RateLimitRecord, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	GetStats(ctx context.Context, topN int) (*storage.RateLimitStats, error)
}

// Manager enforces per-(identity, category) fixed-window limits
type Manager struct {
	store    Store
	policies map[types.RateLimitCategory]Policy
	audit    *redis.Client // optional, fire-and-forget counters
	logger   *logging.Logger
	now      func() time.Time
}

// NewManager creates a rate limit manager with policies from config
func NewManager(store Store, cfg *config.RateLimitConfig, audit *redis.Client, logger *logging.Logger) *Manager {
	return &Manager{
		store: store,
		policies: map[types.RateLimitCategory]Policy{
			types.CategoryScraping: {Window: cfg.ScrapingWindow, MaxRequests: cfg.ScrapingMax},
			types.CategoryGeneral:  {Window: cfg.GeneralWindow, MaxRequests: cfg.GeneralMax},
			types.CategoryAuth:     {Window: cfg.AuthWindow, MaxRequests: cfg.AuthMax},
		},
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}
}

// PolicyFor returns the policy for a category; unknown categories fall back
// to the general policy.
func (m *Manager) PolicyFor(category types.RateLimitCategory) Policy {
	if p, ok := m.policies[category]; ok {
		return p
	}
	return m.policies[types.CategoryGeneral]
}

// CheckLimit admits or denies one request for (identity, category).
// If the backing store is unreachable the check fails open: the request is
// allowed, the failure is logged, and Decision.FailedOpen is set.
// Availability is prioritized over strict enforcement here.
func (m *Manager) CheckLimit(ctx context.Context, identity string, category types.RateLimitCategory) *types.RateLimitDecision {
	policy := m.PolicyFor(category)
	now := m.now()

	record, err := m.store.Increment(ctx, identity, category, now, now.Add(-policy.Window))
	if err != nil {
		m.logger.WithError(err).WithFields(map[string]interface{}{
			"identity": identity,
			"category": category,
		}).Error("Rate limit store unreachable, failing open")

		return &types.RateLimitDecision{
			Allowed:    true,
			Remaining:  policy.MaxRequests - 1,
			ResetTime:  now.Add(policy.Window),
			FailedOpen: true,
		}
	}

	resetTime := record.WindowStart.Add(policy.Window)
	if record.Count <= policy.MaxRequests {
		return &types.RateLimitDecision{
			Allowed:   true,
			Remaining: policy.MaxRequests - record.Count,
			ResetTime: resetTime,
		}
	}

	retryAfter := int(math.Ceil(resetTime.Sub(now).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}

	return &types.RateLimitDecision{
		Allowed:    false,
		Remaining:  0,
		ResetTime:  resetTime,
		RetryAfter: retryAfter,
	}
}

// LogRequest records an audit counter for the request outcome. It is
// fire-and-forget: failures are logged and never propagate to the caller.
func (m *Manager) LogRequest(ctx context.Context, identity string, category types.RateLimitCategory, allowed bool) {
	if m.audit == nil {
		return
	}

	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}

	key := "ratelimit:audit:" + string(category) + ":" + outcome
	if err := m.audit.Incr(ctx, key).Err(); err != nil {
		m.logger.WithError(err).WithField("key", key).Warn("Failed to record rate limit audit counter")
	}
}

// CleanupOldRecords bulk-purges counters older than maxAge to bound storage
// growth. Driven by an independent timer.
func (m *Manager) CleanupOldRecords(ctx context.Context, maxAge time.Duration) (int64, error) {
	removed, err := m.store.DeleteOlderThan(ctx, m.now().Add(-maxAge))
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		m.logger.WithField("removed", removed).Info("Purged stale rate limit records")
	}

	return removed, nil
}

// GetStats returns aggregate totals and the highest-count keys
func (m *Manager) GetStats(ctx context.Context) (*storage.RateLimitStats, error) {
	return m.store.GetStats(ctx, 10)
}
