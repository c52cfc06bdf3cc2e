// Package broadcast pushes pipeline summaries to the realtime channel that
// connected clients subscribe to. Publish failures are logged and swallowed:
// the pipeline never blocks on the broadcast collaborator.
package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/job-scanner/internal/logging"
	"github.com/redis/go-redis/v9"
)

// CycleSummary reports one completed validity-monitor cycle
type CycleSummary struct {
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
	JobsRemoved  int64     `json:"jobsRemoved"`
	JobsExpired  int64     `json:"jobsExpired"`
	JobsInvalid  int64     `json:"jobsInvalid"`
	Revalidated  int64     `json:"revalidated"`
}

// ScrapeSummary reports one completed scrape run
type ScrapeSummary struct {
	RunID       string    `json:"runId"`
	FinishedAt  time.Time `json:"finishedAt"`
	JobsFound   int       `json:"jobsFound"`
	JobsCreated int       `json:"jobsCreated"`
	JobsUpdated int       `json:"jobsUpdated"`
	ErrorCount  int       `json:"errorCount"`
}

// Broadcaster is the contract the pipeline needs from the realtime transport
type Broadcaster interface {
	PublishCycleSummary(ctx context.Context, summary *CycleSummary) error
	PublishScrapeSummary(ctx context.Context, summary *ScrapeSummary) error
}

// RedisBroadcaster publishes summaries over Redis pub/sub channels
type RedisBroadcaster struct {
	client        *redis.Client
	cycleChannel  string
	scrapeChannel string
	logger        *logging.Logger
}

// NewRedisBroadcaster creates a broadcaster on the given channels
func NewRedisBroadcaster(client *redis.Client, cycleChannel, scrapeChannel string, logger *logging.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{
		client:        client,
		cycleChannel:  cycleChannel,
		scrapeChannel: scrapeChannel,
		logger:        logger,
	}
}

// PublishCycleSummary publishes a cycle summary to the cycle channel
func (b *RedisBroadcaster) PublishCycleSummary(ctx context.Context, summary *CycleSummary) error {
	return b.publish(ctx, b.cycleChannel, summary)
}

// PublishScrapeSummary publishes a scrape summary to the scrape channel
func (b *RedisBroadcaster) PublishScrapeSummary(ctx context.Context, summary *ScrapeSummary) error {
	return b.publish(ctx, b.scrapeChannel, summary)
}

func (b *RedisBroadcaster) publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.WithError(err).WithField("channel", channel).Error("Failed to encode broadcast payload")
		return err
	}

	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		b.logger.WithError(err).WithField("channel", channel).Warn("Failed to publish broadcast message")
		return err
	}

	return nil
}

// NopBroadcaster discards summaries. Used in tests and worker-only
// deployments that have no realtime channel.
type NopBroadcaster struct{}

// PublishCycleSummary discards the summary
func (NopBroadcaster) PublishCycleSummary(ctx context.Context, summary *CycleSummary) error {
	return nil
}

// PublishScrapeSummary discards the summary
func (NopBroadcaster) PublishScrapeSummary(ctx context.Context, summary *ScrapeSummary) error {
	return nil
}
