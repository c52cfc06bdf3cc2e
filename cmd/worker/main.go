// Package main provides the background worker entry point: queue workers,
// the validity monitor cycle and rate-limit record cleanup.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/job-scanner/internal/api"
	"github.com/job-scanner/internal/broadcast"
	"github.com/job-scanner/internal/config"
	"github.com/job-scanner/internal/logging"
	"github.com/job-scanner/internal/models"
	"github.com/job-scanner/internal/monitor"
	"github.com/job-scanner/internal/queue"
	"github.com/job-scanner/internal/ratelimit"
	"github.com/job-scanner/internal/scraper"
	"github.com/job-scanner/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Fatal("Failed to load configuration")
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()
	logger.Info("Job scanner worker starting")

	// Database connections
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	// Repositories
	postingRepo := storage.NewJobPostingRepository(postgres)
	sourceRepo := storage.NewJobSourceRepository(postgres)
	taskRepo := storage.NewQueueTaskRepository(postgres)
	rateLimitRepo := storage.NewRateLimitRepository(postgres)
	runLogRepo := storage.NewScrapeRunLogRepository(clickhouse)

	broadcaster := broadcast.NewRedisBroadcaster(
		redis.Client(),
		cfg.Broadcast.CycleChannel,
		cfg.Broadcast.ScrapeChannel,
		logger,
	)

	// Scraper with the real source adapters
	registry := scraper.NewRegistry()
	registry.Register(scraper.NewIndeedSource(cfg.Scraper.IndeedBaseURL, cfg.Scraper.SourceTimeout, cfg.Scraper.SourceRPS))
	registry.Register(scraper.NewLinkedInSource(cfg.Scraper.LinkedInBaseURL, cfg.Scraper.SourceTimeout, cfg.Scraper.SourceRPS))
	scraperManager := scraper.NewManager(registry, postingRepo, sourceRepo, runLogRepo, broadcaster, &cfg.Scraper, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Queue workers
	taskQueue := queue.NewManager(taskRepo, &cfg.Queue, logger)
	taskQueue.RegisterHandler(api.TaskTypeScrape, func(ctx context.Context, task *models.QueueTask) error {
		var req scraper.ScrapeRequest
		if err := json.Unmarshal(task.Payload, &req); err != nil {
			return fmt.Errorf("invalid scrape payload: %w", err)
		}

		result, err := scraperManager.ScrapeJobs(ctx, &req)
		if err != nil {
			return err
		}
		// A run where every source failed is a retryable task failure
		if result.JobsFound == 0 && len(result.Errors) > 0 && len(result.Sources) == 0 {
			return fmt.Errorf("all sources failed: %v", result.Errors)
		}
		return nil
	})
	taskQueue.Start(ctx)

	// Validity monitor cycle
	validator := monitor.NewHTTPValidator(sourceRepo, cfg.Scraper.SourceTimeout)
	validityMonitor := monitor.NewValidityMonitor(postingRepo, validator, broadcaster, &cfg.Monitor, logger)
	validityMonitor.Start(ctx)

	// Rate-limit record cleanup on its own timer
	limiter := ratelimit.NewManager(rateLimitRepo, &cfg.RateLimit, redis.Client(), logger)
	go runRateLimitCleanup(ctx, limiter, cfg.RateLimit.CleanupInterval, cfg.RateLimit.RecordMaxAge, logger)

	logger.Info("Worker running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.WithField("signal", sig.String()).Info("Shutdown signal received")

	cancel()
	taskQueue.Stop()
	validityMonitor.Stop()
	logger.Info("Worker stopped")
}

func runRateLimitCleanup(ctx context.Context, limiter *ratelimit.Manager, interval, maxAge time.Duration, logger *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := limiter.CleanupOldRecords(ctx, maxAge); err != nil {
				logger.WithError(err).Error("Rate limit record cleanup failed")
			}
		}
	}
}
