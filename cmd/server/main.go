// Package main provides the API server entry point for the job scanner service.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/job-scanner/internal/api"
	"github.com/job-scanner/internal/broadcast"
	"github.com/job-scanner/internal/config"
	"github.com/job-scanner/internal/logging"
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
	logger.Info("Job scanner API server starting")

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

	// Collaborators
	broadcaster := broadcast.NewRedisBroadcaster(
		redis.Client(),
		cfg.Broadcast.CycleChannel,
		cfg.Broadcast.ScrapeChannel,
		logger,
	)

	limiter := ratelimit.NewManager(rateLimitRepo, &cfg.RateLimit, redis.Client(), logger)

	registry := scraper.NewRegistry()
	registry.Register(scraper.NewIndeedSource(cfg.Scraper.IndeedBaseURL, cfg.Scraper.SourceTimeout, cfg.Scraper.SourceRPS))
	registry.Register(scraper.NewLinkedInSource(cfg.Scraper.LinkedInBaseURL, cfg.Scraper.SourceTimeout, cfg.Scraper.SourceRPS))

	scraperManager := scraper.NewManager(registry, postingRepo, sourceRepo, runLogRepo, broadcaster, &cfg.Scraper, logger)

	// The monitor is not started here; the server only uses it for manually
	// triggered cleanup. The recurring cycle runs in the worker binary.
	validator := monitor.NewHTTPValidator(sourceRepo, cfg.Scraper.SourceTimeout)
	validityMonitor := monitor.NewValidityMonitor(postingRepo, validator, broadcaster, &cfg.Monitor, logger)

	// Queue manager without workers: the server only enqueues.
	taskQueue := queue.NewManager(taskRepo, &cfg.Queue, logger)

	serverCfg := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		StatsWindow:     24 * time.Hour,
	}

	server := api.NewServer(serverCfg, scraperManager, validityMonitor, taskQueue, limiter, logger)

	// Serve until signalled
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.WithError(err).Fatal("API server failed")
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}
	logger.Info("Server stopped")
}
