package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/job-scanner/internal/logging"
	"github.com/job-scanner/internal/models"
	"github.com/job-scanner/internal/monitor"
	"github.com/job-scanner/internal/scraper"
	"github.com/job-scanner/internal/storage"
)

// Service interfaces for dependency injection and testing

// ScraperServiceInterface defines the scraper operations the API needs
type ScraperServiceInterface interface {
	ScrapeJobs(ctx context.Context, req *scraper.ScrapeRequest) (*scraper.ScrapeResult, error)
	GetScrapingStats(ctx context.Context, window time.Duration) (*scraper.ScrapingStats, error)
}

// CleanupServiceInterface defines the cleanup operations the API needs
type CleanupServiceInterface interface {
	RunCleanup(ctx context.Context, dryRun bool) (*monitor.CleanupResult, error)
	GetCleanupStats(ctx context.Context) (*storage.PostingStats, error)
}

// TaskQueueInterface defines the queue operations the API needs
type TaskQueueInterface interface {
	Enqueue(ctx context.Context, taskType string, payload []byte, priority int, scheduledFor time.Time) (*models.QueueTask, error)
	GetStats(ctx context.Context) (*storage.QueueStats, error)
}

// Server represents the HTTP API server
type Server struct {
	router         *mux.Router
	httpServer     *http.Server
	scraperService ScraperServiceInterface
	cleanupService CleanupServiceInterface
	taskQueue      TaskQueueInterface
	limiter        Limiter
	config         *ServerConfig
	logger         *logging.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	StatsWindow     time.Duration // history window for the scraper status endpoint
}

// NewServer creates a new API server instance
func NewServer(
	config *ServerConfig,
	scraperService ScraperServiceInterface,
	cleanupService CleanupServiceInterface,
	taskQueue TaskQueueInterface,
	limiter Limiter,
	logger *logging.Logger,
) *Server {
	s := &Server{
		router:         mux.NewRouter(),
		scraperService: scraperService,
		cleanupService: cleanupService,
		taskQueue:      taskQueue,
		limiter:        limiter,
		config:         config,
		logger:         logger,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Middleware order matters
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(s.limiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Scraper endpoints
	api.HandleFunc("/scraper/trigger", s.handleTriggerScrape).Methods("POST")
	api.HandleFunc("/scraper/trigger", s.handleScraperStatus).Methods("GET")

	// Cleanup endpoints
	api.HandleFunc("/cleanup", s.handleTriggerCleanup).Methods("POST")
	api.HandleFunc("/cleanup", s.handleCleanupStatus).Methods("GET")
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "job-scanner",
	})
}

// Router exposes the configured handler, mainly for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
