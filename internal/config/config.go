// Package config provides configuration management for the job scanner application.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	RateLimit RateLimitConfig
	Scraper   ScraperConfig
	Monitor   MonitorConfig
	Queue     QueueConfig
	Broadcast BroadcastConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// RateLimitConfig holds admission-control configuration.
// Each category has a fixed (window, max requests) policy.
type RateLimitConfig struct {
	ScrapingWindow   time.Duration
	ScrapingMax      int
	GeneralWindow    time.Duration
	GeneralMax       int
	AuthWindow       time.Duration
	AuthMax          int
	CleanupInterval  time.Duration
	RecordMaxAge     time.Duration
}

// ScraperConfig holds scraper orchestration configuration
type ScraperConfig struct {
	Sources        []string      // enabled source names
	SourceTimeout  time.Duration // per-source fetch deadline
	SourceRPS      int           // outbound requests per second per source
	DedupWindow    time.Duration // recency window for fingerprint dedup
	DefaultExpiry  time.Duration // expires_at for postings without one
	IndeedBaseURL  string
	LinkedInBaseURL string
}

// MonitorConfig holds validity monitor configuration
type MonitorConfig struct {
	CycleInterval        time.Duration
	RevalidationInterval time.Duration // how stale last_validated may get
	StalenessThreshold   time.Duration // max posting age before forced invalidation
	BatchSize            int
	PerPostingDelay      time.Duration // self-throttle between validation calls
}

// QueueConfig holds task queue configuration
type QueueConfig struct {
	PollInterval         time.Duration
	Workers              int
	MaxAttempts          int
	BackpressureDepth    int // pending-task depth past which low-priority admissions are rejected
}

// BroadcastConfig holds outbound summary channel configuration
type BroadcastConfig struct {
	CycleChannel  string
	ScrapeChannel string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "job_scanner"),
				User:           getEnv("POSTGRES_USER", "scanner"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 100),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "job_scanner"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		RateLimit: RateLimitConfig{
			ScrapingWindow:  getEnvAsDuration("RATE_LIMIT_SCRAPING_WINDOW", time.Hour),
			ScrapingMax:     getEnvAsInt("RATE_LIMIT_SCRAPING_MAX", 10),
			GeneralWindow:   getEnvAsDuration("RATE_LIMIT_GENERAL_WINDOW", 15*time.Minute),
			GeneralMax:      getEnvAsInt("RATE_LIMIT_GENERAL_MAX", 100),
			AuthWindow:      getEnvAsDuration("RATE_LIMIT_AUTH_WINDOW", 15*time.Minute),
			AuthMax:         getEnvAsInt("RATE_LIMIT_AUTH_MAX", 5),
			CleanupInterval: getEnvAsDuration("RATE_LIMIT_CLEANUP_INTERVAL", time.Hour),
			RecordMaxAge:    getEnvAsDuration("RATE_LIMIT_RECORD_MAX_AGE", 24*time.Hour),
		},
		Scraper: ScraperConfig{
			Sources:         getEnvAsSlice("SCRAPER_SOURCES", []string{"indeed", "linkedin"}),
			SourceTimeout:   getEnvAsDuration("SCRAPER_SOURCE_TIMEOUT", 30*time.Second),
			SourceRPS:       getEnvAsInt("SCRAPER_SOURCE_RPS", 2),
			DedupWindow:     getEnvAsDuration("SCRAPER_DEDUP_WINDOW", 7*24*time.Hour),
			DefaultExpiry:   getEnvAsDuration("SCRAPER_DEFAULT_EXPIRY", 30*24*time.Hour),
			IndeedBaseURL:   getEnv("INDEED_BASE_URL", "https://api.indeed.com/ads/apisearch"),
			LinkedInBaseURL: getEnv("LINKEDIN_BASE_URL", "https://api.linkedin.com/v2/jobSearch"),
		},
		Monitor: MonitorConfig{
			CycleInterval:        getEnvAsDuration("MONITOR_CYCLE_INTERVAL", time.Minute),
			RevalidationInterval: getEnvAsDuration("MONITOR_REVALIDATION_INTERVAL", 6*time.Hour),
			StalenessThreshold:   getEnvAsDuration("MONITOR_STALENESS_THRESHOLD", 60*24*time.Hour),
			BatchSize:            getEnvAsInt("MONITOR_BATCH_SIZE", 50),
			PerPostingDelay:      getEnvAsDuration("MONITOR_PER_POSTING_DELAY", 100*time.Millisecond),
		},
		Queue: QueueConfig{
			PollInterval:      getEnvAsDuration("QUEUE_POLL_INTERVAL", time.Second),
			Workers:           getEnvAsInt("QUEUE_WORKERS", 5),
			MaxAttempts:       getEnvAsInt("QUEUE_MAX_ATTEMPTS", 3),
			BackpressureDepth: getEnvAsInt("QUEUE_BACKPRESSURE_DEPTH", 100),
		},
		Broadcast: BroadcastConfig{
			CycleChannel:  getEnv("BROADCAST_CYCLE_CHANNEL", "job-scanner:cycle-summaries"),
			ScrapeChannel: getEnv("BROADCAST_SCRAPE_CHANNEL", "job-scanner:scrape-summaries"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice gets an environment variable as a comma-separated list
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			values = append(values, p)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
