package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisAddr   string

	// Deployment provider
	NetlifyAuthToken string
	NetlifyAPIBase   string

	// Generation
	TemplateDir  string
	WorkspaceDir string

	// Queue tuning
	WorkerConcurrency int
	JobTimeout        time.Duration
	MaxAttempts       int
	RetryBackoffBase  time.Duration
	CleanupInterval   time.Duration
	RetentionWindow   time.Duration
	CompletedKeep     int
	FailedKeep        int

	// Observability
	OTELExporterType     string
	OTELExporterEndpoint string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:               getEnv("APP_ENV", "development"),
		Port:                 getEnv("PORT", "8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		NetlifyAuthToken:     os.Getenv("NETLIFY_AUTH_TOKEN"),
		NetlifyAPIBase:       getEnv("NETLIFY_API_BASE", "https://api.netlify.com/api/v1"),
		TemplateDir:          getEnv("TEMPLATE_DIR", "./templates/default"),
		WorkspaceDir:         getEnv("WORKSPACE_DIR", "./workspaces"),
		WorkerConcurrency:    getEnvInt("WORKER_CONCURRENCY", 2),
		JobTimeout:           getEnvDuration("JOB_TIMEOUT_SECONDS", 120),
		MaxAttempts:          getEnvInt("JOB_MAX_ATTEMPTS", 3),
		RetryBackoffBase:     getEnvDuration("RETRY_BACKOFF_BASE_SECONDS", 2),
		CleanupInterval:      time.Minute * time.Duration(getEnvInt("CLEANUP_INTERVAL_MINUTES", 30)),
		RetentionWindow:      time.Hour * time.Duration(getEnvInt("RETENTION_WINDOW_HOURS", 24)),
		CompletedKeep:        getEnvInt("CLEANUP_COMPLETED_KEEP", 1000),
		FailedKeep:           getEnvInt("CLEANUP_FAILED_KEEP", 5000),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		HTTPReadTimeout:      getEnvDuration("HTTP_READ_TIMEOUT_SECONDS", 15),
		HTTPWriteTimeout:     getEnvDuration("HTTP_WRITE_TIMEOUT_SECONDS", 30),
		HTTPIdleTimeout:      getEnvDuration("HTTP_IDLE_TIMEOUT_SECONDS", 60),
		RateLimitPerMin:      getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.WorkerConcurrency <= 0 {
		return nil, fmt.Errorf("WORKER_CONCURRENCY must be positive")
	}

	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("JOB_MAX_ATTEMPTS must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallbackSeconds int) time.Duration {
	return time.Second * time.Duration(getEnvInt(key, fallbackSeconds))
}
