package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the receiver service
type Config struct {
	Port              int
	DatabasePath      string
	LogLevel          string
	LogFormat         string // text or json
	WorkerConcurrency int    // Number of background enrichment workers
	QueueSize         int    // Tasks that may wait for a worker before dispatch is rejected
	ShutdownTimeout   time.Duration
	HTTPTimeout       time.Duration // Timeout for outbound provider requests
	GitHubRawBaseURL  string
	YouTubeBaseURL    string
	RedisAddr         string // Empty disables the enrichment cache
	CacheTTL          time.Duration
	OTLPEndpoint      string // Empty disables trace export
}

// Load reads configuration from environment variables. Values from a .env
// file in the working directory are applied first without overriding the
// real environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the current environment only
func FromEnv() (*Config, error) {
	config := &Config{
		Port:              getEnvAsInt("PORT", 3002),
		DatabasePath:      getEnv("DB_PATH", "/data/nomnom.db"),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", "text")),
		WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 4),
		QueueSize:         getEnvAsInt("QUEUE_SIZE", 64),
		ShutdownTimeout:   time.Duration(getEnvAsInt("SHUTDOWN_TIMEOUT_SECONDS", 30)) * time.Second,
		HTTPTimeout:       time.Duration(getEnvAsInt("HTTP_TIMEOUT_SECONDS", 10)) * time.Second,
		GitHubRawBaseURL:  getEnv("GITHUB_RAW_BASE_URL", "https://raw.githubusercontent.com"),
		YouTubeBaseURL:    getEnv("YOUTUBE_BASE_URL", "https://www.youtube.com"),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		CacheTTL:          time.Duration(getEnvAsInt("CACHE_TTL_HOURS", 24)) * time.Hour,
		OTLPEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json")
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be greater than 0")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("QUEUE_SIZE must be greater than 0")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT_SECONDS must be greater than 0")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT_SECONDS must be greater than 0")
	}
	if c.GitHubRawBaseURL == "" {
		return fmt.Errorf("GITHUB_RAW_BASE_URL is required")
	}
	if c.YouTubeBaseURL == "" {
		return fmt.Errorf("YOUTUBE_BASE_URL is required")
	}
	if c.RedisAddr != "" && c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL_HOURS must be greater than 0")
	}
	return nil
}

// Addr returns the listen address for the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
