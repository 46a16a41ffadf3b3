package config

import (
	"context"
	"time"

	"github.com/kubilitics/cop-analytics/internal/logging"
)

// Package config provides configuration management for cop-analytics.
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (COPA_* prefix, dots become underscores)
//   2. YAML config file (default: /etc/cop-analytics/config.yaml)
//   3. Built-in defaults
//
// Main Configuration Sections:
//
//   1. Server
//      - port: HTTP listen port (default 8080)
//      - grpc_port: gRPC health port, 0 disables (default 9090)
//      - allowed_origins: CORS origins
//      - requests_per_minute: per-client rate limit, 0 disables
//      - shutdown_timeout: graceful shutdown deadline
//
//   2. Database (upstream parameter readings)
//      - driver: "sqlite" | "postgres" | "mysql"
//      - dsn: driver connection string
//
//   3. Cache
//      - backend: "memory" | "sqlite" | "redis" | "none"
//      - report_ttl: lifetime of monthly reports (default 24h)
//      - adhoc_ttl: lifetime of ad-hoc analysis results (default 30m)
//      - max_entries: memory backend bound
//      - compress: snappy-compress payloads
//      - sqlite_path: local store for the sqlite backend and anomaly history
//      - redis_addr, redis_password, redis_db
//
//   4. Analytics
//      - workers: parallel parameter computations per report
//      - record_anomalies: persist detected outliers
//
//   5. Events
//      - enabled, brokers, topic, group_id
//
//   6. Logging
//      - level, format, file, max_size_mb, max_backups, max_age_days, compress
//
// Config struct contains all configuration fields
type Config struct {
	Server struct {
		Port              int
		GRPCPort          int
		AllowedOrigins    []string
		RequestsPerMinute int
		ShutdownTimeout   time.Duration
	}

	Database struct {
		Driver string
		DSN    string
	}

	Cache struct {
		Backend       string
		ReportTTL     time.Duration
		AdhocTTL      time.Duration
		MaxEntries    int
		Compress      bool
		SQLitePath    string
		RedisAddr     string
		RedisPassword string
		RedisDB       int
	}

	Analytics struct {
		Workers         int
		RecordAnomalies bool
	}

	Events struct {
		Enabled bool
		Brokers []string
		Topic   string
		GroupID string
	}

	Logging struct {
		Level      string
		Format     string
		File       string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
		Compress   bool
	}
}

// LoggingConfig converts the logging section for logging.New.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
		Compress:   c.Logging.Compress,
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration file changes.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// DefaultConfigPath is used when no path is given.
const DefaultConfigPath = "/etc/cop-analytics/config.yaml"

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}
