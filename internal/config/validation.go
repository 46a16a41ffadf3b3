package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/kubilitics/cop-analytics/internal/source"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

var (
	validCacheBackends = []string{"memory", "sqlite", "redis", "none"}
	validLogFormats    = []string{"json", "console"}
)

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		add("server.grpc_port", "grpc_port must be between 0 and 65535, got %d", c.Server.GRPCPort)
	} else if c.Server.GRPCPort != 0 && c.Server.GRPCPort == c.Server.Port {
		add("server.grpc_port", "grpc_port must differ from port %d", c.Server.Port)
	}
	if c.Server.RequestsPerMinute < 0 {
		add("server.requests_per_minute", "requests_per_minute cannot be negative, got %d", c.Server.RequestsPerMinute)
	}
	if c.Server.ShutdownTimeout <= 0 {
		add("server.shutdown_timeout", "shutdown_timeout must be positive")
	}

	// Database
	if !oneOf(c.Database.Driver, source.Drivers) {
		add("database.driver", "invalid driver '%s', must be one of: %s", c.Database.Driver, strings.Join(source.Drivers, ", "))
	}
	if c.Database.DSN == "" {
		add("database.dsn", "dsn is required")
	}

	// Cache
	if !oneOf(c.Cache.Backend, validCacheBackends) {
		add("cache.backend", "invalid cache backend '%s', must be one of: %s", c.Cache.Backend, strings.Join(validCacheBackends, ", "))
	}
	if c.Cache.ReportTTL <= 0 {
		add("cache.report_ttl", "report_ttl must be positive")
	}
	if c.Cache.AdhocTTL <= 0 {
		add("cache.adhoc_ttl", "adhoc_ttl must be positive")
	}
	switch c.Cache.Backend {
	case "memory":
		if c.Cache.MaxEntries < 1 {
			add("cache.max_entries", "max_entries must be at least 1, got %d", c.Cache.MaxEntries)
		}
	case "sqlite":
		if c.Cache.SQLitePath == "" {
			add("cache.sqlite_path", "sqlite_path is required when backend is sqlite")
		}
	case "redis":
		if c.Cache.RedisAddr == "" {
			add("cache.redis_addr", "redis_addr is required when backend is redis")
		}
		if c.Cache.RedisDB < 0 {
			add("cache.redis_db", "redis_db cannot be negative, got %d", c.Cache.RedisDB)
		}
	}

	// Analytics
	if c.Analytics.Workers < 1 {
		add("analytics.workers", "workers must be at least 1, got %d", c.Analytics.Workers)
	}
	if c.Analytics.RecordAnomalies && c.Cache.SQLitePath == "" {
		add("cache.sqlite_path", "sqlite_path is required when record_anomalies is true")
	}

	// Events
	if c.Events.Enabled {
		if len(c.Events.Brokers) == 0 {
			add("events.brokers", "at least one broker is required when events are enabled")
		}
		if c.Events.Topic == "" {
			add("events.topic", "topic is required when events are enabled")
		}
		if c.Events.GroupID == "" {
			add("events.group_id", "group_id is required when events are enabled")
		}
	}

	// Logging
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level", "invalid log level '%s'", c.Logging.Level)
	}
	if !oneOf(c.Logging.Format, validLogFormats) {
		add("logging.format", "invalid log format '%s', must be one of: %s", c.Logging.Format, strings.Join(validLogFormats, ", "))
	}
	if c.Logging.File != "" && c.Logging.MaxSizeMB < 1 {
		add("logging.max_size_mb", "max_size_mb must be at least 1, got %d", c.Logging.MaxSizeMB)
	}

	return errs
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
