package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("COPA")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// A missing file is fine; defaults and env vars still apply.
	if err := m.readConfigFile(); err != nil {
		return err
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	m.applyEnvOverrides()
	return nil
}

func (m *viperConfigManager) readConfigFile() error {
	err := m.viper.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || os.IsNotExist(err) || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("error reading config file: %w", err)
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		m.applyEnvOverrides()
		select {
		case m.watchChan <- *m.config:
		default:
			// Channel full, skip this update
		}
	})
	m.viper.WatchConfig()

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.readConfigFile(); err != nil {
		return err
	}
	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	m.applyEnvOverrides()
	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.grpc_port", defaults.Server.GRPCPort)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)
	m.viper.SetDefault("server.requests_per_minute", defaults.Server.RequestsPerMinute)
	m.viper.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)

	// Database defaults
	m.viper.SetDefault("database.driver", defaults.Database.Driver)
	m.viper.SetDefault("database.dsn", defaults.Database.DSN)

	// Cache defaults
	m.viper.SetDefault("cache.backend", defaults.Cache.Backend)
	m.viper.SetDefault("cache.report_ttl", defaults.Cache.ReportTTL)
	m.viper.SetDefault("cache.adhoc_ttl", defaults.Cache.AdhocTTL)
	m.viper.SetDefault("cache.max_entries", defaults.Cache.MaxEntries)
	m.viper.SetDefault("cache.compress", defaults.Cache.Compress)
	m.viper.SetDefault("cache.sqlite_path", defaults.Cache.SQLitePath)
	m.viper.SetDefault("cache.redis_addr", defaults.Cache.RedisAddr)
	m.viper.SetDefault("cache.redis_password", defaults.Cache.RedisPassword)
	m.viper.SetDefault("cache.redis_db", defaults.Cache.RedisDB)

	// Analytics defaults
	m.viper.SetDefault("analytics.workers", defaults.Analytics.Workers)
	m.viper.SetDefault("analytics.record_anomalies", defaults.Analytics.RecordAnomalies)

	// Events defaults
	m.viper.SetDefault("events.enabled", defaults.Events.Enabled)
	m.viper.SetDefault("events.brokers", defaults.Events.Brokers)
	m.viper.SetDefault("events.topic", defaults.Events.Topic)
	m.viper.SetDefault("events.group_id", defaults.Events.GroupID)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.file", defaults.Logging.File)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
	m.viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.GRPCPort = m.viper.GetInt("server.grpc_port")
	cfg.Server.AllowedOrigins = splitList(m.viper.GetStringSlice("server.allowed_origins"))
	cfg.Server.RequestsPerMinute = m.viper.GetInt("server.requests_per_minute")
	cfg.Server.ShutdownTimeout = m.viper.GetDuration("server.shutdown_timeout")

	// Database
	cfg.Database.Driver = m.viper.GetString("database.driver")
	cfg.Database.DSN = m.viper.GetString("database.dsn")

	// Cache
	cfg.Cache.Backend = m.viper.GetString("cache.backend")
	cfg.Cache.ReportTTL = m.viper.GetDuration("cache.report_ttl")
	cfg.Cache.AdhocTTL = m.viper.GetDuration("cache.adhoc_ttl")
	cfg.Cache.MaxEntries = m.viper.GetInt("cache.max_entries")
	cfg.Cache.Compress = m.viper.GetBool("cache.compress")
	cfg.Cache.SQLitePath = m.viper.GetString("cache.sqlite_path")
	cfg.Cache.RedisAddr = m.viper.GetString("cache.redis_addr")
	cfg.Cache.RedisPassword = m.viper.GetString("cache.redis_password")
	cfg.Cache.RedisDB = m.viper.GetInt("cache.redis_db")

	// Analytics
	cfg.Analytics.Workers = m.viper.GetInt("analytics.workers")
	cfg.Analytics.RecordAnomalies = m.viper.GetBool("analytics.record_anomalies")

	// Events
	cfg.Events.Enabled = m.viper.GetBool("events.enabled")
	cfg.Events.Brokers = splitList(m.viper.GetStringSlice("events.brokers"))
	cfg.Events.Topic = m.viper.GetString("events.topic")
	cfg.Events.GroupID = m.viper.GetString("events.group_id")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.File = m.viper.GetString("logging.file")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")
	cfg.Logging.Compress = m.viper.GetBool("logging.compress")

	m.config = cfg
	return nil
}

// applyEnvOverrides applies conventional environment variables that do not
// follow the COPA_ naming scheme.
func (m *viperConfigManager) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" && os.Getenv("COPA_DATABASE_DSN") == "" {
		m.config.Database.DSN = dsn
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" && os.Getenv("COPA_CACHE_REDIS_PASSWORD") == "" {
		m.config.Cache.RedisPassword = pw
	}
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
