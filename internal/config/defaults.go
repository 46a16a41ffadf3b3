package config

import "time"

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8080
	cfg.Server.GRPCPort = 9090
	cfg.Server.AllowedOrigins = []string{"*"}
	cfg.Server.RequestsPerMinute = 600
	cfg.Server.ShutdownTimeout = 15 * time.Second

	// Database defaults
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = "data/cop.db"

	// Cache defaults
	cfg.Cache.Backend = "memory"
	cfg.Cache.ReportTTL = 24 * time.Hour
	cfg.Cache.AdhocTTL = 30 * time.Minute
	cfg.Cache.MaxEntries = 1024
	cfg.Cache.Compress = true
	cfg.Cache.SQLitePath = "data/cop-analytics.db"
	cfg.Cache.RedisAddr = "localhost:6379"
	cfg.Cache.RedisDB = 0

	// Analytics defaults
	cfg.Analytics.Workers = 4
	cfg.Analytics.RecordAnomalies = false

	// Events defaults
	cfg.Events.Enabled = false
	cfg.Events.Brokers = []string{"localhost:9092"}
	cfg.Events.Topic = "cop.changes"
	cfg.Events.GroupID = "cop-analytics"

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.File = ""
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30
	cfg.Logging.Compress = true

	return cfg
}
