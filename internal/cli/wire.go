package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/kubilitics/cop-analytics/internal/analytics"
	"github.com/kubilitics/cop-analytics/internal/cache"
	"github.com/kubilitics/cop-analytics/internal/config"
	"github.com/kubilitics/cop-analytics/internal/db"
	"github.com/kubilitics/cop-analytics/internal/metrics"
)

func (a *app) loadConfig(ctx context.Context) (config.ConfigManager, *config.Config, error) {
	mgr, err := config.NewConfigManager(a.configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := mgr.Load(ctx); err != nil {
		return nil, nil, err
	}
	if err := mgr.Validate(ctx); err != nil {
		return nil, nil, err
	}
	return mgr, mgr.Get(ctx), nil
}

// caches holds the typed caches built over one backend store.
type caches struct {
	reports *cache.Typed[analytics.Report]
	adhoc   *cache.Typed[json.RawMessage]
	sql     *cache.SQL
	closeFn func() error
}

func (c *caches) Close() error {
	if c.closeFn == nil {
		return nil
	}
	return c.closeFn()
}

// buildCaches creates the configured cache backend. local is required for
// the sqlite backend.
func buildCaches(ctx context.Context, cfg *config.Config, local db.Store, logger *zap.Logger) (*caches, error) {
	var (
		store cache.Store
		out   caches
	)
	switch cfg.Cache.Backend {
	case "none":
		return &out, nil
	case "memory":
		mem, err := cache.NewMemory(cfg.Cache.MaxEntries)
		if err != nil {
			return nil, err
		}
		store = mem
	case "sqlite":
		if local == nil {
			return nil, fmt.Errorf("sqlite cache backend needs a local store")
		}
		out.sql = cache.NewSQL(local)
		store = out.sql
	case "redis":
		r, err := cache.NewRedis(ctx, cache.RedisConfig{
			Address:   cfg.Cache.RedisAddr,
			Password:  cfg.Cache.RedisPassword,
			Database:  cfg.Cache.RedisDB,
			KeyPrefix: "cop-analytics:",
		})
		if err != nil {
			return nil, err
		}
		store = r
		out.closeFn = r.Close
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}

	opts := cache.TypedOptions{
		Backend:  cfg.Cache.Backend,
		Compress: cfg.Cache.Compress,
		Observer: metrics.CacheObserver{},
	}
	out.reports = cache.NewTyped[analytics.Report](store, opts)
	out.adhoc = cache.NewTyped[json.RawMessage](store, opts)
	logger.Info("result cache ready",
		zap.String("backend", cfg.Cache.Backend),
		zap.Duration("report_ttl", cfg.Cache.ReportTTL),
		zap.Duration("adhoc_ttl", cfg.Cache.AdhocTTL))
	return &out, nil
}

func needsLocalStore(cfg *config.Config) bool {
	return cfg.Cache.Backend == "sqlite" || cfg.Analytics.RecordAnomalies
}
