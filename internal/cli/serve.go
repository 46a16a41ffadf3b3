package cli

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kubilitics/cop-analytics/internal/analytics"
	"github.com/kubilitics/cop-analytics/internal/config"
	"github.com/kubilitics/cop-analytics/internal/db"
	"github.com/kubilitics/cop-analytics/internal/events"
	"github.com/kubilitics/cop-analytics/internal/logging"
	"github.com/kubilitics/cop-analytics/internal/server"
	"github.com/kubilitics/cop-analytics/internal/source"
)

const cachePurgeInterval = 10 * time.Minute

func newServeCmd(a *app) *cobra.Command {
	var initSchema bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, gRPC health server and change event consumers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, initSchema)
		},
	}
	cmd.Flags().BoolVar(&initSchema, "init-schema", false, "create the upstream tables if missing")
	return cmd
}

func (a *app) serve(ctx context.Context, initSchema bool) error {
	mgr, cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	logger, syncLogs, err := logging.New(cfg.LoggingConfig())
	if err != nil {
		return err
	}
	defer syncLogs()

	src, err := source.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		return err
	}
	defer src.Close()
	if initSchema {
		if err := src.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	var local db.Store
	if needsLocalStore(cfg) {
		local, err = openLocalStore(cfg.Cache.SQLitePath)
		if err != nil {
			return err
		}
		defer local.Close()
	}

	c, err := buildCaches(ctx, cfg, local, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	aggOpts := analytics.Options{
		Source:    src,
		Cache:     c.reports,
		ReportTTL: cfg.Cache.ReportTTL,
		Workers:   cfg.Analytics.Workers,
		Logger:    logger,
	}
	if cfg.Analytics.RecordAnomalies {
		aggOpts.Anomalies = local
	}
	agg := analytics.NewAggregator(aggOpts)

	hub := events.NewHub(events.DefaultBuffer, logger)
	defer hub.Close()

	readyChecks := map[string]server.ReadyCheck{"source": src.Ping}
	if local != nil {
		readyChecks["local_store"] = local.Ping
	}
	srvOpts := server.Options{
		Aggregator:        agg,
		AdhocCache:        c.adhoc,
		AdhocTTL:          cfg.Cache.AdhocTTL,
		Events:            hub,
		ReadyChecks:       readyChecks,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		Logger:            logger,
	}
	if local != nil {
		srvOpts.Anomalies = local
	}
	httpServer := server.New(srvOpts)

	// Everything that can fail on startup is created before the first
	// goroutine runs, so an early return leaves nothing unwaited.
	var (
		health  *server.HealthServer
		grpcLis net.Listener
	)
	if cfg.Server.GRPCPort > 0 {
		grpcLis, err = net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			return fmt.Errorf("failed to listen on grpc port %d: %w", cfg.Server.GRPCPort, err)
		}
		health = server.NewHealthServer(logger)
	}

	var kafkaSrc *events.KafkaSource
	if cfg.Events.Enabled {
		kafkaSrc, err = events.NewKafkaSource(events.KafkaConfig{
			Brokers: cfg.Events.Brokers,
			Topic:   cfg.Events.Topic,
			GroupID: cfg.Events.GroupID,
		}, hub, logger)
		if err != nil {
			if grpcLis != nil {
				_ = grpcLis.Close()
			}
			return err
		}
		defer kafkaSrc.Close()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return httpServer.Run(gctx, fmt.Sprintf(":%d", cfg.Server.Port), cfg.Server.ShutdownTimeout)
	})

	if health != nil {
		g.Go(func() error { return health.Serve(gctx, grpcLis) })
	}

	g.Go(func() error {
		return events.NewInvalidator(hub, agg, logger).Run(gctx)
	})

	if kafkaSrc != nil {
		if health != nil {
			health.SetServing(server.HealthServiceEvents, true)
		}
		g.Go(func() error {
			err := kafkaSrc.Run(gctx)
			if err != nil && health != nil {
				health.SetServing(server.HealthServiceEvents, false)
			}
			return err
		})
	}

	if c.sql != nil {
		g.Go(func() error {
			ticker := time.NewTicker(cachePurgeInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					n, err := c.sql.Purge(gctx)
					if err != nil {
						logger.Warn("cache purge failed", zap.Error(err))
						continue
					}
					if n > 0 {
						logger.Debug("purged expired cache entries", zap.Int64("count", n))
					}
				}
			}
		})
	}

	g.Go(func() error {
		watchConfig(gctx, mgr, cfg, logger)
		return nil
	})

	logger.Info("cop-analytics started",
		zap.Int("port", cfg.Server.Port),
		zap.Int("grpc_port", cfg.Server.GRPCPort),
		zap.String("database", cfg.Database.Driver),
		zap.String("cache", cfg.Cache.Backend),
		zap.Bool("events", cfg.Events.Enabled))

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

// watchConfig logs configuration file edits. Running components keep the
// settings they were started with.
func watchConfig(ctx context.Context, mgr config.ConfigManager, current *config.Config, logger *zap.Logger) {
	updates := mgr.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case next := <-updates:
			if errs := next.Validate(); len(errs) > 0 {
				logger.Warn("changed configuration is invalid", zap.Errors("errors", errs))
				continue
			}
			logger.Info("configuration file changed; restart to apply",
				zap.String("logging.level", next.Logging.Level),
				zap.String("cache.backend", next.Cache.Backend),
				zap.Bool("restart_required", next.Cache.Backend != current.Cache.Backend ||
					next.Database.DSN != current.Database.DSN ||
					next.Server.Port != current.Server.Port))
		}
	}
}
