package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kubilitics/cop-analytics/internal/db"
	"github.com/kubilitics/cop-analytics/internal/logging"
	"github.com/kubilitics/cop-analytics/internal/source"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the upstream reading tables and the local cache/anomaly store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.migrate(cmd.Context())
		},
	}
}

func (a *app) migrate(ctx context.Context) error {
	_, cfg, err := a.loadConfig(ctx)
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
	if err := src.EnsureSchema(ctx); err != nil {
		return err
	}

	local, err := openLocalStore(cfg.Cache.SQLitePath)
	if err != nil {
		return err
	}
	defer local.Close()

	logger.Info("schema up to date",
		zap.String("database", cfg.Database.Driver),
		zap.String("local_store", cfg.Cache.SQLitePath))
	fmt.Fprintln(a.stdout, "migrations applied")
	return nil
}

// openLocalStore opens the SQLite store that backs the sqlite cache and the
// anomaly history, creating its directory first.
func openLocalStore(path string) (db.Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create local store directory: %w", err)
			}
		}
	}
	store, err := db.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	return store, nil
}
