package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/triage-service/internal/config"
	"github.com/spec-kit/triage-service/internal/observability"
	"github.com/spec-kit/triage-service/internal/persistence"
)

var migrateFlags struct {
	dir string
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending SQL migrations to POSTGRES_DSN",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&migrateFlags.dir, "dir", "", "Migrations directory; defaults to POSTGRES_MIGRATIONS_DIR")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	pg, err := openPostgres(cmd, cfg, logger)
	if err != nil {
		return err
	}
	defer pg.Close()

	dir := cfg.Postgres.MigrationsDir
	if migrateFlags.dir != "" {
		dir = migrateFlags.dir
	}
	if err := persistence.RunMigrations(cmd.Context(), pg.PoolHandle(), dir, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "migrations in %s applied\n", dir)
	return nil
}

func loadRuntime() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := observability.NewLogger(config.LoggerConfig{Level: cfg.Logger.Level, Format: "console"}, cfg.App)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func openPostgres(cmd *cobra.Command, cfg *config.Config, logger *zap.Logger) (*persistence.Postgres, error) {
	if cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	pg, err := persistence.NewPostgres(cmd.Context(), cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pg, nil
}
