// Command deepwell-migrate applies or inspects deepwell's embedded schema
// migrations against either backend. It is the one piece of ambient CLI
// tooling this core carries: everything else (business-operation argument
// parsing, RPC routing) is a transport-layer concern.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/baitcenter/deepwell/internal/config"
	"github.com/baitcenter/deepwell/internal/db/migrations"
	"github.com/baitcenter/deepwell/internal/logger"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "deepwell-migrate",
		Short: "Apply or inspect deepwell's schema migrations",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a deepwell config file (optional; env/defaults otherwise)")

	root.AddCommand(upCommand(&configPath), statusCommand(&configPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func upCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, log, err := openManager(*configPath)
			if err != nil {
				return err
			}
			log.Info("applying migrations")
			return mgr.Up(cmd.Context())
		},
	}
}

func statusCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the currently applied migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, log, err := openManager(*configPath)
			if err != nil {
				return err
			}
			version, err := mgr.Version(cmd.Context())
			if err != nil {
				return err
			}
			log.Info("current migration version", "version", version)
			return nil
		},
	}
}

// openManager wires a *migrations.Manager from config, tagging every log
// line with a fresh run id (uuid.New().String()) so concurrent invocations
// of this CLI can be told apart in aggregated logs.
func openManager(configPath string) (*migrations.Manager, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("deepwell-migrate: %w", err)
	}

	runID := uuid.New().String()
	base := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	log := base.With("run_id", runID, "driver", cfg.Database.Driver)

	driver := cfg.Database.Driver
	sqlDriverName := driver
	if driver == "postgres" {
		sqlDriverName = "pgx"
	}
	sqlDB, err := sql.Open(sqlDriverName, cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("deepwell-migrate: open %s: %w", driver, err)
	}
	if err := sqlDB.PingContext(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("deepwell-migrate: ping %s: %w", driver, err)
	}

	mgr, err := migrations.New(sqlDB, driver, log)
	if err != nil {
		return nil, nil, err
	}
	return mgr, log, nil
}
