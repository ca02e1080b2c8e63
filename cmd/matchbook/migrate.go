package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/matchbook-labs/matchbook/internal/config"
	"github.com/matchbook-labs/matchbook/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

This command ensures your local database has all the required
tables and indexes for the application to function properly.`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "Show current migration status without applying changes")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	status, _ := cmd.Flags().GetBool("status")
	ctx := cmd.Context()

	dbPath := config.DatabasePath()
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	if status {
		version, err := store.SchemaVersion(ctx)
		if err != nil {
			return err
		}
		slog.Info("Database migration status",
			"database", dbPath,
			"current", version,
			"latest", storage.ExpectedSchemaVersion)
		return nil
	}

	slog.Info("Running database migrations...", "database", dbPath)

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("Database migrations completed successfully")
	return nil
}
