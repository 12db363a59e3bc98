package main

import (
	"fmt"

	"github.com/goodtune/screentime/internal/config"
	"github.com/goodtune/screentime/internal/storage/postgres"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply PostgreSQL schema migrations",
	Long:  `Apply pending migrations to the database in storage.postgres.dsn.`,
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Storage.Type != "postgres" {
		return fmt.Errorf("migrations apply to postgres storage only (storage.type is %q)", cfg.Storage.Type)
	}

	if err := postgres.Migrate(cfg.Storage.Postgres.DSN); err != nil {
		return err
	}

	fmt.Println("✅ Migrations applied")
	return nil
}
