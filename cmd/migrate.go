package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvops/ticket-triage/internal/repo"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the local store schema",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info().Str("db", cfg.DBPath).Msg("store schema up to date")
	return nil
}
