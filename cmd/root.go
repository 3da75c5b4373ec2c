// Package cmd defines the triage CLI: pipeline runs, migrations, and the
// ops HTTP server, all driven by environment configuration.
package cmd

import (
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nvops/ticket-triage/internal/config"
	"github.com/nvops/ticket-triage/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "triage",
	Short:   "Shipment-exception ticket triage pipeline",
	Version: version,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(serveCmd)
}

// bootstrap loads .env, the typed configuration, and the process logger.
func bootstrap() (config.Config, zerolog.Logger, error) {
	_ = godotenv.Load(".env")
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	sysutil.SetLogLevel(cfg.LogLevel)
	log := sysutil.NewLogger(cfg.LogPretty)
	return cfg, log, nil
}
