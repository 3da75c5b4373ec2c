package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/nvops/ticket-triage/internal/http"
	"github.com/nvops/ticket-triage/internal/observability"
	"github.com/nvops/ticket-triage/internal/repo"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the ops endpoints: /healthz, /metrics, /runs",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTEL.Enabled {
		shutdown, err := observability.InitTracing(ctx, cfg.OTEL, version)
		if err != nil {
			return fmt.Errorf("otel: %w", err)
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.OpsPort,
		Handler:           httpapi.NewRouter(db, cfg, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("ops server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
