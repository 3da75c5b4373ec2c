package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/nvops/ticket-triage/internal/config"
	"github.com/nvops/ticket-triage/internal/domain"
	"github.com/nvops/ticket-triage/internal/observability"
	"github.com/nvops/ticket-triage/internal/pipeline"
	"github.com/nvops/ticket-triage/internal/repo"
	"github.com/nvops/ticket-triage/internal/upstream"
)

var runCmd = &cobra.Command{
	Use:       "run <category>",
	Short:     "Run one triage pass for a category, or \"all\" for every category",
	Args:      cobra.ExactArgs(1),
	ValidArgs: append([]string{"all"}, domain.Categories...),
	RunE:      runPipeline,
}

func runPipeline(cmd *cobra.Command, args []string) error {
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

	p := newPipeline(db, cfg, log)
	if args[0] == "all" {
		return p.RunAll(ctx)
	}
	return p.Run(ctx, args[0])
}

// newPipeline wires the HTTP collaborators from configuration.
func newPipeline(db *gorm.DB, cfg config.Config, log zerolog.Logger) *pipeline.Pipeline {
	httpc := upstream.NewClient(cfg.Retry, log)
	tokens := upstream.NewTokenManager(httpc, cfg.Upstream.TokenURL, cfg.Upstream.Token, log)

	deps := pipeline.Deps{
		Source:    upstream.NewSourceClient(httpc, cfg.Upstream.SourceBaseURL, cfg.Upstream.SourceAPIKey, log),
		Orders:    upstream.NewOrderClient(httpc, cfg.Upstream.CoreBaseURL, tokens, cfg.OrderSearchChunk, log),
		Ticketing: upstream.NewTicketingClient(httpc, cfg.Upstream.CoreBaseURL, tokens, cfg.ResolveChunk, log),
		Extract:   upstream.NewExtractClient(httpc, cfg.Upstream.ExtractBaseURL, cfg.Upstream.ExtractAPIKey, cfg.ExtractRPM, log),
		Sheets:    upstream.NewSheetClient(httpc, cfg.Upstream.SheetBaseURL, cfg.Upstream.SpreadsheetID, log),
	}
	return pipeline.New(db, cfg, deps, log)
}
