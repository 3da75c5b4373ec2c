// Package pipeline drives a ticket category through its stages: ingest,
// enrich, extract, evaluate, resolve, export. Stages run strictly in that
// order inside a run; a stage failure aborts the remainder of the run but
// keeps everything already committed. Each category runs under a store
// lock, so overlapping schedules cannot double-process a category.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/nvops/ticket-triage/internal/config"
	"github.com/nvops/ticket-triage/internal/domain"
	"github.com/nvops/ticket-triage/internal/observability"
	"github.com/nvops/ticket-triage/internal/repo"
	"github.com/nvops/ticket-triage/internal/rules"
	"github.com/nvops/ticket-triage/internal/upstream"
)

// SourcePuller pulls raw ticket rows from the warehouse.
type SourcePuller interface {
	FetchRows(ctx context.Context, queryID int64) ([]json.RawMessage, error)
}

// OrderService exposes the order lookups and mutations the pipeline needs.
type OrderService interface {
	Search(ctx context.Context, trackingIDs []string) (map[string]upstream.OrderInfo, error)
	ChangeAddress(ctx context.Context, upd upstream.AddressUpdate) error
}

// TicketingService commits decisions, batch with per-item outcomes.
type TicketingService interface {
	Resolve(ctx context.Context, items []upstream.TicketResolution) (map[int64]bool, error)
	Cancel(ctx context.Context, items []upstream.TicketResolution) (map[int64]bool, error)
}

// Extractor turns free text into structured detections.
type Extractor interface {
	ExtractAddresses(ctx context.Context, batch []upstream.ExtractItem) ([]upstream.AddressExtraction, error)
	ExtractDates(ctx context.Context, batch []upstream.ExtractItem) ([]upstream.DateExtraction, error)
}

// SheetSink is the append-only reporting destination.
type SheetSink interface {
	Append(ctx context.Context, worksheet string, rows [][]string) error
}

// Deps bundles the external collaborators injected into a Pipeline.
type Deps struct {
	Source    SourcePuller
	Orders    OrderService
	Ticketing TicketingService
	Extract   Extractor
	Sheets    SheetSink
}

// Pipeline owns the stage functions for every ticket category.
type Pipeline struct {
	db   *gorm.DB
	cfg  config.Config
	deps Deps

	addrRules *rules.AddressEvaluator
	dateRules *rules.DateEvaluator

	log zerolog.Logger
	now func() time.Time
}

// New builds a pipeline over the given store and collaborators.
func New(db *gorm.DB, cfg config.Config, deps Deps, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		db:        db,
		cfg:       cfg,
		deps:      deps,
		addrRules: rules.NewAddressEvaluator(cfg.Rules),
		dateRules: rules.NewDateEvaluator(cfg.Rules),
		log:       log.With().Str("component", "pipeline").Logger(),
		now:       time.Now,
	}
}

var tracer = otel.Tracer("github.com/nvops/ticket-triage/internal/pipeline")

// Run executes one full pass over a category. It returns repo.ErrLockHeld
// when another run of the same category is still in flight.
func (p *Pipeline) Run(ctx context.Context, category string) error {
	ctx, span := tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("triage.category", category)))
	defer span.End()

	owner := uuid.NewString()
	if err := repo.AcquireRunLock(p.db, category, owner, p.cfg.LockTTL, p.now()); err != nil {
		return err
	}
	defer func() {
		if err := repo.ReleaseRunLock(p.db, category, owner); err != nil {
			p.log.Error().Err(err).Str("category", category).Msg("release run lock")
		}
	}()

	run := &domain.PipelineRun{
		ID:        uuid.NewString(),
		Category:  category,
		StartedAt: p.now(),
	}
	if err := repo.CreateRun(p.db, run); err != nil {
		return err
	}
	log := p.log.With().Str("category", category).Str("run_id", run.ID).Logger()
	log.Info().Msg("run started")

	var err error
	switch category {
	case domain.CategoryAddress:
		err = p.runAddress(ctx, run, log)
	case domain.CategoryDate:
		err = p.runDate(ctx, run, log)
	case domain.CategoryMissing:
		err = p.runMissing(ctx, run, log)
	case domain.CategorySelfCollect:
		err = p.runSelfCollection(ctx, run, log)
	default:
		err = fmt.Errorf("pipeline: unknown category %q", category)
	}

	if err != nil {
		msg := err.Error()
		run.Err = &msg
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
	}
	finished := p.now()
	run.FinishedAt = &finished
	if ferr := repo.FinishRun(p.db, run); ferr != nil {
		log.Error().Err(ferr).Msg("persist run summary")
	}
	observability.RunFinished(category, err)

	ev := log.Info()
	if err != nil {
		ev = log.Error().Err(err)
	}
	ev.Int("ingested", run.Ingested).
		Int("enriched", run.Enriched).
		Int("extracted", run.Extracted).
		Int("decided", run.Decided).
		Int("resolved", run.Resolved).
		Int("exported", run.Exported).
		Int("failed", run.Failed).
		Dur("took", finished.Sub(run.StartedAt)).
		Msg("run finished")
	return err
}

// RunAll runs every category in sequence. A category failure does not stop
// the others; the joined error reports them all.
func (p *Pipeline) RunAll(ctx context.Context) error {
	var errs []error
	for _, category := range domain.Categories {
		if err := p.Run(ctx, category); err != nil && !errors.Is(err, repo.ErrLockHeld) {
			errs = append(errs, fmt.Errorf("%s: %w", category, err))
		}
	}
	return errors.Join(errs...)
}

// stage times one stage and records its duration metric.
func (p *Pipeline) stage(category, name string, log zerolog.Logger, fn func() error) error {
	start := time.Now()
	err := fn()
	observability.ObserveStage(category, name, time.Since(start))
	if err != nil {
		log.Error().Err(err).Str("stage", name).Msg("stage failed")
		return fmt.Errorf("%s: %w", name, err)
	}
	log.Debug().Str("stage", name).Msg("stage done")
	return nil
}
