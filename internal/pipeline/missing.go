package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/nvops/ticket-triage/internal/domain"
	"github.com/nvops/ticket-triage/internal/observability"
	"github.com/nvops/ticket-triage/internal/repo"
	"github.com/nvops/ticket-triage/internal/upstream"
	"github.com/nvops/ticket-triage/internal/utils"
)

// Missing-parcel tickets skip extraction and the rule chains: a parcel
// whose latest scan happened inside the network (warehouse or inbound, not
// out with a shipper) was found, and the ticket resolves as such.

func (p *Pipeline) runMissing(ctx context.Context, run *domain.PipelineRun, log zerolog.Logger) error {
	cat := domain.CategoryMissing
	if err := p.stage(cat, "ingest", log, func() error { return p.ingestMissing(ctx, run, log) }); err != nil {
		return err
	}
	if err := p.stage(cat, "evaluate", log, func() error { return p.evaluateMissing(run) }); err != nil {
		return err
	}
	return p.stage(cat, "resolve", log, func() error { return p.resolveMissing(ctx, run, log) })
}

func (p *Pipeline) ingestMissing(ctx context.Context, run *domain.PipelineRun, log zerolog.Logger) error {
	raws, err := p.deps.Source.FetchRows(ctx, p.cfg.Upstream.QueryMissing)
	if err != nil {
		return err
	}
	rows := decodeRows(raws, func(r missingRow) int64 { return r.TicketID }, log)

	tickets := make([]domain.TicketMissing, 0, len(rows))
	for _, r := range rows {
		tickets = append(tickets, domain.TicketMissing{
			TicketCore:        r.core(),
			WarehouseLastScan: r.WarehouseLastScan.ptr(),
			InboundLastScan:   r.InboundLastScan.ptr(),
			ShipperLastScan:   r.ShipperLastScan.ptr(),
		})
	}
	for _, chunk := range utils.Chunk(tickets, p.cfg.IngestChunk) {
		created, err := repo.UpsertMissingTickets(p.db, chunk)
		if err != nil {
			return err
		}
		run.Ingested += int(created)
	}
	observability.StageTickets(domain.CategoryMissing, "ingest", true, run.Ingested)
	return nil
}

func (p *Pipeline) evaluateMissing(run *domain.PipelineRun) error {
	tickets, err := repo.ListMissingUnflagged(p.db)
	if err != nil {
		return err
	}
	eligible := make([]int64, 0, len(tickets))
	for _, t := range tickets {
		if foundInNetwork(t) {
			eligible = append(eligible, t.TicketID)
		}
	}
	n, err := repo.FlagMissingNeedResolve(p.db, eligible)
	if err != nil {
		return err
	}
	run.Decided += int(n)
	observability.StageTickets(domain.CategoryMissing, "evaluate", true, int(n))
	return nil
}

// foundInNetwork reports whether the parcel's latest scan is a warehouse or
// inbound scan. A shipper scan at or after the newest internal scan means
// the parcel left the network again and the ticket stays open.
func foundInNetwork(t domain.TicketMissing) bool {
	internal := latest(t.WarehouseLastScan, t.InboundLastScan)
	if internal == nil {
		return false
	}
	if t.ShipperLastScan == nil {
		return true
	}
	return internal.After(*t.ShipperLastScan)
}

func latest(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil || a.After(*b) {
		return a
	}
	return b
}

func (p *Pipeline) resolveMissing(ctx context.Context, run *domain.PipelineRun, log zerolog.Logger) error {
	tickets, err := repo.ListMissingToResolve(p.db)
	if err != nil {
		return err
	}
	items := make([]upstream.TicketResolution, 0, len(tickets))
	for _, t := range tickets {
		items = append(items, upstream.TicketResolution{
			TicketID:   t.TicketID,
			TrackingID: t.TrackingID,
			Outcome:    domain.OutcomeFoundInbound,
		})
	}
	return p.commitResolutions(ctx, domain.CategoryMissing, items, repo.MarkMissingResolved, run, log)
}

// Self-collection destroyed-goods tickets have a fixed terminal outcome;
// the pipeline only ingests and resolves them.

func (p *Pipeline) runSelfCollection(ctx context.Context, run *domain.PipelineRun, log zerolog.Logger) error {
	cat := domain.CategorySelfCollect
	if err := p.stage(cat, "ingest", log, func() error { return p.ingestSelfCollection(ctx, run, log) }); err != nil {
		return err
	}
	return p.stage(cat, "resolve", log, func() error { return p.resolveSelfCollection(ctx, run, log) })
}

func (p *Pipeline) ingestSelfCollection(ctx context.Context, run *domain.PipelineRun, log zerolog.Logger) error {
	raws, err := p.deps.Source.FetchRows(ctx, p.cfg.Upstream.QuerySelfCollect)
	if err != nil {
		return err
	}
	rows := decodeRows(raws, func(r selfCollectionRow) int64 { return r.TicketID }, log)

	tickets := make([]domain.TicketSelfCollection, 0, len(rows))
	for _, r := range rows {
		tickets = append(tickets, domain.TicketSelfCollection{
			TicketCore: r.core(),
			Type:       r.Type,
		})
	}
	for _, chunk := range utils.Chunk(tickets, p.cfg.IngestChunk) {
		created, err := repo.UpsertSelfCollectionTickets(p.db, chunk)
		if err != nil {
			return err
		}
		run.Ingested += int(created)
	}
	observability.StageTickets(domain.CategorySelfCollect, "ingest", true, run.Ingested)
	return nil
}

func (p *Pipeline) resolveSelfCollection(ctx context.Context, run *domain.PipelineRun, log zerolog.Logger) error {
	var items []upstream.TicketResolution
	for _, variant := range []string{domain.SelfCollectTTDestroyed, domain.SelfCollectSPDestroyed} {
		tickets, err := repo.ListSelfCollectionUnresolved(p.db, variant)
		if err != nil {
			return err
		}
		for _, t := range tickets {
			items = append(items, upstream.TicketResolution{
				TicketID:   t.TicketID,
				TrackingID: t.TrackingID,
				Outcome:    domain.OutcomeScrapped,
			})
		}
	}
	return p.commitResolutions(ctx, domain.CategorySelfCollect, items, repo.MarkSelfCollectionResolved, run, log)
}

// commitResolutions is the shared resolver loop for the categories whose
// decision is implicit: chunked mass update, per-item outcomes, resolved
// stamp only on confirmed success.
func (p *Pipeline) commitResolutions(
	ctx context.Context,
	category string,
	items []upstream.TicketResolution,
	mark func(db *gorm.DB, ids []int64, at time.Time) (int64, error),
	run *domain.PipelineRun,
	log zerolog.Logger,
) error {
	for _, chunk := range utils.Chunk(items, p.cfg.ResolveChunk) {
		outcomes, err := p.deps.Ticketing.Resolve(ctx, chunk)
		if err != nil {
			return err
		}
		succeeded := make([]int64, 0, len(chunk))
		for _, item := range chunk {
			if outcomes[item.TicketID] {
				succeeded = append(succeeded, item.TicketID)
			} else {
				log.Warn().Int64("ticket_id", item.TicketID).Msg("ticketing rejected resolution, deferred")
				run.Failed++
			}
		}
		n, err := mark(p.db, succeeded, p.now())
		if err != nil {
			return err
		}
		run.Resolved += int(n)
		observability.StageTickets(category, "resolve", true, int(n))
		observability.StageTickets(category, "resolve", false, len(chunk)-len(succeeded))
	}
	return nil
}
