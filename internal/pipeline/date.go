package pipeline

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/nvops/ticket-triage/internal/domain"
	"github.com/nvops/ticket-triage/internal/observability"
	"github.com/nvops/ticket-triage/internal/repo"
	"github.com/nvops/ticket-triage/internal/rules"
	"github.com/nvops/ticket-triage/internal/upstream"
	"github.com/nvops/ticket-triage/internal/utils"
)

const (
	detectedDateLayout  = "2006-01-02"
	dateChangeWorksheet = "Date Change"
)

func (p *Pipeline) runDate(ctx context.Context, run *domain.PipelineRun, log zerolog.Logger) error {
	cat := domain.CategoryDate
	if err := p.stage(cat, "ingest", log, func() error { return p.ingestDate(ctx, run, log) }); err != nil {
		return err
	}
	if err := p.stage(cat, "enrich", log, func() error { return p.enrichDate(ctx, run, log) }); err != nil {
		return err
	}
	if err := p.stage(cat, "extract", log, func() error { return p.extractDate(ctx, run, log) }); err != nil {
		return err
	}
	if err := p.stage(cat, "evaluate", log, func() error { return p.evaluateDate(run) }); err != nil {
		return err
	}
	if err := p.stage(cat, "resolve", log, func() error { return p.resolveDate(ctx, run, log) }); err != nil {
		return err
	}
	return p.stage(cat, "export", log, func() error { return p.exportDate(ctx, run) })
}

func (p *Pipeline) ingestDate(ctx context.Context, run *domain.PipelineRun, log zerolog.Logger) error {
	raws, err := p.deps.Source.FetchRows(ctx, p.cfg.Upstream.QueryDate)
	if err != nil {
		return err
	}
	rows := decodeRows(raws, func(r dateRow) int64 { return r.TicketID }, log)

	tickets := make([]domain.TicketDateChange, 0, len(rows))
	for _, r := range rows {
		tickets = append(tickets, domain.TicketDateChange{
			TicketCore:        r.core(),
			TicketCreatedAt:   r.CreatedAt.ptr(),
			Comments:          r.Comments,
			Notes:             r.Notes,
			ExceptionReason:   r.ExceptionReason,
			FirstDeliveryDate: r.FirstDeliveryDate.ptr(),
		})
	}
	for _, chunk := range utils.Chunk(tickets, p.cfg.IngestChunk) {
		created, err := repo.UpsertDateTickets(p.db, chunk)
		if err != nil {
			return err
		}
		run.Ingested += int(created)
	}
	observability.StageTickets(domain.CategoryDate, "ingest", true, run.Ingested)
	return nil
}

func (p *Pipeline) enrichDate(ctx context.Context, run *domain.PipelineRun, log zerolog.Logger) error {
	tickets, err := repo.ListUndecidedDate(p.db)
	if err != nil {
		return err
	}
	if len(tickets) == 0 {
		return nil
	}

	trackingIDs := make([]string, 0, len(tickets))
	for _, t := range tickets {
		trackingIDs = append(trackingIDs, t.TrackingID)
	}
	orders, searchErr := p.deps.Orders.Search(ctx, trackingIDs)
	if searchErr != nil {
		log.Warn().Err(searchErr).Msg("order search incomplete, unmatched tickets deferred")
	}

	updates := make([]domain.TicketDateChange, 0, len(tickets))
	for _, t := range tickets {
		info, ok := orders[t.TrackingID]
		if !ok {
			continue
		}
		updates = append(updates, domain.TicketDateChange{
			TicketCore:  domain.TicketCore{TicketID: t.TicketID},
			OrderID:     &info.OrderID,
			RTSFlag:     info.IsRTS,
			OrderStatus: info.GranularStatus,
		})
	}
	updated, err := repo.UpdateDateSnapshots(p.db, updates)
	if err != nil {
		return err
	}
	run.Enriched += int(updated)
	observability.StageTickets(domain.CategoryDate, "enrich", true, int(updated))
	return nil
}

// extractDate asks the AI service for the requested dates. Every answered
// ticket is marked seen even when no date was recognizable, so hopeless
// texts are not re-sent forever.
func (p *Pipeline) extractDate(ctx context.Context, run *domain.PipelineRun, log zerolog.Logger) error {
	tickets, err := repo.ListDateForDetection(p.db)
	if err != nil {
		return err
	}
	for _, batch := range utils.Chunk(tickets, p.cfg.DateBatch) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		items := make([]upstream.ExtractItem, 0, len(batch))
		known := make(map[int64]bool, len(batch))
		for _, t := range batch {
			items = append(items, upstream.ExtractItem{ID: t.TicketID, Text: t.FreeText()})
			known[t.TicketID] = true
		}

		answers, err := p.deps.Extract.ExtractDates(ctx, items)
		if err != nil {
			log.Warn().Err(err).Int("batch", len(batch)).Msg("date extraction batch skipped")
			run.Failed += len(batch)
			observability.StageTickets(domain.CategoryDate, "extract", false, len(batch))
			continue
		}

		for _, a := range answers {
			if !known[a.ID] {
				log.Warn().Int64("ticket_id", a.ID).Msg("extraction answered for unknown ticket, dropped")
				continue
			}
			var detected *time.Time
			if a.Date != nil {
				if parsed, perr := time.Parse(detectedDateLayout, *a.Date); perr == nil {
					detected = &parsed
				} else {
					log.Warn().Int64("ticket_id", a.ID).Str("date", *a.Date).Msg("unparseable detected date, recorded as none")
				}
			}
			if err := repo.SetDateDetection(p.db, a.ID, detected); err != nil {
				return err
			}
			run.Extracted++
		}
		observability.StageTickets(domain.CategoryDate, "extract", true, len(answers))
	}
	return nil
}

func (p *Pipeline) evaluateDate(run *domain.PipelineRun) error {
	tickets, err := repo.ListUndecidedDate(p.db)
	if err != nil {
		return err
	}
	now := p.now()

	groups := make(map[rules.Decision][]int64)
	for _, t := range tickets {
		d := p.dateRules.Evaluate(t, now)
		if !d.Decided() {
			continue
		}
		groups[d] = append(groups[d], t.TicketID)
	}
	for d, ids := range groups {
		decided, err := repo.SetDateDecision(p.db, ids, d.Action, d.Reason)
		if err != nil {
			return err
		}
		run.Decided += len(decided)
	}
	observability.StageTickets(domain.CategoryDate, "evaluate", true, run.Decided)
	return nil
}

// resolveDate commits date decisions: approvals resolve the ticket with the
// new delivery date as instruction, rejections cancel it. Both paths share
// the per-item outcome semantics.
func (p *Pipeline) resolveDate(ctx context.Context, run *domain.PipelineRun, log zerolog.Logger) error {
	tickets, err := repo.ListDecidedUnresolvedDate(p.db)
	if err != nil {
		return err
	}
	if len(tickets) == 0 {
		return nil
	}

	var approvals, rejections []upstream.TicketResolution
	for _, t := range tickets {
		item := upstream.TicketResolution{
			TicketID:       t.TicketID,
			TrackingID:     t.TrackingID,
			ResolverReason: deref(t.ActionReason),
		}
		if t.Action != nil && *t.Action == domain.ActionApprove {
			item.Outcome = domain.OutcomeResumeDelivery
			if t.DetectedDate != nil {
				item.NewInstruction = t.DetectedDate.Format(detectedDateLayout)
			}
			approvals = append(approvals, item)
		} else {
			rejections = append(rejections, item)
		}
	}

	commit := func(items []upstream.TicketResolution, call func(context.Context, []upstream.TicketResolution) (map[int64]bool, error)) error {
		for _, chunk := range utils.Chunk(items, p.cfg.ResolveChunk) {
			outcomes, err := call(ctx, chunk)
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
			n, err := repo.MarkDateResolved(p.db, succeeded, p.now())
			if err != nil {
				return err
			}
			run.Resolved += int(n)
			observability.StageTickets(domain.CategoryDate, "resolve", true, int(n))
			observability.StageTickets(domain.CategoryDate, "resolve", false, len(chunk)-len(succeeded))
		}
		return nil
	}

	if err := commit(approvals, p.deps.Ticketing.Resolve); err != nil {
		return err
	}
	return commit(rejections, p.deps.Ticketing.Cancel)
}

// exportDate publishes decided date tickets to the reporting sheet. The
// export flag is set only after the sink confirms the append.
func (p *Pipeline) exportDate(ctx context.Context, run *domain.PipelineRun) error {
	tickets, err := repo.ListDateForExport(p.db)
	if err != nil {
		return err
	}
	if len(tickets) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(tickets))
	ids := make([]int64, 0, len(tickets))
	for _, t := range tickets {
		detected := ""
		if t.DetectedDate != nil {
			detected = t.DetectedDate.Format(detectedDateLayout)
		}
		rows = append(rows, []string{
			strconv.FormatInt(t.TicketID, 10),
			t.TrackingID,
			deref(t.Action),
			deref(t.ActionReason),
			detected,
			t.FreeText(),
		})
		ids = append(ids, t.TicketID)
	}
	if err := p.deps.Sheets.Append(ctx, dateChangeWorksheet, rows); err != nil {
		return err
	}
	if err := repo.MarkDateExported(p.db, ids); err != nil {
		return err
	}
	run.Exported += len(ids)
	observability.StageTickets(domain.CategoryDate, "export", true, len(ids))
	return nil
}
