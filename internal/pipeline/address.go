package pipeline

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/nvops/ticket-triage/internal/domain"
	"github.com/nvops/ticket-triage/internal/observability"
	"github.com/nvops/ticket-triage/internal/repo"
	"github.com/nvops/ticket-triage/internal/rules"
	"github.com/nvops/ticket-triage/internal/upstream"
	"github.com/nvops/ticket-triage/internal/utils"
)

const manualCheckWorksheet = "Manual Check"

func (p *Pipeline) runAddress(ctx context.Context, run *domain.PipelineRun, log zerolog.Logger) error {
	cat := domain.CategoryAddress
	if err := p.stage(cat, "ingest", log, func() error { return p.ingestAddress(ctx, run, log) }); err != nil {
		return err
	}
	if err := p.stage(cat, "enrich", log, func() error { return p.enrichAddress(ctx, run, log) }); err != nil {
		return err
	}
	if err := p.stage(cat, "extract", log, func() error { return p.extractAddress(ctx, run, log) }); err != nil {
		return err
	}
	if err := p.stage(cat, "evaluate", log, func() error { return p.evaluateAddress(run) }); err != nil {
		return err
	}
	if err := p.stage(cat, "resolve", log, func() error { return p.resolveAddress(ctx, run, log) }); err != nil {
		return err
	}
	return p.stage(cat, "export", log, func() error { return p.exportAddress(ctx, run) })
}

func (p *Pipeline) ingestAddress(ctx context.Context, run *domain.PipelineRun, log zerolog.Logger) error {
	raws, err := p.deps.Source.FetchRows(ctx, p.cfg.Upstream.QueryAddress)
	if err != nil {
		return err
	}
	rows := decodeRows(raws, func(r addressRow) int64 { return r.TicketID }, log)

	tickets := make([]domain.TicketAddressChange, 0, len(rows))
	for _, r := range rows {
		tickets = append(tickets, domain.TicketAddressChange{
			TicketCore:       r.core(),
			TicketCreatedAt:  r.CreatedAt.ptr(),
			Comments:         r.Comments,
			Notes:            r.Notes,
			ExceptionReason:  r.ExceptionReason,
			Province:         r.Province,
			TimesChange:      r.TimesChange,
			ShipperID:        r.ShipperID,
			FirstAttemptDate: r.FirstAttemptDate.ptr(),
		})
	}
	for _, chunk := range utils.Chunk(tickets, p.cfg.IngestChunk) {
		created, err := repo.UpsertAddressTickets(p.db, chunk)
		if err != nil {
			return err
		}
		run.Ingested += int(created)
	}
	observability.StageTickets(domain.CategoryAddress, "ingest", true, run.Ingested)
	return nil
}

// enrichAddress refreshes order snapshots for every undecided ticket. A
// failed search chunk defers its tickets to the next run; snapshots already
// fetched are still applied.
func (p *Pipeline) enrichAddress(ctx context.Context, run *domain.PipelineRun, log zerolog.Logger) error {
	tickets, err := repo.ListUndecidedAddress(p.db)
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

	updates := make([]domain.TicketAddressChange, 0, len(tickets))
	for _, t := range tickets {
		info, ok := orders[t.TrackingID]
		if !ok {
			continue
		}
		updates = append(updates, domain.TicketAddressChange{
			TicketCore:  domain.TicketCore{TicketID: t.TicketID},
			OrderID:     &info.OrderID,
			OldAddress:  info.Address,
			OldProvince: info.Province,
			OldDistrict: info.District,
			OldWard:     info.Ward,
			ZoneName:    info.ZoneName,
			RTSFlag:     info.IsRTS,
			OrderStatus: info.GranularStatus,
		})
	}
	updated, err := repo.UpdateAddressSnapshots(p.db, updates)
	if err != nil {
		return err
	}
	run.Enriched += int(updated)
	observability.StageTickets(domain.CategoryAddress, "enrich", true, int(updated))
	return nil
}

// extractAddress sends pending free text to the AI service in bounded
// batches. A malformed or failed batch is skipped whole; its tickets stay
// pending for the next run.
func (p *Pipeline) extractAddress(ctx context.Context, run *domain.PipelineRun, log zerolog.Logger) error {
	tickets, err := repo.ListAddressForDetection(p.db)
	if err != nil {
		return err
	}
	for _, batch := range utils.Chunk(tickets, p.cfg.AddressBatch) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		items := make([]upstream.ExtractItem, 0, len(batch))
		known := make(map[int64]bool, len(batch))
		for _, t := range batch {
			items = append(items, upstream.ExtractItem{ID: t.TicketID, Text: t.FreeText()})
			known[t.TicketID] = true
		}

		answers, err := p.deps.Extract.ExtractAddresses(ctx, items)
		if err != nil {
			log.Warn().Err(err).Int("batch", len(batch)).Msg("address extraction batch skipped")
			run.Failed += len(batch)
			observability.StageTickets(domain.CategoryAddress, "extract", false, len(batch))
			continue
		}

		detections := make([]domain.AddressDetection, 0, len(answers))
		for _, a := range answers {
			if !known[a.ID] {
				log.Warn().Int64("ticket_id", a.ID).Msg("extraction answered for unknown ticket, dropped")
				continue
			}
			detections = append(detections, domain.AddressDetection{
				TicketID: a.ID,
				Input:    a.Input,
				Address:  a.Address,
				Province: a.Province,
				District: a.District,
				Ward:     a.Ward,
			})
		}
		created, err := repo.CreateAddressDetections(p.db, detections)
		if err != nil {
			return err
		}
		run.Extracted += int(created)
		observability.StageTickets(domain.CategoryAddress, "extract", true, int(created))
	}
	return nil
}

// evaluateAddress walks the rule chain over every undecided ticket and
// persists decisions grouped by (action, reason). Tickets the chain leaves
// pending are untouched.
func (p *Pipeline) evaluateAddress(run *domain.PipelineRun) error {
	tickets, err := repo.ListUndecidedAddress(p.db)
	if err != nil {
		return err
	}
	now := p.now()

	groups := make(map[rules.Decision][]int64)
	for _, t := range tickets {
		d := p.addrRules.Evaluate(t, now)
		if !d.Decided() {
			continue
		}
		key := rules.Decision{Action: d.Action, Reason: d.Reason}
		groups[key] = append(groups[key], t.TicketID)
	}
	for d, ids := range groups {
		decided, err := repo.SetAddressDecision(p.db, ids, d.Action, d.Reason)
		if err != nil {
			return err
		}
		run.Decided += len(decided)
	}
	observability.StageTickets(domain.CategoryAddress, "evaluate", true, run.Decided)
	return nil
}

// resolveAddress commits decisions to the ticketing service. Approved
// tickets get the detected address pushed to the order first; a ticket
// whose side effect fails is deferred, not resolved. Per-item failures from
// the mass update stay decided-but-unresolved for the next run.
func (p *Pipeline) resolveAddress(ctx context.Context, run *domain.PipelineRun, log zerolog.Logger) error {
	tickets, err := repo.ListDecidedUnresolvedAddress(p.db)
	if err != nil {
		return err
	}
	if len(tickets) == 0 {
		return nil
	}

	items := make([]upstream.TicketResolution, 0, len(tickets))
	for _, t := range tickets {
		if t.Action != nil && *t.Action == domain.ActionApprove {
			if !p.applyAddressChange(ctx, t, log) {
				run.Failed++
				continue
			}
		}
		items = append(items, upstream.TicketResolution{
			TicketID:       t.TicketID,
			TrackingID:     t.TrackingID,
			Outcome:        domain.OutcomeResumeDelivery,
			NewInstruction: detectionInstruction(t.Detection),
			ResolverReason: deref(t.ActionReason),
		})
	}

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
		n, err := repo.MarkAddressResolved(p.db, succeeded, p.now())
		if err != nil {
			return err
		}
		run.Resolved += int(n)
		observability.StageTickets(domain.CategoryAddress, "resolve", true, int(n))
		observability.StageTickets(domain.CategoryAddress, "resolve", false, len(chunk)-len(succeeded))
	}
	return nil
}

// applyAddressChange pushes the detected address to the order service.
// Reports whether the ticket may proceed to resolution.
func (p *Pipeline) applyAddressChange(ctx context.Context, t domain.TicketAddressChange, log zerolog.Logger) bool {
	if t.OrderID == nil || t.Detection == nil {
		log.Warn().Int64("ticket_id", t.TicketID).Msg("approved ticket without order or detection, deferred")
		return false
	}
	upd := upstream.AddressUpdate{
		OrderID:  *t.OrderID,
		Address:  deref(t.Detection.Address),
		Province: deref(t.Detection.Province),
		District: deref(t.Detection.District),
		Ward:     deref(t.Detection.Ward),
	}
	if err := p.deps.Orders.ChangeAddress(ctx, upd); err != nil {
		log.Warn().Err(err).Int64("ticket_id", t.TicketID).Msg("address change failed, ticket deferred")
		return false
	}
	return true
}

// exportAddress publishes manual-check tickets to the reporting sheet. The
// export flag is set only after the sink confirms the append.
func (p *Pipeline) exportAddress(ctx context.Context, run *domain.PipelineRun) error {
	tickets, err := repo.ListAddressForExport(p.db)
	if err != nil {
		return err
	}
	if len(tickets) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(tickets))
	ids := make([]int64, 0, len(tickets))
	for _, t := range tickets {
		var d domain.AddressDetection
		if t.Detection != nil {
			d = *t.Detection
		}
		rows = append(rows, []string{
			strconv.FormatInt(t.TicketID, 10),
			t.TrackingID,
			deref(t.Action),
			deref(t.ActionReason),
			deref(t.Province),
			deref(t.OldAddress),
			deref(d.Address),
			deref(d.Province),
			deref(d.District),
			deref(d.Ward),
			t.FreeText(),
		})
		ids = append(ids, t.TicketID)
	}
	if err := p.deps.Sheets.Append(ctx, manualCheckWorksheet, rows); err != nil {
		return err
	}
	if err := repo.MarkAddressExported(p.db, ids); err != nil {
		return err
	}
	run.Exported += len(ids)
	observability.StageTickets(domain.CategoryAddress, "export", true, len(ids))
	return nil
}

func detectionInstruction(d *domain.AddressDetection) string {
	if d == nil {
		return ""
	}
	return utils.JoinNonEmpty(", ", deref(d.Address), deref(d.Ward), deref(d.District), deref(d.Province))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
