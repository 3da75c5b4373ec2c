package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/nvops/ticket-triage/internal/domain"
)

func TestMissingRun_ResolvesFoundParcels(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	source := &fakeSource{rows: rawRows(t,
		map[string]any{
			// latest scan is a warehouse scan: found
			"ticket_id":           1,
			"tracking_id":         "A",
			"warehouse_last_scan": "2026-08-01 08:00:00",
			"shipper_last_scan":   "2026-07-31 18:00:00",
		},
		map[string]any{
			// parcel left with a shipper again: stays open
			"ticket_id":           2,
			"tracking_id":         "B",
			"inbound_last_scan":   "2026-07-31 08:00:00",
			"shipper_last_scan":   "2026-08-01 09:00:00",
		},
		map[string]any{
			// no internal scan at all: stays open
			"ticket_id":         3,
			"tracking_id":       "C",
			"shipper_last_scan": "2026-08-01 09:00:00",
		},
	)}
	ticketing := &fakeTicketing{}

	p := newTestPipeline(t, db, Deps{Source: source, Ticketing: ticketing})
	p.now = func() time.Time { return now }

	if err := p.Run(context.Background(), domain.CategoryMissing); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var tk1, tk2, tk3 domain.TicketMissing
	db.First(&tk1, "ticket_id = ?", 1)
	db.First(&tk2, "ticket_id = ?", 2)
	db.First(&tk3, "ticket_id = ?", 3)

	if !tk1.NeedResolve || tk1.ResolvedAt == nil {
		t.Fatalf("found parcel not resolved: %+v", tk1)
	}
	if tk2.NeedResolve || tk2.ResolvedAt != nil {
		t.Fatalf("shipper-held parcel must stay open: %+v", tk2)
	}
	if tk3.NeedResolve || tk3.ResolvedAt != nil {
		t.Fatalf("unscanned parcel must stay open: %+v", tk3)
	}

	if len(ticketing.resolved) != 1 || len(ticketing.resolved[0]) != 1 {
		t.Fatalf("unexpected resolve batches: %+v", ticketing.resolved)
	}
	if got := ticketing.resolved[0][0].Outcome; got != domain.OutcomeFoundInbound {
		t.Fatalf("unexpected outcome %q", got)
	}
}

func TestSelfCollectionRun_ScrapsBothVariants(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	source := &fakeSource{rows: rawRows(t,
		map[string]any{"ticket_id": 1, "tracking_id": "A", "collection_type": domain.SelfCollectTTDestroyed},
		map[string]any{"ticket_id": 2, "tracking_id": "B", "collection_type": domain.SelfCollectSPDestroyed},
	)}
	ticketing := &fakeTicketing{}

	p := newTestPipeline(t, db, Deps{Source: source, Ticketing: ticketing})
	p.now = func() time.Time { return now }

	if err := p.Run(context.Background(), domain.CategorySelfCollect); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var resolved int64
	db.Model(&domain.TicketSelfCollection{}).Where("resolved_at IS NOT NULL").Count(&resolved)
	if resolved != 2 {
		t.Fatalf("expected both variants resolved, got %d", resolved)
	}
	if len(ticketing.resolved) != 1 || len(ticketing.resolved[0]) != 2 {
		t.Fatalf("unexpected resolve batches: %+v", ticketing.resolved)
	}
	for _, item := range ticketing.resolved[0] {
		if item.Outcome != domain.OutcomeScrapped {
			t.Fatalf("unexpected outcome %q", item.Outcome)
		}
	}
}

func TestRunAll_ContinuesPastCategoryFailure(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Source fails every pull: each category's ingest errors, but every
	// category still gets its own run record.
	source := &fakeSource{err: context.DeadlineExceeded}
	p := newTestPipeline(t, db, Deps{Source: source})
	p.now = func() time.Time { return now }

	if err := p.RunAll(context.Background()); err == nil {
		t.Fatal("expected joined error")
	}

	var runs int64
	db.Model(&domain.PipelineRun{}).Count(&runs)
	if runs != int64(len(domain.Categories)) {
		t.Fatalf("expected %d run records, got %d", len(domain.Categories), runs)
	}
}
