package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nvops/ticket-triage/internal/config"
	"github.com/nvops/ticket-triage/internal/repo"
	"github.com/nvops/ticket-triage/internal/upstream"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("pipeline_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		IngestChunk:      1000,
		OrderSearchChunk: 1000,
		ResolveChunk:     1000,
		AddressBatch:     20,
		DateBatch:        50,
		ExtractRPM:       6000,
		LockTTL:          30 * time.Minute,
		Rules: config.RulesConfig{
			StaleAfter:        4 * time.Hour,
			MaxStorageDays:    5,
			MaxRescheduleDays: 5,
			ExemptShipperID:   7314925,
			ManualMarker:      "https://alo.njv.vn",
			MetroProvinces:    []string{"Hồ Chí Minh", "Đà Nẵng", "Hà Nội", "HCM", "ĐN", "HN"},
		},
	}
}

// ---- fakes ----

type fakeSource struct {
	rows []json.RawMessage
	err  error
}

func (f *fakeSource) FetchRows(context.Context, int64) ([]json.RawMessage, error) {
	return f.rows, f.err
}

type fakeOrders struct {
	orders    map[string]upstream.OrderInfo
	searchErr error
	changed   []upstream.AddressUpdate
	changeErr error
}

func (f *fakeOrders) Search(_ context.Context, ids []string) (map[string]upstream.OrderInfo, error) {
	out := make(map[string]upstream.OrderInfo)
	for _, id := range ids {
		if info, ok := f.orders[id]; ok {
			out[id] = info
		}
	}
	return out, f.searchErr
}

func (f *fakeOrders) ChangeAddress(_ context.Context, upd upstream.AddressUpdate) error {
	if f.changeErr != nil {
		return f.changeErr
	}
	f.changed = append(f.changed, upd)
	return nil
}

type fakeTicketing struct {
	// ticket ids the service refuses; everything else succeeds
	refuse   map[int64]bool
	err      error
	resolved [][]upstream.TicketResolution
	canceled [][]upstream.TicketResolution
}

func (f *fakeTicketing) outcome(items []upstream.TicketResolution) map[int64]bool {
	out := make(map[int64]bool, len(items))
	for _, it := range items {
		out[it.TicketID] = !f.refuse[it.TicketID]
	}
	return out
}

func (f *fakeTicketing) Resolve(_ context.Context, items []upstream.TicketResolution) (map[int64]bool, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.resolved = append(f.resolved, items)
	return f.outcome(items), nil
}

func (f *fakeTicketing) Cancel(_ context.Context, items []upstream.TicketResolution) (map[int64]bool, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.canceled = append(f.canceled, items)
	return f.outcome(items), nil
}

type fakeExtract struct {
	addr    []upstream.AddressExtraction
	addrErr error
	dates   []upstream.DateExtraction
	dateErr error
	calls   int
}

func (f *fakeExtract) ExtractAddresses(_ context.Context, batch []upstream.ExtractItem) ([]upstream.AddressExtraction, error) {
	f.calls++
	if f.addrErr != nil {
		return nil, f.addrErr
	}
	return f.addr, nil
}

func (f *fakeExtract) ExtractDates(_ context.Context, batch []upstream.ExtractItem) ([]upstream.DateExtraction, error) {
	f.calls++
	if f.dateErr != nil {
		return nil, f.dateErr
	}
	return f.dates, nil
}

type fakeSheets struct {
	appends [][][]string
	err     error
}

func (f *fakeSheets) Append(_ context.Context, _ string, rows [][]string) error {
	if f.err != nil {
		return f.err
	}
	f.appends = append(f.appends, rows)
	return nil
}

func newTestPipeline(t *testing.T, db *gorm.DB, deps Deps) *Pipeline {
	t.Helper()
	if deps.Source == nil {
		deps.Source = &fakeSource{}
	}
	if deps.Orders == nil {
		deps.Orders = &fakeOrders{}
	}
	if deps.Ticketing == nil {
		deps.Ticketing = &fakeTicketing{}
	}
	if deps.Extract == nil {
		deps.Extract = &fakeExtract{}
	}
	if deps.Sheets == nil {
		deps.Sheets = &fakeSheets{}
	}
	return New(db, testConfig(), deps, zerolog.Nop())
}

func rawRows(t *testing.T, rows ...map[string]any) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(rows))
	for _, r := range rows {
		b, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("marshal row: %v", err)
		}
		out = append(out, b)
	}
	return out
}
