package pipeline

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nvops/ticket-triage/internal/domain"
)

// sourceTime decodes the timestamp formats the warehouse emits. A null or
// unparseable value decodes to the zero time; ingestion treats that as
// absent rather than failing the row.
type sourceTime struct {
	t time.Time
}

var sourceTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (s *sourceTime) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil // numeric or null, treated as absent
	}
	raw = strings.TrimSpace(raw)
	for _, layout := range sourceTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			s.t = t
			return nil
		}
	}
	return nil
}

func (s sourceTime) ptr() *time.Time {
	if s.t.IsZero() {
		return nil
	}
	t := s.t
	return &t
}

// core fields every category's query exposes
type coreRow struct {
	TicketID           int64      `json:"ticket_id"`
	TrackingID         string     `json:"tracking_id"`
	TicketStatus       *int       `json:"ticket_status"`
	TicketType         *int       `json:"ticket_type"`
	TicketSubType      *int       `json:"ticket_sub_type"`
	HubID              *int64     `json:"hub_id"`
	InvestigatingHubID *int64     `json:"investigating_hub_id"`
	CreatedAt          sourceTime `json:"created_at"`
}

func (r coreRow) core() domain.TicketCore {
	return domain.TicketCore{
		TicketID:           r.TicketID,
		TrackingID:         r.TrackingID,
		TicketStatus:       r.TicketStatus,
		TicketType:         r.TicketType,
		TicketSubType:      r.TicketSubType,
		HubID:              r.HubID,
		InvestigatingHubID: r.InvestigatingHubID,
	}
}

type addressRow struct {
	coreRow
	Comments         *string    `json:"comments"`
	Notes            *string    `json:"ticket_notes"`
	ExceptionReason  *string    `json:"exception_reason"`
	Province         *string    `json:"province"`
	TimesChange      int        `json:"times_change"`
	ShipperID        *int64     `json:"shipper_id"`
	FirstAttemptDate sourceTime `json:"first_attempt_date"`
}

type dateRow struct {
	coreRow
	Comments          *string    `json:"comments"`
	Notes             *string    `json:"ticket_notes"`
	ExceptionReason   *string    `json:"exception_reason"`
	FirstDeliveryDate sourceTime `json:"first_delivery_date"`
}

type missingRow struct {
	coreRow
	WarehouseLastScan sourceTime `json:"warehouse_last_scan"`
	InboundLastScan   sourceTime `json:"inbound_last_scan"`
	ShipperLastScan   sourceTime `json:"shipper_last_scan"`
}

type selfCollectionRow struct {
	coreRow
	Type *string `json:"collection_type"`
}

// decodeRows decodes each raw row into T, skipping rows that fail to decode
// or carry no ticket id. One bad row never aborts the batch.
func decodeRows[T any](raws []json.RawMessage, id func(T) int64, log zerolog.Logger) []T {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var row T
		if err := json.Unmarshal(raw, &row); err != nil {
			log.Warn().Err(err).Msg("malformed source row skipped")
			continue
		}
		if id(row) == 0 {
			log.Warn().RawJSON("row", raw).Msg("source row without ticket id skipped")
			continue
		}
		out = append(out, row)
	}
	return out
}
