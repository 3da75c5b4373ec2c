// Package domain defines the persistence models for exception tickets, AI
// detections, pipeline runs, and the append-only change log. These types are
// mapped with GORM and form the core data layer of the triage pipeline.
package domain

import (
	"time"
)

// TicketCore carries the identity and classification fields shared by every
// ticket category. It is embedded (not a table of its own); the ticket id is
// assigned by the upstream ticketing system and is the natural primary key.
type TicketCore struct {
	TicketID           int64     `json:"ticket_id"  gorm:"primaryKey;autoIncrement:false"`
	TrackingID         string    `json:"tracking_id" gorm:"type:varchar(255);not null;index"`
	TicketStatus       *int      `json:"ticket_status,omitempty"`
	TicketType         *int      `json:"ticket_type,omitempty"`
	TicketSubType      *int      `json:"ticket_sub_type,omitempty"`
	HubID              *int64    `json:"hub_id,omitempty"`
	InvestigatingHubID *int64    `json:"investigating_hub_id,omitempty"`
	CreatedDate        time.Time `json:"created_date" gorm:"autoCreateTime"`
	UpdatedDate        time.Time `json:"updated_date" gorm:"autoUpdateTime"`
}

// TicketAddressChange is an exception ticket asking for a delivery address
// correction. It accumulates state as it moves through the pipeline stages.
//
// Field families (each owned by exactly one stage):
//   - Raw inputs (ingestion): Comments, Notes, ExceptionReason, Province,
//     TimesChange, ShipperID, FirstAttemptDate, TicketCreatedAt.
//   - Snapshot (enrichment, refreshed each run): OrderID, OldAddress,
//     OldProvince, OldDistrict, OldWard, ZoneName, RTSFlag, OrderStatus.
//   - Decision (rule evaluation, written at most once): Action, ActionReason.
//   - Resolution (resolver): ResolvedAt.
//   - Export (exporter): Exported.
type TicketAddressChange struct {
	TicketCore

	TicketCreatedAt  *time.Time `json:"ticket_created_at,omitempty"`
	Comments         *string    `json:"comments,omitempty"  gorm:"type:text"`
	Notes            *string    `json:"notes,omitempty"     gorm:"type:text"`
	ExceptionReason  *string    `json:"exception_reason,omitempty" gorm:"type:text"`
	Province         *string    `json:"province,omitempty"  gorm:"type:varchar(255)"`
	TimesChange      int        `json:"times_change"        gorm:"not null;default:0"`
	ShipperID        *int64     `json:"shipper_id,omitempty"`
	FirstAttemptDate *time.Time `json:"first_attempt_date,omitempty"`

	OrderID     *int64  `json:"order_id,omitempty"`
	OldAddress  *string `json:"old_address,omitempty"  gorm:"type:text"`
	OldProvince *string `json:"old_province,omitempty" gorm:"type:varchar(255)"`
	OldDistrict *string `json:"old_district,omitempty" gorm:"type:varchar(255)"`
	OldWard     *string `json:"old_ward,omitempty"     gorm:"type:varchar(255)"`
	ZoneName    *string `json:"zone_name,omitempty"    gorm:"type:varchar(255)"`
	RTSFlag     bool    `json:"rts_flag"               gorm:"not null;default:false"`
	OrderStatus *string `json:"order_status,omitempty" gorm:"type:varchar(255)"`

	Action       *string    `json:"action,omitempty"        gorm:"type:varchar(255);index"`
	ActionReason *string    `json:"action_reason,omitempty" gorm:"type:varchar(255)"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"   gorm:"index"`
	Exported     bool       `json:"exported"                gorm:"not null;default:false;index"`

	// Detection is the one-to-one AI extraction result. Nil until the
	// extractor has produced one; never replaced afterwards.
	Detection *AddressDetection `json:"detection,omitempty" gorm:"foreignKey:TicketID;references:TicketID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for TicketAddressChange.
func (TicketAddressChange) TableName() string { return "tickets_address_change" }

// FreeText concatenates the raw free-text fields in a stable order, skipping
// absent ones. Empty result means the ticket carries no usable reason.
func (t TicketAddressChange) FreeText() string {
	return joinPtr(" ", t.Notes, t.Comments, t.ExceptionReason)
}

// AddressDetection is the structured output of AI address extraction for one
// ticket. The unique index on TicketID enforces the at-most-one invariant;
// rows are created once and never mutated.
type AddressDetection struct {
	ID        uint      `json:"id"        gorm:"primaryKey"`
	TicketID  int64     `json:"ticket_id" gorm:"not null;uniqueIndex"`
	Input     *string   `json:"input,omitempty"    gorm:"type:text"`
	Address   *string   `json:"address,omitempty"  gorm:"type:text"`
	Province  *string   `json:"province,omitempty" gorm:"type:varchar(255)"`
	District  *string   `json:"district,omitempty" gorm:"type:varchar(255)"`
	Ward      *string   `json:"ward,omitempty"     gorm:"type:varchar(255)"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for AddressDetection.
func (AddressDetection) TableName() string { return "address_detections" }

// Complete reports whether all three administrative levels were extracted.
func (d AddressDetection) Complete() bool {
	return strPtrSet(d.Province) && strPtrSet(d.District) && strPtrSet(d.Ward)
}

// TicketDateChange is an exception ticket asking to reschedule delivery.
// The detection for this category is a single calendar date, stored inline.
type TicketDateChange struct {
	TicketCore

	TicketCreatedAt   *time.Time `json:"ticket_created_at,omitempty"`
	Comments          *string    `json:"comments,omitempty" gorm:"type:text"`
	Notes             *string    `json:"notes,omitempty"    gorm:"type:text"`
	ExceptionReason   *string    `json:"exception_reason,omitempty" gorm:"type:text"`
	FirstDeliveryDate *time.Time `json:"first_delivery_date,omitempty"`

	OrderID     *int64  `json:"order_id,omitempty"`
	RTSFlag     bool    `json:"rts_flag" gorm:"not null;default:false"`
	OrderStatus *string `json:"order_status,omitempty" gorm:"type:varchar(255)"`

	// DetectedDate is set at most once by the extractor; DetectionSeen marks
	// tickets the extractor has answered for, so a null date (no recognizable
	// date in the text) is not re-extracted forever.
	DetectedDate  *time.Time `json:"detected_date,omitempty"`
	DetectionSeen bool       `json:"detection_seen" gorm:"not null;default:false"`

	Action       *string    `json:"action,omitempty"        gorm:"type:varchar(255);index"`
	ActionReason *string    `json:"action_reason,omitempty" gorm:"type:varchar(255)"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"   gorm:"index"`
	Exported     bool       `json:"exported" gorm:"not null;default:false"`
}

// TableName returns the database table name for TicketDateChange.
func (TicketDateChange) TableName() string { return "tickets_date_change" }

// FreeText concatenates the raw free-text fields, skipping absent ones.
func (t TicketDateChange) FreeText() string {
	return joinPtr(" ", t.Notes, t.Comments, t.ExceptionReason)
}

// TicketMissing is a missing-parcel ticket. It is resolved automatically
// when the parcel's latest scan proves it re-entered the network.
type TicketMissing struct {
	TicketCore

	TicketCreatedAt *time.Time `json:"ticket_created_at,omitempty"`
	OrderID         *int64     `json:"order_id,omitempty"`
	ShipperID       *int64     `json:"shipper_id,omitempty"`
	Notes           *string    `json:"notes,omitempty" gorm:"type:text"`

	WarehouseLastScan *time.Time `json:"warehouse_last_scan,omitempty"`
	InboundLastScan   *time.Time `json:"inbound_last_scan,omitempty"`
	ShipperLastScan   *time.Time `json:"shipper_last_scan,omitempty"`

	NeedResolve bool       `json:"need_resolve" gorm:"not null;default:false;index"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty" gorm:"index"`
}

// TableName returns the database table name for TicketMissing.
func (TicketMissing) TableName() string { return "tickets_missing" }

// Self-collection ticket variants.
const (
	SelfCollectTTDestroyed = "TT_DESTROYED_GOODS"
	SelfCollectSPDestroyed = "SP_DESTROYED_GOODS"
)

// TicketSelfCollection is a destroyed-goods self-collection ticket; the
// whole variant is resolved with a fixed scrapped-parcel outcome.
type TicketSelfCollection struct {
	TicketCore

	Type       *string    `json:"type,omitempty" gorm:"type:varchar(255);index"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty" gorm:"index"`
}

// TableName returns the database table name for TicketSelfCollection.
func (TicketSelfCollection) TableName() string { return "tickets_self_collection" }

// ChangeLog is the append-only audit trail maintained by the store: one row
// per field mutation, keyed by (entity, entity id, version). Rows are never
// updated or deleted.
type ChangeLog struct {
	ID        string    `json:"id"        gorm:"type:char(36);primaryKey"`
	Entity    string    `json:"entity"    gorm:"type:varchar(64);not null;index:idx_changelog_entity,priority:1"`
	EntityID  int64     `json:"entity_id" gorm:"not null;index:idx_changelog_entity,priority:2"`
	Version   int       `json:"version"   gorm:"not null"`
	Stage     string    `json:"stage"     gorm:"type:varchar(32);not null"`
	Summary   string    `json:"summary"   gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for ChangeLog.
func (ChangeLog) TableName() string { return "change_log" }

// PipelineRun is the per-run operator summary: how many tickets each stage
// touched and how many of those succeeded or failed.
type PipelineRun struct {
	ID         string     `json:"id"       gorm:"type:char(36);primaryKey"`
	Category   string     `json:"category" gorm:"type:varchar(32);not null;index"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Ingested   int        `json:"ingested"`
	Enriched   int        `json:"enriched"`
	Extracted  int        `json:"extracted"`
	Decided    int        `json:"decided"`
	Resolved   int        `json:"resolved"`
	Exported   int        `json:"exported"`
	Failed     int        `json:"failed"`
	Err        *string    `json:"error,omitempty" gorm:"column:error;type:text"`
}

// TableName returns the database table name for PipelineRun.
func (PipelineRun) TableName() string { return "pipeline_runs" }

// RunLock is the run-level mutual exclusion record: at most one row per
// category, claimed for the duration of a run and expiring after a TTL so a
// crashed run cannot wedge the category.
type RunLock struct {
	Category  string    `json:"category" gorm:"type:varchar(32);primaryKey"`
	Owner     string    `json:"owner"    gorm:"type:char(36);not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null"`
}

// TableName returns the database table name for RunLock.
func (RunLock) TableName() string { return "run_locks" }

// joinPtr joins the non-nil, non-empty string pointers with sep.
func joinPtr(sep string, vals ...*string) string {
	var out string
	for _, v := range vals {
		if v == nil || *v == "" {
			continue
		}
		if out == "" {
			out = *v
			continue
		}
		out += sep + *v
	}
	return out
}

func strPtrSet(s *string) bool { return s != nil && *s != "" }
