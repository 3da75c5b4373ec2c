// Package repo: store operations for address-change tickets and their
// detections. Each function owns exactly one field family, so concurrent
// categories never contend on the same columns.
package repo

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nvops/ticket-triage/internal/domain"
)

const entityAddress = "ticket_address_change"

// UpsertAddressTickets inserts new tickets, silently skipping ids already in
// the store. Returns the number of rows actually created.
func UpsertAddressTickets(db *gorm.DB, tickets []domain.TicketAddressChange) (int64, error) {
	if len(tickets) == 0 {
		return 0, nil
	}
	var created int64
	err := db.Transaction(func(tx *gorm.DB) error {
		ids := make([]int64, 0, len(tickets))
		for _, t := range tickets {
			ids = append(ids, t.TicketID)
		}
		var existing []int64
		if err := tx.Model(&domain.TicketAddressChange{}).
			Where("ticket_id IN ?", ids).
			Pluck("ticket_id", &existing).Error; err != nil {
			return err
		}
		known := make(map[int64]bool, len(existing))
		for _, id := range existing {
			known[id] = true
		}

		fresh := make([]domain.TicketAddressChange, 0, len(tickets))
		freshIDs := make([]int64, 0, len(tickets))
		for _, t := range tickets {
			if known[t.TicketID] {
				continue
			}
			fresh = append(fresh, t)
			freshIDs = append(freshIDs, t.TicketID)
		}
		if len(fresh) == 0 {
			return nil
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected
		return appendChanges(tx, entityAddress, freshIDs, "ingest", "ticket created")
	})
	return created, err
}

// ListUndecidedAddress returns every ticket without a decision, detection
// preloaded when present.
func ListUndecidedAddress(db *gorm.DB) ([]domain.TicketAddressChange, error) {
	var out []domain.TicketAddressChange
	err := db.Preload("Detection").
		Where("action IS NULL").
		Order("ticket_id ASC").
		Find(&out).Error
	return out, err
}

// UpdateAddressSnapshots overwrites the order-derived snapshot fields of the
// given tickets. Only the snapshot family is written; raw and decision
// columns are untouched.
func UpdateAddressSnapshots(db *gorm.DB, tickets []domain.TicketAddressChange) (int64, error) {
	if len(tickets) == 0 {
		return 0, nil
	}
	var updated int64
	err := db.Transaction(func(tx *gorm.DB) error {
		ids := make([]int64, 0, len(tickets))
		for _, t := range tickets {
			res := tx.Model(&domain.TicketAddressChange{}).
				Where("ticket_id = ?", t.TicketID).
				Updates(map[string]any{
					"order_id":     t.OrderID,
					"old_address":  t.OldAddress,
					"old_province": t.OldProvince,
					"old_district": t.OldDistrict,
					"old_ward":     t.OldWard,
					"zone_name":    t.ZoneName,
					"rts_flag":     t.RTSFlag,
					"order_status": t.OrderStatus,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				updated += res.RowsAffected
				ids = append(ids, t.TicketID)
			}
		}
		return appendChanges(tx, entityAddress, ids, "enrich", "order snapshot refreshed")
	})
	return updated, err
}

// ListAddressForDetection returns undecided tickets with free text but no
// detection yet, i.e. the extraction work queue.
func ListAddressForDetection(db *gorm.DB) ([]domain.TicketAddressChange, error) {
	var out []domain.TicketAddressChange
	err := db.
		Joins("LEFT JOIN address_detections ad ON ad.ticket_id = tickets_address_change.ticket_id").
		Where("ad.id IS NULL").
		Where("tickets_address_change.action IS NULL").
		Where(db.Where("comments IS NOT NULL AND comments <> ''").
			Or("notes IS NOT NULL AND notes <> ''").
			Or("exception_reason IS NOT NULL AND exception_reason <> ''")).
		Order("tickets_address_change.ticket_id ASC").
		Find(&out).Error
	return out, err
}

// CreateAddressDetections inserts detections, skipping tickets that already
// have one (unique ticket_id index; conflicts are dropped, never updated).
// Detections referencing unknown tickets must be filtered by the caller.
func CreateAddressDetections(db *gorm.DB, detections []domain.AddressDetection) (int64, error) {
	if len(detections) == 0 {
		return 0, nil
	}
	var created int64
	err := db.Transaction(func(tx *gorm.DB) error {
		ids := make([]int64, 0, len(detections))
		for _, d := range detections {
			ids = append(ids, d.TicketID)
		}
		var existing []int64
		if err := tx.Model(&domain.AddressDetection{}).
			Where("ticket_id IN ?", ids).
			Pluck("ticket_id", &existing).Error; err != nil {
			return err
		}
		known := make(map[int64]bool, len(existing))
		for _, id := range existing {
			known[id] = true
		}

		fresh := make([]domain.AddressDetection, 0, len(detections))
		freshIDs := make([]int64, 0, len(detections))
		for _, d := range detections {
			if known[d.TicketID] {
				continue
			}
			d.CreatedAt = time.Now().UTC()
			fresh = append(fresh, d)
			freshIDs = append(freshIDs, d.TicketID)
		}
		if len(fresh) == 0 {
			return nil
		}

		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ticket_id"}},
			DoNothing: true,
		}).Create(&fresh)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected
		return appendChanges(tx, entityAddress, freshIDs, "extract", "detection created")
	})
	return created, err
}

// SetAddressDecision writes (action, reason) on the given tickets. The
// `action IS NULL` guard makes the write first-wins: tickets decided on an
// earlier run are silently skipped. Returns the ids actually decided.
func SetAddressDecision(db *gorm.DB, ticketIDs []int64, action, reason string) ([]int64, error) {
	if len(ticketIDs) == 0 {
		return nil, nil
	}
	var decided []int64
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.TicketAddressChange{}).
			Where("ticket_id IN ? AND action IS NULL", ticketIDs).
			Pluck("ticket_id", &decided).Error; err != nil {
			return err
		}
		if len(decided) == 0 {
			return nil
		}
		res := tx.Model(&domain.TicketAddressChange{}).
			Where("ticket_id IN ? AND action IS NULL", decided).
			Updates(map[string]any{"action": action, "action_reason": reason})
		if res.Error != nil {
			return res.Error
		}
		return appendChanges(tx, entityAddress, decided, "evaluate", "decision: "+action+", "+reason)
	})
	return decided, err
}

// ListDecidedUnresolvedAddress returns tickets holding a decision that must
// be committed to the ticketing system. Manual-check tickets are excluded:
// they go to the export queue, not to the resolver.
func ListDecidedUnresolvedAddress(db *gorm.DB) ([]domain.TicketAddressChange, error) {
	var out []domain.TicketAddressChange
	err := db.Preload("Detection").
		Where("action IS NOT NULL AND action <> ? AND resolved_at IS NULL", domain.ActionManualCheck).
		Order("ticket_id ASC").
		Find(&out).Error
	return out, err
}

// MarkAddressResolved stamps resolved_at on the given tickets. Tickets
// already resolved are skipped, which makes resolver retries no-ops.
func MarkAddressResolved(db *gorm.DB, ticketIDs []int64, at time.Time) (int64, error) {
	if len(ticketIDs) == 0 {
		return 0, nil
	}
	var n int64
	err := db.Transaction(func(tx *gorm.DB) error {
		var fresh []int64
		if err := tx.Model(&domain.TicketAddressChange{}).
			Where("ticket_id IN ? AND resolved_at IS NULL", ticketIDs).
			Pluck("ticket_id", &fresh).Error; err != nil {
			return err
		}
		if len(fresh) == 0 {
			return nil
		}
		res := tx.Model(&domain.TicketAddressChange{}).
			Where("ticket_id IN ? AND resolved_at IS NULL", fresh).
			Update("resolved_at", at)
		if res.Error != nil {
			return res.Error
		}
		n = res.RowsAffected
		return appendChanges(tx, entityAddress, fresh, "resolve", "resolution committed")
	})
	return n, err
}

// ListAddressForExport returns manual-check tickets not yet published to the
// reporting destination.
func ListAddressForExport(db *gorm.DB) ([]domain.TicketAddressChange, error) {
	var out []domain.TicketAddressChange
	err := db.Preload("Detection").
		Where("action = ? AND exported = ?", domain.ActionManualCheck, false).
		Order("ticket_id ASC").
		Find(&out).Error
	return out, err
}

// MarkAddressExported flips the export flag; exported rows never re-enter
// the export queue.
func MarkAddressExported(db *gorm.DB, ticketIDs []int64) error {
	if len(ticketIDs) == 0 {
		return nil
	}
	return db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.TicketAddressChange{}).
			Where("ticket_id IN ? AND exported = ?", ticketIDs, false).
			Update("exported", true)
		if res.Error != nil {
			return res.Error
		}
		return appendChanges(tx, entityAddress, ticketIDs, "export", "published to report sheet")
	})
}
