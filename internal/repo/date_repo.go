// Package repo: store operations for date-change tickets. The detection for
// this category is a single nullable date column, so the at-most-once
// invariant is enforced by the detection_seen flag rather than a child row.
package repo

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nvops/ticket-triage/internal/domain"
)

const entityDate = "ticket_date_change"

// UpsertDateTickets inserts new tickets, skipping known ids.
func UpsertDateTickets(db *gorm.DB, tickets []domain.TicketDateChange) (int64, error) {
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
		if err := tx.Model(&domain.TicketDateChange{}).
			Where("ticket_id IN ?", ids).
			Pluck("ticket_id", &existing).Error; err != nil {
			return err
		}
		known := make(map[int64]bool, len(existing))
		for _, id := range existing {
			known[id] = true
		}

		fresh := make([]domain.TicketDateChange, 0, len(tickets))
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
		return appendChanges(tx, entityDate, freshIDs, "ingest", "ticket created")
	})
	return created, err
}

// ListUndecidedDate returns every date-change ticket without a decision.
func ListUndecidedDate(db *gorm.DB) ([]domain.TicketDateChange, error) {
	var out []domain.TicketDateChange
	err := db.Where("action IS NULL").Order("ticket_id ASC").Find(&out).Error
	return out, err
}

// UpdateDateSnapshots overwrites the order-derived snapshot fields.
func UpdateDateSnapshots(db *gorm.DB, tickets []domain.TicketDateChange) (int64, error) {
	if len(tickets) == 0 {
		return 0, nil
	}
	var updated int64
	err := db.Transaction(func(tx *gorm.DB) error {
		ids := make([]int64, 0, len(tickets))
		for _, t := range tickets {
			res := tx.Model(&domain.TicketDateChange{}).
				Where("ticket_id = ?", t.TicketID).
				Updates(map[string]any{
					"order_id":     t.OrderID,
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
		return appendChanges(tx, entityDate, ids, "enrich", "order snapshot refreshed")
	})
	return updated, err
}

// ListDateForDetection returns undecided tickets with free text whose
// extraction has not been answered yet.
func ListDateForDetection(db *gorm.DB) ([]domain.TicketDateChange, error) {
	var out []domain.TicketDateChange
	err := db.
		Where("detection_seen = ?", false).
		Where("action IS NULL").
		Where(db.Where("comments IS NOT NULL AND comments <> ''").
			Or("notes IS NOT NULL AND notes <> ''").
			Or("exception_reason IS NOT NULL AND exception_reason <> ''")).
		Order("ticket_id ASC").
		Find(&out).Error
	return out, err
}

// SetDateDetection records an extraction answer for one ticket: the detected
// date (possibly nil when the text held no recognizable date) and the seen
// marker. A ticket already answered is left untouched.
func SetDateDetection(db *gorm.DB, ticketID int64, date *time.Time) error {
	return db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.TicketDateChange{}).
			Where("ticket_id = ? AND detection_seen = ?", ticketID, false).
			Updates(map[string]any{"detected_date": date, "detection_seen": true})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return appendChanges(tx, entityDate, []int64{ticketID}, "extract", "date detection recorded")
	})
}

// SetDateDecision writes (action, reason) guarded by `action IS NULL`.
// Returns the ids actually decided.
func SetDateDecision(db *gorm.DB, ticketIDs []int64, action, reason string) ([]int64, error) {
	if len(ticketIDs) == 0 {
		return nil, nil
	}
	var decided []int64
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.TicketDateChange{}).
			Where("ticket_id IN ? AND action IS NULL", ticketIDs).
			Pluck("ticket_id", &decided).Error; err != nil {
			return err
		}
		if len(decided) == 0 {
			return nil
		}
		res := tx.Model(&domain.TicketDateChange{}).
			Where("ticket_id IN ? AND action IS NULL", decided).
			Updates(map[string]any{"action": action, "action_reason": reason})
		if res.Error != nil {
			return res.Error
		}
		return appendChanges(tx, entityDate, decided, "evaluate", "decision: "+action+", "+reason)
	})
	return decided, err
}

// ListDecidedUnresolvedDate returns decided tickets awaiting commitment to
// the ticketing system.
func ListDecidedUnresolvedDate(db *gorm.DB) ([]domain.TicketDateChange, error) {
	var out []domain.TicketDateChange
	err := db.Where("action IS NOT NULL AND resolved_at IS NULL").
		Order("ticket_id ASC").
		Find(&out).Error
	return out, err
}

// MarkDateResolved stamps resolved_at; already-resolved tickets are skipped.
func MarkDateResolved(db *gorm.DB, ticketIDs []int64, at time.Time) (int64, error) {
	if len(ticketIDs) == 0 {
		return 0, nil
	}
	var n int64
	err := db.Transaction(func(tx *gorm.DB) error {
		var fresh []int64
		if err := tx.Model(&domain.TicketDateChange{}).
			Where("ticket_id IN ? AND resolved_at IS NULL", ticketIDs).
			Pluck("ticket_id", &fresh).Error; err != nil {
			return err
		}
		if len(fresh) == 0 {
			return nil
		}
		res := tx.Model(&domain.TicketDateChange{}).
			Where("ticket_id IN ? AND resolved_at IS NULL", fresh).
			Update("resolved_at", at)
		if res.Error != nil {
			return res.Error
		}
		n = res.RowsAffected
		return appendChanges(tx, entityDate, fresh, "resolve", "resolution committed")
	})
	return n, err
}

// ListDateForExport returns decided tickets not yet published to the
// reporting destination.
func ListDateForExport(db *gorm.DB) ([]domain.TicketDateChange, error) {
	var out []domain.TicketDateChange
	err := db.Where("action IS NOT NULL AND exported = ?", false).
		Order("ticket_id ASC").
		Find(&out).Error
	return out, err
}

// MarkDateExported flips the export flag; exported rows never re-enter the
// export queue.
func MarkDateExported(db *gorm.DB, ticketIDs []int64) error {
	if len(ticketIDs) == 0 {
		return nil
	}
	return db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.TicketDateChange{}).
			Where("ticket_id IN ? AND exported = ?", ticketIDs, false).
			Update("exported", true)
		if res.Error != nil {
			return res.Error
		}
		return appendChanges(tx, entityDate, ticketIDs, "export", "published to report sheet")
	})
}
