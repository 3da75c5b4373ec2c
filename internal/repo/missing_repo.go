// Package repo: store operations for missing-parcel and self-collection
// tickets. Both variants skip extraction and rule chains: their terminal
// outcome is fixed, only the selection predicate differs.
package repo

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nvops/ticket-triage/internal/domain"
)

const (
	entityMissing     = "ticket_missing"
	entitySelfCollect = "ticket_self_collection"
)

// UpsertMissingTickets inserts new missing-parcel tickets, skipping known ids.
func UpsertMissingTickets(db *gorm.DB, tickets []domain.TicketMissing) (int64, error) {
	if len(tickets) == 0 {
		return 0, nil
	}
	var created int64
	err := db.Transaction(func(tx *gorm.DB) error {
		fresh, freshIDs, err := filterKnownMissing(tx, tickets)
		if err != nil || len(fresh) == 0 {
			return err
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected
		return appendChanges(tx, entityMissing, freshIDs, "ingest", "ticket created")
	})
	return created, err
}

// filterKnownMissing drops tickets whose id is already stored.
func filterKnownMissing(tx *gorm.DB, tickets []domain.TicketMissing) ([]domain.TicketMissing, []int64, error) {
	ids := make([]int64, 0, len(tickets))
	for _, t := range tickets {
		ids = append(ids, t.TicketID)
	}
	var existing []int64
	if err := tx.Model(&domain.TicketMissing{}).
		Where("ticket_id IN ?", ids).
		Pluck("ticket_id", &existing).Error; err != nil {
		return nil, nil, err
	}
	known := make(map[int64]bool, len(existing))
	for _, id := range existing {
		known[id] = true
	}
	fresh := make([]domain.TicketMissing, 0, len(tickets))
	freshIDs := make([]int64, 0, len(tickets))
	for _, t := range tickets {
		if known[t.TicketID] {
			continue
		}
		fresh = append(fresh, t)
		freshIDs = append(freshIDs, t.TicketID)
	}
	return fresh, freshIDs, nil
}

// ListMissingUnflagged returns tickets whose resolve eligibility has not
// been determined yet.
func ListMissingUnflagged(db *gorm.DB) ([]domain.TicketMissing, error) {
	var out []domain.TicketMissing
	err := db.Where("need_resolve = ? AND resolved_at IS NULL", false).
		Order("ticket_id ASC").
		Find(&out).Error
	return out, err
}

// FlagMissingNeedResolve marks tickets eligible for automatic resolution.
func FlagMissingNeedResolve(db *gorm.DB, ticketIDs []int64) (int64, error) {
	if len(ticketIDs) == 0 {
		return 0, nil
	}
	var n int64
	err := db.Transaction(func(tx *gorm.DB) error {
		var fresh []int64
		if err := tx.Model(&domain.TicketMissing{}).
			Where("ticket_id IN ? AND need_resolve = ?", ticketIDs, false).
			Pluck("ticket_id", &fresh).Error; err != nil {
			return err
		}
		if len(fresh) == 0 {
			return nil
		}
		res := tx.Model(&domain.TicketMissing{}).
			Where("ticket_id IN ? AND need_resolve = ?", fresh, false).
			Update("need_resolve", true)
		if res.Error != nil {
			return res.Error
		}
		n = res.RowsAffected
		return appendChanges(tx, entityMissing, fresh, "evaluate", "flagged for resolution")
	})
	return n, err
}

// ListMissingToResolve returns flagged tickets not yet resolved.
func ListMissingToResolve(db *gorm.DB) ([]domain.TicketMissing, error) {
	var out []domain.TicketMissing
	err := db.Where("need_resolve = ? AND resolved_at IS NULL", true).
		Order("ticket_id ASC").
		Find(&out).Error
	return out, err
}

// MarkMissingResolved stamps resolved_at; already-resolved ids are skipped.
func MarkMissingResolved(db *gorm.DB, ticketIDs []int64, at time.Time) (int64, error) {
	if len(ticketIDs) == 0 {
		return 0, nil
	}
	var n int64
	err := db.Transaction(func(tx *gorm.DB) error {
		var fresh []int64
		if err := tx.Model(&domain.TicketMissing{}).
			Where("ticket_id IN ? AND resolved_at IS NULL", ticketIDs).
			Pluck("ticket_id", &fresh).Error; err != nil {
			return err
		}
		if len(fresh) == 0 {
			return nil
		}
		res := tx.Model(&domain.TicketMissing{}).
			Where("ticket_id IN ? AND resolved_at IS NULL", fresh).
			Update("resolved_at", at)
		if res.Error != nil {
			return res.Error
		}
		n = res.RowsAffected
		return appendChanges(tx, entityMissing, fresh, "resolve", "resolution committed")
	})
	return n, err
}

// UpsertSelfCollectionTickets inserts new self-collection tickets.
func UpsertSelfCollectionTickets(db *gorm.DB, tickets []domain.TicketSelfCollection) (int64, error) {
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
		if err := tx.Model(&domain.TicketSelfCollection{}).
			Where("ticket_id IN ?", ids).
			Pluck("ticket_id", &existing).Error; err != nil {
			return err
		}
		known := make(map[int64]bool, len(existing))
		for _, id := range existing {
			known[id] = true
		}
		fresh := make([]domain.TicketSelfCollection, 0, len(tickets))
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
		return appendChanges(tx, entitySelfCollect, freshIDs, "ingest", "ticket created")
	})
	return created, err
}

// ListSelfCollectionUnresolved returns unresolved tickets of one variant.
func ListSelfCollectionUnresolved(db *gorm.DB, variant string) ([]domain.TicketSelfCollection, error) {
	var out []domain.TicketSelfCollection
	err := db.Where("type = ? AND resolved_at IS NULL", variant).
		Order("ticket_id ASC").
		Find(&out).Error
	return out, err
}

// MarkSelfCollectionResolved stamps resolved_at on the given tickets.
func MarkSelfCollectionResolved(db *gorm.DB, ticketIDs []int64, at time.Time) (int64, error) {
	if len(ticketIDs) == 0 {
		return 0, nil
	}
	var n int64
	err := db.Transaction(func(tx *gorm.DB) error {
		var fresh []int64
		if err := tx.Model(&domain.TicketSelfCollection{}).
			Where("ticket_id IN ? AND resolved_at IS NULL", ticketIDs).
			Pluck("ticket_id", &fresh).Error; err != nil {
			return err
		}
		if len(fresh) == 0 {
			return nil
		}
		res := tx.Model(&domain.TicketSelfCollection{}).
			Where("ticket_id IN ? AND resolved_at IS NULL", fresh).
			Update("resolved_at", at)
		if res.Error != nil {
			return res.Error
		}
		n = res.RowsAffected
		return appendChanges(tx, entitySelfCollect, fresh, "resolve", "resolution committed")
	})
	return n, err
}
