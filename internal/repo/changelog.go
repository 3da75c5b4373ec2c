// Package repo: append-only audit trail. Every mutating store operation
// records one ChangeLog row per affected ticket, versioned per entity.
package repo

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nvops/ticket-triage/internal/domain"
)

// appendChanges inserts one audit row per entity id, assigning the next
// version number for each. Must run inside the same transaction as the
// mutation it records.
func appendChanges(tx *gorm.DB, entity string, ids []int64, stage, summary string) error {
	now := time.Now().UTC()
	for _, id := range ids {
		var maxVersion int
		if err := tx.Model(&domain.ChangeLog{}).
			Where("entity = ? AND entity_id = ?", entity, id).
			Select("COALESCE(MAX(version), 0)").
			Scan(&maxVersion).Error; err != nil {
			return err
		}
		row := domain.ChangeLog{
			ID:        uuid.NewString(),
			Entity:    entity,
			EntityID:  id,
			Version:   maxVersion + 1,
			Stage:     stage,
			Summary:   summary,
			CreatedAt: now,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// ListChanges returns the audit rows for one entity id, oldest first.
func ListChanges(db *gorm.DB, entity string, id int64) ([]domain.ChangeLog, error) {
	var out []domain.ChangeLog
	err := db.Where("entity = ? AND entity_id = ?", entity, id).
		Order("version ASC").
		Find(&out).Error
	return out, err
}
