// Package repo: pipeline run bookkeeping, per-run summaries and the
// run-level mutual exclusion lock.
package repo

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nvops/ticket-triage/internal/domain"
)

// ErrLockHeld is returned when another live run owns the category lock.
var ErrLockHeld = errors.New("run lock held by another instance")

// CreateRun inserts a new run summary row in its started state.
func CreateRun(db *gorm.DB, run *domain.PipelineRun) error {
	return db.Create(run).Error
}

// FinishRun persists the final counters and the finish timestamp.
func FinishRun(db *gorm.DB, run *domain.PipelineRun) error {
	now := time.Now().UTC()
	run.FinishedAt = &now
	return db.Save(run).Error
}

// ListRecentRuns returns the latest run summaries, newest first.
func ListRecentRuns(db *gorm.DB, limit int) ([]domain.PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []domain.PipelineRun
	err := db.Order("started_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

// AcquireRunLock claims the category lock for owner until now+ttl. A lock
// held by a live owner yields ErrLockHeld; an expired lock is taken over.
func AcquireRunLock(db *gorm.DB, category, owner string, ttl time.Duration, now time.Time) error {
	lock := domain.RunLock{Category: category, Owner: owner, ExpiresAt: now.Add(ttl)}

	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&lock)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	// Row exists: take it over only if expired (or already ours).
	res = db.Model(&domain.RunLock{}).
		Where("category = ? AND (expires_at < ? OR owner = ?)", category, now, owner).
		Updates(map[string]any{"owner": owner, "expires_at": now.Add(ttl)})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLockHeld
	}
	return nil
}

// ReleaseRunLock drops the lock if still owned by owner. Releasing a lock
// someone else took over (after expiry) is a no-op.
func ReleaseRunLock(db *gorm.DB, category, owner string) error {
	return db.Where("category = ? AND owner = ?", category, owner).
		Delete(&domain.RunLock{}).Error
}
