package repo

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nvops/ticket-triage/internal/domain"
)

func TestAcquireRunLock_Contention(t *testing.T) {
	db := newStoreDB(t)
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	if err := AcquireRunLock(db, domain.CategoryAddress, "worker-a", 30*time.Minute, now); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	// A second owner must be refused while the lock is live.
	err := AcquireRunLock(db, domain.CategoryAddress, "worker-b", 30*time.Minute, now.Add(time.Minute))
	if !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}

	// Locks are scoped per category.
	if err := AcquireRunLock(db, domain.CategoryDate, "worker-b", 30*time.Minute, now); err != nil {
		t.Fatalf("other category acquire: %v", err)
	}
}

func TestAcquireRunLock_Reentrant(t *testing.T) {
	db := newStoreDB(t)
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	if err := AcquireRunLock(db, domain.CategoryMissing, "worker-a", 30*time.Minute, now); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// Same owner may refresh its own lock.
	if err := AcquireRunLock(db, domain.CategoryMissing, "worker-a", 30*time.Minute, now.Add(5*time.Minute)); err != nil {
		t.Fatalf("refresh: %v", err)
	}
}

func TestAcquireRunLock_ExpiredTakeover(t *testing.T) {
	db := newStoreDB(t)
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	if err := AcquireRunLock(db, domain.CategoryAddress, "worker-a", 10*time.Minute, now); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// After the TTL a crashed owner's lock is up for grabs.
	if err := AcquireRunLock(db, domain.CategoryAddress, "worker-b", 10*time.Minute, now.Add(11*time.Minute)); err != nil {
		t.Fatalf("takeover: %v", err)
	}
	// The stale owner no longer holds it.
	err := AcquireRunLock(db, domain.CategoryAddress, "worker-a", 10*time.Minute, now.Add(12*time.Minute))
	if !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld for stale owner, got %v", err)
	}
}

func TestReleaseRunLock_OwnerOnly(t *testing.T) {
	db := newStoreDB(t)
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	if err := AcquireRunLock(db, domain.CategoryAddress, "worker-a", 30*time.Minute, now); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// A non-owner release is a no-op.
	if err := ReleaseRunLock(db, domain.CategoryAddress, "worker-b"); err != nil {
		t.Fatalf("foreign release: %v", err)
	}
	err := AcquireRunLock(db, domain.CategoryAddress, "worker-b", 30*time.Minute, now.Add(time.Minute))
	if !errors.Is(err, ErrLockHeld) {
		t.Fatalf("lock was stolen by foreign release: %v", err)
	}

	if err := ReleaseRunLock(db, domain.CategoryAddress, "worker-a"); err != nil {
		t.Fatalf("owner release: %v", err)
	}
	if err := AcquireRunLock(db, domain.CategoryAddress, "worker-b", 30*time.Minute, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestRunSummaries(t *testing.T) {
	db := newStoreDB(t)

	for i := 0; i < 3; i++ {
		run := &domain.PipelineRun{
			ID:        uuid.NewString(),
			Category:  domain.CategoryAddress,
			StartedAt: time.Date(2026, 8, 1, 10, i, 0, 0, time.UTC),
		}
		if err := CreateRun(db, run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
		run.Ingested = 10 * (i + 1)
		run.FinishedAt = timep(run.StartedAt.Add(time.Minute))
		if err := FinishRun(db, run); err != nil {
			t.Fatalf("FinishRun: %v", err)
		}
	}

	runs, err := ListRecentRuns(db, 2)
	if err != nil {
		t.Fatalf("ListRecentRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	// Most recent first.
	if !runs[0].StartedAt.After(runs[1].StartedAt) {
		t.Fatalf("runs not ordered newest-first: %+v", runs)
	}
	if runs[0].Ingested != 30 {
		t.Fatalf("counters not persisted: %+v", runs[0])
	}
}
