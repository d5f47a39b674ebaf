package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/workbench/pkg/models"
)

func TestRetentionRunOnce(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()
	stale := now.Add(-10 * 24 * time.Hour)

	mustCreate(t, store, &models.Session{ID: "stale", CreatedAt: stale, UpdatedAt: stale})
	mustCreate(t, store, &models.Session{ID: "fresh"})

	retention, err := NewRetention(store, RetentionConfig{Days: 7})
	if err != nil {
		t.Fatalf("NewRetention() error = %v", err)
	}
	retention.SetNowFunc(func() time.Time { return now })

	pruned, err := retention.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if pruned != 1 {
		t.Errorf("RunOnce() = %d, want 1", pruned)
	}
	if _, err := store.Get(context.Background(), "stale"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("stale session survived: %v", err)
	}
	if _, err := store.Get(context.Background(), "fresh"); err != nil {
		t.Errorf("fresh session pruned: %v", err)
	}
}

func TestRetentionDisabled(t *testing.T) {
	store := newTestStore(t)
	old := time.Now().UTC().Add(-365 * 24 * time.Hour)
	mustCreate(t, store, &models.Session{ID: "ancient", CreatedAt: old, UpdatedAt: old})

	retention, err := NewRetention(store, RetentionConfig{Days: 0})
	if err != nil {
		t.Fatalf("NewRetention() error = %v", err)
	}

	pruned, err := retention.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if pruned != 0 {
		t.Errorf("RunOnce() = %d with retention disabled", pruned)
	}
	if _, err := store.Get(context.Background(), "ancient"); err != nil {
		t.Errorf("session pruned while retention disabled: %v", err)
	}
}

func TestRetentionRejectsBadSchedule(t *testing.T) {
	store := newTestStore(t)
	if _, err := NewRetention(store, RetentionConfig{Days: 7, Schedule: "not a cron"}); err == nil {
		t.Error("NewRetention() expected error for invalid schedule")
	}
}
