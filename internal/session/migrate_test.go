package session

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(migrations) < 2 {
		t.Fatalf("expected at least 2 migrations, got %d", len(migrations))
	}
	if migrations[0].ID != "0001_initial" {
		t.Fatalf("expected first migration to be 0001_initial, got %q", migrations[0].ID)
	}
	for _, migration := range migrations {
		if migration.UpSQL == "" {
			t.Errorf("migration %s has no up SQL", migration.ID)
		}
		if migration.DownSQL == "" {
			t.Errorf("migration %s has no down SQL", migration.ID)
		}
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migrate.db")
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigratorUpIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	migrator, err := NewMigrator(db)
	if err != nil {
		t.Fatalf("NewMigrator() error = %v", err)
	}

	applied, err := migrator.Up(ctx)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if len(applied) < 2 {
		t.Fatalf("Up() applied %d migrations, want at least 2", len(applied))
	}

	again, err := migrator.Up(ctx)
	if err != nil {
		t.Fatalf("second Up() error = %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second Up() applied %d migrations, want 0", len(again))
	}

	appliedList, pending, err := migrator.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Status() pending = %d, want 0", len(pending))
	}
	if len(appliedList) != len(applied) {
		t.Errorf("Status() applied = %d, want %d", len(appliedList), len(applied))
	}
}

func TestMigratorDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	migrator, err := NewMigrator(db)
	if err != nil {
		t.Fatalf("NewMigrator() error = %v", err)
	}
	if _, err := migrator.Up(ctx); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	rolled, err := migrator.Down(ctx, 1)
	if err != nil {
		t.Fatalf("Down() error = %v", err)
	}
	if len(rolled) != 1 {
		t.Fatalf("Down() rolled back %d migrations, want 1", len(rolled))
	}

	_, pending, err := migrator.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("Status() pending = %d after rollback, want 1", len(pending))
	}
	if pending[0].ID != rolled[0] {
		t.Errorf("pending migration %s, rolled back %s", pending[0].ID, rolled[0])
	}
}
