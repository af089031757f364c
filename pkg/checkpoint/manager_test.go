package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m, err := NewManager(db, "sqlite3", 0)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.SaveCheckpoint(ctx, "task-1", "step-2", map[string]any{"progress": 50}); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	cp, err := m.LoadCheckpoint(ctx, "task-1")
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if cp.Token != "step-2" {
		t.Fatalf("token = %q, want step-2", cp.Token)
	}
}

func TestSaveUpsertsSingleLiveCheckpoint(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_ = m.SaveCheckpoint(ctx, "task-1", "step-1", map[string]any{"progress": 10})
	_ = m.SaveCheckpoint(ctx, "task-1", "step-2", map[string]any{"progress": 50})

	cp, err := m.LoadCheckpoint(ctx, "task-1")
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if cp.Token != "step-2" {
		t.Fatalf("expected the latest checkpoint to win, got token %q", cp.Token)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_ = m.SaveCheckpoint(ctx, "task-1", "step-1", map[string]any{})
	if err := m.DeleteCheckpoint(ctx, "task-1"); err != nil {
		t.Fatalf("DeleteCheckpoint: %v", err)
	}
	if err := m.DeleteCheckpoint(ctx, "task-1"); err != nil {
		t.Fatalf("second DeleteCheckpoint should be a no-op, got: %v", err)
	}

	_, err := m.LoadCheckpoint(ctx, "task-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadCheckpoint after delete = %v, want ErrNotFound", err)
	}
}

func TestCheckpointCallbackBindsTaskID(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	cb := m.CreateCheckpointCallback("task-9")
	if err := cb(ctx, "tok", map[string]any{"n": 1}); err != nil {
		t.Fatalf("callback: %v", err)
	}

	cp, err := m.LoadCheckpoint(ctx, "task-9")
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if cp.Token != "tok" {
		t.Fatalf("token = %q, want tok", cp.Token)
	}
}
