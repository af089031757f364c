package vault

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func newTestAdmin(t *testing.T) (*Admin, *Store) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db, "sqlite3")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return NewAdmin(s, NewBroker(), nil), s
}

func TestAdminForgetSkipsPinnedFrames(t *testing.T) {
	a, s := newTestAdmin(t)
	ctx := context.Background()

	pinned := testFrame("frame_pinned")
	pinned.Pinned = true
	unpinned := testFrame("frame_unpinned")

	if err := s.UpsertFrame(ctx, pinned); err != nil {
		t.Fatalf("UpsertFrame: %v", err)
	}
	if err := s.UpsertFrame(ctx, unpinned); err != nil {
		t.Fatalf("UpsertFrame: %v", err)
	}

	deleted, skipped, err := a.Forget(ctx, "run-1", []string{"frame_pinned", "frame_unpinned"}, "policy cleanup")
	if err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "frame_unpinned" {
		t.Fatalf("Forget: want only frame_unpinned deleted, got %v", deleted)
	}
	if len(skipped) != 1 || skipped[0] != "frame_pinned" {
		t.Fatalf("Forget: want frame_pinned skipped, got %v", skipped)
	}

	if _, err := s.GetFrame(ctx, "frame_pinned"); err != nil {
		t.Fatalf("GetFrame: pinned frame should still exist: %v", err)
	}
}

func TestAdminForgetRequiresReason(t *testing.T) {
	a, _ := newTestAdmin(t)
	if _, _, err := a.Forget(context.Background(), "run-1", []string{"frame_x"}, ""); err == nil {
		t.Fatal("Forget: want error when reason is empty")
	}
}

func TestAdminPinUnpin(t *testing.T) {
	a, s := newTestAdmin(t)
	ctx := context.Background()
	f := testFrame("frame_4")
	if err := s.UpsertFrame(ctx, f); err != nil {
		t.Fatalf("UpsertFrame: %v", err)
	}

	if err := a.Pin(ctx, "frame_4"); err != nil {
		t.Fatalf("Pin: %v", err)
	}
	got, err := s.GetFrame(ctx, "frame_4")
	if err != nil || !got.Pinned {
		t.Fatalf("Pin: want pinned frame, got %+v err=%v", got, err)
	}

	if err := a.Unpin(ctx, "frame_4"); err != nil {
		t.Fatalf("Unpin: %v", err)
	}
	got, err = s.GetFrame(ctx, "frame_4")
	if err != nil || got.Pinned {
		t.Fatalf("Unpin: want unpinned frame, got %+v err=%v", got, err)
	}
}
