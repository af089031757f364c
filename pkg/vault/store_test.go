package vault

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func newTestStore(t *testing.T) *Store {
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
	return s
}

func testFrame(id string) Frame {
	now := time.Now().UTC()
	return Frame{
		ID: id, Scope: ScopeRun, Theme: "deploy-policy", Summary: "two approvals required",
		Claims: []string{"deployments require two reviewer approvals"}, Citations: []string{"frame_a"},
		Version: "v1", CreatedAt: now, UpdatedAt: now,
	}
}

func TestStoreUpsertAndGetFrame(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := testFrame("frame_1")

	if err := s.UpsertFrame(ctx, f); err != nil {
		t.Fatalf("UpsertFrame: %v", err)
	}
	got, err := s.GetFrame(ctx, "frame_1")
	if err != nil {
		t.Fatalf("GetFrame: %v", err)
	}
	if got.Summary != f.Summary || len(got.Claims) != 1 || got.Claims[0] != f.Claims[0] {
		t.Fatalf("GetFrame: round trip mismatch, got %+v", got)
	}
}

func TestStoreGetFrameNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetFrame(context.Background(), "missing"); err != ErrFrameNotFound {
		t.Fatalf("GetFrame: want ErrFrameNotFound, got %v", err)
	}
}

func TestStoreUpdateTTLAndPin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := testFrame("frame_2")
	if err := s.UpsertFrame(ctx, f); err != nil {
		t.Fatalf("UpsertFrame: %v", err)
	}

	if err := s.SetPinned(ctx, "frame_2", true); err != nil {
		t.Fatalf("SetPinned: %v", err)
	}
	got, err := s.GetFrame(ctx, "frame_2")
	if err != nil {
		t.Fatalf("GetFrame: %v", err)
	}
	if !got.Pinned {
		t.Fatal("SetPinned: want pinned frame")
	}

	ttl := int64(5000)
	if err := s.UpdateTTL(ctx, "frame_2", &ttl); err != nil {
		t.Fatalf("UpdateTTL: %v", err)
	}
	got, err = s.GetFrame(ctx, "frame_2")
	if err != nil {
		t.Fatalf("GetFrame: %v", err)
	}
	if got.TTLMS == nil || *got.TTLMS != 5000 {
		t.Fatalf("UpdateTTL: want ttl 5000, got %v", got.TTLMS)
	}
}

func TestStoreDeleteFrame(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := testFrame("frame_3")
	if err := s.UpsertFrame(ctx, f); err != nil {
		t.Fatalf("UpsertFrame: %v", err)
	}
	if err := s.DeleteFrame(ctx, "frame_3"); err != nil {
		t.Fatalf("DeleteFrame: %v", err)
	}
	if _, err := s.GetFrame(ctx, "frame_3"); err != ErrFrameNotFound {
		t.Fatalf("GetFrame after delete: want ErrFrameNotFound, got %v", err)
	}
}

func TestStoreListFramesByScope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := testFrame("frame_run")
	tenant := testFrame("frame_tenant")
	tenant.Scope = ScopeTenant

	if err := s.UpsertFrame(ctx, run); err != nil {
		t.Fatalf("UpsertFrame: %v", err)
	}
	if err := s.UpsertFrame(ctx, tenant); err != nil {
		t.Fatalf("UpsertFrame: %v", err)
	}

	got, err := s.ListFrames(ctx, ScopeTenant)
	if err != nil {
		t.Fatalf("ListFrames: %v", err)
	}
	if len(got) != 1 || got[0].ID != "frame_tenant" {
		t.Fatalf("ListFrames: want only the tenant frame, got %+v", got)
	}
}
