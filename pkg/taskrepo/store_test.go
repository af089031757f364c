package taskrepo

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := New(db, "sqlite3")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestCreateAndGetByID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, TaskSpec{
		Phase:          "INTAKE",
		Type:           "agent",
		Target:         "writer",
		Input:          map[string]any{"run_id": "r1"},
		Budget:         Budget{MS: 1000, Tokens: 500},
		IdempotenceKey: "INTAKE:0123456789abcdef",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	task, err := store.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if task.Status != StatusPending {
		t.Fatalf("status = %s, want pending", task.Status)
	}
	if task.Phase != "INTAKE" || task.Target != "writer" {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestRunningRequiresWorkerIDAndStartedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, TaskSpec{Phase: "QA", Type: "agent", Target: "t", Input: map[string]any{}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.UpdateStatus(ctx, id, StatusRunning, "worker-1"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	task, err := store.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if task.Status != StatusRunning || task.WorkerID != "worker-1" || task.StartedAt == nil {
		t.Fatalf("invariant violated: running => worker_id != nil && started_at != nil, got %+v", task)
	}
}

func TestCompleteStampsCompletedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, TaskSpec{Phase: "QA", Type: "tool", Target: "t", Input: map[string]any{}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = store.UpdateStatus(ctx, id, StatusRunning, "worker-1")
	if err := store.Complete(ctx, id, map[string]any{"ok": true}, Metrics{CostUSD: 0.01, Tokens: 700, DurationMS: 42}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	task, err := store.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if task.Status != StatusCompleted || task.CompletedAt == nil {
		t.Fatalf("terminal state must stamp completed_at, got %+v", task)
	}
	if task.TokensUsed != 700 {
		t.Fatalf("tokens_used = %d, want 700", task.TokensUsed)
	}
}

func TestPreemptThenResumeRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, TaskSpec{Phase: "QA", Type: "agent", Target: "t", Input: map[string]any{}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = store.UpdateStatus(ctx, id, StatusRunning, "worker-1")
	_ = store.AssignPriority(ctx, id, P3, true)

	if err := store.Preempt(ctx, id, "cpu pressure", "cpu"); err != nil {
		t.Fatalf("Preempt: %v", err)
	}
	task, _ := store.GetByID(ctx, id)
	if task.Status != StatusPreempted || !task.Preempted || task.PreemptionCount != 1 || task.PreemptedAt == nil {
		t.Fatalf("unexpected state after preempt: %+v", task)
	}

	if err := store.Resume(ctx, id); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	task, _ = store.GetByID(ctx, id)
	if task.Status != StatusPending || task.Preempted || task.PreemptionCount != 1 || task.ResumedAt == nil {
		t.Fatalf("round trip invariant violated, got %+v", task)
	}
}

func TestCancelPhase(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id1, _ := store.Create(ctx, TaskSpec{Phase: "QA", Type: "agent", Target: "t1", Input: map[string]any{}})
	id2, _ := store.Create(ctx, TaskSpec{Phase: "QA", Type: "agent", Target: "t2", Input: map[string]any{}})
	_ = store.UpdateStatus(ctx, id2, StatusRunning, "worker-1")

	n, err := store.CancelPhase(ctx, "QA")
	if err != nil {
		t.Fatalf("CancelPhase: %v", err)
	}
	if n != 2 {
		t.Fatalf("cancelled = %d, want 2", n)
	}

	for _, id := range []string{id1, id2} {
		task, _ := store.GetByID(ctx, id)
		if task.Status != StatusCancelled {
			t.Fatalf("task %s status = %s, want cancelled", id, task.Status)
		}
	}
}
