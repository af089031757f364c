package worker

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ecoachlabs/ideamind-sub006/pkg/checkpoint"
	"github.com/ecoachlabs/ideamind-sub006/pkg/executor"
	"github.com/ecoachlabs/ideamind-sub006/pkg/taskrepo"
)

func newHarness(t *testing.T) (*taskrepo.Store, *checkpoint.Manager) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo, err := taskrepo.New(db, "sqlite3")
	if err != nil {
		t.Fatalf("taskrepo.New: %v", err)
	}
	checkpoints, err := checkpoint.NewManager(db, "sqlite3", 0)
	if err != nil {
		t.Fatalf("checkpoint.NewManager: %v", err)
	}
	return repo, checkpoints
}

func createTask(t *testing.T, repo *taskrepo.Store, spec taskrepo.TaskSpec) *taskrepo.Task {
	t.Helper()
	id, err := repo.Create(context.Background(), spec)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	task, err := repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return task
}

func TestRunTaskHappyPath(t *testing.T) {
	repo, checkpoints := newHarness(t)
	reg := executor.New()
	reg.RegisterInProcess("writer", &executor.InProcessExecutor{
		Agent: func(ctx context.Context, target executor.Target, input map[string]any, cb executor.CheckpointFunc) (executor.Result, error) {
			return executor.Result{Output: map[string]any{"text": "done"}, TokensUsed: 700, CostUSD: 0.007}, nil
		},
	})

	task := createTask(t, repo, taskrepo.TaskSpec{
		Phase: "INTAKE", Type: "agent", Target: "writer",
		Input: map[string]any{"run_id": "r1"}, Budget: taskrepo.Budget{Tokens: 1000},
		IdempotenceKey: "INTAKE:abc",
	})

	w := New("w1", repo, checkpoints, reg, nil)
	if err := w.RunTask(context.Background(), task); err != nil {
		t.Fatalf("RunTask: %v", err)
	}

	got, err := repo.GetByID(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != taskrepo.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.TokensUsed != 700 || got.CostUSD != 0.007 {
		t.Fatalf("unexpected metrics: %+v", got)
	}
	if got.DurationMS < 0 {
		t.Fatalf("duration_ms should be non-negative, got %d", got.DurationMS)
	}

	if _, err := checkpoints.LoadCheckpoint(context.Background(), task.ID); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Fatalf("expected checkpoint deleted on completion, got err=%v", err)
	}
}

func TestRunTaskResumesFromCheckpoint(t *testing.T) {
	repo, checkpoints := newHarness(t)

	task := createTask(t, repo, taskrepo.TaskSpec{
		Phase: "QA", Type: "agent", Target: "reviewer",
		Input: map[string]any{}, IdempotenceKey: "QA:xyz",
	})

	if err := checkpoints.SaveCheckpoint(context.Background(), task.ID, "step-2", map[string]any{"progress": 50}); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	var sawToken string
	reg := executor.New()
	reg.RegisterInProcess("reviewer", &executor.InProcessExecutor{
		Agent: func(ctx context.Context, target executor.Target, input map[string]any, cb executor.CheckpointFunc) (executor.Result, error) {
			sawToken, _ = input["checkpoint"].(string)
			return executor.Result{Output: map[string]any{}}, nil
		},
	})

	w := New("w1", repo, checkpoints, reg, nil)
	if err := w.RunTask(context.Background(), task); err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if sawToken != "step-2" {
		t.Fatalf("executor did not see resumed checkpoint token, got %q", sawToken)
	}
}

func TestRunTaskFailureRetainsCheckpoint(t *testing.T) {
	repo, checkpoints := newHarness(t)

	task := createTask(t, repo, taskrepo.TaskSpec{
		Phase: "INTAKE", Type: "agent", Target: "flaky",
		Input: map[string]any{}, IdempotenceKey: "INTAKE:flaky",
	})
	if err := checkpoints.SaveCheckpoint(context.Background(), task.ID, "step-1", map[string]any{}); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	reg := executor.New()
	wantErr := errors.New("executor blew up")
	reg.RegisterInProcess("flaky", &executor.InProcessExecutor{
		Agent: func(ctx context.Context, target executor.Target, input map[string]any, cb executor.CheckpointFunc) (executor.Result, error) {
			return executor.Result{}, wantErr
		},
	})

	w := New("w1", repo, checkpoints, reg, nil)
	if err := w.RunTask(context.Background(), task); err != nil {
		t.Fatalf("RunTask: %v", err)
	}

	got, err := repo.GetByID(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != taskrepo.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Error == "" {
		t.Fatalf("expected error recorded")
	}

	if _, err := checkpoints.LoadCheckpoint(context.Background(), task.ID); err != nil {
		t.Fatalf("expected checkpoint retained after failure, got err=%v", err)
	}
}
