// Package worker implements the Worker and Worker Pool: the execution
// half of the pipeline, turning a dequeued TaskSpec into a completed
// or failed durable Task under heartbeat and checkpoint discipline.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ecoachlabs/ideamind-sub006/pkg/checkpoint"
	"github.com/ecoachlabs/ideamind-sub006/pkg/executor"
	"github.com/ecoachlabs/ideamind-sub006/pkg/observability"
	"github.com/ecoachlabs/ideamind-sub006/pkg/streamqueue"
	"github.com/ecoachlabs/ideamind-sub006/pkg/taskrepo"
)

// heartbeatInterval is runTask's fixed liveness-signal cadence.
const heartbeatInterval = 60 * time.Second

// Worker executes one task at a time to completion, per runTask's
// strict sequence: status -> checkpoint load -> heartbeat -> executor
// invocation -> commit.
type Worker struct {
	ID          string
	repo        *taskrepo.Store
	checkpoints *checkpoint.Manager
	executors   *executor.Registry
	queue       *streamqueue.Queue
	obs         *observability.Manager
}

// New constructs a Worker identified by id.
func New(id string, repo *taskrepo.Store, checkpoints *checkpoint.Manager, executors *executor.Registry, queue *streamqueue.Queue) *Worker {
	return &Worker{ID: id, repo: repo, checkpoints: checkpoints, executors: executors, queue: queue}
}

// WithObservability attaches a Manager used to trace and instrument
// every task this Worker runs. Nil is safe and disables both.
func (w *Worker) WithObservability(obs *observability.Manager) *Worker {
	w.obs = obs
	return w
}

// Handle adapts RunTask to streamqueue.Handler. A delivered message
// carries a TaskSpec keyed by the idempotence key the scheduler used
// to create the row, so the worker resolves the durable task from it
// rather than trusting an id inside the payload.
func (w *Worker) Handle(ctx context.Context, msg streamqueue.Message) error {
	task, err := w.repo.GetByIdempotenceKey(ctx, msg.Key)
	if err != nil {
		return fmt.Errorf("worker: resolve task for message %s: %w", msg.Key, err)
	}
	return w.RunTask(ctx, task)
}

// RunTask runs one task to completion or failure.
func (w *Worker) RunTask(ctx context.Context, task *taskrepo.Task) error {
	if err := w.repo.UpdateStatus(ctx, task.ID, taskrepo.StatusRunning, w.ID); err != nil {
		return fmt.Errorf("worker: update status running %s: %w", task.ID, err)
	}

	var checkpointToken string
	var checkpointData json.RawMessage
	cp, err := w.checkpoints.LoadCheckpoint(ctx, task.ID)
	if err != nil && err != checkpoint.ErrNotFound {
		return fmt.Errorf("worker: load checkpoint %s: %w", task.ID, err)
	}
	if cp != nil {
		checkpointToken = cp.Token
		checkpointData = cp.Data
	}

	taskCtx, cancelTask := context.WithCancel(ctx)
	defer cancelTask()

	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go w.runHeartbeat(taskCtx, &hbWG, task.ID, cancelTask)

	input := make(map[string]any, len(task.Input)+2)
	for k, v := range task.Input {
		input[k] = v
	}
	input["checkpoint"] = checkpointToken
	input["checkpointData"] = checkpointData

	target := executor.ParseTarget(task.Target)
	checkpointCb := executor.CheckpointFunc(w.checkpoints.CreateCheckpointCallback(task.ID))

	tracer := w.obs.Tracer()
	execCtx, span := tracer.StartTaskExecution(taskCtx, task.ID, task.Type, task.Target, w.ID)

	w.obs.Metrics().IncTasksActive(task.Type)
	start := time.Now()
	var result executor.Result
	switch task.Type {
	case "tool":
		result, err = w.executors.ExecuteTool(execCtx, target, input, checkpointCb)
	default:
		result, err = w.executors.ExecuteAgent(execCtx, target, input, checkpointCb)
	}
	w.obs.Metrics().DecTasksActive(task.Type)

	cancelTask()
	hbWG.Wait()

	durationMS := time.Since(start).Milliseconds()

	status := "success"
	if err != nil {
		status = "failure"
	}
	w.obs.Metrics().RecordTaskDuration(task.Type, status, time.Duration(durationMS)*time.Millisecond)
	tracer.AddTaskResult(span, status, durationMS)

	if err != nil {
		tracer.RecordError(span, err)
		span.End()
		w.obs.Metrics().RecordTaskError(task.Type, fmt.Sprintf("%T", err))
		if failErr := w.repo.Fail(ctx, task.ID, err, task.Retries+1); failErr != nil {
			return fmt.Errorf("worker: record failure %s: %w (executor error: %v)", task.ID, failErr, err)
		}
		return nil
	}

	tracer.AddPayload(span, "", fmt.Sprintf("%v", result.Output))
	span.End()

	metrics := taskrepo.Metrics{CostUSD: result.CostUSD, Tokens: result.TokensUsed, DurationMS: durationMS}
	if err := w.repo.Complete(ctx, task.ID, result.Output, metrics); err != nil {
		return fmt.Errorf("worker: complete %s: %w", task.ID, err)
	}
	if err := w.checkpoints.DeleteCheckpoint(ctx, task.ID); err != nil {
		slog.Warn("worker: delete checkpoint after completion failed", "task_id", task.ID, "error", err)
	}
	return nil
}

// runHeartbeat interleaves with the executor invocation for the entire
// task lifetime. Its own failures are logged, never propagated: an
// executor already in flight must not be aborted by a heartbeat
// write failing. It also watches for the task being cancelled out
// from under it (cancelPhase) and cancels taskCtx so the executor can
// observe it at its next checkpoint boundary.
func (w *Worker) runHeartbeat(ctx context.Context, wg *sync.WaitGroup, taskID string, cancelTask context.CancelFunc) {
	defer wg.Done()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bg := context.Background()
			if err := w.repo.UpdateHeartbeat(bg, taskID); err != nil {
				slog.Warn("worker: heartbeat db write failed", "task_id", taskID, "error", err)
			}
			if w.queue != nil {
				if err := w.queue.WriteHeartbeat(bg, taskID, w.ID); err != nil {
					slog.Warn("worker: heartbeat kv write failed", "task_id", taskID, "error", err)
				}
			}

			t, err := w.repo.GetByID(bg, taskID)
			if err != nil {
				slog.Warn("worker: heartbeat status check failed", "task_id", taskID, "error", err)
				continue
			}
			if t.Status == taskrepo.StatusCancelled {
				cancelTask()
				return
			}
		}
	}
}
