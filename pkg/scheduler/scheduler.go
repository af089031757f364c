package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ecoachlabs/ideamind-sub006/pkg/idempotence"
	"github.com/ecoachlabs/ideamind-sub006/pkg/observability"
	"github.com/ecoachlabs/ideamind-sub006/pkg/streamqueue"
	"github.com/ecoachlabs/ideamind-sub006/pkg/taskrepo"
)

// costPerThousandTokens is the flat a-priori cost estimate used until
// an actual executor-reported cost is available (spec §4.4 step 3).
const costPerThousandTokens = 0.01

// shardKeys are the recognized input keys eligible for sharding.
var shardKeys = []string{"questions", "tests", "items", "data", "list"}

// Result is schedule's return value.
type Result struct {
	TaskIDs       []string
	TotalTasks    int
	EnqueuedTasks int
}

// Scheduler materializes Phase Plans into TaskSpecs, inserts them into
// the Task Repository, and enqueues them on the Job Queue.
type Scheduler struct {
	repo  *taskrepo.Store
	queue *streamqueue.Queue
	obs   *observability.Manager
}

// New constructs a Scheduler over a Task Repository and Job Queue.
func New(repo *taskrepo.Store, queue *streamqueue.Queue) *Scheduler {
	return &Scheduler{repo: repo, queue: queue}
}

// WithObservability attaches a Manager used to trace and instrument
// every enqueue this Scheduler performs. Nil is safe and disables both.
func (e *Scheduler) WithObservability(obs *observability.Manager) *Scheduler {
	e.obs = obs
	return e
}

// Schedule implements schedule(plan, ctx): builds one TaskSpec per
// agent, inserts it (status=pending), and enqueues it on topic "tasks".
func (e *Scheduler) Schedule(ctx context.Context, plan Plan, rc Context) (Result, error) {
	n := int64(len(plan.Agents))
	if n == 0 {
		return Result{}, fmt.Errorf("scheduler: plan %s has no agents", plan.Phase)
	}

	tokensPerAgent := plan.Budgets.Tokens / n
	msPerAgent := plan.TimeboxMS / n

	tracer := e.obs.Tracer()
	spanCtx, span := tracer.StartQueueEnqueue(ctx, plan.Phase, "tasks", len(plan.Agents))
	defer span.End()

	var result Result
	for _, target := range plan.Agents {
		input := map[string]any{}
		for k, v := range rc.Inputs {
			input[k] = v
		}
		input["run_id"] = rc.RunID
		input["phase_id"] = rc.PhaseID
		input["rubrics"] = plan.Rubrics
		input["budget"] = map[string]any{"max_tokens": tokensPerAgent, "max_cost_usd": float64(tokensPerAgent) / 1000 * costPerThousandTokens}

		keyInputs := map[string]any{"agent": target}
		for k, v := range rc.Inputs {
			keyInputs[k] = v
		}
		key, err := idempotence.Of(plan.Phase, keyInputs, plan.Version)
		if err != nil {
			return result, fmt.Errorf("scheduler: derive idempotence key: %w", err)
		}

		spec := taskrepo.TaskSpec{
			Phase:          plan.Phase,
			Type:           "agent",
			Target:         target,
			Input:          input,
			Budget:         taskrepo.Budget{MS: msPerAgent, Tokens: tokensPerAgent},
			IdempotenceKey: key,
		}

		id, err := e.repo.Create(ctx, spec)
		if err != nil {
			tracer.RecordError(span, err)
			return result, fmt.Errorf("scheduler: create task for %s: %w", target, err)
		}
		result.TaskIDs = append(result.TaskIDs, id)
		result.TotalTasks++

		msgID, err := e.queue.Enqueue(spanCtx, "tasks", spec, key)
		if err != nil {
			tracer.RecordError(span, err)
			return result, fmt.Errorf("scheduler: enqueue task %s: %w", id, err)
		}
		if msgID != "" {
			result.EnqueuedTasks++
			e.obs.Metrics().RecordEnqueue(plan.Phase, "tasks")
		} else {
			slog.Debug("scheduler: enqueue deduped, task row retained", "task_id", id, "key", key)
		}
	}

	return result, nil
}

// ShardTask splits spec into shardSize-bounded shards when its input
// carries a list at one of the recognized shard keys; otherwise it
// returns []TaskSpec{spec} unchanged.
func ShardTask(spec taskrepo.TaskSpec, shardSize int) ([]taskrepo.TaskSpec, error) {
	for _, key := range shardKeys {
		raw, ok := spec.Input[key]
		if !ok {
			continue
		}
		list, ok := raw.([]any)
		if !ok || len(list) <= shardSize {
			continue
		}

		var shards []taskrepo.TaskSpec
		total := (len(list) + shardSize - 1) / shardSize
		for i := 0; i < total; i++ {
			start := i * shardSize
			end := start + shardSize
			if end > len(list) {
				end = len(list)
			}

			shardInput := map[string]any{}
			for k, v := range spec.Input {
				shardInput[k] = v
			}
			shardInput[key] = list[start:end]
			shardInput["_shard"] = map[string]any{"index": i, "total": total, "start": start, "end": end}

			shard := spec
			shard.Input = shardInput
			shard.IdempotenceKey = fmt.Sprintf("%s-shard-%d", spec.IdempotenceKey, i)
			shards = append(shards, shard)
		}
		return shards, nil
	}
	return []taskrepo.TaskSpec{spec}, nil
}

// CancelPhase marks all pending|running tasks of a phase as cancelled.
func (e *Scheduler) CancelPhase(ctx context.Context, phase string) (int, error) {
	return e.repo.CancelPhase(ctx, phase)
}
