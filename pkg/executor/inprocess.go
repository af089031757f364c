package executor

import "context"

// AgentFunc and ToolFunc are the in-process executor entry points
// registered directly against the Registry, bypassing discovery and
// process isolation. Used for lightweight executors and in tests.
type AgentFunc func(ctx context.Context, target Target, input map[string]any, checkpoint CheckpointFunc) (Result, error)
type ToolFunc func(ctx context.Context, target Target, input map[string]any, checkpoint CheckpointFunc) (Result, error)

// InProcessExecutor adapts a pair of Go functions to the Executor
// interface.
type InProcessExecutor struct {
	Agent AgentFunc
	Tool  ToolFunc
}

func (e *InProcessExecutor) ExecuteAgent(ctx context.Context, target Target, input map[string]any, checkpoint CheckpointFunc) (Result, error) {
	if e.Agent == nil {
		return Result{}, ErrNotFound
	}
	return e.Agent(ctx, target, input, checkpoint)
}

func (e *InProcessExecutor) ExecuteTool(ctx context.Context, target Target, input map[string]any, checkpoint CheckpointFunc) (Result, error) {
	if e.Tool == nil {
		return Result{}, ErrNotFound
	}
	return e.Tool(ctx, target, input, checkpoint)
}

func (e *InProcessExecutor) Close() error { return nil }
