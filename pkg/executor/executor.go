// Package executor is the Executor Registry: the boundary between the
// engine and out-of-process agents and tools. It exposes exactly two
// operations, executeAgent and executeTool, each returning an opaque
// result the Worker hands back to the Task Repository unexamined.
//
// Targets are dispatched by Kind: NetRPC loads an out-of-process
// binary over hashicorp/go-plugin's net/rpc transport, MCP calls a
// Model Context Protocol tool server via mark3labs/mcp-go, and
// InProcess dispatches to a function registered directly in this
// process (used for tests and for executors cheap enough not to need
// process isolation).
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ecoachlabs/ideamind-sub006/pkg/registry"
)

// Kind names an executor transport.
type Kind string

const (
	KindNetRPC    Kind = "netrpc"
	KindMCP       Kind = "mcp"
	KindInProcess Kind = "inprocess"
)

// Target names what to execute and how to reach it, carried in a
// TaskSpec's Target field as "kind:name" (e.g. "netrpc:researcher").
type Target struct {
	Kind Kind
	Name string
}

// ParseTarget splits a "kind:name" task target. A bare name with no
// "kind:" prefix defaults to InProcess.
func ParseTarget(raw string) Target {
	for i := 0; i < len(raw); i++ {
		if raw[i] == ':' {
			return Target{Kind: Kind(raw[:i]), Name: raw[i+1:]}
		}
	}
	return Target{Kind: KindInProcess, Name: raw}
}

func (t Target) String() string { return string(t.Kind) + ":" + t.Name }

// Result is the opaque outcome of executeAgent/executeTool.
type Result struct {
	Output     map[string]any
	TokensUsed int64
	CostUSD    float64
	Artifacts  []string
}

// Executor runs one agent or tool target to completion (or until ctx
// is cancelled / the task's own budget check aborts it). checkpoint is
// the curried callback the executor may call zero or more times with
// its own opaque resumption data.
type Executor interface {
	ExecuteAgent(ctx context.Context, target Target, input map[string]any, checkpoint CheckpointFunc) (Result, error)
	ExecuteTool(ctx context.Context, target Target, input map[string]any, checkpoint CheckpointFunc) (Result, error)
	Close() error
}

// CheckpointFunc is the curried per-task checkpoint callback a Worker
// binds before invoking an Executor.
type CheckpointFunc func(ctx context.Context, token string, data any) error

// Manifest describes one discoverable executor binary or endpoint.
type Manifest struct {
	Name        string
	Version     string
	Kind        Kind
	Capabilities []string // "agent", "tool", or both
	Path        string    // binary path (NetRPC) or server command launched over stdio (MCP)
}

// ErrUnsupportedKind is returned when no loader is registered for a target's Kind.
var ErrUnsupportedKind = fmt.Errorf("executor: unsupported kind")

// ErrNotFound is returned when a named executor was never registered or loaded.
var ErrNotFound = fmt.Errorf("executor: not found")

// Loader brings one Kind's manifest to life as an Executor.
type Loader interface {
	Kind() Kind
	Load(ctx context.Context, m Manifest) (Executor, error)
}

// Registry is the Executor Registry: it holds loaded executors keyed
// by name and dispatches executeAgent/executeTool to whichever one a
// TaskSpec's Target names, loading it on first use via the Kind's
// registered Loader.
type Registry struct {
	*registry.BaseRegistry[Executor]

	mu       sync.Mutex
	loaders  map[Kind]Loader
	manifest map[string]Manifest
	names    map[string]struct{}
}

// New constructs an empty Executor Registry.
func New() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Executor](),
		loaders:      make(map[Kind]Loader),
		manifest:     make(map[string]Manifest),
		names:        make(map[string]struct{}),
	}
}

// RegisterLoader wires a Kind's loader into the registry.
func (r *Registry) RegisterLoader(l Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[l.Kind()] = l
}

// Discover makes a manifest available for lazy loading by name,
// without loading it yet.
func (r *Registry) Discover(m Manifest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifest[m.Name] = m
}

// RegisterInProcess registers an already-live Executor directly,
// bypassing manifest-based loading (used by tests and by executors
// implemented in this binary).
func (r *Registry) RegisterInProcess(name string, e Executor) error {
	if err := r.Register(name, e); err != nil {
		return err
	}
	r.mu.Lock()
	r.names[name] = struct{}{}
	r.mu.Unlock()
	return nil
}

func (r *Registry) resolve(ctx context.Context, target Target) (Executor, error) {
	if e, ok := r.Get(target.Name); ok {
		return e, nil
	}

	r.mu.Lock()
	m, known := r.manifest[target.Name]
	loader, hasLoader := r.loaders[target.Kind]
	r.mu.Unlock()

	if !known {
		m = Manifest{Name: target.Name, Kind: target.Kind}
	}
	if !hasLoader {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, target.Kind)
	}

	e, err := loader.Load(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("executor: load %s: %w", target, err)
	}
	if err := r.Register(target.Name, e); err != nil {
		return nil, fmt.Errorf("executor: register %s: %w", target, err)
	}
	r.mu.Lock()
	r.names[target.Name] = struct{}{}
	r.mu.Unlock()
	return e, nil
}

// ExecuteAgent resolves target (loading it on first use) and invokes
// its agent entry point.
func (r *Registry) ExecuteAgent(ctx context.Context, target Target, input map[string]any, checkpoint CheckpointFunc) (Result, error) {
	e, err := r.resolve(ctx, target)
	if err != nil {
		return Result{}, err
	}
	return e.ExecuteAgent(ctx, target, input, checkpoint)
}

// ExecuteTool resolves target (loading it on first use) and invokes
// its tool entry point.
func (r *Registry) ExecuteTool(ctx context.Context, target Target, input map[string]any, checkpoint CheckpointFunc) (Result, error) {
	e, err := r.resolve(ctx, target)
	if err != nil {
		return Result{}, err
	}
	return e.ExecuteTool(ctx, target, input, checkpoint)
}

// Close shuts down every loaded executor (kills subprocesses, closes
// MCP connections), aggregating errors rather than stopping at the
// first one.
func (r *Registry) Close() error {
	r.mu.Lock()
	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}
	r.mu.Unlock()

	var errs []error
	for _, name := range names {
		if e, ok := r.Get(name); ok {
			if err := e.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("executor: %d executors failed to close: %v", len(errs), errs)
	}
	return nil
}

// HealthCheckInterval is a default health-check cadence. Nothing in
// this package runs periodic health checks or reads this constant.
const HealthCheckInterval = 30 * time.Second
