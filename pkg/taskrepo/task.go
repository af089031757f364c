// Package taskrepo implements the durable record of every task's
// lifecycle, metrics, worker assignment and preemption history.
package taskrepo

import "time"

// Status is a Task's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusPreempted Status = "preempted"
)

// PriorityClass is one of P0 (never preempt) .. P3 (first to preempt).
type PriorityClass string

const (
	P0 PriorityClass = "P0"
	P1 PriorityClass = "P1"
	P2 PriorityClass = "P2"
	P3 PriorityClass = "P3"
)

// Preemptible reports whether tasks of this class may ever be preempted.
func (c PriorityClass) Preemptible() bool {
	return c != P0
}

// Budget is a per-task wall budget and token budget.
type Budget struct {
	MS     int64 `json:"ms"`
	Tokens int64 `json:"tokens,omitempty"`
}

// TaskSpec is the immutable unit of scheduling.
type TaskSpec struct {
	Phase          string         `json:"phase"`
	Type           string         `json:"type"` // "agent" | "tool"
	Target         string         `json:"target"`
	Input          map[string]any `json:"input"`
	Retries        int            `json:"retries"`
	Budget         Budget         `json:"budget"`
	IdempotenceKey string         `json:"idempotence_key"`
}

// Task is the durable record: a TaskSpec plus lifecycle.
type Task struct {
	ID    string `json:"id"`
	TaskSpec

	Status Status `json:"status"`

	WorkerID         string     `json:"worker_id,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	LastHeartbeatAt  *time.Time `json:"last_heartbeat_at,omitempty"`

	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	CostUSD     float64        `json:"cost_usd,omitempty"`
	TokensUsed  int64          `json:"tokens_used,omitempty"`
	DurationMS  int64          `json:"duration_ms,omitempty"`

	PriorityClass     PriorityClass `json:"priority_class,omitempty"`
	Overridable       bool          `json:"overridable,omitempty"`
	Preempted         bool          `json:"preempted"`
	PreemptionReason  string        `json:"preemption_reason,omitempty"`
	PreemptedAt       *time.Time    `json:"preempted_at,omitempty"`
	ResumedAt         *time.Time    `json:"resumed_at,omitempty"`
	PreemptionCount   int           `json:"preemption_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Metrics is the final accounting a Worker reports on completion.
type Metrics struct {
	CostUSD    float64
	Tokens     int64
	DurationMS int64
}

// Stats summarizes a phase's task outcomes for getStatsByPhase.
type Stats struct {
	Phase     string
	Total     int
	Pending   int
	Running   int
	Completed int
	Failed    int
	Cancelled int
	Preempted int
}
