// Package events implements the typed Event Model: every event carries
// a BaseEvent envelope plus a family-specific typed payload, validated
// on ingress and egress against a generated JSON Schema.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type is a dot-separated event type name, e.g. "phase.ready".
type Type string

const (
	WorkflowCreated      Type = "workflow.created"
	WorkflowStateChanged Type = "workflow.state.changed"
	WorkflowPaused       Type = "workflow.paused"
	WorkflowResumed      Type = "workflow.resumed"
	WorkflowFailed       Type = "workflow.failed"
	WorkflowCompleted    Type = "workflow.completed"

	PhaseStarted     Type = "phase.started"
	PhaseProgress    Type = "phase.progress"
	PhaseStalled     Type = "phase.stalled"
	PhaseReady       Type = "phase.ready"
	PhaseGatePassed  Type = "phase.gate.passed"
	PhaseGateFailed  Type = "phase.gate.failed"
	PhaseError       Type = "phase.error"

	AgentStarted       Type = "agent.started"
	AgentCompleted     Type = "agent.completed"
	AgentFailed        Type = "agent.failed"
	AgentToolRequested Type = "agent.tool.requested"

	ToolExecutionStarted   Type = "tool.execution.started"
	ToolExecutionCompleted Type = "tool.execution.completed"
	ToolExecutionFailed    Type = "tool.execution.failed"

	GateEvaluationStarted   Type = "gate.evaluation.started"
	GateEvaluationCompleted Type = "gate.evaluation.completed"
	GateBlocked             Type = "gate.blocked"

	BudgetThresholdExceeded Type = "budget.threshold.exceeded"
	BudgetLimitReached      Type = "budget.limit.reached"

	MemoryDeltaCreated Type = "memory.delta.created"
	MemoryDeltaUpdated Type = "memory.delta.updated"
	MemoryDeltaDeleted Type = "memory.delta.deleted"

	ArtifactProduced Type = "artifact.produced"

	MemoryPolicyPromoted   Type = "memory.policy.promoted"
	MemoryFrameInvalidated Type = "memory.frame.invalidated"
)

// BaseEvent is the envelope every event carries.
type BaseEvent struct {
	EventID       string         `json:"eventId"`
	Type          Type           `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	WorkflowRunID string         `json:"workflowRunId"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Phase         string         `json:"phase,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Event is a BaseEvent plus its family-specific typed payload.
type Event struct {
	BaseEvent
	Payload any `json:"payload"`
}

// New stamps a fresh BaseEvent with a UUIDv4 eventId and the current time.
func New(t Type, workflowRunID string, payload any) Event {
	return Event{
		BaseEvent: BaseEvent{
			EventID:       uuid.NewString(),
			Type:          t,
			Timestamp:     time.Now().UTC(),
			WorkflowRunID: workflowRunID,
		},
		Payload: payload,
	}
}

// WorkflowCompletedPayload is the workflow.completed payload.
type WorkflowCompletedPayload struct {
	TotalCostUSD  float64 `json:"totalCostUsd"`
	TotalTokens   int64   `json:"totalTokens"`
	DurationMS    int64   `json:"durationMs"`
	ArtifactCount int     `json:"artifactCount"`
}

// WorkflowStateChangedPayload is the workflow.state.changed payload.
type WorkflowStateChangedPayload struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// PhaseStartedPayload is the phase.started payload.
type PhaseStartedPayload struct {
	PhaseRunID string `json:"phase_run_id"`
	ConfigHash string `json:"config_hash,omitempty"`
}

// PhaseProgressPayload is the phase.progress payload.
type PhaseProgressPayload struct {
	TaskID  string         `json:"task_id"`
	Pct     float64        `json:"pct"`
	ETA     *time.Time     `json:"eta,omitempty"`
	Metrics map[string]any `json:"metrics,omitempty"`
}

// PhaseStalledPayload is the phase.stalled payload.
type PhaseStalledPayload struct {
	TaskID        string    `json:"task_id"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	DurationMS    int64     `json:"duration_ms"`
}

// PhaseReadyPayload is the phase.ready payload.
type PhaseReadyPayload struct {
	Artifacts   []string  `json:"artifacts"`
	CompletedAt time.Time `json:"completed_at"`
}

// PhaseGatePassedPayload is the phase.gate.passed payload.
type PhaseGatePassedPayload struct {
	EvidencePackID string   `json:"evidence_pack_id"`
	Score          float64  `json:"score"`
	RubricsMet     []string `json:"rubrics_met"`
}

// GateHint is a single failed-metric shortfall.
type GateHint struct {
	Metric    string  `json:"metric"`
	Actual    float64 `json:"actual"`
	Threshold float64 `json:"threshold"`
	Advice    string  `json:"advice"`
}

// PhaseGateFailedPayload is the phase.gate.failed payload.
type PhaseGateFailedPayload struct {
	Reasons         []string   `json:"reasons"`
	Score           float64    `json:"score"`
	RequiredActions []string   `json:"required_actions"`
	CanWaive        bool       `json:"can_waive"`
	Hints           []GateHint `json:"hints,omitempty"`
}

// PhaseErrorPayload is the phase.error payload.
type PhaseErrorPayload struct {
	Error      string `json:"error"`
	Retryable  bool   `json:"retryable"`
	RetryCount int    `json:"retry_count"`
}

// AgentCompletedPayload is the agent.completed payload.
type AgentCompletedPayload struct {
	CostUSD    float64  `json:"cost"`
	Tokens     int64    `json:"tokens"`
	DurationMS int64    `json:"duration"`
	Tools      []string `json:"tools,omitempty"`
}

// AgentFailedPayload is the agent.failed payload.
type AgentFailedPayload struct {
	RetryCount int  `json:"retryCount"`
	Retryable  bool `json:"retryable"`
}

// AgentToolRequestedPayload is the agent.tool.requested payload.
type AgentToolRequestedPayload struct {
	Tool           string  `json:"tool"`
	VoiScore       float64 `json:"voiScore"`
	EstimatedCost  float64 `json:"estimatedCost"`
}

// ToolExecutionPayload covers tool.execution.{started,completed,failed}.
type ToolExecutionPayload struct {
	Runtime string `json:"runtime"` // docker | wasm | native
	Input   any    `json:"input,omitempty"`
	Output  any    `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// GateResult is the gate.evaluation.completed result classification.
type GateResult string

const (
	GatePass GateResult = "PASS"
	GateFail GateResult = "FAIL"
	GateWarn GateResult = "WARN"
)

// GateEvidence is one rubric criterion's evaluation.
type GateEvidence struct {
	Criterion string  `json:"criterion"`
	Passed    bool    `json:"passed"`
	Score     float64 `json:"score"`
	Details   string  `json:"details,omitempty"`
}

// GateEvaluationCompletedPayload is the gate.evaluation.completed payload.
type GateEvaluationCompletedPayload struct {
	Result               GateResult     `json:"result"`
	Score                float64        `json:"score"`
	Evidence             []GateEvidence `json:"evidence"`
	HumanReviewRequired   bool           `json:"humanReviewRequired"`
}

// BudgetThresholdPayload covers budget.threshold.exceeded and budget.limit.reached.
type BudgetThresholdPayload struct {
	Resource string  `json:"resource"`
	Used     float64 `json:"used"`
	Limit    float64 `json:"limit"`
}

// MemoryDeltaPayload covers memory.delta.{created,updated,deleted}.
type MemoryDeltaPayload struct {
	FrameID string `json:"frame_id"`
	Scope   string `json:"scope"`
	Theme   string `json:"theme"`
}

// ArtifactProducedPayload is the artifact.produced payload.
type ArtifactProducedPayload struct {
	ArtifactType string `json:"type"`
	URI          string `json:"uri"`
	SHA256       string `json:"sha256"`
	Phase        string `json:"phase,omitempty"`
}

// MemoryPolicyPromotedPayload is the memory.policy.promoted payload.
type MemoryPolicyPromotedPayload struct {
	FrameID string `json:"frame_id"`
	Scope   string `json:"scope"`
}

// MemoryFrameInvalidatedPayload is the memory.frame.invalidated payload.
type MemoryFrameInvalidatedPayload struct {
	FrameID string `json:"frame_id"`
	Reason  string `json:"reason"`
}
