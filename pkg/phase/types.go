// Package phase implements the Phase Coordinator: a template-method
// engine that runs a phase's agents, aggregates their results into
// artifacts, and optionally gates the outcome before declaring the
// phase ready.
package phase

import (
	"context"

	"github.com/ecoachlabs/ideamind-sub006/pkg/events"
)

// Parallelism selects how a phase's agents are dispatched.
type Parallelism string

const (
	Sequential Parallelism = "sequential"
	Parallel   Parallelism = "parallel"
)

// Agent is the external unit of work a phase coordinates. Concrete
// agents (LLM calls, tool invocations, sub-workflows) implement this.
type Agent interface {
	Name() string
	Run(ctx context.Context, input any) (AgentOutput, error)
}

// AgentOutput is what a successful Agent.Run produces.
type AgentOutput struct {
	Result     any
	CostUSD    float64
	Tokens     int64
	DurationMS int64
	Tools      []string
}

// AgentOutcome pairs an agent with its outcome, success or failure.
type AgentOutcome struct {
	Agent  Agent
	Output AgentOutput
	Err    error
}

// Artifact is a reference to something a phase produced.
type Artifact struct {
	ID   string
	Type string
	URI  string
}

// PhaseInput is the per-attempt input threaded through a phase's
// template methods. Data is driver-defined; GateHints carries forward
// shortfalls from a prior failed gate attempt so the driver can
// enhance the next attempt's agent inputs.
type PhaseInput struct {
	Data      any
	GateHints []events.GateHint
}

// GateEvaluationInput is what a Gatekeeper evaluates.
type GateEvaluationInput struct {
	Artifacts []Artifact
	Metadata  map[string]any
}

// GateVerdict is the Gatekeeper's PASS/FAIL/WARN classification.
type GateVerdict string

const (
	GatePass GateVerdict = "PASS"
	GateFail GateVerdict = "FAIL"
	GateWarn GateVerdict = "WARN"
)

// GateEvaluationResult is a Gatekeeper's verdict on one phase attempt.
type GateEvaluationResult struct {
	Verdict         GateVerdict
	EvidencePackID  string
	Score           float64
	RubricsMet      []string
	Reasons         []string
	RequiredActions []string
	CanWaive        bool
	Hints           []events.GateHint
}

// Gatekeeper evaluates a phase's artifacts against its rubrics.
type Gatekeeper interface {
	Evaluate(ctx context.Context, input GateEvaluationInput) (GateEvaluationResult, error)
}

// Publisher dispatches phase events. vault.Broker satisfies this
// interface without pkg/phase needing to import pkg/vault.
type Publisher interface {
	Publish(topic string, evt events.Event)
}

// Config bounds a phase's execution.
type Config struct {
	Parallelism       Parallelism
	MaxConcurrency    int
	MinRequiredAgents int
	AutoRetry         bool
	MaxGateRetries    int
}

// PhaseResult is what Run returns on completion, successful or not.
type PhaseResult struct {
	Artifacts  []Artifact
	Gate       *GateEvaluationResult
	Successes  []AgentOutcome
	Failures   []AgentOutcome
	Attempts   int
}
