package phase

import (
	"context"

	"github.com/ecoachlabs/ideamind-sub006/pkg/events"
)

// Driver is the capability set a concrete phase supplies to the
// coordinator. Phases differ only in these five methods; the engine
// itself stays closed over the Driver rather than being subclassed.
type Driver interface {
	// InitializeAgents builds the agents this phase runs.
	InitializeAgents(ctx context.Context) ([]Agent, error)

	// PrepareAgentInput builds one agent's input for the current attempt.
	PrepareAgentInput(ctx context.Context, agent Agent, input PhaseInput) (any, error)

	// AggregateResults turns the attempt's outcomes into artifacts.
	AggregateResults(ctx context.Context, successes, failures []AgentOutcome, input PhaseInput) ([]Artifact, error)

	// PrepareGateInput builds the Gatekeeper's input from the attempt's artifacts.
	PrepareGateInput(ctx context.Context, artifacts []Artifact, input PhaseInput) (GateEvaluationInput, error)

	// EnhanceInputWithHints folds a failed gate attempt's hints into
	// the next attempt's input.
	EnhanceInputWithHints(input PhaseInput, hints []events.GateHint) PhaseInput
}
