package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/invopop/jsonschema"
)

// registry maps an event Type to the Go type its payload must decode into.
var registry = map[Type]reflect.Type{
	WorkflowCompleted:       reflect.TypeOf(WorkflowCompletedPayload{}),
	WorkflowStateChanged:    reflect.TypeOf(WorkflowStateChangedPayload{}),
	PhaseStarted:            reflect.TypeOf(PhaseStartedPayload{}),
	PhaseProgress:           reflect.TypeOf(PhaseProgressPayload{}),
	PhaseStalled:            reflect.TypeOf(PhaseStalledPayload{}),
	PhaseReady:              reflect.TypeOf(PhaseReadyPayload{}),
	PhaseGatePassed:         reflect.TypeOf(PhaseGatePassedPayload{}),
	PhaseGateFailed:         reflect.TypeOf(PhaseGateFailedPayload{}),
	PhaseError:              reflect.TypeOf(PhaseErrorPayload{}),
	AgentCompleted:          reflect.TypeOf(AgentCompletedPayload{}),
	AgentFailed:             reflect.TypeOf(AgentFailedPayload{}),
	AgentToolRequested:      reflect.TypeOf(AgentToolRequestedPayload{}),
	ToolExecutionStarted:    reflect.TypeOf(ToolExecutionPayload{}),
	ToolExecutionCompleted:  reflect.TypeOf(ToolExecutionPayload{}),
	ToolExecutionFailed:     reflect.TypeOf(ToolExecutionPayload{}),
	GateEvaluationCompleted: reflect.TypeOf(GateEvaluationCompletedPayload{}),
	BudgetThresholdExceeded: reflect.TypeOf(BudgetThresholdPayload{}),
	BudgetLimitReached:      reflect.TypeOf(BudgetThresholdPayload{}),
	MemoryDeltaCreated:      reflect.TypeOf(MemoryDeltaPayload{}),
	MemoryDeltaUpdated:      reflect.TypeOf(MemoryDeltaPayload{}),
	MemoryDeltaDeleted:      reflect.TypeOf(MemoryDeltaPayload{}),
	ArtifactProduced:        reflect.TypeOf(ArtifactProducedPayload{}),
	MemoryPolicyPromoted:    reflect.TypeOf(MemoryPolicyPromotedPayload{}),
	MemoryFrameInvalidated:  reflect.TypeOf(MemoryFrameInvalidatedPayload{}),
}

// Validator validates events' payloads on ingress/egress: each
// payload's declared JSON fields must be a subset of its registered
// Go type's fields (unrecognized fields are rejected) and it must
// decode cleanly into that type.
//
// Schemas are generated once per Type with invopop/jsonschema and
// cached; the generated schema is exposed via Schema for callers that
// want to publish it (e.g. an admin endpoint), while the actual
// accept/reject decision uses strict decoding against the same
// registered Go type the schema was reflected from.
type Validator struct {
	mu       sync.Mutex
	reflector *jsonschema.Reflector
	schemas  map[Type]*jsonschema.Schema
}

// NewValidator constructs an empty schema cache.
func NewValidator() *Validator {
	return &Validator{
		reflector: &jsonschema.Reflector{DoNotReference: true},
		schemas:   make(map[Type]*jsonschema.Schema),
	}
}

// Schema returns (and lazily generates) the JSON Schema for t.
func (v *Validator) Schema(t Type) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.schemas[t]; ok {
		return s, nil
	}
	goType, ok := registry[t]
	if !ok {
		return nil, fmt.Errorf("events: no schema registered for type %q", t)
	}
	schema := v.reflector.ReflectFromType(goType)
	v.schemas[t] = schema
	return schema, nil
}

// Validate checks ev.Payload decodes into its type's registered Go
// struct with no unrecognized fields.
func (v *Validator) Validate(ev Event) error {
	goType, ok := registry[ev.Type]
	if !ok {
		return fmt.Errorf("events: no schema registered for type %q", ev.Type)
	}

	raw, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("events: marshal payload for %q: %w", ev.Type, err)
	}

	target := reflect.New(goType).Interface()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("events: %q payload failed validation: %w", ev.Type, err)
	}
	return nil
}
