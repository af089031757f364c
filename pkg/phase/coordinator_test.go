package phase

import (
	"context"
	"fmt"
	"testing"

	"github.com/ecoachlabs/ideamind-sub006/pkg/events"
)

type fakeAgent struct {
	name string
	fail bool
}

func (a *fakeAgent) Name() string { return a.name }

func (a *fakeAgent) Run(ctx context.Context, input any) (AgentOutput, error) {
	if a.fail {
		return AgentOutput{}, fmt.Errorf("agent %s failed", a.name)
	}
	return AgentOutput{Result: a.name + ":done"}, nil
}

type fakeDriver struct {
	agents        []Agent
	hints         []events.GateHint
	enhanceCalled int
}

func (d *fakeDriver) InitializeAgents(ctx context.Context) ([]Agent, error) { return d.agents, nil }

func (d *fakeDriver) PrepareAgentInput(ctx context.Context, agent Agent, input PhaseInput) (any, error) {
	return input.Data, nil
}

func (d *fakeDriver) AggregateResults(ctx context.Context, successes, failures []AgentOutcome, input PhaseInput) ([]Artifact, error) {
	var out []Artifact
	for _, s := range successes {
		out = append(out, Artifact{ID: s.Agent.Name(), Type: "text"})
	}
	return out, nil
}

func (d *fakeDriver) PrepareGateInput(ctx context.Context, artifacts []Artifact, input PhaseInput) (GateEvaluationInput, error) {
	return GateEvaluationInput{Artifacts: artifacts}, nil
}

func (d *fakeDriver) EnhanceInputWithHints(input PhaseInput, hints []events.GateHint) PhaseInput {
	d.enhanceCalled++
	input.GateHints = hints
	return input
}

type fakeGatekeeper struct {
	verdicts []GateVerdict
	calls    int
}

func (g *fakeGatekeeper) Evaluate(ctx context.Context, input GateEvaluationInput) (GateEvaluationResult, error) {
	v := g.verdicts[g.calls]
	g.calls++
	result := GateEvaluationResult{Verdict: v, Score: 50}
	if v == GateFail {
		result.Hints = []events.GateHint{{Metric: "coverage", Actual: 0.4, Threshold: 0.8, Advice: "add more tests"}}
	}
	return result, nil
}

type recordingPublisher struct {
	events []events.Event
}

func (p *recordingPublisher) Publish(topic string, evt events.Event) {
	p.events = append(p.events, evt)
}

func TestCoordinatorRunSucceedsWithoutGatekeeper(t *testing.T) {
	driver := &fakeDriver{agents: []Agent{&fakeAgent{name: "a1"}, &fakeAgent{name: "a2"}}}
	pub := &recordingPublisher{}
	c := &Coordinator{
		Driver:    driver,
		Config:    Config{Parallelism: Parallel, MinRequiredAgents: 2, MaxGateRetries: 1},
		Publisher: pub,
	}

	result, err := c.Run(context.Background(), PhaseInput{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Successes) != 2 || len(result.Artifacts) != 2 {
		t.Fatalf("Run: want 2 successes and 2 artifacts, got %+v", result)
	}

	sawStarted, sawReady := false, false
	for _, e := range pub.events {
		if e.Type == events.PhaseStarted {
			sawStarted = true
		}
		if e.Type == events.PhaseReady {
			sawReady = true
		}
	}
	if !sawStarted || !sawReady {
		t.Fatalf("Run: want phase.started and phase.ready emitted, got %+v", pub.events)
	}
}

func TestCoordinatorFailsBelowMinRequiredAgents(t *testing.T) {
	driver := &fakeDriver{agents: []Agent{&fakeAgent{name: "a1", fail: true}, &fakeAgent{name: "a2", fail: true}}}
	c := &Coordinator{
		Driver: driver,
		Config: Config{Parallelism: Sequential, MinRequiredAgents: 1, MaxGateRetries: 1},
	}

	_, err := c.Run(context.Background(), PhaseInput{})
	if err != ErrPhaseFailed {
		t.Fatalf("Run: want ErrPhaseFailed, got %v", err)
	}
}

func TestCoordinatorRetriesOnGateFailThenPasses(t *testing.T) {
	driver := &fakeDriver{agents: []Agent{&fakeAgent{name: "a1"}}}
	gate := &fakeGatekeeper{verdicts: []GateVerdict{GateFail, GatePass}}
	c := &Coordinator{
		Driver:     driver,
		Gatekeeper: gate,
		Config:     Config{Parallelism: Sequential, MinRequiredAgents: 1, AutoRetry: true, MaxGateRetries: 2},
	}

	result, err := c.Run(context.Background(), PhaseInput{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Attempts != 2 {
		t.Fatalf("Run: want 2 attempts, got %d", result.Attempts)
	}
	if driver.enhanceCalled != 1 {
		t.Fatalf("Run: want EnhanceInputWithHints called once, got %d", driver.enhanceCalled)
	}
	if result.Gate == nil || result.Gate.Verdict != GatePass {
		t.Fatalf("Run: want final gate verdict PASS, got %+v", result.Gate)
	}
}

func TestCoordinatorStopsRetryingWithoutAutoRetry(t *testing.T) {
	driver := &fakeDriver{agents: []Agent{&fakeAgent{name: "a1"}}}
	gate := &fakeGatekeeper{verdicts: []GateVerdict{GateFail}}
	c := &Coordinator{
		Driver:     driver,
		Gatekeeper: gate,
		Config:     Config{Parallelism: Sequential, MinRequiredAgents: 1, AutoRetry: false, MaxGateRetries: 3},
	}

	result, err := c.Run(context.Background(), PhaseInput{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Attempts != 1 {
		t.Fatalf("Run: want 1 attempt when AutoRetry is false, got %d", result.Attempts)
	}
	if gate.calls != 1 {
		t.Fatalf("Run: want gatekeeper invoked once, got %d", gate.calls)
	}
}
