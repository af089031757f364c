package phase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ecoachlabs/ideamind-sub006/pkg/events"
)

// ErrPhaseFailed is returned when fewer than MinRequiredAgents succeed.
var ErrPhaseFailed = fmt.Errorf("phase: fewer than minRequiredAgents succeeded")

// Coordinator runs one phase to completion: initialize agents, dispatch
// them under the configured parallelism model, aggregate results, and
// optionally gate the outcome with retry-on-fail.
type Coordinator struct {
	Driver     Driver
	Gatekeeper Gatekeeper
	Config     Config
	Publisher  Publisher
	WorkflowRunID string
	PhaseRunID    string
}

// Run executes the phase's template-method sequence.
func (c *Coordinator) Run(ctx context.Context, input PhaseInput) (PhaseResult, error) {
	agents, err := c.Driver.InitializeAgents(ctx)
	if err != nil {
		return PhaseResult{}, fmt.Errorf("phase: initialize agents: %w", err)
	}

	c.publish(events.PhaseStarted, events.PhaseStartedPayload{PhaseRunID: c.PhaseRunID})

	maxRetries := c.Config.MaxGateRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var result PhaseResult
	for attempt := 1; attempt <= maxRetries; attempt++ {
		result.Attempts = attempt

		successes, failures, err := c.runAgents(ctx, agents, input)
		if err != nil {
			return result, fmt.Errorf("phase: run agents: %w", err)
		}
		result.Successes, result.Failures = successes, failures

		if len(successes) < c.Config.MinRequiredAgents {
			c.publish(events.PhaseError, events.PhaseErrorPayload{
				Error:      fmt.Sprintf("%d of %d required agents succeeded", len(successes), c.Config.MinRequiredAgents),
				RetryCount: attempt - 1,
			})
			return result, ErrPhaseFailed
		}

		artifacts, err := c.Driver.AggregateResults(ctx, successes, failures, input)
		if err != nil {
			return result, fmt.Errorf("phase: aggregate results: %w", err)
		}
		result.Artifacts = artifacts

		c.publish(events.PhaseReady, events.PhaseReadyPayload{
			Artifacts:   artifactIDs(artifacts),
			CompletedAt: time.Now().UTC(),
		})

		if c.Gatekeeper == nil {
			return result, nil
		}

		gateInput, err := c.Driver.PrepareGateInput(ctx, artifacts, input)
		if err != nil {
			return result, fmt.Errorf("phase: prepare gate input: %w", err)
		}
		verdict, err := c.Gatekeeper.Evaluate(ctx, gateInput)
		if err != nil {
			return result, fmt.Errorf("phase: evaluate gate: %w", err)
		}
		result.Gate = &verdict

		if verdict.Verdict == GatePass {
			c.publish(events.PhaseGatePassed, events.PhaseGatePassedPayload{
				EvidencePackID: verdict.EvidencePackID,
				Score:          verdict.Score,
				RubricsMet:     verdict.RubricsMet,
			})
			return result, nil
		}

		c.publish(events.PhaseGateFailed, events.PhaseGateFailedPayload{
			Reasons:         verdict.Reasons,
			Score:           verdict.Score,
			RequiredActions: verdict.RequiredActions,
			CanWaive:        verdict.CanWaive,
			Hints:           verdict.Hints,
		})

		if !c.Config.AutoRetry || attempt == maxRetries {
			return result, nil
		}
		input = c.Driver.EnhanceInputWithHints(input, verdict.Hints)
	}
	return result, nil
}

// runAgents dispatches every agent under the configured parallelism
// model, bounding concurrency at MaxConcurrency when Parallel.
func (c *Coordinator) runAgents(ctx context.Context, agents []Agent, input PhaseInput) ([]AgentOutcome, []AgentOutcome, error) {
	outcomes := make([]AgentOutcome, len(agents))

	if c.Config.Parallelism == Sequential {
		for i, agent := range agents {
			outcomes[i] = c.runOne(ctx, agent, input)
		}
	} else {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		if c.Config.MaxConcurrency > 0 {
			g.SetLimit(c.Config.MaxConcurrency)
		}
		for i, agent := range agents {
			i, agent := i, agent
			g.Go(func() error {
				oc := c.runOne(gctx, agent, input)
				mu.Lock()
				outcomes[i] = oc
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, nil, err
		}
	}

	var successes, failures []AgentOutcome
	for _, oc := range outcomes {
		if oc.Err == nil {
			successes = append(successes, oc)
		} else {
			failures = append(failures, oc)
		}
	}
	return successes, failures, nil
}

func (c *Coordinator) runOne(ctx context.Context, agent Agent, input PhaseInput) AgentOutcome {
	agentInput, err := c.Driver.PrepareAgentInput(ctx, agent, input)
	if err != nil {
		return AgentOutcome{Agent: agent, Err: fmt.Errorf("prepare input for %s: %w", agent.Name(), err)}
	}
	output, err := agent.Run(ctx, agentInput)
	if err != nil {
		return AgentOutcome{Agent: agent, Err: fmt.Errorf("run %s: %w", agent.Name(), err)}
	}
	return AgentOutcome{Agent: agent, Output: output}
}

func (c *Coordinator) publish(t events.Type, payload any) {
	if c.Publisher == nil {
		return
	}
	c.Publisher.Publish(string(t), events.New(t, c.WorkflowRunID, payload))
}

func artifactIDs(artifacts []Artifact) []string {
	ids := make([]string, len(artifacts))
	for i, a := range artifacts {
		ids[i] = a.ID
	}
	return ids
}
