// Package priority implements the Priority Scheduler: P0-P3 classes,
// resource-utilization monitoring over a rolling window, and
// preemption/resume of running tasks when shared resources saturate.
//
// The rolling-window usage accounting mirrors the teacher's rate
// limiter (sliding-window counters keyed by scope+window), repurposed
// from per-session token/request counting to per-resource-type
// utilization sampling.
package priority

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ecoachlabs/ideamind-sub006/pkg/observability"
	"github.com/ecoachlabs/ideamind-sub006/pkg/taskrepo"
)

// ErrPreemptionLimitExceeded names the case of a task that has already
// hit maxPreemptions. PreemptTask does not return it: it fails such a
// task through the repository and returns that call's error.
var ErrPreemptionLimitExceeded = fmt.Errorf("priority: preemption limit exceeded")

// Resource names the utilization dimension.
type Resource string

const (
	CPU    Resource = "cpu"
	Memory Resource = "memory"
	GPU    Resource = "gpu"
)

// Utilization is one resource dimension's {used, total, percent}.
type Utilization struct {
	Used    float64
	Total   float64
	Percent float64
}

// Selection is a candidate-picking strategy for preemption.
type Selection string

const (
	LongestRunning Selection = "longest-running"
	Newest         Selection = "newest"
	HighestResource Selection = "highest-resource"
	LowestPriority  Selection = "lowest-priority"
)

// Rule is one preemption-policy rule.
type Rule struct {
	Resource  Resource
	Threshold float64 // percent
	Preempt   []taskrepo.PriorityClass
	Count     int
	Selection Selection
	Priority  int
}

// Policy is an ordered list of preemption rules.
type Policy struct {
	Rules []Rule
}

// UsageSource supplies the rolling-window resource usage the Priority
// Scheduler evaluates against. RateLimitUsageSource implements it over
// a ratelimit.Store (the tenant_usage table when SQL-backed), taking
// each resource's total from a quota map.
type UsageSource interface {
	Utilization(ctx context.Context, resource Resource, window time.Duration) (Utilization, error)
}

// Config configures preemption behavior (spec §6).
type Config struct {
	EnablePreemption bool
	GracePeriod      time.Duration
	RetryDelay       time.Duration
	MaxPreemptions   int
}

func (c *Config) setDefaults() {
	if c.GracePeriod == 0 {
		c.GracePeriod = 30 * time.Second
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 60 * time.Second
	}
	if c.MaxPreemptions == 0 {
		c.MaxPreemptions = 3
	}
}

// CheckpointFunc requests a best-effort checkpoint of a running task
// before it is preempted, so the worker can resume from it later. A
// nil func skips the step (the executor may not support mid-flight
// checkpointing for every task type).
type CheckpointFunc func(ctx context.Context, taskID string) error

// Scheduler is the Priority Scheduler.
type Scheduler struct {
	repo       *taskrepo.Store
	usage      UsageSource
	policy     Policy
	cfg        Config
	checkpoint CheckpointFunc
	obs        *observability.Manager

	stopMonitor chan struct{}
}

// New constructs a Priority Scheduler.
func New(repo *taskrepo.Store, usage UsageSource, policy Policy, cfg Config) *Scheduler {
	cfg.setDefaults()
	return &Scheduler{repo: repo, usage: usage, policy: policy, cfg: cfg}
}

// WithCheckpointFunc attaches the hook PreemptTask calls before it
// writes the preemption, and returns the scheduler for chaining.
func (s *Scheduler) WithCheckpointFunc(fn CheckpointFunc) *Scheduler {
	s.checkpoint = fn
	return s
}

// WithObservability attaches a Manager used to instrument preemption
// decisions. Nil is safe and disables both.
func (s *Scheduler) WithObservability(obs *observability.Manager) *Scheduler {
	s.obs = obs
	return s
}

// StartMonitoring runs EvaluatePreemptionPolicy on a fixed interval
// until ctx is cancelled. intervalMS of 0 uses the 30s default.
func (s *Scheduler) StartMonitoring(ctx context.Context, intervalMS int) {
	if intervalMS <= 0 {
		intervalMS = 30_000
	}
	ticker := time.NewTicker(time.Duration(intervalMS) * time.Millisecond)
	defer ticker.Stop()

	s.stopMonitor = make(chan struct{})
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopMonitor:
			return
		case <-ticker.C:
			_ = s.EvaluatePreemptionPolicy(ctx)
		}
	}
}

// StopMonitoring signals an in-flight StartMonitoring loop to return.
func (s *Scheduler) StopMonitoring() {
	if s.stopMonitor != nil {
		close(s.stopMonitor)
	}
}

// AssignPriority sets a task's priority_class; overridable governs
// whether a later call may re-assign it, not its preemption eligibility.
func (s *Scheduler) AssignPriority(ctx context.Context, taskID string, class taskrepo.PriorityClass, overridable bool) error {
	return s.repo.AssignPriority(ctx, taskID, class, overridable)
}

// EvaluatePreemptionPolicy gets current utilization, sorts rules by
// priority desc, and for the first rule whose resource utilization
// crosses threshold, preempts the selected candidates.
func (s *Scheduler) EvaluatePreemptionPolicy(ctx context.Context) error {
	if !s.cfg.EnablePreemption {
		return nil
	}

	rules := make([]Rule, len(s.policy.Rules))
	copy(rules, s.policy.Rules)
	sort.Slice(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

	for _, rule := range rules {
		util, err := s.usage.Utilization(ctx, rule.Resource, 5*time.Minute)
		if err != nil {
			return fmt.Errorf("priority: utilization for %s: %w", rule.Resource, err)
		}
		if util.Percent < rule.Threshold {
			continue
		}

		candidates, err := s.selectCandidates(ctx, rule)
		if err != nil {
			return err
		}
		for _, c := range candidates {
			if err := s.PreemptTask(ctx, c.ID, fmt.Sprintf("%s utilization %.1f%% >= %.1f%%", rule.Resource, util.Percent, rule.Threshold), string(rule.Resource)); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

func (s *Scheduler) selectCandidates(ctx context.Context, rule Rule) ([]*taskrepo.Task, error) {
	running, err := s.repo.GetRunningByClasses(ctx, rule.Preempt)
	if err != nil {
		return nil, fmt.Errorf("priority: list running by class: %w", err)
	}
	if len(running) == 0 {
		return nil, nil
	}

	switch rule.Selection {
	case LongestRunning:
		sort.Slice(running, func(i, j int) bool { return startedBefore(running[i], running[j]) })
	case Newest:
		sort.Slice(running, func(i, j int) bool { return startedBefore(running[j], running[i]) })
	case LowestPriority:
		sort.Slice(running, func(i, j int) bool { return running[i].PriorityClass > running[j].PriorityClass })
	case HighestResource:
		// Resource-per-task accounting is out of scope here; fall back
		// to longest-running, the next best saturation-reduction proxy.
		sort.Slice(running, func(i, j int) bool { return startedBefore(running[i], running[j]) })
	}

	n := rule.Count
	if n > len(running) {
		n = len(running)
	}
	return running[:n], nil
}

func startedBefore(a, b *taskrepo.Task) bool {
	if a.StartedAt == nil {
		return false
	}
	if b.StartedAt == nil {
		return true
	}
	return a.StartedAt.Before(*b.StartedAt)
}

// PreemptTask resolves the task's priority, aborting silently if it is
// not preemptible; fails it outright if it has hit maxPreemptions;
// otherwise persists the preemption and schedules a resume attempt.
func (s *Scheduler) PreemptTask(ctx context.Context, taskID, reason, resource string) error {
	task, err := s.repo.GetByID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("priority: load task %s: %w", taskID, err)
	}
	if !task.PriorityClass.Preemptible() {
		return nil
	}

	count, err := s.repo.PreemptionCount(ctx, taskID)
	if err != nil {
		return err
	}
	if count >= s.cfg.MaxPreemptions {
		return s.repo.Fail(ctx, taskID, fmt.Errorf("exceeded max preemptions (%d)", s.cfg.MaxPreemptions), task.Retries)
	}

	if s.checkpoint != nil {
		if err := s.checkpoint(ctx, taskID); err != nil {
			return fmt.Errorf("priority: checkpoint before preempt %s: %w", taskID, err)
		}
	}

	if err := s.repo.Preempt(ctx, taskID, reason, resource); err != nil {
		return fmt.Errorf("priority: preempt %s: %w", taskID, err)
	}

	s.obs.Metrics().RecordPreemption(resource)
	_, span := s.obs.Tracer().Start(ctx, "priority.preempt_task")
	s.obs.Tracer().AddPreemption(span, "", taskID)
	span.End()

	// Try to resume after RetryDelay, and again after each further
	// RetryDelay while the resource is still saturated.
	var resume func()
	resume = func() {
		resumed, err := s.ResumePreemptedTask(context.Background(), taskID, Resource(resource))
		if err == nil && !resumed {
			time.AfterFunc(s.cfg.RetryDelay, resume)
		}
	}
	time.AfterFunc(s.cfg.RetryDelay, resume)

	return nil
}

// ResumePreemptedTask re-checks utilization; if pressure has eased it
// clears the preempted flag and returns the task to pending so the
// ordinary consume loop resumes it from checkpoint. Otherwise it
// signals the caller to reschedule the resume attempt after RetryDelay.
func (s *Scheduler) ResumePreemptedTask(ctx context.Context, taskID string, resource Resource) (resumed bool, err error) {
	util, err := s.usage.Utilization(ctx, resource, 5*time.Minute)
	if err != nil {
		return false, fmt.Errorf("priority: utilization for resume check: %w", err)
	}

	stillSaturated := false
	for _, rule := range s.policy.Rules {
		if rule.Resource == resource && util.Percent >= rule.Threshold {
			stillSaturated = true
			break
		}
	}
	if stillSaturated {
		return false, nil
	}

	if err := s.repo.Resume(ctx, taskID); err != nil {
		return false, fmt.Errorf("priority: resume %s: %w", taskID, err)
	}
	return true, nil
}

// RetryDelay exposes the configured resume retry delay for callers
// driving the resume-scheduling loop.
func (s *Scheduler) RetryDelay() time.Duration { return s.cfg.RetryDelay }
