package priority

import (
	"context"
	"testing"
	"time"
)

type fakeUsage struct {
	percent map[Resource]float64
}

func (f *fakeUsage) Utilization(ctx context.Context, resource Resource, window time.Duration) (Utilization, error) {
	return Utilization{Percent: f.percent[resource]}, nil
}

func TestEvaluatePreemptionPolicyNoOpBelowThreshold(t *testing.T) {
	s := New(nil, &fakeUsage{percent: map[Resource]float64{CPU: 40}}, Policy{
		Rules: []Rule{{Resource: CPU, Threshold: 80, Count: 1, Selection: LongestRunning, Priority: 1}},
	}, Config{EnablePreemption: true})

	// No repo calls should be attempted since utilization never crosses threshold.
	if err := s.EvaluatePreemptionPolicy(context.Background()); err != nil {
		t.Fatalf("EvaluatePreemptionPolicy: %v", err)
	}
}

func TestEvaluatePreemptionPolicyDisabled(t *testing.T) {
	s := New(nil, &fakeUsage{percent: map[Resource]float64{CPU: 99}}, Policy{
		Rules: []Rule{{Resource: CPU, Threshold: 80, Count: 1, Selection: LongestRunning, Priority: 1}},
	}, Config{EnablePreemption: false})

	if err := s.EvaluatePreemptionPolicy(context.Background()); err != nil {
		t.Fatalf("EvaluatePreemptionPolicy: %v", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.setDefaults()
	if cfg.GracePeriod != 30*time.Second {
		t.Fatalf("GracePeriod = %v, want 30s", cfg.GracePeriod)
	}
	if cfg.RetryDelay != 60*time.Second {
		t.Fatalf("RetryDelay = %v, want 60s", cfg.RetryDelay)
	}
	if cfg.MaxPreemptions != 3 {
		t.Fatalf("MaxPreemptions = %d, want 3", cfg.MaxPreemptions)
	}
}
