package vault

import (
	"testing"
	"time"
)

func TestEvaluateGatePassesWhenThemesSatisfied(t *testing.T) {
	now := time.Now().UTC()
	frames := []Frame{
		{Theme: "deploy-policy", Scope: ScopeRun, CreatedAt: now},
		{Theme: "rollback-policy", Scope: ScopeRun, CreatedAt: now},
	}
	spec := GateSpec{RequiredThemes: []string{"deploy-policy", "rollback-policy"}, MinFramesPerTheme: 1}

	result := EvaluateGate(frames, spec, now)
	if !result.Passed {
		t.Fatalf("EvaluateGate: want pass, got reasons %v", result.Reasons)
	}
}

func TestEvaluateGateFailsWhenThemeMissing(t *testing.T) {
	now := time.Now().UTC()
	frames := []Frame{{Theme: "deploy-policy", Scope: ScopeRun, CreatedAt: now}}
	spec := GateSpec{RequiredThemes: []string{"deploy-policy", "rollback-policy"}, MinFramesPerTheme: 1}

	result := EvaluateGate(frames, spec, now)
	if result.Passed {
		t.Fatal("EvaluateGate: want fail when a required theme has no frames")
	}
	if len(result.Reasons) != 1 {
		t.Fatalf("EvaluateGate: want 1 reason, got %d", len(result.Reasons))
	}
}

func TestEvaluateGateFailsWhenFreshnessTooLow(t *testing.T) {
	now := time.Now().UTC()
	ttl := int64(1000)
	frames := []Frame{{Theme: "deploy-policy", Scope: ScopeRun, CreatedAt: now.Add(-time.Hour), TTLMS: &ttl}}
	spec := GateSpec{RequiredThemes: []string{"deploy-policy"}, MinFreshness: 0.5}

	result := EvaluateGate(frames, spec, now)
	if result.Passed {
		t.Fatal("EvaluateGate: want fail when no frame meets MinFreshness")
	}
}
