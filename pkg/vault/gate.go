package vault

import (
	"fmt"
	"time"
)

// EvaluateGate checks a GateSpec against the stored frame set: every
// required theme must have at least MinFramesPerTheme frames at or
// above MinFreshness, optionally restricted to a single scope.
func EvaluateGate(frames []Frame, spec GateSpec, now time.Time) GateResult {
	minPerTheme := spec.MinFramesPerTheme
	if minPerTheme <= 0 {
		minPerTheme = 1
	}

	counts := make(map[string]int, len(spec.RequiredThemes))
	for _, f := range frames {
		if spec.Scope != "" && f.Scope != spec.Scope {
			continue
		}
		if f.Expired(now) {
			continue
		}
		if f.Freshness(now) < spec.MinFreshness {
			continue
		}
		counts[f.Theme]++
	}

	var reasons []string
	for _, theme := range spec.RequiredThemes {
		if counts[theme] < minPerTheme {
			reasons = append(reasons, fmt.Sprintf("theme %q has %d qualifying frames, need %d", theme, counts[theme], minPerTheme))
		}
	}

	return GateResult{Passed: len(reasons) == 0, Reasons: reasons}
}
