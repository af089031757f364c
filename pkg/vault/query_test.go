package vault

import (
	"testing"
	"time"
)

func TestScoreFrameThemePrefixBeatsUnrelated(t *testing.T) {
	now := time.Now().UTC()
	match := Frame{Theme: "deploy-policy-v2", Scope: ScopeRun, CreatedAt: now}
	other := Frame{Theme: "unrelated", Scope: ScopeRun, CreatedAt: now}
	q := MemoryQuery{ThemePrefix: "deploy-policy"}

	if scoreFrame(match, q, now) <= scoreFrame(other, q, now) {
		t.Fatal("scoreFrame: theme-prefix match should outscore an unrelated theme")
	}
}

func TestScoreFramePinnedBonus(t *testing.T) {
	now := time.Now().UTC()
	pinned := Frame{Theme: "x", Scope: ScopeRun, CreatedAt: now, Pinned: true}
	unpinned := Frame{Theme: "x", Scope: ScopeRun, CreatedAt: now}
	q := MemoryQuery{}
	if scoreFrame(pinned, q, now) <= scoreFrame(unpinned, q, now) {
		t.Fatal("scoreFrame: pinned frame should outscore an otherwise identical unpinned one")
	}
}

func TestEstimateTokensGrowsWithContent(t *testing.T) {
	small := Frame{Summary: "short"}
	large := Frame{Summary: "this is a much longer summary with a lot more characters in it"}
	if estimateTokens(large) <= estimateTokens(small) {
		t.Fatal("estimateTokens: longer content should cost more tokens")
	}
}

func TestBuildContextPackRespectsTokenBudget(t *testing.T) {
	now := time.Now().UTC()
	var frames []Frame
	for i := 0; i < 50; i++ {
		frames = append(frames, Frame{
			ID:        "f",
			Theme:     "deploy",
			Scope:     ScopeRun,
			Summary:   "a reasonably long knowledge summary to consume token budget",
			Claims:    []string{"claim one here", "claim two here"},
			Citations: []string{"frame_a"},
			CreatedAt: now,
		})
	}
	q := MemoryQuery{ThemePrefix: "deploy", TokenBudget: 100}
	pack := BuildContextPack(frames, nil, q, now)

	spent := 0
	for _, f := range pack.Frames {
		spent += estimateTokens(f)
	}
	if spent > 100 {
		t.Fatalf("BuildContextPack: spent %d tokens, want <= 100", spent)
	}
	if len(pack.Frames) == 0 {
		t.Fatal("BuildContextPack: want at least one frame packed")
	}
}

func TestBuildContextPackFiltersExpiredFrames(t *testing.T) {
	now := time.Now().UTC()
	ttl := int64(1000)
	expired := Frame{
		ID: "expired", Theme: "deploy", Scope: ScopeRun,
		Summary: "stale", Citations: []string{"frame_a"},
		CreatedAt: now.Add(-time.Hour), TTLMS: &ttl,
	}
	fresh := Frame{
		ID: "fresh", Theme: "deploy", Scope: ScopeRun,
		Summary: "current", Citations: []string{"frame_a"},
		CreatedAt: now,
	}
	pack := BuildContextPack([]Frame{expired, fresh}, nil, MemoryQuery{ThemePrefix: "deploy"}, now)

	for _, f := range pack.Frames {
		if f.ID == "expired" {
			t.Fatal("BuildContextPack: expired frame should have been filtered out")
		}
	}
}
