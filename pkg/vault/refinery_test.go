package vault

import "testing"

func TestFissionSplitsSentencesAndConnectors(t *testing.T) {
	claims := fission("The deploy pipeline requires two approvals. It also enforces a staging soak and additionally blocks on failing smoke tests.")
	if len(claims) < 2 {
		t.Fatalf("fission: got %d claims, want at least 2: %v", len(claims), claims)
	}
	for _, c := range claims {
		if len(c) < minClaimLen {
			t.Fatalf("fission: claim %q shorter than minClaimLen", c)
		}
	}
}

func TestFissionDropsShortClaims(t *testing.T) {
	claims := fission("Ok. Yes.")
	if len(claims) != 0 {
		t.Fatalf("fission: want 0 claims for short sentences, got %v", claims)
	}
}

func TestFuseDedupesOnSameKey(t *testing.T) {
	raws := []RawKnowledge{
		{Scope: ScopeRun, Theme: "deploy-policy", Text: "Deployments require two reviewer approvals before merge.", Citations: []string{"frame_a"}},
		{Scope: ScopeRun, Theme: "deploy-policy", Text: "Deployments require two reviewer approvals before merge.", Citations: []string{"frame_b"}},
	}
	fused := fuse(raws)
	if len(fused) != 1 {
		t.Fatalf("fuse: want 1 merged frame, got %d", len(fused))
	}
	if len(fused[0].frame.Citations) != 2 {
		t.Fatalf("fuse: want unioned citations, got %v", fused[0].frame.Citations)
	}
}

func TestFuseKeepsDistinctThemesSeparate(t *testing.T) {
	raws := []RawKnowledge{
		{Scope: ScopeRun, Theme: "deploy-policy", Text: "Deployments require two reviewer approvals before merge.", Citations: []string{"frame_a"}},
		{Scope: ScopeRun, Theme: "rollback-policy", Text: "Rollbacks require an incident ticket before execution.", Citations: []string{"frame_b"}},
	}
	fused := fuse(raws)
	if len(fused) != 2 {
		t.Fatalf("fuse: want 2 distinct frames, got %d", len(fused))
	}
}

func TestValidateRejectsMissingCitations(t *testing.T) {
	candidate := Frame{Theme: "x", Claims: []string{"some claim text here"}}
	if err := validate(candidate, nil); err == nil {
		t.Fatal("validate: want error for missing citations")
	}
}

func TestValidateRejectsContradictingTheme(t *testing.T) {
	existing := []Frame{{
		Theme:     "deploy-policy",
		Claims:    []string{"the pipeline is enabled for all services"},
		Citations: []string{"frame_old"},
	}}
	candidate := Frame{
		Theme:     "deploy-policy",
		Claims:    []string{"the pipeline is disabled for all services"},
		Citations: []string{"frame_new"},
	}
	if err := validate(candidate, existing); err == nil {
		t.Fatal("validate: want rejection for contradictory claim")
	}
}

func TestIngestAndRefineEndToEnd(t *testing.T) {
	raws := []RawKnowledge{
		{Scope: ScopeRun, Theme: "deploy-policy", Text: "Deployments require two reviewer approvals before merge.", Citations: []string{"frame_a"}},
		{Scope: ScopeRun, Theme: "deploy-policy", Text: "No citations here at all to ground this claim properly."},
	}
	accepted, errs := ingestAndRefine(raws, nil)
	if len(accepted) != 1 {
		t.Fatalf("ingestAndRefine: want 1 accepted frame, got %d (errs=%v)", len(accepted), errs)
	}
	if len(errs) != 1 {
		t.Fatalf("ingestAndRefine: want 1 rejection, got %d", len(errs))
	}
}
