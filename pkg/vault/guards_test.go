package vault

import "testing"

func TestCheckGroundingRequiresCitations(t *testing.T) {
	r := CheckGrounding([]string{"a claim"}, nil)
	if r.Grounded {
		t.Fatal("CheckGrounding: want not grounded with zero citations")
	}
}

func TestCheckGroundingPassesWithVerifiableCitations(t *testing.T) {
	r := CheckGrounding([]string{"claim one", "claim two"}, []string{"frame_a", "https://example.com/doc"})
	if !r.Grounded {
		t.Fatalf("CheckGrounding: want grounded, got %+v", r)
	}
}

func TestCheckGroundingFailsOnHighClaimRatio(t *testing.T) {
	claims := make([]string, 10)
	for i := range claims {
		claims[i] = "claim"
	}
	r := CheckGrounding(claims, []string{"frame_a"})
	if r.Grounded {
		t.Fatal("CheckGrounding: want not grounded when claims/citations exceeds 5")
	}
}

func TestCheckGroundingFailsOnUnverifiableCitations(t *testing.T) {
	r := CheckGrounding([]string{"claim one"}, []string{"mystery-source", "another-mystery"})
	if r.Grounded {
		t.Fatal("CheckGrounding: want not grounded when citations don't verify")
	}
}

func TestCheckContradictionsOppositeValue(t *testing.T) {
	out := CheckContradictions("policy", []string{
		"access is allowed for the admin role",
		"access is forbidden for the admin role",
	})
	if len(out) != 1 {
		t.Fatalf("CheckContradictions: want 1 contradiction, got %d", len(out))
	}
}

func TestCheckContradictionsMutuallyExclusive(t *testing.T) {
	out := CheckContradictions("policy", []string{
		"the retry count must be 3",
		"the retry count must be 5",
	})
	if len(out) != 1 {
		t.Fatalf("CheckContradictions: want 1 contradiction, got %d", len(out))
	}
}

func TestCheckContradictionsNoFalsePositive(t *testing.T) {
	out := CheckContradictions("policy", []string{
		"the service runs on port 8080",
		"the service logs to stdout",
	})
	if len(out) != 0 {
		t.Fatalf("CheckContradictions: want 0 contradictions, got %d: %+v", len(out), out)
	}
}

func TestJaccardSimilarityIdentical(t *testing.T) {
	if s := jaccardSimilarity("the quick brown fox", "the quick brown fox"); s != 1 {
		t.Fatalf("jaccardSimilarity: want 1, got %v", s)
	}
}
