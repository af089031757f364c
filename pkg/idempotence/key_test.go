package idempotence

import "testing"

func TestOfDeterministicUnderKeyPermutation(t *testing.T) {
	a, err := Of("QA", map[string]any{"story": "S1", "agent": "writer"}, "1")
	if err != nil {
		t.Fatalf("Of: %v", err)
	}
	b, err := Of("QA", map[string]any{"agent": "writer", "story": "S1"}, "1")
	if err != nil {
		t.Fatalf("Of: %v", err)
	}
	if a != b {
		t.Fatalf("expected permutation-invariant key, got %q != %q", a, b)
	}
	if !Valid(a) {
		t.Fatalf("key %q does not match shape ^[A-Z_]+:[a-f0-9]{16}$", a)
	}
}

func TestOfDiffersOnInputChange(t *testing.T) {
	a := MustOf("QA", map[string]any{"story": "S1"}, "1")
	b := MustOf("QA", map[string]any{"story": "S2"}, "1")
	if a == b {
		t.Fatalf("expected distinct keys for distinct inputs")
	}
}

func TestShard(t *testing.T) {
	parent := MustOf("QA", map[string]any{"story": "S1"}, "1")
	if got, want := Shard(parent, 2), parent+"-shard-2"; got != want {
		t.Fatalf("Shard() = %q, want %q", got, want)
	}
}

func TestValidRejectsMalformed(t *testing.T) {
	cases := []string{"qa:abc", "QA:xyz1234567890123", "QA-abc1234567890123", ""}
	for _, c := range cases {
		if Valid(c) {
			t.Fatalf("expected %q to be invalid", c)
		}
	}
}
