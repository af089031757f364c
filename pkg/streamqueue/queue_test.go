package streamqueue

import "testing"

func TestConfigSetDefaults(t *testing.T) {
	cfg := Config{}
	cfg.setDefaults()

	if cfg.IdempotenceTTL.Hours() != 24 {
		t.Fatalf("IdempotenceTTL = %v, want 24h", cfg.IdempotenceTTL)
	}
	if cfg.BlockTime.Seconds() != 5 {
		t.Fatalf("BlockTime = %v, want 5s", cfg.BlockTime)
	}
	if cfg.ClaimBatchSize != 10 {
		t.Fatalf("ClaimBatchSize = %d, want 10", cfg.ClaimBatchSize)
	}
	if cfg.VisibilityTTL.Seconds() != 30 {
		t.Fatalf("VisibilityTTL = %v, want 30s", cfg.VisibilityTTL)
	}
	if cfg.MaxDeliveries != 5 {
		t.Fatalf("MaxDeliveries = %d, want 5", cfg.MaxDeliveries)
	}
}

func TestPadPreservesAppendOrder(t *testing.T) {
	a := pad(5)
	b := pad(42)
	if len(a) != len(b) {
		t.Fatalf("pad must return fixed-width keys: %q vs %q", a, b)
	}
	if !(a < b) {
		t.Fatalf("pad(5)=%q should sort before pad(42)=%q", a, b)
	}
}

func TestKeyPrefixHelpers(t *testing.T) {
	if got, want := msgPrefix("tasks"), "queue/tasks/msgs/"; got != want {
		t.Fatalf("msgPrefix = %q, want %q", got, want)
	}
	if got, want := idemKey("tasks", "QA:abc"), "queue/tasks/idem/QA:abc"; got != want {
		t.Fatalf("idemKey = %q, want %q", got, want)
	}
	if got, want := pendingKey("tasks", "phase-workers", "7"), "queue/tasks/groups/phase-workers/pending/7"; got != want {
		t.Fatalf("pendingKey = %q, want %q", got, want)
	}
}
