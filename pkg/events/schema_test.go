package events

import "testing"

func TestValidateAcceptsWellFormedPayload(t *testing.T) {
	v := NewValidator()
	ev := New(PhaseReady, "run-1", PhaseReadyPayload{Artifacts: []string{"a1"}})

	if err := v.Validate(ev); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsUnrecognizedFields(t *testing.T) {
	v := NewValidator()
	ev := New(PhaseReady, "run-1", map[string]any{"artifacts": []string{"a1"}, "not_a_real_field": true})

	if err := v.Validate(ev); err == nil {
		t.Fatalf("expected validation error for unrecognized field")
	}
}

func TestValidateUnregisteredType(t *testing.T) {
	v := NewValidator()
	ev := New(Type("made.up.type"), "run-1", map[string]any{})

	if err := v.Validate(ev); err == nil {
		t.Fatalf("expected error for unregistered event type")
	}
}

func TestSchemaGeneratesAndCaches(t *testing.T) {
	v := NewValidator()
	a, err := v.Schema(PhaseReady)
	if err != nil {
		t.Fatalf("Schema: %v", err)
	}
	b, err := v.Schema(PhaseReady)
	if err != nil {
		t.Fatalf("Schema (cached): %v", err)
	}
	if a != b {
		t.Fatalf("expected cached schema pointer to be reused")
	}
}
