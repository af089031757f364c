// Package idempotence implements the key algebra shared by the job
// queue and scheduler: a stable short hash identifying a logical task
// so duplicate enqueues are detectable.
package idempotence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
)

// Pattern matches a well-formed idempotence key: PHASE:16-hex-digits.
var Pattern = regexp.MustCompile(`^[A-Z_]+:[a-f0-9]{16}$`)

// Of derives keyOf(phase, inputs, version) = phase + ":" + hex16(SHA-256(canonical_json({phase, inputs, version}))).
//
// encoding/json already sorts map keys on marshal, which is the only
// canonicalization canonical_json requires here — no separate
// canonicalization pass is needed.
func Of(phase string, inputs any, version string) (string, error) {
	digest, err := digest(phase, inputs, version)
	if err != nil {
		return "", err
	}
	return phase + ":" + digest, nil
}

// MustOf panics on marshal failure; used where inputs are known-serializable.
func MustOf(phase string, inputs any, version string) string {
	key, err := Of(phase, inputs, version)
	if err != nil {
		panic(err)
	}
	return key
}

func digest(phase string, inputs any, version string) (string, error) {
	canonical := struct {
		Phase   string `json:"phase"`
		Inputs  any    `json:"inputs"`
		Version string `json:"version"`
	}{Phase: phase, Inputs: inputs, Version: version}

	raw, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("canonicalizing idempotence input: %w", err)
	}

	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16], nil
}

// Shard derives the idempotence key for shard `index` of a parent key:
// `{parent}-shard-{index}`.
func Shard(parent string, index int) string {
	return fmt.Sprintf("%s-shard-%d", parent, index)
}

// Valid reports whether key has the shape ^[A-Z_]+:[a-f0-9]{16}$.
func Valid(key string) bool {
	return Pattern.MatchString(key)
}

// OfMessage derives a key from an arbitrary topic+message pair when the
// caller has not supplied one explicitly, per the Job Queue's enqueue
// contract (spec §4.1): key = sha256(topic‖payload) truncated to 16 hex.
// The key carries no topic prefix, so it does not match Pattern.
func OfMessage(topic string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling message for key derivation: %w", err)
	}
	sum := sha256.Sum256(append([]byte(topic), raw...))
	return hex.EncodeToString(sum[:])[:16], nil
}
