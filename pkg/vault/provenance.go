package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
)

// canonicalDigest hashes a frame's provenance-bearing fields the way
// the vault signs them: sorted claims/citations so two frames with the
// same content but different slice order hash identically.
func canonicalDigest(id string, scope Scope, theme, summary string, claims, citations []string, version string) []byte {
	sortedClaims := append([]string(nil), claims...)
	sort.Strings(sortedClaims)
	sortedCitations := append([]string(nil), citations...)
	sort.Strings(sortedCitations)

	canonical := struct {
		ID        string   `json:"id"`
		Scope     Scope    `json:"scope"`
		Theme     string   `json:"theme"`
		Summary   string   `json:"summary"`
		Claims    []string `json:"claims"`
		Citations []string `json:"citations"`
		Version   string   `json:"version"`
	}{id, scope, theme, summary, sortedClaims, sortedCitations, version}

	raw, _ := json.Marshal(canonical)
	sum := sha256.Sum256(raw)
	return sum[:]
}

// Signer signs and verifies a frame's provenance digest. It wraps an
// HMAC key in a compact JWS so the signature carries its own algorithm
// header rather than being a bare hex digest a caller could silently
// swap for an unrelated one.
type Signer struct {
	key []byte
}

// NewSigner constructs a Signer over a shared HMAC secret.
func NewSigner(key []byte) *Signer {
	return &Signer{key: key}
}

// Sign returns a compact JWS over the frame's canonical digest.
func (s *Signer) Sign(id string, scope Scope, theme, summary string, claims, citations []string, version string) (string, error) {
	digest := canonicalDigest(id, scope, theme, summary, claims, citations, version)
	payload := []byte(hex.EncodeToString(digest))

	signed, err := jws.Sign(payload, jws.WithKey(jwa.HS256, s.key))
	if err != nil {
		return "", fmt.Errorf("vault: sign provenance for %s: %w", id, err)
	}
	return string(signed), nil
}

// Verify checks that signature is a valid JWS over the frame's current
// canonical digest, detecting both signature forgery and any
// after-the-fact tampering with the signed fields.
func (s *Signer) Verify(signature, id string, scope Scope, theme, summary string, claims, citations []string, version string) error {
	payload, err := jws.Verify([]byte(signature), jws.WithKey(jwa.HS256, s.key))
	if err != nil {
		return fmt.Errorf("vault: verify provenance for %s: %w", id, err)
	}
	want := hex.EncodeToString(canonicalDigest(id, scope, theme, summary, claims, citations, version))
	if string(payload) != want {
		return fmt.Errorf("vault: provenance digest mismatch for %s", id)
	}
	return nil
}
