package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
)

// RawKnowledge is one unrefined input to ingestAndRefine: a blob of
// text plus the scope/theme/citations it was produced under.
type RawKnowledge struct {
	Scope     Scope
	Theme     string
	Text      string
	Citations []string
	Who       string
	RunID     string
	Phase     string
	Tools     []string
}

const minClaimLen = 10

var (
	sentenceBoundary = regexp.MustCompile(`(?:[.!?]+)\s+`)
	connectorWords   = []string{"and", "also", "furthermore", "additionally", "moreover"}
)

// fission splits text into atomic claims on sentence boundaries and on
// connector words, dropping anything shorter than minClaimLen.
func fission(text string) []string {
	var claims []string
	for _, sentence := range sentenceBoundary.Split(text, -1) {
		for _, piece := range splitOnConnectors(sentence) {
			piece = strings.TrimSpace(piece)
			if len(piece) >= minClaimLen {
				claims = append(claims, piece)
			}
		}
	}
	return claims
}

func splitOnConnectors(sentence string) []string {
	pieces := []string{sentence}
	for _, word := range connectorWords {
		var next []string
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
		for _, p := range pieces {
			next = append(next, re.Split(p, -1)...)
		}
		pieces = next
	}
	return pieces
}

// fusionKey is the dedup key: SHA-256(scope‖theme‖sorted(lowercased claims)).
func fusionKey(scope Scope, theme string, claims []string) string {
	lowered := make([]string, len(claims))
	for i, c := range claims {
		lowered[i] = strings.ToLower(c)
	}
	sort.Strings(lowered)
	h := sha256.New()
	h.Write([]byte(string(scope)))
	h.Write([]byte("\x00"))
	h.Write([]byte(theme))
	h.Write([]byte("\x00"))
	h.Write([]byte(strings.Join(lowered, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}

// refinedFrame is a pre-validation candidate, keyed for fusion.
type refinedFrame struct {
	key   string
	frame Frame
}

// fuse groups raw knowledge into deduplicated candidate frames: two
// inputs whose scope/theme/claim-set collide have their claims and
// citations unioned into one frame instead of producing duplicates.
func fuse(raws []RawKnowledge) []refinedFrame {
	byKey := make(map[string]*refinedFrame)
	var order []string

	for _, raw := range raws {
		claims := fission(raw.Text)
		if len(claims) == 0 {
			continue
		}
		key := fusionKey(raw.Scope, raw.Theme, claims)
		if existing, ok := byKey[key]; ok {
			existing.frame.Claims = unionStrings(existing.frame.Claims, claims)
			existing.frame.Citations = unionStrings(existing.frame.Citations, raw.Citations)
			continue
		}
		f := Frame{
			Scope:     raw.Scope,
			Theme:     raw.Theme,
			Summary:   summarize(claims),
			Claims:    claims,
			Citations: append([]string(nil), raw.Citations...),
			RunID:     raw.RunID,
			Phase:     raw.Phase,
			Provenance: Provenance{
				Who:   raw.Who,
				Tools: raw.Tools,
			},
		}
		byKey[key] = &refinedFrame{key: key, frame: f}
		order = append(order, key)
	}

	out := make([]refinedFrame, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string(nil), a...)
	for _, v := range a {
		seen[v] = true
	}
	for _, v := range b {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func summarize(claims []string) string {
	if len(claims) == 0 {
		return ""
	}
	return claims[0]
}

// RefineError explains why a candidate frame was rejected during Validate.
type RefineError struct {
	Theme  string
	Reason string
}

func (e *RefineError) Error() string {
	return "vault: refine " + e.Theme + ": " + e.Reason
}

// validate applies the Refinery's rejection rules: a candidate with no
// claims or no citations is dropped, as is one that contradicts an
// existing frame sharing its theme.
func validate(candidate Frame, existing []Frame) error {
	if len(candidate.Claims) == 0 {
		return &RefineError{Theme: candidate.Theme, Reason: "no claims"}
	}
	if len(candidate.Citations) == 0 {
		return &RefineError{Theme: candidate.Theme, Reason: "no citations"}
	}

	for _, other := range existing {
		if other.Theme != candidate.Theme {
			continue
		}
		combined := append(append([]string(nil), candidate.Claims...), other.Claims...)
		for _, c := range CheckContradictions(candidate.Theme, combined) {
			return &RefineError{
				Theme:  candidate.Theme,
				Reason: "contradicts existing frame of the same theme: " + c.ClaimA + " vs " + c.ClaimB,
			}
		}
	}
	return nil
}

// ingestAndRefine runs the Refinery end to end: Fission splits raw text
// into atomic claims, Fusion dedups/merges candidates sharing scope,
// theme and claim set, and Validate rejects anything ungrounded or
// contradictory with the frames already on file. It returns the frames
// that survived, plus the rejection reasons for anything dropped.
func ingestAndRefine(raws []RawKnowledge, existing []Frame) ([]Frame, []error) {
	candidates := fuse(raws)

	var accepted []Frame
	var errs []error
	for _, c := range candidates {
		if err := validate(c.frame, append(existing, accepted...)); err != nil {
			errs = append(errs, err)
			continue
		}
		accepted = append(accepted, c.frame)
	}
	return accepted, errs
}
