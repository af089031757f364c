package vault

import (
	"math"
	"sort"
	"strings"
	"time"
)

// DefaultTokenBudget is the Context Pack Builder's token budget when a
// MemoryQuery doesn't specify one.
const DefaultTokenBudget = 4000

// maxCandidates bounds how many frames the builder scores before packing.
const maxCandidates = 3000

// estimateTokens is the builder's token estimator: ceil((|summary| +
// sum(|claim|)) / 4) + 5*|citations|.
func estimateTokens(f Frame) int {
	chars := len(f.Summary)
	for _, c := range f.Claims {
		chars += len(c)
	}
	return int(math.Ceil(float64(chars)/4)) + 5*len(f.Citations)
}

// scoreFrame implements the Context Pack Builder's ranking formula.
func scoreFrame(f Frame, q MemoryQuery, now time.Time) float64 {
	var score float64

	if q.ThemePrefix != "" {
		if strings.HasPrefix(f.Theme, q.ThemePrefix) {
			score += 10
		} else if f.Theme == q.ThemePrefix {
			score += 5
		}
	}

	score += 5 * f.Freshness(now)

	if q.Scope != "" && f.Scope == q.Scope {
		score += 10
	} else {
		switch f.Scope {
		case ScopeTenant:
			score += 8
		case ScopeRun:
			score += 6
		case ScopeGlobal:
			score += 4
		case ScopeEphemeral:
			score += 2
		}
	}

	if q.Doer != "" && f.Provenance.Who == q.Doer {
		score += 3
	}

	if q.Phase != "" && strings.Contains(f.Phase, q.Phase) {
		score += 2
	}

	if f.Pinned {
		score += 5
	}

	citationBonus := 0.5 * float64(len(f.Citations))
	if citationBonus > 5 {
		citationBonus = 5
	}
	score += citationBonus

	return score
}

// scoredFrame pairs a frame with its rank for stable sorting.
type scoredFrame struct {
	frame Frame
	score float64
}

// filterCandidates applies the query's theme/scope/freshness filters to
// the stored frame set, capping the result at maxCandidates.
func filterCandidates(frames []Frame, q MemoryQuery, now time.Time) []Frame {
	var out []Frame
	for _, f := range frames {
		if f.Expired(now) {
			continue
		}
		if q.ThemePrefix != "" && !strings.HasPrefix(f.Theme, q.ThemePrefix) && f.Theme != q.ThemePrefix {
			continue
		}
		if q.Scope != "" && f.Scope != q.Scope {
			continue
		}
		if f.Freshness(now) < q.MinFreshness {
			continue
		}
		out = append(out, f)
		if len(out) >= maxCandidates {
			break
		}
	}
	return out
}

// BuildContextPack selects and packs frames/artifacts into a
// token-bounded ContextPack: candidates are filtered, scored, sorted
// highest-first, then packed greedily until the token budget is spent.
func BuildContextPack(frames []Frame, artifacts []Artifact, q MemoryQuery, now time.Time) ContextPack {
	return buildContextPack(frames, artifacts, q, now, nil)
}

// semanticBonus is the scoring weight given to a frame that the vector
// store's similarity search also surfaced for this query's text, scaled
// by the search's own relevance score (0..1).
const semanticBonus = 12.0

// buildContextPack is BuildContextPack's implementation, taking an
// optional frame-ID -> similarity-score map from the vector store's
// candidate search (step 1 of the Context Pack Builder, spec §4.8). A
// nil map falls back to pure SQL-scan scoring.
func buildContextPack(frames []Frame, artifacts []Artifact, q MemoryQuery, now time.Time, semantic map[string]float32) ContextPack {
	budget := q.TokenBudget
	if budget <= 0 {
		budget = DefaultTokenBudget
	}

	candidates := filterCandidates(frames, q, now)
	scored := make([]scoredFrame, 0, len(candidates))
	for _, f := range candidates {
		score := scoreFrame(f, q, now)
		if sim, ok := semantic[f.ID]; ok {
			score += semanticBonus * float64(sim)
		}
		scored = append(scored, scoredFrame{frame: f, score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	var pack ContextPack
	citationSet := make(map[string]bool)
	spent := 0
	var freshnessSum float64

	for _, sf := range scored {
		cost := estimateTokens(sf.frame)
		if spent+cost > budget {
			continue
		}
		spent += cost
		pack.Frames = append(pack.Frames, sf.frame)
		freshnessSum += sf.frame.Freshness(now)
		for _, c := range sf.frame.Citations {
			if !citationSet[c] {
				citationSet[c] = true
				pack.Citations = append(pack.Citations, c)
			}
		}
	}

	for _, a := range artifacts {
		if q.Phase == "" || a.Phase == q.Phase {
			pack.Artifacts = append(pack.Artifacts, a)
		}
	}

	if len(pack.Frames) > 0 {
		pack.FreshnessScore = freshnessSum / float64(len(pack.Frames))
	}
	pack.Metadata = map[string]any{
		"candidates_considered": len(candidates),
		"tokens_spent":          spent,
		"token_budget":          budget,
	}
	return pack
}
