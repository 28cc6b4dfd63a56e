// Package policy implements the thresholded status-assignment decision
// from spec.md §4.6: RESOLVED/AMBIGUOUS/UNRESOLVED from a reranked best
// score and margin. REJECTED is never produced here — only the Linker's
// negation check can reject a mention (spec.md §4.7).
package policy

import "github.com/nucleus/geo-linker/internal/contracts"

// Config holds the threshold parameters from spec.md §4.6/§6: Tau is the
// minimum best score to resolve, Delta is the minimum margin over the
// runner-up to resolve outright (below it, a resolvable-score mention is
// AMBIGUOUS instead), TopN bounds retained candidates.
type Config struct {
	Tau   float64
	Delta float64
	TopN  int
}

// DefaultConfig matches spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{Tau: 0.70, Delta: 0.10, TopN: 5}
}

// AssignStatus implements spec.md §4.6's decision table:
//
//	best >= tau && margin >= delta -> RESOLVED
//	best >= tau && margin <  delta -> AMBIGUOUS
//	otherwise                      -> UNRESOLVED
func AssignStatus(best, margin float64, cfg Config) contracts.EntityStatus {
	if best >= cfg.Tau {
		if margin >= cfg.Delta {
			return contracts.StatusResolved
		}
		return contracts.StatusAmbiguous
	}
	return contracts.StatusUnresolved
}
