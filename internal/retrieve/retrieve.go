// Package retrieve implements hybrid candidate retrieval from spec.md
// §4.4: merge lexical exact, lexical normalized, and vector candidates for
// a mention's surface form, deduping by candidate_id with max-score-on-
// collision semantics, then truncate to top_k ordered by (-score,
// candidate_id). Grounded on rishianshu-Nucleus's hybridsearch package,
// whose rrfFusion merges multiple ranked candidate lists into one
// insertion-ordered map before final sorting — the same shape here, with
// max-score replacing reciprocal-rank-fusion scoring because spec.md's
// Candidate already carries a single comparable score per source.
package retrieve

import (
	"sort"

	"github.com/nucleus/geo-linker/internal/contracts"
	"github.com/nucleus/geo-linker/internal/embed"
	"github.com/nucleus/geo-linker/internal/ontology"
)

// Config bounds how many candidates retrieval returns per mention.
type Config struct {
	TopK           int
	VectorMinScore float64
}

// DefaultConfig matches spec.md §6's documented default. VectorMinScore
// defaults to -1.0 (permissive: cosine/IP scores never fall below -1) per
// original_source/candidate_retrieval.py's RetrievalConfig.
func DefaultConfig() Config {
	return Config{TopK: 20, VectorMinScore: -1.0}
}

// exactScore/normScore are the fixed scores lexical hits contribute before
// merge, distinguishing an exact surface match from a normalized one while
// letting vector scores (genuine cosine similarities, at most 1) compete fairly.
const (
	exactScore = 1.0
	normScore  = 0.90
)

// vectorSearchFloor is the minimum K vector retrieval asks for regardless
// of the configured top_k, so a small top_k doesn't starve the merge of
// vector candidates before lexical/vector scores are compared.
const vectorSearchFloor = 10

// Retrieve runs lexical exact, lexical normalized, and (if embedder is
// non-nil and the ontology has a built vector index) vector retrieval for
// one mention's surface form against one ontology, merges results by
// candidate_id keeping the max score on collision (insertion order
// preserved, no tie-break perturbation), and returns the top_k ordered by
// (-score, candidate_id).
func Retrieve(bundle *ontology.Bundle, ontologyName, surfaceForm string, embedder embed.Provider, cfg Config) ([]contracts.Candidate, error) {
	store := bundle.Store(ontologyName)
	if store == nil {
		return nil, nil
	}

	merged := make(map[string]contracts.Candidate)
	var order []string

	addCandidate := func(id string, score float64, source string) {
		concept, ok := store.Concept(id)
		if !ok {
			return
		}
		existing, seen := merged[id]
		if !seen {
			merged[id] = contracts.Candidate{
				CandidateID:    id,
				CandidateLabel: concept.Label,
				Score:          score,
				Source:         source,
				Definition:     concept.Definition,
			}
			order = append(order, id)
			return
		}
		if score > existing.Score {
			existing.Score = score
			merged[id] = existing
		}
	}

	exact, normalized := bundle.LexicalLookup(ontologyName, surfaceForm)
	for _, id := range exact {
		addCandidate(id, exactScore, "lexical_exact")
	}
	for _, id := range normalized {
		addCandidate(id, normScore, "lexical_norm")
	}

	if embedder != nil {
		vectorK := cfg.TopK
		if vectorK < vectorSearchFloor {
			vectorK = vectorSearchFloor
		}
		vecCandidates, err := bundle.VectorSearch(ontologyName, embedder, surfaceForm, vectorK)
		if err != nil {
			return nil, err
		}
		for _, c := range vecCandidates {
			if c.Score < cfg.VectorMinScore {
				continue
			}
			addCandidate(c.CandidateID, c.Score, "vector")
		}
	}

	out := make([]contracts.Candidate, 0, len(order))
	for _, id := range order {
		out = append(out, merged[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].CandidateID < out[j].CandidateID
	})

	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultConfig().TopK
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}
