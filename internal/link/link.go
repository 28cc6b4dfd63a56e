// Package link implements the per-mention Linker orchestration and
// post-processing dedup from spec.md §4.8: negation check, retrieval,
// local-context reranking, status assignment, and then the
// (label, linked_id|surface_form) dedup rule across a sample+label+ontology's
// linked entities. Grounded on rishianshu-Nucleus's hybridsearch pipeline
// shape (retrieve -> score -> decide as discrete composable stages) and
// original_source/src/geo_cleaner/linker.py for exact field semantics.
package link

import (
	"fmt"
	"sort"

	"github.com/nucleus/geo-linker/internal/contracts"
	"github.com/nucleus/geo-linker/internal/embed"
	"github.com/nucleus/geo-linker/internal/negation"
	"github.com/nucleus/geo-linker/internal/normalize"
	"github.com/nucleus/geo-linker/internal/ontology"
	"github.com/nucleus/geo-linker/internal/policy"
	"github.com/nucleus/geo-linker/internal/rerank"
	"github.com/nucleus/geo-linker/internal/retrieve"
)

// Config aggregates the per-stage configs a Linker needs.
type Config struct {
	NegationEnabled    bool
	NegationWindow     int
	ContextWindowChars int
	Retrieve           retrieve.Config
	Policy             policy.Config
}

// DefaultConfig matches spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		NegationEnabled:    true,
		NegationWindow:     negation.DefaultConfig().WindowChars,
		ContextWindowChars: 200,
		Retrieve:           retrieve.DefaultConfig(),
		Policy:             policy.DefaultConfig(),
	}
}

// Linker resolves mentions against one ontology bundle using one embedder
// and reranker.
type Linker struct {
	Bundle   *ontology.Bundle
	Embedder embed.Provider
	Reranker rerank.Reranker
	Config   Config
}

// New builds a Linker.
func New(bundle *ontology.Bundle, embedder embed.Provider, reranker rerank.Reranker, cfg Config) *Linker {
	return &Linker{Bundle: bundle, Embedder: embedder, Reranker: reranker, Config: cfg}
}

// localContext extracts raw_fields[field][max(0,start-W):min(len,end+W)].
func localContext(fieldText string, start, end, window int) string {
	lo := start - window
	if lo < 0 {
		lo = 0
	}
	hi := end + window
	if hi > len(fieldText) {
		hi = len(fieldText)
	}
	if lo >= hi || lo > len(fieldText) {
		return ""
	}
	return fieldText[lo:hi]
}

// LinkMentions processes every mention for one (sample, label, ontology)
// group in extractor order, then applies dedup, returning the final
// ordered list of LinkedEntities for that group (spec.md §4.8).
func (l *Linker) LinkMentions(rawFields map[string]string, ontologyName string, mentions []contracts.Mention) ([]*contracts.LinkedEntity, error) {
	entities := make([]*contracts.LinkedEntity, 0, len(mentions))
	for _, m := range mentions {
		entity, err := l.linkOne(rawFields, ontologyName, m)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return dedup(entities), nil
}

func (l *Linker) linkOne(rawFields map[string]string, ontologyName string, m contracts.Mention) (*contracts.LinkedEntity, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("link: invalid mention: %w", err)
	}
	fieldText := rawFields[m.SourceField]
	if fieldText[m.Start:m.End] != m.SurfaceForm {
		return nil, fmt.Errorf("link: raw_fields[%s][%d:%d] does not match surface_form %q", m.SourceField, m.Start, m.End, m.SurfaceForm)
	}

	entity := &contracts.LinkedEntity{
		Label:       m.Label,
		SurfaceForm: m.SurfaceForm,
		SourceField: m.SourceField,
		Offsets:     m.Offsets(),
	}

	if l.Config.NegationEnabled && negation.IsNegated(fieldText, m.Start, m.End, l.Config.NegationWindow) {
		entity.Status = contracts.StatusRejected
		entity.TopCandidates = []contracts.Candidate{}
		if err := entity.Validate(); err != nil {
			return nil, err
		}
		return entity, nil
	}

	candidates, err := retrieve.Retrieve(l.Bundle, ontologyName, m.SurfaceForm, l.Embedder, l.Config.Retrieve)
	if err != nil {
		return nil, fmt.Errorf("link: retrieve: %w", err)
	}
	if len(candidates) == 0 {
		entity.Status = contracts.StatusUnresolved
		entity.TopCandidates = []contracts.Candidate{}
		if err := entity.Validate(); err != nil {
			return nil, err
		}
		return entity, nil
	}

	context := localContext(fieldText, m.Start, m.End, l.Config.ContextWindowChars)
	query := m.SurfaceForm
	if context != "" {
		query = m.SurfaceForm + "\n\nCONTEXT:\n" + context
	}

	result, err := l.Reranker.Rerank(query, candidates, l.Config.Policy.TopN)
	if err != nil {
		return nil, fmt.Errorf("link: rerank: %w", err)
	}

	status := policy.AssignStatus(result.BestScore, result.Margin, l.Config.Policy)
	entity.Status = status
	// Retention is status-dependent: AMBIGUOUS/UNRESOLVED keep the full
	// top_n so a human reviewer has alternatives to pick from; every other
	// status keeps only the winner. Margin above was already computed over
	// the full sorted list, so this truncation never perturbs the decision.
	if status == contracts.StatusAmbiguous || status == contracts.StatusUnresolved {
		entity.TopCandidates = result.Top
	} else {
		entity.TopCandidates = result.Top[:1]
	}

	if status == contracts.StatusResolved && result.Best != nil {
		linkedID := result.Best.CandidateID
		score := result.BestScore
		margin := result.Margin
		entity.LinkedID = &linkedID
		entity.Score = &score
		entity.Margin = &margin
	} else if status == contracts.StatusAmbiguous {
		score := result.BestScore
		margin := result.Margin
		entity.Score = &score
		entity.Margin = &margin
	}

	if err := entity.Validate(); err != nil {
		return nil, err
	}
	return entity, nil
}

// dedupKey builds spec.md §4.8's dedup key: (label, "ID::"+linked_id) for
// RESOLVED entities, otherwise (label, "SF::"+normalize(surface_form)).
func dedupKey(e *contracts.LinkedEntity) string {
	if e.Status == contracts.StatusResolved && e.LinkedID != nil {
		return e.Label + "\x00ID::" + *e.LinkedID
	}
	return e.Label + "\x00SF::" + normalize.Text(e.SurfaceForm)
}

// dedup merges entities sharing a dedup key: provenances are unioned
// (appending unseen offsets, order-preserving), and the surviving entity is
// whichever has the higher status rank, with the earlier-seen entity
// winning a tie (spec.md §4.8). The result is ordered by first-occurrence
// key.
func dedup(entities []*contracts.LinkedEntity) []*contracts.LinkedEntity {
	byKey := make(map[string]*contracts.LinkedEntity)
	var keyOrder []string

	for _, e := range entities {
		key := dedupKey(e)
		base, seen := byKey[key]
		if !seen {
			byKey[key] = e
			keyOrder = append(keyOrder, key)
			continue
		}
		merged := mergeEntities(base, e)
		byKey[key] = merged
	}

	out := make([]*contracts.LinkedEntity, 0, len(keyOrder))
	for _, key := range keyOrder {
		out = append(out, byKey[key])
	}
	return out
}

// mergeEntities unions base and next's provenances (appending unseen
// offsets in order) and keeps whichever entity's status ranks higher;
// on a rank tie, base (the earlier-seen entity) wins, per spec.md §4.8's
// literal rule.
func mergeEntities(base, next *contracts.LinkedEntity) *contracts.LinkedEntity {
	provenances := append([]contracts.FieldOffsets{}, base.Provenances...)
	seen := make(map[contracts.FieldOffsets]bool, len(provenances))
	for _, p := range provenances {
		seen[p] = true
	}
	for _, p := range next.Provenances {
		if !seen[p] {
			provenances = append(provenances, p)
			seen[p] = true
		}
	}

	winner := base
	if next.Status.Rank() > base.Status.Rank() {
		winner = next
	}

	merged := *winner
	merged.Provenances = provenances
	return &merged
}

// SortCandidates re-sorts a candidate slice by (-score, candidate_id), the
// rule spec.md §4.9 applies to every LinkedEntity's top_candidates before
// export.
func SortCandidates(candidates []contracts.Candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].CandidateID < candidates[j].CandidateID
	})
}
