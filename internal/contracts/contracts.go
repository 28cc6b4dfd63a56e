// Package contracts defines the shared value types passed between the
// extractor, retriever, reranker, policy, and linker stages.
package contracts

import "fmt"

// EntityStatus is the terminal classification of a LinkedEntity.
type EntityStatus string

const (
	StatusResolved   EntityStatus = "RESOLVED"
	StatusAmbiguous  EntityStatus = "AMBIGUOUS"
	StatusUnresolved EntityStatus = "UNRESOLVED"
	StatusRejected   EntityStatus = "REJECTED"
)

// statusRank orders statuses for dedup merge and exporter sort: RESOLVED >
// AMBIGUOUS > UNRESOLVED > REJECTED.
var statusRank = map[EntityStatus]int{
	StatusResolved:   3,
	StatusAmbiguous:  2,
	StatusUnresolved: 1,
	StatusRejected:   0,
}

// Rank returns the merge/sort precedence of a status; higher wins.
func (s EntityStatus) Rank() int {
	return statusRank[s]
}

// FieldOffsets is a field-scoped span: raw_fields[FieldKey][Start:End].
type FieldOffsets struct {
	FieldKey string `json:"field_key"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
}

// Validate checks the span invariant (end >= start, both non-negative).
func (o FieldOffsets) Validate() error {
	if o.FieldKey == "" {
		return fmt.Errorf("field_key must be non-empty")
	}
	if o.Start < 0 || o.End < 0 {
		return fmt.Errorf("offsets must be non-negative")
	}
	if o.End < o.Start {
		return fmt.Errorf("end must be >= start")
	}
	return nil
}

// Mention is a labeled span inside a single raw field.
type Mention struct {
	Label         string  `json:"label"`
	SurfaceForm   string  `json:"surface_form"`
	SourceField   string  `json:"source_field"`
	Start         int     `json:"start"`
	End           int     `json:"end"`
	ExtractorConf float64 `json:"extractor_conf"`
}

// Offsets returns the FieldOffsets view of this mention's span.
func (m Mention) Offsets() FieldOffsets {
	return FieldOffsets{FieldKey: m.SourceField, Start: m.Start, End: m.End}
}

// Validate enforces the mention invariants shared by every extractor variant.
func (m Mention) Validate() error {
	if m.Label == "" {
		return fmt.Errorf("label must be non-empty")
	}
	if m.SurfaceForm == "" {
		return fmt.Errorf("surface_form must be non-empty")
	}
	if m.SourceField == "" {
		return fmt.Errorf("source_field must be non-empty")
	}
	if m.End < m.Start {
		return fmt.Errorf("end must be >= start")
	}
	if m.ExtractorConf < 0 || m.ExtractorConf > 1 {
		return fmt.Errorf("extractor_conf must be in [0,1]")
	}
	return nil
}

// Candidate is a concept proposed as a link target for some mention.
type Candidate struct {
	CandidateID    string  `json:"candidate_id"`
	CandidateLabel string  `json:"candidate_label"`
	Score          float64 `json:"score"`
	Source         string  `json:"source,omitempty"`
	Definition     string  `json:"definition,omitempty"`
}

// LinkedEntity is the decided mapping (or explicit non-mapping) of a mention
// to a concept, carrying its status and provenance.
type LinkedEntity struct {
	Label       string       `json:"label"`
	SurfaceForm string       `json:"surface_form"`
	SourceField string       `json:"source_field"`
	Offsets     FieldOffsets `json:"offsets"`
	Status      EntityStatus `json:"status"`

	LinkedID *string  `json:"linked_id,omitempty"`
	Score    *float64 `json:"score,omitempty"`
	Margin   *float64 `json:"margin,omitempty"`

	TopCandidates []Candidate    `json:"top_candidates"`
	Provenances   []FieldOffsets `json:"provenances"`
}

// Validate checks the LinkedEntity invariants from spec §8: offsets must
// point at source_field, RESOLVED requires linked_id, and provenances[0]
// must equal the primary offsets (normalizing the list if needed, exactly
// as the original's model_validator does).
func (e *LinkedEntity) Validate() error {
	if e.Offsets.FieldKey != e.SourceField {
		return fmt.Errorf("offsets.field_key must equal source_field")
	}
	if e.Status == StatusResolved && (e.LinkedID == nil || *e.LinkedID == "") {
		return fmt.Errorf("linked_id is required when status=RESOLVED")
	}
	if len(e.Provenances) == 0 {
		e.Provenances = []FieldOffsets{e.Offsets}
		return nil
	}
	if e.Provenances[0] == e.Offsets {
		return nil
	}
	out := []FieldOffsets{e.Offsets}
	for _, p := range e.Provenances {
		if p != e.Offsets {
			out = append(out, p)
		}
	}
	e.Provenances = out
	return nil
}
