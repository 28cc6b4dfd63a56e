// Package ontology parses ontology files into concepts, builds exact and
// normalized lexical maps, and owns per-(ontology, embedding-model) vector
// indexes with a persistent on-disk cache.
//
// Grounded on rishianshu-Nucleus's pkg/entity (registry/matcher shape) and
// original_source/src/geo_cleaner/ontology_bundle.py for exact semantics
// (version hashing, lexical map construction, vector-index reuse rule).
package ontology

// Concept is a single ontology node: a stable id, a label, an ordered list
// of synonyms, and an optional definition.
type Concept struct {
	ConceptID  string
	Label      string
	Synonyms   []string
	Definition string
}
