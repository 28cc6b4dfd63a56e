package ontology

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/nucleus/geo-linker/internal/normalize"
)

// fileSHA256 streams the file in 1MB chunks and returns its hex digest,
// matching ontology_bundle.py's file_sha256 (and avoiding loading large
// ontology files fully into memory).
func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, 1024*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// OntologyStore owns one ontology's concept map and lexical maps. Read-only
// once built (spec.md §3 Ownership / §5 Shared-resource policy).
type OntologyStore struct {
	Name        string
	OBOPath     string
	VersionHash string
	VersionID   string

	concepts    map[string]Concept
	lexicalExact map[string][]string
	lexicalNorm  map[string][]string
}

// NewOntologyStore computes the version hash/id for an ontology file but
// does not yet parse it; concepts are added via AddConcept (or LoadOBOFile).
func NewOntologyStore(name, oboPath string) (*OntologyStore, error) {
	hash, err := fileSHA256(oboPath)
	if err != nil {
		return nil, fmt.Errorf("ontology %s: %w", name, err)
	}
	return &OntologyStore{
		Name:         name,
		OBOPath:      oboPath,
		VersionHash:  hash,
		VersionID:    fmt.Sprintf("%s:%s", name, hash[:12]),
		concepts:     make(map[string]Concept),
		lexicalExact: make(map[string][]string),
		lexicalNorm:  make(map[string][]string),
	}, nil
}

// AddConcept registers a concept and indexes its label+synonyms into both
// lexical maps, preserving insertion order and deduping within each list
// (ontology_bundle.py's OntologyStore.add_concept).
func (s *OntologyStore) AddConcept(c Concept) {
	s.concepts[c.ConceptID] = c

	terms := make([]string, 0, 1+len(c.Synonyms))
	terms = append(terms, c.Label)
	terms = append(terms, c.Synonyms...)

	for _, term := range terms {
		if term == "" {
			continue
		}
		s.lexicalExact[term] = appendDedup(s.lexicalExact[term], c.ConceptID)
		if n := normalize.Text(term); n != "" {
			s.lexicalNorm[n] = appendDedup(s.lexicalNorm[n], c.ConceptID)
		}
	}
}

func appendDedup(list []string, id string) []string {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}

// Concept returns the concept for an id and whether it exists.
func (s *OntologyStore) Concept(id string) (Concept, bool) {
	c, ok := s.concepts[id]
	return c, ok
}

// Concepts returns the full concept map (read-only by convention).
func (s *OntologyStore) Concepts() map[string]Concept {
	return s.concepts
}

// LookupExact returns the deduped, insertion-ordered concept ids for an
// exact (un-normalized) surface string.
func (s *OntologyStore) LookupExact(term string) []string {
	return dedupCopy(s.lexicalExact[term])
}

// LookupNormalized returns the deduped, insertion-ordered concept ids for
// the normalized form of a surface string.
func (s *OntologyStore) LookupNormalized(term string) []string {
	return dedupCopy(s.lexicalNorm[normalize.Text(term)])
}

func dedupCopy(list []string) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, len(list))
	copy(out, list)
	return out
}

// LoadOBOFile parses the store's OBO file and registers one Concept per
// node carrying a non-empty name. Parse errors on a single node are
// recovered per spec.md §4.11 (skip node, continue); a store-level I/O
// error on the whole file is fatal.
func (s *OntologyStore) LoadOBOFile() error {
	f, err := os.Open(s.OBOPath)
	if err != nil {
		return fmt.Errorf("ontology %s: load: %w", s.Name, err)
	}
	defer f.Close()

	stanzas, err := parseOBO(f)
	if err != nil {
		return fmt.Errorf("ontology %s: parse: %w", s.Name, err)
	}

	for _, st := range stanzas {
		if st.id == "" || st.name == "" {
			continue
		}
		syns := make([]string, 0, len(st.synonyms))
		for _, sy := range st.synonyms {
			if sy != "" {
				syns = append(syns, sy)
			}
		}
		var def string
		if len(st.defs) > 0 {
			def = st.defs[0]
		}
		s.AddConcept(Concept{
			ConceptID:  st.id,
			Label:      st.name,
			Synonyms:   syns,
			Definition: def,
		})
	}
	return nil
}
