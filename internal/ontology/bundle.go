package ontology

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/nucleus/geo-linker/internal/contracts"
	"github.com/nucleus/geo-linker/internal/embed"
	"github.com/nucleus/geo-linker/internal/normalize"
	"github.com/nucleus/geo-linker/internal/vectorindex"
)

// Bundle owns every loaded OntologyStore for a run plus the on-disk vector
// index cache directory, and exposes lexical + vector lookups across them.
// Mirrors original_source/src/geo_cleaner/ontology_bundle.py's
// OntologyBundle.
type Bundle struct {
	CacheDir string
	stores   map[string]*OntologyStore
	indexes  map[string]*vectorindex.SearchIndex
}

// NewBundle creates an empty bundle rooted at cacheDir (typically
// run_root/cache).
func NewBundle(cacheDir string) *Bundle {
	return &Bundle{
		CacheDir: cacheDir,
		stores:   make(map[string]*OntologyStore),
		indexes:  make(map[string]*vectorindex.SearchIndex),
	}
}

// LoadOBOFile loads and registers one named ontology from an OBO file.
func (b *Bundle) LoadOBOFile(name, oboPath string) error {
	store, err := NewOntologyStore(name, oboPath)
	if err != nil {
		return err
	}
	if err := store.LoadOBOFile(); err != nil {
		return err
	}
	b.stores[name] = store
	return nil
}

// Store returns the named ontology store, or nil if it was never loaded.
func (b *Bundle) Store(name string) *OntologyStore {
	return b.stores[name]
}

// Names returns the loaded ontology names, sorted.
func (b *Bundle) Names() []string {
	names := make([]string, 0, len(b.stores))
	for n := range b.stores {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// VersionID is the bundle-level version: SHA-256 of the canonical JSON of
// the sorted {ontology_name: version_hash} map, per spec.md §4.1/§6.
func (b *Bundle) VersionID() string {
	hashes := make(map[string]string, len(b.stores))
	for name, store := range b.stores {
		hashes[name] = store.VersionHash
	}
	names := make([]string, 0, len(hashes))
	for n := range hashes {
		names = append(names, n)
	}
	sort.Strings(names)

	var buf strings.Builder
	buf.WriteByte('{')
	for i, n := range names {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, _ := json.Marshal(n)
		valJSON, _ := json.Marshal(hashes[n])
		buf.Write(keyJSON)
		buf.WriteByte(':')
		buf.Write(valJSON)
	}
	buf.WriteByte('}')

	h := sha256.Sum256([]byte(buf.String()))
	return hex.EncodeToString(h[:])
}

// LexicalLookup returns exact and normalized candidate concept ids for a
// mention's surface form against one ontology, preferring exact matches
// first (spec.md §4.2's lexical retrieval step).
func (b *Bundle) LexicalLookup(ontologyName, surfaceForm string) (exact, normalized []string) {
	store, ok := b.stores[ontologyName]
	if !ok {
		return nil, nil
	}
	return store.LookupExact(surfaceForm), store.LookupNormalized(surfaceForm)
}

// indexDir derives the per-(ontology, model) cache directory, normalizing
// the model id the way ontology_bundle.py does for its cache key: lowercase,
// spaces to underscores, empty falls back to "model".
func indexDir(cacheDir, ontologyName, versionHash, modelID string) string {
	norm := strings.ToLower(strings.TrimSpace(modelID))
	norm = strings.ReplaceAll(norm, " ", "_")
	if norm == "" {
		norm = "model"
	}
	return vectorindex.Dir(cacheDir, ontologyName, versionHash, norm)
}

// GetOrBuildVectorIndex builds (or reuses) the vector index for one
// ontology under the given embedder, then loads it into memory for
// Search. One representative string per concept is embedded (its label,
// or its first synonym when the label is empty) and L2-normalized before
// indexing.
func (b *Bundle) GetOrBuildVectorIndex(ontologyName string, embedder embed.Provider, forceRebuild bool) error {
	store, ok := b.stores[ontologyName]
	if !ok {
		return fmt.Errorf("ontology %s: not loaded", ontologyName)
	}

	conceptIDs := make([]string, 0, len(store.Concepts()))
	for id := range store.Concepts() {
		conceptIDs = append(conceptIDs, id)
	}
	sort.Strings(conceptIDs)

	texts := make([]string, len(conceptIDs))
	for i, id := range conceptIDs {
		c, _ := store.Concept(id)
		texts[i] = representativeText(c)
	}

	dir := indexDir(b.CacheDir, ontologyName, store.VersionHash, embedder.ModelID())
	meta := vectorindex.Meta{
		OntologyName: ontologyName,
		VersionHash:  store.VersionHash,
		ModelID:      embedder.ModelID(),
	}

	if !forceRebuild && vectorindex.CanReuse(dir, meta) {
		handle := vectorindex.OpenExisting(dir, meta)
		idx, loadErr := vectorindex.Load(handle)
		if loadErr != nil {
			return fmt.Errorf("ontology %s: load cached index: %w", ontologyName, loadErr)
		}
		b.indexes[ontologyName] = idx
		return nil
	}

	raw, err := embedder.EmbedText(texts)
	if err != nil {
		return fmt.Errorf("ontology %s: embed concepts: %w", ontologyName, err)
	}
	vectors := make([][]float32, len(raw))
	for i, v := range raw {
		vectors[i] = vectorindex.NormalizeL2(v)
	}

	handle, err := vectorindex.GetOrBuild(dir, meta, conceptIDs, vectors, forceRebuild)
	if err != nil {
		return fmt.Errorf("ontology %s: build index: %w", ontologyName, err)
	}
	idx, err := vectorindex.Load(handle)
	if err != nil {
		return fmt.Errorf("ontology %s: load built index: %w", ontologyName, err)
	}
	b.indexes[ontologyName] = idx
	return nil
}

func representativeText(c Concept) string {
	if c.Label != "" {
		return c.Label
	}
	if len(c.Synonyms) > 0 {
		return c.Synonyms[0]
	}
	return ""
}

// VectorSearch embeds a query mention and searches the named ontology's
// vector index, returning candidates ordered by (-score, candidate_id) per
// spec.md §4.2. Returns an empty slice (not an error) if the index was
// never built, matching the "vector retrieval degrades gracefully" policy.
func (b *Bundle) VectorSearch(ontologyName string, embedder embed.Provider, query string, topK int) ([]contracts.Candidate, error) {
	idx, ok := b.indexes[ontologyName]
	if !ok {
		return nil, nil
	}
	store := b.stores[ontologyName]

	vecs, err := embedder.EmbedText([]string{query})
	if err != nil {
		return nil, fmt.Errorf("ontology %s: embed query: %w", ontologyName, err)
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	queryVec := vectorindex.NormalizeL2(vecs[0])

	hits := idx.Search(queryVec, topK)
	out := make([]contracts.Candidate, 0, len(hits))
	for _, h := range hits {
		c, ok := store.Concept(h.ConceptID)
		if !ok {
			continue
		}
		out = append(out, contracts.Candidate{
			CandidateID:    h.ConceptID,
			CandidateLabel: c.Label,
			Score:          h.Score,
			Source:         "vector",
			Definition:     c.Definition,
		})
	}
	return out, nil
}

// NormalizedSurfaceForm exposes normalize.Text for callers that need the
// same normalization the lexical maps use (e.g. retrieval, dedup keys).
func NormalizedSurfaceForm(s string) string {
	return normalize.Text(s)
}
