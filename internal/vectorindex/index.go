// Package vectorindex owns the persistent, content-hash-keyed vector index
// cache described in spec.md §4.2: a directory of {meta.json,
// concept_ids.json, embeddings.npy, faiss.index} reused whenever the
// ontology version hash and embedding model id are unchanged, rebuilt
// atomically (temp dir + rename) otherwise.
//
// The ANN index itself is github.com/fogfish/hnsw, the same library and
// wiring pattern liliang-cn-sqvect's SQLiteStore uses: vectors are the
// source of truth on disk, and the in-memory HNSW graph is rebuilt from
// them on load (sqvect's rebuildHNSWIndex never serializes the graph
// either) rather than persisting hnsw's internal node structure, which
// has no stable on-disk format to round-trip.
package vectorindex

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/fogfish/hnsw"
	hnswvector "github.com/fogfish/hnsw/vector"
	surface "github.com/kshard/vector"
)

// ErrBackendUnavailable corresponds to spec.md §7's VectorBackendUnavailable.
var ErrBackendUnavailable = errors.New("vector backend unavailable")

// Meta is the persisted meta.json payload: spec.md §4.2 names exactly
// these fields (ontology_name, version_hash, model_id, dim, count).
type Meta struct {
	OntologyName string `json:"ontology_name"`
	VersionHash  string `json:"version_hash"`
	ModelID      string `json:"model_id"`
	Dim          int    `json:"dim"`
	Count        int    `json:"count"`
}

// Params configures the HNSW graph build/search, mirroring sqvect's
// Config.HNSW knobs (M, EfConstruction, EfSearch).
type Params struct {
	M              int
	EfConstruction int
	EfSearch       int
}

// DefaultParams mirrors sqvect's defaults for small-to-medium concept sets.
func DefaultParams() Params {
	return Params{M: 16, EfConstruction: 200, EfSearch: 64}
}

// Handle locates the four on-disk artifacts for one (ontology, version,
// model) vector index and records whether GetOrBuild reused them.
type Handle struct {
	Dir            string
	MetaPath       string
	IndexPath      string
	ConceptIDsPath string
	EmbeddingsPath string
	Reused         bool
	Meta           Meta
}

func handlePaths(dir string) (meta, index, conceptIDs, embeddings string) {
	return filepath.Join(dir, "meta.json"),
		filepath.Join(dir, "faiss.index"),
		filepath.Join(dir, "concept_ids.json"),
		filepath.Join(dir, "embeddings.npy")
}

// Dir builds the canonical cache directory path for an (ontology, model)
// pair: cache/vector_indexes/<ontology>/<version_hash>/<normalize(model_id)>.
func Dir(cacheDir, ontologyName, versionHash, normalizedModelID string) string {
	return filepath.Join(cacheDir, "vector_indexes", ontologyName, versionHash, normalizedModelID)
}

// filesExist reports whether all four index artifacts are present.
func filesExist(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// CanReuse reports whether a cache directory already holds a complete,
// matching index for meta, without creating or modifying anything.
func CanReuse(dir string, meta Meta) bool {
	metaPath, indexPath, conceptIDsPath, embeddingsPath := handlePaths(dir)
	if !filesExist(metaPath, indexPath, conceptIDsPath, embeddingsPath) {
		return false
	}
	existing, err := readMeta(metaPath)
	if err != nil {
		return false
	}
	return existing.VersionHash == meta.VersionHash && existing.ModelID == meta.ModelID
}

// OpenExisting returns a Handle for an already-reusable cache directory.
// Callers must check CanReuse first.
func OpenExisting(dir string, meta Meta) *Handle {
	metaPath, indexPath, conceptIDsPath, embeddingsPath := handlePaths(dir)
	return &Handle{
		Dir: dir, MetaPath: metaPath, IndexPath: indexPath,
		ConceptIDsPath: conceptIDsPath, EmbeddingsPath: embeddingsPath,
		Reused: true, Meta: meta,
	}
}

// GetOrBuild implements the reuse rule from spec.md §4.2/§8: if all four
// files exist and meta matches both version_hash and model_id, reuse
// without touching any file (preserving mtime); otherwise (re)build from
// the supplied conceptIDs/vectors (conceptIDs must already be sorted, and
// vectors must be L2-normalized — callers do this, mirroring
// ontology_bundle.py's get_or_build_vector_index which normalizes before
// persisting).
func GetOrBuild(dir string, meta Meta, conceptIDs []string, vectors [][]float32, forceRebuild bool) (*Handle, error) {
	metaPath, indexPath, conceptIDsPath, embeddingsPath := handlePaths(dir)

	if !forceRebuild && filesExist(metaPath, indexPath, conceptIDsPath, embeddingsPath) {
		existing, err := readMeta(metaPath)
		if err == nil && existing.VersionHash == meta.VersionHash && existing.ModelID == meta.ModelID {
			return &Handle{
				Dir: dir, MetaPath: metaPath, IndexPath: indexPath,
				ConceptIDsPath: conceptIDsPath, EmbeddingsPath: embeddingsPath,
				Reused: true, Meta: existing,
			}, nil
		}
	}

	if len(vectors) != len(conceptIDs) {
		return nil, fmt.Errorf("vectorindex: %d concept ids but %d vectors", len(conceptIDs), len(vectors))
	}
	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}
	meta.Dim = dim
	meta.Count = len(vectors)

	return build(dir, meta, conceptIDs, vectors)
}

// build writes all four artifacts atomically: it stages them in a sibling
// temp directory, then renames the temp directory over the final one
// (spec.md §4.2/§5: "Build writes to a temporary sibling and renames
// atomically").
func build(dir string, meta Meta, conceptIDs []string, vectors [][]float32) (*Handle, error) {
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, err
	}
	tmpDir, err := os.MkdirTemp(parent, ".vecidx-build-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	metaPath, indexPath, conceptIDsPath, embeddingsPath := handlePaths(tmpDir)

	if err := writeNPY(embeddingsPath, vectors); err != nil {
		return nil, fmt.Errorf("vectorindex: write embeddings: %w", err)
	}

	sortedIDs := make([]string, len(conceptIDs))
	copy(sortedIDs, conceptIDs)
	sort.Strings(sortedIDs)
	idBytes, err := json.MarshalIndent(sortedIDs, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(conceptIDsPath, idBytes, 0o644); err != nil {
		return nil, fmt.Errorf("vectorindex: write concept ids: %w", err)
	}

	params := DefaultParams()
	paramBytes, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(indexPath, paramBytes, 0o644); err != nil {
		return nil, fmt.Errorf("vectorindex: write index params: %w", err)
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(metaPath, metaBytes, 0o644); err != nil {
		return nil, fmt.Errorf("vectorindex: write meta: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}
	if err := os.Rename(tmpDir, dir); err != nil {
		return nil, fmt.Errorf("vectorindex: atomic rename: %w", err)
	}

	finalMeta, finalIndex, finalConceptIDs, finalEmbeddings := handlePaths(dir)
	return &Handle{
		Dir: dir, MetaPath: finalMeta, IndexPath: finalIndex,
		ConceptIDsPath: finalConceptIDs, EmbeddingsPath: finalEmbeddings,
		Reused: false, Meta: meta,
	}, nil
}

func readMeta(path string) (Meta, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, err
	}
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return Meta{}, err
	}
	return m, nil
}

func readParams(path string) (Params, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Params{}, err
	}
	var p Params
	if err := json.Unmarshal(b, &p); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Hit is a single ANN search result over concept label embeddings.
type Hit struct {
	ConceptID string
	Score     float64
}

// SearchIndex is the in-memory HNSW graph rebuilt from a Handle's
// persisted vectors, along with the uint32<->concept_id key mapping HNSW
// requires (mirrors sqvect's idToKey/keyToID).
type SearchIndex struct {
	graph   *hnsw.HNSW[hnswvector.VF32]
	keyToID map[uint32]string
	ef      int
}

// Load rebuilds the HNSW graph for a Handle from its on-disk vectors.
func Load(h *Handle) (*SearchIndex, error) {
	conceptIDs, err := readConceptIDs(h.ConceptIDsPath)
	if err != nil {
		return nil, err
	}
	vectors, err := readNPY(h.EmbeddingsPath)
	if err != nil {
		return nil, err
	}
	params, err := readParams(h.IndexPath)
	if err != nil {
		return nil, err
	}
	if len(conceptIDs) != len(vectors) {
		return nil, fmt.Errorf("vectorindex: concept_ids/embeddings length mismatch (%d vs %d)", len(conceptIDs), len(vectors))
	}

	graph := hnsw.New(
		hnswvector.SurfaceVF32(surface.Cosine()),
		hnsw.WithM(params.M),
		hnsw.WithEfConstruction(params.EfConstruction),
	)
	keyToID := make(map[uint32]string, len(conceptIDs))
	for i, cid := range conceptIDs {
		key := uint32(i)
		keyToID[key] = cid
		graph.Insert(hnswvector.VF32{Key: key, Vec: vectors[i]})
	}

	return &SearchIndex{graph: graph, keyToID: keyToID, ef: params.EfSearch}, nil
}

func readConceptIDs(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Search returns the topK nearest concepts to query (which must already be
// L2-normalized) ordered by (-score, concept_id) per spec.md §4.2.
func (si *SearchIndex) Search(query []float32, topK int) []Hit {
	if topK <= 0 {
		topK = 10
	}
	neighbors := si.graph.Search(hnswvector.VF32{Key: 0, Vec: query}, topK, si.ef)

	hits := make([]Hit, 0, len(neighbors))
	for _, n := range neighbors {
		cid, ok := si.keyToID[n.Key]
		if !ok {
			continue
		}
		hits = append(hits, Hit{ConceptID: cid, Score: float64(n.Distance)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ConceptID < hits[j].ConceptID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// NormalizeL2 scales vec to unit length in place and returns it, matching
// ontology_bundle.py's "normalize each row to unit L2 length" build step.
func NormalizeL2(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq) + 1e-12
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
