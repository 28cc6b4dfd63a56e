package vectorindex

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConcepts() ([]string, [][]float32) {
	ids := []string{"TEST:0002", "TEST:0001", "TEST:0003"}
	vectors := [][]float32{
		NormalizeL2([]float32{1, 0, 0}),
		NormalizeL2([]float32{0, 1, 0}),
		NormalizeL2([]float32{0, 0, 1}),
	}
	return ids, vectors
}

func TestDir_BuildsCanonicalCachePath(t *testing.T) {
	dir := Dir("/cache", "disease", "abc123", "local_fnv_hash_32")
	assert.Equal(t, filepath.Join("/cache", "vector_indexes", "disease", "abc123", "local_fnv_hash_32"), dir)
}

func TestCanReuse_FalseWhenDirectoryDoesNotExist(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nonexistent")
	assert.False(t, CanReuse(dir, Meta{VersionHash: "v1", ModelID: "m1"}))
}

func TestGetOrBuild_BuildsThenReportsReusedOnSecondCall(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	ids, vectors := testConcepts()
	meta := Meta{OntologyName: "disease", VersionHash: "v1", ModelID: "m1"}

	h1, err := GetOrBuild(dir, meta, ids, vectors, false)
	require.NoError(t, err)
	assert.False(t, h1.Reused)
	assert.Equal(t, 3, h1.Meta.Count)
	assert.Equal(t, 3, h1.Meta.Dim)

	h2, err := GetOrBuild(dir, meta, ids, vectors, false)
	require.NoError(t, err)
	assert.True(t, h2.Reused)
}

func TestGetOrBuild_ForceRebuildIgnoresExistingCache(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	ids, vectors := testConcepts()
	meta := Meta{OntologyName: "disease", VersionHash: "v1", ModelID: "m1"}

	_, err := GetOrBuild(dir, meta, ids, vectors, false)
	require.NoError(t, err)

	h2, err := GetOrBuild(dir, meta, ids, vectors, true)
	require.NoError(t, err)
	assert.False(t, h2.Reused)
}

func TestGetOrBuild_RebuildsWhenVersionHashChanges(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	ids, vectors := testConcepts()

	_, err := GetOrBuild(dir, Meta{OntologyName: "disease", VersionHash: "v1", ModelID: "m1"}, ids, vectors, false)
	require.NoError(t, err)

	h2, err := GetOrBuild(dir, Meta{OntologyName: "disease", VersionHash: "v2", ModelID: "m1"}, ids, vectors, false)
	require.NoError(t, err)
	assert.False(t, h2.Reused)
}

func TestGetOrBuild_RebuildsWhenModelIDChanges(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	ids, vectors := testConcepts()

	_, err := GetOrBuild(dir, Meta{OntologyName: "disease", VersionHash: "v1", ModelID: "m1"}, ids, vectors, false)
	require.NoError(t, err)

	h2, err := GetOrBuild(dir, Meta{OntologyName: "disease", VersionHash: "v1", ModelID: "m2"}, ids, vectors, false)
	require.NoError(t, err)
	assert.False(t, h2.Reused)
}

func TestGetOrBuild_RejectsMismatchedConceptIDsAndVectorsLength(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	ids, vectors := testConcepts()

	_, err := GetOrBuild(dir, Meta{VersionHash: "v1", ModelID: "m1"}, ids[:2], vectors, false)
	require.Error(t, err)
}

func TestGetOrBuild_LeavesNoTempDirectoryBehind(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "idx")
	ids, vectors := testConcepts()

	_, err := GetOrBuild(dir, Meta{VersionHash: "v1", ModelID: "m1"}, ids, vectors, false)
	require.NoError(t, err)

	entries, err := filepath.Glob(filepath.Join(parent, ".vecidx-build-*"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCanReuse_TrueAfterBuildWithMatchingMeta(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	ids, vectors := testConcepts()
	meta := Meta{VersionHash: "v1", ModelID: "m1"}

	_, err := GetOrBuild(dir, meta, ids, vectors, false)
	require.NoError(t, err)
	assert.True(t, CanReuse(dir, meta))
	assert.False(t, CanReuse(dir, Meta{VersionHash: "v2", ModelID: "m1"}))
}

func TestOpenExisting_PopulatesAllArtifactPaths(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	ids, vectors := testConcepts()
	meta := Meta{VersionHash: "v1", ModelID: "m1"}

	_, err := GetOrBuild(dir, meta, ids, vectors, false)
	require.NoError(t, err)

	h := OpenExisting(dir, meta)
	assert.True(t, h.Reused)
	assert.FileExists(t, h.MetaPath)
	assert.FileExists(t, h.IndexPath)
	assert.FileExists(t, h.ConceptIDsPath)
	assert.FileExists(t, h.EmbeddingsPath)
}

func TestLoadAndSearch_FindsNearestConceptByCosine(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	ids, vectors := testConcepts()
	meta := Meta{VersionHash: "v1", ModelID: "m1"}

	h, err := GetOrBuild(dir, meta, ids, vectors, false)
	require.NoError(t, err)

	idx, err := Load(h)
	require.NoError(t, err)

	query := NormalizeL2([]float32{0, 1, 0})
	hits := idx.Search(query, 3)
	require.NotEmpty(t, hits)
	assert.Equal(t, "TEST:0001", hits[0].ConceptID)
}

func TestSearch_TruncatesToTopK(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	ids, vectors := testConcepts()
	meta := Meta{VersionHash: "v1", ModelID: "m1"}

	h, err := GetOrBuild(dir, meta, ids, vectors, false)
	require.NoError(t, err)
	idx, err := Load(h)
	require.NoError(t, err)

	hits := idx.Search(NormalizeL2([]float32{1, 1, 1}), 1)
	assert.Len(t, hits, 1)
}

func TestNormalizeL2_ProducesUnitLengthVector(t *testing.T) {
	out := NormalizeL2([]float32{3, 4, 0})
	assert.InDelta(t, float32(0.6), out[0], 1e-4)
	assert.InDelta(t, float32(0.8), out[1], 1e-4)
}

func TestDefaultParams_MatchesDocumentedKnobs(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, 16, p.M)
	assert.Equal(t, 200, p.EfConstruction)
	assert.Equal(t, 64, p.EfSearch)
}
