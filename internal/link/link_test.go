package link_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleus/geo-linker/internal/contracts"
	"github.com/nucleus/geo-linker/internal/link"
	"github.com/nucleus/geo-linker/internal/ontology"
	"github.com/nucleus/geo-linker/internal/rerank"
)

const testOBO = `format-version: 1.4

[Term]
id: TEST:0001
name: lung cancer
def: "A malignant neoplasm of the lung." []

[Term]
id: TEST:0002
name: tumor

[Term]
id: TEST:0003
name: tumor
`

func newTestBundle(t *testing.T) *ontology.Bundle {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.obo")
	require.NoError(t, os.WriteFile(path, []byte(testOBO), 0o644))

	bundle := ontology.NewBundle(filepath.Join(dir, "cache"))
	require.NoError(t, bundle.LoadOBOFile("disease", path))
	return bundle
}

func mentionAt(label, field, text, surface string) contracts.Mention {
	idx := strings.Index(text, surface)
	return contracts.Mention{
		Label:       label,
		SurfaceForm: surface,
		SourceField: field,
		Start:       idx,
		End:         idx + len(surface),
	}
}

func TestLinkMentions_ResolvedWhenSingleConfidentMatch(t *testing.T) {
	bundle := newTestBundle(t)
	l := link.New(bundle, nil, rerank.DummyReranker{}, link.DefaultConfig())

	text := "patient diagnosed with lung cancer on biopsy"
	raw := map[string]string{"title": text}
	m := mentionAt("disease", "title", text, "lung cancer")

	entities, err := l.LinkMentions(raw, "disease", []contracts.Mention{m})
	require.NoError(t, err)
	require.Len(t, entities, 1)

	e := entities[0]
	assert.Equal(t, contracts.StatusResolved, e.Status)
	require.NotNil(t, e.LinkedID)
	assert.Equal(t, "TEST:0001", *e.LinkedID)
	require.NotNil(t, e.Score)
	assert.Equal(t, 1.0, *e.Score)
	assert.Len(t, e.TopCandidates, 1, "resolved entities retain only the winning candidate")
}

func TestLinkMentions_AmbiguousWhenCandidatesTie(t *testing.T) {
	bundle := newTestBundle(t)
	l := link.New(bundle, nil, rerank.DummyReranker{}, link.DefaultConfig())

	text := "sample contains a tumor of unknown origin"
	raw := map[string]string{"title": text}
	m := mentionAt("disease", "title", text, "tumor")

	entities, err := l.LinkMentions(raw, "disease", []contracts.Mention{m})
	require.NoError(t, err)
	require.Len(t, entities, 1)

	e := entities[0]
	assert.Equal(t, contracts.StatusAmbiguous, e.Status)
	assert.Nil(t, e.LinkedID, "ambiguous entities do not carry a linked_id")
	require.NotNil(t, e.Margin)
	assert.Less(t, *e.Margin, 0.10)
	assert.Len(t, e.TopCandidates, 2, "ambiguous entities retain up to top_n candidates")
}

func TestLinkMentions_UnresolvedWhenNoCandidates(t *testing.T) {
	bundle := newTestBundle(t)
	l := link.New(bundle, nil, rerank.DummyReranker{}, link.DefaultConfig())

	text := "this sample mentions xenomorph infestation"
	raw := map[string]string{"title": text}
	m := mentionAt("disease", "title", text, "xenomorph infestation")

	entities, err := l.LinkMentions(raw, "disease", []contracts.Mention{m})
	require.NoError(t, err)
	require.Len(t, entities, 1)

	e := entities[0]
	assert.Equal(t, contracts.StatusUnresolved, e.Status)
	assert.Nil(t, e.LinkedID)
	assert.Empty(t, e.TopCandidates)
}

func TestLinkMentions_RejectedWhenNegated(t *testing.T) {
	bundle := newTestBundle(t)
	l := link.New(bundle, nil, rerank.DummyReranker{}, link.DefaultConfig())

	text := "biopsy shows no evidence of lung cancer in this tissue"
	raw := map[string]string{"notes": text}
	m := mentionAt("disease", "notes", text, "lung cancer")

	entities, err := l.LinkMentions(raw, "disease", []contracts.Mention{m})
	require.NoError(t, err)
	require.Len(t, entities, 1)

	e := entities[0]
	assert.Equal(t, contracts.StatusRejected, e.Status)
	assert.Nil(t, e.LinkedID)
}

func TestLinkMentions_DedupMergesRepeatedMentionOfSameConcept(t *testing.T) {
	bundle := newTestBundle(t)
	l := link.New(bundle, nil, rerank.DummyReranker{}, link.DefaultConfig())

	text := "lung cancer confirmed; follow-up notes also mention lung cancer recurrence"
	raw := map[string]string{"title": text}

	first := mentionAt("disease", "title", text, "lung cancer")
	secondIdx := strings.LastIndex(text, "lung cancer")
	second := contracts.Mention{
		Label:       "disease",
		SurfaceForm: "lung cancer",
		SourceField: "title",
		Start:       secondIdx,
		End:         secondIdx + len("lung cancer"),
	}
	require.NotEqual(t, first.Start, second.Start)

	entities, err := l.LinkMentions(raw, "disease", []contracts.Mention{first, second})
	require.NoError(t, err)
	require.Len(t, entities, 1, "both mentions resolve to the same linked_id and must merge")

	e := entities[0]
	assert.Equal(t, contracts.StatusResolved, e.Status)
	require.Len(t, e.Provenances, 2, "provenances from both mentions are unioned")
}
