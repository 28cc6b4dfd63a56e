package export_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleus/geo-linker/internal/contracts"
	"github.com/nucleus/geo-linker/internal/export"
	"github.com/nucleus/geo-linker/internal/textview"
)

func strPtr(s string) *string { return &s }

func entity(label, sourceField, surface string, start, end int, status contracts.EntityStatus, linkedID *string) *contracts.LinkedEntity {
	return &contracts.LinkedEntity{
		Label:       label,
		SurfaceForm: surface,
		SourceField: sourceField,
		Offsets:     contracts.FieldOffsets{FieldKey: sourceField, Start: start, End: end},
		Status:      status,
		LinkedID:    linkedID,
	}
}

func TestGroupEntitiesByLabel_GroupsByLabelKey(t *testing.T) {
	entities := []*contracts.LinkedEntity{
		entity("disease", "title", "lung cancer", 0, 11, contracts.StatusResolved, strPtr("TEST:0001")),
		entity("cell_type", "title", "T cell", 20, 26, contracts.StatusResolved, strPtr("TEST:0002")),
	}
	grouped := export.GroupEntitiesByLabel(entities)
	assert.Len(t, grouped, 2)
	assert.Len(t, grouped["disease"], 1)
	assert.Len(t, grouped["cell_type"], 1)
}

func TestGroupEntitiesByLabel_SortsByStatusRankDescending(t *testing.T) {
	entities := []*contracts.LinkedEntity{
		entity("disease", "title", "x", 0, 1, contracts.StatusUnresolved, nil),
		entity("disease", "title", "y", 2, 3, contracts.StatusResolved, strPtr("TEST:0001")),
		entity("disease", "title", "z", 4, 5, contracts.StatusAmbiguous, nil),
	}
	grouped := export.GroupEntitiesByLabel(entities)
	list := grouped["disease"]
	require.Len(t, list, 3)
	assert.Equal(t, contracts.StatusResolved, list[0].Status)
	assert.Equal(t, contracts.StatusAmbiguous, list[1].Status)
	assert.Equal(t, contracts.StatusUnresolved, list[2].Status)
}

func TestGroupEntitiesByLabel_TieBreaksByLinkedIDThenOffsets(t *testing.T) {
	entities := []*contracts.LinkedEntity{
		entity("disease", "title", "b", 10, 15, contracts.StatusResolved, strPtr("TEST:0002")),
		entity("disease", "title", "a", 0, 5, contracts.StatusResolved, strPtr("TEST:0001")),
	}
	grouped := export.GroupEntitiesByLabel(entities)
	list := grouped["disease"]
	require.Len(t, list, 2)
	assert.Equal(t, "TEST:0001", *list[0].LinkedID)
	assert.Equal(t, "TEST:0002", *list[1].LinkedID)
}

func TestGroupEntitiesByLabel_SortsTopCandidatesByScoreThenID(t *testing.T) {
	e := entity("disease", "title", "x", 0, 1, contracts.StatusAmbiguous, nil)
	e.TopCandidates = []contracts.Candidate{
		{CandidateID: "B", Score: 0.5},
		{CandidateID: "A", Score: 0.5},
		{CandidateID: "C", Score: 0.9},
	}
	grouped := export.GroupEntitiesByLabel([]*contracts.LinkedEntity{e})
	got := grouped["disease"][0].TopCandidates
	require.Len(t, got, 3)
	assert.Equal(t, "C", got[0].CandidateID)
	assert.Equal(t, "A", got[1].CandidateID)
	assert.Equal(t, "B", got[2].CandidateID)
}

func TestComputeGSESummary_CountsStatusesPerLabel(t *testing.T) {
	records := []export.GSMCleanedRecord{
		{
			Entities: map[string][]*contracts.LinkedEntity{
				"disease": {
					entity("disease", "title", "a", 0, 1, contracts.StatusResolved, strPtr("T1")),
					entity("disease", "title", "b", 2, 3, contracts.StatusAmbiguous, nil),
				},
			},
		},
		{
			Entities: map[string][]*contracts.LinkedEntity{
				"disease": {
					entity("disease", "title", "c", 0, 1, contracts.StatusUnresolved, nil),
				},
			},
		},
	}
	summary := export.ComputeGSESummary("GSE1", records, 10)
	assert.Equal(t, "GSE1", summary.StudyID)
	assert.Equal(t, 2, summary.NSamples)
	y := summary.YieldsByLabel["disease"]
	assert.Equal(t, 3, y.Total)
	assert.Equal(t, 1, y.Resolved)
	assert.Equal(t, 1, y.Ambiguous)
	assert.Equal(t, 1, y.Unresolved)
}

func TestComputeGSESummary_TopAmbiguousRankedByCountThenLexical(t *testing.T) {
	records := []export.GSMCleanedRecord{
		{Entities: map[string][]*contracts.LinkedEntity{
			"disease": {
				entity("disease", "title", "tumor", 0, 1, contracts.StatusAmbiguous, nil),
				entity("disease", "title", "tumor", 2, 3, contracts.StatusAmbiguous, nil),
				entity("disease", "title", "lesion", 4, 5, contracts.StatusAmbiguous, nil),
			},
		}},
	}
	summary := export.ComputeGSESummary("GSE1", records, 10)
	require.Len(t, summary.TopAmbiguous, 2)
	assert.Equal(t, "tumor", summary.TopAmbiguous[0].SurfaceForm)
	assert.Equal(t, 2, summary.TopAmbiguous[0].Count)
	assert.Equal(t, "lesion", summary.TopAmbiguous[1].SurfaceForm)
}

func TestComputeGSESummary_TruncatesTopListsToTopN(t *testing.T) {
	records := []export.GSMCleanedRecord{
		{Entities: map[string][]*contracts.LinkedEntity{
			"disease": {
				entity("disease", "title", "a", 0, 1, contracts.StatusUnresolved, nil),
				entity("disease", "title", "b", 2, 3, contracts.StatusUnresolved, nil),
				entity("disease", "title", "c", 4, 5, contracts.StatusUnresolved, nil),
			},
		}},
	}
	summary := export.ComputeGSESummary("GSE1", records, 1)
	assert.Len(t, summary.TopUnresolved, 1)
}

func TestComputeCorpusReportApproximate_SumsYieldsAcrossStudies(t *testing.T) {
	summaries := []export.GSESummary{
		{StudyID: "GSE1", YieldsByLabel: map[string]export.LabelYield{"disease": {Total: 2, Resolved: 2}}},
		{StudyID: "GSE2", YieldsByLabel: map[string]export.LabelYield{"disease": {Total: 3, Resolved: 1, Unresolved: 2}}},
	}
	report := export.ComputeCorpusReportApproximate("run-1", []string{"lung cancer"}, nil, "manifest.json", "corpus.json",
		[]string{"GSE1", "GSE2"}, []string{"GSE1", "GSE2"}, summaries, export.Resources{}, 10)

	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, "approximate", report.AggregationMode)
	agg := report.AggregateYields["disease"]
	assert.Equal(t, 5, agg.Total)
	assert.Equal(t, 3, agg.Resolved)
	assert.Equal(t, 2, agg.Unresolved)
	assert.Equal(t, 2, report.NSelected)
	assert.Equal(t, 2, report.NProcessed)
}

func TestComputeCorpusReportExact_StampsExactMode(t *testing.T) {
	records := []export.GSMCleanedRecord{
		{Entities: map[string][]*contracts.LinkedEntity{
			"disease": {entity("disease", "title", "a", 0, 1, contracts.StatusResolved, strPtr("T1"))},
		}},
	}
	report := export.ComputeCorpusReportExact("run-1", nil, nil, "manifest.json", "corpus.json",
		[]string{"GSE1"}, []string{"GSE1"}, records, export.Resources{}, 10)
	assert.Equal(t, "exact", report.AggregationMode)
	assert.Equal(t, 1, report.AggregateYields["disease"].Total)
}

func TestBuildRecord_PopulatesSchemaAndFields(t *testing.T) {
	tv := textview.TextView{Hash: "deadbeef", FieldsSelected: []textview.SelectedField{{FieldKey: "title", Text: "t"}}}
	grouped := map[string][]*contracts.LinkedEntity{
		"disease": {entity("disease", "title", "t", 0, 1, contracts.StatusResolved, strPtr("T1"))},
	}
	rec := export.BuildRecord("GSE1", "GSM1", tv, grouped)
	assert.Equal(t, "GSE1", rec.StudyID)
	assert.Equal(t, "GSM1", rec.SampleID)
	assert.Equal(t, "deadbeef", rec.TextViewHash)
	assert.Equal(t, grouped, rec.Entities)
}

func TestAppendJSONL_WritesCompactLineWithNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	rec := export.BuildRecord("GSE1", "GSM1", textview.TextView{Hash: "h"}, nil)
	require.NoError(t, export.AppendJSONL(f, rec))
	require.NoError(t, export.AppendJSONL(f, rec))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := splitLines(string(data))
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"study_id":"GSE1"`)
}

func TestWriteJSON_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "out.json")
	require.NoError(t, export.WriteJSON(path, map[string]string{"a": "b"}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"b"}`, string(data))
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			if i > start {
				lines = append(lines, s[start:i])
			}
			start = i + 1
		}
	}
	return lines
}
