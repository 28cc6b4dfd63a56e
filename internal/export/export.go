// Package export builds and serializes the per-sample, per-study, and
// per-corpus output artifacts described in spec.md §3/§4.9: GSMCleanedRecord,
// GSESummary, CorpusReport. Grounded on original_source/src/geo_cleaner's
// exporter module for field semantics, serialized with internal/stablejson
// for the bitwise-stability property spec.md §8 requires.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/nucleus/geo-linker/internal/contracts"
	"github.com/nucleus/geo-linker/internal/stablejson"
	"github.com/nucleus/geo-linker/internal/textview"
)

const schemaVersion = "1.0"

// GSMCleanedRecord is one sample's fully-linked output record.
type GSMCleanedRecord struct {
	SchemaVersion  string                             `json:"schema_version"`
	StudyID        string                              `json:"study_id"`
	SampleID       string                              `json:"sample_id"`
	TextViewHash   string                              `json:"textview_hash"`
	TextViewFields []textview.SelectedField            `json:"textview_fields,omitempty"`
	Entities       map[string][]*contracts.LinkedEntity `json:"entities"`
}

// LabelYield is one label's status counts within a study or the corpus.
type LabelYield struct {
	Total      int `json:"total"`
	Resolved   int `json:"resolved"`
	Ambiguous  int `json:"ambiguous"`
	Unresolved int `json:"unresolved"`
	Rejected   int `json:"rejected"`
}

// TopEntry is one (label, source_field, surface_form) bucket's occurrence
// count, used for top_ambiguous/top_unresolved lists.
type TopEntry struct {
	Label       string `json:"label"`
	SourceField string `json:"source_field"`
	SurfaceForm string `json:"surface_form"`
	Count       int    `json:"count"`
}

// GSESummary is one study's aggregate report.
type GSESummary struct {
	StudyID        string                `json:"study_id"`
	NSamples       int                   `json:"n_samples"`
	YieldsByLabel  map[string]LabelYield `json:"yields_by_label"`
	TopAmbiguous   []TopEntry            `json:"top_ambiguous"`
	TopUnresolved  []TopEntry            `json:"top_unresolved"`
}

// Resources records the model/ontology versions a corpus report was
// produced under.
type Resources struct {
	ModelIDs         map[string]string `json:"model_ids"`
	OntologyVersions map[string]string `json:"ontology_versions"`
}

// CorpusReport is the end-of-run, whole-corpus aggregate report.
type CorpusReport struct {
	RunID             string                `json:"run_id"`
	QueryTerms        []string              `json:"query_terms"`
	QueryFilters      map[string]string     `json:"query_filters"`
	ManifestPath      string                `json:"manifest_path"`
	CorpusGSEIDsPath  string                `json:"corpus_gse_ids_path"`
	NSelected         int                   `json:"n_selected"`
	NProcessed        int                   `json:"n_processed"`
	SelectedStudyIDs  []string              `json:"selected_study_ids"`
	ProcessedStudyIDs []string              `json:"processed_study_ids"`
	AggregateYields   map[string]LabelYield `json:"aggregate_yields_by_label"`
	GlobalTopAmbiguous  []TopEntry          `json:"global_top_ambiguous"`
	GlobalTopUnresolved []TopEntry          `json:"global_top_unresolved"`
	Resources         Resources             `json:"resources"`
	AggregationMode   string                `json:"aggregation_mode"`
}

// GroupEntitiesByLabel implements spec.md §4.9's grouping and sort rule:
// stable label order (sorted); within a label, entities sorted by
// (-status_rank, linked_id or "", source_field, offsets.start, offsets.end,
// surface_form); each entity's top_candidates re-sorted by
// (-score, candidate_id).
func GroupEntitiesByLabel(entities []*contracts.LinkedEntity) map[string][]*contracts.LinkedEntity {
	grouped := make(map[string][]*contracts.LinkedEntity)
	for _, e := range entities {
		sortCandidates(e.TopCandidates)
		grouped[e.Label] = append(grouped[e.Label], e)
	}
	for label := range grouped {
		list := grouped[label]
		sort.SliceStable(list, func(i, j int) bool {
			a, b := list[i], list[j]
			if a.Status.Rank() != b.Status.Rank() {
				return a.Status.Rank() > b.Status.Rank()
			}
			aID, bID := linkedIDOrEmpty(a), linkedIDOrEmpty(b)
			if aID != bID {
				return aID < bID
			}
			if a.SourceField != b.SourceField {
				return a.SourceField < b.SourceField
			}
			if a.Offsets.Start != b.Offsets.Start {
				return a.Offsets.Start < b.Offsets.Start
			}
			if a.Offsets.End != b.Offsets.End {
				return a.Offsets.End < b.Offsets.End
			}
			return a.SurfaceForm < b.SurfaceForm
		})
		grouped[label] = list
	}
	return grouped
}

func linkedIDOrEmpty(e *contracts.LinkedEntity) string {
	if e.LinkedID == nil {
		return ""
	}
	return *e.LinkedID
}

func sortCandidates(candidates []contracts.Candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].CandidateID < candidates[j].CandidateID
	})
}

// BuildRecord assembles a GSMCleanedRecord from a sample's grouped entities
// and its TextView.
func BuildRecord(studyID, sampleID string, tv textview.TextView, grouped map[string][]*contracts.LinkedEntity) GSMCleanedRecord {
	return GSMCleanedRecord{
		SchemaVersion:  schemaVersion,
		StudyID:        studyID,
		SampleID:       sampleID,
		TextViewHash:   tv.Hash,
		TextViewFields: tv.FieldsSelected,
		Entities:       grouped,
	}
}

// AppendJSONL serializes record as canonical compact JSON and appends it
// (plus a trailing newline) to the open file f, per spec.md §4.9/§6.
func AppendJSONL(f *os.File, record GSMCleanedRecord) error {
	data, err := stablejson.Marshal(record)
	if err != nil {
		return fmt.Errorf("export: marshal record: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("export: write record: %w", err)
	}
	if _, err := f.Write([]byte("\n")); err != nil {
		return fmt.Errorf("export: write newline: %w", err)
	}
	return nil
}

// WriteJSON creates path's parent directory and writes v as canonical
// compact JSON, per spec.md §4.9's "create parent directory, serialize
// with canonical options" rule.
func WriteJSON(path string, v any) error {
	data, err := stablejson.Marshal(v)
	if err != nil {
		return fmt.Errorf("export: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("export: mkdir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("export: write %s: %w", path, err)
	}
	return nil
}

// bucketKey groups a top-list candidate by (label, source_field, surface_form).
type bucketKey struct {
	Label       string
	SourceField string
	SurfaceForm string
}

// ComputeGSESummary builds one study's GSESummary from every sample record
// produced for it.
func ComputeGSESummary(studyID string, records []GSMCleanedRecord, topN int) GSESummary {
	yields := make(map[string]LabelYield)
	ambiguousCounts := make(map[bucketKey]int)
	unresolvedCounts := make(map[bucketKey]int)

	for _, rec := range records {
		for label, entities := range rec.Entities {
			y := yields[label]
			for _, e := range entities {
				y.Total++
				switch e.Status {
				case contracts.StatusResolved:
					y.Resolved++
				case contracts.StatusAmbiguous:
					y.Ambiguous++
					ambiguousCounts[bucketKey{label, e.SourceField, e.SurfaceForm}]++
				case contracts.StatusUnresolved:
					y.Unresolved++
					unresolvedCounts[bucketKey{label, e.SourceField, e.SurfaceForm}]++
				case contracts.StatusRejected:
					y.Rejected++
				}
			}
			yields[label] = y
		}
	}

	return GSESummary{
		StudyID:       studyID,
		NSamples:      len(records),
		YieldsByLabel: yields,
		TopAmbiguous:  topEntries(ambiguousCounts, topN),
		TopUnresolved: topEntries(unresolvedCounts, topN),
	}
}

// topEntries ranks buckets by count descending, ties broken by
// (label, source_field, surface_form) ascending, per spec.md §4.9.
func topEntries(counts map[bucketKey]int, topN int) []TopEntry {
	entries := make([]TopEntry, 0, len(counts))
	for k, c := range counts {
		entries = append(entries, TopEntry{Label: k.Label, SourceField: k.SourceField, SurfaceForm: k.SurfaceForm, Count: c})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		if a.SourceField != b.SourceField {
			return a.SourceField < b.SourceField
		}
		return a.SurfaceForm < b.SurfaceForm
	})
	if topN > 0 && len(entries) > topN {
		entries = entries[:topN]
	}
	if entries == nil {
		entries = []TopEntry{}
	}
	return entries
}

// ComputeCorpusReportApproximate aggregates per-label yields by summing
// over study summaries, and derives global top lists by summing counts
// across per-study top lists — the documented approximation from spec.md
// §4.9/§9 (a study's buckets outside its own top-N never contribute).
func ComputeCorpusReportApproximate(runID string, queryTerms []string, queryFilters map[string]string, manifestPath, corpusGSEIDsPath string, selected, processed []string, summaries []GSESummary, resources Resources, topN int) CorpusReport {
	aggregate := make(map[string]LabelYield)
	globalAmbiguous := make(map[bucketKey]int)
	globalUnresolved := make(map[bucketKey]int)

	for _, s := range summaries {
		for label, y := range s.YieldsByLabel {
			agg := aggregate[label]
			agg.Total += y.Total
			agg.Resolved += y.Resolved
			agg.Ambiguous += y.Ambiguous
			agg.Unresolved += y.Unresolved
			agg.Rejected += y.Rejected
			aggregate[label] = agg
		}
		for _, t := range s.TopAmbiguous {
			globalAmbiguous[bucketKey{t.Label, t.SourceField, t.SurfaceForm}] += t.Count
		}
		for _, t := range s.TopUnresolved {
			globalUnresolved[bucketKey{t.Label, t.SourceField, t.SurfaceForm}] += t.Count
		}
	}

	return CorpusReport{
		RunID:               runID,
		QueryTerms:          queryTerms,
		QueryFilters:        queryFilters,
		ManifestPath:        manifestPath,
		CorpusGSEIDsPath:    corpusGSEIDsPath,
		NSelected:           len(selected),
		NProcessed:          len(processed),
		SelectedStudyIDs:    selected,
		ProcessedStudyIDs:   processed,
		AggregateYields:     aggregate,
		GlobalTopAmbiguous:  topEntries(globalAmbiguous, topN),
		GlobalTopUnresolved: topEntries(globalUnresolved, topN),
		Resources:           resources,
		AggregationMode:     "approximate",
	}
}

// ComputeCorpusReportExact recomputes aggregate yields and global top lists
// directly from the full per-sample entity stream, per spec.md §9's Open
// Question — the precise alternative to the approximate, per-study-top-N
// summation above. allRecords must cover every processed study's samples.
func ComputeCorpusReportExact(runID string, queryTerms []string, queryFilters map[string]string, manifestPath, corpusGSEIDsPath string, selected, processed []string, allRecords []GSMCleanedRecord, resources Resources, topN int) CorpusReport {
	aggregate := make(map[string]LabelYield)
	globalAmbiguous := make(map[bucketKey]int)
	globalUnresolved := make(map[bucketKey]int)

	for _, rec := range allRecords {
		for label, entities := range rec.Entities {
			y := aggregate[label]
			for _, e := range entities {
				y.Total++
				switch e.Status {
				case contracts.StatusResolved:
					y.Resolved++
				case contracts.StatusAmbiguous:
					y.Ambiguous++
					globalAmbiguous[bucketKey{label, e.SourceField, e.SurfaceForm}]++
				case contracts.StatusUnresolved:
					y.Unresolved++
					globalUnresolved[bucketKey{label, e.SourceField, e.SurfaceForm}]++
				case contracts.StatusRejected:
					y.Rejected++
				}
			}
			aggregate[label] = y
		}
	}

	return CorpusReport{
		RunID:               runID,
		QueryTerms:          queryTerms,
		QueryFilters:        queryFilters,
		ManifestPath:        manifestPath,
		CorpusGSEIDsPath:    corpusGSEIDsPath,
		NSelected:           len(selected),
		NProcessed:          len(processed),
		SelectedStudyIDs:    selected,
		ProcessedStudyIDs:   processed,
		AggregateYields:     aggregate,
		GlobalTopAmbiguous:  topEntries(globalAmbiguous, topN),
		GlobalTopUnresolved: topEntries(globalUnresolved, topN),
		Resources:           resources,
		AggregationMode:     "exact",
	}
}
