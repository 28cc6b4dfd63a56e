// Package pipeline drives one end-to-end run: per spec.md §4.10, it loads
// raw per-study sample caches in (study_id, sample_id) ascending order,
// extracts mentions per sample, dispatches each label to its configured
// ontology, links and dedups, builds each sample's TextView-backed record,
// appends it to the per-sample JSONL, and computes per-study summaries
// (the per-study and per-corpus report files are written by the caller).
// Grounded on original_source/src/geo_cleaner/ingest.py's
// raw-cache loading contract (fail fast, never silently yield zero
// samples) and pipeline.py's driver loop, in the idiom of
// rishianshu-Nucleus's activities packages (plain structs + explicit
// *log.Logger, no framework).
package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/nucleus/geo-linker/internal/config"
	"github.com/nucleus/geo-linker/internal/contracts"
	"github.com/nucleus/geo-linker/internal/embed"
	"github.com/nucleus/geo-linker/internal/export"
	"github.com/nucleus/geo-linker/internal/extract"
	"github.com/nucleus/geo-linker/internal/link"
	"github.com/nucleus/geo-linker/internal/manifest"
	"github.com/nucleus/geo-linker/internal/ontology"
	"github.com/nucleus/geo-linker/internal/policy"
	"github.com/nucleus/geo-linker/internal/rerank"
	"github.com/nucleus/geo-linker/internal/retrieve"
	"github.com/nucleus/geo-linker/internal/runlayout"
	"github.com/nucleus/geo-linker/internal/stablejson"
	"github.com/nucleus/geo-linker/internal/textview"
)

// ErrRawCacheMissing is spec.md §4.11/§7's RawCacheMissing: a study's raw
// cache directory (or its gsm subdirectory) is absent. This is fatal —
// ingest.py's load_gse_gsms_raw fails fast rather than silently yielding
// zero samples.
var ErrRawCacheMissing = errors.New("pipeline: raw cache missing")

// ErrOutputMissing is spec.md §7's OutputMissing: an expected output file
// was not produced by end-of-run.
var ErrOutputMissing = errors.New("pipeline: expected output missing")

// rawSample is one sample's raw_fields, as read from raw/<study>/gsm/<id>.json.
type rawSample struct {
	SampleID  string            `json:"sample_id"`
	RawFields map[string]string `json:"raw_fields"`
}

// loadStudyRawSamples loads every sample for one study, sorted by sample id
// ascending, per spec.md §4.10's sample loop order.
func loadStudyRawSamples(layout runlayout.Layout, studyID string) ([]rawSample, error) {
	gsmDir := layout.RawStudyDir(studyID)
	entries, err := os.ReadDir(gsmDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrRawCacheMissing, studyID, gsmDir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	samples := make([]rawSample, 0, len(names))
	for _, name := range names {
		path := filepath.Join(gsmDir, name)
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("pipeline: read raw sample %s: %w", path, err)
		}
		var s rawSample
		if err := json.Unmarshal(b, &s); err != nil {
			return nil, fmt.Errorf("pipeline: parse raw sample %s: %w", path, err)
		}
		samples = append(samples, s)
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].SampleID < samples[j].SampleID })
	return samples, nil
}

// Driver wires every pipeline stage for one run.
type Driver struct {
	Layout          runlayout.Layout
	Config          config.Config
	Bundle          *ontology.Bundle
	Embedder        embed.Provider
	Reranker        rerank.Reranker
	Extractor       extract.Extractor
	OntologyMapping map[string]string
	Logger          *log.Logger
}

// New builds a Driver, defaulting OntologyMapping to spec.md §4.10's
// documented disease/tissue/organism/... dispatch table when unset.
func New(layout runlayout.Layout, cfg config.Config, bundle *ontology.Bundle, embedder embed.Provider, reranker rerank.Reranker, extractor extract.Extractor, ontologyMapping map[string]string, logger *log.Logger) *Driver {
	if ontologyMapping == nil {
		ontologyMapping = config.DefaultOntologyMapping()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Driver{
		Layout:          layout,
		Config:          cfg,
		Bundle:          bundle,
		Embedder:        embedder,
		Reranker:        reranker,
		Extractor:       extractor,
		OntologyMapping: ontologyMapping,
		Logger:          logger,
	}
}

// Run processes every study in studyIDs (sorted ascending, per spec.md
// §4.10), writes the per-sample JSONL, computes per-study summaries, and
// returns the records and summaries for report writing by the caller (which also knows
// query/manifest context the driver doesn't own).
func (d *Driver) Run(studyIDs []string) ([]export.GSMCleanedRecord, []export.GSESummary, error) {
	sorted := append([]string{}, studyIDs...)
	sort.Strings(sorted)

	jsonlFile, err := os.Create(d.Layout.GSMJSONL)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: create %s: %w", d.Layout.GSMJSONL, err)
	}
	defer jsonlFile.Close()

	var allRecords []export.GSMCleanedRecord
	var summaries []export.GSESummary

	for _, studyID := range sorted {
		samples, err := loadStudyRawSamples(d.Layout, studyID)
		if err != nil {
			return nil, nil, err
		}

		linker := link.New(d.Bundle, d.Embedder, d.Reranker, link.Config{
			NegationEnabled:    d.Config.Linker.IncludeNegation,
			NegationWindow:     60,
			ContextWindowChars: d.Config.Linker.ContextWindowChars,
			Retrieve:           retrieveConfig(d.Config),
			Policy:             policyConfig(d.Config),
		})

		var studyRecords []export.GSMCleanedRecord
		for _, sample := range samples {
			record, err := d.processSample(linker, studyID, sample)
			if err != nil {
				return nil, nil, err
			}
			if err := export.AppendJSONL(jsonlFile, record); err != nil {
				return nil, nil, err
			}
			studyRecords = append(studyRecords, record)
			allRecords = append(allRecords, record)
		}

		summary := export.ComputeGSESummary(studyID, studyRecords, d.Config.Policy.TopN)
		summaries = append(summaries, summary)
		d.Logger.Printf("pipeline: study %s: %d samples processed", studyID, len(studyRecords))
	}

	return allRecords, summaries, nil
}

func retrieveConfig(cfg config.Config) retrieve.Config {
	topK := cfg.Linker.TopKRetrieve
	if topK <= 0 {
		topK = retrieve.DefaultConfig().TopK
	}
	return retrieve.Config{TopK: topK, VectorMinScore: retrieve.DefaultConfig().VectorMinScore}
}

func policyConfig(cfg config.Config) policy.Config {
	return policy.Config{Tau: cfg.Policy.Tau, Delta: cfg.Policy.Delta, TopN: cfg.Policy.TopN}
}

func (d *Driver) processSample(linker *link.Linker, studyID string, sample rawSample) (export.GSMCleanedRecord, error) {
	mentions, err := d.Extractor.Extract(sample.RawFields)
	if err != nil {
		return export.GSMCleanedRecord{}, fmt.Errorf("pipeline: extract %s/%s: %w", studyID, sample.SampleID, err)
	}

	byLabel := make(map[string][]contracts.Mention)
	var labelOrder []string
	for _, m := range mentions {
		if _, ok := byLabel[m.Label]; !ok {
			labelOrder = append(labelOrder, m.Label)
		}
		byLabel[m.Label] = append(byLabel[m.Label], m)
	}
	sort.Strings(labelOrder)

	var allEntities []*contracts.LinkedEntity
	for _, label := range labelOrder {
		ontologyName, ok := d.OntologyMapping[label]
		if !ok {
			continue
		}
		entities, err := linker.LinkMentions(sample.RawFields, ontologyName, byLabel[label])
		if err != nil {
			return export.GSMCleanedRecord{}, fmt.Errorf("pipeline: link %s/%s label=%s: %w", studyID, sample.SampleID, label, err)
		}
		allEntities = append(allEntities, entities...)
	}

	grouped := export.GroupEntitiesByLabel(allEntities)

	tv, err := textview.Build(sample.RawFields, d.Config.TextView.FieldPriority, d.Config.TextView.MaxFieldChars)
	if err != nil {
		return export.GSMCleanedRecord{}, fmt.Errorf("pipeline: textview %s/%s: %w", studyID, sample.SampleID, err)
	}

	return export.BuildRecord(studyID, sample.SampleID, tv, grouped), nil
}

// WriteConfigEffective writes the effective configuration to path in
// canonical compact JSON (config_effective.json, per spec.md §6).
func WriteConfigEffective(path string, cfg config.Config) error {
	data, err := stablejson.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// WriteManifest is a thin pass-through retained for callers that only have
// a manifest.Manifest value in hand (the CLI builds one directly).
func WriteManifest(path string, m manifest.Manifest) error {
	return manifest.Write(path, m)
}
