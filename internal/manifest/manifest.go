// Package manifest builds and writes a run's manifest.json, per spec.md
// §6: run_id, created_at_utc, query_terms, query_filters,
// retrieval_timestamp_utc, code_version, model_ids, ontology_versions,
// device info, config_hash, config_path, corpus_gse_ids_path,
// corpus_gse_count. Unlike gsm.jsonl/gse_summary.json/corpus_report.json
// (compact canonical JSON, tested for bitwise stability), the manifest is
// pretty-printed.
package manifest

import (
	"fmt"
	"os"

	"github.com/nucleus/geo-linker/internal/deviceinfo"
	"github.com/nucleus/geo-linker/internal/stablejson"
)

// ModelIDs records the opaque embedder/reranker identifiers verbatim, per
// spec.md §6's models.embedder/models.reranker.
type ModelIDs struct {
	Embedder string `json:"embedder"`
	Reranker string `json:"reranker"`
}

// Manifest is the run's full provenance record.
type Manifest struct {
	RunID                string            `json:"run_id"`
	CreatedAtUTC         string            `json:"created_at_utc"`
	QueryTerms           []string          `json:"query_terms"`
	QueryFilters         map[string]string `json:"query_filters"`
	RetrievalTimestampUTC string           `json:"retrieval_timestamp_utc"`
	CodeVersion          string            `json:"code_version"`
	ModelIDs             ModelIDs          `json:"model_ids"`
	OntologyVersions     map[string]string `json:"ontology_versions"`
	Device               deviceinfo.Info   `json:"device"`
	ConfigHash           string            `json:"config_hash"`
	ConfigPath           string            `json:"config_path"`
	CorpusGSEIDsPath     string            `json:"corpus_gse_ids_path,omitempty"`
	CorpusGSECount       *int              `json:"corpus_gse_count,omitempty"`
}

// Write serializes a Manifest as pretty-printed, sorted-key, ASCII-escaped
// JSON at path (spec.md §6).
func Write(path string, m Manifest) error {
	data, err := stablejson.MarshalIndent(m)
	if err != nil {
		return fmt.Errorf("manifest: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("manifest: write %s: %w", path, err)
	}
	return nil
}
