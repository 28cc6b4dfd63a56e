// Package config loads and hashes the run configuration file, grounded on
// rishianshu-Nucleus's brain-core insight-skill loader (read file, decode
// via gopkg.in/yaml.v3 into a raw struct, derive a typed settings struct
// with defaults for unset fields) and spec.md §6's enumerated
// configuration keys.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nucleus/geo-linker/internal/stablejson"
	"crypto/sha256"
	"encoding/hex"
)

// LinkerMode selects which retrieval/rerank stages are active, per
// spec.md §6's linker.mode key.
type LinkerMode string

const (
	ModeLexicalOnly            LinkerMode = "lexical_only"
	ModeLexicalPlusBi          LinkerMode = "lexical_plus_bi"
	ModeLexicalPlusBiPlusCross LinkerMode = "lexical_plus_bi_plus_cross"
)

// RunConfig carries run.out_dir.
type RunConfig struct {
	OutDir string `yaml:"out_dir" json:"out_dir"`
}

// TextViewConfig carries textview.field_priority / textview.max_field_chars.
type TextViewConfig struct {
	FieldPriority []string `yaml:"field_priority" json:"field_priority"`
	MaxFieldChars int      `yaml:"max_field_chars" json:"max_field_chars"`
}

// LinkerConfig carries linker.* keys.
type LinkerConfig struct {
	Mode               LinkerMode `yaml:"mode" json:"mode"`
	TopKRetrieve       int        `yaml:"top_k_retrieve" json:"top_k_retrieve"`
	TopKRerank         int        `yaml:"top_k_rerank" json:"top_k_rerank"`
	ContextWindowChars int        `yaml:"context_window_chars" json:"context_window_chars"`
	IncludeNegation    bool       `yaml:"include_negation" json:"include_negation"`
}

// PolicyConfig carries policy.tau/delta/top_n.
type PolicyConfig struct {
	Tau   float64 `yaml:"tau" json:"tau"`
	Delta float64 `yaml:"delta" json:"delta"`
	TopN  int     `yaml:"top_n" json:"top_n"`
}

// OntologyConfig carries ontology.use_synonyms/use_definitions.
type OntologyConfig struct {
	UseSynonyms   bool `yaml:"use_synonyms" json:"use_synonyms"`
	UseDefinitions bool `yaml:"use_definitions" json:"use_definitions"`
}

// ExtractConfig carries extract.labels.
type ExtractConfig struct {
	Labels []string `yaml:"labels" json:"labels"`
}

// ModelsConfig carries models.embedder/models.reranker — opaque ids
// recorded verbatim in the manifest.
type ModelsConfig struct {
	Embedder string `yaml:"embedder" json:"embedder"`
	Reranker string `yaml:"reranker" json:"reranker"`
}

// QueryFilters carries query.terms/organism/date_start/date_end/max_gse.
type QueryFilters struct {
	Terms     []string `yaml:"terms" json:"terms"`
	Organism  string   `yaml:"organism" json:"organism"`
	DateStart string   `yaml:"date_start" json:"date_start"`
	DateEnd   string   `yaml:"date_end" json:"date_end"`
	MaxGSE    int      `yaml:"max_gse" json:"max_gse"`
}

// Config is the full run configuration, enumerating every key spec.md §6
// recognizes.
type Config struct {
	Run      RunConfig      `yaml:"run" json:"run"`
	TextView TextViewConfig `yaml:"textview" json:"textview"`
	Linker   LinkerConfig   `yaml:"linker" json:"linker"`
	Policy   PolicyConfig   `yaml:"policy" json:"policy"`
	Ontology OntologyConfig `yaml:"ontology" json:"ontology"`
	Extract  ExtractConfig  `yaml:"extract" json:"extract"`
	Models   ModelsConfig   `yaml:"models" json:"models"`
	Query    QueryFilters   `yaml:"query" json:"query"`
}

// Default returns a Config with spec.md §6's documented defaults.
func Default() Config {
	return Config{
		Run: RunConfig{OutDir: "runs"},
		TextView: TextViewConfig{
			FieldPriority: []string{"title", "summary", "characteristics", "source_name"},
			MaxFieldChars: 2000,
		},
		Linker: LinkerConfig{
			Mode:               ModeLexicalPlusBiPlusCross,
			TopKRetrieve:       20,
			TopKRerank:         5,
			ContextWindowChars: 200,
			IncludeNegation:    true,
		},
		Policy: PolicyConfig{Tau: 0.70, Delta: 0.10, TopN: 5},
		Ontology: OntologyConfig{
			UseSynonyms:    true,
			UseDefinitions: true,
		},
		Extract: ExtractConfig{
			Labels: []string{"disease", "tissue", "organism", "cell_type", "cell_line", "drug", "assay", "platform"},
		},
	}
}

// Load reads and decodes a YAML (or JSON, which is a YAML subset) config
// file, leaving any key the file omits at its Default() value.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return cfg, nil
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultOntologyMapping is spec.md §4.10's default label -> ontology
// dispatch table.
func DefaultOntologyMapping() map[string]string {
	return map[string]string{
		"disease":   "doid",
		"tissue":    "uberon",
		"organism":  "ncbitaxon",
		"cell_type": "cl",
		"cell_line": "cellosaurus",
		"drug":      "chebi",
		"assay":     "efo",
		"platform":  "efo",
	}
}

// Hash computes spec.md §6's config_hash: SHA-256 of the config's
// canonical JSON (sorted keys, compact separators, ASCII ensure).
func Hash(cfg Config) (string, error) {
	canonical, err := stablejson.Marshal(cfg)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
