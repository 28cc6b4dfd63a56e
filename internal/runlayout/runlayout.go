// Package runlayout builds and creates the on-disk directory structure for
// one pipeline run, per spec.md §6's literal run-root layout.
package runlayout

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout is every path under one run root spec.md §6 names.
type Layout struct {
	Root             string
	ManifestPath     string
	ConfigEffective  string
	CorpusDir        string
	CorpusGSEIDs     string
	RawDir           string
	CacheDir         string
	LogsDir          string
	OutputsDir       string
	GSMJSONL         string
	ReportsDir       string
	GSESummary       string
	CorpusReport     string
}

// New builds a Layout rooted at filepath.Join(outDir, runID). It does not
// touch the filesystem; call Create to materialize the directories.
func New(outDir, runID string) Layout {
	root := filepath.Join(outDir, runID)
	return Layout{
		Root:            root,
		ManifestPath:    filepath.Join(root, "manifest.json"),
		ConfigEffective: filepath.Join(root, "config_effective.json"),
		CorpusDir:       filepath.Join(root, "corpus"),
		CorpusGSEIDs:    filepath.Join(root, "corpus", "corpus_gse_ids.json"),
		RawDir:          filepath.Join(root, "raw"),
		CacheDir:        filepath.Join(root, "cache"),
		LogsDir:         filepath.Join(root, "logs"),
		OutputsDir:      filepath.Join(root, "outputs"),
		GSMJSONL:        filepath.Join(root, "outputs", "gsm.jsonl"),
		ReportsDir:      filepath.Join(root, "reports"),
		GSESummary:      filepath.Join(root, "reports", "gse_summary.json"),
		CorpusReport:    filepath.Join(root, "reports", "corpus_report.json"),
	}
}

// RawSamplePath is raw/<study_id>/gsm/<sample_id>.json.
func (l Layout) RawSamplePath(studyID, sampleID string) string {
	return filepath.Join(l.RawDir, studyID, "gsm", sampleID+".json")
}

// RawStudyDir is raw/<study_id>/gsm.
func (l Layout) RawStudyDir(studyID string) string {
	return filepath.Join(l.RawDir, studyID, "gsm")
}

// Create materializes every directory in the layout. It fails if the run
// root already exists — spec.md §5 forbids silently overwriting a prior
// run's partial outputs.
func Create(l Layout) error {
	if _, err := os.Stat(l.Root); err == nil {
		return fmt.Errorf("runlayout: run root already exists: %s", l.Root)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("runlayout: stat run root: %w", err)
	}

	dirs := []string{l.Root, l.CorpusDir, l.RawDir, l.CacheDir, l.LogsDir, l.OutputsDir, l.ReportsDir}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("runlayout: create %s: %w", d, err)
		}
	}
	return nil
}
