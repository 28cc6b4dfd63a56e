// Command geo-linker runs the GEO sample-metadata entity-linking pipeline.
// Unlike the platform's gRPC services, this is a run-to-completion batch
// CLI (spec.md §5: "the driver is run-to-completion"), so it takes the
// flag-subcommand shape of ucl-core's ucl-gateway rather than a server
// main — run/query/download/reuse-check, each its own flag.FlagSet.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nucleus/geo-linker/internal/config"
	"github.com/nucleus/geo-linker/internal/deviceinfo"
	"github.com/nucleus/geo-linker/internal/download"
	"github.com/nucleus/geo-linker/internal/embed"
	"github.com/nucleus/geo-linker/internal/export"
	"github.com/nucleus/geo-linker/internal/extract"
	"github.com/nucleus/geo-linker/internal/manifest"
	"github.com/nucleus/geo-linker/internal/ncbi"
	"github.com/nucleus/geo-linker/internal/ontology"
	"github.com/nucleus/geo-linker/internal/pipeline"
	"github.com/nucleus/geo-linker/internal/rerank"
	"github.com/nucleus/geo-linker/internal/runlayout"
	"github.com/nucleus/geo-linker/internal/vectorindex"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCmd(os.Args[2:])
	case "query":
		err = queryCmd(os.Args[2:])
	case "download":
		err = downloadCmd(os.Args[2:])
	case "reuse-check":
		err = reuseCheckCmd(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("geo-linker: %v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: geo-linker <run|query|download|reuse-check> [flags]")
}

func runCmd(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to run configuration (YAML or JSON)")
	outDir := fs.String("out-dir", "", "override run.out_dir")
	oboDir := fs.String("obo-dir", "", "directory of <ontology>.obo files, named by ontology id")
	studyIDsFlag := fs.String("study-ids", "", "comma-separated study ids to process (reads corpus/corpus_gse_ids.json if unset)")
	embedderKind := fs.String("embedder", "local", "embedder provider: local|openai|zero")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" {
		return fmt.Errorf("run: -config is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *outDir != "" {
		cfg.Run.OutDir = *outDir
	}

	runID := fmt.Sprintf("run-%s", uuid.NewString())
	layout := runlayout.New(cfg.Run.OutDir, runID)
	if err := runlayout.Create(layout); err != nil {
		return err
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)

	bundle := ontology.NewBundle(layout.CacheDir)
	if *oboDir != "" {
		entries, err := os.ReadDir(*oboDir)
		if err != nil {
			return fmt.Errorf("run: read obo dir: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := trimOBOExt(e.Name())
			if name == "" {
				continue
			}
			if err := bundle.LoadOBOFile(name, layoutJoin(*oboDir, e.Name())); err != nil {
				return fmt.Errorf("run: load ontology %s: %w", name, err)
			}
		}
	}

	var embedder embed.Provider
	switch *embedderKind {
	case "local":
		embedder = embed.NewLocalProvider(384)
	case "openai", "zero":
		embedder = embed.NewFromEnv()
	default:
		return fmt.Errorf("run: unknown embedder %q", *embedderKind)
	}

	for _, name := range bundle.Names() {
		if err := bundle.GetOrBuildVectorIndex(name, embedder, false); err != nil {
			logger.Printf("run: vector index for %s unavailable: %v", name, err)
		}
	}

	patterns := make(map[string]string, len(cfg.Extract.Labels))
	for _, label := range cfg.Extract.Labels {
		patterns[label] = fmt.Sprintf(`\b%s\b`, label)
	}
	extractor, err := extract.NewPatternExtractor(patterns, 0.9)
	if err != nil {
		return fmt.Errorf("run: build extractor: %w", err)
	}

	reranker := rerank.Reranker(rerank.DummyReranker{})

	var studyIDs []string
	if *studyIDsFlag != "" {
		studyIDs = splitNonEmpty(*studyIDsFlag, ',')
	} else {
		studyIDs, err = readCorpusGSEIDs(layout.CorpusGSEIDs)
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}
	}

	driver := pipeline.New(layout, cfg, bundle, embedder, reranker, extractor, nil, logger)
	records, summaries, err := driver.Run(studyIDs)
	if err != nil {
		return err
	}

	if err := export.WriteJSON(layout.GSESummary, summaries); err != nil {
		return err
	}

	ontologyVersions := make(map[string]string)
	for _, name := range bundle.Names() {
		ontologyVersions[name] = bundle.Store(name).VersionHash
	}
	resources := export.Resources{
		ModelIDs:         map[string]string{"embedder": embedder.ModelID(), "reranker": "dummy"},
		OntologyVersions: ontologyVersions,
	}
	report := export.ComputeCorpusReportApproximate(runID, cfg.Query.Terms, queryFiltersMap(cfg), layout.ManifestPath, layout.CorpusGSEIDs, studyIDs, studyIDs, summaries, resources, cfg.Policy.TopN)
	if err := export.WriteJSON(layout.CorpusReport, report); err != nil {
		return err
	}
	_ = records

	if err := pipeline.WriteConfigEffective(layout.ConfigEffective, cfg); err != nil {
		return err
	}

	configHash, err := config.Hash(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	m := manifest.Manifest{
		RunID:                 runID,
		CreatedAtUTC:          now,
		QueryTerms:            cfg.Query.Terms,
		QueryFilters:          queryFiltersMap(cfg),
		RetrievalTimestampUTC: now,
		CodeVersion:           deviceinfo.GitCommitHash(),
		ModelIDs:              manifest.ModelIDs{Embedder: embedder.ModelID(), Reranker: "dummy"},
		OntologyVersions:      ontologyVersions,
		Device:                deviceinfo.Collect(),
		ConfigHash:            configHash,
		ConfigPath:            *configPath,
		CorpusGSEIDsPath:      layout.CorpusGSEIDs,
	}
	n := len(studyIDs)
	m.CorpusGSECount = &n
	if err := manifest.Write(layout.ManifestPath, m); err != nil {
		return err
	}

	logger.Printf("run: completed run_id=%s studies=%d samples=%d", runID, len(studyIDs), len(records))
	return nil
}

func queryCmd(args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	term := fs.String("term", "", "search term")
	organism := fs.String("organism", "", "organism filter")
	maxGSE := fs.Int("max-gse", 100, "maximum GSE ids to return")
	email := fs.String("email", "", "contact email for NCBI E-utilities")
	outPath := fs.String("out", "", "path to write the resulting corpus_gse_ids.json")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *term == "" || *email == "" {
		return fmt.Errorf("query: -term and -email are required")
	}

	client := ncbi.NewClient("https://eutils.ncbi.nlm.nih.gov/entrez/eutils", "geo-linker", *email, "", 30*time.Second, 3)
	ids, err := ncbi.QueryGSEIDs(client, ncbi.QueryInputs{Terms: []string{*term}, Organism: *organism, MaxGSE: *maxGSE})
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	if *outPath != "" {
		return export.WriteJSON(*outPath, ids)
	}
	return nil
}

func downloadCmd(args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	outDir := fs.String("out-dir", "geo-archives", "directory to download MINiML archives into")
	gseIDsFlag := fs.String("gse-ids", "", "comma-separated GSE ids")
	force := fs.Bool("force", false, "redownload even if the archive already exists")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *gseIDsFlag == "" {
		return fmt.Errorf("download: -gse-ids is required")
	}

	d, err := download.New(*outDir, *force, log.New(os.Stderr, "", log.LstdFlags))
	if err != nil {
		return err
	}
	results := d.Download(splitNonEmpty(*gseIDsFlag, ','))
	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", r.GSEID, r.Err)
			continue
		}
		fmt.Println(r.Path)
	}
	if failed > 0 {
		return fmt.Errorf("download: %d of %d failed", failed, len(results))
	}
	return nil
}

func reuseCheckCmd(args []string) error {
	fs := flag.NewFlagSet("reuse-check", flag.ExitOnError)
	cacheDir := fs.String("cache-dir", "", "vector index cache directory")
	ontologyName := fs.String("ontology", "", "ontology name")
	versionHash := fs.String("version-hash", "", "expected ontology version hash")
	modelID := fs.String("model-id", "", "expected embedding model id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *cacheDir == "" || *ontologyName == "" || *versionHash == "" || *modelID == "" {
		return fmt.Errorf("reuse-check: -cache-dir, -ontology, -version-hash, -model-id are all required")
	}

	normModelID := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(*modelID)), " ", "_")
	dir := vectorindex.Dir(*cacheDir, *ontologyName, *versionHash, normModelID)
	meta := vectorindex.Meta{OntologyName: *ontologyName, VersionHash: *versionHash, ModelID: *modelID}
	if vectorindex.CanReuse(dir, meta) {
		fmt.Println("reusable")
		return nil
	}
	fmt.Println("not reusable")
	return nil
}

func trimOBOExt(name string) string {
	const ext = ".obo"
	if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
		return name[:len(name)-len(ext)]
	}
	return ""
}

func layoutJoin(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + string(os.PathSeparator) + name
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func readCorpusGSEIDs(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus gse ids: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("parse corpus gse ids: %w", err)
	}
	return ids, nil
}

func queryFiltersMap(cfg config.Config) map[string]string {
	return map[string]string{
		"organism":   cfg.Query.Organism,
		"date_start": cfg.Query.DateStart,
		"date_end":   cfg.Query.DateEnd,
	}
}
