// Package download fetches GEO series MINiML archives over FTP/HTTPS,
// ported from original_source/src/geo_cleaner/manager/downloader.py:
// same URL scheme (stub directory derived from the accession), same
// skip-if-exists/temp-file-then-rename discipline, generalized to Go's
// net/http and a plain *log.Logger instead of rich/tqdm console output.
package download

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// BaseURL is the GEO series FTP mirror root.
const BaseURL = "https://ftp.ncbi.nlm.nih.gov/geo/series"

// Downloader fetches *_family.xml.tgz MINiML archives for a set of GSE ids
// into OutDir, skipping files that already exist unless Force is set.
type Downloader struct {
	OutDir  string
	Force   bool
	Logger  *log.Logger
	BaseURL string

	httpClient *http.Client
}

// New builds a Downloader rooted at outDir, creating it if necessary.
func New(outDir string, force bool, logger *log.Logger) (*Downloader, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("download: create out dir %s: %w", outDir, err)
	}
	return &Downloader{
		OutDir:     outDir,
		Force:      force,
		Logger:     logger,
		BaseURL:    BaseURL,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

// constructFTPURL derives the MINiML archive URL for a GSE accession, per
// downloader.py's _construct_ftp_url: the stub directory replaces the last
// three digits of the accession with "nnn".
func constructFTPURL(baseURL, gseID string) string {
	clean := strings.ToUpper(strings.TrimSpace(gseID))
	stub := "GSEnnn"
	if len(clean) >= 6 {
		stub = clean[:len(clean)-3] + "nnn"
	}
	filename := fmt.Sprintf("%s_family.xml.tgz", clean)
	return fmt.Sprintf("%s/%s/%s/miniml/%s", baseURL, stub, clean, filename)
}

// Result records the outcome of downloading one GSE id.
type Result struct {
	GSEID string
	Path  string
	Err   error
}

// Download fetches every gseID in gseIDs, skipping already-present files
// unless Force is set, writing each to a temp sibling and renaming it into
// place only on full success (so a failed download never leaves a
// corrupt/partial archive at the final path).
func (d *Downloader) Download(gseIDs []string) []Result {
	results := make([]Result, 0, len(gseIDs))
	for _, gse := range gseIDs {
		results = append(results, d.downloadOne(gse))
	}
	return results
}

func (d *Downloader) downloadOne(gse string) Result {
	base := d.BaseURL
	if base == "" {
		base = BaseURL
	}
	url := constructFTPURL(base, gse)
	finalPath := filepath.Join(d.OutDir, fmt.Sprintf("%s_family.xml.tgz", gse))
	tempPath := finalPath + ".tmp"

	if !d.Force {
		if _, err := os.Stat(finalPath); err == nil {
			d.Logger.Printf("download: %s exists, skipping", gse)
			return Result{GSEID: gse, Path: finalPath}
		}
	}

	resp, err := d.httpClient.Get(url)
	if err != nil {
		return Result{GSEID: gse, Err: fmt.Errorf("download: fetch %s: %w", gse, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Result{GSEID: gse, Err: fmt.Errorf("download: %s not found (404)", gse)}
	}
	if resp.StatusCode >= 300 {
		return Result{GSEID: gse, Err: fmt.Errorf("download: %s failed: status=%d", gse, resp.StatusCode)}
	}

	f, err := os.Create(tempPath)
	if err != nil {
		return Result{GSEID: gse, Err: fmt.Errorf("download: create temp file for %s: %w", gse, err)}
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tempPath)
		return Result{GSEID: gse, Err: fmt.Errorf("download: write %s: %w", gse, err)}
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return Result{GSEID: gse, Err: fmt.Errorf("download: close %s: %w", gse, err)}
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return Result{GSEID: gse, Err: fmt.Errorf("download: rename %s: %w", gse, err)}
	}

	d.Logger.Printf("download: %s downloaded successfully", gse)
	return Result{GSEID: gse, Path: finalPath}
}
