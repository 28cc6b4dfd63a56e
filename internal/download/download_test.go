package download

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructFTPURL_ReplacesLastThreeDigitsWithNnn(t *testing.T) {
	got := constructFTPURL("https://ftp.example.org/geo/series", "GSE12345")
	assert.Equal(t, "https://ftp.example.org/geo/series/GSE12nnn/GSE12345/miniml/GSE12345_family.xml.tgz", got)
}

func TestConstructFTPURL_UppercasesAndTrimsAccession(t *testing.T) {
	got := constructFTPURL("https://ftp.example.org/geo/series", "  gse999  ")
	assert.Contains(t, got, "GSE999_family.xml.tgz")
}

func TestDownload_SkipsExistingFileUnlessForced(t *testing.T) {
	var fetched bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetched = true
		w.Write([]byte("archive-bytes"))
	}))
	defer server.Close()

	outDir := t.TempDir()
	d, err := New(outDir, false, nil)
	require.NoError(t, err)
	d.BaseURL = server.URL

	existing := filepath.Join(outDir, "GSE1_family.xml.tgz")
	require.NoError(t, os.WriteFile(existing, []byte("already here"), 0o644))

	results := d.Download([]string{"GSE1"})
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.False(t, fetched, "an already-present archive must not be re-fetched without Force")

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "already here", string(data))
}

func TestDownload_WritesArchiveAndRenamesIntoPlace(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("archive-bytes"))
	}))
	defer server.Close()

	outDir := t.TempDir()
	d, err := New(outDir, false, nil)
	require.NoError(t, err)
	d.BaseURL = server.URL

	results := d.Download([]string{"GSE2"})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)

	finalPath := filepath.Join(outDir, "GSE2_family.xml.tgz")
	data, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	assert.Equal(t, "archive-bytes", string(data))

	_, err = os.Stat(finalPath + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not survive a successful download")
}

func TestDownload_NotFoundReportsErrorWithoutWritingFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	outDir := t.TempDir()
	d, err := New(outDir, false, nil)
	require.NoError(t, err)
	d.BaseURL = server.URL

	results := d.Download([]string{"GSE3"})
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.Contains(t, results[0].Err.Error(), "404")

	_, statErr := os.Stat(filepath.Join(outDir, "GSE3_family.xml.tgz"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownload_ForceRefetchesExistingFile(t *testing.T) {
	var fetched bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetched = true
		w.Write([]byte("new-bytes"))
	}))
	defer server.Close()

	outDir := t.TempDir()
	d, err := New(outDir, true, nil)
	require.NoError(t, err)
	d.BaseURL = server.URL

	existing := filepath.Join(outDir, "GSE4_family.xml.tgz")
	require.NoError(t, os.WriteFile(existing, []byte("stale"), 0o644))

	results := d.Download([]string{"GSE4"})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.True(t, fetched)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "new-bytes", string(data))
}
