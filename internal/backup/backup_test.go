package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/prompter/internal/logging"
)

func TestMain(m *testing.M) {
	logging.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func writeSession(t *testing.T, dir, id string) {
	t.Helper()
	doc := map[string]any{
		"sessionId": id,
		"metadata": map[string]any{
			"projectName":  "proj-" + id,
			"createdDate":  "2026-08-01T10:00:00Z",
			"lastAccessed": "2026-08-01T10:05:00Z",
			"status":       "active",
		},
		"history": []any{},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".json"), data, 0o644))
}

func TestExportImportRoundTrip(t *testing.T) {
	src := t.TempDir()
	writeSession(t, src, "sess-a")
	writeSession(t, src, "sess-b")
	archive := filepath.Join(t.TempDir(), "sessions.tar.gz")

	meta, err := New(src, nil).Export(context.Background(), archive, "nightly")
	require.NoError(t, err)
	assert.Equal(t, 2, meta.Sessions)
	assert.Equal(t, "nightly", meta.Description)
	assert.Len(t, meta.Checksums, 2)

	dst := t.TempDir()
	restored, err := New(dst, nil).Import(context.Background(), archive, false)
	require.NoError(t, err)
	assert.Equal(t, 2, restored.Sessions)

	want, err := os.ReadFile(filepath.Join(src, "sess-a.json"))
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(dst, "sess-a.json"))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestExportExcludesIndexFile(t *testing.T) {
	src := t.TempDir()
	writeSession(t, src, "sess-a")
	require.NoError(t, os.WriteFile(filepath.Join(src, ".prompter-metadata-cache.json"), []byte("{}"), 0o644))
	archive := filepath.Join(t.TempDir(), "sessions.tar.gz")

	meta, err := New(src, nil).Export(context.Background(), archive, "")
	require.NoError(t, err)
	assert.Equal(t, 1, meta.Sessions)
	assert.NotContains(t, meta.Checksums, ".prompter-metadata-cache.json")
}

func TestImportReplacesUnlessMerging(t *testing.T) {
	src := t.TempDir()
	writeSession(t, src, "sess-a")
	archive := filepath.Join(t.TempDir(), "sessions.tar.gz")
	_, err := New(src, nil).Export(context.Background(), archive, "")
	require.NoError(t, err)

	dst := t.TempDir()
	writeSession(t, dst, "sess-old")

	_, err = New(dst, nil).Import(context.Background(), archive, false)
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(dst, "sess-old.json"))
	assert.FileExists(t, filepath.Join(dst, "sess-a.json"))

	writeSession(t, dst, "sess-kept")
	_, err = New(dst, nil).Import(context.Background(), archive, true)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dst, "sess-kept.json"))
	assert.FileExists(t, filepath.Join(dst, "sess-a.json"))
}

func TestImportRejectsTamperedArchive(t *testing.T) {
	src := t.TempDir()
	writeSession(t, src, "sess-a")
	archive := filepath.Join(t.TempDir(), "sessions.tar.gz")
	_, err := New(src, nil).Export(context.Background(), archive, "")
	require.NoError(t, err)

	// Re-pack the archive with one session's content altered but the
	// original metadata checksums kept.
	meta, entries, err := readArchive(archive)
	require.NoError(t, err)
	entries["sess-a.json"] = []byte(`{"sessionId":"sess-a","tampered":true}`)
	repack(t, archive, meta, entries)

	_, err = New(t.TempDir(), nil).Import(context.Background(), archive, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")
}

func TestListReadsMetadataOnly(t *testing.T) {
	src := t.TempDir()
	writeSession(t, src, "sess-a")
	archive := filepath.Join(t.TempDir(), "sessions.tar.gz")
	_, err := New(src, nil).Export(context.Background(), archive, "weekly")
	require.NoError(t, err)

	meta, err := List(archive)
	require.NoError(t, err)
	assert.Equal(t, "weekly", meta.Description)
	assert.Equal(t, 1, meta.Sessions)
}

func TestListMissingArchive(t *testing.T) {
	_, err := List(filepath.Join(t.TempDir(), "nope.tar.gz"))
	require.Error(t, err)
}

func repack(t *testing.T, path string, meta *ArchiveMetadata, entries map[string][]byte) {
	t.Helper()
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()

	gzw := gzip.NewWriter(file)
	defer gzw.Close()
	tw := tar.NewWriter(gzw)
	defer tw.Close()

	for name, data := range entries {
		require.NoError(t, addToTar(tw, name, data))
	}
	metaJSON, err := json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, addToTar(tw, "metadata.json", metaJSON))
}
