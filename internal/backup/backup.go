// Package backup provides session archive export and restore.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/joss/prompter/internal/fileproc"
	"github.com/joss/prompter/internal/logging"
)

// ArchiveMetadata describes one backup archive.
type ArchiveMetadata struct {
	Version     string            `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	Description string            `json:"description"`
	Sessions    int               `json:"sessions"`
	Checksums   map[string]string `json:"checksums"`
}

// Manager exports and restores session directories as compressed tar
// archives. File I/O goes through the batch processor so archive
// operations obey the same concurrency limits as everything else.
type Manager struct {
	dir  string
	proc *fileproc.Processor
	log  *logging.Logger
}

// New creates a backup manager over a session directory.
func New(dir string, proc *fileproc.Processor) *Manager {
	if proc == nil {
		proc = fileproc.New(fileproc.DefaultConfig())
	}
	return &Manager{dir: dir, proc: proc, log: logging.New("backup")}
}

// sessionFiles lists the session documents under the directory,
// excluding the index and other dot-prefixed files.
func (m *Manager) sessionFiles() ([]string, error) {
	var paths []string
	err := doublestar.GlobWalk(os.DirFS(m.dir), "*.json", func(path string, d fs.DirEntry) error {
		if d.IsDir() || strings.HasPrefix(filepath.Base(path), ".") {
			return nil
		}
		paths = append(paths, filepath.Join(m.dir, path))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list session files: %w", err)
	}
	return paths, nil
}

// Export writes every session file into a gzipped tar at outputPath,
// with a metadata.json entry carrying counts and per-file checksums.
// An unreadable session file fails the export; a partial archive is
// worse than none.
func (m *Manager) Export(ctx context.Context, outputPath, description string) (*ArchiveMetadata, error) {
	paths, err := m.sessionFiles()
	if err != nil {
		return nil, err
	}

	res := fileproc.ReadFilesInBatches(ctx, m.proc, paths)
	if len(res.Failed) > 0 {
		f := res.Failed[0]
		return nil, fmt.Errorf("export aborted, %s: %w", filepath.Base(f.Path), f.Err)
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	defer file.Close()

	gzw := gzip.NewWriter(file)
	defer gzw.Close()
	tw := tar.NewWriter(gzw)
	defer tw.Close()

	meta := &ArchiveMetadata{
		Version:     "1.0",
		CreatedAt:   time.Now(),
		Description: description,
		Sessions:    len(res.Successful),
		Checksums:   make(map[string]string, len(res.Successful)),
	}

	for _, fc := range res.Successful {
		name := filepath.Base(fc.Path)
		if err := addToTar(tw, name, fc.Content); err != nil {
			return nil, fmt.Errorf("add %s to archive: %w", name, err)
		}
		sum := sha256.Sum256(fc.Content)
		meta.Checksums[name] = hex.EncodeToString(sum[:])
	}

	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal archive metadata: %w", err)
	}
	if err := addToTar(tw, "metadata.json", metaJSON); err != nil {
		return nil, fmt.Errorf("add metadata to archive: %w", err)
	}

	m.log.Info("archive_exported", map[string]interface{}{
		"path":     outputPath,
		"sessions": meta.Sessions,
	})
	return meta, nil
}

// Import restores session files from an archive into the session
// directory. Without merge, existing session files are removed first.
// Entries whose checksum does not match the archive metadata are
// rejected before anything is written.
func (m *Manager) Import(ctx context.Context, inputPath string, merge bool) (*ArchiveMetadata, error) {
	meta, entries, err := readArchive(inputPath)
	if err != nil {
		return nil, err
	}

	for name, data := range entries {
		want, ok := meta.Checksums[name]
		if !ok {
			return nil, fmt.Errorf("archive entry %s missing from metadata", name)
		}
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != want {
			return nil, fmt.Errorf("archive entry %s fails checksum", name)
		}
	}

	if !merge {
		existing, err := m.sessionFiles()
		if err != nil {
			return nil, err
		}
		for _, p := range existing {
			if err := os.Remove(p); err != nil {
				return nil, fmt.Errorf("clear session dir: %w", err)
			}
		}
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	writes := make([]fileproc.FileWrite, 0, len(entries))
	for name, data := range entries {
		writes = append(writes, fileproc.FileWrite{
			Path: filepath.Join(m.dir, name),
			Data: data,
		})
	}
	res := fileproc.WriteFilesInBatches(ctx, m.proc, writes)
	if len(res.Failed) > 0 {
		f := res.Failed[0]
		return nil, fmt.Errorf("restore %s: %w", filepath.Base(f.Path), f.Err)
	}

	m.log.Info("archive_imported", map[string]interface{}{
		"path":     inputPath,
		"sessions": len(writes),
		"merge":    merge,
	})
	return meta, nil
}

// List returns an archive's metadata without restoring anything.
func List(inputPath string) (*ArchiveMetadata, error) {
	meta, _, err := readArchive(inputPath)
	return meta, err
}

// readArchive loads every entry of a gzipped tar, separating the
// metadata document from the session files.
func readArchive(inputPath string) (*ArchiveMetadata, map[string][]byte, error) {
	file, err := os.Open(inputPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	gzr, err := gzip.NewReader(file)
	if err != nil {
		return nil, nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	var meta *ArchiveMetadata
	entries := make(map[string][]byte)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read archive: %w", err)
		}

		// reject path traversal in entry names
		name := filepath.Base(filepath.Clean(header.Name))
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, nil, fmt.Errorf("read archive entry %s: %w", name, err)
		}

		if name == "metadata.json" {
			meta = &ArchiveMetadata{}
			if err := json.Unmarshal(data, meta); err != nil {
				return nil, nil, fmt.Errorf("parse archive metadata: %w", err)
			}
			continue
		}
		entries[name] = data
	}

	if meta == nil {
		return nil, nil, fmt.Errorf("archive %s has no metadata", filepath.Base(inputPath))
	}
	return meta, entries, nil
}

func addToTar(tw *tar.Writer, name string, data []byte) error {
	header := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}
