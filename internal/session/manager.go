package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/joss/prompter/internal/fileproc"
	"github.com/joss/prompter/internal/logging"
)

// IndexFileName is the well-known name of the persisted metadata index
// inside a session directory.
const IndexFileName = ".prompter-metadata-cache.json"

// ErrNotInitialized is returned when the index is used before
// Initialize has run.
var ErrNotInitialized = errors.New("metadata cache not initialized")

// ManagerConfig is the explicit, constructor-injected configuration of
// a CacheManager. There is no global state; one manager owns one
// directory's index.
type ManagerConfig struct {
	// SessionDir is the directory holding session files.
	SessionDir string

	// IndexPath is where the index is persisted. Defaults to
	// SessionDir/IndexFileName.
	IndexPath string

	// GlobPattern selects session files inside SessionDir. Defaults to
	// "*.json"; the index file itself is always excluded.
	GlobPattern string

	// MaxMetadataAge is how long an index entry stays trusted without
	// re-checking the file. Defaults to 5 minutes.
	MaxMetadataAge time.Duration

	// Processor runs bulk extraction. Defaults to a processor with
	// standard limits.
	Processor *fileproc.Processor
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.IndexPath == "" {
		c.IndexPath = filepath.Join(c.SessionDir, IndexFileName)
	}
	if c.GlobPattern == "" {
		c.GlobPattern = "*.json"
	}
	if c.MaxMetadataAge <= 0 {
		c.MaxMetadataAge = 5 * time.Minute
	}
	if c.Processor == nil {
		c.Processor = fileproc.New(fileproc.DefaultConfig())
	}
	return c
}

// Manager owns the persisted metadata index over one session directory:
// one lightweight record per session, rebuilt or refreshed per entry,
// serving enumeration and search without touching session bodies.
type Manager struct {
	cfg  ManagerConfig
	proc *fileproc.Processor
	log  *logging.Logger

	mu          sync.RWMutex
	entries     map[string]*MetadataCache
	initialized bool
}

// RebuildResult summarizes a full index rebuild.
type RebuildResult struct {
	Indexed  int           `json:"indexed"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// NewManager creates a cache manager for one session directory.
func NewManager(cfg ManagerConfig) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:     cfg,
		proc:    cfg.Processor,
		log:     logging.New("cache"),
		entries: make(map[string]*MetadataCache),
	}
}

// Initialize loads the persisted index, falling back to a full rebuild
// when the file is missing or corrupt. Idempotent: a second call after
// success is a no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	loaded, err := m.loadIndex()
	if err != nil {
		m.log.Warn("index_load_failed", map[string]interface{}{
			"path": m.cfg.IndexPath,
		}, err)
		if _, err := m.RebuildCache(ctx); err != nil {
			return err
		}
	} else {
		m.mu.Lock()
		m.entries = loaded
		m.mu.Unlock()
		m.log.Info("index_loaded", map[string]interface{}{
			"entries": len(loaded),
		})
	}

	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()
	return nil
}

func (m *Manager) loadIndex() (map[string]*MetadataCache, error) {
	data, err := os.ReadFile(m.cfg.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	var entries map[string]*MetadataCache
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	if entries == nil {
		entries = make(map[string]*MetadataCache)
	}
	return entries, nil
}

// listSessionFiles enumerates session files under the configured
// directory, excluding the index file and temp files.
func (m *Manager) listSessionFiles() ([]string, error) {
	var paths []string
	fsys := os.DirFS(m.cfg.SessionDir)
	err := doublestar.GlobWalk(fsys, m.cfg.GlobPattern, func(path string, d fs.DirEntry) error {
		if d.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if base == IndexFileName || strings.HasPrefix(base, ".") {
			return nil
		}
		paths = append(paths, filepath.Join(m.cfg.SessionDir, path))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list session files: %w", err)
	}
	return paths, nil
}

// RebuildCache scans every session file, extracts a metadata record per
// file concurrently, replaces the index contents, and persists it. A
// file that fails extraction is logged and excluded; it never aborts
// the rebuild. Concurrent reads of the in-memory map stay valid
// throughout: the rebuild writes into the same map incrementally.
func (m *Manager) RebuildCache(ctx context.Context) (*RebuildResult, error) {
	start := time.Now()

	paths, err := m.listSessionFiles()
	if err != nil {
		return nil, err
	}

	res := fileproc.ProcessFilesInBatches(ctx, m.proc, paths, func(_ context.Context, path string, content []byte) (*MetadataCache, error) {
		return extractMetadata(path, content, int64(len(content)))
	})

	for _, f := range res.Failed {
		m.log.Warn("extract_failed", map[string]interface{}{
			"path": f.Path,
		}, f.Err)
	}

	seen := make(map[string]bool, len(res.Successful))
	m.mu.Lock()
	for _, entry := range res.Successful {
		m.entries[entry.SessionID] = entry
		seen[entry.SessionID] = true
	}
	for id := range m.entries {
		if !seen[id] {
			delete(m.entries, id)
		}
	}
	m.mu.Unlock()

	if err := m.persistIndex(); err != nil {
		return nil, err
	}

	result := &RebuildResult{
		Indexed:  len(res.Successful),
		Failed:   len(res.Failed),
		Duration: time.Since(start),
	}
	m.log.TimedEvent("index_rebuilt", start, map[string]interface{}{
		"indexed": result.Indexed,
		"failed":  result.Failed,
	})
	return result, nil
}

// isValid reports whether an index entry is still trustworthy: young
// enough, and not older than the file it describes.
func (m *Manager) isValid(entry *MetadataCache) bool {
	if time.Since(entry.LastCacheUpdate) >= m.cfg.MaxMetadataAge {
		return false
	}
	info, err := os.Stat(entry.FilePath)
	if err != nil {
		return false
	}
	return !info.ModTime().After(entry.LastCacheUpdate)
}

// SessionFilePath resolves the file path for a session id, preferring
// the indexed path when present.
func (m *Manager) SessionFilePath(id string) string {
	m.mu.RLock()
	entry, ok := m.entries[id]
	m.mu.RUnlock()
	if ok && entry.FilePath != "" {
		return entry.FilePath
	}
	return filepath.Join(m.cfg.SessionDir, id+".json")
}

// extractOne re-extracts a single session file, bypassing the batch
// processor; single reads do not need batch admission.
func (m *Manager) extractOne(path string) (*MetadataCache, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	return extractMetadata(path, raw, int64(len(raw)))
}

// GetSessionMetadata returns the indexed record for one session,
// re-extracting it first when the cached record is stale. Returns
// (nil, nil) when the session file does not exist.
func (m *Manager) GetSessionMetadata(ctx context.Context, id string) (*MetadataCache, error) {
	m.mu.RLock()
	if !m.initialized {
		m.mu.RUnlock()
		return nil, ErrNotInitialized
	}
	entry, ok := m.entries[id]
	m.mu.RUnlock()

	if ok && m.isValid(entry) {
		return entry, nil
	}

	path := m.SessionFilePath(id)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat session file: %w", err)
	}

	fresh, err := m.extractOne(path)
	if err != nil {
		m.log.Warn("refresh_failed", map[string]interface{}{
			"session": id,
		}, err)
		return nil, err
	}

	// Keyed by the requested id, not fresh.SessionID: a file whose
	// embedded sessionId disagrees with its filename would otherwise
	// leave the stale entry in place and re-extract on every lookup.
	m.mu.Lock()
	m.entries[id] = fresh
	m.mu.Unlock()
	return fresh, nil
}

// GetAllSessionMetadata returns every currently valid entry sorted by
// lastAccessed descending. Stale entries are skipped, not re-extracted;
// staleness is resolved lazily on direct lookup only, so listings never
// pay rebuild cost.
func (m *Manager) GetAllSessionMetadata() ([]*MetadataCache, error) {
	m.mu.RLock()
	if !m.initialized {
		m.mu.RUnlock()
		return nil, ErrNotInitialized
	}
	snapshot := make([]*MetadataCache, 0, len(m.entries))
	for _, e := range m.entries {
		snapshot = append(snapshot, e)
	}
	m.mu.RUnlock()

	valid := snapshot[:0]
	for _, e := range snapshot {
		if m.isValid(e) {
			valid = append(valid, e)
		}
	}

	sort.Slice(valid, func(i, j int) bool {
		return valid[i].LastAccessed.After(valid[j].LastAccessed)
	})
	return valid, nil
}

// SearchMetadata performs a case-insensitive substring match across
// project name, description, tags, languages and patterns, over the
// currently cached entries only.
func (m *Manager) SearchMetadata(query string) ([]*MetadataCache, error) {
	m.mu.RLock()
	if !m.initialized {
		m.mu.RUnlock()
		return nil, ErrNotInitialized
	}
	snapshot := make([]*MetadataCache, 0, len(m.entries))
	for _, e := range m.entries {
		snapshot = append(snapshot, e)
	}
	m.mu.RUnlock()

	q := strings.ToLower(query)
	var matched []*MetadataCache
	for _, e := range snapshot {
		if metadataMatches(e, q) {
			matched = append(matched, e)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].LastAccessed.After(matched[j].LastAccessed)
	})
	return matched, nil
}

func metadataMatches(e *MetadataCache, q string) bool {
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(e.ProjectName), q) ||
		strings.Contains(strings.ToLower(e.Description), q) {
		return true
	}
	for _, group := range [][]string{e.Tags, e.Languages, e.Patterns} {
		for _, v := range group {
			if strings.Contains(strings.ToLower(v), q) {
				return true
			}
		}
	}
	return false
}

// UpdateSessionMetadata replaces the index record for entry's session
// id and persists the index. Concurrent updates to the same id are
// last-writer-wins; a single logical writer per session is assumed.
func (m *Manager) UpdateSessionMetadata(ctx context.Context, entry *MetadataCache) error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	m.entries[entry.SessionID] = entry
	m.mu.Unlock()

	return m.persistIndex()
}

// InvalidateSessionCache drops one session's index record and persists.
func (m *Manager) InvalidateSessionCache(ctx context.Context, id string) error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	delete(m.entries, id)
	m.mu.Unlock()

	return m.persistIndex()
}

// CleanupStaleEntries removes entries whose file is missing or whose
// validity check fails, persisting afterwards. Returns the count
// removed.
func (m *Manager) CleanupStaleEntries(ctx context.Context) (int, error) {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return 0, ErrNotInitialized
	}
	var stale []string
	for id, e := range m.entries {
		if !m.isValid(e) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(m.entries, id)
	}
	m.mu.Unlock()

	if len(stale) == 0 {
		return 0, nil
	}
	if err := m.persistIndex(); err != nil {
		return 0, err
	}
	m.log.Info("stale_entries_removed", map[string]interface{}{
		"count": len(stale),
	})
	return len(stale), nil
}

// Count returns the number of indexed sessions, valid or not.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Processor exposes the underlying file processor for observability.
func (m *Manager) Processor() *fileproc.Processor { return m.proc }

// IndexPath returns where the index is persisted.
func (m *Manager) IndexPath() string { return m.cfg.IndexPath }

// persistIndex writes the whole index atomically (temp + rename) so
// readers see either the old or the new complete file. A persistence
// failure is surfaced, not swallowed: the in-memory and on-disk states
// have diverged and the caller should retry.
func (m *Manager) persistIndex() error {
	m.mu.RLock()
	data, err := json.MarshalIndent(m.entries, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.cfg.IndexPath), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	if err := atomicWrite(m.cfg.IndexPath, data); err != nil {
		return fmt.Errorf("persist metadata index: %w", err)
	}
	return nil
}

// Cleanup releases processor bookkeeping on shutdown.
func (m *Manager) Cleanup() {
	m.proc.Cleanup()
}
