package session

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joss/prompter/internal/cache"
	"github.com/joss/prompter/internal/concurrency"
	"github.com/joss/prompter/internal/logging"
)

// LoaderConfig is the explicit configuration of a Loader.
type LoaderConfig struct {
	// CacheSize bounds how many materialized sessions stay resident.
	// Defaults to 100.
	CacheSize int

	// MaxCachedAge is the age threshold used by OptimizeCache.
	// Defaults to 30 minutes.
	MaxCachedAge time.Duration

	// PreloadConcurrency caps in-flight preloads, independent of the
	// file processor. Defaults to 3.
	PreloadConcurrency int

	// BulkBatchSize groups BulkLoadMetadata lookups. Defaults to 10.
	BulkBatchSize int
}

func (c LoaderConfig) withDefaults() LoaderConfig {
	if c.CacheSize < 1 {
		c.CacheSize = 100
	}
	if c.MaxCachedAge <= 0 {
		c.MaxCachedAge = 30 * time.Minute
	}
	if c.PreloadConcurrency < 1 {
		c.PreloadConcurrency = 3
	}
	if c.BulkBatchSize < 1 {
		c.BulkBatchSize = 10
	}
	return c
}

// LoadOptions selects which parts of a session body to materialize.
// HistoryPage is a pointer so that page 0 is distinguishable from
// "no page requested": a limit without a page returns the most recent
// entries (recency bias), an explicit page walks from the start.
type LoadOptions struct {
	IncludeHistory bool
	IncludeContext bool
	HistoryPage    *int
	HistoryLimit   int
	ForceRefresh   bool
}

func (o LoadOptions) paged() bool {
	return o.HistoryPage != nil || o.HistoryLimit > 0
}

// Loader materializes as little of a session's body as callers need,
// caches what was materialized, and tracks that cache's staleness
// relative to disk.
type Loader struct {
	manager *Manager
	cfg     LoaderConfig
	cache   *cache.LRU[*LazySessionData]
	log     *logging.Logger
}

// NewLoader creates a lazy loader on top of a cache manager.
func NewLoader(manager *Manager, cfg LoaderConfig) *Loader {
	cfg = cfg.withDefaults()
	return &Loader{
		manager: manager,
		cfg:     cfg,
		cache:   cache.New[*LazySessionData](cfg.CacheSize),
		log:     logging.New("loader"),
	}
}

// satisfies reports whether a cached entry already covers the requested
// inclusion flags.
func satisfies(data *LazySessionData, opts LoadOptions) bool {
	if opts.IncludeHistory && data.History == nil {
		return false
	}
	if opts.IncludeContext && data.Context == nil {
		return false
	}
	return true
}

// LoadSessionLazy returns a session materialized to the requested
// depth. A cache hit is returned only if it satisfies the inclusion
// flags; otherwise the cached entry is enriched with the missing parts
// and re-cached, never replaced with less. Returns (nil, nil) when no
// metadata exists for the id. Paged history requests are served fresh
// and not cached, so a partial page can never shadow the full history.
func (l *Loader) LoadSessionLazy(ctx context.Context, id string, opts LoadOptions) (*LazySessionData, error) {
	var cached *LazySessionData
	if !opts.ForceRefresh {
		if hit, ok := l.cache.Get(id); ok {
			if satisfies(hit, opts) && !opts.paged() {
				return hit, nil
			}
			cached = hit
		}
	}

	meta, err := l.manager.GetSessionMetadata(ctx, id)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, nil
	}

	data := &LazySessionData{Metadata: meta}
	if cached != nil {
		data.History = cached.History
		data.Context = cached.Context
	}

	if opts.IncludeHistory && (data.History == nil || opts.paged()) {
		history, err := l.LoadSessionHistory(ctx, id, opts)
		if err != nil {
			return nil, err
		}
		data.History = history
	}
	if opts.IncludeContext && data.Context == nil {
		data.Context = l.LoadSessionContext(ctx, id)
	}

	data.IsFullyLoaded = data.History != nil && data.Context != nil
	data.LoadedAt = time.Now()

	if !opts.paged() {
		l.cache.Set(id, data)
	}
	return data, nil
}

// LoadSessionHistory reads a session's history with pagination. With
// both page and limit, it returns entries [page*limit, page*limit+limit).
// With only a limit, it returns the most recent limit entries (the
// tail, not the head). With neither, the full history.
func (l *Loader) LoadSessionHistory(ctx context.Context, id string, opts LoadOptions) ([]ConversationEntry, error) {
	doc, err := readSessionDoc(l.manager.SessionFilePath(id))
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", id, err)
	}
	history := doc.History
	if history == nil {
		history = []ConversationEntry{}
	}

	switch {
	case opts.HistoryPage != nil && opts.HistoryLimit > 0:
		start := *opts.HistoryPage * opts.HistoryLimit
		if start >= len(history) {
			return []ConversationEntry{}, nil
		}
		end := start + opts.HistoryLimit
		if end > len(history) {
			end = len(history)
		}
		return history[start:end], nil
	case opts.HistoryLimit > 0 && opts.HistoryLimit < len(history):
		return history[len(history)-opts.HistoryLimit:], nil
	default:
		return history, nil
	}
}

// LoadSessionContext reads just the context object, regex-first with a
// full-parse fallback. Context is best-effort: an unreadable or
// malformed file yields an empty, well-formed context rather than an
// error.
func (l *Loader) LoadSessionContext(ctx context.Context, id string) *Context {
	raw, err := os.ReadFile(l.manager.SessionFilePath(id))
	if err != nil {
		l.log.Debug("context_unreadable", map[string]interface{}{
			"session": id,
		})
		return NewContext()
	}

	sessCtx, err := extractContext(raw)
	if err != nil {
		l.log.Warn("context_malformed", map[string]interface{}{
			"session": id,
		}, err)
		return NewContext()
	}
	return sessCtx
}

// HistoryStream pulls a session's history in fixed-size chunks,
// re-reading the file per chunk so appends made between chunks are
// observed. A short or empty chunk ends the stream.
type HistoryStream struct {
	loader    *Loader
	sessionID string
	chunkSize int
	page      int
	done      bool
}

// StreamSessionHistory creates a restartable chunked reader over a
// session's history.
func (l *Loader) StreamSessionHistory(id string, chunkSize int) *HistoryStream {
	if chunkSize < 1 {
		chunkSize = 10
	}
	return &HistoryStream{loader: l, sessionID: id, chunkSize: chunkSize}
}

// Next returns the next chunk, or nil once the stream is exhausted.
func (s *HistoryStream) Next(ctx context.Context) ([]ConversationEntry, error) {
	if s.done {
		return nil, nil
	}

	page := s.page
	chunk, err := s.loader.LoadSessionHistory(ctx, s.sessionID, LoadOptions{
		HistoryPage:  &page,
		HistoryLimit: s.chunkSize,
	})
	if err != nil {
		return nil, err
	}
	s.page++

	if len(chunk) < s.chunkSize {
		s.done = true
	}
	if len(chunk) == 0 {
		return nil, nil
	}
	return chunk, nil
}

// Restart rewinds the stream to the first chunk.
func (s *HistoryStream) Restart() {
	s.page = 0
	s.done = false
}

// PreloadSessions warms the cache for multiple sessions with a bounded
// number in flight. One failing preload never aborts the others; the
// return value is how many sessions were loaded.
func (l *Loader) PreloadSessions(ctx context.Context, ids []string, opts LoadOptions) int {
	sem := concurrency.NewSemaphore(l.cfg.PreloadConcurrency)

	var loaded atomic.Int64
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			err := sem.Do(ctx, 0, func() error {
				data, err := l.LoadSessionLazy(ctx, id, opts)
				if err != nil {
					return err
				}
				if data != nil {
					loaded.Add(1)
				}
				return nil
			})
			if err != nil {
				l.log.Warn("preload_failed", map[string]interface{}{
					"session": id,
				}, err)
			}
		}(id)
	}
	wg.Wait()

	return int(loaded.Load())
}

// GetFromCache returns the cached entry without any disk I/O.
func (l *Loader) GetFromCache(id string) *LazySessionData {
	if data, ok := l.cache.Get(id); ok {
		return data
	}
	return nil
}

// EvictFromCache drops one cached session, reporting whether it was
// present.
func (l *Loader) EvictFromCache(id string) bool {
	return l.cache.Delete(id)
}

// ClearCache drops every cached session.
func (l *Loader) ClearCache() {
	l.cache.Clear()
}

// ValidateCachedSession checks a cached entry against the file's
// current modification time. If the file is newer (or gone), the entry
// is evicted and false is returned: cached data is provisional and
// correctness-sensitive callers re-validate.
func (l *Loader) ValidateCachedSession(id string) bool {
	data, ok := l.cache.Get(id)
	if !ok {
		return false
	}

	info, err := os.Stat(l.manager.SessionFilePath(id))
	if err != nil || info.ModTime().After(data.LoadedAt) {
		l.cache.Delete(id)
		return false
	}
	return true
}

// OptimizeCache evicts entries older than the configured age,
// independent of capacity pressure. Returns the count evicted.
func (l *Loader) OptimizeCache() int {
	return l.cache.EvictOlderThan(l.cfg.MaxCachedAge)
}

// CacheStats exposes the loader cache's occupancy and hit rate.
func (l *Loader) CacheStats() cache.Stats {
	return l.cache.GetStats()
}

// EstimateCacheMemory approximates the loader cache footprint in bytes.
func (l *Loader) EstimateCacheMemory() int64 {
	return l.cache.EstimateMemoryUsage()
}

// BulkLoadMetadata fetches metadata for many ids in fixed-size
// concurrency groups, collecting only successful results. Callers that
// need failure visibility look ids up individually.
func (l *Loader) BulkLoadMetadata(ctx context.Context, ids []string) []*MetadataCache {
	var mu sync.Mutex
	var results []*MetadataCache

	for start := 0; start < len(ids); start += l.cfg.BulkBatchSize {
		end := start + l.cfg.BulkBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		var wg sync.WaitGroup
		for _, id := range ids[start:end] {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				meta, err := l.manager.GetSessionMetadata(ctx, id)
				if err != nil || meta == nil {
					return
				}
				mu.Lock()
				results = append(results, meta)
				mu.Unlock()
			}(id)
		}
		wg.Wait()
	}
	return results
}

// EntryMatch locates one matching conversation entry within a session.
type EntryMatch struct {
	Type  string            `json:"type"` // "prompt" or "response"
	Index int               `json:"index"`
	Entry ConversationEntry `json:"entry"`
}

// ContentMatch pairs a session's metadata with its matching entries.
type ContentMatch struct {
	Metadata *MetadataCache `json:"metadata"`
	Matches  []EntryMatch   `json:"matches"`
}

// SearchSessionContent scans the full history of each session for a
// case-insensitive substring in prompts and responses. A read failure
// for one session skips that session, never the whole search.
func (l *Loader) SearchSessionContent(ctx context.Context, ids []string, query string) []ContentMatch {
	q := strings.ToLower(query)
	var results []ContentMatch

	for _, id := range ids {
		meta, err := l.manager.GetSessionMetadata(ctx, id)
		if err != nil || meta == nil {
			if err != nil {
				l.log.Warn("search_metadata_failed", map[string]interface{}{
					"session": id,
				}, err)
			}
			continue
		}

		history, err := l.LoadSessionHistory(ctx, id, LoadOptions{})
		if err != nil {
			l.log.Warn("search_history_failed", map[string]interface{}{
				"session": id,
			}, err)
			continue
		}

		var matches []EntryMatch
		for i, entry := range history {
			if strings.Contains(strings.ToLower(entry.Prompt), q) {
				matches = append(matches, EntryMatch{Type: "prompt", Index: i, Entry: entry})
			}
			if strings.Contains(strings.ToLower(entry.Response), q) {
				matches = append(matches, EntryMatch{Type: "response", Index: i, Entry: entry})
			}
		}
		if len(matches) > 0 {
			results = append(results, ContentMatch{Metadata: meta, Matches: matches})
		}
	}
	return results
}
