// Package session implements the session metadata cache and lazy-loading
// subsystem: a file store for append-only conversation records, a
// persisted metadata index for fast enumeration, and a lazy loader that
// materializes session bodies on demand.
package session

import "time"

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// Source identifies who produced a conversation entry.
type Source string

const (
	SourceUser   Source = "user"
	SourceModelA Source = "model-a"
	SourceModelB Source = "model-b"
)

// Metadata is the descriptive header of a session document.
type Metadata struct {
	ProjectName  string    `json:"projectName"`
	CreatedDate  time.Time `json:"createdDate"`
	LastAccessed time.Time `json:"lastAccessed"`
	Status       Status    `json:"status"`
	Description  string    `json:"description,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
}

// ConversationEntry is one prompt/response exchange. History order is
// append-only and chronological.
type ConversationEntry struct {
	ID        string         `json:"id,omitempty"`
	Prompt    string         `json:"prompt"`
	Response  string         `json:"response"`
	Timestamp time.Time      `json:"timestamp"`
	Source    Source         `json:"source"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Context is the free-form working state tracked alongside a session.
type Context struct {
	Variables     map[string]any `json:"variables"`
	Decisions     []string       `json:"decisions"`
	TrackedIssues []string       `json:"trackedIssues"`
}

// NewContext returns an empty but well-formed context.
func NewContext() *Context {
	return &Context{
		Variables:     map[string]any{},
		Decisions:     []string{},
		TrackedIssues: []string{},
	}
}

// Session is the on-disk unit: one JSON document per session, named by
// its id. The cache subsystem only ever reads these; the Store writes
// them, and external tools may write them too.
type Session struct {
	SessionID string              `json:"sessionId"`
	Metadata  Metadata            `json:"metadata"`
	History   []ConversationEntry `json:"history"`
	Context   *Context            `json:"context,omitempty"`
}

// MetadataCache is the derived index record: everything needed to list,
// search and sort sessions without reading the full body.
// ConversationCount and LastEntryTimestamp are consistent with the
// underlying file as of LastCacheUpdate; staleness is re-checked against
// the file's mtime, never assumed.
type MetadataCache struct {
	SessionID          string     `json:"sessionId"`
	ProjectName        string     `json:"projectName"`
	CreatedDate        time.Time  `json:"createdDate"`
	LastAccessed       time.Time  `json:"lastAccessed"`
	Status             Status     `json:"status"`
	Tags               []string   `json:"tags,omitempty"`
	Description        string     `json:"description,omitempty"`
	ConversationCount  int        `json:"conversationCount"`
	LastEntryTimestamp *time.Time `json:"lastEntryTimestamp,omitempty"`
	Languages          []string   `json:"languages,omitempty"`
	Patterns           []string   `json:"patterns,omitempty"`
	FileSize           int64      `json:"fileSize"`
	LastCacheUpdate    time.Time  `json:"lastCacheUpdate"`
	CacheVersion       string     `json:"cacheVersion"`
	FilePath           string     `json:"filePath"`
}

// LazySessionData is a transient, partially materialized session. It
// holds a read-only copy of the index metadata and whatever body parts
// have been loaded so far; it lives in the loader's LRU cache and is
// never persisted.
type LazySessionData struct {
	Metadata      *MetadataCache      `json:"metadata"`
	History       []ConversationEntry `json:"history,omitempty"`
	Context       *Context            `json:"context,omitempty"`
	IsFullyLoaded bool                `json:"isFullyLoaded"`
	LoadedAt      time.Time           `json:"loadedAt"`
}
