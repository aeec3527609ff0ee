package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// cacheVersion tags index entries so a future format change can force
// re-extraction.
const cacheVersion = "1.0.0"

// Session bodies can be large while everything the index needs lives in
// a small header region, so extraction is two-tier: a cheap regex pass
// over the raw text first, a full JSON parse only when that fails.
var (
	metadataRe  = regexp.MustCompile(`"metadata"\s*:\s*(\{[^{}]*\})`)
	promptRe    = regexp.MustCompile(`"prompt"\s*:`)
	timestampRe = regexp.MustCompile(`"timestamp"\s*:\s*"([^"]+)"`)
	contextRe   = regexp.MustCompile(`"context"\s*:`)
)

// topicProbe classifies raw session text into a topic bucket. Probes are
// independent; a file may match zero, one, or many.
type topicProbe struct {
	name string
	re   *regexp.Regexp
}

var languageProbes = []topicProbe{
	{"typescript", regexp.MustCompile(`(?i)typescript`)},
	{"javascript", regexp.MustCompile(`(?i)javascript|node\.?js`)},
	{"python", regexp.MustCompile(`(?i)python`)},
	{"go", regexp.MustCompile(`(?i)\bgolang\b`)},
	{"rust", regexp.MustCompile(`(?i)\brust\b`)},
	{"java", regexp.MustCompile(`(?i)\bjava\b`)},
	{"sql", regexp.MustCompile(`(?i)\bsql\b|postgres|mysql`)},
}

var patternProbes = []topicProbe{
	{"async", regexp.MustCompile(`(?i)async|await`)},
	{"auth", regexp.MustCompile(`(?i)\bjwt\b|\bauth(entication|orization)?\b`)},
	{"api", regexp.MustCompile(`(?i)\bapi\b|\brest\b|endpoint`)},
	{"database", regexp.MustCompile(`(?i)database|\borm\b|migration`)},
	{"testing", regexp.MustCompile(`(?i)\btest(s|ing)?\b`)},
	{"error-handling", regexp.MustCompile(`(?i)error handling|exception|\bpanic\b`)},
	{"containers", regexp.MustCompile(`(?i)docker|kubernetes|container`)},
}

func matchProbes(probes []topicProbe, raw []byte) []string {
	var matched []string
	for _, p := range probes {
		if p.re.Match(raw) {
			matched = append(matched, p.name)
		}
	}
	return matched
}

// sessionDoc mirrors a session file with pointer fields so structural
// validation can tell "absent" from "empty".
type sessionDoc struct {
	SessionID string              `json:"sessionId"`
	Metadata  *Metadata           `json:"metadata"`
	History   []ConversationEntry `json:"history"`
	Context   *Context            `json:"context"`
}

// sessionIDFromPath derives the session id from the file name; session
// files are named by id per the store contract.
func sessionIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// extractMetadata builds an index record for one session file. The raw
// bytes have already been read; info supplies the file size.
func extractMetadata(path string, raw []byte, size int64) (*MetadataCache, error) {
	entry, err := extractViaRegex(path, raw)
	if err != nil {
		entry, err = extractViaParse(path, raw)
		if err != nil {
			return nil, err
		}
	}

	entry.Languages = matchProbes(languageProbes, raw)
	entry.Patterns = matchProbes(patternProbes, raw)
	entry.FileSize = size
	entry.LastCacheUpdate = time.Now()
	entry.CacheVersion = cacheVersion
	entry.FilePath = path
	return entry, nil
}

// extractViaRegex is the fast path: pull the metadata object and the
// conversation markers straight out of the raw text without parsing the
// whole document.
func extractViaRegex(path string, raw []byte) (*MetadataCache, error) {
	m := metadataRe.FindSubmatch(raw)
	if m == nil {
		return nil, fmt.Errorf("no metadata fragment in %s", filepath.Base(path))
	}

	var meta Metadata
	if err := json.Unmarshal(m[1], &meta); err != nil {
		return nil, fmt.Errorf("metadata fragment unparseable: %w", err)
	}

	entry := &MetadataCache{
		SessionID:         sessionIDFromPath(path),
		ProjectName:       meta.ProjectName,
		CreatedDate:       meta.CreatedDate,
		LastAccessed:      meta.LastAccessed,
		Status:            meta.Status,
		Tags:              meta.Tags,
		Description:       meta.Description,
		ConversationCount: len(promptRe.FindAll(raw, -1)),
	}

	if matches := timestampRe.FindAllSubmatch(raw, -1); len(matches) > 0 {
		last := matches[len(matches)-1][1]
		if ts, err := time.Parse(time.RFC3339Nano, string(last)); err == nil {
			entry.LastEntryTimestamp = &ts
		}
	}
	return entry, nil
}

// extractViaParse is the slow path: a full parse with structural
// validation, used when the regex pass cannot produce a usable fragment.
func extractViaParse(path string, raw []byte) (*MetadataCache, error) {
	var doc sessionDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse session file: %w", err)
	}
	if doc.Metadata == nil {
		return nil, fmt.Errorf("session file %s has no metadata object", filepath.Base(path))
	}

	id := doc.SessionID
	if id == "" {
		id = sessionIDFromPath(path)
	}

	entry := &MetadataCache{
		SessionID:         id,
		ProjectName:       doc.Metadata.ProjectName,
		CreatedDate:       doc.Metadata.CreatedDate,
		LastAccessed:      doc.Metadata.LastAccessed,
		Status:            doc.Metadata.Status,
		Tags:              doc.Metadata.Tags,
		Description:       doc.Metadata.Description,
		ConversationCount: len(doc.History),
	}
	if n := len(doc.History); n > 0 {
		ts := doc.History[n-1].Timestamp
		entry.LastEntryTimestamp = &ts
	}
	return entry, nil
}

// extractContext pulls just the context object out of raw text. It
// decodes a single JSON value at the "context" key's offset rather than
// parsing the whole document; on any failure it falls back to a full
// parse.
func extractContext(raw []byte) (*Context, error) {
	if loc := contextRe.FindIndex(raw); loc != nil {
		dec := json.NewDecoder(bytes.NewReader(raw[loc[1]:]))
		var ctx Context
		if err := dec.Decode(&ctx); err == nil {
			normalizeContext(&ctx)
			return &ctx, nil
		}
	}

	var doc sessionDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse session file: %w", err)
	}
	if doc.Context == nil {
		return NewContext(), nil
	}
	normalizeContext(doc.Context)
	return doc.Context, nil
}

func normalizeContext(ctx *Context) {
	if ctx.Variables == nil {
		ctx.Variables = map[string]any{}
	}
	if ctx.Decisions == nil {
		ctx.Decisions = []string{}
	}
	if ctx.TrackedIssues == nil {
		ctx.TrackedIssues = []string{}
	}
}

// readSessionDoc fully parses a session file from disk with structural
// validation.
func readSessionDoc(path string) (*sessionDoc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	var doc sessionDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse session file: %w", err)
	}
	if doc.Metadata == nil {
		return nil, fmt.Errorf("session file %s has no metadata object", filepath.Base(path))
	}
	return &doc, nil
}
