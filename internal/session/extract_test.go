package session

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/prompter/internal/logging"
)

func TestMain(m *testing.M) {
	logging.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// fixtureSession builds a session with n history entries, timestamps one
// minute apart.
func fixtureSession(id, project string, n int) *Session {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	history := make([]ConversationEntry, 0, n)
	for i := 0; i < n; i++ {
		history = append(history, ConversationEntry{
			ID:        ulidLike(i),
			Prompt:    "how do I structure a python package",
			Response:  "use a src layout with explicit exports",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Source:    SourceUser,
		})
	}
	return &Session{
		SessionID: id,
		Metadata: Metadata{
			ProjectName:  project,
			CreatedDate:  base,
			LastAccessed: base.Add(time.Duration(n) * time.Minute),
			Status:       StatusActive,
			Description:  "api design notes",
			Tags:         []string{"backend"},
		},
		History: history,
		Context: NewContext(),
	}
}

func ulidLike(i int) string {
	return string(rune('A'+i%26)) + "0000000000000000000000000"
}

func writeSessionFile(t *testing.T, dir string, sess *Session) string {
	t.Helper()
	data, err := json.MarshalIndent(sess, "", "  ")
	require.NoError(t, err)
	path := filepath.Join(dir, sess.SessionID+".json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestExtractRegexMatchesFullParse(t *testing.T) {
	dir := t.TempDir()
	sess := fixtureSession("sess-1", "billing-service", 3)
	path := writeSessionFile(t, dir, sess)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	fast, err := extractViaRegex(path, raw)
	require.NoError(t, err)
	slow, err := extractViaParse(path, raw)
	require.NoError(t, err)

	assert.Equal(t, slow.SessionID, fast.SessionID)
	assert.Equal(t, slow.ProjectName, fast.ProjectName)
	assert.Equal(t, slow.Status, fast.Status)
	assert.Equal(t, slow.Description, fast.Description)
	assert.Equal(t, slow.Tags, fast.Tags)
	assert.Equal(t, slow.ConversationCount, fast.ConversationCount)
	assert.True(t, slow.CreatedDate.Equal(fast.CreatedDate))
	require.NotNil(t, fast.LastEntryTimestamp)
	require.NotNil(t, slow.LastEntryTimestamp)
	assert.True(t, slow.LastEntryTimestamp.Equal(*fast.LastEntryTimestamp))
}

func TestExtractMetadataFields(t *testing.T) {
	dir := t.TempDir()
	sess := fixtureSession("sess-2", "billing-service", 2)
	path := writeSessionFile(t, dir, sess)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	entry, err := extractMetadata(path, raw, int64(len(raw)))
	require.NoError(t, err)

	assert.Equal(t, "sess-2", entry.SessionID)
	assert.Equal(t, 2, entry.ConversationCount)
	assert.Equal(t, int64(len(raw)), entry.FileSize)
	assert.Equal(t, cacheVersion, entry.CacheVersion)
	assert.Equal(t, path, entry.FilePath)
	assert.WithinDuration(t, time.Now(), entry.LastCacheUpdate, 5*time.Second)
	// probes fire off the prompt/response text
	assert.Contains(t, entry.Languages, "python")
	assert.Contains(t, entry.Patterns, "api")
}

func TestExtractFallsBackWhenRegexMisses(t *testing.T) {
	// Nested braces in the metadata object defeat the regex fast path;
	// the full parse must still succeed.
	raw := []byte(`{
	  "sessionId": "sess-3",
	  "metadata": {"projectName": "x", "createdDate": "2026-08-01T10:00:00Z", "lastAccessed": "2026-08-01T10:05:00Z", "status": "active", "extra": {"nested": true}},
	  "history": []
	}`)

	_, err := extractViaRegex("sess-3.json", raw)
	require.Error(t, err)

	entry, err := extractMetadata("sess-3.json", raw, int64(len(raw)))
	require.NoError(t, err)
	assert.Equal(t, "sess-3", entry.SessionID)
	assert.Equal(t, "x", entry.ProjectName)
	assert.Equal(t, 0, entry.ConversationCount)
}

func TestExtractRejectsMalformed(t *testing.T) {
	_, err := extractMetadata("bad.json", []byte("{not json at all"), 16)
	require.Error(t, err)

	_, err = extractMetadata("nometa.json", []byte(`{"sessionId": "a", "history": []}`), 33)
	require.Error(t, err)
}

func TestExtractContext(t *testing.T) {
	dir := t.TempDir()
	sess := fixtureSession("sess-4", "p", 1)
	sess.Context = &Context{
		Variables:     map[string]any{"branch": "main"},
		Decisions:     []string{"use postgres"},
		TrackedIssues: []string{},
	}
	path := writeSessionFile(t, dir, sess)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	got, err := extractContext(raw)
	require.NoError(t, err)
	assert.Equal(t, "main", got.Variables["branch"])
	assert.Equal(t, []string{"use postgres"}, got.Decisions)
	assert.NotNil(t, got.TrackedIssues)
}

func TestExtractContextMissingYieldsEmpty(t *testing.T) {
	raw := []byte(`{"sessionId": "a", "metadata": {"projectName": "p"}, "history": []}`)
	got, err := extractContext(raw)
	require.NoError(t, err)
	assert.Empty(t, got.Variables)
	assert.Empty(t, got.Decisions)
	assert.Empty(t, got.TrackedIssues)
}
