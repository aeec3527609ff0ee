package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/joss/prompter/internal/logging"
)

// Store writes session files: one JSON document per session, named by
// id. It is the producing side of the contract the cache subsystem
// consumes; neither side assumes exclusive access to the files.
type Store struct {
	dir string
	log *logging.Logger
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Store{dir: dir, log: logging.New("store")}, nil
}

// Dir returns the session directory.
func (s *Store) Dir() string { return s.dir }

// SessionPath returns the file path for a session id.
func (s *Store) SessionPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Create starts a new session for a project and persists it.
func (s *Store) Create(projectName, description string, tags []string) (*Session, error) {
	now := time.Now()
	sess := &Session{
		SessionID: uuid.NewString(),
		Metadata: Metadata{
			ProjectName:  projectName,
			CreatedDate:  now,
			LastAccessed: now,
			Status:       StatusActive,
			Description:  description,
			Tags:         tags,
		},
		History: []ConversationEntry{},
		Context: NewContext(),
	}

	if err := s.write(sess); err != nil {
		return nil, err
	}
	s.log.Info("session_created", map[string]interface{}{
		"session": sess.SessionID,
		"project": projectName,
	})
	return sess, nil
}

// Load reads a full session document.
func (s *Store) Load(id string) (*Session, error) {
	doc, err := readSessionDoc(s.SessionPath(id))
	if err != nil {
		return nil, err
	}
	sess := &Session{
		SessionID: doc.SessionID,
		Metadata:  *doc.Metadata,
		History:   doc.History,
		Context:   doc.Context,
	}
	if sess.SessionID == "" {
		sess.SessionID = id
	}
	if sess.History == nil {
		sess.History = []ConversationEntry{}
	}
	if sess.Context == nil {
		sess.Context = NewContext()
	}
	return sess, nil
}

// AppendEntry adds one exchange to a session's history. History is
// append-only; entries are never reordered or rewritten.
func (s *Store) AppendEntry(id string, entry ConversationEntry) (*Session, error) {
	sess, err := s.Load(id)
	if err != nil {
		return nil, err
	}

	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.Source == "" {
		entry.Source = SourceUser
	}

	sess.History = append(sess.History, entry)
	sess.Metadata.LastAccessed = time.Now()

	if err := s.write(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// UpdateContext replaces a session's context state.
func (s *Store) UpdateContext(id string, ctx *Context) error {
	sess, err := s.Load(id)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = NewContext()
	}
	normalizeContext(ctx)
	sess.Context = ctx
	sess.Metadata.LastAccessed = time.Now()
	return s.write(sess)
}

// SetStatus transitions a session's lifecycle state.
func (s *Store) SetStatus(id string, status Status) error {
	switch status {
	case StatusActive, StatusCompleted, StatusArchived:
	default:
		return fmt.Errorf("unknown session status %q", status)
	}

	sess, err := s.Load(id)
	if err != nil {
		return err
	}
	sess.Metadata.Status = status
	sess.Metadata.LastAccessed = time.Now()
	return s.write(sess)
}

// Touch bumps a session's lastAccessed timestamp.
func (s *Store) Touch(id string) error {
	sess, err := s.Load(id)
	if err != nil {
		return err
	}
	sess.Metadata.LastAccessed = time.Now()
	return s.write(sess)
}

// write persists a session atomically via temp-file + rename so readers
// never observe a torn document.
func (s *Store) write(sess *Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return atomicWrite(s.SessionPath(sess.SessionID), data)
}

// atomicWrite writes to a temp file in the target directory and renames
// it into place.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
