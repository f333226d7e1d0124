package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/G-TechSD/Claudia-Coder-sub001/internal/errors"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/logging"
)

const (
	// SessionsFileName is the primary session document within the data directory.
	SessionsFileName = "sessions.json"
	// BackupFileName holds the previous version of the primary document.
	BackupFileName = "sessions.backup.json"
	// DefaultMaxSessions is the retention quota applied when the
	// configuration does not set one.
	DefaultMaxSessions = 100
)

// document is the on-disk shape of the session collection.
type document struct {
	Sessions    []*ExecutionSession `json:"sessions"`
	LastUpdated time.Time           `json:"lastUpdated"`
}

// Store persists the full session collection as a single JSON document.
// Every write replaces the whole document atomically; there are no
// partial on-disk updates. The Store itself is not safe for concurrent
// use - the Manager serializes access behind its mutex and the process
// lock extends that discipline across processes.
type Store struct {
	dir         string
	maxSessions int
	logger      *logging.Logger
}

// NewStore creates a store rooted at dataDir, creating the directory if
// needed. maxSessions <= 0 selects DefaultMaxSessions. The logger may
// be nil.
func NewStore(dataDir string, maxSessions int, logger *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, errors.NewPersistenceError("mkdir", dataDir, err)
	}
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Store{
		dir:         dataDir,
		maxSessions: maxSessions,
		logger:      logger.WithComponent("store"),
	}, nil
}

// Dir returns the data directory the store operates in.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the location of the primary session document.
func (s *Store) Path() string {
	return filepath.Join(s.dir, SessionsFileName)
}

// BackupPath returns the location of the backup document.
func (s *Store) BackupPath() string {
	return filepath.Join(s.dir, BackupFileName)
}

// Load reads the session collection from disk. A missing file is an
// empty collection, not an error. A corrupt file degrades to an empty
// collection with a logged warning so a damaged document never wedges
// the engine; the backup stays on disk for manual recovery. Only
// unexpected I/O failures surface as errors.
func (s *Store) Load() ([]*ExecutionSession, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewPersistenceError("load", s.Path(), err)
	}

	doc, err := parseDocument(data)
	if err != nil {
		s.logger.Warn("sessions file corrupted, starting with empty collection",
			"path", s.Path(),
			"error", err.Error(),
		)
		return nil, nil
	}

	return doc.Sessions, nil
}

// Save persists the session collection. The write path is defensive:
// the current primary is copied to the backup first (best effort), the
// new document is written to a temp file in the same directory, read
// back and validated, and only then renamed over the primary. A failure
// at any step leaves the primary untouched.
//
// Retention is applied here: the collection is trimmed to the quota
// before it hits the disk, so every persisted document already honors
// the limit.
func (s *Store) Save(sessions []*ExecutionSession) error {
	s.backupPrimary()

	trimmed := trimSessions(sessions, s.maxSessions)
	if dropped := len(sessions) - len(trimmed); dropped > 0 {
		s.logger.Debug("retention trimmed sessions", "dropped", dropped, "kept", len(trimmed))
	}
	if trimmed == nil {
		trimmed = []*ExecutionSession{}
	}

	doc := document{
		Sessions:    trimmed,
		LastUpdated: time.Now(),
	}
	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return errors.NewPersistenceError("save", s.Path(), err)
	}

	if err := s.writeVerified(s.Path(), data); err != nil {
		return errors.NewPersistenceError("save", s.Path(), err)
	}
	return nil
}

// backupPrimary copies the current primary document to the backup path.
// Failures are logged and swallowed: a missing backup must never block
// a save.
func (s *Store) backupPrimary() {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read primary for backup", "path", s.Path(), "error", err.Error())
		}
		return
	}
	if err := os.WriteFile(s.BackupPath(), data, 0644); err != nil {
		s.logger.Warn("failed to write backup file", "path", s.BackupPath(), "error", err.Error())
	}
}

// writeVerified writes data to a temp file in the target directory,
// proves the bytes on disk decode as a valid document, then atomically
// renames it over path. A torn or partial write must never replace a
// good primary.
func (s *Store) writeVerified(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".tmp-sessions-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on any error path
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("failed to set temp file permissions: %w", err)
	}

	written, err := os.ReadFile(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to read back temp file: %w", err)
	}
	if _, err := parseDocument(written); err != nil {
		return fmt.Errorf("temp file failed validation: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// parseDocument decodes and structurally validates a session document.
// Validation is deliberately shallow: the document must decode and
// every session needs a non-empty id and a known status. Deeper
// invariants belong to the Manager, which is the only writer.
func parseDocument(data []byte) (*document, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrSessionCorrupted, err)
	}
	for i, sess := range doc.Sessions {
		if sess == nil {
			return nil, fmt.Errorf("%w: null session at index %d", errors.ErrSessionCorrupted, i)
		}
		if sess.ID == "" {
			return nil, fmt.Errorf("%w: session at index %d has empty id", errors.ErrSessionCorrupted, i)
		}
		if !sess.Status.Valid() {
			return nil, fmt.Errorf("%w: session %s has unknown status %q", errors.ErrSessionCorrupted, sess.ID, sess.Status)
		}
	}
	return &doc, nil
}

// trimSessions applies the retention quota. All running sessions are
// kept unconditionally, even when they alone exceed the quota; the
// remaining slots go to the most recently started non-running sessions.
// Relative order of the survivors matches the input.
func trimSessions(sessions []*ExecutionSession, maxSessions int) []*ExecutionSession {
	if len(sessions) <= maxSessions {
		return sessions
	}

	finished := make([]*ExecutionSession, 0, len(sessions))
	running := 0
	for _, sess := range sessions {
		if sess.Status == StatusRunning {
			running++
			continue
		}
		finished = append(finished, sess)
	}

	slots := maxSessions - running
	if slots < 0 {
		slots = 0
	}

	sort.Slice(finished, func(i, j int) bool {
		return finished[i].StartedAt.After(finished[j].StartedAt)
	})
	keep := make(map[string]struct{}, slots)
	for i := 0; i < slots && i < len(finished); i++ {
		keep[finished[i].ID] = struct{}{}
	}

	out := make([]*ExecutionSession, 0, running+len(keep))
	for _, sess := range sessions {
		if sess.Status == StatusRunning {
			out = append(out, sess)
			continue
		}
		if _, ok := keep[sess.ID]; ok {
			out = append(out, sess)
		}
	}
	return out
}
