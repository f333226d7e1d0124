package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/G-TechSD/Claudia-Coder-sub001/internal/errors"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/event"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/logging"
)

// DefaultStaleAge is the running-session age beyond which startup
// cleanup declares a session dead.
const DefaultStaleAge = time.Hour

// Stats summarizes the session collection by status.
type Stats struct {
	Total     int `json:"total"`
	Running   int `json:"running"`
	Complete  int `json:"complete"`
	Error     int `json:"error"`
	Cancelled int `json:"cancelled"`
}

// Manager is the single writer for the session collection. Every
// operation is a read-modify-write over the full document, serialized
// by the mutex; the process lock taken at construction extends the
// single-writer guarantee across processes.
//
// Lookups for unknown session ids return (nil, nil) rather than an
// error: a session may legitimately vanish between calls when
// retention trims it, and callers treat "gone" as an answer, not a
// failure.
type Manager struct {
	mu     sync.Mutex
	store  *Store
	lock   *Lock
	bus    *event.Bus
	logger *logging.Logger
}

// NewManager builds a manager over the store and acquires the process
// lock for the store's data directory. The bus and logger are optional.
// A second process pointed at the same directory gets ErrStoreLocked.
func NewManager(store *Store, bus *event.Bus, logger *logging.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session: store is required")
	}
	if logger == nil {
		logger = logging.NopLogger()
	}

	lock, err := AcquireLock(store.Dir(), logger)
	if err != nil {
		return nil, err
	}

	return &Manager{
		store:  store,
		lock:   lock,
		bus:    bus,
		logger: logger.WithComponent("manager"),
	}, nil
}

// Close releases the process lock. The manager must not be used after
// Close.
func (m *Manager) Close() error {
	return m.lock.Release()
}

// Store exposes the underlying store, mainly so callers can resolve
// file paths (watcher, diagnostics).
func (m *Manager) Store() *Store {
	return m.store
}

// CreateSession starts tracking a new execution. The packet list must
// be non-empty and free of blank ids. The fresh session is running at
// progress 0 with a seeded info event, already persisted when this
// returns. Publishes session.created.
//
// At-most-one-active-per-project is enforced by callers via
// ActiveSessionForProject before creating; the store itself does not
// reject concurrent sessions, so a deliberate second session (say, a
// manual retry after a wedged one) remains possible.
func (m *Manager) CreateSession(projectID string, packetIDs []string, userID string, opts CreateOptions) (*ExecutionSession, error) {
	if projectID == "" {
		return nil, errors.NewValidationError("project id is required").WithField("projectId")
	}
	if len(packetIDs) == 0 {
		return nil, errors.NewValidationError("at least one packet id is required").WithField("packetIds")
	}
	for i, id := range packetIDs {
		if id == "" {
			return nil, errors.NewValidationError(fmt.Sprintf("packet id at index %d is empty", i)).WithField("packetIds")
		}
	}

	sess := &ExecutionSession{
		ID:                 NewSessionID(),
		ProjectID:          projectID,
		UserID:             userID,
		PacketIDs:          append([]string(nil), packetIDs...),
		PacketTitles:       opts.PacketTitles,
		Status:             StatusRunning,
		Progress:           0,
		CurrentPacketIndex: 0,
		StartedAt:          time.Now(),
	}
	sess.AppendEvent(NewEvent(EventInfo, fmt.Sprintf("Starting execution of %d packet(s)", len(packetIDs))))

	// The bus is synchronous, so events are always published after the
	// mutex is released; a subscriber may call back into the manager.
	err := func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		sessions, err := m.store.Load()
		if err != nil {
			return err
		}
		sessions = append(sessions, sess)
		return m.store.Save(sessions)
	}()
	if err != nil {
		return nil, err
	}

	m.logger.Info("session created",
		"session_id", sess.ID,
		"project_id", projectID,
		"packets", len(packetIDs),
	)
	m.publish(event.NewSessionCreatedEvent(sess.ID, projectID, userID, len(packetIDs)))

	return sess, nil
}

// GetSession returns the session with the given id, or (nil, nil) when
// no such session exists.
func (m *Manager) GetSession(id string) (*ExecutionSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	sess, _ := findSession(sessions, id)
	return sess, nil
}

// ActiveSessionForProject returns the most recently started running
// session for the project, or (nil, nil) when the project is idle. The
// record carries the full event log so a reconnecting observer can
// replay history instead of starting blank.
func (m *Manager) ActiveSessionForProject(projectID string) (*ExecutionSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	return activeForProject(sessions, projectID), nil
}

// ActiveSessionsForUser returns every running session owned by the
// user, most recently started first.
func (m *Manager) ActiveSessionsForUser(userID string) ([]*ExecutionSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, err := m.store.Load()
	if err != nil {
		return nil, err
	}

	var active []*ExecutionSession
	for _, sess := range sessions {
		if sess.UserID == userID && sess.Active() {
			active = append(active, sess)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].StartedAt.After(active[j].StartedAt)
	})
	return active, nil
}

// History returns the project's sessions, most recently started first.
// A positive limit truncates the result; limit <= 0 returns everything
// retention has kept.
func (m *Manager) History(projectID string, limit int) ([]*ExecutionSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	return projectHistory(sessions, projectID, limit), nil
}

// UpdateSession merges the set fields of upd into the session and
// persists. Unknown id -> (nil, nil). A terminal session is returned
// unchanged: finalized records are immutable. Setting a terminal
// status through Update also stamps completedAt so the
// running-iff-incomplete invariant holds. Publishes session.updated.
func (m *Manager) UpdateSession(id string, upd Update) (*ExecutionSession, error) {
	if upd.Status != nil && !upd.Status.Valid() {
		return nil, errors.NewValidationError(fmt.Sprintf("unknown status %q", *upd.Status)).WithField("status")
	}
	if upd.Progress != nil && (*upd.Progress < 0 || *upd.Progress > 100) {
		return nil, errors.NewValidationError("progress must be between 0 and 100").WithField("progress").WithValue(*upd.Progress)
	}
	if upd.CurrentPacketIndex != nil && *upd.CurrentPacketIndex < 0 {
		return nil, errors.NewValidationError("packet index must not be negative").WithField("currentPacketIndex").WithValue(*upd.CurrentPacketIndex)
	}

	var (
		sess    *ExecutionSession
		updated bool
	)
	err := func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		sessions, err := m.store.Load()
		if err != nil {
			return err
		}
		sess, _ = findSession(sessions, id)
		if sess == nil {
			return nil
		}
		if sess.Terminal() {
			m.logger.Debug("update ignored for finalized session", "session_id", id)
			return nil
		}

		if upd.Status != nil {
			sess.Status = *upd.Status
			if sess.Status.Terminal() && sess.CompletedAt == nil {
				now := time.Now()
				sess.CompletedAt = &now
			}
		}
		if upd.Progress != nil {
			sess.Progress = *upd.Progress
		}
		if upd.CurrentPacketIndex != nil {
			sess.CurrentPacketIndex = *upd.CurrentPacketIndex
		}
		if upd.Error != nil {
			sess.Error = *upd.Error
		}
		if upd.QualityGates != nil {
			sess.QualityGates = upd.QualityGates
		}
		if upd.Output != nil {
			sess.Output = *upd.Output
		}

		if err := m.store.Save(sessions); err != nil {
			return err
		}
		updated = true
		return nil
	}()
	if err != nil {
		return nil, err
	}
	if updated {
		m.publish(event.NewSessionUpdatedEvent(sess.ID, string(sess.Status), sess.Progress, sess.CurrentPacketIndex))
	}
	return sess, nil
}

// AddEvent appends ev to the session's log, assigning an id and
// timestamp when absent, and enforces the event cap. Unknown id ->
// (nil, nil); a terminal session is returned unchanged. Publishes
// session.event.
func (m *Manager) AddEvent(id string, ev ExecutionEvent) (*ExecutionSession, error) {
	if ev.Type == "" {
		ev.Type = EventInfo
	}
	if !ev.Type.Valid() {
		return nil, errors.NewValidationError(fmt.Sprintf("unknown event type %q", ev.Type)).WithField("type")
	}
	if ev.ID == "" {
		ev.ID = NewEvent(ev.Type, ev.Message).ID
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	var (
		sess     *ExecutionSession
		appended bool
	)
	err := func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		sessions, err := m.store.Load()
		if err != nil {
			return err
		}
		sess, _ = findSession(sessions, id)
		if sess == nil {
			return nil
		}
		if sess.Terminal() {
			m.logger.Debug("event ignored for finalized session", "session_id", id, "type", string(ev.Type))
			return nil
		}

		sess.AppendEvent(ev)
		if err := m.store.Save(sessions); err != nil {
			return err
		}
		appended = true
		return nil
	}()
	if err != nil {
		return nil, err
	}
	if appended {
		m.publish(event.NewSessionEventAddedEvent(sess.ID, ev.ID, string(ev.Type), ev.Message))
	}
	return sess, nil
}

// CompleteSession finalizes a running session with the given terminal
// result: exactly one terminal event is appended, completedAt is
// stamped, and progress is forced to 100 only on a clean completion.
// Idempotent - a session that is already terminal is returned
// unchanged, with no second terminal event. Unknown id -> (nil, nil).
// Publishes session.completed.
func (m *Manager) CompleteSession(id string, result ExecutionResult) (*ExecutionSession, error) {
	if !result.Status.Terminal() {
		return nil, errors.NewValidationError(fmt.Sprintf("completion status must be terminal, got %q", result.Status)).WithField("status")
	}

	var (
		sess      *ExecutionSession
		finalized bool
	)
	err := func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		sessions, err := m.store.Load()
		if err != nil {
			return err
		}
		sess, _ = findSession(sessions, id)
		if sess == nil {
			return nil
		}
		if sess.Terminal() {
			return nil
		}

		sess.AppendEvent(terminalEvent(result))

		now := time.Now()
		sess.Status = result.Status
		sess.CompletedAt = &now
		sess.Error = result.Error
		sess.QualityGates = result.QualityGates
		sess.Output = result.Output
		if result.Status == StatusComplete {
			sess.Progress = 100
		}

		if err := m.store.Save(sessions); err != nil {
			return err
		}
		finalized = true
		return nil
	}()
	if err != nil {
		return nil, err
	}
	if finalized {
		m.logger.Info("session completed",
			"session_id", sess.ID,
			"status", string(sess.Status),
			"progress", sess.Progress,
		)
		m.publish(event.NewSessionCompletedEvent(sess.ID, string(sess.Status), sess.Error))
	}
	return sess, nil
}

// terminalEvent maps a terminal result to the single finalization event.
func terminalEvent(result ExecutionResult) ExecutionEvent {
	switch result.Status {
	case StatusComplete:
		return NewEvent(EventSuccess, "Execution completed successfully")
	case StatusCancelled:
		return NewEvent(EventWarning, "Execution cancelled")
	default:
		msg := "Execution failed"
		if result.Error != "" {
			msg = "Execution failed: " + result.Error
		}
		return NewEvent(EventError, msg)
	}
}

// CleanupStaleSessions force-finalizes running sessions older than
// maxAge as errors. It runs at process startup, before any new work:
// with cooperative cancellation only, a session left running by a dead
// process would otherwise block its project forever. maxAge <= 0
// selects DefaultStaleAge. Returns the number of sessions finalized.
func (m *Manager) CleanupStaleSessions(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = DefaultStaleAge
	}

	var pending []event.Event
	err := func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		sessions, err := m.store.Load()
		if err != nil {
			return err
		}

		now := time.Now()
		for _, sess := range sessions {
			if !sess.Active() || now.Sub(sess.StartedAt) <= maxAge {
				continue
			}

			msg := fmt.Sprintf("stale session (started %s)", sess.StartedAt.Format(time.RFC3339))
			sess.AppendEvent(NewEvent(EventError, "Session marked as failed: "+msg))
			sess.Status = StatusError
			completed := now
			sess.CompletedAt = &completed
			sess.Error = msg

			m.logger.Warn("stale session finalized",
				"session_id", sess.ID,
				"project_id", sess.ProjectID,
				"started_at", sess.StartedAt.Format(time.RFC3339),
			)
			pending = append(pending, event.NewSessionCompletedEvent(sess.ID, string(StatusError), msg))
		}

		if len(pending) == 0 {
			return nil
		}
		return m.store.Save(sessions)
	}()
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	for _, ev := range pending {
		m.publish(ev)
	}
	m.publish(event.NewStaleSessionsCleanedEvent(len(pending), maxAge.String()))
	return len(pending), nil
}

// Stats returns session counts by status.
func (m *Manager) Stats() (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	return countByStatus(sessions), nil
}

// ClearCompleted removes every terminal session, whatever its terminal
// status, and returns how many were dropped. Running sessions are
// untouched.
func (m *Manager) ClearCompleted() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, err := m.store.Load()
	if err != nil {
		return 0, err
	}

	kept := sessions[:0]
	removed := 0
	for _, sess := range sessions {
		if sess.Terminal() {
			removed++
			continue
		}
		kept = append(kept, sess)
	}
	if removed == 0 {
		return 0, nil
	}

	if err := m.store.Save(kept); err != nil {
		return 0, err
	}
	m.logger.Info("cleared completed sessions", "removed", removed)
	return removed, nil
}

// publish sends ev on the bus when one is wired.
func (m *Manager) publish(ev event.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}

// findSession locates a session by id, returning the record and its
// index, or (nil, -1).
func findSession(sessions []*ExecutionSession, id string) (*ExecutionSession, int) {
	for i, sess := range sessions {
		if sess.ID == id {
			return sess, i
		}
	}
	return nil, -1
}
