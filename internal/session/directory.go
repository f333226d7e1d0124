package session

import (
	"sort"

	"github.com/G-TechSD/Claudia-Coder-sub001/internal/errors"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/event"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/logging"
)

// Directory is a read-only view over a Store for processes that do not
// hold the write lock, serve mode chiefly. Every call reloads the
// collection, so results always reflect the latest save by whichever
// process owns the lock; reads are plain loads of an atomically
// replaced file and need no coordination.
//
// ClearCompleted is the single mutation. It acquires the process lock
// for just the duration of the write and fails with ErrStoreLocked
// while a writer is active.
type Directory struct {
	store  *Store
	bus    *event.Bus
	logger *logging.Logger
}

// NewDirectory builds a directory over the store. The bus and logger
// feed ClearCompleted's transient manager; both may be nil.
func NewDirectory(store *Store, bus *event.Bus, logger *logging.Logger) (*Directory, error) {
	if store == nil {
		return nil, errors.New("session: store is required")
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Directory{store: store, bus: bus, logger: logger}, nil
}

// GetSession returns the session by id, or (nil, nil) when unknown.
func (d *Directory) GetSession(id string) (*ExecutionSession, error) {
	sessions, err := d.store.Load()
	if err != nil {
		return nil, err
	}
	sess, _ := findSession(sessions, id)
	return sess, nil
}

// ActiveSessionForProject returns the most recently started running
// session for the project, or (nil, nil) when the project is idle.
func (d *Directory) ActiveSessionForProject(projectID string) (*ExecutionSession, error) {
	sessions, err := d.store.Load()
	if err != nil {
		return nil, err
	}
	return activeForProject(sessions, projectID), nil
}

// List returns every session in the collection, most recently started
// first. A positive limit truncates the result.
func (d *Directory) List(limit int) ([]*ExecutionSession, error) {
	sessions, err := d.store.Load()
	if err != nil {
		return nil, err
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// History returns the project's sessions, most recently started first.
// A positive limit truncates the result.
func (d *Directory) History(projectID string, limit int) ([]*ExecutionSession, error) {
	sessions, err := d.store.Load()
	if err != nil {
		return nil, err
	}
	return projectHistory(sessions, projectID, limit), nil
}

// Stats returns session counts by status.
func (d *Directory) Stats() (*Stats, error) {
	sessions, err := d.store.Load()
	if err != nil {
		return nil, err
	}
	return countByStatus(sessions), nil
}

// ClearCompleted removes every terminal session through a short-lived
// manager, holding the process lock only for the write.
func (d *Directory) ClearCompleted() (int, error) {
	mgr, err := NewManager(d.store, d.bus, d.logger)
	if err != nil {
		return 0, err
	}
	defer mgr.Close()
	return mgr.ClearCompleted()
}

// activeForProject picks the most recently started running session for
// the project, or nil.
func activeForProject(sessions []*ExecutionSession, projectID string) *ExecutionSession {
	var best *ExecutionSession
	for _, sess := range sessions {
		if sess.ProjectID != projectID || !sess.Active() {
			continue
		}
		if best == nil || sess.StartedAt.After(best.StartedAt) {
			best = sess
		}
	}
	return best
}

// projectHistory filters the project's sessions, newest first. A
// positive limit truncates the result.
func projectHistory(sessions []*ExecutionSession, projectID string, limit int) []*ExecutionSession {
	var history []*ExecutionSession
	for _, sess := range sessions {
		if sess.ProjectID == projectID {
			history = append(history, sess)
		}
	}
	sort.Slice(history, func(i, j int) bool {
		return history[i].StartedAt.After(history[j].StartedAt)
	})
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	return history
}

// countByStatus tallies the collection by status.
func countByStatus(sessions []*ExecutionSession) *Stats {
	stats := &Stats{Total: len(sessions)}
	for _, sess := range sessions {
		switch sess.Status {
		case StatusRunning:
			stats.Running++
		case StatusComplete:
			stats.Complete++
		case StatusError:
			stats.Error++
		case StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats
}
