package session

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/G-TechSD/Claudia-Coder-sub001/internal/event"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/logging"
)

// Watcher observes the sessions file for changes made by other
// processes and relays them onto the bus, so a serve-mode observer
// sees progress written by a CLI run without polling. It publishes
// session.updated (and session.completed on terminal transitions) for
// each session whose status, progress, packet index, or event count
// moved, plus one session.changed per reload.
//
// The watcher also fires on this process's own saves; consumers
// already handle that because they re-read the session and dedupe by
// event id.
type Watcher struct {
	watcher *fsnotify.Watcher
	store   *Store
	bus     *event.Bus
	logger  *logging.Logger

	// Last observed shape of the collection, keyed by session id.
	seen map[string]fingerprint

	mu     sync.Mutex
	stopCh chan struct{}
}

// fingerprint is the part of a session the watcher diffs on.
type fingerprint struct {
	status     Status
	progress   int
	index      int
	eventCount int
}

func fingerprintOf(sess *ExecutionSession) fingerprint {
	return fingerprint{
		status:     sess.Status,
		progress:   sess.Progress,
		index:      sess.CurrentPacketIndex,
		eventCount: len(sess.Events),
	}
}

// NewWatcher builds a watcher over the store's data directory. The
// directory (not the file) is watched because every save replaces the
// file inode via rename; a watch on the file itself would go dead
// after the first write. The current collection seeds the snapshot so
// pre-existing sessions do not replay as changes.
func NewWatcher(store *Store, bus *event.Bus, logger *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(store.Dir()); err != nil {
		fsw.Close()
		return nil, err
	}
	if logger == nil {
		logger = logging.NopLogger()
	}

	w := &Watcher{
		watcher: fsw,
		store:   store,
		bus:     bus,
		logger:  logger.WithComponent("watcher"),
		seen:    make(map[string]fingerprint),
		stopCh:  make(chan struct{}),
	}

	if sessions, err := store.Load(); err == nil {
		for _, sess := range sessions {
			w.seen[sess.ID] = fingerprintOf(sess)
		}
	}

	return w, nil
}

// Start begins watching for file changes.
func (w *Watcher) Start() {
	go w.watchLoop()
}

// Stop stops the watcher and releases the underlying notify handle.
func (w *Watcher) Stop() {
	close(w.stopCh)
	_ = w.watcher.Close()
}

// watchLoop processes filesystem events. Saves produce several events
// in quick succession (temp file, chmod, rename), so events are
// debounced and the reload runs once per burst.
func (w *Watcher) watchLoop() {
	debounce := time.NewTimer(0)
	<-debounce.C // drain initial timer

	pending := false

	for {
		select {
		case <-w.stopCh:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// Only care about write/create operations
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Base(ev.Name) != SessionsFileName {
				continue
			}

			pending = true
			debounce.Reset(50 * time.Millisecond)

		case <-debounce.C:
			if !pending {
				continue
			}
			pending = false
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err.Error())
		}
	}
}

// reload re-reads the collection, diffs it against the snapshot, and
// publishes bus events for what moved.
func (w *Watcher) reload() {
	sessions, err := w.store.Load()
	if err != nil {
		w.logger.Warn("failed to reload sessions after change", "error", err.Error())
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	changed := false
	next := make(map[string]fingerprint, len(sessions))
	for _, sess := range sessions {
		fp := fingerprintOf(sess)
		next[sess.ID] = fp

		old, known := w.seen[sess.ID]
		if known && old == fp {
			continue
		}
		changed = true

		w.publish(event.NewSessionUpdatedEvent(sess.ID, string(sess.Status), sess.Progress, sess.CurrentPacketIndex))
		if sess.Terminal() && (!known || !old.status.Terminal()) {
			w.publish(event.NewSessionCompletedEvent(sess.ID, string(sess.Status), sess.Error))
		}
	}

	// Sessions trimmed or cleared since the last look also count as a
	// change, even though there is nobody to publish an update for.
	if len(next) != len(w.seen) {
		changed = true
	}
	w.seen = next

	if changed {
		w.publish(event.NewSessionsChangedEvent(w.store.Path()))
	}
}

func (w *Watcher) publish(ev event.Event) {
	if w.bus != nil {
		w.bus.Publish(ev)
	}
}
