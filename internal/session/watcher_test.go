package session

import (
	"testing"
	"time"

	"github.com/G-TechSD/Claudia-Coder-sub001/internal/event"
)

// =============================================================================
// Test Helpers
// =============================================================================

// watcherFixture wires a store, bus, and running watcher over one
// temp directory, with a channel collecting every published event.
type watcherFixture struct {
	store  *Store
	extern *Store // second handle on the same directory, the "other process"
	bus    *event.Bus
	events chan event.Event
}

func newWatcherFixture(t *testing.T, seed []*ExecutionSession) *watcherFixture {
	t.Helper()
	dir := t.TempDir()

	store, err := NewStore(dir, 0, nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if seed != nil {
		if err := store.Save(seed); err != nil {
			t.Fatalf("seeding store: %v", err)
		}
	}

	extern, err := NewStore(dir, 0, nil)
	if err != nil {
		t.Fatalf("NewStore (external) failed: %v", err)
	}

	bus := event.NewBus()
	events := make(chan event.Event, 32)
	bus.SubscribeAll(func(ev event.Event) {
		events <- ev
	})

	watcher, err := NewWatcher(store, bus, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	watcher.Start()
	t.Cleanup(watcher.Stop)

	return &watcherFixture{store: store, extern: extern, bus: bus, events: events}
}

// collectUntil drains events until one of the wanted type arrives or
// the timeout passes, returning everything seen along the way.
func collectUntil(t *testing.T, ch chan event.Event, wantType string, timeout time.Duration) []event.Event {
	t.Helper()
	deadline := time.After(timeout)
	var seen []event.Event
	for {
		select {
		case ev := <-ch:
			seen = append(seen, ev)
			if ev.EventType() == wantType {
				return seen
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q, saw %d events", wantType, len(seen))
			return nil
		}
	}
}

// =============================================================================
// Watcher Tests
// =============================================================================

func TestWatcher_ExternalProgressChange(t *testing.T) {
	now := time.Now()
	seed := makeSession("exec-1", StatusRunning, now)
	fx := newWatcherFixture(t, []*ExecutionSession{seed})

	// Another process moves the session forward.
	updated := makeSession("exec-1", StatusRunning, now)
	updated.Progress = 50
	updated.CurrentPacketIndex = 1
	updated.AppendEvent(NewEvent(EventInfo, "Executing: pkt-2"))
	if err := fx.extern.Save([]*ExecutionSession{updated}); err != nil {
		t.Fatalf("external Save failed: %v", err)
	}

	seen := collectUntil(t, fx.events, "session.changed", 3*time.Second)

	var gotUpdate *event.SessionUpdatedEvent
	for _, ev := range seen {
		if upd, ok := ev.(event.SessionUpdatedEvent); ok {
			gotUpdate = &upd
		}
	}
	if gotUpdate == nil {
		t.Fatal("no session.updated published for the moved session")
	}
	if gotUpdate.SessionID != "exec-1" {
		t.Errorf("SessionID = %q, want exec-1", gotUpdate.SessionID)
	}
	if gotUpdate.Progress != 50 {
		t.Errorf("Progress = %d, want 50", gotUpdate.Progress)
	}
	if gotUpdate.CurrentPacketIndex != 1 {
		t.Errorf("CurrentPacketIndex = %d, want 1", gotUpdate.CurrentPacketIndex)
	}
}

func TestWatcher_ExternalCompletion(t *testing.T) {
	now := time.Now()
	seed := makeSession("exec-1", StatusRunning, now)
	fx := newWatcherFixture(t, []*ExecutionSession{seed})

	finished := makeSession("exec-1", StatusComplete, now)
	finished.Progress = 100
	if err := fx.extern.Save([]*ExecutionSession{finished}); err != nil {
		t.Fatalf("external Save failed: %v", err)
	}

	seen := collectUntil(t, fx.events, "session.changed", 3*time.Second)

	var completed bool
	for _, ev := range seen {
		if done, ok := ev.(event.SessionCompletedEvent); ok {
			completed = true
			if done.SessionID != "exec-1" {
				t.Errorf("SessionID = %q, want exec-1", done.SessionID)
			}
			if done.Status != string(StatusComplete) {
				t.Errorf("Status = %q, want %q", done.Status, StatusComplete)
			}
		}
	}
	if !completed {
		t.Error("no session.completed published for the terminal transition")
	}
}

func TestWatcher_NewSessionAppears(t *testing.T) {
	fx := newWatcherFixture(t, nil)

	sess := makeSession("exec-new", StatusRunning, time.Now())
	if err := fx.extern.Save([]*ExecutionSession{sess}); err != nil {
		t.Fatalf("external Save failed: %v", err)
	}

	seen := collectUntil(t, fx.events, "session.changed", 3*time.Second)

	var found bool
	for _, ev := range seen {
		if upd, ok := ev.(event.SessionUpdatedEvent); ok && upd.SessionID == "exec-new" {
			found = true
		}
	}
	if !found {
		t.Error("no session.updated published for the new session")
	}
}

func TestWatcher_UnchangedCollectionStaysQuiet(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)
	seed := makeSession("exec-1", StatusRunning, now)
	fx := newWatcherFixture(t, []*ExecutionSession{seed})

	// Re-save the identical collection: only lastUpdated moves, so no
	// session fingerprint changes and nothing should be published.
	same := makeSession("exec-1", StatusRunning, now)
	if err := fx.extern.Save([]*ExecutionSession{same}); err != nil {
		t.Fatalf("external Save failed: %v", err)
	}

	select {
	case ev := <-fx.events:
		t.Errorf("unexpected event %q for unchanged collection", ev.EventType())
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcher_ClearedSessionsStillSignalChange(t *testing.T) {
	seed := []*ExecutionSession{
		makeSession("exec-1", StatusComplete, time.Now()),
		makeSession("exec-2", StatusComplete, time.Now()),
	}
	fx := newWatcherFixture(t, seed)

	// The collection shrinks (cleared), with no per-session update to
	// publish; the coarse change signal must still fire.
	if err := fx.extern.Save(nil); err != nil {
		t.Fatalf("external Save failed: %v", err)
	}

	seen := collectUntil(t, fx.events, "session.changed", 3*time.Second)
	for _, ev := range seen {
		if _, ok := ev.(event.SessionUpdatedEvent); ok {
			t.Errorf("unexpected session.updated %v for a removed session", ev)
		}
	}
}
