// Package session tracks execution sessions: long-running batch jobs
// that drive an ordered list of work packets against a project.
//
// The package has three layers. The [Store] persists the whole session
// collection as a single JSON document with a backup copy, verified
// atomic writes, and a retention quota. The [Manager] is the only
// writer: every lifecycle operation (create, update, append event,
// complete, stale cleanup) is a read-modify-write over the full
// collection behind a mutex, with a PID-liveness process lock
// ([AcquireLock]) extending the single-writer rule across processes.
// Read-only observers use the [Directory], which answers the same
// queries without taking the lock, and the [Watcher], which relays
// external file changes onto the event bus.
//
// # Session Lifecycle
//
// A session starts running and ends in exactly one of three terminal
// states: complete, error, or cancelled. Finalization appends exactly
// one terminal event and stamps completedAt; a terminal record is
// immutable afterwards, apart from being trimmed away by retention.
//
//	mgr, err := session.NewManager(store, bus, logger)
//	defer mgr.Close()
//
//	sess, err := mgr.CreateSession("proj-1", []string{"pkt-a", "pkt-b"}, "user-1", session.CreateOptions{})
//	_, err = mgr.AddEvent(sess.ID, session.NewEvent(session.EventInfo, "Executing: pkt-a"))
//	_, err = mgr.CompleteSession(sess.ID, session.ExecutionResult{Status: session.StatusComplete})
//
// # Crash Safety
//
// A missing sessions file is an empty collection; a corrupt one
// degrades to empty with a logged warning while the backup keeps the
// previous version. Sessions left running by a dead process are
// finalized as errors by [Manager.CleanupStaleSessions], which runs at
// process startup.
package session
