// Package event provides a pub-sub event bus for decoupled inter-component
// communication in Claudia.
//
// This package enables loose coupling between the session lifecycle manager,
// the packet coordinator, and the API layer by allowing them to communicate
// through events rather than direct method calls. Components can publish
// events without knowing who will receive them, and subscribe to events
// without knowing who will produce them.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// The package defines several categories of events:
//
// Session Lifecycle:
//   - [SessionCreatedEvent]: Emitted when a new execution session is created
//   - [SessionEventAddedEvent]: Emitted when an entry lands in a session's event ledger
//   - [SessionUpdatedEvent]: Emitted when progress or status changes
//   - [SessionCompletedEvent]: Emitted when a session reaches a terminal status
//   - [SessionsChangedEvent]: Emitted when the sessions file changes on disk
//   - [StaleSessionsCleanedEvent]: Emitted after startup stale cleanup
//
// Run Ledger:
//   - [RunStartedEvent]: Emitted when a packet run begins
//   - [RunCompletedEvent]: Emitted when a packet run finishes
//
// Control:
//   - [StopRequestedEvent]: Emitted when a caller asks to stop a packet
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Multiple goroutines can publish
// and subscribe concurrently. Handlers are called synchronously and protected
// against panics - a panicking handler will not prevent other handlers from
// being called.
//
// # Basic Usage
//
//	bus := event.NewBus()
//
//	// Subscribe to specific event types
//	bus.Subscribe("session.completed", func(e event.Event) {
//	    done := e.(event.SessionCompletedEvent)
//	    log.Printf("Session %s finished with status %s", done.SessionID, done.Status)
//	})
//
//	// Subscribe to all events (useful for logging)
//	bus.SubscribeAll(func(e event.Event) {
//	    log.Printf("Event: %s at %v", e.EventType(), e.Timestamp())
//	})
//
//	// Publish events
//	bus.Publish(event.NewSessionCreatedEvent("exec-1", "proj-1", "user-1", 3))
//
//	// Unsubscribe when done
//	id := bus.Subscribe("run.completed", handler)
//	bus.Unsubscribe(id)
//
// # Event Type Naming Convention
//
// Event types follow the pattern "category.action":
//   - session.created, session.event, session.updated, session.completed
//   - session.changed, session.stale_cleaned
//   - run.started, run.completed
//   - packet.stop_requested
package event
