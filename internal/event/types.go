package event

import "time"

// Event is the interface that all events must implement.
// It provides a common way to identify and timestamp events.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "session.created", "run.completed")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Session Lifecycle Events
// -----------------------------------------------------------------------------

// SessionCreatedEvent is emitted when a new execution session is created.
type SessionCreatedEvent struct {
	baseEvent
	SessionID   string // Unique identifier for the session
	ProjectID   string // Project the session belongs to
	UserID      string // User who started the session
	PacketCount int    // Number of work packets queued for execution
}

// NewSessionCreatedEvent creates a SessionCreatedEvent.
func NewSessionCreatedEvent(sessionID, projectID, userID string, packetCount int) SessionCreatedEvent {
	return SessionCreatedEvent{
		baseEvent:   newBaseEvent("session.created"),
		SessionID:   sessionID,
		ProjectID:   projectID,
		UserID:      userID,
		PacketCount: packetCount,
	}
}

// SessionEventAddedEvent is emitted when an entry is appended to a session's
// event ledger. Live consumers (SSE, websocket) use this to stream updates
// without polling the store.
type SessionEventAddedEvent struct {
	baseEvent
	SessionID string // Session the ledger entry belongs to
	EventID   string // Unique identifier of the ledger entry
	Kind      string // Ledger entry kind: "info", "success", "error", "warning", "progress"
	Message   string // Human-readable message
}

// NewSessionEventAddedEvent creates a SessionEventAddedEvent.
func NewSessionEventAddedEvent(sessionID, eventID, kind, message string) SessionEventAddedEvent {
	return SessionEventAddedEvent{
		baseEvent: newBaseEvent("session.event"),
		SessionID: sessionID,
		EventID:   eventID,
		Kind:      kind,
		Message:   message,
	}
}

// SessionUpdatedEvent is emitted when a session's mutable fields change
// (progress, current packet index, status).
type SessionUpdatedEvent struct {
	baseEvent
	SessionID          string // Session that changed
	Status             string // Current status (mirrors session.Status values for decoupling)
	Progress           int    // Aggregate progress 0-100
	CurrentPacketIndex int    // Index of the packet currently executing
}

// NewSessionUpdatedEvent creates a SessionUpdatedEvent.
func NewSessionUpdatedEvent(sessionID, status string, progress, currentPacketIndex int) SessionUpdatedEvent {
	return SessionUpdatedEvent{
		baseEvent:          newBaseEvent("session.updated"),
		SessionID:          sessionID,
		Status:             status,
		Progress:           progress,
		CurrentPacketIndex: currentPacketIndex,
	}
}

// SessionCompletedEvent is emitted when a session reaches a terminal status.
type SessionCompletedEvent struct {
	baseEvent
	SessionID string // Session that finished
	Status    string // Terminal status: "complete", "error", or "cancelled"
	Error     string // Error message (empty unless status is "error")
}

// NewSessionCompletedEvent creates a SessionCompletedEvent.
func NewSessionCompletedEvent(sessionID, status, errMsg string) SessionCompletedEvent {
	return SessionCompletedEvent{
		baseEvent: newBaseEvent("session.completed"),
		SessionID: sessionID,
		Status:    status,
		Error:     errMsg,
	}
}

// SessionsChangedEvent is emitted when the sessions file changes on disk.
// The watcher publishes this so restored UIs can re-read active sessions
// after another process writes the file.
type SessionsChangedEvent struct {
	baseEvent
	Path string // Path of the sessions file that changed
}

// NewSessionsChangedEvent creates a SessionsChangedEvent.
func NewSessionsChangedEvent(path string) SessionsChangedEvent {
	return SessionsChangedEvent{
		baseEvent: newBaseEvent("session.changed"),
		Path:      path,
	}
}

// StaleSessionsCleanedEvent is emitted after startup cleanup marks stale
// running sessions as errored.
type StaleSessionsCleanedEvent struct {
	baseEvent
	Count  int    // Number of sessions marked as errored
	MaxAge string // Age threshold used, as a human-readable duration
}

// NewStaleSessionsCleanedEvent creates a StaleSessionsCleanedEvent.
func NewStaleSessionsCleanedEvent(count int, maxAge string) StaleSessionsCleanedEvent {
	return StaleSessionsCleanedEvent{
		baseEvent: newBaseEvent("session.stale_cleaned"),
		Count:     count,
		MaxAge:    maxAge,
	}
}

// -----------------------------------------------------------------------------
// Run Ledger Events
// -----------------------------------------------------------------------------

// RunStartedEvent is emitted when a packet run begins execution.
type RunStartedEvent struct {
	baseEvent
	RunID     string // Unique identifier for the run
	PacketID  string // Packet being executed
	ProjectID string // Project the packet belongs to
	SessionID string // Session driving the run (empty for standalone runs)
	Iteration int    // 1-based attempt number for this packet
}

// NewRunStartedEvent creates a RunStartedEvent.
func NewRunStartedEvent(runID, packetID, projectID, sessionID string, iteration int) RunStartedEvent {
	return RunStartedEvent{
		baseEvent: newBaseEvent("run.started"),
		RunID:     runID,
		PacketID:  packetID,
		ProjectID: projectID,
		SessionID: sessionID,
		Iteration: iteration,
	}
}

// RunCompletedEvent is emitted when a packet run reaches a terminal status.
type RunCompletedEvent struct {
	baseEvent
	RunID     string // Run that finished
	PacketID  string // Packet that was executed
	Status    string // Terminal status: "completed", "failed", or "cancelled"
	ExitCode  int    // Process exit code (-1 if the process never ran)
	Iteration int    // 1-based attempt number for this packet
}

// NewRunCompletedEvent creates a RunCompletedEvent.
func NewRunCompletedEvent(runID, packetID, status string, exitCode, iteration int) RunCompletedEvent {
	return RunCompletedEvent{
		baseEvent: newBaseEvent("run.completed"),
		RunID:     runID,
		PacketID:  packetID,
		Status:    status,
		ExitCode:  exitCode,
		Iteration: iteration,
	}
}

// -----------------------------------------------------------------------------
// Control Events
// -----------------------------------------------------------------------------

// StopRequestedEvent is emitted when a caller asks for a single packet's
// execution to stop. The coordinator decides whether stopping the packet
// cancels the whole session.
type StopRequestedEvent struct {
	baseEvent
	SessionID string // Session the packet belongs to
	PacketID  string // Packet to stop
}

// NewStopRequestedEvent creates a StopRequestedEvent.
func NewStopRequestedEvent(sessionID, packetID string) StopRequestedEvent {
	return StopRequestedEvent{
		baseEvent: newBaseEvent("packet.stop_requested"),
		SessionID: sessionID,
		PacketID:  packetID,
	}
}
