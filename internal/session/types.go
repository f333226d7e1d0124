package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxSessionEvents caps the event log carried by a single session.
// When the cap is reached the oldest events are dropped first, so the
// tail of the log always holds the most recent activity.
const MaxSessionEvents = 200

// Status describes the lifecycle state of an execution session.
type Status string

const (
	// StatusRunning means packets are still being executed.
	StatusRunning Status = "running"
	// StatusComplete means the session finished and all work succeeded.
	StatusComplete Status = "complete"
	// StatusError means the session finished with a failure.
	StatusError Status = "error"
	// StatusCancelled means the session was stopped before finishing.
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the known session statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusComplete, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is a final state. A terminal session is
// immutable except for retention trimming.
func (s Status) Terminal() bool {
	return s.Valid() && s != StatusRunning
}

// EventType classifies an execution event.
type EventType string

const (
	// EventInfo is a neutral progress note.
	EventInfo EventType = "info"
	// EventSuccess marks a packet or session that finished cleanly.
	EventSuccess EventType = "success"
	// EventError marks a failure.
	EventError EventType = "error"
	// EventWarning marks a non-fatal anomaly, including cancellation.
	EventWarning EventType = "warning"
	// EventProgress carries a percentage update.
	EventProgress EventType = "progress"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventInfo, EventSuccess, EventError, EventWarning, EventProgress:
		return true
	}
	return false
}

// ExecutionEvent is one entry in a session's append-only event log.
// Events are never mutated or removed individually; the only deletion
// is dropping the oldest entries when the log exceeds MaxSessionEvents.
type ExecutionEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// NewEvent builds an event with a fresh id and the current time.
func NewEvent(kind EventType, message string) ExecutionEvent {
	return ExecutionEvent{
		ID:        uuid.NewString(),
		Type:      kind,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewEventDetail builds an event carrying supplementary detail text,
// such as command output or an error chain.
func NewEventDetail(kind EventType, message, detail string) ExecutionEvent {
	ev := NewEvent(kind, message)
	ev.Detail = detail
	return ev
}

// GateResult is the outcome of a single quality gate.
type GateResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

// QualityGateResults aggregates the post-execution quality gates.
// It is attached to a session only at finalization.
type QualityGateResults struct {
	Passed    bool       `json:"passed"`
	Tests     GateResult `json:"tests"`
	TypeCheck GateResult `json:"typeCheck"`
	Build     GateResult `json:"build"`
}

// ExecutionSession tracks one run of an ordered packet list against a
// project. The record is mutated only through the Manager; after it
// reaches a terminal status the only change it sees is being trimmed
// away by retention.
type ExecutionSession struct {
	ID                 string              `json:"id"`
	ProjectID          string              `json:"projectId"`
	UserID             string              `json:"userId"`
	PacketIDs          []string            `json:"packetIds"`
	PacketTitles       map[string]string   `json:"packetTitles,omitempty"`
	Status             Status              `json:"status"`
	Progress           int                 `json:"progress"`
	CurrentPacketIndex int                 `json:"currentPacketIndex"`
	Events             []ExecutionEvent    `json:"events"`
	StartedAt          time.Time           `json:"startedAt"`
	CompletedAt        *time.Time          `json:"completedAt,omitempty"`
	Error              string              `json:"error,omitempty"`
	QualityGates       *QualityGateResults `json:"qualityGates,omitempty"`
	Output             string              `json:"output,omitempty"`
}

// Active reports whether the session is still running.
func (s *ExecutionSession) Active() bool {
	return s.Status == StatusRunning
}

// Terminal reports whether the session reached a final status.
func (s *ExecutionSession) Terminal() bool {
	return s.Status.Terminal()
}

// PacketTitle returns the display title for a packet, falling back to
// the packet id when no title was provided.
func (s *ExecutionSession) PacketTitle(packetID string) string {
	if title, ok := s.PacketTitles[packetID]; ok && title != "" {
		return title
	}
	return packetID
}

// AppendEvent appends ev and enforces the MaxSessionEvents cap by
// dropping the oldest entries. It does not persist; callers go through
// the Manager for that.
func (s *ExecutionSession) AppendEvent(ev ExecutionEvent) {
	s.Events = append(s.Events, ev)
	if excess := len(s.Events) - MaxSessionEvents; excess > 0 {
		s.Events = s.Events[excess:]
	}
}

// ExecutionResult carries the terminal outcome handed to
// Manager.CompleteSession by the coordinator.
type ExecutionResult struct {
	Status       Status
	Error        string
	QualityGates *QualityGateResults
	Output       string
}

// Update names the session fields a caller may change through
// Manager.UpdateSession. Nil fields are left untouched.
type Update struct {
	Status             *Status
	Progress           *int
	CurrentPacketIndex *int
	Error              *string
	QualityGates       *QualityGateResults
	Output             *string
}

// CreateOptions carries the optional inputs to Manager.CreateSession.
type CreateOptions struct {
	// PacketTitles maps packet ids to display titles.
	PacketTitles map[string]string
}

// NewSessionID produces an opaque session identifier of the form
// exec-<unix-ms>-<hex>. The random suffix keeps ids unique even when
// two sessions start within the same millisecond.
func NewSessionID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// Degrade to a time-based suffix rather than failing creation.
		return fmt.Sprintf("exec-%d-%x", time.Now().UnixMilli(), time.Now().UnixNano()&0xffffffff)
	}
	return fmt.Sprintf("exec-%d-%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}
