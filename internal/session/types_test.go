package session

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Status and EventType Tests
// =============================================================================

func TestStatus_Valid(t *testing.T) {
	valid := []Status{StatusRunning, StatusComplete, StatusError, StatusCancelled}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("Status(%q).Valid() = false, want true", s)
		}
	}

	invalid := []Status{"", "done", "RUNNING", "failed"}
	for _, s := range invalid {
		if s.Valid() {
			t.Errorf("Status(%q).Valid() = true, want false", s)
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusRunning, false},
		{StatusComplete, true},
		{StatusError, true},
		{StatusCancelled, true},
		{Status("bogus"), false},
		{Status(""), false},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("Status(%q).Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestEventType_Valid(t *testing.T) {
	valid := []EventType{EventInfo, EventSuccess, EventError, EventWarning, EventProgress}
	for _, et := range valid {
		if !et.Valid() {
			t.Errorf("EventType(%q).Valid() = false, want true", et)
		}
	}

	if EventType("debug").Valid() {
		t.Error("EventType(\"debug\").Valid() = true, want false")
	}
	if EventType("").Valid() {
		t.Error("EventType(\"\").Valid() = true, want false")
	}
}

// =============================================================================
// ExecutionEvent Tests
// =============================================================================

func TestNewEvent(t *testing.T) {
	before := time.Now()
	ev := NewEvent(EventInfo, "hello")
	after := time.Now()

	if ev.ID == "" {
		t.Error("NewEvent produced empty id")
	}
	if ev.Type != EventInfo {
		t.Errorf("Type = %q, want %q", ev.Type, EventInfo)
	}
	if ev.Message != "hello" {
		t.Errorf("Message = %q, want %q", ev.Message, "hello")
	}
	if ev.Timestamp.Before(before) || ev.Timestamp.After(after) {
		t.Errorf("Timestamp %v outside [%v, %v]", ev.Timestamp, before, after)
	}
	if ev.Detail != "" {
		t.Errorf("Detail = %q, want empty", ev.Detail)
	}
}

func TestNewEvent_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		ev := NewEvent(EventInfo, "x")
		if seen[ev.ID] {
			t.Fatalf("duplicate event id %q", ev.ID)
		}
		seen[ev.ID] = true
	}
}

func TestNewEventDetail(t *testing.T) {
	ev := NewEventDetail(EventError, "packet failed", "exit status 1")
	if ev.Detail != "exit status 1" {
		t.Errorf("Detail = %q, want %q", ev.Detail, "exit status 1")
	}
	if ev.Type != EventError {
		t.Errorf("Type = %q, want %q", ev.Type, EventError)
	}
}

// =============================================================================
// ExecutionSession Tests
// =============================================================================

func TestExecutionSession_AppendEvent_CapsAtLimit(t *testing.T) {
	sess := &ExecutionSession{ID: "exec-1", Status: StatusRunning}

	for i := range MaxSessionEvents + 50 {
		sess.AppendEvent(NewEvent(EventInfo, fmt.Sprintf("event %d", i)))
	}

	if len(sess.Events) != MaxSessionEvents {
		t.Fatalf("len(Events) = %d, want %d", len(sess.Events), MaxSessionEvents)
	}

	// The oldest events must have been dropped, keeping the tail.
	first := sess.Events[0].Message
	if first != "event 50" {
		t.Errorf("first retained event = %q, want %q", first, "event 50")
	}
	last := sess.Events[len(sess.Events)-1].Message
	want := fmt.Sprintf("event %d", MaxSessionEvents+49)
	if last != want {
		t.Errorf("last retained event = %q, want %q", last, want)
	}
}

func TestExecutionSession_AppendEvent_PreservesOrder(t *testing.T) {
	sess := &ExecutionSession{ID: "exec-1", Status: StatusRunning}
	for i := range 10 {
		sess.AppendEvent(NewEvent(EventInfo, fmt.Sprintf("event %d", i)))
	}

	for i, ev := range sess.Events {
		want := fmt.Sprintf("event %d", i)
		if ev.Message != want {
			t.Errorf("Events[%d].Message = %q, want %q", i, ev.Message, want)
		}
	}
}

func TestExecutionSession_Active(t *testing.T) {
	sess := &ExecutionSession{Status: StatusRunning}
	if !sess.Active() {
		t.Error("running session Active() = false, want true")
	}

	sess.Status = StatusComplete
	if sess.Active() {
		t.Error("complete session Active() = true, want false")
	}
}

func TestExecutionSession_PacketTitle(t *testing.T) {
	sess := &ExecutionSession{
		PacketIDs:    []string{"pkt-1", "pkt-2"},
		PacketTitles: map[string]string{"pkt-1": "Set up database"},
	}

	if got := sess.PacketTitle("pkt-1"); got != "Set up database" {
		t.Errorf("PacketTitle(pkt-1) = %q, want %q", got, "Set up database")
	}
	// Falls back to the id when no title exists.
	if got := sess.PacketTitle("pkt-2"); got != "pkt-2" {
		t.Errorf("PacketTitle(pkt-2) = %q, want %q", got, "pkt-2")
	}

	var untitled ExecutionSession
	if got := untitled.PacketTitle("pkt-9"); got != "pkt-9" {
		t.Errorf("PacketTitle on nil map = %q, want %q", got, "pkt-9")
	}
}

// =============================================================================
// Session ID Tests
// =============================================================================

func TestNewSessionID_Format(t *testing.T) {
	id := NewSessionID()

	if !strings.HasPrefix(id, "exec-") {
		t.Fatalf("id %q does not start with exec-", id)
	}
	parts := strings.Split(id, "-")
	if len(parts) != 3 {
		t.Fatalf("id %q has %d parts, want 3", id, len(parts))
	}
	if len(parts[2]) != 8 {
		t.Errorf("id suffix %q has length %d, want 8 hex chars", parts[2], len(parts[2]))
	}
}

func TestNewSessionID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		id := NewSessionID()
		if seen[id] {
			t.Fatalf("duplicate session id %q", id)
		}
		seen[id] = true
	}
}
