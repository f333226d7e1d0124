package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/G-TechSD/Claudia-Coder-sub001/internal/errors"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/event"
)

// =============================================================================
// Test Helpers
// =============================================================================

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return newTestManagerWithBus(t, nil)
}

func newTestManagerWithBus(t *testing.T, bus *event.Bus) *Manager {
	t.Helper()
	store, err := NewStore(t.TempDir(), 0, nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	mgr, err := NewManager(store, bus, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

// checkLifecycleInvariant fails when the running-iff-incomplete rule is
// broken.
func checkLifecycleInvariant(t *testing.T, sess *ExecutionSession) {
	t.Helper()
	if sess.Status == StatusRunning && sess.CompletedAt != nil {
		t.Errorf("session %s is running but has completedAt set", sess.ID)
	}
	if sess.Status != StatusRunning && sess.CompletedAt == nil {
		t.Errorf("session %s is %s but has no completedAt", sess.ID, sess.Status)
	}
}

// =============================================================================
// CreateSession Tests
// =============================================================================

func TestManager_CreateSession(t *testing.T) {
	mgr := newTestManager(t)

	sess, err := mgr.CreateSession("proj-1", []string{"pkt-a", "pkt-b", "pkt-c"}, "user-1", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if sess.ID == "" {
		t.Error("session has empty id")
	}
	if sess.Status != StatusRunning {
		t.Errorf("Status = %q, want %q", sess.Status, StatusRunning)
	}
	if sess.Progress != 0 {
		t.Errorf("Progress = %d, want 0", sess.Progress)
	}
	if sess.CurrentPacketIndex != 0 {
		t.Errorf("CurrentPacketIndex = %d, want 0", sess.CurrentPacketIndex)
	}
	if sess.StartedAt.IsZero() {
		t.Error("StartedAt is zero")
	}
	checkLifecycleInvariant(t, sess)

	// One seeded info event announcing the batch.
	if len(sess.Events) != 1 {
		t.Fatalf("len(Events) = %d, want 1", len(sess.Events))
	}
	if sess.Events[0].Type != EventInfo {
		t.Errorf("seed event type = %q, want %q", sess.Events[0].Type, EventInfo)
	}
	if want := "Starting execution of 3 packet(s)"; sess.Events[0].Message != want {
		t.Errorf("seed event message = %q, want %q", sess.Events[0].Message, want)
	}

	// The record must be durable.
	got, err := mgr.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got == nil {
		t.Fatal("created session not found on reload")
	}
	if got.ProjectID != "proj-1" || got.UserID != "user-1" {
		t.Errorf("persisted identity = (%q, %q), want (proj-1, user-1)", got.ProjectID, got.UserID)
	}
}

func TestManager_CreateSession_Validation(t *testing.T) {
	mgr := newTestManager(t)

	tests := []struct {
		name      string
		projectID string
		packetIDs []string
	}{
		{"empty packet list", "proj-1", nil},
		{"no packets", "proj-1", []string{}},
		{"blank packet id", "proj-1", []string{"pkt-a", ""}},
		{"empty project", "", []string{"pkt-a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mgr.CreateSession(tt.projectID, tt.packetIDs, "user-1", CreateOptions{})
			if err == nil {
				t.Fatal("CreateSession succeeded, want validation error")
			}
			if !errors.IsValidation(err) {
				t.Errorf("error %v is not a validation error", err)
			}
		})
	}

	// Nothing may have been persisted by the rejected attempts.
	stats, err := mgr.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("Total = %d after rejected creates, want 0", stats.Total)
	}
}

func TestManager_CreateSession_PacketTitles(t *testing.T) {
	mgr := newTestManager(t)

	titles := map[string]string{"pkt-a": "Bootstrap schema"}
	sess, err := mgr.CreateSession("proj-1", []string{"pkt-a"}, "user-1", CreateOptions{PacketTitles: titles})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	got, err := mgr.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.PacketTitle("pkt-a") != "Bootstrap schema" {
		t.Errorf("PacketTitle = %q, want %q", got.PacketTitle("pkt-a"), "Bootstrap schema")
	}
}

// =============================================================================
// Lookup Tests
// =============================================================================

func TestManager_GetSession_Unknown(t *testing.T) {
	mgr := newTestManager(t)

	sess, err := mgr.GetSession("exec-does-not-exist")
	if err != nil {
		t.Fatalf("GetSession returned error %v, want soft nil", err)
	}
	if sess != nil {
		t.Errorf("GetSession = %+v, want nil", sess)
	}
}

func TestManager_ActiveSessionForProject(t *testing.T) {
	mgr := newTestManager(t)

	// No sessions at all.
	sess, err := mgr.ActiveSessionForProject("proj-1")
	if err != nil {
		t.Fatalf("ActiveSessionForProject failed: %v", err)
	}
	if sess != nil {
		t.Errorf("active session = %+v, want nil", sess)
	}

	first, err := mgr.CreateSession("proj-1", []string{"pkt-a"}, "user-1", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	second, err := mgr.CreateSession("proj-1", []string{"pkt-b"}, "user-1", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := mgr.CreateSession("proj-other", []string{"pkt-c"}, "user-1", CreateOptions{}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// Creation times can land on the same clock tick; nudge the second
	// session forward deterministically through the store.
	bumpStartedAt(t, mgr, second.ID, first.StartedAt.Add(time.Second))

	active, err := mgr.ActiveSessionForProject("proj-1")
	if err != nil {
		t.Fatalf("ActiveSessionForProject failed: %v", err)
	}
	if active == nil {
		t.Fatal("no active session found")
	}
	if active.ID != second.ID {
		t.Errorf("active session = %s, want most recent %s", active.ID, second.ID)
	}

	// A finalized session is no longer active.
	if _, err := mgr.CompleteSession(second.ID, ExecutionResult{Status: StatusComplete}); err != nil {
		t.Fatalf("CompleteSession failed: %v", err)
	}
	active, err = mgr.ActiveSessionForProject("proj-1")
	if err != nil {
		t.Fatalf("ActiveSessionForProject failed: %v", err)
	}
	if active == nil || active.ID != first.ID {
		t.Errorf("active session after completion = %v, want %s", active, first.ID)
	}
}

func TestManager_ActiveSessionsForUser(t *testing.T) {
	mgr := newTestManager(t)

	a, _ := mgr.CreateSession("proj-1", []string{"pkt-a"}, "user-1", CreateOptions{})
	b, _ := mgr.CreateSession("proj-2", []string{"pkt-b"}, "user-1", CreateOptions{})
	c, _ := mgr.CreateSession("proj-3", []string{"pkt-c"}, "user-2", CreateOptions{})
	done, _ := mgr.CreateSession("proj-4", []string{"pkt-d"}, "user-1", CreateOptions{})
	if _, err := mgr.CompleteSession(done.ID, ExecutionResult{Status: StatusComplete}); err != nil {
		t.Fatalf("CompleteSession failed: %v", err)
	}

	bumpStartedAt(t, mgr, b.ID, a.StartedAt.Add(time.Second))

	active, err := mgr.ActiveSessionsForUser("user-1")
	if err != nil {
		t.Fatalf("ActiveSessionsForUser failed: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("len(active) = %d, want 2", len(active))
	}
	if active[0].ID != b.ID || active[1].ID != a.ID {
		t.Errorf("active order = [%s, %s], want most recent first [%s, %s]", active[0].ID, active[1].ID, b.ID, a.ID)
	}
	for _, sess := range active {
		if sess.ID == c.ID {
			t.Error("user-2 session returned for user-1")
		}
	}
}

func TestManager_History(t *testing.T) {
	mgr := newTestManager(t)

	base := time.Now().Add(-time.Hour)
	var ids []string
	for i := range 5 {
		sess, err := mgr.CreateSession("proj-1", []string{"pkt"}, "user-1", CreateOptions{})
		if err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
		bumpStartedAt(t, mgr, sess.ID, base.Add(time.Duration(i)*time.Minute))
		ids = append(ids, sess.ID)
	}
	if _, err := mgr.CreateSession("proj-other", []string{"pkt"}, "user-1", CreateOptions{}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	history, err := mgr.History("proj-1", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("len(history) = %d, want 5", len(history))
	}
	// Most recent first.
	for i, sess := range history {
		want := ids[len(ids)-1-i]
		if sess.ID != want {
			t.Errorf("history[%d] = %s, want %s", i, sess.ID, want)
		}
	}

	limited, err := mgr.History("proj-1", 2)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("len(limited) = %d, want 2", len(limited))
	}
	if limited[0].ID != ids[4] || limited[1].ID != ids[3] {
		t.Errorf("limited history = [%s, %s], want [%s, %s]", limited[0].ID, limited[1].ID, ids[4], ids[3])
	}

	empty, err := mgr.History("proj-unknown", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("history for unknown project = %d entries, want 0", len(empty))
	}
}

// bumpStartedAt rewrites a session's start time directly through the
// store, bypassing the manager's immutability rules, so ordering tests
// do not depend on wall-clock resolution.
func bumpStartedAt(t *testing.T, mgr *Manager, id string, startedAt time.Time) {
	t.Helper()
	sessions, err := mgr.store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	sess, _ := findSession(sessions, id)
	if sess == nil {
		t.Fatalf("session %s not found", id)
	}
	sess.StartedAt = startedAt
	if err := mgr.store.Save(sessions); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}

// =============================================================================
// UpdateSession Tests
// =============================================================================

func TestManager_UpdateSession(t *testing.T) {
	mgr := newTestManager(t)

	sess, err := mgr.CreateSession("proj-1", []string{"pkt-a", "pkt-b"}, "user-1", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	progress := 50
	index := 1
	output := "halfway"
	updated, err := mgr.UpdateSession(sess.ID, Update{
		Progress:           &progress,
		CurrentPacketIndex: &index,
		Output:             &output,
	})
	if err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}
	if updated.Progress != 50 {
		t.Errorf("Progress = %d, want 50", updated.Progress)
	}
	if updated.CurrentPacketIndex != 1 {
		t.Errorf("CurrentPacketIndex = %d, want 1", updated.CurrentPacketIndex)
	}
	if updated.Output != "halfway" {
		t.Errorf("Output = %q, want %q", updated.Output, "halfway")
	}
	// Untouched fields stay.
	if updated.Status != StatusRunning {
		t.Errorf("Status = %q, want still running", updated.Status)
	}
	checkLifecycleInvariant(t, updated)

	got, _ := mgr.GetSession(sess.ID)
	if got.Progress != 50 {
		t.Errorf("persisted Progress = %d, want 50", got.Progress)
	}
}

func TestManager_UpdateSession_Unknown(t *testing.T) {
	mgr := newTestManager(t)

	progress := 10
	sess, err := mgr.UpdateSession("exec-missing", Update{Progress: &progress})
	if err != nil {
		t.Fatalf("UpdateSession returned error %v, want soft nil", err)
	}
	if sess != nil {
		t.Errorf("UpdateSession = %+v, want nil", sess)
	}
}

func TestManager_UpdateSession_TerminalStatusStampsCompletedAt(t *testing.T) {
	mgr := newTestManager(t)

	sess, _ := mgr.CreateSession("proj-1", []string{"pkt-a"}, "user-1", CreateOptions{})

	status := StatusError
	msg := "executor crashed"
	updated, err := mgr.UpdateSession(sess.ID, Update{Status: &status, Error: &msg})
	if err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}
	if updated.Status != StatusError {
		t.Errorf("Status = %q, want %q", updated.Status, StatusError)
	}
	if updated.CompletedAt == nil {
		t.Fatal("CompletedAt not stamped on terminal update")
	}
	if updated.Error != "executor crashed" {
		t.Errorf("Error = %q, want %q", updated.Error, "executor crashed")
	}
	checkLifecycleInvariant(t, updated)
}

func TestManager_UpdateSession_FinalizedIsImmutable(t *testing.T) {
	mgr := newTestManager(t)

	sess, _ := mgr.CreateSession("proj-1", []string{"pkt-a"}, "user-1", CreateOptions{})
	if _, err := mgr.CompleteSession(sess.ID, ExecutionResult{Status: StatusComplete}); err != nil {
		t.Fatalf("CompleteSession failed: %v", err)
	}

	progress := 10
	got, err := mgr.UpdateSession(sess.ID, Update{Progress: &progress})
	if err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}
	if got.Progress != 100 {
		t.Errorf("Progress = %d after update on finalized session, want untouched 100", got.Progress)
	}
}

func TestManager_UpdateSession_Validation(t *testing.T) {
	mgr := newTestManager(t)
	sess, _ := mgr.CreateSession("proj-1", []string{"pkt-a"}, "user-1", CreateOptions{})

	bad := Status("exploded")
	if _, err := mgr.UpdateSession(sess.ID, Update{Status: &bad}); !errors.IsValidation(err) {
		t.Errorf("unknown status error = %v, want validation error", err)
	}

	over := 150
	if _, err := mgr.UpdateSession(sess.ID, Update{Progress: &over}); !errors.IsValidation(err) {
		t.Errorf("progress 150 error = %v, want validation error", err)
	}

	under := -1
	if _, err := mgr.UpdateSession(sess.ID, Update{Progress: &under}); !errors.IsValidation(err) {
		t.Errorf("progress -1 error = %v, want validation error", err)
	}

	negIndex := -2
	if _, err := mgr.UpdateSession(sess.ID, Update{CurrentPacketIndex: &negIndex}); !errors.IsValidation(err) {
		t.Errorf("negative index error = %v, want validation error", err)
	}
}

// =============================================================================
// AddEvent Tests
// =============================================================================

func TestManager_AddEvent(t *testing.T) {
	mgr := newTestManager(t)
	sess, _ := mgr.CreateSession("proj-1", []string{"pkt-a"}, "user-1", CreateOptions{})

	updated, err := mgr.AddEvent(sess.ID, ExecutionEvent{Type: EventInfo, Message: "Executing: pkt-a"})
	if err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}
	if len(updated.Events) != 2 {
		t.Fatalf("len(Events) = %d, want 2", len(updated.Events))
	}

	added := updated.Events[1]
	if added.ID == "" {
		t.Error("event id was not assigned")
	}
	if added.Timestamp.IsZero() {
		t.Error("event timestamp was not assigned")
	}
	if added.Message != "Executing: pkt-a" {
		t.Errorf("Message = %q, want %q", added.Message, "Executing: pkt-a")
	}
}

func TestManager_AddEvent_DefaultsToInfo(t *testing.T) {
	mgr := newTestManager(t)
	sess, _ := mgr.CreateSession("proj-1", []string{"pkt-a"}, "user-1", CreateOptions{})

	updated, err := mgr.AddEvent(sess.ID, ExecutionEvent{Message: "untyped"})
	if err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}
	if got := updated.Events[len(updated.Events)-1].Type; got != EventInfo {
		t.Errorf("defaulted type = %q, want %q", got, EventInfo)
	}
}

func TestManager_AddEvent_InvalidType(t *testing.T) {
	mgr := newTestManager(t)
	sess, _ := mgr.CreateSession("proj-1", []string{"pkt-a"}, "user-1", CreateOptions{})

	_, err := mgr.AddEvent(sess.ID, ExecutionEvent{Type: "catastrophe", Message: "boom"})
	if !errors.IsValidation(err) {
		t.Errorf("invalid type error = %v, want validation error", err)
	}
}

func TestManager_AddEvent_Unknown(t *testing.T) {
	mgr := newTestManager(t)

	sess, err := mgr.AddEvent("exec-missing", ExecutionEvent{Type: EventInfo, Message: "x"})
	if err != nil {
		t.Fatalf("AddEvent returned error %v, want soft nil", err)
	}
	if sess != nil {
		t.Errorf("AddEvent = %+v, want nil", sess)
	}
}

func TestManager_AddEvent_EnforcesCap(t *testing.T) {
	mgr := newTestManager(t)
	sess, _ := mgr.CreateSession("proj-1", []string{"pkt-a"}, "user-1", CreateOptions{})

	for i := range MaxSessionEvents + 20 {
		if _, err := mgr.AddEvent(sess.ID, ExecutionEvent{Type: EventInfo, Message: fmt.Sprintf("event %d", i)}); err != nil {
			t.Fatalf("AddEvent %d failed: %v", i, err)
		}
	}

	got, err := mgr.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if len(got.Events) != MaxSessionEvents {
		t.Errorf("len(Events) = %d, want capped at %d", len(got.Events), MaxSessionEvents)
	}
	// The newest event survived; the seed and earliest additions did not.
	last := got.Events[len(got.Events)-1].Message
	if want := fmt.Sprintf("event %d", MaxSessionEvents+19); last != want {
		t.Errorf("last event = %q, want %q", last, want)
	}
}

func TestManager_AddEvent_FinalizedIsImmutable(t *testing.T) {
	mgr := newTestManager(t)
	sess, _ := mgr.CreateSession("proj-1", []string{"pkt-a"}, "user-1", CreateOptions{})
	if _, err := mgr.CompleteSession(sess.ID, ExecutionResult{Status: StatusComplete}); err != nil {
		t.Fatalf("CompleteSession failed: %v", err)
	}
	before, _ := mgr.GetSession(sess.ID)

	got, err := mgr.AddEvent(sess.ID, ExecutionEvent{Type: EventInfo, Message: "late"})
	if err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}
	if len(got.Events) != len(before.Events) {
		t.Errorf("event appended to finalized session: %d -> %d", len(before.Events), len(got.Events))
	}
}

// =============================================================================
// CompleteSession Tests
// =============================================================================

func TestManager_CompleteSession_Success(t *testing.T) {
	mgr := newTestManager(t)
	sess, _ := mgr.CreateSession("proj-1", []string{"pkt-a"}, "user-1", CreateOptions{})

	gates := &QualityGateResults{Passed: true, Tests: GateResult{Success: true, Output: "ok"}}
	done, err := mgr.CompleteSession(sess.ID, ExecutionResult{
		Status:       StatusComplete,
		QualityGates: gates,
		Output:       "all packets executed",
	})
	if err != nil {
		t.Fatalf("CompleteSession failed: %v", err)
	}

	if done.Status != StatusComplete {
		t.Errorf("Status = %q, want %q", done.Status, StatusComplete)
	}
	if done.Progress != 100 {
		t.Errorf("Progress = %d, want 100", done.Progress)
	}
	if done.CompletedAt == nil {
		t.Fatal("CompletedAt not set")
	}
	if done.QualityGates == nil || !done.QualityGates.Passed {
		t.Error("quality gates not attached")
	}
	if done.Output != "all packets executed" {
		t.Errorf("Output = %q, want %q", done.Output, "all packets executed")
	}
	checkLifecycleInvariant(t, done)

	last := done.Events[len(done.Events)-1]
	if last.Type != EventSuccess {
		t.Errorf("terminal event type = %q, want %q", last.Type, EventSuccess)
	}
	if last.Message != "Execution completed successfully" {
		t.Errorf("terminal event message = %q", last.Message)
	}
}

func TestManager_CompleteSession_Error(t *testing.T) {
	mgr := newTestManager(t)
	sess, _ := mgr.CreateSession("proj-1", []string{"pkt-a"}, "user-1", CreateOptions{})

	progress := 40
	if _, err := mgr.UpdateSession(sess.ID, Update{Progress: &progress}); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}

	done, err := mgr.CompleteSession(sess.ID, ExecutionResult{Status: StatusError, Error: "packet pkt-a failed"})
	if err != nil {
		t.Fatalf("CompleteSession failed: %v", err)
	}

	if done.Status != StatusError {
		t.Errorf("Status = %q, want %q", done.Status, StatusError)
	}
	// Progress is forced to 100 only on clean completion.
	if done.Progress != 40 {
		t.Errorf("Progress = %d, want preserved 40", done.Progress)
	}
	if done.Error != "packet pkt-a failed" {
		t.Errorf("Error = %q, want %q", done.Error, "packet pkt-a failed")
	}
	checkLifecycleInvariant(t, done)

	last := done.Events[len(done.Events)-1]
	if last.Type != EventError {
		t.Errorf("terminal event type = %q, want %q", last.Type, EventError)
	}
	if want := "Execution failed: packet pkt-a failed"; last.Message != want {
		t.Errorf("terminal event message = %q, want %q", last.Message, want)
	}
}

func TestManager_CompleteSession_Cancelled(t *testing.T) {
	mgr := newTestManager(t)
	sess, _ := mgr.CreateSession("proj-1", []string{"pkt-a"}, "user-1", CreateOptions{})

	done, err := mgr.CompleteSession(sess.ID, ExecutionResult{Status: StatusCancelled})
	if err != nil {
		t.Fatalf("CompleteSession failed: %v", err)
	}

	if done.Status != StatusCancelled {
		t.Errorf("Status = %q, want %q", done.Status, StatusCancelled)
	}
	last := done.Events[len(done.Events)-1]
	if last.Type != EventWarning {
		t.Errorf("terminal event type = %q, want %q", last.Type, EventWarning)
	}
	if last.Message != "Execution cancelled" {
		t.Errorf("terminal event message = %q, want %q", last.Message, "Execution cancelled")
	}
	checkLifecycleInvariant(t, done)
}

func TestManager_CompleteSession_Idempotent(t *testing.T) {
	mgr := newTestManager(t)
	sess, _ := mgr.CreateSession("proj-1", []string{"pkt-a"}, "user-1", CreateOptions{})

	first, err := mgr.CompleteSession(sess.ID, ExecutionResult{Status: StatusComplete})
	if err != nil {
		t.Fatalf("first CompleteSession failed: %v", err)
	}

	// A second completion, even with a different result, changes nothing.
	second, err := mgr.CompleteSession(sess.ID, ExecutionResult{Status: StatusError, Error: "too late"})
	if err != nil {
		t.Fatalf("second CompleteSession failed: %v", err)
	}

	if second.Status != StatusComplete {
		t.Errorf("Status after repeat completion = %q, want %q", second.Status, StatusComplete)
	}
	if !second.CompletedAt.Equal(*first.CompletedAt) {
		t.Errorf("CompletedAt moved: %v -> %v", first.CompletedAt, second.CompletedAt)
	}
	if len(second.Events) != len(first.Events) {
		t.Errorf("len(Events) = %d after repeat completion, want %d", len(second.Events), len(first.Events))
	}

	// Exactly one terminal event in the log.
	terminal := 0
	for _, ev := range second.Events {
		switch ev.Type {
		case EventSuccess, EventError, EventWarning:
			terminal++
		}
	}
	if terminal != 1 {
		t.Errorf("terminal event count = %d, want exactly 1", terminal)
	}
}

func TestManager_CompleteSession_Unknown(t *testing.T) {
	mgr := newTestManager(t)

	sess, err := mgr.CompleteSession("exec-missing", ExecutionResult{Status: StatusComplete})
	if err != nil {
		t.Fatalf("CompleteSession returned error %v, want soft nil", err)
	}
	if sess != nil {
		t.Errorf("CompleteSession = %+v, want nil", sess)
	}
}

func TestManager_CompleteSession_NonTerminalStatus(t *testing.T) {
	mgr := newTestManager(t)
	sess, _ := mgr.CreateSession("proj-1", []string{"pkt-a"}, "user-1", CreateOptions{})

	if _, err := mgr.CompleteSession(sess.ID, ExecutionResult{Status: StatusRunning}); !errors.IsValidation(err) {
		t.Errorf("completing with running status = %v, want validation error", err)
	}
	if _, err := mgr.CompleteSession(sess.ID, ExecutionResult{Status: ""}); !errors.IsValidation(err) {
		t.Errorf("completing with empty status = %v, want validation error", err)
	}
}

// =============================================================================
// Stale Cleanup Tests
// =============================================================================

func TestManager_CleanupStaleSessions(t *testing.T) {
	store, err := NewStore(t.TempDir(), 0, nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	// Seed the store with a 2h-old running session, a 30m-old running
	// session, and an old terminal session before the manager opens.
	now := time.Now()
	stale := makeSession("exec-stale", StatusRunning, now.Add(-2*time.Hour))
	fresh := makeSession("exec-fresh", StatusRunning, now.Add(-30*time.Minute))
	finished := makeSession("exec-done", StatusComplete, now.Add(-3*time.Hour))
	if err := store.Save([]*ExecutionSession{stale, fresh, finished}); err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	mgr, err := NewManager(store, nil, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer mgr.Close()

	cleaned, err := mgr.CleanupStaleSessions(time.Hour)
	if err != nil {
		t.Fatalf("CleanupStaleSessions failed: %v", err)
	}
	if cleaned != 1 {
		t.Fatalf("cleaned = %d, want 1", cleaned)
	}

	got, _ := mgr.GetSession("exec-stale")
	if got.Status != StatusError {
		t.Errorf("stale session status = %q, want %q", got.Status, StatusError)
	}
	if got.CompletedAt == nil {
		t.Error("stale session has no completedAt")
	}
	checkLifecycleInvariant(t, got)

	last := got.Events[len(got.Events)-1]
	if last.Type != EventError {
		t.Errorf("stale event type = %q, want %q", last.Type, EventError)
	}
	wantPrefix := "Session marked as failed: stale session (started "
	if len(last.Message) < len(wantPrefix) || last.Message[:len(wantPrefix)] != wantPrefix {
		t.Errorf("stale event message = %q, want prefix %q", last.Message, wantPrefix)
	}

	// The 30 minute session is untouched.
	untouched, _ := mgr.GetSession("exec-fresh")
	if untouched.Status != StatusRunning {
		t.Errorf("fresh session status = %q, want still running", untouched.Status)
	}
	if len(untouched.Events) != 0 {
		t.Errorf("fresh session gained %d events", len(untouched.Events))
	}

	// Already-terminal sessions are not re-finalized.
	doneSess, _ := mgr.GetSession("exec-done")
	if doneSess.Status != StatusComplete {
		t.Errorf("terminal session status = %q, want %q", doneSess.Status, StatusComplete)
	}

	// A second sweep finds nothing.
	cleaned, err = mgr.CleanupStaleSessions(time.Hour)
	if err != nil {
		t.Fatalf("second CleanupStaleSessions failed: %v", err)
	}
	if cleaned != 0 {
		t.Errorf("second sweep cleaned = %d, want 0", cleaned)
	}
}

// =============================================================================
// Stats and ClearCompleted Tests
// =============================================================================

func TestManager_Stats(t *testing.T) {
	mgr := newTestManager(t)

	stats, err := mgr.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("empty store Total = %d, want 0", stats.Total)
	}

	running, _ := mgr.CreateSession("proj-1", []string{"pkt"}, "user-1", CreateOptions{})
	_ = running
	complete, _ := mgr.CreateSession("proj-2", []string{"pkt"}, "user-1", CreateOptions{})
	mgr.CompleteSession(complete.ID, ExecutionResult{Status: StatusComplete})
	failed, _ := mgr.CreateSession("proj-3", []string{"pkt"}, "user-1", CreateOptions{})
	mgr.CompleteSession(failed.ID, ExecutionResult{Status: StatusError, Error: "boom"})
	cancelled, _ := mgr.CreateSession("proj-4", []string{"pkt"}, "user-1", CreateOptions{})
	mgr.CompleteSession(cancelled.ID, ExecutionResult{Status: StatusCancelled})

	stats, err = mgr.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 4 {
		t.Errorf("Total = %d, want 4", stats.Total)
	}
	if stats.Running != 1 {
		t.Errorf("Running = %d, want 1", stats.Running)
	}
	if stats.Complete != 1 {
		t.Errorf("Complete = %d, want 1", stats.Complete)
	}
	if stats.Error != 1 {
		t.Errorf("Error = %d, want 1", stats.Error)
	}
	if stats.Cancelled != 1 {
		t.Errorf("Cancelled = %d, want 1", stats.Cancelled)
	}
}

func TestManager_ClearCompleted(t *testing.T) {
	mgr := newTestManager(t)

	keep, _ := mgr.CreateSession("proj-1", []string{"pkt"}, "user-1", CreateOptions{})
	complete, _ := mgr.CreateSession("proj-2", []string{"pkt"}, "user-1", CreateOptions{})
	mgr.CompleteSession(complete.ID, ExecutionResult{Status: StatusComplete})
	failed, _ := mgr.CreateSession("proj-3", []string{"pkt"}, "user-1", CreateOptions{})
	mgr.CompleteSession(failed.ID, ExecutionResult{Status: StatusError, Error: "x"})
	cancelled, _ := mgr.CreateSession("proj-4", []string{"pkt"}, "user-1", CreateOptions{})
	mgr.CompleteSession(cancelled.ID, ExecutionResult{Status: StatusCancelled})

	removed, err := mgr.ClearCompleted()
	if err != nil {
		t.Fatalf("ClearCompleted failed: %v", err)
	}
	// Every terminal status counts as completed, not just "complete".
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}

	stats, _ := mgr.Stats()
	if stats.Total != 1 || stats.Running != 1 {
		t.Errorf("after clear: total=%d running=%d, want 1/1", stats.Total, stats.Running)
	}
	still, _ := mgr.GetSession(keep.ID)
	if still == nil {
		t.Error("running session was cleared")
	}

	// Nothing left to clear.
	removed, err = mgr.ClearCompleted()
	if err != nil {
		t.Fatalf("second ClearCompleted failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("second clear removed = %d, want 0", removed)
	}
}

// =============================================================================
// Process Lock Tests
// =============================================================================

func TestManager_ProcessLock(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, 0, nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	first, err := NewManager(store, nil, nil)
	if err != nil {
		t.Fatalf("first NewManager failed: %v", err)
	}

	// A second manager over the same directory must be refused while
	// the first still holds the lock.
	if _, err := NewManager(store, nil, nil); !errors.Is(err, errors.ErrStoreLocked) {
		t.Errorf("second NewManager error = %v, want ErrStoreLocked", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// After release the directory is free again.
	second, err := NewManager(store, nil, nil)
	if err != nil {
		t.Fatalf("NewManager after release failed: %v", err)
	}
	second.Close()
}

// =============================================================================
// Bus Publication Tests
// =============================================================================

func TestManager_PublishesLifecycleEvents(t *testing.T) {
	bus := event.NewBus()
	mgr := newTestManagerWithBus(t, bus)

	var types []string
	bus.SubscribeAll(func(ev event.Event) {
		types = append(types, ev.EventType())
	})

	sess, err := mgr.CreateSession("proj-1", []string{"pkt-a"}, "user-1", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := mgr.AddEvent(sess.ID, ExecutionEvent{Type: EventInfo, Message: "Executing: pkt-a"}); err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}
	progress := 50
	if _, err := mgr.UpdateSession(sess.ID, Update{Progress: &progress}); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}
	if _, err := mgr.CompleteSession(sess.ID, ExecutionResult{Status: StatusComplete}); err != nil {
		t.Fatalf("CompleteSession failed: %v", err)
	}

	want := []string{"session.created", "session.event", "session.updated", "session.completed"}
	if len(types) != len(want) {
		t.Fatalf("published %d events %v, want %d", len(types), types, len(want))
	}
	for i, w := range want {
		if types[i] != w {
			t.Errorf("event[%d] = %q, want %q", i, types[i], w)
		}
	}
}
