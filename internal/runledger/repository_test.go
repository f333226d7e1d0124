package runledger

import (
	"context"
	"testing"
	"time"

	"github.com/G-TechSD/Claudia-Coder-sub001/internal/errors"
)

// ============================================================================
// Test Helpers
// ============================================================================

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()

	db, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewLedger(db)
}

func startRun(t *testing.T, ledger *Ledger, packetID, projectID string) *PacketRun {
	t.Helper()

	run, err := ledger.StartRun(context.Background(), packetID, projectID)
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	return run
}

func completeRun(t *testing.T, ledger *Ledger, runID string, status RunStatus) *PacketRun {
	t.Helper()

	run, err := ledger.CompleteRun(context.Background(), runID, status, "done", nil)
	if err != nil {
		t.Fatalf("CompleteRun failed: %v", err)
	}
	return run
}

// ============================================================================
// StartRun Tests
// ============================================================================

func TestStartRun(t *testing.T) {
	ledger := newTestLedger(t)

	before := time.Now().UTC()
	run := startRun(t, ledger, "packet-1", "project-1")
	after := time.Now().UTC()

	if run.ID == "" {
		t.Error("expected a generated run id")
	}
	if run.PacketID != "packet-1" {
		t.Errorf("PacketID = %q, want %q", run.PacketID, "packet-1")
	}
	if run.ProjectID != "project-1" {
		t.Errorf("ProjectID = %q, want %q", run.ProjectID, "project-1")
	}
	if run.Iteration != 1 {
		t.Errorf("Iteration = %d, want 1", run.Iteration)
	}
	if run.Status != RunStatusRunning {
		t.Errorf("Status = %q, want %q", run.Status, RunStatusRunning)
	}
	if run.StartedAt.Before(before) || run.StartedAt.After(after) {
		t.Errorf("StartedAt %v outside [%v, %v]", run.StartedAt, before, after)
	}
	if run.CompletedAt != nil {
		t.Error("new run should not have a completion time")
	}
}

func TestStartRun_AllocatesContiguousIterations(t *testing.T) {
	ledger := newTestLedger(t)

	for i := 1; i <= 5; i++ {
		run := startRun(t, ledger, "packet-1", "project-1")
		if run.Iteration != i {
			t.Errorf("run %d: Iteration = %d, want %d", i, run.Iteration, i)
		}
		completeRun(t, ledger, run.ID, RunStatusCompleted)
	}
}

func TestStartRun_IterationsIndependentPerPacket(t *testing.T) {
	ledger := newTestLedger(t)

	startRun(t, ledger, "packet-1", "project-1")
	startRun(t, ledger, "packet-1", "project-1")

	other := startRun(t, ledger, "packet-2", "project-1")
	if other.Iteration != 1 {
		t.Errorf("Iteration = %d, want 1 for first run of a new packet", other.Iteration)
	}
}

func TestStartRun_Validation(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.StartRun(ctx, "", "project-1"); !errors.IsValidation(err) {
		t.Errorf("empty packet id: got %v, want validation error", err)
	}
	if _, err := ledger.StartRun(ctx, "packet-1", ""); !errors.IsValidation(err) {
		t.Errorf("empty project id: got %v, want validation error", err)
	}
}

// ============================================================================
// Get Tests
// ============================================================================

func TestGet(t *testing.T) {
	ledger := newTestLedger(t)

	created := startRun(t, ledger, "packet-1", "project-1")

	got, err := ledger.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("ID = %q, want %q", got.ID, created.ID)
	}
	if got.Iteration != created.Iteration {
		t.Errorf("Iteration = %d, want %d", got.Iteration, created.Iteration)
	}
	if !got.StartedAt.Equal(created.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, created.StartedAt)
	}
}

func TestGet_NotFound(t *testing.T) {
	ledger := newTestLedger(t)

	_, err := ledger.Get(context.Background(), "no-such-run")
	if !errors.Is(err, errors.ErrRunNotFound) {
		t.Errorf("got %v, want ErrRunNotFound", err)
	}
}

// ============================================================================
// CompleteRun Tests
// ============================================================================

func TestCompleteRun(t *testing.T) {
	ledger := newTestLedger(t)

	run := startRun(t, ledger, "packet-1", "project-1")

	exitCode := 0
	done, err := ledger.CompleteRun(context.Background(), run.ID, RunStatusCompleted, "all tests passed", &exitCode)
	if err != nil {
		t.Fatalf("CompleteRun failed: %v", err)
	}

	if done.Status != RunStatusCompleted {
		t.Errorf("Status = %q, want %q", done.Status, RunStatusCompleted)
	}
	if done.CompletedAt == nil {
		t.Fatal("expected CompletedAt to be set")
	}
	if done.CompletedAt.Before(done.StartedAt) {
		t.Errorf("CompletedAt %v before StartedAt %v", done.CompletedAt, done.StartedAt)
	}
	if done.Output != "all tests passed" {
		t.Errorf("Output = %q, want %q", done.Output, "all tests passed")
	}
	if done.ExitCode == nil || *done.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", done.ExitCode)
	}

	// The stored record must match what was returned.
	stored, err := ledger.Get(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Status != RunStatusCompleted {
		t.Errorf("stored Status = %q, want %q", stored.Status, RunStatusCompleted)
	}
	if stored.ExitCode == nil || *stored.ExitCode != 0 {
		t.Errorf("stored ExitCode = %v, want 0", stored.ExitCode)
	}
}

func TestCompleteRun_Idempotent(t *testing.T) {
	ledger := newTestLedger(t)

	run := startRun(t, ledger, "packet-1", "project-1")

	exitCode := 1
	first, err := ledger.CompleteRun(context.Background(), run.ID, RunStatusFailed, "tests failed", &exitCode)
	if err != nil {
		t.Fatalf("first CompleteRun failed: %v", err)
	}

	// A later cancel racing the natural finish must not overwrite it.
	second, err := ledger.CompleteRun(context.Background(), run.ID, RunStatusCancelled, "stopped", nil)
	if err != nil {
		t.Fatalf("second CompleteRun failed: %v", err)
	}

	if second.Status != RunStatusFailed {
		t.Errorf("Status = %q, want %q after repeated completion", second.Status, RunStatusFailed)
	}
	if second.Output != "tests failed" {
		t.Errorf("Output = %q, want %q", second.Output, "tests failed")
	}
	if !second.CompletedAt.Equal(*first.CompletedAt) {
		t.Errorf("CompletedAt = %v, want %v", second.CompletedAt, first.CompletedAt)
	}
}

func TestCompleteRun_RejectsNonTerminalStatus(t *testing.T) {
	ledger := newTestLedger(t)

	run := startRun(t, ledger, "packet-1", "project-1")

	_, err := ledger.CompleteRun(context.Background(), run.ID, RunStatusRunning, "", nil)
	if !errors.IsValidation(err) {
		t.Errorf("got %v, want validation error", err)
	}
}

func TestCompleteRun_NotFound(t *testing.T) {
	ledger := newTestLedger(t)

	_, err := ledger.CompleteRun(context.Background(), "no-such-run", RunStatusCompleted, "", nil)
	if !errors.Is(err, errors.ErrRunNotFound) {
		t.Errorf("got %v, want ErrRunNotFound", err)
	}
}

// ============================================================================
// AttachFeedback Tests
// ============================================================================

func TestAttachFeedback(t *testing.T) {
	ledger := newTestLedger(t)

	run := startRun(t, ledger, "packet-1", "project-1")
	completeRun(t, ledger, run.ID, RunStatusCompleted)

	rated, err := ledger.AttachFeedback(context.Background(), run.ID, 4, "solid first pass")
	if err != nil {
		t.Fatalf("AttachFeedback failed: %v", err)
	}
	if rated.Rating == nil || *rated.Rating != 4 {
		t.Errorf("Rating = %v, want 4", rated.Rating)
	}
	if rated.Comment != "solid first pass" {
		t.Errorf("Comment = %q, want %q", rated.Comment, "solid first pass")
	}
	if !rated.Rated() {
		t.Error("Rated() = false, want true")
	}

	stored, err := ledger.Get(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Rating == nil || *stored.Rating != 4 {
		t.Errorf("stored Rating = %v, want 4", stored.Rating)
	}
}

func TestAttachFeedback_Overwrite(t *testing.T) {
	ledger := newTestLedger(t)

	run := startRun(t, ledger, "packet-1", "project-1")
	completeRun(t, ledger, run.ID, RunStatusCompleted)

	if _, err := ledger.AttachFeedback(context.Background(), run.ID, 2, "first impression"); err != nil {
		t.Fatalf("AttachFeedback failed: %v", err)
	}
	rated, err := ledger.AttachFeedback(context.Background(), run.ID, 5, "better on review")
	if err != nil {
		t.Fatalf("AttachFeedback failed: %v", err)
	}
	if rated.Rating == nil || *rated.Rating != 5 {
		t.Errorf("Rating = %v, want 5", rated.Rating)
	}
}

func TestAttachFeedback_RefusesRunningRun(t *testing.T) {
	ledger := newTestLedger(t)

	run := startRun(t, ledger, "packet-1", "project-1")

	_, err := ledger.AttachFeedback(context.Background(), run.ID, 3, "")
	if !errors.Is(err, errors.ErrRunNotTerminal) {
		t.Errorf("got %v, want ErrRunNotTerminal", err)
	}
}

func TestAttachFeedback_RatingRange(t *testing.T) {
	ledger := newTestLedger(t)

	run := startRun(t, ledger, "packet-1", "project-1")
	completeRun(t, ledger, run.ID, RunStatusCompleted)

	for _, rating := range []int{0, -1, 6, 100} {
		if _, err := ledger.AttachFeedback(context.Background(), run.ID, rating, ""); !errors.IsValidation(err) {
			t.Errorf("rating %d: got %v, want validation error", rating, err)
		}
	}
}

func TestAttachFeedback_NotFound(t *testing.T) {
	ledger := newTestLedger(t)

	_, err := ledger.AttachFeedback(context.Background(), "no-such-run", 3, "")
	if !errors.Is(err, errors.ErrRunNotFound) {
		t.Errorf("got %v, want ErrRunNotFound", err)
	}
}

// ============================================================================
// Query Tests
// ============================================================================

func TestHistory_OrderedByIteration(t *testing.T) {
	ledger := newTestLedger(t)

	for range 3 {
		run := startRun(t, ledger, "packet-1", "project-1")
		completeRun(t, ledger, run.ID, RunStatusCompleted)
	}
	startRun(t, ledger, "packet-2", "project-1")

	history, err := ledger.History(context.Background(), "packet-1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("got %d runs, want 3", len(history))
	}
	for i, run := range history {
		if run.Iteration != i+1 {
			t.Errorf("history[%d].Iteration = %d, want %d", i, run.Iteration, i+1)
		}
		if run.PacketID != "packet-1" {
			t.Errorf("history[%d].PacketID = %q, want %q", i, run.PacketID, "packet-1")
		}
	}
}

func TestHistory_EmptyForUnknownPacket(t *testing.T) {
	ledger := newTestLedger(t)

	history, err := ledger.History(context.Background(), "no-such-packet")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("got %d runs, want 0", len(history))
	}
}

func TestLatestRuns(t *testing.T) {
	ledger := newTestLedger(t)

	first := startRun(t, ledger, "packet-1", "project-1")
	completeRun(t, ledger, first.ID, RunStatusFailed)
	second := startRun(t, ledger, "packet-1", "project-1")
	completeRun(t, ledger, second.ID, RunStatusCompleted)

	only := startRun(t, ledger, "packet-2", "project-1")

	latest, err := ledger.LatestRuns(context.Background(), []string{"packet-1", "packet-2", "packet-3"})
	if err != nil {
		t.Fatalf("LatestRuns failed: %v", err)
	}

	if len(latest) != 2 {
		t.Fatalf("got %d entries, want 2", len(latest))
	}
	if got := latest["packet-1"]; got == nil || got.ID != second.ID {
		t.Errorf("latest for packet-1 = %v, want run %s", got, second.ID)
	}
	if got := latest["packet-2"]; got == nil || got.ID != only.ID {
		t.Errorf("latest for packet-2 = %v, want run %s", got, only.ID)
	}
	if _, ok := latest["packet-3"]; ok {
		t.Error("packet-3 has no runs and should be absent")
	}
}

func TestCountRunning(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	a := startRun(t, ledger, "packet-1", "project-1")
	startRun(t, ledger, "packet-2", "project-1")
	startRun(t, ledger, "packet-3", "project-2")

	count, err := ledger.CountRunning(ctx, "project-1")
	if err != nil {
		t.Fatalf("CountRunning failed: %v", err)
	}
	if count != 2 {
		t.Errorf("got %d, want 2", count)
	}

	completeRun(t, ledger, a.ID, RunStatusCompleted)

	count, err = ledger.CountRunning(ctx, "project-1")
	if err != nil {
		t.Fatalf("CountRunning failed: %v", err)
	}
	if count != 1 {
		t.Errorf("got %d after completion, want 1", count)
	}
}

func TestDeleteForPacket(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	for range 3 {
		run := startRun(t, ledger, "packet-1", "project-1")
		completeRun(t, ledger, run.ID, RunStatusCompleted)
	}
	keep := startRun(t, ledger, "packet-2", "project-1")

	deleted, err := ledger.DeleteForPacket(ctx, "packet-1")
	if err != nil {
		t.Fatalf("DeleteForPacket failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want 3", deleted)
	}

	history, err := ledger.History(ctx, "packet-1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("got %d remaining runs, want 0", len(history))
	}

	if _, err := ledger.Get(ctx, keep.ID); err != nil {
		t.Errorf("run for another packet was deleted: %v", err)
	}
}
