// Package executor drives batches of work packets through an opaque
// execution collaborator, recording every attempt in the run ledger and
// narrating progress into the owning session.
//
// The package does not know how a packet is actually executed. That is
// the [Executor] collaborator's business: the default [CommandExecutor]
// shells out to a configured command, and tests substitute fakes. The
// [Coordinator] owns everything around the call: session lifecycle,
// run bookkeeping, event narration, concurrency, and cancellation.
package executor

import (
	"context"
	"time"

	"github.com/G-TechSD/Claudia-Coder-sub001/internal/session"
)

// Executor runs a single work packet. Implementations should honor ctx
// cancellation, but the coordinator never force-kills an execution: a
// cancelled ctx is a request, and slow executors simply finish late.
type Executor interface {
	Execute(ctx context.Context, packetID, projectID string) (*Result, error)
}

// Result is the outcome of one packet execution. A nil error with
// Success=false means the packet ran and failed (tests red, patch
// rejected); an error from Execute means the execution itself could
// not happen.
type Result struct {
	Success   bool
	RawOutput string
	Logs      []LogEntry
}

// LogEntry is a line of executor narration, relayed into the session's
// event ledger. Level uses the session event vocabulary ("info",
// "success", "error", "warning", "progress"); unknown levels are
// treated as info.
type LogEntry struct {
	Level   string
	Message string
}

// GateRunner checks project-level quality gates after a batch
// finishes. It is optional; without one, sessions finalize with no
// gate results attached.
type GateRunner interface {
	RunGates(ctx context.Context, projectID string) (*session.QualityGateResults, error)
}

// WithTimeout caps each execution's runtime by deriving a deadline
// context per packet. A timed-out packet reads as a failed run, not a
// cancelled one: only the caller's own ctx marks cancellation.
// timeout <= 0 returns inner unchanged.
func WithTimeout(inner Executor, timeout time.Duration) Executor {
	if timeout <= 0 {
		return inner
	}
	return &timeoutExecutor{inner: inner, timeout: timeout}
}

type timeoutExecutor struct {
	inner   Executor
	timeout time.Duration
}

func (e *timeoutExecutor) Execute(ctx context.Context, packetID, projectID string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.inner.Execute(ctx, packetID, projectID)
}

// eventKind maps an executor log level onto a session event type.
func eventKind(level string) session.EventType {
	kind := session.EventType(level)
	if !kind.Valid() {
		return session.EventInfo
	}
	return kind
}
