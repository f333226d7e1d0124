package executor

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/G-TechSD/Claudia-Coder-sub001/internal/errors"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/event"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/logging"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/runledger"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/session"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/util"
)

// ConcurrencyAll lifts the concurrency limit: every packet in the
// batch is launched at once.
const ConcurrencyAll = 0

// Options control how a batch is driven.
type Options struct {
	// Concurrency is the maximum number of packets in flight at once.
	// 1 runs the batch strictly in order; ConcurrencyAll launches
	// everything together.
	Concurrency int

	// FailFast stops launching new packets after the first failure and
	// finalizes the session as errored. The default keeps going:
	// failures are recorded per run and the batch continues.
	FailFast bool

	// PacketTitles maps packet ids to display titles used in session
	// events. Missing entries fall back to the id.
	PacketTitles map[string]string
}

// Config holds the dependencies for constructing a Coordinator.
type Config struct {
	Sessions *session.Manager
	Ledger   *runledger.Ledger
	Executor Executor
	Gates    GateRunner // optional
	Bus      *event.Bus // optional
	Logger   *logging.Logger
}

// Coordinator drives ordered packet batches: one session per batch,
// one ledger run per launched packet, progress and narration appended
// to the session as packets finish.
type Coordinator struct {
	sessions *session.Manager
	ledger   *runledger.Ledger
	executor Executor
	gates    GateRunner
	bus      *event.Bus
	logger   *logging.Logger

	mu      sync.Mutex
	current *batch
}

// NewCoordinator creates a coordinator from the given config.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("executor: coordinator requires a non-nil session manager")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("executor: coordinator requires a non-nil run ledger")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor: coordinator requires a non-nil executor")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}

	return &Coordinator{
		sessions: cfg.Sessions,
		ledger:   cfg.Ledger,
		executor: cfg.Executor,
		gates:    cfg.Gates,
		bus:      cfg.Bus,
		logger:   logger.WithComponent("coordinator"),
	}, nil
}

// batch is the mutable state of one Run invocation.
type batch struct {
	sess      *session.ExecutionSession
	projectID string
	total     int
	failFast  bool
	titles    map[string]string

	mu         sync.Mutex
	launched   int
	finished   int
	inflight   map[string]inflightEntry
	stopLaunch bool   // no further packets may launch
	stopBatch  bool   // batch abandoned: in-flight runs finish as cancelled
	failed     string // first packet to fail
}

type inflightEntry struct {
	runID     string
	iteration int
	cancel    context.CancelFunc
}

func (b *batch) title(packetID string) string {
	if t, ok := b.titles[packetID]; ok && t != "" {
		return t
	}
	return packetID
}

func (b *batch) launchGate() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopLaunch {
		return false
	}
	b.launched++
	return true
}

func (b *batch) requestStop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLaunch = true
	b.stopBatch = true
}

func (b *batch) stopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopBatch
}

func (b *batch) noteFailure(packetID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failed == "" {
		b.failed = packetID
	}
	if b.failFast {
		b.stopLaunch = true
	}
}

func (b *batch) failedPacket() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failed
}

func (b *batch) track(packetID string, e inflightEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inflight[packetID] = e
}

// untrack removes a packet from the in-flight set and reports whether
// it was still present. The remover owns the run's narration; a worker
// that finds its entry already gone knows HandleStop finished the run.
func (b *batch) untrack(packetID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.inflight[packetID]
	delete(b.inflight, packetID)
	return ok
}

// takeInflight claims an in-flight packet for stopping. The second
// result reports whether this was the last live packet with nothing
// left to launch, in which case the whole batch is marked abandoned.
func (b *batch) takeInflight(packetID string) (inflightEntry, bool, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.inflight[packetID]
	if !ok {
		return inflightEntry{}, false, false
	}
	delete(b.inflight, packetID)
	last := len(b.inflight) == 0 && (b.launched == b.total || b.stopLaunch)
	if last {
		b.stopLaunch = true
		b.stopBatch = true
	}
	return e, true, last
}

func (b *batch) finishOne() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finished++
	return b.finished, b.total
}

// Run executes a batch of packets for a project, blocking until the
// session reaches a terminal status. It refuses to start while the
// project already has a running session; callers restore that session
// instead of creating a rival.
func (c *Coordinator) Run(ctx context.Context, projectID, userID string, packetIDs []string, opts Options) (*session.ExecutionSession, error) {
	active, err := c.sessions.ActiveSessionForProject(projectID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("%w: session %s is still running for project %s",
			errors.ErrSessionActive, active.ID, projectID)
	}

	sess, err := c.sessions.CreateSession(projectID, packetIDs, userID, session.CreateOptions{
		PacketTitles: opts.PacketTitles,
	})
	if err != nil {
		return nil, err
	}

	b := &batch{
		sess:      sess,
		projectID: projectID,
		total:     len(packetIDs),
		failFast:  opts.FailFast,
		titles:    opts.PacketTitles,
		inflight:  make(map[string]inflightEntry),
	}

	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return nil, errors.NewValidationError("coordinator is already driving a batch")
	}
	c.current = b
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.current = nil
		c.mu.Unlock()
	}()

	if c.bus != nil {
		subID := c.bus.Subscribe("packet.stop_requested", func(e event.Event) {
			req, ok := e.(event.StopRequestedEvent)
			if !ok {
				return
			}
			if req.SessionID == "" || req.SessionID == sess.ID {
				c.HandleStop(req.PacketID)
			}
		})
		defer c.bus.Unsubscribe(subID)
	}

	c.logger.Info("batch started",
		"session_id", sess.ID,
		"project_id", projectID,
		"packets", len(packetIDs),
		"concurrency", opts.Concurrency,
		"fail_fast", opts.FailFast,
	)

	limit := opts.Concurrency
	if limit <= 0 || limit > len(packetIDs) {
		limit = len(packetIDs)
	}

	p := pool.New().WithMaxGoroutines(limit)
	for i, packetID := range packetIDs {
		p.Go(func() {
			c.runPacket(ctx, b, i, packetID)
		})
	}
	p.Wait()

	return c.finalize(ctx, b)
}

// Stop abandons the current batch. No further packets launch; packets
// already in flight finish naturally and their runs are recorded as
// cancelled. Safe to call when no batch is running.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	b := c.current
	c.mu.Unlock()
	if b == nil {
		return
	}
	b.requestStop()
	c.logger.Info("batch stop requested", "session_id", b.sess.ID)
}

// HandleStop cancels a single in-flight packet: its execution ctx is
// cancelled, its run is recorded as cancelled, and a warning lands in
// the session. Stopping the last live packet when nothing remains to
// launch abandons the whole batch. Returns false when the packet is
// not currently in flight.
func (c *Coordinator) HandleStop(packetID string) bool {
	c.mu.Lock()
	b := c.current
	c.mu.Unlock()
	if b == nil {
		return false
	}

	entry, ok, last := b.takeInflight(packetID)
	if !ok {
		return false
	}
	entry.cancel()

	if _, err := c.ledger.CompleteRun(context.Background(), entry.runID, runledger.RunStatusCancelled, "stopped on request", nil); err != nil {
		c.logger.Error("failed to cancel packet run",
			"packet_id", packetID,
			"run_id", entry.runID,
			"error", err,
		)
	}

	c.appendEvent(b.sess.ID, session.EventWarning, fmt.Sprintf("Packet %s stopped", b.title(packetID)))
	c.publish(event.NewRunCompletedEvent(entry.runID, packetID, string(runledger.RunStatusCancelled), -1, entry.iteration))

	c.logger.Info("packet stopped",
		"session_id", b.sess.ID,
		"packet_id", packetID,
		"last_in_flight", last,
	)
	return true
}

// runPacket drives one packet end to end: ledger run, start event,
// execution, completion, progress.
func (c *Coordinator) runPacket(ctx context.Context, b *batch, index int, packetID string) {
	if ctx.Err() != nil {
		b.requestStop()
		return
	}
	if !b.launchGate() {
		return
	}

	title := b.title(packetID)
	logger := c.logger.WithSession(b.sess.ID).WithPacket(packetID)

	// Ledger and session writes use a background ctx: bookkeeping for
	// work that already happened must survive caller cancellation.
	run, err := c.ledger.StartRun(context.Background(), packetID, b.projectID)
	if err != nil {
		logger.Error("failed to start packet run", "error", err)
		c.appendEvent(b.sess.ID, session.EventError, fmt.Sprintf("Packet %s could not start: %v", title, err))
		b.noteFailure(packetID)
		c.noteProgress(b)
		return
	}

	packetCtx, cancelPacket := context.WithCancel(ctx)
	defer cancelPacket()
	b.track(packetID, inflightEntry{runID: run.ID, iteration: run.Iteration, cancel: cancelPacket})

	c.appendEvent(b.sess.ID, session.EventInfo, fmt.Sprintf("Starting packet %s (run %d)", title, run.Iteration))
	c.setCurrentIndex(b.sess.ID, index)
	c.publish(event.NewRunStartedEvent(run.ID, packetID, b.projectID, b.sess.ID, run.Iteration))

	res, execErr := c.executor.Execute(packetCtx, packetID, b.projectID)

	var (
		status   runledger.RunStatus
		output   string
		exitCode *int
	)
	switch {
	case packetCtx.Err() != nil || b.stopped():
		status = runledger.RunStatusCancelled
		switch {
		case res != nil:
			output = res.RawOutput
		case execErr != nil:
			output = execErr.Error()
		default:
			output = "execution stopped"
		}
	case execErr != nil:
		status = runledger.RunStatusFailed
		output = execErr.Error()
	case res.Success:
		status = runledger.RunStatusCompleted
		output = res.RawOutput
		code := 0
		exitCode = &code
	default:
		status = runledger.RunStatusFailed
		output = res.RawOutput
		code := 1
		exitCode = &code
	}

	// HandleStop may have claimed this run while it executed; the
	// claimer completes the run and narrates, the loser only counts.
	owned := b.untrack(packetID)

	if owned {
		if _, err := c.ledger.CompleteRun(context.Background(), run.ID, status, output, exitCode); err != nil {
			logger.Error("failed to complete packet run", "run_id", run.ID, "error", err)
		}

		if res != nil {
			for _, line := range res.Logs {
				c.appendEvent(b.sess.ID, eventKind(line.Level), line.Message)
			}
		}

		switch status {
		case runledger.RunStatusCompleted:
			c.appendEvent(b.sess.ID, session.EventSuccess, fmt.Sprintf("Packet %s completed (run %d)", title, run.Iteration))
		case runledger.RunStatusCancelled:
			c.appendEvent(b.sess.ID, session.EventWarning, fmt.Sprintf("Packet %s stopped", title))
		default:
			if execErr != nil {
				c.appendEvent(b.sess.ID, session.EventError, fmt.Sprintf("Packet %s failed: %v", title, execErr))
			} else {
				// The full output lives on the ledger run; the session
				// log carries a one-line hint for replaying observers.
				c.appendEventDetail(b.sess.ID, session.EventError,
					fmt.Sprintf("Packet %s failed (run %d)", title, run.Iteration),
					util.TruncateString(util.FirstLine(output), 160))
			}
		}

		eventExit := -1
		if exitCode != nil {
			eventExit = *exitCode
		}
		c.publish(event.NewRunCompletedEvent(run.ID, packetID, string(status), eventExit, run.Iteration))
	}

	if status == runledger.RunStatusFailed {
		b.noteFailure(packetID)
	}
	c.noteProgress(b)

	logger.Debug("packet finished",
		"run_id", run.ID,
		"iteration", run.Iteration,
		"status", string(status),
	)
}

// noteProgress counts one finished packet and narrates the new
// aggregate progress into the session.
func (c *Coordinator) noteProgress(b *batch) {
	finished, total := b.finishOne()
	progress := int(math.Round(float64(finished) / float64(total) * 100))

	if _, err := c.sessions.UpdateSession(b.sess.ID, session.Update{Progress: &progress}); err != nil {
		c.logger.Warn("failed to update session progress", "session_id", b.sess.ID, "error", err)
	}
	c.appendEvent(b.sess.ID, session.EventProgress, fmt.Sprintf("Progress: %d%% (%d/%d packets)", progress, finished, total))
}

// finalize runs quality gates when appropriate and moves the session
// to its terminal status.
func (c *Coordinator) finalize(ctx context.Context, b *batch) (*session.ExecutionSession, error) {
	status := session.StatusComplete
	errMsg := ""
	switch {
	case b.stopped() || ctx.Err() != nil:
		status = session.StatusCancelled
	case b.failFast && b.failedPacket() != "":
		status = session.StatusError
		errMsg = fmt.Sprintf("packet %s failed", b.title(b.failedPacket()))
	}

	var gates *session.QualityGateResults
	if c.gates != nil && status != session.StatusCancelled {
		results, err := c.gates.RunGates(ctx, b.projectID)
		if err != nil {
			c.logger.Warn("quality gates did not run", "session_id", b.sess.ID, "error", err)
			c.appendEvent(b.sess.ID, session.EventWarning, fmt.Sprintf("Quality gates skipped: %v", err))
		} else if results != nil {
			gates = results
			if results.Passed {
				c.appendEvent(b.sess.ID, session.EventSuccess, "Quality gates passed")
			} else {
				c.appendEvent(b.sess.ID, session.EventError, "Quality gates failed")
			}
		}
	}

	final, err := c.sessions.CompleteSession(b.sess.ID, session.ExecutionResult{
		Status:       status,
		Error:        errMsg,
		QualityGates: gates,
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("batch finished",
		"session_id", b.sess.ID,
		"status", string(status),
		"failed_packet", b.failedPacket(),
	)
	return final, nil
}

func (c *Coordinator) appendEvent(sessionID string, kind session.EventType, message string) {
	if _, err := c.sessions.AddEvent(sessionID, session.ExecutionEvent{Type: kind, Message: message}); err != nil {
		c.logger.Warn("failed to append session event", "session_id", sessionID, "error", err)
	}
}

func (c *Coordinator) appendEventDetail(sessionID string, kind session.EventType, message, detail string) {
	if _, err := c.sessions.AddEvent(sessionID, session.NewEventDetail(kind, message, detail)); err != nil {
		c.logger.Warn("failed to append session event", "session_id", sessionID, "error", err)
	}
}

func (c *Coordinator) setCurrentIndex(sessionID string, index int) {
	if _, err := c.sessions.UpdateSession(sessionID, session.Update{CurrentPacketIndex: &index}); err != nil {
		c.logger.Warn("failed to update current packet index", "session_id", sessionID, "error", err)
	}
}

func (c *Coordinator) publish(ev event.Event) {
	if c.bus != nil {
		c.bus.Publish(ev)
	}
}
