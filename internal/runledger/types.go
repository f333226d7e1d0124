package runledger

import "time"

// RunStatus describes the lifecycle state of a packet run.
type RunStatus string

const (
	// RunStatusRunning means the packet is currently executing.
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted means the run finished successfully.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed means the run finished with a failure.
	RunStatusFailed RunStatus = "failed"
	// RunStatusCancelled means the run was stopped before finishing.
	RunStatusCancelled RunStatus = "cancelled"
)

// Valid reports whether s is one of the known run statuses.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is a final state.
func (s RunStatus) Terminal() bool {
	return s.Valid() && s != RunStatusRunning
}

// PacketRun is one attempt at executing a packet. Iterations for a
// packet are 1-based and contiguous: run N+1 exists only after run N.
// Runs are never deleted individually, only alongside their owning
// packet, which keeps the iteration sequence gapless.
//
// Runs cross-reference sessions through time and packet id rather than
// carrying a session id: the ledger is the durable per-packet history,
// the session is the per-batch view.
type PacketRun struct {
	ID          string     `json:"id"`
	PacketID    string     `json:"packetId"`
	ProjectID   string     `json:"projectId"`
	Iteration   int        `json:"iteration"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Output      string     `json:"output,omitempty"`
	ExitCode    *int       `json:"exitCode,omitempty"`
	Rating      *int       `json:"rating,omitempty"`
	Comment     string     `json:"comment,omitempty"`
}

// Terminal reports whether the run reached a final status.
func (r *PacketRun) Terminal() bool {
	return r.Status.Terminal()
}

// Rated reports whether feedback has been attached.
func (r *PacketRun) Rated() bool {
	return r.Rating != nil
}
