package runledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/G-TechSD/Claudia-Coder-sub001/internal/errors"
)

// Ledger is the repository for packet runs.
type Ledger struct {
	db *DB
}

// NewLedger creates a ledger over the given database.
func NewLedger(db *DB) *Ledger {
	return &Ledger{db: db}
}

// HealthCheck verifies the underlying database is reachable.
func (l *Ledger) HealthCheck(ctx context.Context) error {
	return l.db.HealthCheck(ctx)
}

// StartRun records a new attempt at a packet. The iteration is
// allocated as 1 + the packet's highest existing iteration, inside the
// insert transaction, so concurrent starts for the same packet cannot
// collide or leave gaps.
func (l *Ledger) StartRun(ctx context.Context, packetID, projectID string) (*PacketRun, error) {
	if packetID == "" {
		return nil, errors.NewValidationError("packet id is required").WithField("packetId")
	}
	if projectID == "" {
		return nil, errors.NewValidationError("project id is required").WithField("projectId")
	}

	run := &PacketRun{
		ID:        uuid.New().String(),
		PacketID:  packetID,
		ProjectID: projectID,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	err := l.db.Transaction(ctx, func(tx *sql.Tx) error {
		var maxIteration int
		row := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(iteration), 0) FROM packet_runs WHERE packet_id = ?`, packetID)
		if err := row.Scan(&maxIteration); err != nil {
			return fmt.Errorf("failed to read iteration counter: %w", err)
		}
		run.Iteration = maxIteration + 1

		_, err := tx.ExecContext(ctx, `
			INSERT INTO packet_runs (
				id, packet_id, project_id, iteration, status,
				started_at, completed_at, output, exit_code, rating, comment
			) VALUES (?, ?, ?, ?, ?, ?, NULL, '', NULL, NULL, '')
		`,
			run.ID,
			run.PacketID,
			run.ProjectID,
			run.Iteration,
			string(run.Status),
			run.StartedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("failed to insert packet run: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return run, nil
}

// Get retrieves a run by id. Returns ErrRunNotFound when it does not
// exist.
func (l *Ledger) Get(ctx context.Context, runID string) (*PacketRun, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, packet_id, project_id, iteration, status,
			started_at, completed_at, output, exit_code, rating, comment
		FROM packet_runs WHERE id = ?
	`, runID)

	return scanRun(row)
}

// CompleteRun finalizes a run with a terminal status, stamping
// completedAt once. Completing an already-terminal run is a no-op that
// returns the stored record, so a cancel racing a natural finish
// cannot produce two outcomes. Returns ErrRunNotFound on unknown ids
// and a validation error when the target status is not terminal.
func (l *Ledger) CompleteRun(ctx context.Context, runID string, status RunStatus, output string, exitCode *int) (*PacketRun, error) {
	if !status.Terminal() {
		return nil, errors.NewValidationError(fmt.Sprintf("completion status must be terminal, got %q", status)).WithField("status")
	}

	var run *PacketRun
	err := l.db.Transaction(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, packet_id, project_id, iteration, status,
				started_at, completed_at, output, exit_code, rating, comment
			FROM packet_runs WHERE id = ?
		`, runID)
		existing, err := scanRun(row)
		if err != nil {
			return err
		}
		if existing.Terminal() {
			run = existing
			return nil
		}

		completedAt := time.Now().UTC()
		_, err = tx.ExecContext(ctx, `
			UPDATE packet_runs
			SET status = ?, completed_at = ?, output = ?, exit_code = ?
			WHERE id = ?
		`,
			string(status),
			completedAt.Format(time.RFC3339Nano),
			output,
			exitCode,
			runID,
		)
		if err != nil {
			return fmt.Errorf("failed to update packet run: %w", err)
		}

		existing.Status = status
		existing.CompletedAt = &completedAt
		existing.Output = output
		existing.ExitCode = exitCode
		run = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// AttachFeedback records a 1-5 rating and optional comment on a
// finished run. Feedback on a still-running run is refused with
// ErrRunNotTerminal: the rating judges an outcome, and the outcome
// does not exist yet.
func (l *Ledger) AttachFeedback(ctx context.Context, runID string, rating int, comment string) (*PacketRun, error) {
	if rating < 1 || rating > 5 {
		return nil, errors.NewValidationError("rating must be between 1 and 5").WithField("rating").WithValue(rating)
	}

	var run *PacketRun
	err := l.db.Transaction(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, packet_id, project_id, iteration, status,
				started_at, completed_at, output, exit_code, rating, comment
			FROM packet_runs WHERE id = ?
		`, runID)
		existing, err := scanRun(row)
		if err != nil {
			return err
		}
		if !existing.Terminal() {
			return fmt.Errorf("%w: run %s has no outcome to rate", errors.ErrRunNotTerminal, runID)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE packet_runs SET rating = ?, comment = ? WHERE id = ?
		`, rating, comment, runID)
		if err != nil {
			return fmt.Errorf("failed to attach feedback: %w", err)
		}

		existing.Rating = &rating
		existing.Comment = comment
		run = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// History returns every run for a packet, oldest first, so iteration N
// is at index N-1.
func (l *Ledger) History(ctx context.Context, packetID string) ([]*PacketRun, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, packet_id, project_id, iteration, status,
			started_at, completed_at, output, exit_code, rating, comment
		FROM packet_runs
		WHERE packet_id = ?
		ORDER BY iteration ASC
	`, packetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query packet runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*PacketRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LatestRuns returns the newest run per packet, keyed by packet id.
// Packets with no runs are simply absent from the result. Session
// summary views use this to show each packet's latest outcome without
// duplicating run state into the session record.
func (l *Ledger) LatestRuns(ctx context.Context, packetIDs []string) (map[string]*PacketRun, error) {
	latest := make(map[string]*PacketRun, len(packetIDs))
	for _, packetID := range packetIDs {
		row := l.db.QueryRowContext(ctx, `
			SELECT id, packet_id, project_id, iteration, status,
				started_at, completed_at, output, exit_code, rating, comment
			FROM packet_runs
			WHERE packet_id = ?
			ORDER BY iteration DESC
			LIMIT 1
		`, packetID)
		run, err := scanRun(row)
		if err != nil {
			if errors.Is(err, errors.ErrRunNotFound) {
				continue
			}
			return nil, err
		}
		latest[packetID] = run
	}
	return latest, nil
}

// CountRunning returns the number of running runs for a project.
func (l *Ledger) CountRunning(ctx context.Context, projectID string) (int, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM packet_runs
		WHERE project_id = ? AND status = ?
	`, projectID, string(RunStatusRunning))

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count running runs: %w", err)
	}
	return count, nil
}

// DeleteForPacket removes all runs for a packet and returns how many
// were deleted. Called when the owning packet is deleted; there is no
// finer-grained deletion.
func (l *Ledger) DeleteForPacket(ctx context.Context, packetID string) (int, error) {
	result, err := l.db.ExecContext(ctx, `DELETE FROM packet_runs WHERE packet_id = ?`, packetID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete packet runs: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// scanRun hydrates a PacketRun from a row.
func scanRun(scanner interface{ Scan(...any) error }) (*PacketRun, error) {
	var (
		id          string
		packetID    string
		projectID   string
		iteration   int
		status      string
		startedAt   string
		completedAt sql.NullString
		output      string
		exitCode    sql.NullInt64
		rating      sql.NullInt64
		comment     string
	)

	if err := scanner.Scan(
		&id,
		&packetID,
		&projectID,
		&iteration,
		&status,
		&startedAt,
		&completedAt,
		&output,
		&exitCode,
		&rating,
		&comment,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to scan packet run: %w", err)
	}

	run := &PacketRun{
		ID:        id,
		PacketID:  packetID,
		ProjectID: projectID,
		Iteration: iteration,
		Status:    RunStatus(status),
		Output:    output,
		Comment:   comment,
	}

	if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		run.StartedAt = t
	}
	if completedAt.Valid && completedAt.String != "" {
		if t, err := time.Parse(time.RFC3339Nano, completedAt.String); err == nil {
			run.CompletedAt = &t
		}
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}
	if rating.Valid {
		r := int(rating.Int64)
		run.Rating = &r
	}

	return run, nil
}
