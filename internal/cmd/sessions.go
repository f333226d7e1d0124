package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/G-TechSD/Claudia-Coder-sub001/internal/config"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/runledger"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/session"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/util"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage execution sessions",
	Long: `Commands for listing, inspecting, and clearing execution sessions.

Without a subcommand, behaves like 'sessions list'.`,
	RunE: runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List execution sessions",
	Long: `List execution sessions, most recently started first:
- Session id, project, and status
- Progress and packet position
- Start and completion times`,
	RunE: runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session with its event log",
	Long: `Show a single session in full: identity, packet list, quality gate
results, and the complete event log. The id may be an unambiguous
prefix.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsShow,
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all finished sessions",
	Long: `Remove every session in a terminal status (complete, error, or
cancelled). Running sessions are untouched.`,
	RunE: runSessionsClear,
}

var (
	sessionsProject string
	sessionsLimit   int
)

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsClearCmd)

	sessionsCmd.PersistentFlags().StringVarP(&sessionsProject, "project", "p", "", "Only sessions for this project")
	sessionsCmd.PersistentFlags().IntVarP(&sessionsLimit, "limit", "n", 0, "Maximum sessions to list (0 uses session.history_limit)")
}

// openDirectory builds a lock-free read view over the session store.
// Read commands use it so they work while a start or serve process
// owns the write lock.
func openDirectory(cfg *config.Config) (*session.Directory, error) {
	store, err := session.NewStore(cfg.Data.ResolveDir(), cfg.Session.MaxSessions, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return session.NewDirectory(store, nil, nil)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	dir, err := openDirectory(cfg)
	if err != nil {
		return err
	}

	limit := sessionsLimit
	if limit <= 0 {
		limit = cfg.Session.HistoryLimit
	}

	var sessions []*session.ExecutionSession
	if sessionsProject != "" {
		sessions, err = dir.History(sessionsProject, limit)
	} else {
		sessions, err = dir.List(limit)
	}
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	fmt.Println(strings.Repeat("─", 70))
	fmt.Println("Execution Sessions")
	fmt.Println(strings.Repeat("─", 70))

	if len(sessions) == 0 {
		fmt.Println("\nNo sessions found.")
		fmt.Println("Run 'claudia-coder start' to create one.")
		return nil
	}

	fmt.Printf("\nFound %d session(s):\n\n", len(sessions))
	for _, s := range sessions {
		fmt.Printf("  Session: %s\n", s.ID)
		fmt.Printf("    Project:  %s\n", s.ProjectID)
		fmt.Printf("    Status:   %s\n", formatSessionStatus(s))
		fmt.Printf("    Packets:  %d (at index %d)\n", len(s.PacketIDs), s.CurrentPacketIndex)
		fmt.Printf("    Started:  %s\n", s.StartedAt.Format(time.RFC822))
		if s.CompletedAt != nil {
			fmt.Printf("    Finished: %s\n", s.CompletedAt.Format(time.RFC822))
		}
		fmt.Println()
	}

	fmt.Println(strings.Repeat("─", 70))
	fmt.Println("\nTo inspect a session: claudia-coder sessions show <session-id>")
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	dir, err := openDirectory(cfg)
	if err != nil {
		return err
	}

	sess, err := findSessionByPrefix(dir, args[0])
	if err != nil {
		return err
	}

	fmt.Println(strings.Repeat("─", 70))
	fmt.Printf("Session %s\n", sess.ID)
	fmt.Println(strings.Repeat("─", 70))
	fmt.Printf("Project:  %s\n", sess.ProjectID)
	if sess.UserID != "" {
		fmt.Printf("User:     %s\n", sess.UserID)
	}
	fmt.Printf("Status:   %s\n", formatSessionStatus(sess))
	fmt.Printf("Started:  %s\n", sess.StartedAt.Format(time.RFC822))
	if sess.CompletedAt != nil {
		fmt.Printf("Finished: %s\n", sess.CompletedAt.Format(time.RFC822))
	}
	if sess.Error != "" {
		fmt.Printf("Error:    %s\n", sess.Error)
	}

	// Latest run outcomes are decoration; the session still displays
	// when the ledger cannot be opened.
	latest := latestRunOutcomes(cmd, cfg, sess.PacketIDs)

	fmt.Println("\nPackets:")
	for i, id := range sess.PacketIDs {
		cursor := " "
		if i == sess.CurrentPacketIndex && sess.Status == session.StatusRunning {
			cursor = ">"
		}
		if run, ok := latest[id]; ok {
			fmt.Printf("  %s %d. %s [run %d: %s]\n", cursor, i+1, sess.PacketTitle(id), run.Iteration, run.Status)
		} else {
			fmt.Printf("  %s %d. %s\n", cursor, i+1, sess.PacketTitle(id))
		}
	}

	if sess.QualityGates != nil {
		fmt.Println("\nQuality gates:")
		printGateResult("tests", sess.QualityGates.Tests)
		printGateResult("typecheck", sess.QualityGates.TypeCheck)
		printGateResult("build", sess.QualityGates.Build)
	}

	fmt.Printf("\nEvents (%d):\n", len(sess.Events))
	for _, ev := range sess.Events {
		fmt.Printf("  [%s] %-8s %s\n", ev.Timestamp.Format("15:04:05"), ev.Type, util.TruncateString(ev.Message, 100))
		if ev.Detail != "" {
			fmt.Printf("             %s\n", util.TruncateString(ev.Detail, 100))
		}
	}

	return nil
}

func runSessionsClear(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	dir, err := openDirectory(cfg)
	if err != nil {
		return err
	}

	cleared, err := dir.ClearCompleted()
	if err != nil {
		return fmt.Errorf("failed to clear sessions: %w", err)
	}
	if cleared == 0 {
		fmt.Println("No finished sessions to clear.")
		return nil
	}

	fmt.Printf("Cleared %d finished session(s)\n", cleared)
	return nil
}

// latestRunOutcomes fetches the newest ledger run per packet. Returns
// an empty map when the ledger is unavailable.
func latestRunOutcomes(cmd *cobra.Command, cfg *config.Config, packetIDs []string) map[string]*runledger.PacketRun {
	db, ledger, err := openLedger(cfg)
	if err != nil {
		return nil
	}
	defer db.Close()

	latest, err := ledger.LatestRuns(cmd.Context(), packetIDs)
	if err != nil {
		return nil
	}
	return latest
}

// findSessionByPrefix resolves an exact session id, or an unambiguous
// id prefix.
func findSessionByPrefix(dir *session.Directory, id string) (*session.ExecutionSession, error) {
	sess, err := dir.GetSession(id)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}

	all, err := dir.List(0)
	if err != nil {
		return nil, err
	}
	var matches []*session.ExecutionSession
	for _, s := range all {
		if strings.HasPrefix(s.ID, id) {
			matches = append(matches, s)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, fmt.Errorf("session not found: %s", id)
	default:
		return nil, fmt.Errorf("session id %s is ambiguous (%d matches)", id, len(matches))
	}
}

func formatSessionStatus(s *session.ExecutionSession) string {
	if s.Status == session.StatusRunning {
		return fmt.Sprintf("running (%d%%)", s.Progress)
	}
	return string(s.Status)
}

func printGateResult(name string, g session.GateResult) {
	verdict := "failed"
	if g.Success {
		verdict = "passed"
	}
	fmt.Printf("  %-10s %s\n", name, verdict)
}
