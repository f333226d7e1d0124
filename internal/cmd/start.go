package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/G-TechSD/Claudia-Coder-sub001/internal/config"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/event"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/executor"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/logging"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/runledger"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/session"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run a batch of work packets against a project",
	Long: `Start creates an execution session for the given packets and drives
them with the configured executor command. Session events stream to
stdout as the batch progresses; the session record and per-packet runs
are persisted under the data directory.

A project can only have one running session at a time; start refuses
while one is active. Press Ctrl+C to cancel the batch: in-flight
packets are asked to stop and the session finalizes as cancelled.`,
	RunE: runStart,
}

var (
	startProject     string
	startUser        string
	startPackets     []string
	startTitles      []string
	startConcurrency string
	startFailFast    bool
	startDir         string
)

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().StringVarP(&startProject, "project", "p", "", "Project id the batch runs against (required)")
	startCmd.Flags().StringVarP(&startUser, "user", "u", "", "User id recorded on the session")
	startCmd.Flags().StringSliceVar(&startPackets, "packets", nil, "Ordered packet ids, comma separated (required)")
	startCmd.Flags().StringArrayVar(&startTitles, "title", nil, "Packet display title as id=title (repeatable)")
	startCmd.Flags().StringVar(&startConcurrency, "concurrency", "", "Packets in flight at once: a number, or 'all'")
	startCmd.Flags().BoolVar(&startFailFast, "fail-fast", false, "Stop launching packets after the first failure")
	startCmd.Flags().StringVar(&startDir, "dir", "", "Working directory for the executor command")
	_ = startCmd.MarkFlagRequired("project")
	_ = startCmd.MarkFlagRequired("packets")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	dataDir := cfg.Data.ResolveDir()

	concurrency := cfg.Executor.Concurrency
	if startConcurrency != "" {
		parsed, err := parseConcurrency(startConcurrency)
		if err != nil {
			return err
		}
		concurrency = parsed
	}
	failFast := cfg.Executor.FailFast
	if cmd.Flags().Changed("fail-fast") {
		failFast = startFailFast
	}
	titles, err := parseTitles(startTitles)
	if err != nil {
		return err
	}

	// Arguments are valid; a failing batch from here on is a runtime
	// outcome, not a usage mistake.
	cmd.SilenceUsage = true

	logger, err := newCommandLogger(cfg, dataDir)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer logger.Close()

	store, err := session.NewStore(dataDir, cfg.Session.MaxSessions, logger)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}

	bus := event.NewBus()
	mgr, err := session.NewManager(store, bus, logger)
	if err != nil {
		return fmt.Errorf("failed to open session manager: %w", err)
	}
	defer mgr.Close()

	cleaned, err := mgr.CleanupStaleSessions(cfg.Session.StaleAge())
	if err != nil {
		return fmt.Errorf("failed to sweep stale sessions: %w", err)
	}
	if cleaned > 0 {
		fmt.Printf("Marked %d stale session(s) as failed\n", cleaned)
	}

	db, err := runledger.Open(runledger.DefaultConfig(filepath.Join(dataDir, runledger.RunsDBFileName)), logger)
	if err != nil {
		return fmt.Errorf("failed to open run ledger: %w", err)
	}
	defer db.Close()
	ledger := runledger.NewLedger(db)

	exe := executor.NewCommandExecutor(cfg.Executor.Command, logger)
	if len(cfg.Executor.Args) > 0 {
		exe.SetArgs(cfg.Executor.Args)
	}
	if startDir != "" {
		exe.SetDir(startDir)
	}

	coord, err := executor.NewCoordinator(executor.Config{
		Sessions: mgr,
		Ledger:   ledger,
		Executor: executor.WithTimeout(exe, cfg.Executor.Timeout()),
		Bus:      bus,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	// Mirror session narration onto the terminal as it happens.
	bus.Subscribe("session.event", func(e event.Event) {
		if ev, ok := e.(event.SessionEventAddedEvent); ok {
			printSessionEvent(ev)
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Starting %d packet(s) for project %s\n", len(startPackets), startProject)

	sess, err := coord.Run(ctx, startProject, startUser, startPackets, executor.Options{
		Concurrency:  concurrency,
		FailFast:     failFast,
		PacketTitles: titles,
	})
	if err != nil {
		return err
	}

	printSessionSummary(sess)

	if sess.Status != session.StatusComplete {
		return fmt.Errorf("execution finished with status %s", sess.Status)
	}
	return nil
}

// newCommandLogger builds the debug logger the way every command does:
// file-backed in the data directory when logging is enabled, discarded
// otherwise.
func newCommandLogger(cfg *config.Config, dataDir string) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	return logging.NewLoggerWithRoll(dataDir, cfg.Logging.Level, logging.RollConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
}

// parseConcurrency interprets the --concurrency flag: a positive
// number, or "all" to launch every packet at once.
func parseConcurrency(raw string) (int, error) {
	if strings.EqualFold(raw, "all") {
		return executor.ConcurrencyAll, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid concurrency %q: want a positive number or 'all'", raw)
	}
	return n, nil
}

// parseTitles splits repeated id=title flags into the title map.
func parseTitles(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	titles := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		id, title, ok := strings.Cut(pair, "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid title %q: want id=title", pair)
		}
		titles[id] = title
	}
	return titles, nil
}

// printSessionEvent renders one session event for the terminal.
func printSessionEvent(ev event.SessionEventAddedEvent) {
	marker := "•"
	switch session.EventType(ev.Kind) {
	case session.EventSuccess:
		marker = "✓"
	case session.EventError:
		marker = "✗"
	case session.EventWarning:
		marker = "!"
	case session.EventProgress:
		marker = "→"
	}
	fmt.Printf("  %s %s\n", marker, ev.Message)
}

// printSessionSummary renders the final session record after a batch.
func printSessionSummary(sess *session.ExecutionSession) {
	fmt.Println()
	fmt.Println(strings.Repeat("─", 70))
	fmt.Printf("Session:  %s\n", sess.ID)
	fmt.Printf("Status:   %s\n", sess.Status)
	fmt.Printf("Progress: %d%%\n", sess.Progress)
	if sess.Error != "" {
		fmt.Printf("Error:    %s\n", sess.Error)
	}
	if sess.QualityGates != nil {
		verdict := "failed"
		if sess.QualityGates.Passed {
			verdict = "passed"
		}
		fmt.Printf("Gates:    %s\n", verdict)
	}
	fmt.Println(strings.Repeat("─", 70))
}
