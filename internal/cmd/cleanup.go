package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/G-TechSD/Claudia-Coder-sub001/internal/config"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/event"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/session"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Mark stale running sessions as failed",
	Long: `Cleanup finds sessions that still claim to be running but whose
process is long gone, and marks them as failed. A session counts as
stale once it has been running longer than --max-age.

Use --dry-run to see what would be cleaned up without making changes.`,
	RunE: runCleanup,
}

var (
	cleanupDryRun bool
	cleanupForce  bool
	cleanupMaxAge time.Duration
)

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be cleaned up without making changes")
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().DurationVar(&cleanupMaxAge, "max-age", 0, "Age past which a running session counts as stale (0 uses session.stale_age_minutes)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	maxAge := cleanupMaxAge
	if maxAge <= 0 {
		maxAge = cfg.Session.StaleAge()
	}

	dir, err := openDirectory(cfg)
	if err != nil {
		return err
	}
	stale, err := findStaleSessions(dir, maxAge)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if len(stale) == 0 {
		fmt.Println("No stale sessions found. Nothing to clean up.")
		return nil
	}

	fmt.Println(strings.Repeat("─", 60))
	fmt.Println("Stale Sessions Found")
	fmt.Println(strings.Repeat("─", 60))
	fmt.Printf("\nRunning longer than %s (%d):\n", maxAge, len(stale))
	for _, s := range stale {
		fmt.Printf("  - %s (project %s, started %s)\n", s.ID, s.ProjectID, s.StartedAt.Format(time.RFC822))
	}

	if cleanupDryRun {
		fmt.Println("\nDry run mode - no changes made.")
		return nil
	}

	if !cleanupForce {
		fmt.Print("\nMark these sessions as failed? [y/N] ")
		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Cleanup cancelled.")
			return nil
		}
	}

	dataDir := cfg.Data.ResolveDir()
	logger, err := newCommandLogger(cfg, dataDir)
	if err != nil {
		return err
	}
	defer logger.Close()

	store, err := session.NewStore(dataDir, cfg.Session.MaxSessions, logger)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	mgr, err := session.NewManager(store, event.NewBus(), logger)
	if err != nil {
		return fmt.Errorf("failed to open session manager: %w", err)
	}
	defer mgr.Close()

	cleaned, err := mgr.CleanupStaleSessions(maxAge)
	if err != nil {
		return fmt.Errorf("failed to clean up sessions: %w", err)
	}

	fmt.Printf("\nCleanup complete. Marked %d session(s) as failed.\n", cleaned)
	return nil
}

// findStaleSessions reports running sessions older than maxAge without
// taking the write lock. The actual sweep re-checks under the lock, so
// this list is advisory.
func findStaleSessions(dir *session.Directory, maxAge time.Duration) ([]*session.ExecutionSession, error) {
	all, err := dir.List(0)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-maxAge)
	var stale []*session.ExecutionSession
	for _, s := range all {
		if s.Active() && s.StartedAt.Before(cutoff) {
			stale = append(stale, s)
		}
	}
	return stale, nil
}
