package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/G-TechSD/Claudia-Coder-sub001/internal/config"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/runledger"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/util"
)

var runsCmd = &cobra.Command{
	Use:   "runs <packet-id>",
	Short: "Show the run history for a packet",
	Long: `Show every recorded run for a packet, oldest first, with iteration
number, outcome, duration, and any feedback attached to it.`,
	Args: cobra.ExactArgs(1),
	RunE: runRunsHistory,
}

var runsRateCmd = &cobra.Command{
	Use:   "rate <run-id>",
	Short: "Attach a rating and comment to a finished run",
	Long: `Attach feedback to a finished run. Ratings are 1 (poor) to 5
(excellent); the comment is optional. Feedback on a run that is still
running is refused.`,
	Args: cobra.ExactArgs(1),
	RunE: runRunsRate,
}

var (
	runsRating  int
	runsComment string
)

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsRateCmd)

	runsRateCmd.Flags().IntVar(&runsRating, "rating", 0, "Rating from 1 to 5 (required)")
	runsRateCmd.Flags().StringVar(&runsComment, "comment", "", "Optional feedback comment")
	_ = runsRateCmd.MarkFlagRequired("rating")
}

// openLedger opens the run ledger database. The ledger coordinates its
// own concurrent access through SQLite, so no session lock is needed.
func openLedger(cfg *config.Config) (*runledger.DB, *runledger.Ledger, error) {
	path := filepath.Join(cfg.Data.ResolveDir(), runledger.RunsDBFileName)
	db, err := runledger.Open(runledger.DefaultConfig(path), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open run ledger: %w", err)
	}
	return db, runledger.NewLedger(db), nil
}

func runRunsHistory(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	db, ledger, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	packetID := args[0]
	runs, err := ledger.History(cmd.Context(), packetID)
	if err != nil {
		return fmt.Errorf("failed to load run history: %w", err)
	}

	fmt.Println(strings.Repeat("─", 70))
	fmt.Printf("Runs for packet %s\n", packetID)
	fmt.Println(strings.Repeat("─", 70))

	if len(runs) == 0 {
		fmt.Println("\nNo runs recorded for this packet.")
		return nil
	}

	fmt.Printf("\nFound %d run(s):\n\n", len(runs))
	for _, r := range runs {
		fmt.Printf("  Run %d: %s\n", r.Iteration, r.ID)
		fmt.Printf("    Status:   %s\n", r.Status)
		fmt.Printf("    Started:  %s\n", r.StartedAt.Format(time.RFC822))
		if r.CompletedAt != nil {
			fmt.Printf("    Duration: %s\n", r.CompletedAt.Sub(r.StartedAt).Round(time.Second))
		}
		if r.ExitCode != nil {
			fmt.Printf("    Exit:     %d\n", *r.ExitCode)
		}
		if r.Rated() {
			fmt.Printf("    Rating:   %d/5\n", *r.Rating)
			if r.Comment != "" {
				fmt.Printf("    Comment:  %s\n", r.Comment)
			}
		}
		if preview := util.FirstLine(r.Output); preview != "" {
			fmt.Printf("    Output:   %s\n", util.TruncateString(preview, 60))
		}
		fmt.Println()
	}

	fmt.Println(strings.Repeat("─", 70))
	fmt.Println("\nTo rate a run: claudia-coder runs rate <run-id> --rating <1-5>")
	return nil
}

func runRunsRate(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	db, ledger, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	run, err := ledger.AttachFeedback(ctx, args[0], runsRating, runsComment)
	if err != nil {
		return fmt.Errorf("failed to attach feedback: %w", err)
	}

	fmt.Printf("Rated run %s (packet %s, iteration %d): %d/5\n", run.ID, run.PacketID, run.Iteration, runsRating)
	if runsComment != "" {
		fmt.Printf("Comment: %s\n", runsComment)
	}
	return nil
}
