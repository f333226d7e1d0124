package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/G-TechSD/Claudia-Coder-sub001/internal/config"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show session counts by status",
	Long: `Display counts of execution sessions grouped by status.

Shows:
- Total sessions on record
- Running sessions
- Complete, failed, and cancelled sessions`,
	RunE: runStats,
}

var statsJSON bool

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output statistics as JSON")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	dir, err := openDirectory(cfg)
	if err != nil {
		return err
	}

	stats, err := dir.Stats()
	if err != nil {
		return fmt.Errorf("failed to compute stats: %w", err)
	}

	if statsJSON {
		out, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode stats: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Println()
	fmt.Println("SESSION STATS")
	fmt.Println(strings.Repeat("─", 50))
	fmt.Printf("Total:     %d\n", stats.Total)
	fmt.Printf("Running:   %d\n", stats.Running)
	fmt.Printf("Complete:  %d\n", stats.Complete)
	fmt.Printf("Failed:    %d\n", stats.Error)
	fmt.Printf("Cancelled: %d\n", stats.Cancelled)
	fmt.Println()

	if stats.Total == 0 {
		fmt.Println("No sessions recorded yet. Run 'claudia-coder start' to begin.")
		fmt.Println()
	}
	return nil
}
