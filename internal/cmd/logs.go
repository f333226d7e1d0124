package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/G-TechSD/Claudia-Coder-sub001/internal/config"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View engine logs",
	Long: `View and filter the engine's debug log.

All commands write to one shared log file in the data directory. Use
flags to narrow the output to a session, a packet, a level, or a time
window.

Examples:
  # Show last 50 lines
  claudia-coder logs

  # Show everything for one session
  claudia-coder logs -s exec-1712000000000-a1b2 -n 0

  # Follow logs in real-time
  claudia-coder logs -f

  # Filter by log level
  claudia-coder logs --level warn

  # Show logs from the last hour
  claudia-coder logs --since 1h

  # Search for specific patterns
  claudia-coder logs --grep "error|failed"

  # Export filtered entries for analysis
  claudia-coder logs -s exec-1712000000000-a1b2 -n 0 -o csv`,
	RunE: runLogs,
}

var (
	logsSessionID string
	logsPacketID  string
	logsComponent string
	logsTail      int
	logsFollow    bool
	logsLevel     string
	logsSince     string
	logsGrep      string
	logsOutput    string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVarP(&logsSessionID, "session", "s", "", "Only entries for this session id")
	logsCmd.Flags().StringVar(&logsPacketID, "packet", "", "Only entries for this packet id")
	logsCmd.Flags().StringVar(&logsComponent, "component", "", "Only entries from this component")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of lines to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter logs matching pattern (regex)")
	logsCmd.Flags().StringVarP(&logsOutput, "output", "o", "", "Export matching entries as json, text, or csv instead of the colored view")
}

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorGray   = "\033[90m"
	colorBlue   = "\033[34m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
)

// levelColor returns the ANSI color code for a log level
func levelColor(level string) string {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return colorGray
	case logging.LevelInfo:
		return colorBlue
	case logging.LevelWarn:
		return colorYellow
	case logging.LevelError:
		return colorRed
	default:
		return colorReset
	}
}

// formatLogEntry formats a log entry for terminal output
func formatLogEntry(entry logging.LogEntry) string {
	var sb strings.Builder

	// Timestamp
	sb.WriteString(colorGray)
	sb.WriteString("[")
	sb.WriteString(entry.Timestamp.Format("15:04:05.000"))
	sb.WriteString("]")
	sb.WriteString(colorReset)

	// Level with color
	sb.WriteString(" ")
	sb.WriteString(levelColor(entry.Level))
	sb.WriteString("[")
	sb.WriteString(strings.ToUpper(entry.Level))
	sb.WriteString("]")
	sb.WriteString(colorReset)

	// Message
	sb.WriteString(" ")
	sb.WriteString(entry.Message)

	// Context fields (session_id, packet_id, component)
	if entry.Component != "" {
		sb.WriteString(" ")
		sb.WriteString(colorCyan)
		sb.WriteString("component=")
		sb.WriteString(entry.Component)
		sb.WriteString(colorReset)
	}
	if entry.SessionID != "" {
		sb.WriteString(" ")
		sb.WriteString(colorCyan)
		sb.WriteString("session_id=")
		sb.WriteString(entry.SessionID)
		sb.WriteString(colorReset)
	}
	if entry.PacketID != "" {
		sb.WriteString(" ")
		sb.WriteString(colorCyan)
		sb.WriteString("packet_id=")
		sb.WriteString(entry.PacketID)
		sb.WriteString(colorReset)
	}

	// Extra fields
	for key, value := range entry.Attrs {
		sb.WriteString(" ")
		sb.WriteString(colorCyan)
		sb.WriteString(key)
		sb.WriteString("=")
		sb.WriteString(colorReset)
		sb.WriteString(fmt.Sprintf("%v", value))
	}

	return sb.String()
}

// logFilterFromFlags translates the command flags into a filter. The
// grep pattern is handled separately because it is a regex over message
// and attrs, not a plain substring.
func logFilterFromFlags() (logging.LogFilter, error) {
	filter := logging.LogFilter{
		SessionID: logsSessionID,
		PacketID:  logsPacketID,
		Component: logsComponent,
	}
	if logsLevel != "" {
		if !slices.Contains(logging.ValidLevels(), strings.ToUpper(logsLevel)) {
			return logging.LogFilter{}, fmt.Errorf("invalid level %q (valid: %s)", logsLevel, strings.Join(logging.ValidLevels(), ", "))
		}
		filter.Level = logging.ParseLevel(logsLevel)
	}
	if logsSince != "" {
		duration, err := time.ParseDuration(logsSince)
		if err != nil {
			return logging.LogFilter{}, fmt.Errorf("invalid duration format: %w", err)
		}
		filter.StartTime = time.Now().Add(-duration)
	}
	return filter, nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	logPath := filepath.Join(cfg.Data.ResolveDir(), "debug.log")

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Println("No logs found.")
		fmt.Println("Logs are stored at:", logPath)
		return nil
	}

	filter, err := logFilterFromFlags()
	if err != nil {
		return err
	}

	var grepRegex *regexp.Regexp
	if logsGrep != "" {
		grepRegex, err = regexp.Compile(logsGrep)
		if err != nil {
			return fmt.Errorf("invalid grep pattern: %w", err)
		}
	}

	if logsFollow {
		if logsOutput != "" {
			return fmt.Errorf("--output cannot be combined with --follow")
		}
		return followLogs(logPath, filter, grepRegex)
	}

	return displayLogs(logPath, logsTail, filter, grepRegex, logsOutput)
}

// displayLogs reads the log file and displays filtered entries
func displayLogs(logPath string, tail int, filter logging.LogFilter, grepRegex *regexp.Regexp, output string) error {
	entries, err := logging.ReadLogFile(logPath)
	if err != nil {
		return err
	}

	entries = logging.FilterLogs(entries, filter)
	if grepRegex != nil {
		matched := entries[:0]
		for _, entry := range entries {
			if matchesGrep(entry, grepRegex) {
				matched = append(matched, entry)
			}
		}
		entries = matched
	}

	// Apply tail limit
	if tail > 0 && len(entries) > tail {
		entries = entries[len(entries)-tail:]
	}

	if output != "" {
		return logging.WriteLogEntries(os.Stdout, entries, output)
	}

	for _, entry := range entries {
		fmt.Println(formatLogEntry(entry))
	}
	if len(entries) == 0 {
		fmt.Println("No matching log entries found.")
	}
	return nil
}

// followLogs implements tail -f behavior for the log file
func followLogs(logPath string, filter logging.LogFilter, grepRegex *regexp.Regexp) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	// Seek to end of file
	_, err = file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	fmt.Printf("Following logs... (Ctrl+C to stop)\n\n")

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// No new data, wait briefly and try again
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return fmt.Errorf("error reading log file: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		entry, err := logging.ParseLogLine(line)
		if err != nil {
			// If we can't parse as JSON, display raw line
			fmt.Println(line)
			continue
		}

		if len(logging.FilterLogs([]logging.LogEntry{entry}, filter)) == 0 {
			continue
		}
		if grepRegex != nil && !matchesGrep(entry, grepRegex) {
			continue
		}

		fmt.Println(formatLogEntry(entry))
	}
}

// matchesGrep matches the regex against the message and attr values.
func matchesGrep(entry logging.LogEntry, grepRegex *regexp.Regexp) bool {
	searchText := entry.Message
	for _, v := range entry.Attrs {
		searchText += " " + fmt.Sprintf("%v", v)
	}
	return grepRegex.MatchString(searchText)
}
