// Package logging provides structured logging for the Claudia execution engine.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// context propagation support for debugging and post-hoc analysis. It is
// designed to help troubleshoot long batch executions by providing
// structured, filterable logs that can be analyzed after the fact.
//
// # Features
//
//   - JSON-formatted structured logging via slog
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR)
//   - Context propagation (session ID, packet ID, component)
//   - Size-limited log files with numbered rollover backups
//   - Log read-back and filtering utilities
//   - Export to JSON, text, or CSV formats
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. The [Logger] type
// uses Go's slog internally which is designed for concurrent access. The
// [RollingFile] type uses a mutex to protect file operations during
// rollover. Child loggers created via With* methods share the underlying
// writer safely.
//
// # Basic Usage
//
// Create a logger for the engine data directory:
//
//	logger, err := logging.NewLogger("/path/to/data", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	// Log messages at various levels
//	logger.Debug("detailed info", "key", "value")
//	logger.Info("operation completed", "duration_ms", 150)
//	logger.Warn("potential issue", "threshold", 100)
//	logger.Error("operation failed", "error", err.Error())
//
// # Context Propagation
//
// Create child loggers with persistent context attributes:
//
//	// Add session context
//	sessionLogger := logger.WithSession("exec-20240101-abcd")
//
//	// Add packet context
//	packetLogger := sessionLogger.WithPacket("pkt-42")
//
//	// Add component context
//	storeLogger := logger.WithComponent("store")
//
//	// All logs from packetLogger include session_id and packet_id
//	packetLogger.Info("packet completed", "iteration", 2)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"packet completed","session_id":"exec-20240101-abcd","packet_id":"pkt-42","iteration":2}
//
// # Rollover
//
// Log files are size-limited to prevent unbounded growth. Once a file
// exceeds the configured limit it is renamed to a numbered backup:
// debug.log.1, debug.log.2, etc., where .1 is the most recent backup.
// See [RollConfig] and [DefaultRollConfig].
//
// # Testing
//
// For testing, use [NopLogger] to discard all log output:
//
//	func TestSomething(t *testing.T) {
//	    logger := logging.NopLogger()
//	    // Use logger in tests without creating files
//	}
//
// # Log Analysis
//
// Read a log file back and narrow it down:
//
//	entries, err := logging.ReadLogFile("/path/to/data/debug.log")
//	if err != nil {
//	    return err
//	}
//
//	filter := logging.LogFilter{
//	    Level:     "WARN",                          // Minimum level
//	    SessionID: "exec-20240101-abcd",            // Specific session
//	    StartTime: time.Now().Add(-1 * time.Hour), // Last hour
//	}
//	filtered := logging.FilterLogs(entries, filter)
//
//	// Write to various formats
//	logging.WriteLogEntries(os.Stdout, filtered, "text")
//
// # Log Levels
//
// The package defines four log levels:
//
//   - [LevelDebug]: Detailed information for debugging
//   - [LevelInfo]: General operational information (default)
//   - [LevelWarn]: Warning conditions that may need attention
//   - [LevelError]: Error conditions that affect functionality
//
// Use [ValidLevels] to get the list of valid level strings, and [ParseLevel]
// to normalize user-provided level strings.
package logging
