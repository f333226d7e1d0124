package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "session.max_sessions")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate Data config
	errors = append(errors, c.validateData()...)

	// Validate Session config
	errors = append(errors, c.validateSession()...)

	// Validate Executor config
	errors = append(errors, c.validateExecutor()...)

	// Validate Server config
	errors = append(errors, c.validateServer()...)

	// Validate Logging config
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateData validates the DataConfig
func (c *Config) validateData() []ValidationError {
	var errors []ValidationError

	// Dir validation - if set, check for invalid characters
	if c.Data.Dir != "" {
		path := c.Data.Dir

		// Check for null bytes which are invalid in paths
		if strings.ContainsRune(path, '\x00') {
			errors = append(errors, ValidationError{
				Field:   "data.dir",
				Value:   path,
				Message: "path contains invalid null character",
			})
		}

		// Reasonable path length limit (most filesystems have limits around 4096)
		const maxPathLength = 4096
		if len(path) > maxPathLength {
			errors = append(errors, ValidationError{
				Field:   "data.dir",
				Value:   path,
				Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
			})
		}
	}

	return errors
}

// validateSession validates the SessionConfig
func (c *Config) validateSession() []ValidationError {
	var errors []ValidationError

	const minMaxSessions = 1
	const maxMaxSessions = 10000

	if c.Session.MaxSessions < minMaxSessions {
		errors = append(errors, ValidationError{
			Field:   "session.max_sessions",
			Value:   c.Session.MaxSessions,
			Message: fmt.Sprintf("must be at least %d", minMaxSessions),
		})
	}
	if c.Session.MaxSessions > maxMaxSessions {
		errors = append(errors, ValidationError{
			Field:   "session.max_sessions",
			Value:   c.Session.MaxSessions,
			Message: fmt.Sprintf("exceeds maximum of %d", maxMaxSessions),
		})
	}

	// Stale age validation (0 means disabled, which is valid; negative is invalid)
	if c.Session.StaleAgeMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "session.stale_age_minutes",
			Value:   c.Session.StaleAgeMinutes,
			Message: "must be non-negative (0 disables stale cleanup)",
		})
	}

	const maxHistoryLimit = 1000
	if c.Session.HistoryLimit < 1 {
		errors = append(errors, ValidationError{
			Field:   "session.history_limit",
			Value:   c.Session.HistoryLimit,
			Message: "must be at least 1",
		})
	}
	if c.Session.HistoryLimit > maxHistoryLimit {
		errors = append(errors, ValidationError{
			Field:   "session.history_limit",
			Value:   c.Session.HistoryLimit,
			Message: fmt.Sprintf("exceeds maximum of %d", maxHistoryLimit),
		})
	}

	return errors
}

// validateExecutor validates the ExecutorConfig
func (c *Config) validateExecutor() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Executor.Command) == "" {
		errors = append(errors, ValidationError{
			Field:   "executor.command",
			Value:   c.Executor.Command,
			Message: "cannot be empty",
		})
	}

	// Concurrency validation (0 means run all packets at once)
	const maxConcurrency = 64
	if c.Executor.Concurrency < 0 {
		errors = append(errors, ValidationError{
			Field:   "executor.concurrency",
			Value:   c.Executor.Concurrency,
			Message: "must be non-negative (0 runs all packets at once)",
		})
	}
	if c.Executor.Concurrency > maxConcurrency {
		errors = append(errors, ValidationError{
			Field:   "executor.concurrency",
			Value:   c.Executor.Concurrency,
			Message: fmt.Sprintf("exceeds maximum of %d", maxConcurrency),
		})
	}

	// Timeout validation (0 means disabled, which is valid; negative is invalid)
	if c.Executor.TimeoutMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "executor.timeout_minutes",
			Value:   c.Executor.TimeoutMinutes,
			Message: "must be non-negative (0 disables timeout)",
		})
	}

	return errors
}

// validateServer validates the ServerConfig
func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError

	if c.Server.Addr == "" {
		errors = append(errors, ValidationError{
			Field:   "server.addr",
			Value:   c.Server.Addr,
			Message: "cannot be empty",
		})
	} else if !strings.Contains(c.Server.Addr, ":") {
		errors = append(errors, ValidationError{
			Field:   "server.addr",
			Value:   c.Server.Addr,
			Message: "must be a host:port address (e.g. \":8844\" or \"127.0.0.1:8844\")",
		})
	}

	const maxShutdownTimeout = 300
	if c.Server.ShutdownTimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "server.shutdown_timeout_seconds",
			Value:   c.Server.ShutdownTimeoutSeconds,
			Message: "must be at least 1",
		})
	}
	if c.Server.ShutdownTimeoutSeconds > maxShutdownTimeout {
		errors = append(errors, ValidationError{
			Field:   "server.shutdown_timeout_seconds",
			Value:   c.Server.ShutdownTimeoutSeconds,
			Message: fmt.Sprintf("exceeds maximum of %d seconds", maxShutdownTimeout),
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
