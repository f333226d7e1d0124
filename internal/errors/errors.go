// Package errors provides centralized error definitions and error handling
// utilities for the Claudia execution engine. It defines domain-specific
// errors, semantic error types, error constructors with context wrapping,
// and error classification helpers.
//
// # Error Types
//
// The package provides two categories of errors:
//
// Domain-specific errors represent errors from specific subsystems:
//   - SessionError: errors related to session lifecycle management
//   - ExecutionError: errors related to batch/packet execution
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - AlreadyExistsError: resource already exists
//   - ValidationError: invalid input or state
//   - PersistenceError: a read or write of the underlying store failed
//
// # Usage
//
// Creating errors:
//
//	// Domain-specific error
//	err := errors.NewSessionError("failed to load session", errors.ErrSessionNotFound)
//
//	// Semantic error
//	err := errors.NewNotFoundError("session", "exec-123")
//
//	// With context wrapping
//	err := errors.NewPersistenceError("write", path, baseErr)
//
// Checking errors:
//
//	// Check for specific sentinel errors
//	if errors.Is(err, errors.ErrSessionNotFound) { ... }
//
//	// Check for error types
//	var valErr *errors.ValidationError
//	if errors.As(err, &valErr) { ... }
//
//	// Use classification helpers
//	if errors.IsValidation(err) { ... }
//	if errors.IsPersistence(err) { ... }
//
// # Error Classification
//
// Errors can be classified by severity and behavior:
//   - Retryable: transient errors that may succeed on retry
//   - UserFacing: errors safe to display to users (vs internal errors)
//   - Severity: Debug, Info, Warning, Error, Critical
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Session-related sentinel errors
var (
	// ErrSessionNotFound indicates that a session could not be found.
	ErrSessionNotFound = New("session not found")
	// ErrSessionCorrupted indicates that persisted session data is corrupted.
	ErrSessionCorrupted = New("session data corrupted")
	// ErrSessionFinalized indicates that a session is already terminal.
	ErrSessionFinalized = New("session already finalized")
	// ErrSessionActive indicates that a running session already exists for the project.
	ErrSessionActive = New("project already has an active session")
)

// Run-ledger sentinel errors
var (
	// ErrRunNotFound indicates that a packet run could not be found.
	ErrRunNotFound = New("packet run not found")
	// ErrRunNotTerminal indicates an operation that requires a finished run.
	ErrRunNotTerminal = New("packet run still running")
)

// Store-related sentinel errors
var (
	// ErrStoreLocked indicates that the session store is held by another process.
	ErrStoreLocked = New("session store is locked by another process")
)

// General sentinel errors
var (
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrOperationFailed indicates a general operation failure.
	ErrOperationFailed = New("operation failed")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// ClaudiaError is the base interface for all engine errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type ClaudiaError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	// This is used by errors.Is() for error comparison.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// SessionError represents errors related to session lifecycle management.
//
// Example:
//
//	err := errors.NewSessionError("failed to load session", errors.ErrSessionNotFound)
//	err = err.WithSessionID("exec-123")
//	fmt.Println(err) // "session error [session=exec-123]: failed to load session: session not found"
type SessionError struct {
	baseError
	SessionID string
	ProjectID string
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithSessionID adds a session ID to the error context.
func (e *SessionError) WithSessionID(id string) *SessionError {
	e.SessionID = id
	return e
}

// WithProjectID adds a project ID to the error context.
func (e *SessionError) WithProjectID(id string) *SessionError {
	e.ProjectID = id
	return e
}

// WithSeverity sets the error severity.
func (e *SessionError) WithSeverity(s Severity) *SessionError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *SessionError) WithRetryable(r bool) *SessionError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	var parts []string
	if e.SessionID != "" {
		parts = append(parts, fmt.Sprintf("session=%s", e.SessionID))
	}
	if e.ProjectID != "" {
		parts = append(parts, fmt.Sprintf("project=%s", e.ProjectID))
	}

	prefix := "session error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("session error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *SessionError) Is(target error) bool {
	if _, ok := target.(*SessionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ExecutionError represents errors related to batch or packet execution.
//
// Example:
//
//	err := errors.NewExecutionError("packet execution failed", errors.ErrOperationFailed)
//	err = err.WithPacketID("pkt-1").WithIteration(3)
type ExecutionError struct {
	baseError
	PacketID  string
	RunID     string
	Iteration int
}

// NewExecutionError creates a new ExecutionError.
func NewExecutionError(message string, cause error) *ExecutionError {
	return &ExecutionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
		Iteration: -1, // -1 indicates not set
	}
}

// WithPacketID adds a packet ID to the error context.
func (e *ExecutionError) WithPacketID(id string) *ExecutionError {
	e.PacketID = id
	return e
}

// WithRunID adds a run ID to the error context.
func (e *ExecutionError) WithRunID(id string) *ExecutionError {
	e.RunID = id
	return e
}

// WithIteration adds a run iteration to the error context.
func (e *ExecutionError) WithIteration(n int) *ExecutionError {
	e.Iteration = n
	return e
}

// WithSeverity sets the error severity.
func (e *ExecutionError) WithSeverity(s Severity) *ExecutionError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *ExecutionError) WithRetryable(r bool) *ExecutionError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *ExecutionError) Error() string {
	var parts []string
	if e.PacketID != "" {
		parts = append(parts, fmt.Sprintf("packet=%s", e.PacketID))
	}
	if e.RunID != "" {
		parts = append(parts, fmt.Sprintf("run=%s", e.RunID))
	}
	if e.Iteration >= 0 {
		parts = append(parts, fmt.Sprintf("iteration=%d", e.Iteration))
	}

	prefix := "execution error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("execution error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ExecutionError) Is(target error) bool {
	if _, ok := target.(*ExecutionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("session", "exec-123")
//	fmt.Println(err) // "session 'exec-123' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// AlreadyExistsError represents a resource that already exists.
//
// Example:
//
//	err := errors.NewAlreadyExistsError("active session", "proj-1")
//	fmt.Println(err) // "active session 'proj-1' already exists"
type AlreadyExistsError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(resourceType, resourceID string) *AlreadyExistsError {
	return &AlreadyExistsError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' already exists", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *AlreadyExistsError) WithCause(cause error) *AlreadyExistsError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *AlreadyExistsError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' already exists: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' already exists", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *AlreadyExistsError) Is(target error) bool {
	if _, ok := target.(*AlreadyExistsError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state. It is always raised
// before any state mutation takes place.
//
// Example:
//
//	err := errors.NewValidationError("packet list cannot be empty")
//	err = err.WithField("packetIds").WithValue([]string{})
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// PersistenceError represents a failed read or write of the underlying store.
// Reads are expected to degrade gracefully at the store layer; writes
// propagate this error to the caller since silent data loss must not be
// hidden.
//
// Example:
//
//	err := errors.NewPersistenceError("write", "/data/sessions.json", baseErr)
//	fmt.Println(err) // "persistence error [op=write, path=/data/sessions.json]: ..."
type PersistenceError struct {
	baseError
	Op   string
	Path string
}

// NewPersistenceError creates a new PersistenceError.
func NewPersistenceError(op, path string, cause error) *PersistenceError {
	return &PersistenceError{
		baseError: baseError{
			message:    fmt.Sprintf("%s failed", op),
			cause:      cause,
			severity:   SeverityError,
			retryable:  true, // Disk contention may clear up on retry
			userFacing: false,
		},
		Op:   op,
		Path: path,
	}
}

// WithRetryable sets whether the error is retryable.
func (e *PersistenceError) WithRetryable(r bool) *PersistenceError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *PersistenceError) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}

	prefix := "persistence error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("persistence error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *PersistenceError) Is(target error) bool {
	if _, ok := target.(*PersistenceError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
//
// Example:
//
//	if errors.IsRetryable(err) {
//	    time.Sleep(backoff)
//	    return retry(operation)
//	}
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var claudiaErr ClaudiaError
	if As(err, &claudiaErr) {
		return claudiaErr.IsRetryable()
	}

	return false
}

// IsUserFacing returns true if the error message is safe to display to end users.
//
// Example:
//
//	if errors.IsUserFacing(err) {
//	    displayToUser(err.Error())
//	} else {
//	    displayToUser("An internal error occurred")
//	    log.Error("internal error", "err", err)
//	}
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var claudiaErr ClaudiaError
	if As(err, &claudiaErr) {
		return claudiaErr.IsUserFacing()
	}

	// Semantic errors are always user-facing
	var notFound *NotFoundError
	var alreadyExists *AlreadyExistsError
	var validation *ValidationError

	if As(err, &notFound) || As(err, &alreadyExists) || As(err, &validation) {
		return true
	}

	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement ClaudiaError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var claudiaErr ClaudiaError
	if As(err, &claudiaErr) {
		return claudiaErr.Severity()
	}

	return SeverityError
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var notFound *NotFoundError
	return As(err, &notFound) || Is(err, ErrSessionNotFound) || Is(err, ErrRunNotFound)
}

// IsValidation returns true if the error is a validation failure.
func IsValidation(err error) bool {
	if err == nil {
		return false
	}
	var validation *ValidationError
	return As(err, &validation) || Is(err, ErrInvalidInput)
}

// IsPersistence returns true if the error is a store read/write failure.
func IsPersistence(err error) bool {
	if err == nil {
		return false
	}
	var persistence *PersistenceError
	return As(err, &persistence)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to finalize session")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
//
// Example:
//
//	err := errors.Wrapf(baseErr, "failed to persist session %s", sessionID)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
