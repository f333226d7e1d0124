// Package logging provides structured logging for the Claudia execution engine.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RollConfig holds configuration for log file rollover.
type RollConfig struct {
	// MaxSizeMB is the maximum size of a log file in megabytes before rollover.
	// A value of 0 disables rollover.
	MaxSizeMB int
	// MaxBackups is the number of old log files to keep.
	// A value of 0 keeps no backups.
	MaxBackups int
}

// DefaultRollConfig returns a RollConfig with sensible defaults.
func DefaultRollConfig() RollConfig {
	return RollConfig{
		MaxSizeMB:  10,
		MaxBackups: 3,
	}
}

// RollingFile is an io.Writer backed by a file that rolls over to numbered
// backups once it exceeds a size limit. It is safe for concurrent use.
type RollingFile struct {
	mu sync.Mutex

	path       string
	maxBytes   int64
	maxBackups int

	file *os.File
	size int64
}

// NewRollingFile opens (or creates) the log file at path and rolls it over
// once it exceeds the configured size.
//
// If config.MaxSizeMB is 0, rollover is disabled and the writer behaves like
// a regular append-only file writer.
func NewRollingFile(path string, config RollConfig) (*RollingFile, error) {
	rf := &RollingFile{
		path:       path,
		maxBytes:   int64(config.MaxSizeMB) * 1024 * 1024,
		maxBackups: config.MaxBackups,
	}

	if err := rf.open(); err != nil {
		return nil, err
	}

	return rf, nil
}

// open opens the log file for appending and records its size.
// The caller must hold the mutex.
func (rf *RollingFile) open() error {
	dir := filepath.Dir(rf.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(rf.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	rf.file = file
	rf.size = info.Size()
	return nil
}

// Write implements io.Writer. It rolls the file over first when the write
// would push it past the size limit.
func (rf *RollingFile) Write(p []byte) (n int, err error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return 0, fmt.Errorf("log file is closed")
	}

	if rf.maxBytes > 0 && rf.size+int64(len(p)) > rf.maxBytes {
		if err := rf.roll(); err != nil {
			// Keep writing to the current file rather than losing log data.
			// Write to stderr so operators are aware rollover is failing.
			fmt.Fprintf(os.Stderr, "Warning: log rollover failed: %v\n", err)
		}
	}

	n, err = rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

// roll performs the rollover. The caller must hold the mutex.
func (rf *RollingFile) roll() error {
	if err := rf.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	if err := rf.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	rf.file = nil

	rf.shiftBackups()

	// Current log becomes .1
	if err := os.Rename(rf.path, rf.backupPath(1)); err != nil {
		// If rename fails, try to reopen the original file
		if openErr := rf.open(); openErr != nil {
			return fmt.Errorf("failed to rename log file and reopen: %w", openErr)
		}
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	return rf.open()
}

// shiftBackups renumbers backup files and drops the oldest.
// Files are numbered: .1 (newest) to .N (oldest).
func (rf *RollingFile) shiftBackups() {
	if rf.maxBackups <= 0 {
		os.Remove(rf.backupPath(1))
		return
	}

	os.Remove(rf.backupPath(rf.maxBackups))

	for i := rf.maxBackups - 1; i >= 1; i-- {
		oldPath := rf.backupPath(i)
		if _, err := os.Stat(oldPath); err == nil {
			os.Rename(oldPath, rf.backupPath(i+1))
		}
	}
}

// backupPath returns the path for a backup file with the given number.
func (rf *RollingFile) backupPath(n int) string {
	return fmt.Sprintf("%s.%d", rf.path, n)
}

// Sync flushes any buffered data to the underlying file.
func (rf *RollingFile) Sync() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return nil
	}

	return rf.file.Sync()
}

// Close syncs and closes the underlying file.
func (rf *RollingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return nil
	}

	if err := rf.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}

	if err := rf.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}

	rf.file = nil
	return nil
}

// CurrentSize returns the current size of the log file in bytes.
func (rf *RollingFile) CurrentSize() int64 {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.size
}

// Path returns the path to the log file.
func (rf *RollingFile) Path() string {
	return rf.path
}
