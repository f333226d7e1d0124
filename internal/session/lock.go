package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/G-TechSD/Claudia-Coder-sub001/internal/errors"
	"github.com/G-TechSD/Claudia-Coder-sub001/internal/logging"
)

// LockFileName is the name of the lock file within the data directory.
const LockFileName = "sessions.lock"

// Lock marks the data directory as owned by a single writer process.
// The file records enough about the holder to diagnose conflicts and
// to detect staleness: a lock whose PID is no longer alive may be
// broken by the next process that comes along.
type Lock struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquiredAt"`

	// Internal fields (not serialized)
	lockFile string
	logger   *logging.Logger
}

// AcquireLock attempts to acquire the exclusive store lock for dataDir.
// Returns ErrStoreLocked if another live process holds it. The logger
// is optional and may be nil when the lock is taken before logging is
// set up.
func AcquireLock(dataDir string, logger *logging.Logger) (*Lock, error) {
	lockPath := filepath.Join(dataDir, LockFileName)

	// Check for an existing lock first.
	if existing, err := ReadLock(lockPath); err == nil {
		if isProcessAlive(existing.PID) {
			if logger != nil {
				logger.Error("failed to acquire store lock",
					"path", lockPath,
					"holder_pid", existing.PID,
					"holder_host", existing.Hostname,
				)
			}
			return nil, fmt.Errorf("%w: held by PID %d on %s", errors.ErrStoreLocked, existing.PID, existing.Hostname)
		}
		// Stale lock - remove it
		oldPID := existing.PID
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
		if logger != nil {
			logger.Warn("stale store lock cleaned", "old_pid", oldPID)
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	lock := &Lock{
		PID:        os.Getpid(),
		Hostname:   hostname,
		AcquiredAt: time.Now(),
		lockFile:   lockPath,
		logger:     logger,
	}

	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	// O_EXCL fails if the file appeared between the staleness check and
	// now, closing the race with a competing process.
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			if existing, readErr := ReadLock(lockPath); readErr == nil {
				return nil, fmt.Errorf("%w: held by PID %d on %s", errors.ErrStoreLocked, existing.PID, existing.Hostname)
			}
			return nil, errors.ErrStoreLocked
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(lockPath)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	if logger != nil {
		logger.Info("store lock acquired", "path", lockPath, "pid", lock.PID)
	}

	return lock, nil
}

// Release removes the lock file. Safe to call multiple times; the file
// is only removed when this process still owns it.
func (l *Lock) Release() error {
	if l == nil || l.lockFile == "" {
		return nil
	}

	existing, err := ReadLock(l.lockFile)
	if err != nil {
		// Lock file is gone or unreadable - nothing to do.
		return nil
	}

	if existing.PID != l.PID {
		// Another process took over after ours was declared stale.
		return nil
	}

	if err := os.Remove(l.lockFile); err != nil {
		return err
	}

	if l.logger != nil {
		l.logger.Info("store lock released", "pid", l.PID)
	}

	return nil
}

// ReadLock reads a lock file and returns the holder info.
func ReadLock(lockPath string) (*Lock, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}

	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	lock.lockFile = lockPath

	return &lock, nil
}

// IsLocked reports whether dataDir is currently locked by a live
// process. Returns the holder info when a lock file exists, even a
// stale one.
func IsLocked(dataDir string) (*Lock, bool) {
	lockPath := filepath.Join(dataDir, LockFileName)

	lock, err := ReadLock(lockPath)
	if err != nil {
		return nil, false
	}

	if !isProcessAlive(lock.PID) {
		// Stale lock
		return lock, false
	}

	return lock, true
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	// On Unix, sending signal 0 checks if process exists without affecting it
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = process.Signal(syscall.Signal(0))
	return err == nil
}
