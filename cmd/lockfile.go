package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

var ErrExportLocked = errors.New("another process is already working on this checkpoint")

// runLock is a PID lock file next to the checkpoint. Two concurrent runs
// against the same checkpoint would interleave saves and corrupt resume
// state, so dump and clean both take the lock before touching it.
type runLock struct {
	path string
}

// acquireRunLock takes the lock for the given source database and collection.
// A lock file left behind by a dead process is treated as stale and replaced.
func acquireRunLock(dir, source, collection string) (*runLock, error) {
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.lock", source, collection))

	if data, err := os.ReadFile(path); err == nil {
		pid, parseErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if parseErr == nil && isProcessRunning(pid) {
			return nil, fmt.Errorf("%w: pid %d holds %s", ErrExportLocked, pid, path)
		}
		// Stale lock from a crashed run
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock file: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrExportLocked, path)
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}

	_, writeErr := file.WriteString(strconv.Itoa(os.Getpid()))
	closeErr := file.Close()
	if writeErr != nil || closeErr != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %w", errors.Join(writeErr, closeErr))
	}

	return &runLock{path: path}, nil
}

// Release removes the lock file
func (l *runLock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// isProcessRunning checks if a process with given PID is running
// Works on both Unix and Windows systems
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, signal 0 probes for existence without delivering anything;
	// on Windows, FindProcess always succeeds so the probe does the work
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
