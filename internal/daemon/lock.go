package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// Lock is a PID-file single-instance lock. Liveness is probed by
// sending signal 0 to the recorded PID, which succeeds iff a process
// with that PID is alive and visible to the caller -- no actual
// signal is delivered, it's purely an existence probe.
type Lock struct {
	path string
}

// Acquire takes the single-instance lock at path. If a PID file
// already exists and names a live process, Acquire fails. If the file
// exists but names a dead process, it is a stale lock left by a crash
// and is cleaned up and replaced.
func Acquire(path string) (*Lock, error) {
	if existing, err := os.ReadFile(path); err == nil {
		pid, parseErr := strconv.Atoi(strings.TrimSpace(string(existing)))
		if parseErr == nil && processAlive(pid) {
			return nil, fmt.Errorf("daemon: another instance is already running (pid %d)", pid)
		}
		// Stale: no live process at that pid, or unparsable content.
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return nil, fmt.Errorf("daemon: write pid file %s: %w", path, err)
	}
	return &Lock{path: path}, nil
}

// Release removes the PID file.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	return os.Remove(l.path)
}

// processAlive reports whether pid names a live, signalable process.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On POSIX, FindProcess always succeeds; signal 0 is the actual
	// liveness probe. A nil error means the process exists (and we
	// have permission to see it); ESRCH means it doesn't.
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}
