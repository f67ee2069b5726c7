package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrLocked is returned when another live process holds the lock.
var ErrLocked = errors.New("another provisioning run is in progress")

// Lock is a file-based mutual exclusion for top-level runs. The lock is
// tied to the owning process: a lock whose owner is no longer alive is
// stale and gets discarded instead of blocking forever.
type Lock struct {
	path string
}

func NewLock(dir string) *Lock {
	return &Lock{path: filepath.Join(dir, "bootlab.lock")}
}

// Acquire takes the lock or fails with ErrLocked. A stale lock left by a
// dead process is removed and re-acquired.
func (l *Lock) Acquire() error {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			return f.Close()
		}
		if !os.IsExist(err) {
			return fmt.Errorf("create lock %s: %w", l.path, err)
		}

		pid, readErr := l.ownerPID()
		if readErr == nil && processAlive(pid) {
			return fmt.Errorf("%w (pid %d, lock %s)", ErrLocked, pid, l.path)
		}
		// Owner is gone or the file is garbage.
		if rmErr := os.Remove(l.path); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("remove stale lock %s: %w", l.path, rmErr)
		}
	}
	return fmt.Errorf("%w (lock %s)", ErrLocked, l.path)
}

// Release drops the lock. Safe to call when not held.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}

func (l *Lock) ownerPID() (int, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if raw, ok := strings.CutPrefix(line, "pid="); ok {
			return strconv.Atoi(strings.TrimSpace(raw))
		}
	}
	return 0, fmt.Errorf("no pid in lock file %s", l.path)
}

// processAlive checks liveness with a null signal.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
