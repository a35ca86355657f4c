package supervisor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrLocked means another process already holds the account's lock.
var ErrLocked = errors.New("account lock held by another process")

// Lock is an exclusive per-account lock file. It prevents a second
// supervisor invocation from starting a duplicate worker for the account.
type Lock struct {
	path string
}

// AcquireLock takes the lock for an account, creating the lock directory if
// needed. A lock left behind by a dead process is reclaimed.
func AcquireLock(dir, accountID string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock dir: %w", err)
	}
	path := filepath.Join(dir, accountID+".lock")

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		// Lock exists. Reclaim it only if the owning process is gone.
		if !lockHolderAlive(path) {
			os.Remove(path)
			continue
		}
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return nil, fmt.Errorf("%w: %s", ErrLocked, path)
}

// Release removes the lock file. Safe to call once per acquired lock.
func (l *Lock) Release() error {
	return os.Remove(l.path)
}

// lockHolderAlive reads the pid from a lock file and probes the process.
// Unreadable or malformed locks are treated as dead.
func lockHolderAlive(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false
	}
	if pid == os.Getpid() {
		return true
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	// EPERM means the process exists but belongs to another user; the lock
	// is still held.
	return err == nil || errors.Is(err, syscall.EPERM)
}
