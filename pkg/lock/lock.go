// Package lock provides the console lock shared by every thread of the
// current process and by child processes that open the same lock file.
package lock

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// EnvLockFile names the environment variable through which a parent engine
// hands its lock file to nested engines running in child processes.
const EnvLockFile = "COBBLE_LOCK_FILE"

// ProcessLock serializes console emission. The in-process mutex orders
// goroutines; the advisory flock on the lock file orders processes. Each
// process opens the file itself so the locks are held on distinct open file
// descriptions and actually exclude one another.
type ProcessLock struct {
	mu    sync.Mutex
	file  *os.File
	path  string
	owned bool
}

// New opens (creating if needed) the lock file at path. An empty path
// falls back to $COBBLE_LOCK_FILE, then to a fresh temporary file whose
// path is exported to children through the environment.
func New(path string) (*ProcessLock, error) {
	owned := false
	if path == "" {
		path = os.Getenv(EnvLockFile)
	}

	var (
		f   *os.File
		err error
	)
	if path == "" {
		f, err = os.CreateTemp("", "cobble_*_lock")
		if err != nil {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}
		path = f.Name()
		owned = true
	} else {
		f, err = os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
		}
	}

	if err := os.Setenv(EnvLockFile, path); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to export lock file: %w", err)
	}

	return &ProcessLock{file: f, path: path, owned: owned}, nil
}

// Lock acquires the lock for the calling goroutine and process.
func (l *ProcessLock) Lock() {
	l.mu.Lock()
	if l.file == nil {
		return
	}
	for {
		// Any flock error other than EINTR leaves only the in-process
		// mutex held.
		if err := unix.Flock(int(l.file.Fd()), unix.LOCK_EX); err != unix.EINTR {
			return
		}
	}
}

// Unlock releases the lock.
func (l *ProcessLock) Unlock() {
	if l.file != nil {
		_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	}
	l.mu.Unlock()
}

// Path returns the lock file path.
func (l *ProcessLock) Path() string {
	return l.path
}

// Close releases the file handle. The lock file is removed, and its path
// no longer exported, only when this lock created it. After Close the lock
// still serializes goroutines of this process.
func (l *ProcessLock) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	if l.owned {
		if os.Getenv(EnvLockFile) == l.path {
			os.Unsetenv(EnvLockFile)
		}
		if rmErr := os.Remove(l.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
			err = rmErr
		}
	}
	return err
}
