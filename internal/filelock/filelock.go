// Package filelock provides advisory, cross-process file locking used to
// serialize read-modify-write access to the branch registry and process
// registry files.
//
// No example repo in the retrieved corpus wires a third-party file-locking
// library (flock, gofrs/flock, etc.) — quorum-ai's own state manager
// implements its own PID-file lock by hand (internal/adapters/state/json.go)
// rather than importing one. This package follows that precedent but backs
// the lock with syscall.Flock so contention blocks instead of racing on file
// existence checks.
package filelock

import (
	"fmt"
	"os"
	"syscall"
)

// Lock is a held advisory lock on a file. The zero value is not usable;
// obtain one via Acquire.
type Lock struct {
	f *os.File
}

// Acquire opens (creating if necessary) the file at path and blocks until an
// exclusive advisory lock on it is held.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	return &Lock{f: f}, nil
}

// TryAcquire attempts to acquire the lock without blocking. It returns
// (nil, nil) if the lock is already held by another process.
func TryAcquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, nil
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	return &Lock{f: f}, nil
}

// Release unlocks and closes the underlying file descriptor.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	closeErr := l.f.Close()
	if err != nil {
		return err
	}
	return closeErr
}
