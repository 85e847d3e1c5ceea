// flock.go provides cross-process file locking using flock(2).
// The remediation audit log is appended to by both the daemon and one-shot
// clean invocations, which may run concurrently.

package util

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// FileLock provides cross-process mutual exclusion via flock(2).
// Unlike sync.Mutex, which only works within a process, FileLock serializes
// access across every process on the machine that uses the same lock path.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock creates a file lock for the given path.
// The lock file is created on first use if it doesn't exist.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Lock acquires an exclusive lock, blocking until it is available.
// The caller must call Unlock when done.
func (l *FileLock) Lock() error {
	file, err := l.open()
	if err != nil {
		return err
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX); err != nil {
		file.Close()
		l.file = nil
		return fmt.Errorf("acquiring lock: %w", err)
	}

	return nil
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if acquired, false if another process holds it.
func (l *FileLock) TryLock() (bool, error) {
	file, err := l.open()
	if err != nil {
		return false, err
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		l.file = nil
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("acquiring lock: %w", err)
	}

	return true, nil
}

// Unlock releases the lock. Safe to call even if not locked.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}

	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		l.file.Close()
		l.file = nil
		return fmt.Errorf("releasing lock: %w", err)
	}

	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("closing lock file: %w", err)
	}
	return nil
}

// WithLock runs fn while holding the lock.
func (l *FileLock) WithLock(fn func() error) error {
	if err := l.Lock(); err != nil {
		return err
	}
	defer l.Unlock()
	return fn()
}

func (l *FileLock) open() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	l.file = file
	return file, nil
}
