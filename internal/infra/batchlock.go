package infra

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/nomor/memclear/internal/domain"
)

var _ domain.BatchLock = (*BatchLock)(nil)

// BatchLock is an advisory flock(2) on a file in the data directory. It is
// released by the kernel if the holding process dies.
type BatchLock struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// NewBatchLock creates a lock on path. Nothing is opened until TryLock.
func NewBatchLock(path string) *BatchLock {
	return &BatchLock{path: path}
}

// TryLock returns false when another holder, in this process or another,
// has the lock.
func (l *BatchLock) TryLock() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return false, fmt.Errorf("failed to open batch lock: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire batch lock: %w", err)
	}
	l.file = f
	return true, nil
}

// Unlock releases the lock. Unlocking a free lock is a no-op.
func (l *BatchLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
