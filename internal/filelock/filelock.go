// Package filelock provides advisory, file-based mutual exclusion between
// processes. A lock is held for as long as the returned *Lock is open.
package filelock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultRetryInterval is used by Acquire when no interval is given.
const DefaultRetryInterval = 100 * time.Millisecond

// Lock is an acquired OS-level file lock.
type Lock struct {
	path string
	file *os.File
	once sync.Once
}

// held tracks paths locked by this process. OS advisory locks do not
// reliably reject a second acquisition from the owning process, so the
// table is checked first.
var (
	heldMu sync.Mutex
	held   = make(map[string]struct{})
)

// TryAcquire makes a single non-blocking attempt to lock path, creating the
// file and its parent directories as needed.
//
// ok is false with a nil error when the lock is held elsewhere, either by
// another process or by this one. Setup failures are returned as errors.
func TryAcquire(path string) (lock *Lock, ok bool, err error) {
	key, err := canonical(path)
	if err != nil {
		return nil, false, err
	}

	heldMu.Lock()
	defer heldMu.Unlock()

	if _, busy := held[key]; busy {
		return nil, false, nil
	}

	if err := os.MkdirAll(filepath.Dir(key), 0755); err != nil {
		return nil, false, fmt.Errorf("create lock directory: %w", err)
	}

	file, err := os.OpenFile(key, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, false, fmt.Errorf("open lock file: %w", err)
	}

	locked, err := lockFile(file)
	if err != nil {
		file.Close()
		return nil, false, fmt.Errorf("lock %s: %w", key, err)
	}
	if !locked {
		file.Close()
		return nil, false, nil
	}

	// Owner PID is informational only.
	_ = file.Truncate(0)
	_, _ = file.Seek(0, 0)
	_, _ = fmt.Fprintf(file, "%d\n", os.Getpid())
	_ = file.Sync()

	held[key] = struct{}{}
	return &Lock{path: key, file: file}, true, nil
}

// Acquire polls TryAcquire until it succeeds, timeout elapses or ctx is done.
// A zero timeout makes exactly one attempt. ok is false with a nil error
// when the deadline passes without obtaining the lock.
func Acquire(ctx context.Context, path string, timeout, retryInterval time.Duration) (*Lock, bool, error) {
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}

	deadline := time.Now().Add(timeout)
	for {
		lock, ok, err := TryAcquire(path)
		if err != nil || ok {
			return lock, ok, err
		}

		remaining := time.Until(deadline)
		if timeout <= 0 || remaining <= 0 {
			return nil, false, nil
		}

		wait := retryInterval
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false, fmt.Errorf("waiting for lock %s: %w", path, ctx.Err())
		case <-timer.C:
		}
	}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Close releases the lock and closes the file. It is safe to call more than
// once and never reports an error.
func (l *Lock) Close() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() {
		_ = unlockFile(l.file)
		_ = l.file.Close()

		heldMu.Lock()
		delete(held, l.path)
		heldMu.Unlock()
	})
	return nil
}

func canonical(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("lock path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve lock path: %w", err)
	}
	return filepath.Clean(abs), nil
}
