package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/playwright-community/playwright-go"
)

// Runtime is what a task sees while it runs on a worker.
type Runtime struct {
	ProfileID string
	Context   BrowserContext
	Page      playwright.Page
}

// Task is a unit of browser work. It gets a fresh page that is closed when
// the task returns.
type Task func(ctx context.Context, rt *Runtime) (any, error)

// Worker owns one browser process bound to one profile directory and runs
// one task at a time.
type Worker struct {
	profileID   string
	userDataDir string
	inst        *Instance
	lock        io.Closer
	cleanupDir  bool
	closed      atomic.Bool
	logger      *slog.Logger
}

func newWorker(profileID, userDataDir string, inst *Instance, lock io.Closer, cleanupDir bool, logger *slog.Logger) *Worker {
	return &Worker{
		profileID:   profileID,
		userDataDir: userDataDir,
		inst:        inst,
		lock:        lock,
		cleanupDir:  cleanupDir,
		logger:      logger.With("profile", profileID),
	}
}

// ProfileID returns the profile the worker is bound to.
func (w *Worker) ProfileID() string { return w.profileID }

// UserDataDir returns the browser user data directory.
func (w *Worker) UserDataDir() string { return w.userDataDir }

// Context returns the worker's persistent browser context.
func (w *Worker) Context() BrowserContext { return w.inst.Context }

// Closed reports whether Close has been called.
func (w *Worker) Closed() bool { return w.closed.Load() }

// Execute runs task on a new page. The page is closed on every exit path,
// including a panic, which is re-raised afterwards.
func (w *Worker) Execute(ctx context.Context, task Task) (any, error) {
	if w.closed.Load() {
		return nil, ErrWorkerClosed
	}

	page, err := w.inst.Context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("open page on %s: %w", w.profileID, err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			w.logger.Debug("page close failed", "error", err)
		}
	}()

	return task(ctx, &Runtime{
		ProfileID: w.profileID,
		Context:   w.inst.Context,
		Page:      page,
	})
}

// Close releases the context, the process and the profile lock, in that
// order. Only the first call does anything; errors are logged, never
// returned. Disposable profiles are deleted afterwards.
func (w *Worker) Close() {
	if !w.closed.CompareAndSwap(false, true) {
		return
	}

	w.release("context", func() error { return w.inst.Context.Close() })
	if w.inst.Process != nil {
		w.release("process", w.inst.Process.Close)
	}
	if w.lock != nil {
		w.release("lock", w.lock.Close)
	}

	if w.cleanupDir {
		if err := os.RemoveAll(w.userDataDir); err != nil {
			w.logger.Warn("failed to remove profile directory", "dir", w.userDataDir, "error", err)
		}
	}
	w.logger.Debug("worker closed")
}

func (w *Worker) release(what string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Warn("release panicked", "resource", what, "panic", r)
		}
	}()

	err := fn()
	switch {
	case err == nil:
	case alreadyClosed(err):
		w.logger.Debug("resource already closed", "resource", what, "error", err)
	default:
		w.logger.Warn("failed to release resource", "resource", what, "error", err)
	}
}

func alreadyClosed(err error) bool {
	if errors.Is(err, playwright.ErrTargetClosed) || errors.Is(err, os.ErrProcessDone) || errors.Is(err, os.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "has been closed") ||
		strings.Contains(msg, "target closed") ||
		strings.Contains(msg, "already closed") ||
		strings.Contains(msg, "connection closed")
}
