// Package login runs an interactive login session on the master profile and
// keeps its published snapshot up to date while the user works.
package login

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	cronlib "github.com/robfig/cron/v3"

	"github.com/neboloop/browserpool/internal/browser"
	"github.com/neboloop/browserpool/internal/filelock"
	"github.com/neboloop/browserpool/internal/snapshot"
)

// ErrLoginInProgress is returned when another login session holds the
// profile's login lock.
var ErrLoginInProgress = errors.New("login session already in progress")

// DefaultRefreshSpec publishes the session state every 30 seconds.
const DefaultRefreshSpec = "@every 30s"

// Options configures a login session.
type Options struct {
	Store     *snapshot.Store
	ProfileID string
	// UserDataDir is the master profile's browser directory.
	UserDataDir string
	Launcher    browser.Launcher
	StartURL    string
	// RefreshSpec is a cron spec for periodic publishing.
	RefreshSpec   string
	LockTimeout   time.Duration
	RetryInterval time.Duration
	Headless      bool
	Logger        *slog.Logger
}

// Result summarizes a finished session.
type Result struct {
	ProfileID string `json:"profileId"`
	Version   int64  `json:"version"`
	Published int    `json:"published"`
}

// closeNotifier is implemented by playwright.BrowserContext.
type closeNotifier interface {
	OnClose(fn func(playwright.BrowserContext))
}

// pageNotifier is implemented by playwright.BrowserContext.
type pageNotifier interface {
	OnPage(fn func(playwright.Page))
}

// pageEvents is implemented by playwright.Page.
type pageEvents interface {
	OnLoad(fn func(playwright.Page))
	OnClose(fn func(playwright.Page))
}

type session struct {
	store     *snapshot.Store
	profileID string
	bctx      browser.BrowserContext
	logger    *slog.Logger

	mu        sync.Mutex
	last      []byte
	published int

	closedOnce sync.Once
	closed     chan struct{}

	// checkpoint is signalled by page events. Event handlers run on the
	// driver's dispatch loop, so they only signal and never capture.
	checkpoint chan struct{}
}

// Run opens the master profile in a visible browser and blocks until ctx
// is done or the user closes the browser. The login state is published on
// every refresh tick and once more at the end.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Store == nil || opts.Launcher == nil {
		return nil, fmt.Errorf("login: store and launcher are required")
	}
	if opts.RefreshSpec == "" {
		opts.RefreshSpec = DefaultRefreshSpec
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = browser.DefaultLockRetryInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "login", "profile", opts.ProfileID)

	if err := opts.Store.EnsureInitialized(opts.ProfileID); err != nil {
		return nil, err
	}

	loginLockPath, err := opts.Store.LoginLockPath(opts.ProfileID)
	if err != nil {
		return nil, err
	}
	loginLock, ok, err := filelock.TryAcquire(loginLockPath)
	if err != nil {
		return nil, fmt.Errorf("login lock: %w", err)
	}
	if !ok {
		return nil, ErrLoginInProgress
	}
	defer loginLock.Close()

	browserLock, ok, err := filelock.Acquire(ctx, filepath.Join(opts.UserDataDir, browser.BrowserLockFile), opts.LockTimeout, opts.RetryInterval)
	if err != nil {
		return nil, fmt.Errorf("browser lock: %w", err)
	}
	if !ok {
		return nil, &browser.UnavailableError{Kind: browser.KindLocked, Pool: "login", ProfileID: opts.ProfileID}
	}
	defer browserLock.Close()

	inst, err := opts.Launcher.Launch(ctx, browser.LaunchOptions{UserDataDir: opts.UserDataDir, Headless: opts.Headless})
	if err != nil {
		return nil, fmt.Errorf("launch login browser: %w", err)
	}
	defer func() {
		if err := inst.Context.Close(); err != nil {
			logger.Debug("context close failed", "error", err)
		}
		if inst.Process != nil {
			if err := inst.Process.Close(); err != nil {
				logger.Debug("process close failed", "error", err)
			}
		}
	}()

	s := &session{
		store:      opts.Store,
		profileID:  opts.ProfileID,
		bctx:       inst.Context,
		logger:     logger,
		closed:     make(chan struct{}),
		checkpoint: make(chan struct{}, 1),
	}
	if n, ok := inst.Context.(closeNotifier); ok {
		n.OnClose(func(playwright.BrowserContext) { s.markClosed() })
	}
	if n, ok := inst.Context.(pageNotifier); ok {
		n.OnPage(s.watchPage)
	}
	for _, page := range inst.Context.Pages() {
		s.watchPage(page)
	}

	if opts.StartURL != "" {
		if page, err := inst.Context.NewPage(); err != nil {
			logger.Warn("failed to open page", "error", err)
		} else if _, err := page.Goto(opts.StartURL); err != nil {
			logger.Warn("failed to open start url", "url", opts.StartURL, "error", err)
		}
	}

	scheduler := cronlib.New()
	if _, err := scheduler.AddFunc(opts.RefreshSpec, s.refresh); err != nil {
		return nil, fmt.Errorf("invalid refresh spec %q: %w", opts.RefreshSpec, err)
	}
	scheduler.Start()

	stopCheckpoints := make(chan struct{})
	checkpointsDone := make(chan struct{})
	go func() {
		defer close(checkpointsDone)
		s.runCheckpoints(stopCheckpoints)
	}()
	logger.Info("login session started", "dir", opts.UserDataDir, "refresh", opts.RefreshSpec)

	select {
	case <-ctx.Done():
		logger.Info("login session interrupted")
	case <-s.closed:
		logger.Info("browser closed by user")
	}

	<-scheduler.Stop().Done()
	close(stopCheckpoints)
	<-checkpointsDone
	s.flush()

	h, err := opts.Store.ReadLatest(opts.ProfileID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Result{ProfileID: h.ProfileID, Version: h.Version, Published: s.published}, nil
}

func (s *session) markClosed() {
	s.closedOnce.Do(func() { close(s.closed) })
}

// watchPage publishes after every page load and whenever a page closes,
// so the state is captured while the context is still alive, including
// the close of the last window.
func (s *session) watchPage(page playwright.Page) {
	events, ok := page.(pageEvents)
	if !ok {
		return
	}
	signal := func(playwright.Page) {
		select {
		case s.checkpoint <- struct{}{}:
		default:
		}
	}
	events.OnLoad(signal)
	events.OnClose(signal)
}

func (s *session) runCheckpoints(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-s.checkpoint:
			s.publish()
			if len(s.bctx.Pages()) == 0 {
				s.markClosed()
			}
		}
	}
}

// refresh publishes the current state, or ends the session once the user
// has closed every window.
func (s *session) refresh() {
	if len(s.bctx.Pages()) == 0 {
		s.markClosed()
		return
	}
	s.publish()
}

// flush publishes the final state of the session.
func (s *session) flush() {
	if !s.publish() {
		s.logger.Debug("final flush published nothing")
	}
}

// publish writes the context's storage state if it changed since the last
// publish.
func (s *session) publish() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := browser.CaptureState(s.bctx)
	if err != nil {
		s.logger.Debug("capture state failed", "error", err)
		return false
	}
	if bytes.Equal(state, s.last) {
		return false
	}

	h, err := s.store.ReadLatest(s.profileID)
	if err != nil {
		s.logger.Warn("read snapshot failed", "error", err)
		return false
	}
	if !s.store.TryPublish(context.Background(), s.profileID, h.Version, state) {
		return false
	}
	s.last = state
	s.published++
	return true
}

// MasterDir resolves the browser directory of the master profile and makes
// sure it exists.
func MasterDir(resolve func(string) (string, error), profileID string) (string, error) {
	dir, err := resolve(profileID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create master profile: %w", err)
	}
	return dir, nil
}
