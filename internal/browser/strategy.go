package browser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/neboloop/browserpool/internal/filelock"
)

// Strategy supplies the policy that distinguishes one kind of pool from
// another.
type Strategy interface {
	// Name labels logs and busy errors.
	Name() string
	// AllocateProfileID returns the profile id for a new worker.
	AllocateProfileID() string
	// BusyError is returned when no worker frees up in time.
	BusyError(active, idle int) error
	// AcquireProfileLock runs before the browser launches. A nil Closer
	// means no lock is needed.
	AcquireProfileLock(ctx context.Context, profileID, userDataDir string) (io.Closer, error)
	// CleanupDirOnClose reports whether a worker's directory is deleted
	// when the worker closes.
	CleanupDirOnClose() bool
	Headless() bool
	// RetainAfterTask reports whether a worker goes back to the idle
	// queue after a task instead of being disposed.
	RetainAfterTask() bool
}

// configLimiter is implemented by strategies that constrain pool sizing.
type configLimiter interface {
	Limit(PoolConfig) PoolConfig
}

// EphemeralStrategy runs disposable profiles named slave_{pid}_{seq} and
// keeps workers warm between tasks.
type EphemeralStrategy struct {
	pid      int
	headless bool
	seq      atomic.Int64
}

// NewEphemeralStrategy creates the strategy for the process pid.
func NewEphemeralStrategy(pid int, headless bool) *EphemeralStrategy {
	return &EphemeralStrategy{pid: pid, headless: headless}
}

func (s *EphemeralStrategy) Name() string { return "ephemeral" }

func (s *EphemeralStrategy) AllocateProfileID() string {
	return EphemeralProfileID(s.pid, s.seq.Add(1))
}

func (s *EphemeralStrategy) BusyError(active, idle int) error {
	return &UnavailableError{Kind: KindBusy, Pool: s.Name(), Active: active, Idle: idle}
}

func (s *EphemeralStrategy) AcquireProfileLock(context.Context, string, string) (io.Closer, error) {
	return nil, nil
}

func (s *EphemeralStrategy) CleanupDirOnClose() bool { return true }
func (s *EphemeralStrategy) Headless() bool          { return s.headless }
func (s *EphemeralStrategy) RetainAfterTask() bool   { return true }

// MasterStrategy runs the single durable master profile. Its browser lock
// keeps other processes, such as a manual login session, out while a task
// runs, and workers are released right after each task.
type MasterStrategy struct {
	profileID     string
	headless      bool
	lockTimeout   time.Duration
	retryInterval time.Duration
}

// NewMasterStrategy creates the strategy for profileID.
func NewMasterStrategy(profileID string, headless bool, lockTimeout, retryInterval time.Duration) *MasterStrategy {
	if retryInterval <= 0 {
		retryInterval = DefaultLockRetryInterval
	}
	return &MasterStrategy{
		profileID:     profileID,
		headless:      headless,
		lockTimeout:   lockTimeout,
		retryInterval: retryInterval,
	}
}

func (s *MasterStrategy) Name() string { return "master" }

func (s *MasterStrategy) AllocateProfileID() string { return s.profileID }

func (s *MasterStrategy) BusyError(active, idle int) error {
	return &UnavailableError{Kind: KindBusy, Pool: s.Name(), ProfileID: s.profileID, Active: active, Idle: idle}
}

func (s *MasterStrategy) AcquireProfileLock(ctx context.Context, profileID, userDataDir string) (io.Closer, error) {
	lock, ok, err := filelock.Acquire(ctx, filepath.Join(userDataDir, BrowserLockFile), s.lockTimeout, s.retryInterval)
	if err != nil {
		return nil, fmt.Errorf("lock master profile: %w", err)
	}
	if !ok {
		return nil, &UnavailableError{Kind: KindLocked, Pool: s.Name(), ProfileID: profileID}
	}
	return lock, nil
}

func (s *MasterStrategy) CleanupDirOnClose() bool { return false }
func (s *MasterStrategy) Headless() bool          { return s.headless }
func (s *MasterStrategy) RetainAfterTask() bool   { return false }

// Limit caps the master pool at one worker and disables preheating.
func (s *MasterStrategy) Limit(cfg PoolConfig) PoolConfig {
	cfg.MaxWorkers = 1
	cfg.MinWorkers = 0
	return cfg
}

// NewEphemeralPool removes zombie profiles under the resolver's root and
// starts an ephemeral pool for process pid.
func NewEphemeralPool(pid int, headless bool, cfg PoolConfig, opts PoolOptions) (*Pool, error) {
	if opts.Resolver == nil {
		return nil, fmt.Errorf("browser pool: profile resolver is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := CleanupZombies(opts.Resolver.Root(), pid, ProcessAlive, logger.With("component", "zombie")); err != nil {
		logger.Warn("zombie cleanup failed", "root", opts.Resolver.Root(), "error", err)
	}
	return NewPool(NewEphemeralStrategy(pid, headless), cfg, opts)
}

// NewMasterPool starts a single-worker pool for the master profile.
func NewMasterPool(profileID string, headless bool, lockTimeout, retryInterval, queueTimeout time.Duration, opts PoolOptions) (*Pool, error) {
	strategy := NewMasterStrategy(profileID, headless, lockTimeout, retryInterval)
	return NewPool(strategy, PoolConfig{MaxWorkers: 1, QueueTimeout: queueTimeout}, opts)
}
