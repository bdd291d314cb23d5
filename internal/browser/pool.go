package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/neboloop/browserpool/internal/profile"
)

// PoolConfig sizes a pool.
type PoolConfig struct {
	MinWorkers   int
	MaxWorkers   int
	QueueTimeout time.Duration
}

// Normalize clamps the config to min >= 0, max >= 1, max >= min and a
// queue timeout of at least one millisecond.
func (c PoolConfig) Normalize() PoolConfig {
	if c.MinWorkers < 0 {
		c.MinWorkers = 0
	}
	if c.MaxWorkers < 1 {
		c.MaxWorkers = 1
	}
	if c.MaxWorkers < c.MinWorkers {
		c.MaxWorkers = c.MinWorkers
	}
	if c.QueueTimeout < time.Millisecond {
		c.QueueTimeout = time.Millisecond
	}
	return c
}

// PoolOptions are the collaborators of a pool.
type PoolOptions struct {
	Launcher Launcher

	// Resolver maps profile ids to directories under the pool's root.
	Resolver *profile.Validator

	// InitScripts are added to every new browser context.
	InitScripts []string

	// OnWorkerStart runs after a worker launches and before it serves its
	// first task. An error discards the worker.
	OnWorkerStart func(ctx context.Context, w *Worker) error

	Logger *slog.Logger
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Name   string `json:"name"`
	Active int    `json:"active"`
	Idle   int    `json:"idle"`
	Live   int    `json:"live"`
	Max    int    `json:"max"`
}

// Pool is a bounded set of workers sharing one strategy.
type Pool struct {
	strategy Strategy
	cfg      PoolConfig
	opts     PoolOptions
	logger   *slog.Logger

	idle  chan *Worker
	freed chan struct{}
	done  chan struct{}
	live  sync.Map // *Worker -> struct{}

	active   atomic.Int64
	shutdown atomic.Bool
}

// NewPool creates a pool and synchronously starts cfg.MinWorkers workers.
// If any of them fails to start the pool is shut down and the error
// returned.
func NewPool(strategy Strategy, cfg PoolConfig, opts PoolOptions) (*Pool, error) {
	if opts.Launcher == nil {
		return nil, fmt.Errorf("browser pool: launcher is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("browser pool: profile resolver is required")
	}
	if l, ok := strategy.(configLimiter); ok {
		cfg = l.Limit(cfg)
	}
	cfg = cfg.Normalize()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		strategy: strategy,
		cfg:      cfg,
		opts:     opts,
		logger:   logger.With("component", "pool", "pool", strategy.Name()),
		idle:     make(chan *Worker, cfg.MaxWorkers),
		freed:    make(chan struct{}, cfg.MaxWorkers),
		done:     make(chan struct{}),
	}

	for i := 0; i < cfg.MinWorkers; i++ {
		if !p.reserve() {
			break
		}
		w, err := p.spawn(context.Background())
		if err != nil {
			p.Shutdown()
			return nil, fmt.Errorf("preheat %s pool: %w", strategy.Name(), err)
		}
		p.idle <- w
	}

	p.logger.Info("pool started", "min", cfg.MinWorkers, "max", cfg.MaxWorkers, "queue_timeout", cfg.QueueTimeout)
	return p, nil
}

// Name returns the strategy name.
func (p *Pool) Name() string { return p.strategy.Name() }

// Config returns the normalized configuration.
func (p *Pool) Config() PoolConfig { return p.cfg }

// Execute runs task on a pooled worker, starting one if capacity allows
// and otherwise waiting up to the queue timeout. A wait that times out
// returns the strategy's busy error.
func (p *Pool) Execute(ctx context.Context, task Task) (any, error) {
	if p.shutdown.Load() {
		return nil, ErrPoolClosed
	}

	w, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.release(w)

	return w.Execute(ctx, task)
}

func (p *Pool) acquire(ctx context.Context) (*Worker, error) {
	if w := p.pollIdle(); w != nil {
		return w, nil
	}
	if p.reserve() {
		return p.spawn(ctx)
	}

	timer := time.NewTimer(p.cfg.QueueTimeout)
	defer timer.Stop()

	for {
		select {
		case w := <-p.idle:
			if w.Closed() {
				p.dispose(w)
				continue
			}
			return w, nil
		case <-p.freed:
			if p.reserve() {
				return p.spawn(ctx)
			}
		case <-timer.C:
			active, idle := int(p.active.Load()), len(p.idle)
			p.logger.Warn("no worker available", "active", active, "idle", idle, "max", p.cfg.MaxWorkers, "waited", p.cfg.QueueTimeout)
			return nil, p.strategy.BusyError(active, idle)
		case <-p.done:
			return nil, ErrPoolClosed
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for %s worker: %w", p.strategy.Name(), ctx.Err())
		}
	}
}

// pollIdle dequeues an idle worker without blocking, skipping closed ones.
func (p *Pool) pollIdle() *Worker {
	for {
		select {
		case w := <-p.idle:
			if w.Closed() {
				p.dispose(w)
				continue
			}
			return w
		default:
			return nil
		}
	}
}

// reserve claims one slot of capacity.
func (p *Pool) reserve() bool {
	limit := int64(p.cfg.MaxWorkers)
	for {
		cur := p.active.Load()
		if cur >= limit {
			return false
		}
		if p.active.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// unreserve gives a slot back and wakes one waiter.
func (p *Pool) unreserve() {
	p.active.Add(-1)
	select {
	case p.freed <- struct{}{}:
	default:
	}
}

// spawn starts a worker on a slot the caller already reserved. On failure
// the slot is released before returning.
func (p *Pool) spawn(ctx context.Context) (*Worker, error) {
	id := p.strategy.AllocateProfileID()
	logger := p.logger.With("profile", id)

	dir, err := p.opts.Resolver.Resolve(id)
	if err != nil {
		p.unreserve()
		return nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		p.unreserve()
		return nil, fmt.Errorf("create profile directory: %w", err)
	}
	cleanup := p.strategy.CleanupDirOnClose()

	lock, err := p.strategy.AcquireProfileLock(ctx, id, dir)
	if err != nil {
		if IsLocked(err) {
			logger.Warn("profile locked by another process")
		}
		if cleanup {
			os.RemoveAll(dir)
		}
		p.unreserve()
		return nil, err
	}

	inst, err := p.opts.Launcher.Launch(ctx, LaunchOptions{UserDataDir: dir, Headless: p.strategy.Headless()})
	if err != nil {
		if lock != nil {
			lock.Close()
		}
		if cleanup {
			os.RemoveAll(dir)
		}
		p.unreserve()
		return nil, fmt.Errorf("launch %s worker %s: %w", p.strategy.Name(), id, err)
	}

	w := newWorker(id, dir, inst, lock, cleanup, logger)
	if err := p.prepare(ctx, w); err != nil {
		w.Close()
		p.unreserve()
		return nil, err
	}

	p.live.Store(w, struct{}{})
	if p.shutdown.Load() {
		// Shutdown may already have swept the registry.
		p.dispose(w)
		return nil, ErrPoolClosed
	}

	logger.Info("worker started", "dir", dir, "active", p.active.Load())
	return w, nil
}

func (p *Pool) prepare(ctx context.Context, w *Worker) error {
	bctx := w.Context()

	for _, script := range p.opts.InitScripts {
		if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(script)}); err != nil {
			return fmt.Errorf("add init script: %w", err)
		}
	}

	// Persistent contexts reopen the previous session's tabs.
	for _, page := range bctx.Pages() {
		if err := page.Close(); err != nil {
			w.logger.Debug("failed to close restored page", "error", err)
		}
	}

	if p.opts.OnWorkerStart != nil {
		if err := p.opts.OnWorkerStart(ctx, w); err != nil {
			return fmt.Errorf("start worker %s: %w", w.ProfileID(), err)
		}
	}
	return nil
}

// release returns a worker to the idle queue or disposes it.
func (p *Pool) release(w *Worker) {
	if p.shutdown.Load() || !p.strategy.RetainAfterTask() || w.Closed() {
		p.dispose(w)
		return
	}

	select {
	case p.idle <- w:
	default:
		p.logger.Warn("idle queue full, disposing worker", "profile", w.ProfileID())
		p.dispose(w)
		return
	}

	if p.shutdown.Load() {
		p.drainIdle()
	}
}

// dispose closes w if it is still registered. Registry removal decides who
// closes, so every worker is disposed exactly once.
func (p *Pool) dispose(w *Worker) {
	if _, ok := p.live.LoadAndDelete(w); !ok {
		return
	}
	w.Close()
	p.unreserve()
}

func (p *Pool) drainIdle() int {
	n := 0
	for {
		select {
		case w := <-p.idle:
			p.dispose(w)
			n++
		default:
			return n
		}
	}
}

// Recycle disposes every idle worker; busy workers are untouched. New
// workers are started on demand. It returns the number disposed.
func (p *Pool) Recycle() int {
	n := p.drainIdle()
	if n > 0 {
		p.logger.Info("recycled idle workers", "count", n)
	}
	return n
}

// Stats reports current pool occupancy.
func (p *Pool) Stats() Stats {
	live := 0
	p.live.Range(func(_, _ any) bool {
		live++
		return true
	})
	return Stats{
		Name:   p.strategy.Name(),
		Active: int(p.active.Load()),
		Idle:   len(p.idle),
		Live:   live,
		Max:    p.cfg.MaxWorkers,
	}
}

// Shutdown disposes idle workers, then every worker still registered,
// including busy ones. Later calls are no-ops.
func (p *Pool) Shutdown() {
	if !p.shutdown.CompareAndSwap(false, true) {
		return
	}
	close(p.done)
	p.logger.Info("pool shutting down", "active", p.active.Load(), "idle", len(p.idle))

	idle := p.drainIdle()
	busy := 0
	p.live.Range(func(k, _ any) bool {
		p.dispose(k.(*Worker))
		busy++
		return true
	})

	p.logger.Info("pool shut down", "idle_disposed", idle, "busy_disposed", busy)
}
