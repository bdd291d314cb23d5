package browser

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolConfigNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   PoolConfig
		want PoolConfig
	}{
		{"zero", PoolConfig{}, PoolConfig{MinWorkers: 0, MaxWorkers: 1, QueueTimeout: time.Millisecond}},
		{"negative min", PoolConfig{MinWorkers: -3, MaxWorkers: 2, QueueTimeout: time.Second}, PoolConfig{MinWorkers: 0, MaxWorkers: 2, QueueTimeout: time.Second}},
		{"max below min", PoolConfig{MinWorkers: 4, MaxWorkers: 2, QueueTimeout: time.Second}, PoolConfig{MinWorkers: 4, MaxWorkers: 4, QueueTimeout: time.Second}},
		{"valid", PoolConfig{MinWorkers: 1, MaxWorkers: 3, QueueTimeout: 5 * time.Second}, PoolConfig{MinWorkers: 1, MaxWorkers: 3, QueueTimeout: 5 * time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.in.Normalize())
		})
	}
}

func TestPoolReusesIdleWorker(t *testing.T) {
	l := &fakeLauncher{}
	p := newEphemeralPool(t, l, PoolConfig{MaxWorkers: 2, QueueTimeout: time.Second})

	first, err := p.Execute(context.Background(), noop)
	require.NoError(t, err)
	second, err := p.Execute(context.Background(), noop)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, "slave_4242_1", first)
	require.Equal(t, int32(1), l.launches.Load())

	stats := p.Stats()
	require.Equal(t, Stats{Name: "ephemeral", Active: 1, Idle: 1, Live: 1, Max: 2}, stats)

	contexts, _, opts := l.launched()
	require.Len(t, contexts[0].openedPages(), 2)
	for _, page := range contexts[0].openedPages() {
		require.Equal(t, int32(1), page.closes.Load(), "each task page must be closed")
	}
	require.True(t, opts[0].Headless)
}

func TestPoolNeverExceedsMaxWorkers(t *testing.T) {
	l := &fakeLauncher{}
	p := newEphemeralPool(t, l, PoolConfig{MaxWorkers: 3, QueueTimeout: 10 * time.Second})

	var running, peak atomic.Int32
	task := func(ctx context.Context, rt *Runtime) (any, error) {
		n := running.Add(1)
		for {
			cur := peak.Load()
			if n <= cur || peak.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return nil, nil
	}

	var wg sync.WaitGroup
	errs := make(chan error, 30)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Execute(context.Background(), task)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.LessOrEqual(t, peak.Load(), int32(3))
	require.LessOrEqual(t, l.maxLive.Load(), int32(3))
	require.LessOrEqual(t, l.launches.Load(), int32(3))
	require.LessOrEqual(t, p.Stats().Active, 3)
}

func TestPoolBusyAfterQueueTimeout(t *testing.T) {
	l := &fakeLauncher{}
	p := newEphemeralPool(t, l, PoolConfig{MaxWorkers: 1, QueueTimeout: 50 * time.Millisecond})

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := p.Execute(context.Background(), func(ctx context.Context, rt *Runtime) (any, error) {
			close(started)
			<-release
			return nil, nil
		})
		done <- err
	}()
	<-started

	_, err := p.Execute(context.Background(), noop)
	require.True(t, IsBusy(err), "got %v", err)
	require.False(t, IsLocked(err))

	var ue *UnavailableError
	require.ErrorAs(t, err, &ue)
	require.Equal(t, "ephemeral", ue.Pool)
	require.Equal(t, 1, ue.Active)
	require.Equal(t, 0, ue.Idle)

	close(release)
	require.NoError(t, <-done)
}

func TestPoolWaiterReceivesReturnedWorker(t *testing.T) {
	l := &fakeLauncher{}
	p := newEphemeralPool(t, l, PoolConfig{MaxWorkers: 1, QueueTimeout: 5 * time.Second})

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := p.Execute(context.Background(), func(ctx context.Context, rt *Runtime) (any, error) {
			close(started)
			time.Sleep(30 * time.Millisecond)
			return nil, nil
		})
		done <- err
	}()
	<-started

	_, err := p.Execute(context.Background(), noop)
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Equal(t, int32(1), l.launches.Load())
}

func TestPoolWaitCancelled(t *testing.T) {
	l := &fakeLauncher{}
	p := newEphemeralPool(t, l, PoolConfig{MaxWorkers: 1, QueueTimeout: 10 * time.Second})

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := p.Execute(context.Background(), func(ctx context.Context, rt *Runtime) (any, error) {
			close(started)
			<-release
			return nil, nil
		})
		done <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := p.Execute(ctx, noop)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, IsUnavailable(err))

	close(release)
	require.NoError(t, <-done)
}

func TestPoolLaunchFailureReleasesSlot(t *testing.T) {
	boom := errors.New("chrome crashed")
	l := &fakeLauncher{failOn: map[int]error{1: boom}}
	p := newEphemeralPool(t, l, PoolConfig{MaxWorkers: 1, QueueTimeout: 50 * time.Millisecond})

	_, err := p.Execute(context.Background(), noop)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, p.Stats().Active)

	// The slot is free again, so the next call launches instead of timing out.
	_, err = p.Execute(context.Background(), noop)
	require.NoError(t, err)
	require.Equal(t, int32(2), l.launches.Load())
}

func TestPoolLaunchFailureRemovesEphemeralDir(t *testing.T) {
	l := &fakeLauncher{failOn: map[int]error{1: errors.New("no browser")}}
	v := newResolver(t, "")
	p, err := NewPool(NewEphemeralStrategy(7, true), PoolConfig{MaxWorkers: 1, QueueTimeout: time.Second}, PoolOptions{
		Launcher: l, Resolver: v, Logger: quietLogger(),
	})
	require.NoError(t, err)
	defer p.Shutdown()

	_, err = p.Execute(context.Background(), noop)
	require.Error(t, err)

	entries, err := os.ReadDir(v.Root())
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPoolPreheat(t *testing.T) {
	l := &fakeLauncher{}
	p := newEphemeralPool(t, l, PoolConfig{MinWorkers: 2, MaxWorkers: 3, QueueTimeout: time.Second})

	require.Equal(t, int32(2), l.launches.Load())
	stats := p.Stats()
	require.Equal(t, 2, stats.Idle)
	require.Equal(t, 2, stats.Active)
	require.Equal(t, 2, stats.Live)
}

func TestPoolPreheatFailureCleansUp(t *testing.T) {
	boom := errors.New("launch failed")
	l := &fakeLauncher{failOn: map[int]error{2: boom}}
	v := newResolver(t, "")

	_, err := NewPool(NewEphemeralStrategy(7, true), PoolConfig{MinWorkers: 2, MaxWorkers: 2, QueueTimeout: time.Second}, PoolOptions{
		Launcher: l, Resolver: v, Logger: quietLogger(),
	})
	require.ErrorIs(t, err, boom)

	contexts, procs, _ := l.launched()
	require.Len(t, contexts, 1)
	require.Equal(t, int32(1), contexts[0].closes.Load())
	require.Equal(t, int32(1), procs[0].closes.Load())

	entries, err := os.ReadDir(v.Root())
	require.NoError(t, err)
	require.Empty(t, entries, "partially created profiles must be removed")
}

func TestPoolShutdownDisposesEveryWorkerOnce(t *testing.T) {
	l := &fakeLauncher{}
	p := newEphemeralPool(t, l, PoolConfig{MaxWorkers: 3, QueueTimeout: 5 * time.Second})

	var inFlight sync.WaitGroup
	inFlight.Add(3)
	releases := []chan struct{}{make(chan struct{}), make(chan struct{}), make(chan struct{})}
	results := make(chan error, 3)
	for i := range releases {
		release := releases[i]
		go func() {
			_, err := p.Execute(context.Background(), func(ctx context.Context, rt *Runtime) (any, error) {
				inFlight.Done()
				<-release
				return nil, nil
			})
			results <- err
		}()
	}
	// All three tasks run at once, so three workers exist.
	inFlight.Wait()
	require.Equal(t, int32(3), l.launches.Load())

	close(releases[0])
	close(releases[1])
	require.NoError(t, <-results)
	require.NoError(t, <-results)
	require.Eventually(t, func() bool { return p.Stats().Idle == 2 }, time.Second, 5*time.Millisecond)

	p.Shutdown()
	p.Shutdown()

	close(releases[2])
	require.NoError(t, <-results)

	contexts, procs, _ := l.launched()
	require.Len(t, contexts, 3)
	for i := range contexts {
		require.Equal(t, int32(1), contexts[i].closes.Load(), "context %d", i)
		require.Equal(t, int32(1), procs[i].closes.Load(), "process %d", i)
	}
	require.Equal(t, int32(0), l.live.Load())
	require.Equal(t, Stats{Name: "ephemeral", Max: 3}, p.Stats())

	_, err := p.Execute(context.Background(), noop)
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolShutdownWakesWaiters(t *testing.T) {
	l := &fakeLauncher{}
	p := newEphemeralPool(t, l, PoolConfig{MaxWorkers: 1, QueueTimeout: 10 * time.Second})

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := p.Execute(context.Background(), func(ctx context.Context, rt *Runtime) (any, error) {
			close(started)
			<-release
			return nil, nil
		})
		done <- err
	}()
	<-started

	waiter := make(chan error, 1)
	go func() {
		_, err := p.Execute(context.Background(), noop)
		waiter <- err
	}()
	time.Sleep(20 * time.Millisecond)

	p.Shutdown()
	select {
	case err := <-waiter:
		require.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not released by shutdown")
	}

	close(release)
	require.NoError(t, <-done)
}

func TestPoolTaskPanicClosesPage(t *testing.T) {
	l := &fakeLauncher{}
	p := newEphemeralPool(t, l, PoolConfig{MaxWorkers: 1, QueueTimeout: time.Second})

	require.PanicsWithValue(t, "task exploded", func() {
		_, _ = p.Execute(context.Background(), func(ctx context.Context, rt *Runtime) (any, error) {
			panic("task exploded")
		})
	})

	contexts, _, _ := l.launched()
	pages := contexts[0].openedPages()
	require.Len(t, pages, 1)
	require.Equal(t, int32(1), pages[0].closes.Load())

	// The worker went back to the pool and is still usable.
	_, err := p.Execute(context.Background(), noop)
	require.NoError(t, err)
	require.Equal(t, int32(1), l.launches.Load())
}

func TestPoolTaskErrorKeepsWorker(t *testing.T) {
	l := &fakeLauncher{}
	p := newEphemeralPool(t, l, PoolConfig{MaxWorkers: 1, QueueTimeout: time.Second})

	boom := errors.New("navigation failed")
	_, err := p.Execute(context.Background(), func(ctx context.Context, rt *Runtime) (any, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, p.Stats().Idle)
}

func TestPoolPreparesNewWorkers(t *testing.T) {
	l := &fakeLauncher{restored: 2}
	var started []string
	p, err := NewPool(NewEphemeralStrategy(1, false), PoolConfig{MaxWorkers: 1, QueueTimeout: time.Second}, PoolOptions{
		Launcher:    l,
		Resolver:    newResolver(t, ""),
		InitScripts: []string{"window.__pool = true;"},
		OnWorkerStart: func(ctx context.Context, w *Worker) error {
			started = append(started, w.ProfileID())
			return nil
		},
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	defer p.Shutdown()

	_, err = p.Execute(context.Background(), noop)
	require.NoError(t, err)

	contexts, _, opts := l.launched()
	require.Equal(t, []string{"window.__pool = true;"}, contexts[0].initScripts)
	for _, page := range contexts[0].restored {
		require.Equal(t, int32(1), page.(*fakePage).closes.Load(), "restored tabs are closed")
	}
	require.Equal(t, []string{"slave_1_1"}, started)
	require.False(t, opts[0].Headless)
}

func TestPoolWorkerStartFailureDiscardsWorker(t *testing.T) {
	l := &fakeLauncher{}
	boom := errors.New("seed failed")
	p, err := NewPool(NewEphemeralStrategy(1, true), PoolConfig{MaxWorkers: 1, QueueTimeout: time.Second}, PoolOptions{
		Launcher:      l,
		Resolver:      newResolver(t, ""),
		OnWorkerStart: func(context.Context, *Worker) error { return boom },
		Logger:        quietLogger(),
	})
	require.NoError(t, err)
	defer p.Shutdown()

	_, err = p.Execute(context.Background(), noop)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, p.Stats().Active)

	contexts, _, _ := l.launched()
	require.Equal(t, int32(1), contexts[0].closes.Load())
}

func TestPoolRecycle(t *testing.T) {
	l := &fakeLauncher{}
	p := newEphemeralPool(t, l, PoolConfig{MinWorkers: 2, MaxWorkers: 2, QueueTimeout: time.Second})

	require.Equal(t, 2, p.Recycle())
	require.Equal(t, Stats{Name: "ephemeral", Max: 2}, p.Stats())

	contexts, _, _ := l.launched()
	for _, c := range contexts {
		require.Equal(t, int32(1), c.closes.Load())
	}

	_, err := p.Execute(context.Background(), noop)
	require.NoError(t, err)
	require.Equal(t, int32(3), l.launches.Load())
}

func TestPoolRequiresCollaborators(t *testing.T) {
	_, err := NewPool(NewEphemeralStrategy(1, true), PoolConfig{}, PoolOptions{Resolver: newResolver(t, "")})
	require.Error(t, err)
	_, err = NewPool(NewEphemeralStrategy(1, true), PoolConfig{}, PoolOptions{Launcher: &fakeLauncher{}})
	require.Error(t, err)
}
