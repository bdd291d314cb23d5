package browser

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/neboloop/browserpool/internal/filelock"
	"github.com/neboloop/browserpool/internal/profile"
)

type routerFixture struct {
	router    *Router
	ephemeral *fakeLauncher
	master    *fakeLauncher
	masterDir string
}

func newRouterFixture(t *testing.T, opts ...RouterOption) *routerFixture {
	t.Helper()
	f := &routerFixture{ephemeral: &fakeLauncher{}, master: &fakeLauncher{}}

	ep, err := NewPool(NewEphemeralStrategy(11, true), PoolConfig{MaxWorkers: 1, QueueTimeout: time.Second}, PoolOptions{
		Launcher: f.ephemeral, Resolver: newResolver(t, ""), Logger: quietLogger(),
	})
	require.NoError(t, err)

	mv := newResolver(t, "master")
	mp, err := NewMasterPool("master", true, 30*time.Millisecond, 10*time.Millisecond, time.Second, PoolOptions{
		Launcher: f.master, Resolver: mv, Logger: quietLogger(),
	})
	require.NoError(t, err)
	f.masterDir, err = mv.Resolve("master")
	require.NoError(t, err)

	ids, err := profile.NewValidator(t.TempDir(), "master", "")
	require.NoError(t, err)
	f.router, err = NewRouter(ids, "master", ep, mp, append(opts, WithRouterLogger(quietLogger()))...)
	require.NoError(t, err)
	t.Cleanup(f.router.Shutdown)
	return f
}

func TestParseProfileType(t *testing.T) {
	tests := []struct {
		in      string
		want    ProfileType
		wantErr bool
	}{
		{"", ProfileEphemeral, false},
		{"ephemeral", ProfileEphemeral, false},
		{" Master ", ProfileMaster, false},
		{"persistent", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProfileType(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, profile.ErrInvalidID)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestRouterDispatch(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	out, err := f.router.Execute(ctx, "", "", noop)
	require.NoError(t, err)
	require.Equal(t, "slave_11_1", out)

	out, err = f.router.Execute(ctx, "master", "master", noop)
	require.NoError(t, err)
	require.Equal(t, "master", out)

	// Blank id means the default, which is the master profile.
	out, err = f.router.Execute(ctx, "", "master", noop)
	require.NoError(t, err)
	require.Equal(t, "master", out)

	require.Equal(t, int32(1), f.ephemeral.launches.Load())
	require.Equal(t, int32(2), f.master.launches.Load())
}

func TestRouterRejectsBeforeTouchingPools(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	for _, tc := range []struct{ id, typ string }{
		{"../etc", "ephemeral"},
		{"a/b", "master"},
		{"ok", "bogus"},
		{"other", "master"},
	} {
		_, err := f.router.Execute(ctx, tc.id, tc.typ, noop)
		require.ErrorIs(t, err, profile.ErrInvalidID, "%+v", tc)
	}
	require.Zero(t, f.ephemeral.launches.Load())
	require.Zero(t, f.master.launches.Load())
}

func TestRouterLockedWithoutFallback(t *testing.T) {
	f := newRouterFixture(t)

	held, ok, err := filelock.TryAcquire(filepath.Join(f.masterDir, BrowserLockFile))
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Close()

	_, err = f.router.Execute(context.Background(), "master", "master", noop)
	require.True(t, IsLocked(err), "got %v", err)
	require.Zero(t, f.ephemeral.launches.Load())
}

func TestRouterFallsBackWhenMasterLocked(t *testing.T) {
	f := newRouterFixture(t, WithFallback(true))

	held, ok, err := filelock.TryAcquire(filepath.Join(f.masterDir, BrowserLockFile))
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Close()

	out, err := f.router.Execute(context.Background(), "master", "master", noop)
	require.NoError(t, err)
	require.Equal(t, "slave_11_1", out)
}

func TestRouterStats(t *testing.T) {
	f := newRouterFixture(t)
	stats := f.router.Stats()
	require.Len(t, stats, 2)
	require.Equal(t, "ephemeral", stats[0].Name)
	require.Equal(t, "master", stats[1].Name)
}

func TestNewRouterValidation(t *testing.T) {
	ids, err := profile.NewValidator(t.TempDir(), "", "")
	require.NoError(t, err)

	_, err = NewRouter(ids, "master", nil, nil)
	require.Error(t, err)

	ep, err := NewPool(NewEphemeralStrategy(1, true), PoolConfig{}, PoolOptions{
		Launcher: &fakeLauncher{}, Resolver: newResolver(t, ""), Logger: quietLogger(),
	})
	require.NoError(t, err)
	defer ep.Shutdown()

	r, err := NewRouter(ids, "", ep, nil)
	require.NoError(t, err)
	_, err = r.Execute(context.Background(), "anything", "master", noop)
	require.ErrorIs(t, err, profile.ErrInvalidID)
}
