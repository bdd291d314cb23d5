package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/neboloop/browserpool/internal/browser"
	"github.com/neboloop/browserpool/internal/metrics"
	"github.com/neboloop/browserpool/internal/snapshot"
)

type call struct {
	profileID   string
	profileType string
}

type fakeExecutor struct {
	mu     sync.Mutex
	calls  []call
	result any
	err    error
}

func (e *fakeExecutor) Execute(ctx context.Context, profileID, profileType string, task browser.Task) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call{profileID, profileType})
	return e.result, e.err
}

func (e *fakeExecutor) Stats() []browser.Stats {
	return []browser.Stats{{Name: "ephemeral", Active: 1, Idle: 1, Live: 1, Max: 2}}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthAndStats(t *testing.T) {
	h := NewHandler(Options{Executor: &fakeExecutor{}, Logger: quietLogger()})

	rr := do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = do(t, h, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `[{"name":"ephemeral","active":1,"idle":1,"live":1,"max":2}]`, rr.Body.String())
}

func TestRecycle(t *testing.T) {
	m := metrics.New(metrics.Sources{})
	h := NewHandler(Options{
		Executor: &fakeExecutor{},
		Recycle:  func() int { return 2 },
		Metrics:  m,
		Logger:   quietLogger(),
	})

	rr := do(t, h, http.MethodPost, "/recycle", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"recycled":2}`, rr.Body.String())

	rr = do(t, h, http.MethodGet, "/recycle", "")
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = do(t, h, http.MethodGet, "/metrics", "")
	require.Contains(t, rr.Body.String(), "browserpool_pool_recycled_workers_total 2")
}

func TestSnapshot(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h := NewHandler(Options{
		Executor: &fakeExecutor{},
		Snapshot: func() (snapshot.Handle, error) {
			return snapshot.Handle{ProfileID: "master", Version: 3, UpdatedAt: at, WriterID: "w1"}, nil
		},
		Logger: quietLogger(),
	})

	rr := do(t, h, http.MethodGet, "/snapshot", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"profileId":"master","version":3,"updatedAt":"2026-01-02T03:04:05Z","writerId":"w1"}`, rr.Body.String())

	noSnap := NewHandler(Options{Executor: &fakeExecutor{}, Logger: quietLogger()})
	require.Equal(t, http.StatusNotFound, do(t, noSnap, http.MethodGet, "/snapshot", "").Code)
}

func TestFetch(t *testing.T) {
	exec := &fakeExecutor{result: &browser.PageContent{ProfileID: "slave_1_1", URL: "https://example.com/", Title: "Example"}}
	m := metrics.New(metrics.Sources{})
	h := NewHandler(Options{Executor: exec, Metrics: m, Logger: quietLogger()})

	rr := do(t, h, http.MethodGet, "/fetch?url=https://example.com", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var page browser.PageContent
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Equal(t, "Example", page.Title)

	rr = do(t, h, http.MethodPost, "/fetch", `{"url":"https://example.com","profile":"master","type":"master"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	require.Equal(t, []call{{"", ""}, {"master", "master"}}, exec.calls)

	rr = do(t, h, http.MethodGet, "/metrics", "")
	require.Contains(t, rr.Body.String(), `browserpool_task_total{profile_type="master",result="ok"} 1`)
	require.Contains(t, rr.Body.String(), `browserpool_task_total{profile_type="ephemeral",result="ok"} 1`)
}

func TestFetchErrors(t *testing.T) {
	exec := &fakeExecutor{err: &browser.UnavailableError{Kind: browser.KindBusy, Pool: "ephemeral", Active: 2}}
	h := NewHandler(Options{Executor: exec, Logger: quietLogger()})

	rr := do(t, h, http.MethodGet, "/fetch", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Empty(t, exec.calls)

	rr = do(t, h, http.MethodGet, "/fetch?url=https://example.com", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Contains(t, rr.Body.String(), `"reason":"busy"`)

	exec.err = errors.New("navigation failed")
	rr = do(t, h, http.MethodGet, "/fetch?url=https://example.com", "")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestServe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- Serve(ctx, "127.0.0.1:0", http.NotFoundHandler(), quietLogger())
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeListenError(t *testing.T) {
	err := Serve(context.Background(), "256.0.0.1:bad", http.NotFoundHandler(), quietLogger())
	require.Error(t, err)
}

func TestFetchMetricsUseParsedType(t *testing.T) {
	exec := &fakeExecutor{result: &browser.PageContent{}}
	m := metrics.New(metrics.Sources{})
	h := NewHandler(Options{Executor: exec, Metrics: m, Logger: quietLogger()})

	for _, typ := range []string{"MASTER", "junk1", "junk2"} {
		do(t, h, http.MethodGet, "/fetch?url=https://example.com&type="+typ, "")
	}

	body := do(t, h, http.MethodGet, "/metrics", "").Body.String()
	require.Contains(t, body, `browserpool_task_total{profile_type="master",result="ok"} 1`)
	require.Contains(t, body, `browserpool_task_total{profile_type="invalid",result="ok"} 2`)
	require.NotContains(t, body, "junk")
	require.NotContains(t, body, "MASTER")
}
