// Package admin serves the local HTTP endpoint of a running pool: health,
// stats, metrics, recycling and a fetch task for ad-hoc use.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/neboloop/browserpool/internal/browser"
	"github.com/neboloop/browserpool/internal/httputil"
	"github.com/neboloop/browserpool/internal/metrics"
	"github.com/neboloop/browserpool/internal/snapshot"
)

// Executor runs tasks against the pools. *browser.Router implements it.
type Executor interface {
	Execute(ctx context.Context, profileID, profileType string, task browser.Task) (any, error)
	Stats() []browser.Stats
}

// Options are the collaborators of the admin handler.
type Options struct {
	Executor Executor
	// Recycle disposes idle ephemeral workers and returns how many.
	Recycle func() int
	// Snapshot returns the master profile's current snapshot. Nil disables
	// the /snapshot route.
	Snapshot func() (snapshot.Handle, error)
	// Metrics is served on /metrics and records fetch outcomes. Optional.
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type fetchRequest struct {
	URL         string `form:"url" json:"url"`
	ProfileID   string `form:"profile" json:"profile"`
	ProfileType string `form:"type" json:"type"`
	WaitUntil   string `form:"wait_until" json:"waitUntil"`
	TimeoutMs   int    `form:"timeout_ms" json:"timeoutMs"`
	HTML        bool   `form:"html" json:"html"`
}

type snapshotResponse struct {
	ProfileID string    `json:"profileId"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
	WriterID  string    `json:"writerId"`
}

// NewHandler builds the admin routes.
func NewHandler(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "admin")

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httputil.OkJSON(w, map[string]string{"status": "ok"})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		httputil.OkJSON(w, opts.Executor.Stats())
	})

	r.Post("/recycle", func(w http.ResponseWriter, r *http.Request) {
		n := 0
		if opts.Recycle != nil {
			n = opts.Recycle()
		}
		if opts.Metrics != nil {
			opts.Metrics.ObserveRecycle(n)
		}
		httputil.OkJSON(w, map[string]int{"recycled": n})
	})

	if opts.Snapshot != nil {
		r.Get("/snapshot", func(w http.ResponseWriter, r *http.Request) {
			h, err := opts.Snapshot()
			if err != nil {
				httputil.Error(w, err)
				return
			}
			httputil.OkJSON(w, snapshotResponse{
				ProfileID: h.ProfileID,
				Version:   h.Version,
				UpdatedAt: h.UpdatedAt,
				WriterID:  h.WriterID,
			})
		})
	}

	fetch := fetchHandler(opts, logger)
	r.Get("/fetch", fetch)
	r.Post("/fetch", fetch)

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}
	return r
}

func fetchHandler(opts Options, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req fetchRequest
		if err := httputil.Parse(r, &req); err != nil {
			httputil.ErrorWithCode(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.URL == "" {
			httputil.ErrorWithCode(w, http.StatusBadRequest, "url is required")
			return
		}

		task := browser.FetchTask(browser.FetchOptions{
			URL:       req.URL,
			WaitUntil: req.WaitUntil,
			Timeout:   time.Duration(req.TimeoutMs) * time.Millisecond,
			HTML:      req.HTML,
		})

		start := time.Now()
		result, err := opts.Executor.Execute(r.Context(), req.ProfileID, req.ProfileType, task)
		if opts.Metrics != nil {
			opts.Metrics.ObserveTask(req.ProfileType, start, err)
		}
		if err != nil {
			logger.Debug("fetch failed", "url", req.URL, "type", req.ProfileType, "error", err)
			httputil.Error(w, err)
			return
		}
		httputil.OkJSON(w, result)
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		})
	}
}

// Serve listens on addr and serves handler until ctx is cancelled, then
// shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("admin listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info("admin server listening", "component", "admin", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin shutdown: %w", err)
	}
	return nil
}
