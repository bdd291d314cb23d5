package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/neboloop/browserpool/internal/admin"
	"github.com/neboloop/browserpool/internal/metrics"
	"github.com/neboloop/browserpool/internal/snapshot"
)

// ServeCmd creates the serve command
func ServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pools with the admin HTTP endpoint",
		Long: `Start the ephemeral and master pools and keep them running until
interrupted. Idle ephemeral workers are recycled whenever a newer master
snapshot is published, so new tasks pick up fresh login state.

Endpoints (default 127.0.0.1:9470):
  GET  /healthz     liveness
  GET  /stats       pool occupancy
  GET  /snapshot    current master snapshot version
  GET  /metrics     Prometheus metrics
  POST /recycle     dispose idle ephemeral workers
  GET  /fetch?url=  run a fetch task (also POST with a JSON body)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Admin.Listen = listen
			}
			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, a)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "admin listen address (empty disables the endpoint)")

	return cmd
}

func runServe(ctx context.Context, a *app) error {
	masterID, err := a.masterID()
	if err != nil {
		return err
	}
	if err := a.store.EnsureInitialized(masterID); err != nil {
		return err
	}

	router, err := a.buildRouter(a.cfg.Pool.MinWorkers)
	if err != nil {
		return err
	}
	defer router.Shutdown()

	m := metrics.New(metrics.Sources{
		Stats: router.Stats,
		SnapshotVersion: func() (int64, error) {
			h, err := a.store.ReadLatest(masterID)
			return h.Version, err
		},
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.store.Watch(ctx, masterID, func(h snapshot.Handle) {
			n := router.Ephemeral().Recycle()
			m.ObserveRecycle(n)
			a.logger.Info("new master snapshot", "version", h.Version, "writer", h.WriterID, "recycled", n)
		})
		if err != nil {
			return fmt.Errorf("watch snapshot: %w", err)
		}
		return nil
	})

	if a.cfg.Admin.Listen != "" {
		handler := admin.NewHandler(admin.Options{
			Executor: router,
			Recycle:  router.Ephemeral().Recycle,
			Snapshot: func() (snapshot.Handle, error) { return a.store.ReadLatest(masterID) },
			Metrics:  m,
			Logger:   a.logger,
		})
		g.Go(func() error {
			return admin.Serve(ctx, a.cfg.Admin.Listen, handler, a.logger)
		})
	}

	a.logger.Info("browserpool serving", "master", masterID, "max_workers", a.cfg.Pool.MaxWorkers, "admin", a.cfg.Admin.Listen)
	err = g.Wait()
	a.logger.Info("browserpool stopping")
	return err
}
