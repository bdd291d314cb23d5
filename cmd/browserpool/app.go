package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/neboloop/browserpool/internal/browser"
	"github.com/neboloop/browserpool/internal/config"
	"github.com/neboloop/browserpool/internal/profile"
	"github.com/neboloop/browserpool/internal/snapshot"
)

// app holds the collaborators every command builds from the config.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	ephemeralProfiles *profile.Validator
	masterProfiles    *profile.Validator
	store             *snapshot.Store
	launcher          browser.Launcher
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	p := cfg.Profiles

	ephemeral, err := profile.NewValidator(p.EphemeralRoot, "", p.IDPattern)
	if err != nil {
		return nil, fmt.Errorf("ephemeral profiles: %w", err)
	}
	master, err := profile.NewValidator(p.MasterRoot, p.DefaultID, p.IDPattern)
	if err != nil {
		return nil, fmt.Errorf("master profiles: %w", err)
	}
	snapshots, err := profile.NewValidator(p.SnapshotRoot, p.MasterID, p.IDPattern)
	if err != nil {
		return nil, fmt.Errorf("snapshot profiles: %w", err)
	}

	store := snapshot.New(snapshots,
		snapshot.WithPublishTimeout(config.Ms(cfg.Snapshot.PublishTimeoutMs)),
		snapshot.WithRetryInterval(config.Ms(cfg.Snapshot.RetryIntervalMs)),
		snapshot.WithLogger(logger),
	)

	launcher := browser.NewPlaywrightLauncher(browser.PlaywrightConfig{
		ExecutablePath: cfg.Browser.ExecutablePath,
		NoSandbox:      cfg.Browser.NoSandbox,
		Args:           cfg.Browser.Args,
		TimeoutMs:      float64(cfg.Browser.LaunchTimeoutMs),
	}, logger)

	return &app{
		cfg:               cfg,
		logger:            logger,
		ephemeralProfiles: ephemeral,
		masterProfiles:    master,
		store:             store,
		launcher:          launcher,
	}, nil
}

// masterID returns the normalized master profile id.
func (a *app) masterID() (string, error) {
	return a.masterProfiles.Normalize(a.cfg.Profiles.MasterID)
}

// buildRouter starts both pools and the router in front of them. The caller
// must call Shutdown on the router.
func (a *app) buildRouter(minWorkers int) (*browser.Router, error) {
	masterID, err := a.masterID()
	if err != nil {
		return nil, err
	}

	ephemeralOpts := browser.PoolOptions{
		Launcher:    a.launcher,
		Resolver:    a.ephemeralProfiles,
		InitScripts: a.cfg.Browser.InitScripts,
		Logger:      a.logger,
	}
	if a.cfg.Snapshot.SeedEphemeral {
		if err := a.store.EnsureInitialized(masterID); err != nil {
			return nil, err
		}
		seeder := &browser.SnapshotSeeder{Store: a.store, ProfileID: masterID, Logger: a.logger.With("component", "seeder")}
		ephemeralOpts.OnWorkerStart = seeder.Seed
	}

	ephemeral, err := browser.NewEphemeralPool(os.Getpid(), a.cfg.Browser.Headless, browser.PoolConfig{
		MinWorkers:   minWorkers,
		MaxWorkers:   a.cfg.Pool.MaxWorkers,
		QueueTimeout: config.Ms(a.cfg.Pool.QueueTimeoutMs),
	}, ephemeralOpts)
	if err != nil {
		return nil, fmt.Errorf("start ephemeral pool: %w", err)
	}

	m := a.cfg.Master
	master, err := browser.NewMasterPool(masterID, m.Headless,
		config.Ms(m.LockTimeoutMs), config.Ms(m.LockRetryMs), config.Ms(m.QueueTimeoutMs),
		browser.PoolOptions{
			Launcher:    a.launcher,
			Resolver:    a.masterProfiles,
			InitScripts: a.cfg.Browser.InitScripts,
			Logger:      a.logger,
		})
	if err != nil {
		ephemeral.Shutdown()
		return nil, fmt.Errorf("start master pool: %w", err)
	}

	router, err := browser.NewRouter(a.masterProfiles, masterID, ephemeral, master,
		browser.WithFallback(a.cfg.Router.FallbackToEphemeral),
		browser.WithRouterLogger(a.logger.With("component", "router")),
	)
	if err != nil {
		master.Shutdown()
		ephemeral.Shutdown()
		return nil, err
	}
	return router, nil
}
