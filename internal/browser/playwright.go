package browser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightConfig configures browsers launched through Playwright.
type PlaywrightConfig struct {
	// ExecutablePath selects the browser binary. Empty uses the
	// Playwright-managed Chromium; ExecutableSystem picks an installed one.
	ExecutablePath string

	// NoSandbox disables the Chrome sandbox (needed in some containers).
	NoSandbox bool

	// Args are appended to the default Chrome flags.
	Args []string

	// TimeoutMs bounds the browser launch. Zero keeps Playwright's default.
	TimeoutMs float64
}

// PlaywrightLauncher launches persistent Chromium contexts. Each instance
// gets its own driver process so that disposing a worker tears down
// everything it started.
type PlaywrightLauncher struct {
	cfg    PlaywrightConfig
	logger *slog.Logger

	installOnce sync.Once
	installErr  error
	exePath     string
}

// NewPlaywrightLauncher creates a launcher. Browsers are installed lazily on
// the first launch.
func NewPlaywrightLauncher(cfg PlaywrightConfig, logger *slog.Logger) *PlaywrightLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaywrightLauncher{
		cfg:    cfg,
		logger: logger.With("component", "playwright"),
	}
}

func (l *PlaywrightLauncher) runOptions() *playwright.RunOptions {
	return &playwright.RunOptions{
		Verbose:             false,
		Stdout:              io.Discard,
		Stderr:              io.Discard,
		SkipInstallBrowsers: l.cfg.ExecutablePath != "",
	}
}

// install resolves the executable and installs the driver once per launcher.
func (l *PlaywrightLauncher) install() error {
	l.installOnce.Do(func() {
		if l.cfg.ExecutablePath != "" {
			exe, err := FindChromeExecutable(l.cfg.ExecutablePath)
			if err != nil {
				l.installErr = err
				return
			}
			l.exePath = exe.Path
			l.logger.Info("using installed browser", "kind", exe.Kind, "path", exe.Path)
		}

		if err := playwright.Install(l.runOptions()); err != nil {
			l.installErr = fmt.Errorf("failed to install playwright: %w", err)
		}
	})
	return l.installErr
}

// Launch starts a driver and a persistent context on opts.UserDataDir.
func (l *PlaywrightLauncher) Launch(ctx context.Context, opts LaunchOptions) (*Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.install(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run(l.runOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     chromeArgs(l.cfg.NoSandbox, l.cfg.Args),
	}
	if l.exePath != "" {
		launchOpts.ExecutablePath = playwright.String(l.exePath)
	}
	if l.cfg.TimeoutMs > 0 {
		launchOpts.Timeout = playwright.Float(l.cfg.TimeoutMs)
	}

	bctx, err := pw.Chromium.LaunchPersistentContext(opts.UserDataDir, launchOpts)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser on %s: %w", opts.UserDataDir, err)
	}

	return &Instance{Context: bctx, Process: driver{pw: pw}}, nil
}

// driver adapts a Playwright driver to io.Closer.
type driver struct {
	pw *playwright.Playwright
}

func (d driver) Close() error {
	return d.pw.Stop()
}
