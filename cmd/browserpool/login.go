package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/neboloop/browserpool/internal/browser"
	"github.com/neboloop/browserpool/internal/config"
	"github.com/neboloop/browserpool/internal/login"
)

// LoginCmd creates the login command
func LoginCmd() *cobra.Command {
	var (
		startURL string
		refresh  string
		headless bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Open the master profile to log in by hand",
		Long: `Open the master profile in a visible browser. Log in to the sites your
tasks need, then close the browser or press Ctrl+C. The login state is
published periodically while the browser is open and once more at the end.

Pools running in other processes pick up the new state automatically.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("url") {
				cfg.Login.StartURL = startURL
			}
			if cmd.Flags().Changed("refresh") {
				cfg.Login.RefreshSpec = refresh
			}

			masterID, err := a.masterID()
			if err != nil {
				return err
			}
			dir, err := login.MasterDir(a.masterProfiles.Resolve, masterID)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Opening profile %q. Close the browser or press Ctrl+C when done.\n", masterID)
			result, err := login.Run(ctx, login.Options{
				Store:         a.store,
				ProfileID:     masterID,
				UserDataDir:   dir,
				Launcher:      a.launcher,
				StartURL:      cfg.Login.StartURL,
				RefreshSpec:   cfg.Login.RefreshSpec,
				LockTimeout:   config.Ms(cfg.Login.LockTimeoutMs),
				RetryInterval: config.Ms(cfg.Master.LockRetryMs),
				Headless:      headless,
				Logger:        logger,
			})
			switch {
			case errors.Is(err, login.ErrLoginInProgress):
				return fmt.Errorf("another login session for %q is running", masterID)
			case browser.IsLocked(err):
				return fmt.Errorf("profile %q is in use by a running task, try again shortly", masterID)
			case err != nil:
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Snapshot version %d (%d published this session)\n", result.Version, result.Published)
			return nil
		},
	}

	cmd.Flags().StringVar(&startURL, "url", "", "page to open first (default: login.start_url)")
	cmd.Flags().StringVar(&refresh, "refresh", "", "cron spec for periodic publishing (default: login.refresh_spec)")
	cmd.Flags().BoolVar(&headless, "headless", false, "run without a window (for scripted logins)")

	return cmd
}
