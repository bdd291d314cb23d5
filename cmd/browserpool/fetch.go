package cli

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/browserpool/internal/browser"
)

// FetchCmd creates the fetch command
func FetchCmd() *cobra.Command {
	var (
		profileID   string
		profileType string
		waitUntil   string
		timeout     time.Duration
		html        bool
	)

	cmd := &cobra.Command{
		Use:   "fetch URL",
		Short: "Open a URL in a pooled browser and print its content",
		Long: `Run a single fetch task and print the page title and text as JSON.

Examples:
  browserpool fetch https://example.com
  browserpool fetch https://example.com/account --type master
  browserpool fetch https://example.com --html --wait-until networkidle`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// One-shot: no preheated workers.
			router, err := a.buildRouter(0)
			if err != nil {
				return err
			}
			defer router.Shutdown()

			result, err := router.Execute(ctx, profileID, profileType, browser.FetchTask(browser.FetchOptions{
				URL:       args[0],
				WaitUntil: waitUntil,
				Timeout:   timeout,
				HTML:      html,
			}))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVar(&profileID, "profile", "", "profile id (default: configured default)")
	cmd.Flags().StringVar(&profileType, "type", "ephemeral", "profile type: ephemeral or master")
	cmd.Flags().StringVar(&waitUntil, "wait-until", "load", "load, domcontentloaded or networkidle")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "navigation timeout")
	cmd.Flags().BoolVar(&html, "html", false, "include the page source")

	return cmd
}
