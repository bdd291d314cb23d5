package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/neboloop/browserpool/internal/browser"
)

// CleanCmd creates the clean command
func CleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove ephemeral profiles left behind by dead processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}

			root := a.ephemeralProfiles.Root()
			n, err := browser.CleanupZombies(root, os.Getpid(), browser.ProcessAlive, logger.With("component", "zombie"))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stale profile(s) from %s\n", n, root)
			return nil
		},
	}
}
