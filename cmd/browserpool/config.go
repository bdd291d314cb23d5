package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/neboloop/browserpool/internal/defaults"
)

// ConfigCmd creates the config command group
func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or reset the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := defaults.DataDir()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Overwrite config.yaml with the built-in defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := defaults.EnsureDataDir()
			if err != nil {
				return err
			}
			if err := defaults.Reset(dir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored defaults in %s\n", dir)
			return nil
		},
	})

	return cmd
}
