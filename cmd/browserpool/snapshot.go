package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/neboloop/browserpool/internal/browser"
)

// SnapshotCmd creates the snapshot command group
func SnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect and publish master profile snapshots",
	}

	cmd.AddCommand(snapshotInitCmd())
	cmd.AddCommand(snapshotShowCmd())
	cmd.AddCommand(snapshotPublishCmd())

	return cmd
}

func snapshotInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create an empty version 0 snapshot if none exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, masterID, err := snapshotApp()
			if err != nil {
				return err
			}
			if err := a.store.EnsureInitialized(masterID); err != nil {
				return err
			}
			h, err := a.store.ReadLatest(masterID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Snapshot for %q at version %d\n", h.ProfileID, h.Version)
			return nil
		},
	}
}

func snapshotShowCmd() *cobra.Command {
	var withState bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current snapshot metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, masterID, err := snapshotApp()
			if err != nil {
				return err
			}
			h, data, err := a.store.Load(masterID)
			if err != nil {
				return err
			}

			out := map[string]any{
				"profileId": h.ProfileID,
				"version":   h.Version,
				"updatedAt": h.UpdatedAt,
				"writerId":  h.WriterID,
				"statePath": h.StatePath,
			}
			if withState {
				out["state"] = json.RawMessage(data)
			} else if state, err := browser.ParseState(data); err == nil {
				out["cookies"] = len(state.Cookies)
				out["origins"] = len(state.Origins)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().BoolVar(&withState, "state", false, "include the full storage state")

	return cmd
}

func snapshotPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish FILE",
		Short: "Publish a Playwright storage-state file as the next snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, masterID, err := snapshotApp()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if _, err := browser.ParseState(data); err != nil {
				return err
			}
			if err := a.store.EnsureInitialized(masterID); err != nil {
				return err
			}

			h, err := a.store.ReadLatest(masterID)
			if err != nil {
				return err
			}
			if !a.store.TryPublish(context.Background(), masterID, h.Version, data) {
				return fmt.Errorf("snapshot for %q changed concurrently or the publish lock is busy, try again", masterID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published version %d\n", h.Version+1)
			return nil
		},
	}
}

func snapshotApp() (*app, string, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		return nil, "", err
	}
	masterID, err := a.masterID()
	if err != nil {
		return nil, "", err
	}
	return a, masterID, nil
}
