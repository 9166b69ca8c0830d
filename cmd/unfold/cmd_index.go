package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mg52/unfold/internal/app"
)

// newIndexCmd walks the roots from scratch and saves the snapshot.
func newIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Build the index from the configured roots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			// Restoring first lets access history carry over to the new index.
			if snap, err := a.Store.Load(ctx); err == nil {
				if err := a.Engine.Restore(ctx, snap); err != nil {
					logger.Warn("snapshot_ignored", "err", err)
				}
			}
			stats, err := a.Index(ctx)
			if err != nil {
				return err
			}
			if err := a.Save(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %s entries in %s, saved to %s\n",
				humanize.Comma(int64(stats.Committed)), stats.Duration.Round(1e6), cfg.SnapshotPath())
			return nil
		},
	}
}
