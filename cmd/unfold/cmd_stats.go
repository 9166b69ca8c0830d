package main

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			st := a.Engine.Stats()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			hitRate := 0.0
			if total := st.Cache.Hits + st.Cache.Misses; total > 0 {
				hitRate = 100 * float64(st.Cache.Hits) / float64(total)
			}
			fmt.Fprintf(out, "Roots:        %v\n", a.Walker.Roots())
			fmt.Fprintf(out, "Snapshot:     %s\n", cfg.SnapshotPath())
			fmt.Fprintf(out, "Entries:      %s\n", humanize.Comma(int64(st.Records)))
			fmt.Fprintf(out, "Terms:        %s (%s n-grams, %d shards)\n", humanize.Comma(int64(st.Terms)), humanize.Comma(int64(st.NGrams)), st.Shards)
			fmt.Fprintf(out, "Version:      %d\n", st.Version)
			if !st.LastBuild.IsZero() {
				fmt.Fprintf(out, "Last build:   %s (took %s)\n", humanize.Time(st.LastBuild), st.BuildDuration.Round(1e6))
			}
			if !st.LastUpdate.IsZero() {
				fmt.Fprintf(out, "Last update:  %s\n", humanize.Time(st.LastUpdate))
			}
			fmt.Fprintf(out, "Opened files: %s\n", humanize.Comma(int64(st.AccessEntries)))
			fmt.Fprintf(out, "Cache:        %d hits, %d misses (%.0f%%)\n", st.Cache.Hits, st.Cache.Misses, hitRate)
			if st.Partial {
				fmt.Fprintln(out, "Warning: the last build did not finish; run `unfold index`.")
			}
			if st.Corrupt {
				fmt.Fprintln(out, "Warning: the index is corrupt; run `unfold index`.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the statistics as JSON")
	return cmd
}
