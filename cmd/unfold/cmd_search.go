package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mg52/unfold/internal/engine"
	"github.com/mg52/unfold/internal/model"
)

func newSearchCmd() *cobra.Command {
	var (
		exts   []string
		kind   string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search file and folder names",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := engine.ParseKind(kind)
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = cfg.Search.DefaultLimit
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.Engine.Search(cmd.Context(), engine.Query{
				Text:    strings.Join(args, " "),
				Filters: engine.Filters{Extensions: exts, Kind: k},
				Limit:   limit,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			if len(resp.Results) == 0 {
				fmt.Fprintln(out, "No matches.")
				return nil
			}
			if resp.Partial {
				fmt.Fprintln(out, "No entry matched every word; showing partial matches.")
			}
			return printResults(out, resp.Results)
		},
	}
	cmd.Flags().StringSliceVarP(&exts, "ext", "e", nil, "Only these extensions (repeatable or comma separated)")
	cmd.Flags().StringVarP(&kind, "kind", "k", "any", "any, files or dirs")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum results (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw response as JSON")
	return cmd
}

func printResults(w io.Writer, results []engine.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tMATCH\tSIZE\tMODIFIED\tPATH")
	for _, r := range results {
		fmt.Fprintf(tw, "%.1f\t%s\t%s\t%s\t%s\n", r.Score, r.Tier, sizeOf(r.Record), humanize.Time(r.Record.ModTime), displayPath(r.Record))
	}
	return tw.Flush()
}

func sizeOf(rec model.FileRecord) string {
	if rec.IsDir {
		return "-"
	}
	return humanize.IBytes(uint64(max(rec.Size, 0)))
}

func displayPath(rec model.FileRecord) string {
	if rec.IsDir {
		return rec.Path + string(filepath.Separator)
	}
	return rec.Path
}
