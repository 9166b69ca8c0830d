package main

import (
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"runtime"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mg52/unfold/internal/engine"
)

// newOpenCmd records an access so the file ranks higher from now on.
func newOpenCmd() *cobra.Command {
	var launch bool
	cmd := &cobra.Command{
		Use:   "open [path]",
		Short: "Record that a file was opened, optionally opening it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			rec, st, err := a.Engine.RecordAccessByPath(path)
			if err != nil {
				return err
			}
			if err := a.Save(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s opened %s\n", rec.Path, humanize.Plural(int(st.Count), "time", "times"))
			if launch {
				return launchFile(rec.Path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&launch, "launch", false, "Also open the file with the system handler")
	return cmd
}

func launchFile(path string) error {
	var c *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		c = exec.Command("open", path)
	case "windows":
		c = exec.Command("cmd", "/c", "start", "", path)
	default:
		c = exec.Command("xdg-open", path)
	}
	return c.Start()
}

func newRecentCmd() *cobra.Command {
	return newOpenedCmd("recent", "List recently opened files", func(e *engine.Engine, n int) []engine.Opened {
		return e.Recent(n)
	})
}

func newFrequentCmd() *cobra.Command {
	return newOpenedCmd("frequent", "List the most often opened files", func(e *engine.Engine, n int) []engine.Opened {
		return e.Frequent(n)
	})
}

func newOpenedCmd(use, short string, list func(*engine.Engine, int) []engine.Opened) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			entries := list(a.Engine, limit)
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing opened yet.")
				return nil
			}
			return printOpened(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum entries")
	return cmd
}

func printOpened(w io.Writer, entries []engine.Opened) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OPENED\tLAST\tPATH")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", e.Count, humanize.Time(e.Last), displayPath(e.Record))
	}
	return tw.Flush()
}
