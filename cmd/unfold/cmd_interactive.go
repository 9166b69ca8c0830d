package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mg52/unfold/internal/tui"
)

func newInteractiveCmd() *cobra.Command {
	var launch bool
	cmd := &cobra.Command{
		Use:     "interactive",
		Aliases: []string{"i"},
		Short:   "Search interactively",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			summary := fmt.Sprintf("%s entries", humanize.Comma(int64(a.Engine.Stats().Records)))
			final, err := tea.NewProgram(
				tui.New(a.Engine, cfg.Search.DefaultLimit, summary),
				tea.WithAltScreen(),
				tea.WithInput(cmd.InOrStdin()),
				tea.WithOutput(cmd.ErrOrStderr()),
			).Run()
			if err != nil {
				return err
			}
			rec, ok := final.(tui.Model).Chosen()
			if !ok {
				return nil
			}
			if err := a.Save(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rec.Path)
			if launch {
				return launchFile(rec.Path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&launch, "launch", false, "Open the chosen file with the system handler")
	return cmd
}
