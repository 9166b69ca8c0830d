package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mg52/unfold/internal/app"
	"github.com/mg52/unfold/internal/config"
	"github.com/mg52/unfold/internal/logging"
)

var (
	flagConfig    string
	flagDataDir   string
	flagLogLevel  string
	flagLogFormat string
	flagRoots     []string

	cfg    *config.Config
	logger *slog.Logger
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "unfold",
		Short:         "Fast fuzzy search over file and folder names",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			var err error
			if flagConfig != "" {
				cfg, err = config.Load(flagConfig)
			} else {
				cfg, _, err = config.LoadDefault()
			}
			if err != nil {
				return err
			}
			if flagDataDir != "" {
				cfg.DataDir = flagDataDir
			}
			if flagLogLevel != "" {
				cfg.Log.Level = flagLogLevel
			}
			if flagLogFormat != "" {
				cfg.Log.Format = flagLogFormat
			}
			if len(flagRoots) > 0 {
				cfg.Index.Roots = flagRoots
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err = logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			logger = logging.ForComponent(logger, logging.CompCLI)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Configuration file (yaml or toml)")
	root.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Directory holding the index snapshot")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "text or json")
	root.PersistentFlags().StringSliceVar(&flagRoots, "root", nil, "Directory to index (repeatable, overrides the config)")

	root.AddCommand(
		newIndexCmd(),
		newSearchCmd(),
		newOpenCmd(),
		newRecentCmd(),
		newFrequentCmd(),
		newStatsCmd(),
		newWatchCmd(),
		newServeCmd(),
		newInteractiveCmd(),
	)
	return root
}

// openApp wires the application and restores or builds the index.
func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	if _, err := a.Open(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}
