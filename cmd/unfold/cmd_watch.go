package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	ht "github.com/mg52/unfold/cmd/http"
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// newWatchCmd keeps the index in sync with the file system until
// interrupted.
func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the index up to date as files change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Watch.Enabled = true
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Watching %v, press Ctrl+C to stop\n", a.Walker.Roots())
			return a.Watch(ctx)
		},
	}
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and keep the index up to date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				cfg.Server.Addr = addr
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return ht.Serve(ctx, a, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}
