package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mg52/unfold/internal/app"
	"github.com/mg52/unfold/internal/logging"
)

// Serve runs the API on the configured address while keeping the index
// current, until ctx is done. The index is saved on the way out.
func Serve(ctx context.Context, a *app.App, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.Discard()
	}
	mux := http.NewServeMux()
	NewHTTP(a, logger).Routes(mux)
	srv := &http.Server{
		Addr:        a.Config.Server.Addr,
		Handler:     mux,
		ReadTimeout: a.Config.Server.ReadTimeout.Duration,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Watch(gctx) })
	g.Go(func() error {
		logger.Info("server_started", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	err := g.Wait()
	logger.Info("server_stopped")
	return err
}
