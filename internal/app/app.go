// Package app assembles the engine and its collaborators from a Config. The
// CLI, the daemon and the HTTP handlers all work through an App.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mg52/unfold/internal/config"
	"github.com/mg52/unfold/internal/engine"
	"github.com/mg52/unfold/internal/logging"
	"github.com/mg52/unfold/internal/store"
	"github.com/mg52/unfold/internal/updater"
	"github.com/mg52/unfold/internal/walker"
	"github.com/mg52/unfold/internal/watcher"
)

// App owns one engine together with its walker, store and updater.
type App struct {
	Config  *config.Config
	Engine  *engine.Engine
	Walker  *walker.Walker
	Store   store.Store
	Updater *updater.Updater

	logger *slog.Logger
}

// New wires the components described by cfg. Nothing is read from disk
// until Open or Index.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	eng, err := engine.New(cfg.Engine(logging.ForComponent(logger, logging.CompEngine)))
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	wk, err := walker.New(cfg.Walker(logging.ForComponent(logger, logging.CompWalker)))
	if err != nil {
		return nil, fmt.Errorf("walker: %w", err)
	}
	st, err := store.Open(cfg.SnapshotPath())
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	up := updater.New(eng, wk, cfg.Updater(logging.ForComponent(logger, logging.CompUpdater)))
	return &App{
		Config:  cfg,
		Engine:  eng,
		Walker:  wk,
		Store:   st,
		Updater: up,
		logger:  logger,
	}, nil
}

// Open restores the last snapshot. When there is none, or it cannot be
// used, the roots are indexed from scratch and the result saved. restored
// reports which of the two happened.
func (a *App) Open(ctx context.Context) (restored bool, err error) {
	snap, err := a.Store.Load(ctx)
	if err == nil {
		err = a.Engine.Restore(ctx, snap)
	}
	switch {
	case err == nil:
		a.logger.Info("index_restored", "path", a.Config.SnapshotPath(), "records", len(snap.Records))
		return true, nil
	case errors.Is(err, store.ErrNoSnapshot):
		a.logger.Info("index_missing", "path", a.Config.SnapshotPath())
	case errors.Is(err, store.ErrSchemaMismatch), errors.Is(err, engine.ErrCorrupt):
		a.logger.Warn("index_discarded", "path", a.Config.SnapshotPath(), "err", err)
	default:
		return false, err
	}
	if _, err := a.Index(ctx); err != nil {
		return false, err
	}
	return false, a.Save(ctx)
}

// Index walks the roots and swaps a fresh index in. Access statistics of
// files that are still present survive.
func (a *App) Index(ctx context.Context) (engine.BuildStats, error) {
	a.logger.Info("index_started", "roots", a.Walker.Roots())
	stats, err := a.Engine.Rebuild(ctx, a.Walker)
	if err != nil {
		return stats, fmt.Errorf("index: %w", err)
	}
	a.logger.Info("index_finished", "records", stats.Committed, "duration", stats.Duration)
	return stats, nil
}

// Save persists the engine state.
func (a *App) Save(ctx context.Context) error {
	start := time.Now()
	snap := a.Engine.Snapshot()
	if err := a.Store.Save(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	a.logger.Info("snapshot_saved", "path", a.Config.SnapshotPath(), "records", len(snap.Records), "took", time.Since(start))
	return nil
}

// Watch keeps the index current until ctx is done. It runs the updater, the
// file-system watcher when enabled, and the periodic saver, then saves once
// more on the way out.
func (a *App) Watch(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Updater.Run(gctx) })

	if a.Config.Watch.Enabled {
		w, err := watcher.New(a.Updater, a.Walker, a.Config.Watcher(logging.ForComponent(a.logger, logging.CompWatcher)))
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(gctx) })
	}

	if every := a.Config.Server.SaveInterval.Duration; every > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(every)
			defer ticker.Stop()
			var last uint64
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
				}
				if v := a.Engine.Stats().Version; v != last {
					if err := a.Save(gctx); err != nil {
						a.logger.Error("periodic_save_failed", "err", err)
						continue
					}
					last = v
				}
			}
		})
	}

	err := g.Wait()
	// ctx is done; the final save gets a fresh one.
	saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if serr := a.Save(saveCtx); serr != nil {
		err = errors.Join(err, serr)
	}
	return err
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}
