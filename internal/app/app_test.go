package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mg52/unfold/internal/config"
	"github.com/mg52/unfold/internal/engine"
	"github.com/mg52/unfold/internal/store"
)

func testConfig(t *testing.T, snapshot string) (*config.Config, string) {
	t.Helper()
	root, err := filepath.Abs(t.TempDir())
	require.NoError(t, err)
	for _, p := range []string{"docs/report.pdf", "src/main.go", "src/util_test.go", "notes.txt"} {
		full := filepath.Join(root, p)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(p), 0o644))
	}
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Snapshot = snapshot
	cfg.Index.Roots = []string{root}
	cfg.Watch.Window = config.Duration{Duration: 5 * time.Millisecond}
	return cfg, root
}

func newApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func search(t *testing.T, a *App, text string) []string {
	t.Helper()
	resp, err := a.Engine.Search(context.Background(), engine.Query{Text: text, Limit: 10})
	require.NoError(t, err)
	var paths []string
	for _, r := range resp.Results {
		paths = append(paths, r.Record.Path)
	}
	return paths
}

func TestOpenIndexesThenRestores(t *testing.T) {
	for _, snapshot := range []string{"index.gob", "index.db"} {
		t.Run(snapshot, func(t *testing.T) {
			ctx := context.Background()
			cfg, root := testConfig(t, snapshot)

			first := newApp(t, cfg)
			restored, err := first.Open(ctx)
			require.NoError(t, err)
			assert.False(t, restored)
			assert.Contains(t, search(t, first, "main"), filepath.Join(root, "src", "main.go"))
			assert.FileExists(t, cfg.SnapshotPath())

			rec, ok := first.Engine.GetByPath(filepath.Join(root, "notes.txt"))
			require.True(t, ok)
			_, err = first.Engine.RecordAccess(rec.ID)
			require.NoError(t, err)
			require.NoError(t, first.Save(ctx))
			require.NoError(t, first.Close())

			second := newApp(t, cfg)
			restored, err = second.Open(ctx)
			require.NoError(t, err)
			assert.True(t, restored)
			assert.Equal(t, first.Engine.Stats().Records, second.Engine.Stats().Records)
			recent := second.Engine.Recent(5)
			require.Len(t, recent, 1)
			assert.Equal(t, rec.ID, recent[0].Record.ID)
		})
	}
}

func TestOpenDiscardsIncompatibleSnapshot(t *testing.T) {
	ctx := context.Background()
	cfg, root := testConfig(t, "index.gob")

	old := engine.Snapshot{Schema: engine.SchemaVersion + 1}
	require.NoError(t, store.NewFileStore(cfg.SnapshotPath()).Save(ctx, old))

	a := newApp(t, cfg)
	restored, err := a.Open(ctx)
	require.NoError(t, err)
	assert.False(t, restored)
	assert.Contains(t, search(t, a, "report"), filepath.Join(root, "docs", "report.pdf"))
}

func TestIndexPicksUpNewFiles(t *testing.T) {
	ctx := context.Background()
	cfg, root := testConfig(t, "index.gob")
	a := newApp(t, cfg)
	_, err := a.Open(ctx)
	require.NoError(t, err)

	added := filepath.Join(root, "budget.xlsx")
	require.NoError(t, os.WriteFile(added, nil, 0o644))
	assert.NotContains(t, search(t, a, "budget"), added)

	stats, err := a.Index(ctx)
	require.NoError(t, err)
	assert.Positive(t, stats.Committed)
	assert.Contains(t, search(t, a, "budget"), added)
}

func TestWatchAppliesChangesAndSavesOnExit(t *testing.T) {
	cfg, root := testConfig(t, "index.gob")
	cfg.Watch.Debounce = config.Duration{}
	a := newApp(t, cfg)
	_, err := a.Open(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Watch(ctx) }()
	time.Sleep(50 * time.Millisecond)

	added := filepath.Join(root, "src", "handler.go")
	require.NoError(t, os.WriteFile(added, []byte("package src"), 0o644))
	require.Eventually(t, func() bool {
		_, ok := a.Engine.GetByPath(added)
		return ok
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	snap, err := a.Store.Load(context.Background())
	require.NoError(t, err)
	var paths []string
	for _, rec := range snap.Records {
		paths = append(paths, rec.Path)
	}
	assert.Contains(t, paths, added)
}
