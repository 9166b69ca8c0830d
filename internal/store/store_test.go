package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mg52/unfold/internal/access"
	"github.com/mg52/unfold/internal/engine"
	"github.com/mg52/unfold/internal/model"
)

var testTime = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

func sampleSnapshot() engine.Snapshot {
	a := model.NewFileRecord("/home/u/readme.md", 120, testTime, false, 7, 1001)
	b := model.NewFileRecord("/home/u/src", 0, testTime.Add(time.Minute), true, 7, 1002)
	c := model.NewFileRecord("/home/u/src/main.go", 2048, testTime.Add(time.Hour), false, 7, 1<<63+5)
	return engine.Snapshot{
		Schema:  engine.SchemaVersion,
		Version: 42,
		BuiltAt: testTime,
		Records: []model.FileRecord{a, b, c},
		Access: []access.Entry{
			{ID: a.ID, Stat: access.Stat{Count: 3, LastAccess: testTime.Add(2 * time.Hour)}},
		},
	}
}

func backends(t *testing.T) map[string]func(dir string) Store {
	return map[string]func(dir string) Store{
		"gob": func(dir string) Store {
			return NewFileStore(filepath.Join(dir, "index.gob"))
		},
		"sqlite": func(dir string) Store {
			s, err := OpenSQLite(filepath.Join(dir, "index.db"))
			require.NoError(t, err)
			return s
		},
	}
}

func TestRoundTrip(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t.TempDir())
			defer s.Close()

			_, err := s.Load(ctx)
			assert.ErrorIs(t, err, ErrNoSnapshot)

			want := sampleSnapshot()
			require.NoError(t, s.Save(ctx, want))
			got, err := s.Load(ctx)
			require.NoError(t, err)

			assert.Equal(t, want.Schema, got.Schema)
			assert.Equal(t, want.Version, got.Version)
			assert.True(t, want.BuiltAt.Equal(got.BuiltAt))
			require.Len(t, got.Records, len(want.Records))
			for i := range want.Records {
				w, g := want.Records[i], got.Records[i]
				assert.True(t, w.ModTime.Equal(g.ModTime), w.Path)
				w.ModTime, g.ModTime = time.Time{}, time.Time{}
				assert.Equal(t, w, g)
			}
			require.Len(t, got.Access, 1)
			assert.Equal(t, want.Access[0].ID, got.Access[0].ID)
			assert.Equal(t, int64(3), got.Access[0].Count)
			assert.True(t, want.Access[0].LastAccess.Equal(got.Access[0].LastAccess))
		})
	}
}

func TestSaveReplacesPrevious(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t.TempDir())
			defer s.Close()

			require.NoError(t, s.Save(ctx, sampleSnapshot()))
			small := sampleSnapshot()
			small.Records = small.Records[:1]
			small.Access = nil
			small.Version = 43
			require.NoError(t, s.Save(ctx, small))

			got, err := s.Load(ctx)
			require.NoError(t, err)
			assert.Len(t, got.Records, 1)
			assert.Empty(t, got.Access)
			assert.Equal(t, uint64(43), got.Version)
		})
	}
}

func TestSchemaMismatch(t *testing.T) {
	ctx := context.Background()

	t.Run("gob", func(t *testing.T) {
		s := NewFileStore(filepath.Join(t.TempDir(), "index.gob"))
		old := sampleSnapshot()
		old.Schema = engine.SchemaVersion + 1
		require.NoError(t, s.Save(ctx, old))
		_, err := s.Load(ctx)
		assert.ErrorIs(t, err, ErrSchemaMismatch)
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
		require.NoError(t, err)
		defer s.Close()
		require.NoError(t, s.Save(ctx, sampleSnapshot()))
		require.NoError(t, s.SetSchema(ctx, 0))
		_, err = s.Load(ctx)
		assert.ErrorIs(t, err, ErrSchemaMismatch)
	})
}

func TestFileStoreRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.gob")
	require.NoError(t, os.WriteFile(path, []byte("not a snapshot"), 0o644))
	_, err := NewFileStore(path).Load(context.Background())
	assert.ErrorIs(t, err, engine.ErrCorrupt)
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "nested", "index.gob"))
	require.NoError(t, s.Save(context.Background(), sampleSnapshot()))
	entries, err := os.ReadDir(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "index.gob", entries[0].Name())
}

func TestOpenPicksBackend(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "x.sqlite"))
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &SQLiteStore{}, s)

	s2, err := Open(filepath.Join(dir, "x.gob"))
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s2)
}

func TestEngineRestoreFromStore(t *testing.T) {
	ctx := context.Background()
	cfg := engine.DefaultConfig()
	cfg.Clock = func() time.Time { return testTime }
	src, err := engine.New(cfg)
	require.NoError(t, err)
	snap := sampleSnapshot()
	_, err = src.Build(ctx, engine.SliceSource(snap.Records))
	require.NoError(t, err)

	s := NewFileStore(filepath.Join(t.TempDir(), "index.gob"))
	require.NoError(t, s.Save(ctx, src.Snapshot()))
	loaded, err := s.Load(ctx)
	require.NoError(t, err)

	dst, err := engine.New(cfg)
	require.NoError(t, err)
	require.NoError(t, dst.Restore(ctx, loaded))

	q := engine.Query{Text: "main", Limit: 5}
	want, err := src.Search(ctx, q)
	require.NoError(t, err)
	got, err := dst.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, got.Results, len(want.Results))
	for i := range want.Results {
		assert.Equal(t, want.Results[i].Record.ID, got.Results[i].Record.ID)
		assert.Equal(t, want.Results[i].Score, got.Results[i].Score)
	}
}
