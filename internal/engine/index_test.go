package engine

import (
	"fmt"
	"maps"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mg52/unfold/internal/model"
	"github.com/mg52/unfold/internal/pkg/tokenize"
)

var testTime = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

func fileRec(path string) model.FileRecord {
	return model.NewFileRecord(path, 42, testTime, false, 0, 0)
}

func dirRec(path string) model.FileRecord {
	return model.NewFileRecord(path, 0, testTime, true, 0, 0)
}

func newTestIndex(shards int) *Index {
	return NewIndex(shards, tokenize.New(tokenize.DefaultOptions()), func() time.Time { return testTime })
}

// dump flattens the postings of every shard.
func dump(idx *Index) (terms, grams map[string]map[model.FileID]int) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	terms = make(map[string]map[model.FileID]int)
	grams = make(map[string]map[model.FileID]int)
	for _, s := range idx.st.shards {
		for t, p := range s.terms {
			terms[t] = maps.Clone(map[model.FileID]int(p))
		}
		for g, p := range s.grams {
			grams[g] = maps.Clone(map[model.FileID]int(p))
		}
	}
	return terms, grams
}

func TestInsertLookup(t *testing.T) {
	idx := newTestIndex(4)
	py := fileRec("/usr/bin/python")
	py3 := fileRec("/usr/bin/python3")
	require.NoError(t, idx.Insert(py))
	require.NoError(t, idx.Insert(py3))

	assert.Equal(t, []model.FileID{py.ID}, idx.LookupExact("Python").Sorted())
	assert.ElementsMatch(t, []model.FileID{py.ID, py3.ID}, idx.LookupPrefix("pyt").Sorted())
	assert.Equal(t, 0, idx.LookupPrefix("").Len())

	overlap := idx.LookupNGrams("thon")
	assert.Equal(t, 2, overlap[py.ID])
	assert.Equal(t, 2, overlap[py3.ID])

	assert.Equal(t, uint64(2), idx.Version())
	assert.Equal(t, 2, idx.Len())
	assert.Positive(t, idx.TokenCount())
	assert.Positive(t, idx.GramCount())
	require.NoError(t, idx.Verify())
}

func TestMutationErrors(t *testing.T) {
	idx := newTestIndex(2)
	rec := fileRec("/a/readme.md")
	require.NoError(t, idx.Insert(rec))

	assert.ErrorIs(t, idx.Insert(rec), ErrAlreadyExists)

	samePath := rec
	samePath.ID = "other"
	assert.ErrorIs(t, idx.Insert(samePath), ErrAlreadyExists)

	assert.ErrorIs(t, idx.Update("missing", fileRec("/a/x")), ErrNotFound)
	assert.ErrorIs(t, idx.Remove("missing"), ErrNotFound)
	assert.ErrorIs(t, idx.Insert(model.FileRecord{Path: "/x"}), ErrInvalidArgument)

	other := fileRec("/a/other.md")
	require.NoError(t, idx.Insert(other))
	assert.ErrorIs(t, idx.Update(other.ID, other.WithPath("/a/readme.md")), ErrAlreadyExists)

	v := idx.Version()
	_ = idx.Remove("missing")
	assert.Equal(t, v, idx.Version(), "failed mutations publish nothing")
}

func TestUpdateDropsOldTokens(t *testing.T) {
	idx := newTestIndex(4)
	rec := fileRec("/docs/budget.xlsx")
	require.NoError(t, idx.Insert(rec))

	moved := rec.WithPath("/docs/forecast.csv")
	require.NoError(t, idx.Update(rec.ID, moved))

	assert.Equal(t, 0, idx.LookupExact("budget").Len())
	assert.Equal(t, 0, idx.LookupExact("xlsx").Len())
	assert.True(t, idx.LookupExact("forecast").Has(rec.ID))
	_, ok := idx.GetByPath("/docs/budget.xlsx")
	assert.False(t, ok)
	got, ok := idx.GetByPath("/docs/forecast.csv")
	require.True(t, ok)
	assert.Equal(t, rec.ID, got.ID)
	require.NoError(t, idx.Verify())
}

func TestRemoveTree(t *testing.T) {
	idx := newTestIndex(4)
	for _, rec := range []model.FileRecord{
		dirRec("/proj"),
		fileRec("/proj/main.go"),
		dirRec("/proj/internal"),
		fileRec("/proj/internal/util.go"),
		fileRec("/project/keep.go"),
	} {
		require.NoError(t, idx.Insert(rec))
	}
	v := idx.Version()

	removed, err := idx.RemoveTree("/proj")
	require.NoError(t, err)
	assert.Len(t, removed, 4)
	assert.Equal(t, v+1, idx.Version(), "a tree removal is one mutation")
	assert.Equal(t, 1, idx.Len())
	_, ok := idx.GetByPath("/project/keep.go")
	assert.True(t, ok)

	removed, err = idx.RemoveTree("/proj")
	require.NoError(t, err)
	assert.Empty(t, removed)
	assert.Equal(t, v+1, idx.Version())
	require.NoError(t, idx.Verify())
}

func TestMoveTree(t *testing.T) {
	idx := newTestIndex(4)
	src := dirRec("/proj")
	child := fileRec("/proj/internal/util.go")
	for _, rec := range []model.FileRecord{src, dirRec("/proj/internal"), child, fileRec("/other/x.go")} {
		require.NoError(t, idx.Insert(rec))
	}
	v := idx.Version()

	n, err := idx.MoveTree("/proj", "/work/proj2")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, v+1, idx.Version())

	moved, ok := idx.GetByPath("/work/proj2/internal/util.go")
	require.True(t, ok)
	assert.Equal(t, child.ID, moved.ID)
	assert.Equal(t, "util.go", moved.Name)
	_, ok = idx.GetByPath("/proj/internal/util.go")
	assert.False(t, ok)
	assert.Equal(t, []model.FileID{src.ID}, idx.LookupExact("proj2").Sorted())
	assert.Zero(t, idx.LookupExact("proj").Len())

	_, err = idx.MoveTree("/proj", "/x")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = idx.MoveTree("/work/proj2", "/other/x.go")
	assert.ErrorIs(t, err, ErrAlreadyExists)
	_, err = idx.MoveTree("/work/proj2", "/work/proj2/internal/deeper")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	require.NoError(t, idx.Verify())
}

func TestPostingsMatchLiveRecords(t *testing.T) {
	names := []string{
		"readme.md", "README.txt", "main.go", "main_test.go", "HTMLParser.java",
		"python3", "python", "notes-2024.txt", "café.md", "build.sh",
	}
	dirs := []string{"/a", "/b/c", "/d"}

	for seed := int64(1); seed <= 5; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			r := rand.New(rand.NewSource(seed))
			idx := newTestIndex(3)
			live := map[model.FileID]model.FileRecord{}
			randomPath := func() string {
				return dirs[r.Intn(len(dirs))] + "/" + names[r.Intn(len(names))]
			}

			for i := 0; i < 400; i++ {
				switch r.Intn(3) {
				case 0:
					rec := fileRec(randomPath())
					err := idx.Insert(rec)
					if occupied(live, rec) {
						require.ErrorIs(t, err, ErrAlreadyExists)
						continue
					}
					require.NoError(t, err)
					live[rec.ID] = rec
				case 1:
					for id, rec := range live {
						next := rec.WithPath(randomPath())
						err := idx.Update(id, next)
						if err == nil {
							live[id] = next
						} else {
							require.ErrorIs(t, err, ErrAlreadyExists)
						}
						break
					}
				case 2:
					for id := range live {
						require.NoError(t, idx.Remove(id))
						delete(live, id)
						break
					}
				}
			}

			require.NoError(t, idx.Verify())

			fresh := newTestIndex(3)
			for _, rec := range live {
				require.NoError(t, fresh.Insert(rec))
			}
			gotTerms, gotGrams := dump(idx)
			wantTerms, wantGrams := dump(fresh)
			assert.Equal(t, wantTerms, gotTerms)
			assert.Equal(t, wantGrams, gotGrams)
			assert.Equal(t, fresh.TokenCount(), idx.TokenCount())
		})
	}
}

func TestVerifyDetectsStalePosting(t *testing.T) {
	idx := newTestIndex(2)
	rec := fileRec("/a/readme.md")
	require.NoError(t, idx.Insert(rec))

	idx.mu.Lock()
	idx.st.shardOf("ghost").addTerm("ghost", rec.ID, 1)
	idx.mu.Unlock()

	assert.ErrorIs(t, idx.Verify(), ErrCorrupt)
	assert.True(t, idx.Corrupt())
	assert.ErrorIs(t, idx.Insert(fileRec("/a/new.md")), ErrCorrupt)

	fresh := idx.sibling()
	require.NoError(t, fresh.Insert(rec))
	idx.swap(fresh.st, 0)
	assert.False(t, idx.Corrupt())
	require.NoError(t, idx.Verify())
}

func occupied(live map[model.FileID]model.FileRecord, rec model.FileRecord) bool {
	if _, ok := live[rec.ID]; ok {
		return true
	}
	for _, other := range live {
		if other.Path == rec.Path {
			return true
		}
	}
	return false
}
