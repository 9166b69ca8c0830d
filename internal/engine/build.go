package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mg52/unfold/internal/model"
)

// Source produces the records of a full scan. Walk sends every record to out
// and must stop sending once ctx is done. Build closes out.
type Source interface {
	Walk(ctx context.Context, out chan<- model.FileRecord) error
}

// SliceSource is a Source over records already in memory.
type SliceSource []model.FileRecord

func (s SliceSource) Walk(ctx context.Context, out chan<- model.FileRecord) error {
	for _, rec := range s {
		select {
		case out <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// BuildStats summarizes a bulk build.
type BuildStats struct {
	Committed int           `json:"committed"`
	Batches   int           `json:"batches"`
	Duration  time.Duration `json:"duration"`
	Partial   bool          `json:"partial"`
}

type buildOptions struct {
	batch   int
	workers int
	logger  *slog.Logger
}

type prepared struct {
	rec model.FileRecord
	rt  recordTerms
}

type shardOp struct {
	token string
	id    model.FileID
	tf    int
	gram  bool
}

// build streams src into idx. Records are tokenized by opts.workers
// goroutines and committed opts.batch at a time. When the walk fails or ctx
// is cancelled, committed batches stay, the rest is dropped and the index
// is marked partial.
func (idx *Index) build(ctx context.Context, src Source, opts buildOptions) (BuildStats, error) {
	if err := idx.writable(); err != nil {
		return BuildStats{}, err
	}
	start := time.Now()
	records := make(chan model.FileRecord, opts.batch)
	ready := make(chan prepared, opts.batch)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(records)
		return src.Walk(gctx, records)
	})

	var tokenizers sync.WaitGroup
	for i := 0; i < opts.workers; i++ {
		tokenizers.Add(1)
		g.Go(func() error {
			defer tokenizers.Done()
			for rec := range records {
				if rec.ID == "" || rec.Path == "" {
					opts.logger.Warn("build_record_skipped", "path", rec.Path)
					continue
				}
				select {
				case ready <- prepared{rec: rec, rt: idx.prepare(rec)}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		tokenizers.Wait()
		close(ready)
	}()

	var stats BuildStats
	batch := make([]prepared, 0, opts.batch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		stats.Committed += idx.commit(batch)
		stats.Batches++
		opts.logger.Debug("build_committed", "batch", stats.Batches, "records", stats.Committed)
		batch = batch[:0]
	}
	for p := range ready {
		if gctx.Err() != nil {
			continue
		}
		batch = append(batch, p)
		if len(batch) >= opts.batch {
			flush()
		}
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	stats.Duration = time.Since(start)
	if err != nil {
		idx.partial.Store(true)
		stats.Partial = true
		opts.logger.Warn("build_incomplete", "committed", stats.Committed, "err", err)
		return stats, &BuildError{Progress: stats.Committed, Err: err}
	}
	flush()
	idx.partial.Store(false)
	opts.logger.Info("build_finished", "records", stats.Committed, "batches", stats.Batches, "duration", stats.Duration)
	return stats, nil
}

// commit applies a batch as one mutation. Records replace whatever is
// indexed under the same id or path. Shards are filled concurrently, one
// goroutine per shard.
func (idx *Index) commit(batch []prepared) int {
	batch = latestPerPath(batch)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	st := idx.st
	buckets := make([][]shardOp, len(st.shards))
	for _, p := range batch {
		if old, ok := st.byPath[p.rec.Path]; ok {
			st.drop(old)
		}
		st.drop(p.rec.ID)

		id := p.rec.ID
		st.records[id] = p.rec
		st.byPath[p.rec.Path] = id
		st.forms[id] = p.rt
		for term, tf := range p.rt.terms {
			i := shardFor(term, len(st.shards))
			buckets[i] = append(buckets[i], shardOp{token: term, id: id, tf: tf})
		}
		for gram, tf := range p.rt.grams {
			i := shardFor(gram, len(st.shards))
			buckets[i] = append(buckets[i], shardOp{token: gram, id: id, tf: tf, gram: true})
		}
	}

	var wg sync.WaitGroup
	for i, ops := range buckets {
		if len(ops) == 0 {
			continue
		}
		wg.Add(1)
		go func(s *shard, ops []shardOp) {
			defer wg.Done()
			for _, op := range ops {
				if op.gram {
					s.addGram(op.token, op.id, op.tf)
				} else {
					s.addTerm(op.token, op.id, op.tf)
				}
			}
		}(st.shards[i], ops)
	}
	wg.Wait()

	idx.bump()
	return len(batch)
}

// upsert indexes rec, replacing whatever is indexed under its id or path.
func (idx *Index) upsert(rec model.FileRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	if err := idx.writable(); err != nil {
		return err
	}
	idx.commit([]prepared{{rec: rec, rt: idx.prepare(rec)}})
	return nil
}

// latestPerPath keeps the last occurrence of every path and id in batch,
// preserving order.
func latestPerPath(batch []prepared) []prepared {
	paths := make(map[string]struct{}, len(batch))
	ids := make(map[model.FileID]struct{}, len(batch))
	keep := make([]bool, len(batch))
	n := 0
	for i := len(batch) - 1; i >= 0; i-- {
		rec := batch[i].rec
		_, dupPath := paths[rec.Path]
		_, dupID := ids[rec.ID]
		if dupPath || dupID {
			continue
		}
		paths[rec.Path] = struct{}{}
		ids[rec.ID] = struct{}{}
		keep[i] = true
		n++
	}
	if n == len(batch) {
		return batch
	}
	out := make([]prepared, 0, n)
	for i, p := range batch {
		if keep[i] {
			out = append(out, p)
		}
	}
	return out
}
