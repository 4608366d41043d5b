package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"walnut-pair/internal/cache"
	"walnut-pair/internal/config"
	"walnut-pair/internal/reduce"
	"walnut-pair/internal/similarity"
	"walnut-pair/internal/store"
	"walnut-pair/internal/texture"
	"walnut-pair/internal/walnut"
)

// Result is the outcome of one batch run.
type Result struct {
	RunID    uuid.UUID
	Version  string
	Tensors  []*walnut.FeatureTensor // Included walnuts, in input order
	State    *reduce.State
	Reduced  []reduce.Reduced
	Records  []similarity.Record
	Excluded map[string]error // Walnuts dropped after a hard extraction failure
}

// Runner executes batch runs. Cache and store are optional.
type Runner struct {
	Events

	extractor  *Extractor
	cache      *cache.Cache
	store      *store.Store
	reduce     reduce.Params
	similarity similarity.Params
	workers    int

	closers []func() error
}

// NewRunner builds a runner from explicit parts.
func NewRunner(cfg config.Config, ext *Extractor, c *cache.Cache, s *store.Store) (*Runner, error) {
	sp, err := cfg.SimilarityParams()
	if err != nil {
		return nil, err
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Runner{
		extractor:  ext,
		cache:      c,
		store:      s,
		reduce:     cfg.ReduceParams(),
		similarity: sp,
		workers:    workers,
	}, nil
}

// Open builds a runner with the encoder, cache and store named in cfg.
// Close releases them.
func Open(ctx context.Context, cfg config.Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kind, err := cfg.TextureKind()
	if err != nil {
		return nil, err
	}
	enc, err := texture.New(kind, cfg.Texture.Model)
	if err != nil {
		return nil, err
	}
	closers := []func() error{enc.Close}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	ext, err := NewExtractor(cfg, enc)
	if err != nil {
		closeAll()
		return nil, err
	}

	var c *cache.Cache
	if !cfg.Cache.Disabled {
		var p cache.Provider = cache.NewMemory()
		if cfg.Cache.Path != "" {
			b, err := cache.OpenBolt(cfg.Cache.Path)
			if err != nil {
				closeAll()
				return nil, fmt.Errorf("failed to open cache: %w", err)
			}
			p = b
		}
		c = cache.New(p)
		closers = append(closers, c.Close)
	}

	var s *store.Store
	if cfg.Store.Path != "" {
		s, err = store.Open(ctx, cfg.Store.Path)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, s.Close)
	}

	r, err := NewRunner(cfg, ext, c, s)
	if err != nil {
		closeAll()
		return nil, err
	}
	r.closers = closers
	return r, nil
}

// Extractor returns the runner's extractor.
func (r *Runner) Extractor() *Extractor { return r.extractor }

// Close releases resources opened by Open.
func (r *Runner) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

type outcome struct {
	tensor *walnut.FeatureTensor
	err    error
}

// Run extracts every walnut on the worker pool, waits for all of them, then
// fits the reducer on the surviving corpus and ranks its pairs. A walnut that
// fails extraction is excluded and the run continues. Cancellation is checked
// between walnuts.
func (r *Runner) Run(ctx context.Context, sets []*walnut.ViewSet) (*Result, error) {
	start := time.Now()
	outcomes := make([]outcome, len(sets))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < min(r.workers, max(len(sets), 1)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				t, cached, err := r.extractOne(ctx, sets[i])
				outcomes[i] = outcome{t, err}
				if err == nil {
					r.Emit(EventExtracted, Extracted{ID: t.ID, Cached: cached, Angles: len(t.Angles)})
				}
			}
		}()
	}

feed:
	for i := range sets {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		Version:  r.extractor.Version(),
		Excluded: make(map[string]error),
	}
	for i, o := range outcomes {
		if o.err != nil {
			id := sets[i].ID()
			log.Printf("pipeline: excluding %s: %v", id, o.err)
			res.Excluded[id] = o.err
			r.Emit(EventExcluded, Excluded{ID: id, Err: o.err})
			continue
		}
		res.Tensors = append(res.Tensors, o.tensor)
	}
	log.Printf("pipeline: extracted %d of %d walnuts in %s", len(res.Tensors), len(sets), time.Since(start).Round(time.Millisecond))

	state, reduced, err := reduce.FitAndReduce(res.Tensors, r.reduce)
	if err != nil {
		return nil, fmt.Errorf("failed to reduce corpus: %w", err)
	}
	res.State, res.Reduced = state, reduced
	r.Emit(EventReduced, Reduced{Walnuts: len(reduced), Dim: state.Dim()})

	records, err := similarity.Rank(reduced, r.similarity)
	if err != nil {
		return nil, fmt.Errorf("failed to rank pairs: %w", err)
	}
	res.Records = records
	r.Emit(EventRanked, Ranked{Pairs: len(records)})

	res.RunID = store.NewRunID()
	if r.store != nil {
		if err := r.store.Save(ctx, res.RunID, reduced, records); err != nil {
			return nil, fmt.Errorf("failed to store run: %w", err)
		}
	}

	if r.cache != nil {
		st := r.cache.Stats()
		log.Printf("pipeline: cache %s hits, %s misses, %d stale, %d errors",
			humanize.Comma(st.Hits), humanize.Comma(st.Misses), st.Stale, st.Errors)
	}
	return res, nil
}

func (r *Runner) extractOne(ctx context.Context, vs *walnut.ViewSet) (*walnut.FeatureTensor, bool, error) {
	if r.cache == nil {
		t, err := r.extractor.Extract(ctx, vs)
		return t, false, err
	}

	computed := false
	t, err := r.cache.GetOrCompute(ctx, vs.ID(), vs.Fingerprint(), r.extractor.Version(),
		func(ctx context.Context) (*walnut.FeatureTensor, error) {
			computed = true
			return r.extractor.Extract(ctx, vs)
		})
	return t, !computed && err == nil, err
}
