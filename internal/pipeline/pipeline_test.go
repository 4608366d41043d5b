package pipeline

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walnut-pair/internal/cache"
	"walnut-pair/internal/config"
	"walnut-pair/internal/fusion"
	"walnut-pair/internal/similarity"
	"walnut-pair/internal/store"
	"walnut-pair/internal/texture"
	"walnut-pair/internal/walnut"
	"walnut-pair/internal/walnut/walnuttest"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Size.PixelsPerUnit = 50
	cfg.Region.CanonicalSize = 96
	cfg.Workers = 3
	cfg.Similarity.TopK = 0
	return cfg
}

func newExtractor(t *testing.T, cfg config.Config) *Extractor {
	t.Helper()
	ext, err := NewExtractor(cfg, texture.NewGradient())
	require.NoError(t, err)
	return ext
}

func viewSet(t *testing.T, id string, variant int, angles ...walnut.Angle) *walnut.ViewSet {
	t.Helper()
	if len(angles) == 0 {
		angles = walnut.Angles[:]
	}
	vs, err := walnuttest.ViewSet(id, variant, angles...)
	require.NoError(t, err)
	return vs
}

func TestExtractTwoOfSixAngles(t *testing.T) {
	ext := newExtractor(t, testConfig())
	ctx := context.Background()

	full, err := ext.Extract(ctx, viewSet(t, "full", 1))
	require.NoError(t, err)
	partial, err := ext.Extract(ctx, viewSet(t, "partial", 1, walnut.AngleFront, walnut.AngleTop))
	require.NoError(t, err)

	assert.Len(t, full.Values, ext.Len())
	assert.Len(t, partial.Values, ext.Len())
	assert.Equal(t, walnut.Angles[:], full.Angles)
	assert.Equal(t, []walnut.Angle{walnut.AngleFront, walnut.AngleTop}, partial.Angles)
	assert.Equal(t, ext.Version(), partial.Version)

	// Absent angles leave their texture blocks zero.
	texDim := texture.GradientDim
	texStart := ext.Len() - walnut.NumAngles*texDim
	back := partial.Values[texStart+int(walnut.AngleBack)*texDim : texStart+int(walnut.AngleBack+1)*texDim]
	assert.Equal(t, make([]float64, texDim), back)
	front := partial.Values[texStart : texStart+texDim]
	assert.NotEqual(t, make([]float64, texDim), front)

	// Size: height 2*RY+1 px at 50 px/unit, roughly.
	assert.Greater(t, partial.Values[0], 1.0)
}

func TestExtractDropsEmptyAngle(t *testing.T) {
	ext := newExtractor(t, testConfig())
	vs, err := walnut.NewViewSet("w", map[walnut.Angle]image.Image{
		walnut.AngleFront: walnuttest.Draw(walnuttest.Default()),
		walnut.AngleBack:  walnuttest.Blank(320, 240),
	})
	require.NoError(t, err)

	ft, err := ext.Extract(context.Background(), vs)
	require.NoError(t, err)
	assert.Equal(t, []walnut.Angle{walnut.AngleFront}, ft.Angles)
	assert.Len(t, ft.Values, ext.Len())
}

func TestExtractNothingUsable(t *testing.T) {
	ext := newExtractor(t, testConfig())
	vs, err := walnut.NewViewSet("ghost", map[walnut.Angle]image.Image{
		walnut.AngleFront: walnuttest.Blank(100, 100),
	})
	require.NoError(t, err)

	_, err = ext.Extract(context.Background(), vs)
	assert.ErrorIs(t, err, fusion.ErrNoUsableModality)
}

func TestExtractorVersion(t *testing.T) {
	a := newExtractor(t, testConfig())
	b := newExtractor(t, testConfig())
	assert.Equal(t, a.Version(), b.Version())

	cfg := testConfig()
	cfg.Color.Bins = 4
	c := newExtractor(t, cfg)
	assert.NotEqual(t, a.Version(), c.Version())

	cfg = testConfig()
	cfg.Similarity.TopK = 3
	assert.Equal(t, a.Version(), newExtractor(t, cfg).Version())

	_, err := NewExtractor(config.Default(), texture.NewGradient())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func newRunner(t *testing.T, cfg config.Config, c *cache.Cache, s *store.Store) *Runner {
	t.Helper()
	r, err := NewRunner(cfg, newExtractor(t, cfg), c, s)
	require.NoError(t, err)
	return r
}

func corpus(t *testing.T) []*walnut.ViewSet {
	sets := []*walnut.ViewSet{}
	for v := 0; v < 4; v++ {
		sets = append(sets, viewSet(t, fmt.Sprintf("w%d", v), v))
	}
	return sets
}

func TestRunIdenticalTwins(t *testing.T) {
	sets := append(corpus(t), viewSet(t, "twin", 2))
	r := newRunner(t, testConfig(), nil, nil)

	res, err := r.Run(context.Background(), sets)
	require.NoError(t, err)
	require.Len(t, res.Reduced, 5)
	require.NotEmpty(t, res.Records)

	top := res.Records[0]
	assert.Equal(t, "twin--w2", top.Key())
	assert.InDelta(t, 1, top.Score, 1e-9)
	assert.Equal(t, similarity.Cosine, top.Metric)
	assert.Len(t, res.Records, 10)
}

func TestRunTwoIdenticalWalnuts(t *testing.T) {
	sets := []*walnut.ViewSet{viewSet(t, "a", 1), viewSet(t, "b", 1)}
	r := newRunner(t, testConfig(), nil, nil)

	res, err := r.Run(context.Background(), sets)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "a--b", res.Records[0].Key())
	assert.Equal(t, 1.0, res.Records[0].Score)
}

func TestRunExcludesFailures(t *testing.T) {
	ghost, err := walnut.NewViewSet("ghost", map[walnut.Angle]image.Image{
		walnut.AngleTop: walnuttest.Blank(200, 200),
	})
	require.NoError(t, err)
	sets := append(corpus(t), ghost)

	r := newRunner(t, testConfig(), nil, nil)
	var mu sync.Mutex
	var extracted, excluded []string
	var reduced Reduced
	var ranked Ranked
	r.On(EventExtracted, func(d interface{}) {
		mu.Lock()
		defer mu.Unlock()
		extracted = append(extracted, d.(Extracted).ID)
	})
	r.On(EventExcluded, func(d interface{}) { excluded = append(excluded, d.(Excluded).ID) })
	r.On(EventReduced, func(d interface{}) { reduced = d.(Reduced) })
	r.On(EventRanked, func(d interface{}) { ranked = d.(Ranked) })

	res, err := r.Run(context.Background(), sets)
	require.NoError(t, err)

	assert.Contains(t, res.Excluded, "ghost")
	assert.ErrorIs(t, res.Excluded["ghost"], fusion.ErrNoUsableModality)
	assert.Len(t, res.Tensors, 4)
	assert.Equal(t, "w0", res.Tensors[0].ID)
	for _, rec := range res.Records {
		assert.NotEqual(t, "ghost", rec.A)
		assert.NotEqual(t, "ghost", rec.B)
	}

	assert.ElementsMatch(t, []string{"w0", "w1", "w2", "w3"}, extracted)
	assert.Equal(t, []string{"ghost"}, excluded)
	assert.Equal(t, 4, reduced.Walnuts)
	assert.Equal(t, 3, reduced.Dim)
	assert.Equal(t, 6, ranked.Pairs)
}

func TestRunUsesCache(t *testing.T) {
	ctx := context.Background()
	b, err := cache.OpenBolt(filepath.Join(t.TempDir(), "features.db"))
	require.NoError(t, err)
	c := cache.New(b)
	defer c.Close()

	r := newRunner(t, testConfig(), c, nil)
	var mu sync.Mutex
	cached := 0
	r.On(EventExtracted, func(d interface{}) {
		mu.Lock()
		defer mu.Unlock()
		if d.(Extracted).Cached {
			cached++
		}
	})

	sets := corpus(t)
	first, err := r.Run(ctx, sets)
	require.NoError(t, err)
	assert.Equal(t, 0, cached)

	second, err := r.Run(ctx, sets)
	require.NoError(t, err)
	assert.Equal(t, 4, cached)
	assert.Equal(t, int64(4), c.Stats().Hits)

	for i := range first.Tensors {
		assert.Equal(t, first.Tensors[i].Values, second.Tensors[i].Values)
	}
	assert.Equal(t, first.Records, second.Records)
}

func TestRunRefitAfterAddingWalnut(t *testing.T) {
	ctx := context.Background()
	r := newRunner(t, testConfig(), cache.New(cache.NewMemory()), nil)

	sets := corpus(t)
	before, err := r.Run(ctx, sets[:3])
	require.NoError(t, err)
	after, err := r.Run(ctx, sets)
	require.NoError(t, err)

	assert.NotEqual(t, before.State.Key(), after.State.Key())
	for i := 0; i < 3; i++ {
		assert.Equal(t, before.Reduced[i].ID, after.Reduced[i].ID)
		assert.NotEqual(t, before.Reduced[i].Values, after.Reduced[i].Values)
	}

	_, err = before.State.Reduce(after.Tensors)
	assert.Error(t, err)
}

func TestRunSingleWalnut(t *testing.T) {
	r := newRunner(t, testConfig(), nil, nil)
	res, err := r.Run(context.Background(), corpus(t)[:1])
	require.NoError(t, err)
	assert.Len(t, res.Reduced, 1)
	assert.Empty(t, res.Records)
}

func TestRunStoresResults(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer s.Close()

	cfg := testConfig()
	cfg.Similarity.TopK = 2
	r := newRunner(t, cfg, nil, s)
	res, err := r.Run(ctx, corpus(t))
	require.NoError(t, err)
	require.Len(t, res.Records, 2)

	recs, err := s.LoadRecords(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.Records, recs)

	got, err := s.LoadTensor(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, res.Reduced[1], got)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := newRunner(t, testConfig(), nil, nil)
	_, err := r.Run(ctx, corpus(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen(t *testing.T) {
	cfg := testConfig()
	dir := t.TempDir()
	cfg.Cache.Path = filepath.Join(dir, "cache.db")
	cfg.Store.Path = filepath.Join(dir, "runs.db")

	r, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	res, err := r.Run(context.Background(), corpus(t)[:2])
	require.NoError(t, err)
	assert.Len(t, res.Records, 1)
	require.NoError(t, r.Close())

	cfg.Texture.Encoder = "resnet50"
	cfg.Texture.Model = filepath.Join(dir, "missing.onnx")
	_, err = Open(context.Background(), cfg)
	assert.Error(t, err)
}
