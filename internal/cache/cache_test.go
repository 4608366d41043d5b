package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walnut-pair/internal/walnut"
)

func providers(t *testing.T) map[string]Provider {
	t.Helper()
	b, err := OpenBolt(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return map[string]Provider{"bolt": b, "memory": NewMemory()}
}

func counting(calls *int, vals ...float64) ComputeFunc {
	return func(context.Context) (*walnut.FeatureTensor, error) {
		*calls++
		return &walnut.FeatureTensor{
			Angles: []walnut.Angle{walnut.AngleFront, walnut.AngleDown},
			Values: append([]float64(nil), vals...),
		}, nil
	}
}

func TestGetOrComputeRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			c := New(p)
			calls := 0

			first, err := c.GetOrCompute(ctx, "w1", "fp1", "v1", counting(&calls, 0.1, 1e-300, -7))
			require.NoError(t, err)
			second, err := c.GetOrCompute(ctx, "w1", "fp1", "v1", counting(&calls, 99))
			require.NoError(t, err)

			assert.Equal(t, 1, calls)
			assert.Equal(t, first.Values, second.Values)
			assert.Equal(t, []walnut.Angle{walnut.AngleFront, walnut.AngleDown}, second.Angles)
			assert.Equal(t, "fp1", second.Fingerprint)
			assert.Equal(t, "v1", second.Version)
			assert.Equal(t, Stats{Hits: 1, Misses: 1}, c.Stats())
		})
	}
}

func TestVersionMismatchRecomputes(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemory())
	calls := 0

	_, err := c.GetOrCompute(ctx, "w1", "fp1", "v1", counting(&calls, 1))
	require.NoError(t, err)
	got, err := c.GetOrCompute(ctx, "w1", "fp1", "v2", counting(&calls, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []float64{2}, got.Values)
	assert.Equal(t, int64(1), c.Stats().Stale)

	// The new version overwrote the old one.
	_, ok := c.Get(ctx, "fp1", "v1")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "fp1", "v2")
	assert.True(t, ok)
}

func TestCorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, p.Set(ctx, "fp1", []byte("not a gob stream")))
			c := New(p)
			calls := 0

			got, err := c.GetOrCompute(ctx, "w1", "fp1", "v1", counting(&calls, 3))
			require.NoError(t, err)
			assert.Equal(t, 1, calls)
			assert.Equal(t, []float64{3}, got.Values)
			assert.Equal(t, int64(1), c.Stats().Errors)

			_, ok := c.Get(ctx, "fp1", "v1")
			assert.True(t, ok)
		})
	}
}

type failingProvider struct{ *Memory }

func (failingProvider) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("disk on fire")
}

func (failingProvider) Set(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func TestBackendFailuresAreNotFatal(t *testing.T) {
	c := New(failingProvider{NewMemory()})
	calls := 0
	got, err := c.GetOrCompute(context.Background(), "w1", "fp1", "v1", counting(&calls, 4))
	require.NoError(t, err)
	assert.Equal(t, []float64{4}, got.Values)
	assert.Equal(t, int64(2), c.Stats().Errors)
}

func TestComputeErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	c := New(NewMemory())
	_, err := c.GetOrCompute(context.Background(), "w1", "fp1", "v1", func(context.Context) (*walnut.FeatureTensor, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	_, ok := c.Get(context.Background(), "fp1", "v1")
	assert.False(t, ok)
}

func TestSameContentDifferentID(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemory())
	calls := 0
	_, err := c.GetOrCompute(ctx, "w1", "fp1", "v1", counting(&calls, 5))
	require.NoError(t, err)
	got, err := c.GetOrCompute(ctx, "renamed", "fp1", "v1", counting(&calls, 6))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "renamed", got.ID)
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			c := New(p)
			calls := 0
			_, err := c.GetOrCompute(ctx, "w1", "fp1", "v1", counting(&calls, 1))
			require.NoError(t, err)

			require.NoError(t, c.Invalidate(ctx, "fp1"))
			require.NoError(t, c.Invalidate(ctx, "fp1"))
			_, ok := c.Get(ctx, "fp1", "v1")
			assert.False(t, ok)

			assert.ErrorIs(t, p.Delete(ctx, "nope"), ErrNotFound)
		})
	}
}
