package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"walnut-pair/internal/walnut"
)

// entryFormat is bumped when Entry changes shape.
const entryFormat = 1

// Entry is the stored form of one walnut's tensor.
type Entry struct {
	Format      int
	ID          string
	Fingerprint string
	Version     string
	Angles      []int
	Values      []float64
	Created     time.Time
}

// ComputeFunc produces a tensor on a miss.
type ComputeFunc func(ctx context.Context) (*walnut.FeatureTensor, error)

// Stats counts cache outcomes.
type Stats struct {
	Hits   int64
	Misses int64
	Stale  int64 // Entries present but computed under another version
	Errors int64 // Unreadable entries and backend failures
}

// Cache maps image fingerprints to feature tensors.
type Cache struct {
	provider Provider

	hits, misses, stale, errs atomic.Int64
}

// New wraps a provider.
func New(provider Provider) *Cache {
	return &Cache{provider: provider}
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Stale:  c.stale.Load(),
		Errors: c.errs.Load(),
	}
}

// Close closes the provider.
func (c *Cache) Close() error {
	return c.provider.Close()
}

// Get returns the cached tensor for fingerprint when it was computed under
// version. Any unreadable or mismatched entry is reported as a miss.
func (c *Cache) Get(ctx context.Context, fingerprint, version string) (*walnut.FeatureTensor, bool) {
	data, err := c.provider.Get(ctx, fingerprint)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.errs.Add(1)
			log.Printf("cache: read %s failed: %v", short(fingerprint), err)
		}
		return nil, false
	}

	var e Entry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		c.errs.Add(1)
		log.Printf("cache: entry %s unreadable (%s): %v", short(fingerprint), humanize.Bytes(uint64(len(data))), err)
		return nil, false
	}
	if e.Format != entryFormat || e.Fingerprint != fingerprint {
		c.errs.Add(1)
		log.Printf("cache: entry %s has format %d, fingerprint %s", short(fingerprint), e.Format, short(e.Fingerprint))
		return nil, false
	}
	if e.Version != version {
		c.stale.Add(1)
		log.Printf("cache: entry %s from %s is stale", short(fingerprint), humanize.Time(e.Created))
		return nil, false
	}

	angles := make([]walnut.Angle, len(e.Angles))
	for i, a := range e.Angles {
		angles[i] = walnut.Angle(a)
	}
	return &walnut.FeatureTensor{
		ID:          e.ID,
		Fingerprint: e.Fingerprint,
		Version:     e.Version,
		Angles:      angles,
		Values:      e.Values,
	}, true
}

// Put stores t under its fingerprint.
func (c *Cache) Put(ctx context.Context, t *walnut.FeatureTensor) error {
	e := Entry{
		Format:      entryFormat,
		ID:          t.ID,
		Fingerprint: t.Fingerprint,
		Version:     t.Version,
		Angles:      make([]int, len(t.Angles)),
		Values:      t.Values,
		Created:     time.Now(),
	}
	for i, a := range t.Angles {
		e.Angles[i] = int(a)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&e); err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	return c.provider.Set(ctx, t.Fingerprint, buf.Bytes())
}

// GetOrCompute returns the cached tensor for (fingerprint, version) or runs
// compute, stores its result and returns it. A failed write is logged and
// the computed tensor is still returned. The returned tensor always carries
// the requested id, fingerprint and version.
func (c *Cache) GetOrCompute(ctx context.Context, id, fingerprint, version string, compute ComputeFunc) (*walnut.FeatureTensor, error) {
	if t, ok := c.Get(ctx, fingerprint, version); ok {
		c.hits.Add(1)
		t.ID = id
		return t, nil
	}
	c.misses.Add(1)

	t, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	t.ID = id
	t.Fingerprint = fingerprint
	t.Version = version

	if err := c.Put(ctx, t); err != nil {
		c.errs.Add(1)
		log.Printf("cache: write %s for %s failed: %v", short(fingerprint), id, err)
	}
	return t, nil
}

// Invalidate removes the entry for fingerprint, if any.
func (c *Cache) Invalidate(ctx context.Context, fingerprint string) error {
	err := c.provider.Delete(ctx, fingerprint)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
