// Package cache stores fused feature tensors keyed by image content so an
// unchanged walnut is never extracted twice under the same configuration.
package cache

import (
	"context"
	"errors"
	"sync"

	"go.etcd.io/bbolt"
)

// ErrNotFound is returned by providers when a key has no value.
var ErrNotFound = errors.New("cache entry not found")

// Provider is a byte-oriented key/value backend.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// DefaultBucket holds feature entries in a bolt file.
const DefaultBucket = "features"

// Bolt is a Provider backed by a bbolt file.
type Bolt struct {
	db     *bbolt.DB
	bucket []byte
}

// OpenBolt opens or creates a bolt cache file.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	return NewBolt(db, DefaultBucket), nil
}

// NewBolt wraps an open database.
func NewBolt(db *bbolt.DB, bucket string) *Bolt {
	return &Bolt{db: db, bucket: []byte(bucket)}
}

// Get retrieves the value at key.
func (b *Bolt) Get(_ context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(b.bucket)
		if bk == nil {
			return ErrNotFound
		}
		v := bk.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set stores value at key.
func (b *Bolt) Set(_ context.Context, key string, value []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bk, err := tx.CreateBucketIfNotExists(b.bucket)
		if err != nil {
			return err
		}
		return bk.Put([]byte(key), value)
	})
}

// Delete removes the value at key.
func (b *Bolt) Delete(_ context.Context, key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(b.bucket)
		if bk == nil || bk.Get([]byte(key)) == nil {
			return ErrNotFound
		}
		return bk.Delete([]byte(key))
	})
}

// Close closes the database.
func (b *Bolt) Close() error {
	return b.db.Close()
}

// Memory is an in-process Provider.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory provider.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return ErrNotFound
	}
	delete(m.data, key)
	return nil
}

func (m *Memory) Close() error { return nil }

var (
	_ Provider = (*Bolt)(nil)
	_ Provider = (*Memory)(nil)
)
