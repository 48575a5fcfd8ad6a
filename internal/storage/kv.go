// Package storage implements the blob store, timeline store, and the
// storage façade that stitches them into the seven operations the sync
// protocol exposes (spec.md §4.2).
package storage

import (
	"fmt"
	"sort"
	"sync"

	"go.etcd.io/bbolt"
)

// KV is the synchronous get/put/delete contract spec.md §6 asks of the
// embedded key-value backend. Buckets partition the blob/timeline key
// spaces described there.
type KV interface {
	Get(bucket, key []byte) ([]byte, error)
	Put(bucket, key, value []byte) error
	Delete(bucket, key []byte) error
	// ForEachPrefix iterates all keys in bucket starting with prefix, in
	// key order, calling fn with each key/value until fn returns an error
	// or the bucket is exhausted. A nil prefix visits the whole bucket.
	ForEachPrefix(bucket, prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// bboltKV is the production KV backend: a single bbolt database file with
// one top-level bucket per logical key space.
type bboltKV struct {
	db *bbolt.DB
}

// OpenBboltKV opens (creating if absent) a bbolt-backed KV store at path.
func OpenBboltKV(path string) (KV, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: opening bbolt db %s: %w", path, err)
	}
	return &bboltKV{db: db}, nil
}

func (k *bboltKV) Get(bucket, key []byte) ([]byte, error) {
	var out []byte
	err := k.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		if v := b.Get(key); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: bbolt get: %w", err)
	}
	return out, nil
}

func (k *bboltKV) Put(bucket, key, value []byte) error {
	err := k.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucket)
		if err != nil {
			return err
		}
		return b.Put(key, value)
	})
	if err != nil {
		return fmt.Errorf("storage: bbolt put: %w", err)
	}
	return nil
}

func (k *bboltKV) Delete(bucket, key []byte) error {
	err := k.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		return b.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("storage: bbolt delete: %w", err)
	}
	return nil
}

func (k *bboltKV) ForEachPrefix(bucket, prefix []byte, fn func(key, value []byte) error) error {
	err := k.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for key, value := c.Seek(prefix); key != nil && hasPrefix(key, prefix); key, value = c.Next() {
			if err := fn(key, value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage: bbolt iterate: %w", err)
	}
	return nil
}

func (k *bboltKV) Close() error {
	if err := k.db.Close(); err != nil {
		return fmt.Errorf("storage: closing bbolt db: %w", err)
	}
	return nil
}

func hasPrefix(key, prefix []byte) bool {
	if len(prefix) == 0 {
		return true
	}
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}

// memKV is an in-memory KV backend for unit tests that don't need a real
// database file on disk.
type memKV struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte
}

// NewMemKV constructs an in-memory KV store.
func NewMemKV() KV {
	return &memKV{buckets: make(map[string]map[string][]byte)}
}

func (m *memKV) Get(bucket, key []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.buckets[string(bucket)]
	if b == nil {
		return nil, nil
	}
	v, ok := b[string(key)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *memKV) Put(bucket, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.buckets[string(bucket)]
	if b == nil {
		b = make(map[string][]byte)
		m.buckets[string(bucket)] = b
	}
	b[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *memKV) Delete(bucket, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.buckets[string(bucket)]
	if b == nil {
		return nil
	}
	delete(b, string(key))
	return nil
}

func (m *memKV) ForEachPrefix(bucket, prefix []byte, fn func(key, value []byte) error) error {
	m.mu.Lock()
	b := m.buckets[string(bucket)]
	keys := make([]string, 0, len(b))
	for k := range b {
		if hasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	snapshot := make(map[string][]byte, len(keys))
	for _, k := range keys {
		snapshot[k] = b[k]
	}
	m.mu.Unlock()

	for _, k := range keys {
		if err := fn([]byte(k), snapshot[k]); err != nil {
			return err
		}
	}
	return nil
}

func (m *memKV) Close() error { return nil }
