package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// PebbleKV provides Pebble-based persistence for the ledger state
// Thread-safe: Pebble handles concurrent readers; the exchange serializes writers
type PebbleKV struct {
	db *pebble.DB
}

// NewPebbleKV opens a Pebble database at the given path
func NewPebbleKV(dbPath string) (*PebbleKV, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:             32 << 20,                  // 32MB memtable
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		LBaseMaxBytes:            64 << 20,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10, // 512KB
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}

	return &PebbleKV{db: db}, nil
}

func (s *PebbleKV) Close() error { return s.db.Close() }

func (s *PebbleKV) Get(key []byte) ([]byte, bool, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %q: %w", key, err)
	}
	defer closer.Close()

	// Value is only valid until closer.Close()
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

// Apply writes the batch to Pebble atomically
func (s *PebbleKV) Apply(writes []Write) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, w := range writes {
		var err error
		if w.Delete {
			err = batch.Delete(w.Key, nil)
		} else {
			err = batch.Set(w.Key, w.Value, nil)
		}
		if err != nil {
			return fmt.Errorf("failed to stage %q: %w", w.Key, err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func (s *PebbleKV) Scan(lower, upper []byte, fn func(key, value []byte) bool) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		value := append([]byte(nil), iter.Value()...)
		if !fn(key, value) {
			break
		}
	}
	return iter.Error()
}

var _ KV = (*PebbleKV)(nil)
