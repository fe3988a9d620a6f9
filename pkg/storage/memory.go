package storage

import (
	"bytes"
	"errors"
	"sort"
	"sync"
)

var ErrClosed = errors.New("storage: closed")

// MemKV is an in-memory KV for tests and ephemeral devnets
type MemKV struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

func NewMemKV() *MemKV {
	return &MemKV{data: make(map[string][]byte)}
}

func (m *MemKV) Get(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	v, ok := m.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemKV) Apply(writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, w := range writes {
		if w.Delete {
			delete(m.data, string(w.Key))
			continue
		}
		m.data[string(w.Key)] = append([]byte(nil), w.Value...)
	}
	return nil
}

func (m *MemKV) Scan(lower, upper []byte, fn func(key, value []byte) bool) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		kb := []byte(k)
		if lower != nil && bytes.Compare(kb, lower) < 0 {
			continue
		}
		if upper != nil && bytes.Compare(kb, upper) >= 0 {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = append([]byte(nil), m.data[k]...)
	}
	m.mu.RUnlock()

	for i, k := range keys {
		if !fn([]byte(k), values[i]) {
			break
		}
	}
	return nil
}

func (m *MemKV) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

var _ KV = (*MemKV)(nil)
