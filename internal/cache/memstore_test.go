package cache

import (
	"context"
	"strings"
	"sync"
)

// memStore is an in-memory Store double used only by this package's
// tests, standing in for a real Redis server so the fold/reconstruct
// logic can be exercised without a running dependency.
type memStore struct {
	mu    sync.Mutex
	lists map[string][][]byte
	hash  map[string]map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{
		lists: make(map[string][][]byte),
		hash:  make(map[string]map[string][]byte),
	}
}

func (m *memStore) ListAppend(_ context.Context, key string, value []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append(m.lists[key], value)
	return int64(len(m.lists[key])), nil
}

func (m *memStore) ListRange(_ context.Context, key string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.lists[key]...), nil
}

func (m *memStore) HashSet(_ context.Context, key, field string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hash[key] == nil {
		m.hash[key] = make(map[string][]byte)
	}
	m.hash[key][field] = value
	return nil
}

func (m *memStore) HashGetAll(_ context.Context, key string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.hash[key]))
	for f, v := range m.hash[key] {
		out[f] = v
	}
	return out, nil
}

func (m *memStore) ScanKeys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.lists {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	for k := range m.hash {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.lists, k)
		delete(m.hash, k)
	}
	return nil
}

func (m *memStore) FlushDB(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists = make(map[string][][]byte)
	m.hash = make(map[string]map[string][]byte)
	return nil
}
