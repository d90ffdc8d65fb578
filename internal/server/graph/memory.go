package graph

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// MemoryStore keeps documents in maps. It backs tests and dry runs.
type MemoryStore struct {
	mu    sync.RWMutex
	colls map[string]map[string]Document
	refs  map[string]struct{}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		colls: make(map[string]map[string]Document),
		refs:  make(map[string]struct{}),
	}
}

// InsertBatch implements Store. The whole batch is rejected if any edge
// points at a node that is not stored.
func (m *MemoryStore) InsertBatch(ctx context.Context, collection string, docs []Document) error {
	if err := checkBatch(collection, docs); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, doc := range docs {
		e, ok := doc.(*Edge)
		if !ok {
			continue
		}
		for _, ref := range []string{e.From, e.To} {
			if _, ok := m.refs[ref]; !ok {
				return fmt.Errorf("%w: %s", ErrDanglingEdge, ref)
			}
		}
	}

	coll, ok := m.colls[collection]
	if !ok {
		coll = make(map[string]Document)
		m.colls[collection] = coll
	}
	for _, doc := range docs {
		coll[doc.ID()] = doc
		if n, ok := doc.(*Node); ok {
			m.refs[n.Ref()] = struct{}{}
		}
	}
	return nil
}

// Truncate implements Store.
func (m *MemoryStore) Truncate(ctx context.Context, collections ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range collections {
		for _, doc := range m.colls[name] {
			if n, ok := doc.(*Node); ok {
				delete(m.refs, n.Ref())
			}
		}
		delete(m.colls, name)
	}
	return nil
}

// Count implements Store.
func (m *MemoryStore) Count(ctx context.Context, collection string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.colls[collection]), nil
}

// Close implements Store.
func (m *MemoryStore) Close(ctx context.Context) error {
	return nil
}

// Snapshot returns every stored document ordered by collection and ID.
func (m *MemoryStore) Snapshot() []Document {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Document
	for _, name := range slices.Sorted(maps.Keys(m.colls)) {
		coll := m.colls[name]
		for _, id := range slices.Sorted(maps.Keys(coll)) {
			out = append(out, coll[id])
		}
	}
	return out
}

// Collections returns the names of non-empty collections, sorted.
func (m *MemoryStore) Collections() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.colls))
}
