package docstore

import (
	"context"
	"log/slog"
	"sync"
)

// MemoryStore keeps the corpus in a map keyed by document id.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewMemoryStore indexes docs by id. Later duplicates replace earlier ones.
func NewMemoryStore(docs []Document) *MemoryStore {
	m := &MemoryStore{docs: make(map[string]Document, len(docs))}
	for _, d := range docs {
		if _, dup := m.docs[d.DocID]; dup {
			slog.Default().With("component", "docstore").Warn("duplicate document id", "doc_id", d.DocID)
		}
		m.docs[d.DocID] = d
	}
	return m
}

func (m *MemoryStore) GetMany(_ context.Context, ids []string) (map[string]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Document, len(ids))
	for _, id := range ids {
		if d, ok := m.docs[id]; ok {
			out[id] = d
		}
	}
	return out, nil
}

func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs), nil
}
