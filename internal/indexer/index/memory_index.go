package index

import (
	"context"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
)

// NewMemoryStore returns a Store backed by process-local maps.
func NewMemoryStore() *Store {
	return &Store{
		Docs:     NewMemoryMap[content.DocID, DocMeta](),
		Terms:    NewMemoryMap[content.DocID, TermVector](),
		Inverted: NewMemoryPostings(),
	}
}

// MemoryMap is a Map guarded by a RWMutex.
type MemoryMap[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

func NewMemoryMap[K comparable, V any]() *MemoryMap[K, V] {
	return &MemoryMap[K, V]{m: make(map[K]V)}
}

func (m *MemoryMap[K, V]) Get(_ context.Context, key K) (V, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.m[key]
	return v, ok, nil
}

func (m *MemoryMap[K, V]) Put(_ context.Context, key K, value V) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[key] = value
	return nil
}

func (m *MemoryMap[K, V]) Remove(_ context.Context, key K) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, key)
	return nil
}

func (m *MemoryMap[K, V]) Keys(context.Context) ([]K, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]K, 0, len(m.m))
	for k := range m.m {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *MemoryMap[K, V]) Len(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.m), nil
}

// MemoryPostings is a PostingMap guarded by a RWMutex.
type MemoryPostings struct {
	mu    sync.RWMutex
	index map[string]map[content.DocID]int
}

func NewMemoryPostings() *MemoryPostings {
	return &MemoryPostings{index: make(map[string]map[content.DocID]int)}
}

func (p *MemoryPostings) Put(_ context.Context, term string, id content.DocID, tf int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	docs, ok := p.index[term]
	if !ok {
		docs = make(map[content.DocID]int)
		p.index[term] = docs
	}
	docs[id] = tf
	return nil
}

func (p *MemoryPostings) Remove(_ context.Context, term string, id content.DocID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	docs, ok := p.index[term]
	if !ok {
		return nil
	}
	delete(docs, id)
	if len(docs) == 0 {
		delete(p.index, term)
	}
	return nil
}

func (p *MemoryPostings) Get(_ context.Context, term string) (PostingList, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	docs := p.index[term]
	if len(docs) == 0 {
		return nil, nil
	}
	result := make(PostingList, 0, len(docs))
	for id, tf := range docs {
		result = append(result, Posting{DocID: id, TF: tf})
	}
	return sortPostings(result), nil
}

func (p *MemoryPostings) Len(context.Context) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.index), nil
}
