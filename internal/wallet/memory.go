package wallet

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store used in tests and single-node setups.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Get(_ context.Context, userID string) (Record, error) {
	m.mu.RLock()
	rec, ok := m.records[userID]
	m.mu.RUnlock()
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return rec, nil
}

func (m *MemoryStore) Put(_ context.Context, rec Record) error {
	m.mu.Lock()
	m.records[rec.UserID] = rec
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	delete(m.records, userID)
	m.mu.Unlock()
	return nil
}
