// Package dealmap maps chain deal ids to the ledger contract ids this bridge
// originated. Entries are written once at bridge-create time and read by the
// deposit watcher; a missing entry just means the deposit belongs to somebody
// else's deal.
package dealmap

import (
	"context"
	"sync"
)

// Store abstracts mapping persistence.
type Store interface {
	// Put records dealID -> contractID. Writing the same key again overwrites.
	Put(ctx context.Context, dealID, contractID string) error
	// Get returns the contract id for dealID. ok is false when the deal id is
	// unknown; that is not an error.
	Get(ctx context.Context, dealID string) (contractID string, ok bool, err error)
}

// MemoryStore keeps mappings for the process lifetime. Default store and the
// test double.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Put(_ context.Context, dealID, contractID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[dealID] = contractID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, dealID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cid, ok := m.data[dealID]
	return cid, ok, nil
}

// Len reports the number of recorded mappings.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
