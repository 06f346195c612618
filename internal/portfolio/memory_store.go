package portfolio

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory snapshot store for demo/development mode.
// It doubles as a HoldingSource backed by manually-set holdings.
type MemoryStore struct {
	snapshots map[string]*Snapshot
	holdings  map[string][]Holding
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory portfolio store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]*Snapshot),
		holdings:  make(map[string][]Holding),
	}
}

func (m *MemoryStore) Get(ctx context.Context, accountID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.snapshots[accountID]
	if !ok {
		return nil, ErrPortfolioNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, s *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.snapshots[s.AccountID] = &cp
	return nil
}

func (m *MemoryStore) ListAccountIDs(ctx context.Context, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id := range m.holdings {
		ids = append(ids, id)
		if len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

// SetHoldings replaces an account's holdings.
func (m *MemoryStore) SetHoldings(accountID string, holdings []Holding) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.holdings[accountID] = append([]Holding(nil), holdings...)
}

func (m *MemoryStore) Holdings(ctx context.Context, accountID string) ([]Holding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]Holding(nil), m.holdings[accountID]...), nil
}
