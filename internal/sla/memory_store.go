package sla

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory ticket store for demo/development mode.
type MemoryStore struct {
	tickets map[string]*Ticket
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory ticket store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tickets: make(map[string]*Ticket)}
}

func (m *MemoryStore) Create(ctx context.Context, t *Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *t
	m.tickets[t.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, t *Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tickets[t.ID]; !ok {
		return ErrTicketNotFound
	}
	cp := *t
	m.tickets[t.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Ticket
	for _, t := range m.tickets {
		if t.AccountID != accountID {
			continue
		}
		cp := *t
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) ListOpen(ctx context.Context, limit int) ([]*Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Ticket
	for _, t := range m.tickets {
		if t.IsTerminal() {
			continue
		}
		cp := *t
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}
