package subscriptions

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory subscription store for demo/development mode.
type MemoryStore struct {
	subs map[string]*Subscription
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory subscription store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*Subscription)}
}

func (m *MemoryStore) Create(ctx context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.subs[s.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subs[s.ID]; !ok {
		return ErrSubscriptionNotFound
	}
	cp := *s
	m.subs[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetActiveByAccount(ctx context.Context, accountID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.subs {
		if s.AccountID != accountID {
			continue
		}
		if s.Status == StatusActive || s.Status == StatusPastDue {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (m *MemoryStore) ListDueForReconcile(ctx context.Context, before time.Time, limit int) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Subscription
	for _, s := range m.subs {
		if !s.Plan.Paid() {
			continue
		}
		if s.Status != StatusActive && s.Status != StatusPastDue {
			continue
		}
		if !s.PeriodEnd.Before(before) {
			continue
		}
		cp := *s
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}
