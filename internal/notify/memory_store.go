package notify

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory notification store for demo/development mode.
type MemoryStore struct {
	byAccount map[string][]*Notification
	byID      map[string]*Notification
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory notification store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byAccount: make(map[string][]*Notification),
		byID:      make(map[string]*Notification),
	}
}

func (m *MemoryStore) Create(ctx context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *n
	m.byAccount[n.AccountID] = append(m.byAccount[n.AccountID], &cp)
	m.byID[n.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := m.byAccount[accountID]
	sorted := make([]*Notification, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	var result []*Notification
	for _, n := range sorted {
		cp := *n
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) MarkRead(ctx context.Context, id, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.byID[id]
	if !ok || n.AccountID != accountID {
		return ErrNotificationNotFound
	}
	if n.ReadAt == nil {
		now := time.Now().UTC()
		n.ReadAt = &now
	}
	return nil
}
