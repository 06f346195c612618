package escrow

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory escrow store for demo/development mode.
type MemoryStore struct {
	transactions map[string]*Transaction
	mu           sync.RWMutex
}

// NewMemoryStore creates a new in-memory escrow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{transactions: make(map[string]*Transaction)}
}

func (m *MemoryStore) Create(ctx context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *t
	m.transactions[t.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.transactions[id]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.transactions[t.ID]; !ok {
		return ErrEscrowNotFound
	}
	cp := *t
	m.transactions[t.ID] = &cp
	return nil
}

func (m *MemoryStore) GetByOffer(ctx context.Context, offerID string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.transactions {
		if t.OfferID == offerID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrEscrowNotFound
}

func (m *MemoryStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for _, t := range m.transactions {
		if t.BuyerID != accountID && t.SellerID != accountID {
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

func (m *MemoryStore) HasActiveForListing(ctx context.Context, listingID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.transactions {
		if t.ListingID == listingID && !t.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}
