// Package portfolio maintains per-account aggregate valuations, recomputed
// daily from the account's asset holdings.
package portfolio

import (
	"context"
	"errors"
	"time"
)

var ErrPortfolioNotFound = errors.New("portfolio not found")

// Holding is one asset position owned by an account.
type Holding struct {
	AssetID string `json:"assetId"`
	Value   string `json:"value"` // current valuation, decimal string
}

// Snapshot is the persisted aggregate for one account.
type Snapshot struct {
	AccountID      string    `json:"accountId"`
	TotalValue     string    `json:"totalValue"`
	AssetCount     int       `json:"assetCount"`
	RecalculatedAt time.Time `json:"recalculatedAt"`
}

// Store persists portfolio snapshots.
type Store interface {
	Get(ctx context.Context, accountID string) (*Snapshot, error)
	Upsert(ctx context.Context, s *Snapshot) error
	ListAccountIDs(ctx context.Context, limit int) ([]string, error)
}

// HoldingSource reports the current holdings for an account.
type HoldingSource interface {
	Holdings(ctx context.Context, accountID string) ([]Holding, error)
}

// Service recomputes and serves portfolio snapshots.
type Service struct {
	store    Store
	holdings HoldingSource
}

// NewService creates a new portfolio service.
func NewService(store Store, holdings HoldingSource) *Service {
	return &Service{store: store, holdings: holdings}
}
