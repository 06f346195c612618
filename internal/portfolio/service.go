package portfolio

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/assetmarket/internal/money"
	"github.com/mbd888/assetmarket/internal/sweep"
)

const recalcBatchSize = 1000

// Get returns the stored snapshot for an account.
func (s *Service) Get(ctx context.Context, accountID string) (*Snapshot, error) {
	return s.store.Get(ctx, accountID)
}

// Recalculate recomputes one account's aggregate and persists it.
func (s *Service) Recalculate(ctx context.Context, accountID string, now time.Time) (*Snapshot, error) {
	holdings, err := s.holdings.Holdings(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load holdings: %w", err)
	}

	total := "0.00"
	for _, h := range holdings {
		if !money.Valid(h.Value) {
			return nil, fmt.Errorf("invalid holding value %q for asset %s", h.Value, h.AssetID)
		}
		total = money.Add(total, h.Value)
	}

	snap := &Snapshot{
		AccountID:      accountID,
		TotalValue:     total,
		AssetCount:     len(holdings),
		RecalculatedAt: now,
	}
	if err := s.store.Upsert(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}
	return snap, nil
}

// RecalcSweep refreshes every tracked account's snapshot. Per-account
// failures are collected; the rest of the pass continues.
func (s *Service) RecalcSweep(ctx context.Context, now time.Time) (*sweep.Result, error) {
	result := &sweep.Result{}

	accountIDs, err := s.store.ListAccountIDs(ctx, recalcBatchSize)
	if err != nil {
		return result, fmt.Errorf("failed to list portfolio accounts: %w", err)
	}

	for _, accountID := range accountIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := s.Recalculate(ctx, accountID, now); err != nil {
			slog.Warn("portfolio recalc failed", "account", accountID, "error", err)
			result.Fail(accountID, err)
			continue
		}
		result.Processed++
	}
	return result, result.Err()
}
