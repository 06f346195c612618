package portfolio

import (
	"context"
	"testing"
	"time"
)

func TestRecalculate(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, store)
	ctx := context.Background()
	now := time.Now().UTC()

	store.SetHoldings("acct_1", []Holding{
		{AssetID: "asset_1", Value: "9500.00"},
		{AssetID: "asset_2", Value: "120.50"},
	})

	snap, err := svc.Recalculate(ctx, "acct_1", now)
	if err != nil {
		t.Fatalf("Recalculate failed: %v", err)
	}
	if snap.TotalValue != "9620.50" {
		t.Errorf("expected total 9620.50, got %s", snap.TotalValue)
	}
	if snap.AssetCount != 2 {
		t.Errorf("expected 2 assets, got %d", snap.AssetCount)
	}
	if !snap.RecalculatedAt.Equal(now) {
		t.Error("expected recalc stamp")
	}

	got, err := svc.Get(ctx, "acct_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.TotalValue != snap.TotalValue {
		t.Error("snapshot not persisted")
	}
}

func TestRecalculate_EmptyAccount(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, store)

	store.SetHoldings("acct_empty", nil)
	snap, err := svc.Recalculate(context.Background(), "acct_empty", time.Now().UTC())
	if err != nil {
		t.Fatalf("Recalculate failed: %v", err)
	}
	if snap.TotalValue != "0.00" || snap.AssetCount != 0 {
		t.Errorf("expected zero snapshot, got %s/%d", snap.TotalValue, snap.AssetCount)
	}
}

func TestRecalculate_InvalidHolding(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, store)

	store.SetHoldings("acct_bad", []Holding{{AssetID: "asset_1", Value: "not-a-number"}})
	if _, err := svc.Recalculate(context.Background(), "acct_bad", time.Now().UTC()); err == nil {
		t.Fatal("expected error for invalid holding value")
	}
}

func TestRecalcSweep(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, store)
	ctx := context.Background()

	store.SetHoldings("acct_1", []Holding{{AssetID: "a", Value: "100.00"}})
	store.SetHoldings("acct_2", []Holding{{AssetID: "b", Value: "200.00"}})
	store.SetHoldings("acct_bad", []Holding{{AssetID: "c", Value: "bogus"}})

	result, err := svc.RecalcSweep(ctx, time.Now().UTC())
	if err == nil {
		t.Fatal("expected partial-failure summary")
	}
	if result.Processed != 2 {
		t.Errorf("expected 2 processed, got %d", result.Processed)
	}
	if len(result.Failures) != 1 || result.Failures[0].ID != "acct_bad" {
		t.Errorf("expected acct_bad to fail, got %v", result.Failures)
	}

	// Good accounts committed despite the bad row.
	snap, err := svc.Get(ctx, "acct_2")
	if err != nil {
		t.Fatal(err)
	}
	if snap.TotalValue != "200.00" {
		t.Errorf("expected 200.00, got %s", snap.TotalValue)
	}
}
