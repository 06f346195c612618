//go:build integration

package listings

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/assetmarket/internal/testutil"
)

func setupTestStore(t *testing.T) (*PostgresStore, func()) {
	t.Helper()
	db, cleanup := testutil.PGTest(t)
	return NewPostgresStore(db), cleanup
}

func TestPostgresListing_CreateAndGet(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	l := &Listing{
		ID:          "lst_test001",
		AccountID:   "acct_seller",
		AssetID:     "asset_1",
		Title:       "Vintage watch",
		Description: "1960s chronograph",
		AskingPrice: "9500.00",
		Currency:    "USD",
		ListingFee:  "190.00",
		Status:      StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := store.Create(ctx, l); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, "lst_test001")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got.AccountID != l.AccountID {
		t.Errorf("AccountID: got %s, want %s", got.AccountID, l.AccountID)
	}
	if got.AskingPrice != "9500.00" {
		t.Errorf("AskingPrice: got %s, want 9500.00", got.AskingPrice)
	}
	if got.ListingFee != "190.00" {
		t.Errorf("ListingFee: got %s, want 190.00", got.ListingFee)
	}
	if got.ListingFeePaid {
		t.Error("ListingFeePaid should be false")
	}
	if got.Status != StatusDraft {
		t.Errorf("Status: got %s, want %s", got.Status, StatusDraft)
	}
	if got.ApprovedAt != nil {
		t.Errorf("ApprovedAt should be nil, got %v", got.ApprovedAt)
	}
}

func TestPostgresListing_GetNotFound(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.Get(context.Background(), "lst_nonexistent")
	if err != ErrListingNotFound {
		t.Errorf("Expected ErrListingNotFound, got %v", err)
	}
}

func TestPostgresListing_Update(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	l := &Listing{
		ID:          "lst_test002",
		AccountID:   "acct_seller",
		AssetID:     "asset_2",
		Title:       "Signed first edition",
		AskingPrice: "1200.00",
		Currency:    "USD",
		ListingFee:  "24.00",
		Status:      StatusPendingApproval,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.Create(ctx, l); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	approvedAt := now.Add(time.Minute)
	l.Status = StatusActive
	l.ListingFeePaid = true
	l.ApprovedBy = "acct_admin"
	l.ApprovedAt = &approvedAt
	l.UpdatedAt = approvedAt
	if err := store.Update(ctx, l); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.Get(ctx, "lst_test002")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusActive {
		t.Errorf("Status: got %s, want %s", got.Status, StatusActive)
	}
	if !got.ListingFeePaid {
		t.Error("ListingFeePaid should be true")
	}
	if got.ApprovedBy != "acct_admin" {
		t.Errorf("ApprovedBy: got %s, want acct_admin", got.ApprovedBy)
	}
	if got.ApprovedAt == nil || !got.ApprovedAt.Equal(approvedAt) {
		t.Errorf("ApprovedAt: got %v, want %v", got.ApprovedAt, approvedAt)
	}
}

func TestPostgresListing_UpdateNotFound(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	now := time.Now().UTC()
	l := &Listing{ID: "lst_missing", Status: StatusDraft, UpdatedAt: now}
	if err := store.Update(context.Background(), l); err != ErrListingNotFound {
		t.Errorf("Expected ErrListingNotFound, got %v", err)
	}
}

func TestPostgresListing_ListQueries(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	rows := []*Listing{
		{ID: "lst_a", AccountID: "acct_1", AssetID: "as_1", Title: "A", AskingPrice: "100.00", Currency: "USD", ListingFee: "2.00", Status: StatusActive, CreatedAt: now.Add(-100 * 24 * time.Hour), UpdatedAt: now},
		{ID: "lst_b", AccountID: "acct_1", AssetID: "as_2", Title: "B", AskingPrice: "200.00", Currency: "USD", ListingFee: "4.00", Status: StatusActive, CreatedAt: now, UpdatedAt: now},
		{ID: "lst_c", AccountID: "acct_2", AssetID: "as_3", Title: "C", AskingPrice: "300.00", Currency: "USD", ListingFee: "6.00", Status: StatusDraft, CreatedAt: now, UpdatedAt: now},
	}
	for _, l := range rows {
		if err := store.Create(ctx, l); err != nil {
			t.Fatalf("Create %s failed: %v", l.ID, err)
		}
	}

	live, err := store.ListLive(ctx, 10)
	if err != nil {
		t.Fatalf("ListLive failed: %v", err)
	}
	if len(live) != 2 {
		t.Errorf("ListLive: got %d listings, want 2", len(live))
	}

	byAccount, err := store.ListByAccount(ctx, "acct_1", "", 10)
	if err != nil {
		t.Fatalf("ListByAccount failed: %v", err)
	}
	if len(byAccount) != 2 {
		t.Errorf("ListByAccount: got %d listings, want 2", len(byAccount))
	}

	drafts, err := store.ListByAccount(ctx, "acct_2", string(StatusDraft), 10)
	if err != nil {
		t.Fatalf("ListByAccount with status failed: %v", err)
	}
	if len(drafts) != 1 || drafts[0].ID != "lst_c" {
		t.Errorf("ListByAccount drafts: got %v", drafts)
	}

	stale, err := store.ListActiveOlderThan(ctx, now.Add(-90*24*time.Hour), 10)
	if err != nil {
		t.Fatalf("ListActiveOlderThan failed: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "lst_a" {
		t.Errorf("ListActiveOlderThan: got %d rows, want lst_a only", len(stale))
	}
}
