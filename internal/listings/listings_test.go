package listings

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mbd888/assetmarket/internal/notify"
)

// mockNotifier records notifications for verification.
type mockNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

type notifyCall struct {
	accountID string
	typ       notify.Type
}

func (m *mockNotifier) Notify(_ context.Context, accountID string, typ notify.Type, _, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, notifyCall{accountID, typ})
}

func (m *mockNotifier) count(typ notify.Type) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.typ == typ {
			n++
		}
	}
	return n
}

// mockFees charges successfully and records references.
type mockFees struct {
	holds    int
	releases int
	holdErr  error
}

func (m *mockFees) Hold(_ context.Context, _, _, _ string) (string, error) {
	if m.holdErr != nil {
		return "", m.holdErr
	}
	m.holds++
	return "fee_ref_1", nil
}

func (m *mockFees) Release(_ context.Context, _ string) error {
	m.releases++
	return nil
}

// stubGuard reports a fixed escrow-presence answer.
type stubGuard struct {
	busy bool
}

func (g *stubGuard) HasActiveForListing(context.Context, string) (bool, error) {
	return g.busy, nil
}

func newTestService(t *testing.T) (*Service, *mockNotifier, *mockFees) {
	t.Helper()
	notifier := &mockNotifier{}
	fees := &mockFees{}
	svc := NewService(NewMemoryStore(), notifier, 2.0, 90*24*time.Hour).WithFeeCollector(fees)
	return svc, notifier, fees
}

func activeListing(t *testing.T, svc *Service, seller string) *Listing {
	t.Helper()
	ctx := context.Background()
	l, err := svc.Create(ctx, CreateRequest{
		AccountID:   seller,
		AssetID:     "asset_1",
		Title:       "Vintage Watch",
		AskingPrice: "9500.00",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := svc.SubmitForApproval(ctx, l.ID, seller); err != nil {
		t.Fatalf("SubmitForApproval failed: %v", err)
	}
	if _, err := svc.Approve(ctx, l.ID, "admin_1"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	l, err = svc.PayListingFee(ctx, l.ID, seller)
	if err != nil {
		t.Fatalf("PayListingFee failed: %v", err)
	}
	return l
}

func TestListing_Lifecycle(t *testing.T) {
	svc, notifier, fees := newTestService(t)
	ctx := context.Background()

	l, err := svc.Create(ctx, CreateRequest{
		AccountID:   "acct_seller",
		AssetID:     "asset_1",
		Title:       "Vintage Watch",
		AskingPrice: "9500.00",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if l.Status != StatusDraft {
		t.Errorf("expected draft, got %s", l.Status)
	}
	if l.ListingFee != "190.00" {
		t.Errorf("expected fee 190.00 at 2%%, got %s", l.ListingFee)
	}
	if l.Currency != "USD" {
		t.Errorf("expected default currency USD, got %s", l.Currency)
	}

	l, err = svc.SubmitForApproval(ctx, l.ID, "acct_seller")
	if err != nil {
		t.Fatalf("SubmitForApproval failed: %v", err)
	}
	if l.Status != StatusPendingApproval {
		t.Errorf("expected pending_approval, got %s", l.Status)
	}

	l, err = svc.Approve(ctx, l.ID, "admin_1")
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if l.Status != StatusApproved {
		t.Errorf("expected approved (fee unpaid), got %s", l.Status)
	}
	if l.ApprovedBy != "admin_1" || l.ApprovedAt == nil {
		t.Error("expected approval stamp")
	}
	if notifier.count(notify.TypeListingApproved) != 1 {
		t.Error("expected one approval notification")
	}

	l, err = svc.PayListingFee(ctx, l.ID, "acct_seller")
	if err != nil {
		t.Fatalf("PayListingFee failed: %v", err)
	}
	if l.Status != StatusActive {
		t.Errorf("expected active after fee, got %s", l.Status)
	}
	if !l.ListingFeePaid {
		t.Error("expected fee marked paid")
	}
	if fees.holds != 1 || fees.releases != 1 {
		t.Errorf("expected one fee charge, got holds=%d releases=%d", fees.holds, fees.releases)
	}
}

func TestListing_UpdateDraft(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	l, _ := svc.Create(ctx, CreateRequest{
		AccountID: "acct_s", AssetID: "a", Title: "T", AskingPrice: "100.00",
	})

	updated, err := svc.Update(ctx, l.ID, "acct_s", UpdateRequest{
		Title:       "Better Title",
		AskingPrice: "200.00",
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Title != "Better Title" {
		t.Errorf("expected new title, got %q", updated.Title)
	}
	if updated.AskingPrice != "200.00" {
		t.Errorf("expected new price, got %s", updated.AskingPrice)
	}
	// Fee follows the price.
	if updated.ListingFee != "4.00" {
		t.Errorf("expected fee recomputed to 4.00, got %s", updated.ListingFee)
	}

	if _, err := svc.Update(ctx, l.ID, "acct_other", UpdateRequest{Title: "X"}); err != ErrUnauthorized {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.Update(ctx, l.ID, "acct_s", UpdateRequest{AskingPrice: "-1.00"}); err != ErrInvalidAmount {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestListing_UpdateOnlyDraft(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	l := activeListing(t, svc, "acct_s")

	if _, err := svc.Update(ctx, l.ID, "acct_s", UpdateRequest{Title: "X"}); err != ErrInvalidStatus {
		t.Errorf("expected ErrInvalidStatus editing a live listing, got %v", err)
	}
}

func TestListing_Search(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	activeListing(t, svc, "acct_s")
	if _, err := svc.Create(ctx, CreateRequest{
		AccountID: "acct_s2", AssetID: "b", Title: "Vintage Pen", AskingPrice: "50.00",
	}); err != nil {
		t.Fatal(err)
	}

	results, err := svc.Search(ctx, "vintage", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	// Only the live watch matches; the pen is still a draft.
	if len(results) != 1 || results[0].Title != "Vintage Watch" {
		t.Errorf("expected the live watch only, got %d results", len(results))
	}

	results, err = svc.Search(ctx, "typewriter", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no matches, got %d", len(results))
	}
}

func TestListing_FeeBeforeApproval(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	l, _ := svc.Create(ctx, CreateRequest{
		AccountID: "acct_s", AssetID: "a", Title: "T", AskingPrice: "100.00",
	})

	// Fee paid while still draft: stays draft, flag set.
	l, err := svc.PayListingFee(ctx, l.ID, "acct_s")
	if err != nil {
		t.Fatalf("PayListingFee failed: %v", err)
	}
	if l.Status != StatusDraft || !l.ListingFeePaid {
		t.Errorf("expected paid draft, got %s paid=%v", l.Status, l.ListingFeePaid)
	}

	// Approval on a fee-paid listing goes straight to active.
	if _, err := svc.SubmitForApproval(ctx, l.ID, "acct_s"); err != nil {
		t.Fatal(err)
	}
	l, err = svc.Approve(ctx, l.ID, "admin_1")
	if err != nil {
		t.Fatal(err)
	}
	if l.Status != StatusActive {
		t.Errorf("expected active, got %s", l.Status)
	}
}

func TestListing_FeeChargeFails(t *testing.T) {
	svc, _, fees := newTestService(t)
	fees.holdErr = errors.New("card declined")
	ctx := context.Background()

	l, _ := svc.Create(ctx, CreateRequest{
		AccountID: "acct_s", AssetID: "a", Title: "T", AskingPrice: "100.00",
	})
	if _, err := svc.PayListingFee(ctx, l.ID, "acct_s"); err == nil {
		t.Fatal("expected fee charge error")
	}

	got, _ := svc.Get(ctx, l.ID)
	if got.ListingFeePaid {
		t.Error("fee must not be marked paid after a failed charge")
	}
}

func TestListing_Reject(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	l, _ := svc.Create(ctx, CreateRequest{
		AccountID: "acct_s", AssetID: "a", Title: "T", AskingPrice: "100.00",
	})
	svc.SubmitForApproval(ctx, l.ID, "acct_s")

	l, err := svc.Reject(ctx, l.ID, "admin_1", "prohibited asset class")
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if l.Status != StatusRejected || l.RejectReason != "prohibited asset class" {
		t.Errorf("expected rejected with reason, got %s %q", l.Status, l.RejectReason)
	}

	// Terminal: no further transitions.
	if _, err := svc.Cancel(ctx, l.ID, "acct_s"); err != ErrInvalidStatus {
		t.Errorf("expected ErrInvalidStatus cancelling rejected listing, got %v", err)
	}
}

func TestListing_UnauthorizedTransitions(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	l, _ := svc.Create(ctx, CreateRequest{
		AccountID: "acct_s", AssetID: "a", Title: "T", AskingPrice: "100.00",
	})

	if _, err := svc.SubmitForApproval(ctx, l.ID, "acct_other"); err != ErrUnauthorized {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.Cancel(ctx, l.ID, "acct_other"); err != ErrUnauthorized {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestListing_InvalidAmount(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), CreateRequest{
		AccountID: "acct_s", AssetID: "a", Title: "T", AskingPrice: "-5.00",
	})
	if err != ErrInvalidAmount {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestListing_MarkSoldIdempotent(t *testing.T) {
	svc, notifier, _ := newTestService(t)
	ctx := context.Background()
	l := activeListing(t, svc, "acct_s")

	first, err := svc.MarkSold(ctx, l.ID)
	if err != nil {
		t.Fatalf("MarkSold failed: %v", err)
	}
	if first.Status != StatusSold {
		t.Errorf("expected sold, got %s", first.Status)
	}

	// Duplicate release callback: unchanged, not re-notified.
	second, err := svc.MarkSold(ctx, l.ID)
	if err != nil {
		t.Fatalf("second MarkSold failed: %v", err)
	}
	if second.Status != StatusSold {
		t.Errorf("expected sold, got %s", second.Status)
	}
	if n := notifier.count(notify.TypeListingSold); n != 1 {
		t.Errorf("expected exactly one sold notification, got %d", n)
	}
}

func TestListing_WhileLive(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	draft, _ := svc.Create(ctx, CreateRequest{
		AccountID: "acct_s", AssetID: "a", Title: "T", AskingPrice: "100.00",
	})
	if err := svc.WhileLive(ctx, draft.ID, func(*Listing) error { return nil }); err != ErrInvalidStatus {
		t.Errorf("expected ErrInvalidStatus for a draft, got %v", err)
	}

	l := activeListing(t, svc, "acct_s2")
	var seen string
	if err := svc.WhileLive(ctx, l.ID, func(got *Listing) error {
		seen = got.ID
		return nil
	}); err != nil {
		t.Fatalf("WhileLive failed: %v", err)
	}
	if seen != l.ID {
		t.Errorf("fn observed %q, want %q", seen, l.ID)
	}
}

func TestListing_CancelBlockedByLiveEscrow(t *testing.T) {
	guard := &stubGuard{busy: true}
	svc := NewService(NewMemoryStore(), &mockNotifier{}, 2.0, 90*24*time.Hour).
		WithFeeCollector(&mockFees{}).
		WithSaleGuard(guard)
	ctx := context.Background()
	l := activeListing(t, svc, "acct_s")

	if _, err := svc.Cancel(ctx, l.ID, "acct_s"); err != ErrHasActiveEscrow {
		t.Errorf("expected ErrHasActiveEscrow, got %v", err)
	}
	got, _ := svc.Get(ctx, l.ID)
	if got.Status != StatusActive {
		t.Errorf("listing must stay active, got %s", got.Status)
	}

	// Escrow resolved: cancel proceeds.
	guard.busy = false
	if _, err := svc.Cancel(ctx, l.ID, "acct_s"); err != nil {
		t.Errorf("Cancel after escrow resolution failed: %v", err)
	}
}

func TestListing_ExpireSkipsEscrowedListing(t *testing.T) {
	guard := &stubGuard{busy: true}
	store := NewMemoryStore()
	svc := NewService(store, &mockNotifier{}, 2.0, 90*24*time.Hour).
		WithFeeCollector(&mockFees{}).
		WithSaleGuard(guard)
	ctx := context.Background()

	l := activeListing(t, svc, "acct_s")
	aged, _ := store.Get(ctx, l.ID)
	aged.CreatedAt = time.Now().UTC().Add(-91 * 24 * time.Hour)
	if err := store.Update(ctx, aged); err != nil {
		t.Fatal(err)
	}

	result, err := svc.ExpireSweep(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("ExpireSweep failed: %v", err)
	}
	if result.Processed != 0 || result.Skipped != 1 {
		t.Errorf("escrowed listing must be skipped, got %+v", result)
	}
	got, _ := svc.Get(ctx, l.ID)
	if got.Status != StatusActive {
		t.Errorf("listing must stay active, got %s", got.Status)
	}
}

func TestListing_ExpireSweep(t *testing.T) {
	notifier := &mockNotifier{}
	store := NewMemoryStore()
	svc := NewService(store, notifier, 2.0, 90*24*time.Hour).WithFeeCollector(&mockFees{})
	ctx := context.Background()

	l := activeListing(t, svc, "acct_s")
	fresh := activeListing(t, svc, "acct_s2")

	// Age one listing past the 90-day cap.
	aged, _ := store.Get(ctx, l.ID)
	aged.CreatedAt = time.Now().UTC().Add(-91 * 24 * time.Hour)
	if err := store.Update(ctx, aged); err != nil {
		t.Fatal(err)
	}

	result, err := svc.ExpireSweep(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("ExpireSweep failed: %v", err)
	}
	if result.Processed != 1 {
		t.Errorf("expected 1 expired, got %d", result.Processed)
	}

	got, _ := svc.Get(ctx, l.ID)
	if got.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", got.Status)
	}
	untouched, _ := svc.Get(ctx, fresh.ID)
	if untouched.Status != StatusActive {
		t.Errorf("fresh listing should stay active, got %s", untouched.Status)
	}
	if notifier.count(notify.TypeListingExpired) != 1 {
		t.Error("expected one expiry notification")
	}

	// Second sweep over the same state is a no-op.
	result, err = svc.ExpireSweep(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("second ExpireSweep failed: %v", err)
	}
	if result.Processed != 0 {
		t.Errorf("expected no rows on second sweep, got %d", result.Processed)
	}
}
