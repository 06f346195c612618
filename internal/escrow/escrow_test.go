package escrow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mbd888/assetmarket/internal/notify"
)

// mockGateway records fund movements and can fail on demand.
type mockGateway struct {
	mu         sync.Mutex
	held       map[string]string // ref -> amount
	released   map[string]bool
	refunded   map[string]bool
	holdErr    error
	releaseErr error
	refundErr  error
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		held:     make(map[string]string),
		released: make(map[string]bool),
		refunded: make(map[string]bool),
	}
}

func (m *mockGateway) Hold(_ context.Context, amount, _, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holdErr != nil {
		return "", m.holdErr
	}
	ref := "pay_ref_1"
	m.held[ref] = amount
	return ref, nil
}

func (m *mockGateway) Release(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.releaseErr != nil {
		return m.releaseErr
	}
	m.released[ref] = true
	return nil
}

func (m *mockGateway) Refund(_ context.Context, ref, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refundErr != nil {
		return m.refundErr
	}
	m.refunded[ref] = true
	return nil
}

// mockMarker records MarkSold calls.
type mockMarker struct {
	mu   sync.Mutex
	sold []string
}

func (m *mockMarker) MarkSold(_ context.Context, listingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sold = append(m.sold, listingID)
	return nil
}

// mockNotifier records notifications.
type mockNotifier struct {
	mu    sync.Mutex
	calls map[notify.Type]int
}

func (m *mockNotifier) Notify(_ context.Context, _ string, typ notify.Type, _, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[notify.Type]int)
	}
	m.calls[typ]++
}

// stubPlans marks fixed accounts premium.
type stubPlans struct{ premium map[string]bool }

func (s *stubPlans) IsPremium(_ context.Context, accountID string) (bool, error) {
	return s.premium[accountID], nil
}

func fixture(t *testing.T) (*Service, *mockGateway, *mockMarker, *mockNotifier) {
	t.Helper()
	gw := newMockGateway()
	marker := &mockMarker{}
	notifier := &mockNotifier{}
	svc := NewService(NewMemoryStore(), gw, marker, notifier,
		CommissionRates{Standard: 20.0, Premium: 10.0})
	return svc, gw, marker, notifier
}

func openFunded(t *testing.T, svc *Service) *Transaction {
	t.Helper()
	ctx := context.Background()
	id, err := svc.Open(ctx, "lst_1", "off_1", "acct_buyer", "acct_seller", "9500.00", "USD")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	tx, err := svc.Fund(ctx, id, "acct_buyer")
	if err != nil {
		t.Fatalf("Fund failed: %v", err)
	}
	return tx
}

func TestEscrow_OpenAndFund(t *testing.T) {
	svc, gw, _, notifier := fixture(t)
	ctx := context.Background()

	id, err := svc.Open(ctx, "lst_1", "off_1", "acct_buyer", "acct_seller", "9500.00", "USD")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	tx, err := svc.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if tx.Status != StatusPending {
		t.Errorf("expected pending, got %s", tx.Status)
	}
	if len(gw.held) != 0 {
		t.Error("no funds may move at open")
	}

	tx, err = svc.Fund(ctx, id, "acct_buyer")
	if err != nil {
		t.Fatalf("Fund failed: %v", err)
	}
	if tx.Status != StatusFunded {
		t.Errorf("expected funded, got %s", tx.Status)
	}
	if tx.PaymentRef == "" {
		t.Error("expected payment reference")
	}
	if tx.Commission != "1900.00" {
		t.Errorf("expected 20%% commission 1900.00, got %s", tx.Commission)
	}
	if notifier.calls[notify.TypePaymentReceived] != 1 {
		t.Error("expected seller notified of funding")
	}
}

func TestEscrow_FundPremiumCommission(t *testing.T) {
	svc, _, _, _ := fixture(t)
	svc = svc.WithPlanChecker(&stubPlans{premium: map[string]bool{"acct_seller": true}})
	ctx := context.Background()

	id, _ := svc.Open(ctx, "lst_1", "off_1", "acct_buyer", "acct_seller", "9500.00", "USD")
	tx, err := svc.Fund(ctx, id, "acct_buyer")
	if err != nil {
		t.Fatalf("Fund failed: %v", err)
	}
	if tx.Commission != "950.00" {
		t.Errorf("expected 10%% premium commission 950.00, got %s", tx.Commission)
	}
}

func TestEscrow_FundOnlyBuyer(t *testing.T) {
	svc, _, _, _ := fixture(t)
	ctx := context.Background()

	id, _ := svc.Open(ctx, "lst_1", "off_1", "acct_buyer", "acct_seller", "9500.00", "USD")
	if _, err := svc.Fund(ctx, id, "acct_seller"); err != ErrUnauthorized {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestEscrow_FundGatewayFailure(t *testing.T) {
	svc, gw, _, _ := fixture(t)
	gw.holdErr = errors.New("card declined")
	ctx := context.Background()

	id, _ := svc.Open(ctx, "lst_1", "off_1", "acct_buyer", "acct_seller", "9500.00", "USD")
	if _, err := svc.Fund(ctx, id, "acct_buyer"); err == nil {
		t.Fatal("expected gateway error")
	}

	tx, _ := svc.Get(ctx, id)
	if tx.Status != StatusPending {
		t.Errorf("failed hold must leave escrow pending, got %s", tx.Status)
	}
	if tx.Commission != "" {
		t.Errorf("no commission without funding, got %s", tx.Commission)
	}
}

func TestEscrow_ReleaseMarksListingSold(t *testing.T) {
	svc, gw, marker, _ := fixture(t)
	ctx := context.Background()
	tx := openFunded(t, svc)

	released, err := svc.Release(ctx, tx.ID, "acct_seller")
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if released.Status != StatusReleased {
		t.Errorf("expected released, got %s", released.Status)
	}
	if released.ReleasedAt == nil {
		t.Error("expected release stamp")
	}
	if !gw.released[tx.PaymentRef] {
		t.Error("expected gateway capture")
	}
	if len(marker.sold) != 1 || marker.sold[0] != "lst_1" {
		t.Errorf("expected listing marked sold, got %v", marker.sold)
	}

	// A second release is structurally impossible.
	if _, err := svc.Release(ctx, tx.ID, "acct_seller"); err != ErrAlreadyResolved {
		t.Errorf("expected ErrAlreadyResolved, got %v", err)
	}
}

func TestEscrow_RefundLeavesListing(t *testing.T) {
	svc, gw, marker, notifier := fixture(t)
	ctx := context.Background()
	tx := openFunded(t, svc)

	refunded, err := svc.Refund(ctx, tx.ID, "acct_seller")
	if err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	if refunded.Status != StatusRefunded {
		t.Errorf("expected refunded, got %s", refunded.Status)
	}
	if !gw.refunded[tx.PaymentRef] {
		t.Error("expected gateway refund")
	}
	// The listing stays on the market after a refund.
	if len(marker.sold) != 0 {
		t.Errorf("refund must not mark the listing sold, got %v", marker.sold)
	}
	if notifier.calls[notify.TypePaymentRefunded] != 1 {
		t.Error("expected buyer notified of refund")
	}
}

func TestEscrow_ReleaseOnlySeller(t *testing.T) {
	svc, _, _, _ := fixture(t)
	ctx := context.Background()
	tx := openFunded(t, svc)

	if _, err := svc.Release(ctx, tx.ID, "acct_buyer"); err != ErrUnauthorized {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestEscrow_DisputeAndResolve(t *testing.T) {
	svc, gw, _, _ := fixture(t)
	ctx := context.Background()
	tx := openFunded(t, svc)

	disputed, err := svc.FlagDispute(ctx, tx.ID, "acct_buyer", "item not as described")
	if err != nil {
		t.Fatalf("FlagDispute failed: %v", err)
	}
	if disputed.Status != StatusDisputed {
		t.Errorf("expected disputed, got %s", disputed.Status)
	}
	if disputed.DisputeReason != "item not as described" {
		t.Errorf("expected dispute reason stored, got %q", disputed.DisputeReason)
	}

	// Direct release is blocked while disputed.
	if _, err := svc.Release(ctx, tx.ID, "acct_seller"); err != ErrInvalidStatus {
		t.Errorf("expected ErrInvalidStatus releasing disputed escrow, got %v", err)
	}

	resolved, err := svc.Resolve(ctx, tx.ID, DecisionRefund, "admin_1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Status != StatusRefunded {
		t.Errorf("expected refunded, got %s", resolved.Status)
	}
	if resolved.ResolvedBy != "admin_1" {
		t.Errorf("expected arbiter recorded, got %s", resolved.ResolvedBy)
	}
	if !gw.refunded[tx.PaymentRef] {
		t.Error("expected gateway refund")
	}

	// Exactly-once settlement.
	if _, err := svc.Resolve(ctx, tx.ID, DecisionRelease, "admin_2"); err != ErrAlreadyResolved {
		t.Errorf("expected ErrAlreadyResolved, got %v", err)
	}
}

func TestEscrow_ResolveRequiresDispute(t *testing.T) {
	svc, _, _, _ := fixture(t)
	ctx := context.Background()
	tx := openFunded(t, svc)

	if _, err := svc.Resolve(ctx, tx.ID, DecisionRelease, "admin_1"); err != ErrInvalidStatus {
		t.Errorf("expected ErrInvalidStatus resolving undisputed escrow, got %v", err)
	}
}

func TestEscrow_ResolveBadDecision(t *testing.T) {
	svc, _, _, _ := fixture(t)

	if _, err := svc.Resolve(context.Background(), "esc_x", Decision("split"), "admin_1"); err != ErrBadDecision {
		t.Errorf("expected ErrBadDecision, got %v", err)
	}
}

func TestEscrow_ResolveGatewayFailureStaysDisputed(t *testing.T) {
	svc, gw, _, _ := fixture(t)
	ctx := context.Background()
	tx := openFunded(t, svc)
	if _, err := svc.FlagDispute(ctx, tx.ID, "acct_buyer", "reason"); err != nil {
		t.Fatal(err)
	}

	gw.releaseErr = errors.New("gateway timeout")
	if _, err := svc.Resolve(ctx, tx.ID, DecisionRelease, "admin_1"); err == nil {
		t.Fatal("expected gateway error")
	}

	got, _ := svc.Get(ctx, tx.ID)
	if got.Status != StatusDisputed {
		t.Errorf("gateway failure must leave escrow disputed, got %s", got.Status)
	}

	// Manual retry succeeds once the gateway recovers.
	gw.releaseErr = nil
	resolved, err := svc.Resolve(ctx, tx.ID, DecisionRelease, "admin_1")
	if err != nil {
		t.Fatalf("retry Resolve failed: %v", err)
	}
	if resolved.Status != StatusReleased {
		t.Errorf("expected released, got %s", resolved.Status)
	}
}

func TestEscrow_DisputeRequiresParty(t *testing.T) {
	svc, _, _, _ := fixture(t)
	ctx := context.Background()
	tx := openFunded(t, svc)

	if _, err := svc.FlagDispute(ctx, tx.ID, "acct_stranger", "reason"); err != ErrUnauthorized {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestEscrow_HasActiveForListing(t *testing.T) {
	svc, _, _, _ := fixture(t)
	ctx := context.Background()

	busy, err := svc.HasActiveForListing(ctx, "lst_1")
	if err != nil {
		t.Fatal(err)
	}
	if busy {
		t.Error("no escrow yet")
	}

	tx := openFunded(t, svc)
	busy, _ = svc.HasActiveForListing(ctx, "lst_1")
	if !busy {
		t.Error("funded escrow counts as live")
	}

	if _, err := svc.Refund(ctx, tx.ID, "acct_seller"); err != nil {
		t.Fatal(err)
	}
	busy, _ = svc.HasActiveForListing(ctx, "lst_1")
	if busy {
		t.Error("terminal escrow frees the listing")
	}
}
