package subscriptions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mbd888/assetmarket/internal/notify"
	"github.com/mbd888/assetmarket/internal/payments"
)

// mockBilling serves scripted processor answers per billing reference.
type mockBilling struct {
	mu     sync.Mutex
	states map[string]*payments.SubscriptionState
	errs   map[string]error
	calls  int
}

func (m *mockBilling) GetSubscription(_ context.Context, ref string) (*payments.SubscriptionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.errs[ref]; err != nil {
		return nil, err
	}
	if st, ok := m.states[ref]; ok {
		return st, nil
	}
	return &payments.SubscriptionState{Status: payments.BillingNotFound}, nil
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

func fixture(t *testing.T) (*Service, *MemoryStore, *mockBilling, *mockNotifier) {
	t.Helper()
	store := NewMemoryStore()
	billing := &mockBilling{
		states: make(map[string]*payments.SubscriptionState),
		errs:   make(map[string]error),
	}
	notifier := &mockNotifier{}
	return NewService(store, billing, notifier), store, billing, notifier
}

func lapsedPaidSub(t *testing.T, svc *Service, account, ref string) *Subscription {
	t.Helper()
	now := time.Now().UTC()
	sub, err := svc.Subscribe(context.Background(), account, PlanMonthly, ref,
		now.Add(-31*24*time.Hour), now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	return sub
}

func TestSubscribe(t *testing.T) {
	svc, _, _, _ := fixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sub, err := svc.Subscribe(ctx, "acct_1", PlanMonthly, "bil_1", now, now.Add(30*24*time.Hour))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if sub.Status != StatusActive {
		t.Errorf("expected active, got %s", sub.Status)
	}

	// One live subscription per account.
	if _, err := svc.Subscribe(ctx, "acct_1", PlanAnnual, "bil_2", now, now.Add(365*24*time.Hour)); err != ErrAlreadySubscribed {
		t.Errorf("expected ErrAlreadySubscribed, got %v", err)
	}

	if _, err := svc.Subscribe(ctx, "acct_2", Plan("platinum"), "", now, now); err != ErrInvalidPlan {
		t.Errorf("expected ErrInvalidPlan, got %v", err)
	}
}

func TestIsPremium(t *testing.T) {
	svc, store, _, _ := fixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	premium, err := svc.IsPremium(ctx, "acct_none")
	if err != nil || premium {
		t.Errorf("no subscription should be non-premium, got %v %v", premium, err)
	}

	svc.Subscribe(ctx, "acct_free", PlanFree, "", now, now.Add(365*24*time.Hour))
	premium, _ = svc.IsPremium(ctx, "acct_free")
	if premium {
		t.Error("free plan is not premium")
	}

	sub, _ := svc.Subscribe(ctx, "acct_paid", PlanMonthly, "bil_1", now, now.Add(30*24*time.Hour))
	premium, _ = svc.IsPremium(ctx, "acct_paid")
	if !premium {
		t.Error("active paid plan is premium")
	}

	// Past-due keeps benefits until reconciliation expires it.
	sub.Status = StatusPastDue
	if err := store.Update(ctx, sub); err != nil {
		t.Fatal(err)
	}
	premium, _ = svc.IsPremium(ctx, "acct_paid")
	if !premium {
		t.Error("past-due paid plan keeps premium benefits")
	}
}

func TestCancel(t *testing.T) {
	svc, _, _, _ := fixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sub, _ := svc.Subscribe(ctx, "acct_1", PlanMonthly, "bil_1", now, now.Add(30*24*time.Hour))

	if _, err := svc.Cancel(ctx, sub.ID, "acct_other"); err != ErrSubscriptionNotFound {
		t.Errorf("expected not-found for foreign cancel, got %v", err)
	}

	cancelled, err := svc.Cancel(ctx, sub.ID, "acct_1")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}
	if _, err := svc.Cancel(ctx, sub.ID, "acct_1"); err != ErrInvalidStatus {
		t.Errorf("expected ErrInvalidStatus on repeat cancel, got %v", err)
	}
}

func TestReconcile_ActiveRefreshesBounds(t *testing.T) {
	svc, _, billing, _ := fixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	lapsedPaidSub(t, svc, "acct_1", "bil_1")
	billing.states["bil_1"] = &payments.SubscriptionState{
		Status:      payments.BillingActive,
		PeriodStart: now,
		PeriodEnd:   now.Add(30 * 24 * time.Hour),
	}

	result, err := svc.ReconcileSweep(ctx, now)
	if err != nil {
		t.Fatalf("ReconcileSweep failed: %v", err)
	}
	if result.Processed != 1 {
		t.Errorf("expected 1 processed, got %d", result.Processed)
	}

	got, _ := svc.GetByAccount(ctx, "acct_1")
	if got.Status != StatusActive {
		t.Errorf("expected active, got %s", got.Status)
	}
	// Bounds refreshed to the processor's answer.
	if !got.PeriodEnd.Equal(now.Add(30 * 24 * time.Hour)) {
		t.Errorf("expected refreshed period end, got %v", got.PeriodEnd)
	}
}

func TestReconcile_PastDue(t *testing.T) {
	svc, _, billing, notifier := fixture(t)
	ctx := context.Background()

	lapsedPaidSub(t, svc, "acct_1", "bil_1")
	billing.states["bil_1"] = &payments.SubscriptionState{Status: payments.BillingPastDue}

	if _, err := svc.ReconcileSweep(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("ReconcileSweep failed: %v", err)
	}

	got, _ := svc.GetByAccount(ctx, "acct_1")
	if got.Status != StatusPastDue {
		t.Errorf("expected past_due, got %s", got.Status)
	}
	if notifier.calls[notify.TypeSubscriptionExpired] != 0 {
		t.Error("past-due must not notify expiry")
	}
}

func TestReconcile_UnknownExpires(t *testing.T) {
	svc, _, _, notifier := fixture(t)
	ctx := context.Background()

	// The processor has no record of bil_1: local row expires.
	lapsedPaidSub(t, svc, "acct_1", "bil_1")

	if _, err := svc.ReconcileSweep(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("ReconcileSweep failed: %v", err)
	}

	if _, err := svc.GetByAccount(ctx, "acct_1"); err != ErrSubscriptionNotFound {
		t.Errorf("expired subscription should not resolve as current, got %v", err)
	}
	if notifier.calls[notify.TypeSubscriptionExpired] != 1 {
		t.Error("expected one expiry notification")
	}
}

func TestReconcile_OnlyLapsedRows(t *testing.T) {
	svc, _, billing, _ := fixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Period still running: no reconcile, no processor call.
	svc.Subscribe(ctx, "acct_current", PlanMonthly, "bil_cur", now, now.Add(20*24*time.Hour))
	// Free plan never reconciles even if bounds lapse.
	svc.Subscribe(ctx, "acct_free", PlanFree, "", now.Add(-60*24*time.Hour), now.Add(-30*24*time.Hour))

	result, err := svc.ReconcileSweep(ctx, now)
	if err != nil {
		t.Fatalf("ReconcileSweep failed: %v", err)
	}
	if result.Processed != 0 {
		t.Errorf("expected no rows due, got %d", result.Processed)
	}
	if billing.calls != 0 {
		t.Errorf("expected no processor queries, got %d", billing.calls)
	}
}

func TestReconcile_ProcessorErrorLeavesRow(t *testing.T) {
	svc, _, billing, _ := fixture(t)
	ctx := context.Background()

	lapsedPaidSub(t, svc, "acct_1", "bil_1")
	billing.errs["bil_1"] = errors.New("processor unavailable")

	result, err := svc.ReconcileSweep(ctx, time.Now().UTC())
	if err == nil {
		t.Fatal("expected partial-failure summary")
	}
	if len(result.Failures) != 1 {
		t.Errorf("expected 1 row failure, got %d", len(result.Failures))
	}

	// Row is untouched for the next run.
	got, gerr := svc.GetByAccount(ctx, "acct_1")
	if gerr != nil {
		t.Fatal(gerr)
	}
	if got.Status != StatusActive {
		t.Errorf("failed reconcile must leave the row, got %s", got.Status)
	}
}
