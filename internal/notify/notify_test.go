package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	dto "github.com/prometheus/client_model/go"
)

// failingStore rejects every create.
type failingStore struct{}

func (failingStore) Create(context.Context, *Notification) error {
	return errors.New("store unavailable")
}
func (failingStore) ListByAccount(context.Context, string, int) ([]*Notification, error) {
	return nil, nil
}
func (failingStore) MarkRead(context.Context, string, string) error { return nil }

// mockPusher records pushed notifications.
type mockPusher struct {
	mu     sync.Mutex
	pushed []*Notification
}

func (m *mockPusher) Push(_ string, n *Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushed = append(m.pushed, n)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func counterValue(t *testing.T, typ Type) float64 {
	t.Helper()
	c, err := notifyTotal.GetMetricWithLabelValues(string(typ))
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("metric write failed: %v", err)
	}
	return m.Counter.GetValue()
}

func TestNotify_PersistsAndPushes(t *testing.T) {
	store := NewMemoryStore()
	pusher := &mockPusher{}
	svc := NewService(store, testLogger()).WithPusher(pusher)
	ctx := context.Background()

	svc.Notify(ctx, "acct_1", TypeOfferReceived, "New Offer", "You received an offer")

	list, err := svc.List(ctx, "acct_1", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(list))
	}
	if list[0].Type != TypeOfferReceived || list[0].ReadAt != nil {
		t.Errorf("unexpected notification: %+v", list[0])
	}
	if len(pusher.pushed) != 1 {
		t.Errorf("expected 1 push, got %d", len(pusher.pushed))
	}
}

// Delivery failures are absorbed: the caller's transition already committed.
func TestNotify_StoreFailureNotPropagated(t *testing.T) {
	svc := NewService(failingStore{}, testLogger()).WithPusher(&mockPusher{})

	before := counterValue(t, TypeGeneral)
	svc.Notify(context.Background(), "acct_1", TypeGeneral, "t", "m")

	if got := counterValue(t, TypeGeneral); got != before+1 {
		t.Errorf("expected emit counter to advance, got %v -> %v", before, got)
	}
}

func TestMarkRead(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, testLogger())
	ctx := context.Background()

	svc.Notify(ctx, "acct_1", TypeGeneral, "t", "m")
	list, _ := svc.List(ctx, "acct_1", 0)
	if len(list) != 1 {
		t.Fatal("expected one notification")
	}

	if err := svc.MarkRead(ctx, list[0].ID, "acct_other"); err != ErrNotificationNotFound {
		t.Errorf("foreign account must not mark read, got %v", err)
	}
	if err := svc.MarkRead(ctx, list[0].ID, "acct_1"); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}

	list, _ = svc.List(ctx, "acct_1", 0)
	if list[0].ReadAt == nil {
		t.Error("expected read stamp")
	}
}
