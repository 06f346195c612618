// Package notify delivers account-addressed notifications.
//
// Delivery is at-least-once and fire-and-forget from the caller's
// perspective: a notification failure is logged and counted, never
// propagated. State machines therefore persist their transition before
// notifying, so a failed delivery can never roll a transition back.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/assetmarket/internal/idgen"
)

var ErrNotificationNotFound = errors.New("notification not found")

var (
	notifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assetmarket",
		Subsystem: "notify",
		Name:      "emit_total",
		Help:      "Total notification emit attempts by type.",
	}, []string{"type"})

	notifyErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assetmarket",
		Subsystem: "notify",
		Name:      "emit_errors_total",
		Help:      "Total notification emit failures by type.",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(notifyTotal, notifyErrors)
}

// Type classifies a notification.
type Type string

const (
	TypeOfferReceived       Type = "offer_received"
	TypeOfferAccepted       Type = "offer_accepted"
	TypeOfferExpired        Type = "offer_expired"
	TypeOfferExpiring       Type = "offer_expiring"
	TypeListingApproved     Type = "listing_approved"
	TypeListingExpired      Type = "listing_expired"
	TypeListingSold         Type = "listing_sold"
	TypePaymentReceived     Type = "payment_received"
	TypePaymentRefunded     Type = "payment_refunded"
	TypeSubscriptionExpired Type = "subscription_expired"
	TypeTicketEscalated     Type = "ticket_escalated"
	TypeGeneral             Type = "general"
)

// Notification is a persisted, account-addressed message.
type Notification struct {
	ID        string     `json:"id"`
	AccountID string     `json:"accountId"`
	Type      Type       `json:"type"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Store persists notification rows.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*Notification, error)
	MarkRead(ctx context.Context, id, accountID string) error
}

// Pusher delivers a notification to any live subscriber (best-effort).
type Pusher interface {
	Push(accountID string, n *Notification)
}

// Service persists and pushes notifications.
type Service struct {
	store  Store
	pusher Pusher
	logger *slog.Logger
}

// NewService creates a notification service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// WithPusher adds a realtime pusher for live delivery.
func (s *Service) WithPusher(p Pusher) *Service {
	s.pusher = p
	return s
}

// Notify persists and pushes a notification. Errors are logged, never
// returned: callers must be able to treat delivery as fire-and-forget.
func (s *Service) Notify(ctx context.Context, accountID string, typ Type, title, message string) {
	notifyTotal.WithLabelValues(string(typ)).Inc()

	n := &Notification{
		ID:        idgen.WithPrefix("ntf_"),
		AccountID: accountID,
		Type:      typ,
		Title:     title,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.Create(ctx, n); err != nil {
		notifyErrors.WithLabelValues(string(typ)).Inc()
		s.logger.Warn("notification delivery failed",
			"account", accountID, "type", typ, "error", err)
		return
	}

	if s.pusher != nil {
		s.pusher.Push(accountID, n)
	}
}

// List returns recent notifications for an account.
func (s *Service) List(ctx context.Context, accountID string, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByAccount(ctx, accountID, limit)
}

// MarkRead marks a notification as read by its owning account.
func (s *Service) MarkRead(ctx context.Context, id, accountID string) error {
	return s.store.MarkRead(ctx, id, accountID)
}
