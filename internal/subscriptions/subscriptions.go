// Package subscriptions tracks account plans and keeps the local view in
// sync with the external billing processor.
//
// Flow:
//  1. Account subscribes to a paid plan → local row created with the
//     billing processor's subscription reference → status: active
//  2. Daily reconciliation queries the processor for every locally-active
//     paid subscription; the processor's answer is authoritative
//  3. Processor says active → period bounds refreshed
//     Processor says past_due → status: past_due (access retained)
//     Processor says cancelled or unknown → status: expired, account notified
//
// The local table is a cache. Disagreements always resolve in the billing
// processor's favor.
package subscriptions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mbd888/assetmarket/internal/idgen"
	"github.com/mbd888/assetmarket/internal/notify"
	"github.com/mbd888/assetmarket/internal/payments"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInvalidStatus        = errors.New("invalid subscription status for this operation")
	ErrInvalidPlan          = errors.New("unknown subscription plan")
	ErrAlreadySubscribed    = errors.New("account already has an active subscription")
)

// Plan identifies the subscription tier.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanMonthly Plan = "monthly"
	PlanAnnual  Plan = "annual"
)

// Paid reports whether the plan is billed externally.
func (p Plan) Paid() bool {
	return p == PlanMonthly || p == PlanAnnual
}

// Status represents the local view of a subscription.
type Status string

const (
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Subscription is the local cache row for one account's plan.
type Subscription struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"accountId"`
	Plan        Plan      `json:"plan"`
	Status      Status    `json:"status"`
	BillingRef  string    `json:"billingRef,omitempty"` // external processor reference
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Store persists subscription data.
type Store interface {
	Create(ctx context.Context, s *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	Update(ctx context.Context, s *Subscription) error
	GetActiveByAccount(ctx context.Context, accountID string) (*Subscription, error)
	// ListDueForReconcile returns paid active/past-due subscriptions whose
	// current period ended before the given time.
	ListDueForReconcile(ctx context.Context, before time.Time, limit int) ([]*Subscription, error)
}

// Notifier delivers account-addressed notifications (best-effort).
type Notifier interface {
	Notify(ctx context.Context, accountID string, typ notify.Type, title, message string)
}

// Service implements subscription business logic.
type Service struct {
	store    Store
	billing  payments.BillingProcessor
	notifier Notifier
	locks    sync.Map // per-subscription ID locks
}

// NewService creates a new subscription service.
func NewService(store Store, billing payments.BillingProcessor, notifier Notifier) *Service {
	return &Service{
		store:    store,
		billing:  billing,
		notifier: notifier,
	}
}

// subLock returns a mutex for the given subscription ID.
func (s *Service) subLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func generateSubscriptionID() string {
	return idgen.WithPrefix("sub_")
}
