// Package escrow provides custodial holding of funds between offer
// acceptance and final release or refund.
//
// Flow:
//  1. Offer accepted → escrow created, no funds moved → status: pending
//  2. Buyer's payment authorization succeeds → status: funded
//     (commission is computed here, once, and never recomputed)
//  3. Seller releases → funds captured, listing marked sold → released
//  4. Either party disputes a funded escrow → disputed
//  5. An arbiter resolves a dispute with release or refund
//
// Funds-moving transitions are written only after the payment gateway
// confirms. A gateway failure leaves the escrow in its prior state for
// manual retry; it is never absorbed into a successful-looking state.
package escrow

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
	ErrEscrowNotFound  = errors.New("escrow not found")
	ErrInvalidStatus   = errors.New("invalid escrow status for this operation")
	ErrUnauthorized    = errors.New("not authorized for this escrow operation")
	ErrAlreadyResolved = errors.New("escrow already resolved")
	ErrBadDecision     = errors.New("resolution decision must be release or refund")
)

// Status represents the state of an escrow transaction.
type Status string

const (
	StatusPending  Status = "pending"  // created on offer acceptance, unfunded
	StatusFunded   Status = "funded"   // buyer's payment authorized and held
	StatusReleased Status = "released" // funds captured for the seller
	StatusRefunded Status = "refunded" // funds returned to the buyer
	StatusDisputed Status = "disputed" // held pending arbitration
)

// Decision is an arbiter's resolution of a disputed escrow.
type Decision string

const (
	DecisionRelease Decision = "release"
	DecisionRefund  Decision = "refund"
)

// Transaction represents an escrow holding for one accepted offer.
// Linked 1:1 to the accepted offer and to its listing.
type Transaction struct {
	ID            string     `json:"id"`
	ListingID     string     `json:"listingId"`
	OfferID       string     `json:"offerId"`
	BuyerID       string     `json:"buyerId"`
	SellerID      string     `json:"sellerId"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	Commission    string     `json:"commission,omitempty"`
	Status        Status     `json:"status"`
	PaymentRef    string     `json:"paymentRef,omitempty"` // payment intent reference
	DisputeReason string     `json:"disputeReason,omitempty"`
	ResolvedBy    string     `json:"resolvedBy,omitempty"`
	ReleasedAt    *time.Time `json:"releasedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// IsTerminal returns true if the escrow is in a final state.
func (t *Transaction) IsTerminal() bool {
	switch t.Status {
	case StatusReleased, StatusRefunded:
		return true
	}
	return false
}

// Store persists escrow data.
type Store interface {
	Create(ctx context.Context, t *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	Update(ctx context.Context, t *Transaction) error
	GetByOffer(ctx context.Context, offerID string) (*Transaction, error)
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*Transaction, error)
	HasActiveForListing(ctx context.Context, listingID string) (bool, error)
}

// ListingMarker marks a listing sold once its escrow releases.
type ListingMarker interface {
	MarkSold(ctx context.Context, listingID string) error
}

// PlanChecker reports whether an account is on a premium plan, which
// selects the reduced commission rate.
type PlanChecker interface {
	IsPremium(ctx context.Context, accountID string) (bool, error)
}

// Notifier delivers account-addressed notifications (best-effort).
type Notifier interface {
	Notify(ctx context.Context, accountID string, typ notify.Type, title, message string)
}

// CommissionRates holds the fee schedule applied at funding time.
type CommissionRates struct {
	Standard float64
	Premium  float64
}

// Service implements escrow business logic.
type Service struct {
	store    Store
	gateway  payments.Gateway
	marker   ListingMarker
	notifier Notifier
	plans    PlanChecker
	rates    CommissionRates
	locks    sync.Map // per-escrow ID locks
}

// NewService creates a new escrow service.
func NewService(store Store, gateway payments.Gateway, marker ListingMarker, notifier Notifier, rates CommissionRates) *Service {
	return &Service{
		store:    store,
		gateway:  gateway,
		marker:   marker,
		notifier: notifier,
		rates:    rates,
	}
}

// WithPlanChecker adds premium-plan detection for the commission schedule.
func (s *Service) WithPlanChecker(p PlanChecker) *Service {
	s.plans = p
	return s
}

// escrowLock returns a mutex for the given escrow ID.
func (s *Service) escrowLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func generateEscrowID() string {
	return idgen.WithPrefix("esc_")
}
