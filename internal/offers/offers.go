// Package offers governs a buyer's offer against a marketplace listing.
//
// Flow:
//  1. Buyer places an offer on an active listing → status: pending
//  2. Seller accepts → offer accepted + escrow opened in one step
//     (sibling pending offers are left untouched; rejecting them is an
//     explicit seller action, never implicit)
//  3. Seller rejects or counters; buyer may withdraw
//  4. The hourly sweep expires pending offers past their deadline and
//     warns buyers once when expiry is near
package offers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mbd888/assetmarket/internal/idgen"
	"github.com/mbd888/assetmarket/internal/listings"
	"github.com/mbd888/assetmarket/internal/notify"
)

var (
	ErrOfferNotFound    = errors.New("offer not found")
	ErrInvalidStatus    = errors.New("invalid offer status for this operation")
	ErrUnauthorized     = errors.New("not authorized for this offer operation")
	ErrListingNotActive = errors.New("listing is not accepting offers")
	ErrOfferExpired     = errors.New("offer has expired")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrSelfOffer        = errors.New("seller cannot offer on own listing")
)

// Status represents the state of an offer.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCountered Status = "countered"
	StatusExpired   Status = "expired"
	StatusWithdrawn Status = "withdrawn"
)

// DefaultExpiry is how long an offer stands when no deadline is given.
const DefaultExpiry = 48 * time.Hour

// Offer represents a buyer's proposed purchase price against a listing.
type Offer struct {
	ID        string     `json:"id"`
	ListingID string     `json:"listingId"`
	AccountID string     `json:"accountId"` // buyer
	Amount    string     `json:"amount"`
	Currency  string     `json:"currency"`
	Status    Status     `json:"status"`
	Message   string     `json:"message,omitempty"`
	ExpiresAt time.Time  `json:"expiresAt"`
	WarnedAt  *time.Time `json:"warnedAt,omitempty"` // expiring-soon dedupe marker
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// IsTerminal returns true if the offer is in a final state.
func (o *Offer) IsTerminal() bool {
	return o.Status != StatusPending
}

// ExpiredAt reports whether the offer's deadline has passed at the given time.
func (o *Offer) ExpiredAt(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && o.ExpiresAt.Before(now)
}

// Store persists offer data.
type Store interface {
	Create(ctx context.Context, o *Offer) error
	Get(ctx context.Context, id string) (*Offer, error)
	Update(ctx context.Context, o *Offer) error
	ListByListing(ctx context.Context, listingID string, status string, limit int) ([]*Offer, error)
	ListByAccount(ctx context.Context, accountID string, status string, limit int) ([]*Offer, error)
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Offer, error)
	ListExpiringUnwarned(ctx context.Context, from, to time.Time, limit int) ([]*Offer, error)
}

// ListingAccess exposes the listing facts offer transitions depend on.
// WhileLive pins the listing in its live state for the duration of fn,
// serializing accept against listing-side transitions like Cancel.
type ListingAccess interface {
	Get(ctx context.Context, id string) (*listings.Listing, error)
	WhileLive(ctx context.Context, id string, fn func(*listings.Listing) error) error
}

// EscrowOpener creates the escrow record when an offer is accepted, and
// reports whether a listing already has a live escrow. The escrow-presence
// check is what makes a second accept on the same listing fail cleanly.
type EscrowOpener interface {
	Open(ctx context.Context, listingID, offerID, buyerID, sellerID, amount, currency string) (string, error)
	HasActiveForListing(ctx context.Context, listingID string) (bool, error)
}

// Notifier delivers account-addressed notifications (best-effort).
type Notifier interface {
	Notify(ctx context.Context, accountID string, typ notify.Type, title, message string)
}

// CreateRequest contains the parameters for placing an offer.
type CreateRequest struct {
	ListingID string `json:"listingId" binding:"required"`
	AccountID string `json:"accountId" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
	Message   string `json:"message"`
	ExpiresIn string `json:"expiresIn"` // duration string, e.g. "48h"
}

// CounterRequest contains the parameters for countering an offer.
type CounterRequest struct {
	Amount  string `json:"amount" binding:"required"`
	Message string `json:"message"`
}

// Service implements offer business logic.
type Service struct {
	store      Store
	listings   ListingAccess
	escrows    EscrowOpener
	notifier   Notifier
	warnWindow time.Duration
	locks      sync.Map // per-offer ID locks
}

// NewService creates a new offer service.
func NewService(store Store, lr ListingAccess, eo EscrowOpener, notifier Notifier, warnWindow time.Duration) *Service {
	if warnWindow <= 0 {
		warnWindow = 24 * time.Hour
	}
	return &Service{
		store:      store,
		listings:   lr,
		escrows:    eo,
		notifier:   notifier,
		warnWindow: warnWindow,
	}
}

// lock returns a mutex for the given key.
func (s *Service) lock(key string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func generateOfferID() string {
	return idgen.WithPrefix("off_")
}
