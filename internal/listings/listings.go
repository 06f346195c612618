// Package listings governs a sale listing's lifecycle on the marketplace.
//
// Flow:
//  1. Seller drafts a listing → status: draft
//  2. Seller submits for review → status: pending_approval
//  3. Compliance approves → status: approved (or rejected)
//  4. Listing fee confirmed paid → status: active, offers may be placed
//  5. Escrow released → status: sold; or cancelled by seller / age sweep
//
// Both the API layer and the scheduler drive transitions through this
// package, so the precondition checks live here and nowhere else.
package listings

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mbd888/assetmarket/internal/idgen"
	"github.com/mbd888/assetmarket/internal/notify"
)

var (
	ErrListingNotFound = errors.New("listing not found")
	ErrInvalidStatus   = errors.New("invalid listing status for this operation")
	ErrUnauthorized    = errors.New("not authorized for this listing operation")
	ErrFeeUnpaid       = errors.New("listing fee has not been paid")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrHasActiveEscrow = errors.New("listing has a live escrow")
)

// Status represents the state of a listing.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusActive          Status = "active"
	StatusSold            Status = "sold"
	StatusCancelled       Status = "cancelled"
)

// Listing represents a seller's offer to sell a custodial asset.
type Listing struct {
	ID             string     `json:"id"`
	AccountID      string     `json:"accountId"` // seller
	AssetID        string     `json:"assetId"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	AskingPrice    string     `json:"askingPrice"`
	Currency       string     `json:"currency"`
	ListingFee     string     `json:"listingFee"`
	ListingFeePaid bool       `json:"listingFeePaid"`
	Status         Status     `json:"status"`
	ApprovedBy     string     `json:"approvedBy,omitempty"`
	ApprovedAt     *time.Time `json:"approvedAt,omitempty"`
	RejectReason   string     `json:"rejectReason,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// IsTerminal returns true if the listing is in a final state.
func (l *Listing) IsTerminal() bool {
	switch l.Status {
	case StatusSold, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Live reports whether the listing accepts offers.
func (l *Listing) Live() bool {
	return l.Status == StatusActive
}

// Store persists listing data.
type Store interface {
	Create(ctx context.Context, l *Listing) error
	Get(ctx context.Context, id string) (*Listing, error)
	Update(ctx context.Context, l *Listing) error
	ListByAccount(ctx context.Context, accountID string, status string, limit int) ([]*Listing, error)
	ListLive(ctx context.Context, limit int) ([]*Listing, error)
	SearchLive(ctx context.Context, query string, limit int) ([]*Listing, error)
	ListActiveOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*Listing, error)
}

// SaleGuard reports whether a listing has a live escrow attached. A listing
// with a live escrow cannot be cancelled or expired out from under its buyer.
type SaleGuard interface {
	HasActiveForListing(ctx context.Context, listingID string) (bool, error)
}

// Notifier delivers account-addressed notifications (best-effort).
type Notifier interface {
	Notify(ctx context.Context, accountID string, typ notify.Type, title, message string)
}

// FeeCollector charges the listing fee against the seller's payment method.
type FeeCollector interface {
	Hold(ctx context.Context, amount, currency, buyerRef string) (string, error)
	Release(ctx context.Context, externalRef string) error
}

// CreateRequest contains the parameters for drafting a listing.
type CreateRequest struct {
	AccountID   string `json:"accountId" binding:"required"`
	AssetID     string `json:"assetId" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	AskingPrice string `json:"askingPrice" binding:"required"`
	Currency    string `json:"currency"`
}

// UpdateRequest contains the editable fields of a draft listing. Empty
// fields are left unchanged.
type UpdateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	AskingPrice string `json:"askingPrice"`
}

// Service implements listing business logic.
type Service struct {
	store    Store
	notifier Notifier
	fees     FeeCollector
	guard    SaleGuard
	feePct   float64
	maxAge   time.Duration
	locks    sync.Map // per-listing ID locks
}

// NewService creates a new listing service.
func NewService(store Store, notifier Notifier, feePct float64, maxAge time.Duration) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		feePct:   feePct,
		maxAge:   maxAge,
	}
}

// WithFeeCollector adds a payment gateway for listing fee collection.
func (s *Service) WithFeeCollector(f FeeCollector) *Service {
	s.fees = f
	return s
}

// WithSaleGuard adds the escrow-presence check that blocks cancelling or
// expiring a listing whose sale is in flight.
func (s *Service) WithSaleGuard(g SaleGuard) *Service {
	s.guard = g
	return s
}

// listingLock returns a mutex for the given listing ID.
func (s *Service) listingLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func generateListingID() string {
	return idgen.WithPrefix("lst_")
}
