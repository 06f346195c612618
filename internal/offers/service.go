package offers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/assetmarket/internal/listings"
	"github.com/mbd888/assetmarket/internal/money"
	"github.com/mbd888/assetmarket/internal/notify"
	"github.com/mbd888/assetmarket/internal/sweep"
)

// Create places a new offer on an active listing.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Offer, error) {
	if !money.Valid(req.Amount) {
		return nil, ErrInvalidAmount
	}

	listing, err := s.listings.Get(ctx, req.ListingID)
	if err != nil {
		return nil, err
	}
	if !listing.Live() {
		return nil, ErrListingNotActive
	}
	if listing.AccountID == req.AccountID {
		return nil, ErrSelfOffer
	}

	expiry := DefaultExpiry
	if req.ExpiresIn != "" {
		if d, err := time.ParseDuration(req.ExpiresIn); err == nil && d > 0 {
			expiry = d
		}
	}

	now := time.Now().UTC()
	offer := &Offer{
		ID:        generateOfferID(),
		ListingID: req.ListingID,
		AccountID: req.AccountID,
		Amount:    req.Amount,
		Currency:  listing.Currency,
		Status:    StatusPending,
		Message:   req.Message,
		ExpiresAt: now.Add(expiry),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Create(ctx, offer); err != nil {
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}

	s.notifier.Notify(ctx, listing.AccountID, notify.TypeOfferReceived,
		"New Offer", fmt.Sprintf("You received an offer of %s %s on %q",
			offer.Amount, offer.Currency, listing.Title))

	return offer, nil
}

// Accept accepts a pending offer on behalf of the listing owner and opens
// the escrow in the same step. The offer's own lock serializes this against
// withdraw, reject, counter and expiry of the same offer. The listing lock,
// held through WhileLive, serializes it against listing cancellation and
// against accepts of sibling offers: of two concurrent accepts on the same
// listing, exactly one succeeds and the loser observes the live escrow.
//
// Sibling pending offers are deliberately left untouched. A seller who
// wants back-up offers keeps them; rejecting them is a separate action.
func (s *Service) Accept(ctx context.Context, id, callerAccount string) (*Offer, string, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	offer, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if offer.Status != StatusPending {
		return nil, "", ErrInvalidStatus
	}
	if offer.ExpiredAt(time.Now()) {
		return nil, "", ErrOfferExpired
	}

	var escrowID, listingTitle string
	err = s.listings.WhileLive(ctx, offer.ListingID, func(listing *listings.Listing) error {
		if listing.AccountID != callerAccount {
			return ErrUnauthorized
		}

		// At most one live escrow per listing: this is the check that makes
		// a second accept fail rather than double-selling the asset.
		busy, err := s.escrows.HasActiveForListing(ctx, listing.ID)
		if err != nil {
			return fmt.Errorf("failed to check listing escrow: %w", err)
		}
		if busy {
			return ErrInvalidStatus
		}

		escrowID, err = s.escrows.Open(ctx, listing.ID, offer.ID, offer.AccountID,
			listing.AccountID, offer.Amount, offer.Currency)
		if err != nil {
			return fmt.Errorf("failed to open escrow: %w", err)
		}

		offer.Status = StatusAccepted
		offer.UpdatedAt = time.Now().UTC()

		if err := s.store.Update(ctx, offer); err != nil {
			// Escrow record exists but offer is still pending. The pending
			// escrow blocks further accepts, so no double-sale is possible;
			// flag for manual resolution rather than guessing a compensation.
			slog.Error("CRITICAL: escrow opened but offer status update failed",
				"offer", offer.ID, "escrow", escrowID, "error", err)
			return fmt.Errorf("failed to update offer after escrow open (requires manual resolution): %w", err)
		}
		listingTitle = listing.Title
		return nil
	})
	if err != nil {
		if errors.Is(err, listings.ErrInvalidStatus) {
			return nil, "", ErrListingNotActive
		}
		return nil, "", err
	}

	s.notifier.Notify(ctx, offer.AccountID, notify.TypeOfferAccepted,
		"Offer Accepted", fmt.Sprintf("Your offer of %s %s on %q was accepted",
			offer.Amount, offer.Currency, listingTitle))

	return offer, escrowID, nil
}

// Reject declines a pending offer on behalf of the listing owner.
func (s *Service) Reject(ctx context.Context, id, callerAccount string) (*Offer, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	offer, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	listing, err := s.listings.Get(ctx, offer.ListingID)
	if err != nil {
		return nil, err
	}
	if listing.AccountID != callerAccount {
		return nil, ErrUnauthorized
	}
	if offer.Status != StatusPending {
		return nil, ErrInvalidStatus
	}

	offer.Status = StatusRejected
	offer.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, offer); err != nil {
		return nil, fmt.Errorf("failed to update offer: %w", err)
	}
	return offer, nil
}

// Withdraw retracts a pending offer by its buyer.
func (s *Service) Withdraw(ctx context.Context, id, callerAccount string) (*Offer, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	offer, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if offer.AccountID != callerAccount {
		return nil, ErrUnauthorized
	}
	if offer.Status != StatusPending {
		return nil, ErrInvalidStatus
	}

	offer.Status = StatusWithdrawn
	offer.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, offer); err != nil {
		return nil, fmt.Errorf("failed to update offer: %w", err)
	}
	return offer, nil
}

// Counter marks a pending offer as countered and re-opens it as a fresh
// pending offer at the countered amount with a new deadline.
func (s *Service) Counter(ctx context.Context, id, callerAccount string, req CounterRequest) (*Offer, error) {
	if !money.Valid(req.Amount) {
		return nil, ErrInvalidAmount
	}

	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	offer, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	listing, err := s.listings.Get(ctx, offer.ListingID)
	if err != nil {
		return nil, err
	}
	if listing.AccountID != callerAccount {
		return nil, ErrUnauthorized
	}
	if offer.Status != StatusPending {
		return nil, ErrInvalidStatus
	}

	now := time.Now().UTC()
	offer.Status = StatusCountered
	offer.UpdatedAt = now
	if err := s.store.Update(ctx, offer); err != nil {
		return nil, fmt.Errorf("failed to update offer: %w", err)
	}

	counter := &Offer{
		ID:        generateOfferID(),
		ListingID: offer.ListingID,
		AccountID: offer.AccountID,
		Amount:    req.Amount,
		Currency:  offer.Currency,
		Status:    StatusPending,
		Message:   req.Message,
		ExpiresAt: now.Add(DefaultExpiry),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, counter); err != nil {
		return nil, fmt.Errorf("failed to create counter offer: %w", err)
	}

	s.notifier.Notify(ctx, offer.AccountID, notify.TypeOfferReceived,
		"Counter Offer", fmt.Sprintf("The seller countered with %s %s on %q",
			counter.Amount, counter.Currency, listing.Title))

	return counter, nil
}

// ExpireSweep expires all pending offers past their deadline, notifying the
// buyer and the listing's seller for each. Safe to re-run: offers already
// expired are not transitioned again and not re-notified, because the
// status check and the status write happen under the same per-offer lock.
func (s *Service) ExpireSweep(ctx context.Context, now time.Time) (*sweep.Result, error) {
	expired, err := s.store.ListExpired(ctx, now, 500)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired offers: %w", err)
	}

	result := &sweep.Result{}
	for _, o := range expired {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if err := s.expireOne(ctx, o.ID, now); err != nil {
			if err == ErrInvalidStatus {
				result.Skipped++
				continue
			}
			result.Fail(o.ID, err)
			continue
		}
		result.Processed++
	}
	return result, nil
}

func (s *Service) expireOne(ctx context.Context, id string, now time.Time) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under lock; a concurrent accept or withdraw wins.
	offer, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if offer.Status != StatusPending {
		return ErrInvalidStatus
	}

	offer.Status = StatusExpired
	offer.UpdatedAt = now.UTC()
	if err := s.store.Update(ctx, offer); err != nil {
		return fmt.Errorf("failed to update offer: %w", err)
	}

	s.notifier.Notify(ctx, offer.AccountID, notify.TypeOfferExpired,
		"Offer Expired", "Your offer has expired")

	if listing, err := s.listings.Get(ctx, offer.ListingID); err == nil {
		s.notifier.Notify(ctx, listing.AccountID, notify.TypeOfferExpired,
			"Offer Expired", fmt.Sprintf("An offer on your listing %q has expired", listing.Title))
	}
	return nil
}

// WarnExpiringSweep notifies buyers whose pending offers expire within the
// warning window. Each offer is warned exactly once: the warned-at marker
// is the only state this sweep writes.
func (s *Service) WarnExpiringSweep(ctx context.Context, now time.Time) (*sweep.Result, error) {
	soon, err := s.store.ListExpiringUnwarned(ctx, now, now.Add(s.warnWindow), 500)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring offers: %w", err)
	}

	result := &sweep.Result{}
	for _, o := range soon {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if err := s.warnOne(ctx, o.ID, now); err != nil {
			if err == ErrInvalidStatus {
				result.Skipped++
				continue
			}
			result.Fail(o.ID, err)
			continue
		}
		result.Processed++
	}
	return result, nil
}

func (s *Service) warnOne(ctx context.Context, id string, now time.Time) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	offer, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if offer.Status != StatusPending || offer.WarnedAt != nil {
		return ErrInvalidStatus
	}

	stamp := now.UTC()
	offer.WarnedAt = &stamp
	offer.UpdatedAt = stamp
	if err := s.store.Update(ctx, offer); err != nil {
		return fmt.Errorf("failed to stamp warned offer: %w", err)
	}

	s.notifier.Notify(ctx, offer.AccountID, notify.TypeOfferExpiring,
		"Offer Expiring Soon",
		fmt.Sprintf("Your offer expires at %s", offer.ExpiresAt.Format(time.RFC3339)))
	return nil
}

// Get returns an offer by ID.
func (s *Service) Get(ctx context.Context, id string) (*Offer, error) {
	return s.store.Get(ctx, id)
}

// ListByListing returns offers placed against a listing.
func (s *Service) ListByListing(ctx context.Context, listingID, status string, limit int) ([]*Offer, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByListing(ctx, listingID, status, limit)
}

// ListByAccount returns offers placed by an account.
func (s *Service) ListByAccount(ctx context.Context, accountID, status string, limit int) ([]*Offer, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByAccount(ctx, accountID, status, limit)
}
