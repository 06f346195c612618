package listings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/assetmarket/internal/money"
	"github.com/mbd888/assetmarket/internal/notify"
	"github.com/mbd888/assetmarket/internal/sweep"
)

// Create drafts a new listing. The listing fee is computed from the asking
// price at draft time and fixed for the life of the listing.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Listing, error) {
	if !money.Valid(req.AskingPrice) {
		return nil, ErrInvalidAmount
	}
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = "USD"
	}

	now := time.Now().UTC()
	listing := &Listing{
		ID:          generateListingID(),
		AccountID:   req.AccountID,
		AssetID:     req.AssetID,
		Title:       req.Title,
		Description: req.Description,
		AskingPrice: req.AskingPrice,
		Currency:    currency,
		ListingFee:  money.Percent(req.AskingPrice, s.feePct),
		Status:      StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.Create(ctx, listing); err != nil {
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}
	return listing, nil
}

// Update edits a draft listing's title, description or asking price. Only
// drafts are editable: after submission an edit would bypass review, and a
// live listing's price is what its offers were placed against. Changing the
// price recomputes the listing fee.
func (s *Service) Update(ctx context.Context, id, callerAccount string, req UpdateRequest) (*Listing, error) {
	if req.AskingPrice != "" && !money.Valid(req.AskingPrice) {
		return nil, ErrInvalidAmount
	}

	mu := s.listingLock(id)
	mu.Lock()
	defer mu.Unlock()

	listing, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if listing.AccountID != callerAccount {
		return nil, ErrUnauthorized
	}
	if listing.Status != StatusDraft {
		return nil, ErrInvalidStatus
	}

	if req.Title != "" {
		listing.Title = req.Title
	}
	if req.Description != "" {
		listing.Description = req.Description
	}
	if req.AskingPrice != "" {
		listing.AskingPrice = req.AskingPrice
		listing.ListingFee = money.Percent(req.AskingPrice, s.feePct)
	}
	listing.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, listing); err != nil {
		return nil, fmt.Errorf("failed to update listing: %w", err)
	}
	return listing, nil
}

// SubmitForApproval moves a draft into the review queue.
func (s *Service) SubmitForApproval(ctx context.Context, id, callerAccount string) (*Listing, error) {
	mu := s.listingLock(id)
	mu.Lock()
	defer mu.Unlock()

	listing, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if listing.AccountID != callerAccount {
		return nil, ErrUnauthorized
	}
	if listing.Status != StatusDraft {
		return nil, ErrInvalidStatus
	}

	listing.Status = StatusPendingApproval
	listing.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, listing); err != nil {
		return nil, fmt.Errorf("failed to update listing: %w", err)
	}
	return listing, nil
}

// Approve marks a pending listing as approved by the given reviewer.
// The listing goes live once the listing fee is confirmed paid.
func (s *Service) Approve(ctx context.Context, id, approverID string) (*Listing, error) {
	mu := s.listingLock(id)
	mu.Lock()
	defer mu.Unlock()

	listing, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if listing.Status != StatusPendingApproval {
		return nil, ErrInvalidStatus
	}

	now := time.Now().UTC()
	listing.Status = StatusApproved
	listing.ApprovedBy = approverID
	listing.ApprovedAt = &now
	listing.UpdatedAt = now

	// Fee already collected? Go straight to active.
	if listing.ListingFeePaid {
		listing.Status = StatusActive
	}

	if err := s.store.Update(ctx, listing); err != nil {
		return nil, fmt.Errorf("failed to update listing: %w", err)
	}

	s.notifier.Notify(ctx, listing.AccountID, notify.TypeListingApproved,
		"Listing Approved", fmt.Sprintf("Your listing %q has been approved", listing.Title))

	return listing, nil
}

// Reject declines a pending listing with a reason.
func (s *Service) Reject(ctx context.Context, id, approverID, reason string) (*Listing, error) {
	mu := s.listingLock(id)
	mu.Lock()
	defer mu.Unlock()

	listing, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if listing.Status != StatusPendingApproval {
		return nil, ErrInvalidStatus
	}

	listing.Status = StatusRejected
	listing.ApprovedBy = approverID
	listing.RejectReason = reason
	listing.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, listing); err != nil {
		return nil, fmt.Errorf("failed to update listing: %w", err)
	}
	return listing, nil
}

// PayListingFee charges the listing fee through the payment gateway.
// The fee-paid flag is only set after the charge is confirmed. An approved
// listing goes active immediately once the fee clears.
func (s *Service) PayListingFee(ctx context.Context, id, callerAccount string) (*Listing, error) {
	mu := s.listingLock(id)
	mu.Lock()
	defer mu.Unlock()

	listing, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if listing.AccountID != callerAccount {
		return nil, ErrUnauthorized
	}
	if listing.IsTerminal() || listing.ListingFeePaid {
		return nil, ErrInvalidStatus
	}
	if s.fees == nil {
		return nil, fmt.Errorf("listing fee collection not configured")
	}

	ref, err := s.fees.Hold(ctx, listing.ListingFee, listing.Currency, listing.AccountID)
	if err != nil {
		return nil, err
	}
	if err := s.fees.Release(ctx, ref); err != nil {
		return nil, err
	}

	listing.ListingFeePaid = true
	if listing.Status == StatusApproved {
		listing.Status = StatusActive
	}
	listing.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, listing); err != nil {
		return nil, fmt.Errorf("failed to update listing after fee payment: %w", err)
	}
	return listing, nil
}

// MarkSold transitions an active listing to sold. It is idempotent: a
// listing that is already sold is returned unchanged, and the sold
// notification is not re-sent. This guards against duplicate escrow release
// callbacks re-triggering the transition.
func (s *Service) MarkSold(ctx context.Context, id string) (*Listing, error) {
	mu := s.listingLock(id)
	mu.Lock()
	defer mu.Unlock()

	listing, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if listing.Status == StatusSold {
		return listing, nil
	}
	if listing.Status != StatusActive {
		return nil, ErrInvalidStatus
	}

	listing.Status = StatusSold
	listing.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, listing); err != nil {
		return nil, fmt.Errorf("failed to update listing: %w", err)
	}

	s.notifier.Notify(ctx, listing.AccountID, notify.TypeListingSold,
		"Listing Sold", fmt.Sprintf("Your listing %q has sold", listing.Title))

	return listing, nil
}

// Cancel withdraws a listing from the marketplace by its owner.
func (s *Service) Cancel(ctx context.Context, id, callerAccount string) (*Listing, error) {
	mu := s.listingLock(id)
	mu.Lock()
	defer mu.Unlock()

	listing, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if listing.AccountID != callerAccount {
		return nil, ErrUnauthorized
	}
	if listing.IsTerminal() {
		return nil, ErrInvalidStatus
	}
	if err := s.checkNoLiveEscrow(ctx, listing); err != nil {
		return nil, err
	}

	listing.Status = StatusCancelled
	listing.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, listing); err != nil {
		return nil, fmt.Errorf("failed to update listing: %w", err)
	}
	return listing, nil
}

// Expire cancels an active listing that has aged out. The state change is
// persisted before the notification is sent, so a notification failure can
// never roll the transition back.
func (s *Service) Expire(ctx context.Context, id string, now time.Time) (*Listing, error) {
	mu := s.listingLock(id)
	mu.Lock()
	defer mu.Unlock()

	listing, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if listing.Status != StatusActive {
		return nil, ErrInvalidStatus
	}
	if now.Sub(listing.CreatedAt) < s.maxAge {
		return nil, ErrInvalidStatus
	}
	if err := s.checkNoLiveEscrow(ctx, listing); err != nil {
		return nil, err
	}

	listing.Status = StatusCancelled
	listing.UpdatedAt = now.UTC()

	if err := s.store.Update(ctx, listing); err != nil {
		return nil, fmt.Errorf("failed to update listing: %w", err)
	}

	s.notifier.Notify(ctx, listing.AccountID, notify.TypeListingExpired,
		"Listing Expired",
		fmt.Sprintf("Your listing %q was automatically expired after %d days",
			listing.Title, int(s.maxAge.Hours()/24)))

	return listing, nil
}

// ExpireSweep cancels all active listings older than the configured maximum
// age. Rows are processed independently: a failure on one row is recorded
// and the sweep continues.
func (s *Service) ExpireSweep(ctx context.Context, now time.Time) (*sweep.Result, error) {
	cutoff := now.Add(-s.maxAge)
	old, err := s.store.ListActiveOlderThan(ctx, cutoff, 500)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring listings: %w", err)
	}

	result := &sweep.Result{}
	for _, l := range old {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if _, err := s.Expire(ctx, l.ID, now); err != nil {
			// Raced with a live transition; an already-terminal row or a
			// row mid-sale is a skip, not a failure.
			if err == ErrInvalidStatus || err == ErrHasActiveEscrow {
				result.Skipped++
				continue
			}
			result.Fail(l.ID, err)
			continue
		}
		result.Processed++
	}
	return result, nil
}

// checkNoLiveEscrow refuses transitions that would pull a listing out from
// under an in-flight sale. Called with the listing lock held, so the check
// cannot interleave with an accept opening the escrow.
func (s *Service) checkNoLiveEscrow(ctx context.Context, listing *Listing) error {
	if s.guard == nil || listing.Status != StatusActive {
		return nil
	}
	busy, err := s.guard.HasActiveForListing(ctx, listing.ID)
	if err != nil {
		return fmt.Errorf("failed to check listing escrow: %w", err)
	}
	if busy {
		return ErrHasActiveEscrow
	}
	return nil
}

// WhileLive runs fn against the listing while holding its transition lock,
// with the listing re-read and verified ACTIVE first. Transitions that take
// the listing off the market (Cancel, MarkSold, Expire) queue behind the
// same lock, so the listing cannot leave the live state while fn runs.
// Returns ErrInvalidStatus when the listing is not live; otherwise fn's
// error.
func (s *Service) WhileLive(ctx context.Context, id string, fn func(*Listing) error) error {
	mu := s.listingLock(id)
	mu.Lock()
	defer mu.Unlock()

	listing, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !listing.Live() {
		return ErrInvalidStatus
	}
	return fn(listing)
}

// Get returns a listing by ID.
func (s *Service) Get(ctx context.Context, id string) (*Listing, error) {
	return s.store.Get(ctx, id)
}

// Search returns live listings whose title or description matches the query.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]*Listing, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.SearchLive(ctx, query, limit)
}

// ListByAccount returns listings owned by an account.
func (s *Service) ListByAccount(ctx context.Context, accountID, status string, limit int) ([]*Listing, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByAccount(ctx, accountID, status, limit)
}

// ListLive returns listings currently accepting offers.
func (s *Service) ListLive(ctx context.Context, limit int) ([]*Listing, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListLive(ctx, limit)
}
