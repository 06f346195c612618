package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/assetmarket/internal/money"
	"github.com/mbd888/assetmarket/internal/notify"
	"github.com/mbd888/assetmarket/internal/traces"
)

// Open creates the escrow record for an accepted offer. No funds move yet.
// Created exactly once per accepted offer; the caller holds the listing
// lock, so the escrow-presence check it performed still stands.
func (s *Service) Open(ctx context.Context, listingID, offerID, buyerID, sellerID, amount, currency string) (string, error) {
	now := time.Now().UTC()
	tx := &Transaction{
		ID:        generateEscrowID(),
		ListingID: listingID,
		OfferID:   offerID,
		BuyerID:   buyerID,
		SellerID:  sellerID,
		Amount:    amount,
		Currency:  currency,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, tx); err != nil {
		return "", fmt.Errorf("failed to create escrow: %w", err)
	}
	return tx.ID, nil
}

// HasActiveForListing reports whether the listing has a live (non-terminal)
// escrow. At most one may exist at a time.
func (s *Service) HasActiveForListing(ctx context.Context, listingID string) (bool, error) {
	return s.store.HasActiveForListing(ctx, listingID)
}

// Fund authorizes the buyer's payment and moves the escrow to funded.
// The commission is computed here from the configured schedule and stored
// immutably: later fee changes never alter historical records. The funded
// write happens only after the gateway confirms the hold.
func (s *Service) Fund(ctx context.Context, id, callerAccount string) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.fund", traces.EscrowID(id))
	defer span.End()

	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.BuyerID != callerAccount {
		return nil, ErrUnauthorized
	}
	if tx.Status != StatusPending {
		return nil, ErrInvalidStatus
	}

	ref, err := s.gateway.Hold(ctx, tx.Amount, tx.Currency, tx.BuyerID)
	if err != nil {
		return nil, err
	}

	rate := s.rates.Standard
	if s.plans != nil {
		if premium, perr := s.plans.IsPremium(ctx, tx.SellerID); perr == nil && premium {
			rate = s.rates.Premium
		}
	}

	tx.Status = StatusFunded
	tx.PaymentRef = ref
	tx.Commission = money.Percent(tx.Amount, rate)
	tx.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, tx); err != nil {
		// Funds are held but the record is stale. Retry once, then flag:
		// releasing the hold here could race a concurrent retry.
		if retryErr := s.store.Update(ctx, tx); retryErr != nil {
			slog.Error("CRITICAL: escrow funded but status update failed",
				"escrow", tx.ID, "payment_ref", ref, "error", retryErr)
			return nil, fmt.Errorf("failed to update escrow after hold (requires manual resolution): %w", err)
		}
	}

	s.notifier.Notify(ctx, tx.SellerID, notify.TypePaymentReceived,
		"Escrow Funded", fmt.Sprintf("Escrow of %s %s has been funded", tx.Amount, tx.Currency))

	return tx, nil
}

// FlagDispute places a funded escrow into arbitration. No funds move.
func (s *Service) FlagDispute(ctx context.Context, id, callerAccount, reason string) (*Transaction, error) {
	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerAccount != tx.BuyerID && callerAccount != tx.SellerID {
		return nil, ErrUnauthorized
	}
	if tx.IsTerminal() {
		return nil, ErrAlreadyResolved
	}
	if tx.Status != StatusFunded {
		return nil, ErrInvalidStatus
	}

	tx.Status = StatusDisputed
	tx.DisputeReason = reason
	tx.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to update escrow: %w", err)
	}
	return tx, nil
}

// Release captures the held funds for the seller. Callable by the seller on
// a funded escrow; disputed escrows can only be released through Resolve.
func (s *Service) Release(ctx context.Context, id, callerAccount string) (*Transaction, error) {
	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerAccount != tx.SellerID {
		return nil, ErrUnauthorized
	}
	if tx.IsTerminal() {
		return nil, ErrAlreadyResolved
	}
	if tx.Status != StatusFunded {
		return nil, ErrInvalidStatus
	}

	if err := s.release(ctx, tx, ""); err != nil {
		return nil, err
	}
	return tx, nil
}

// Refund returns the held funds to the buyer. Callable by the seller on a
// funded escrow; disputed escrows can only be refunded through Resolve.
func (s *Service) Refund(ctx context.Context, id, callerAccount string) (*Transaction, error) {
	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if callerAccount != tx.SellerID {
		return nil, ErrUnauthorized
	}
	if tx.IsTerminal() {
		return nil, ErrAlreadyResolved
	}
	if tx.Status != StatusFunded {
		return nil, ErrInvalidStatus
	}

	if err := s.refund(ctx, tx, ""); err != nil {
		return nil, err
	}
	return tx, nil
}

// Resolve settles a disputed escrow with the arbiter's decision. A call on
// an already-terminal escrow fails with ErrAlreadyResolved, which makes
// double-release and double-refund structurally impossible. On gateway
// failure the escrow stays disputed for manual retry.
func (s *Service) Resolve(ctx context.Context, id string, decision Decision, arbiterID string) (*Transaction, error) {
	if decision != DecisionRelease && decision != DecisionRefund {
		return nil, ErrBadDecision
	}

	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.IsTerminal() {
		return nil, ErrAlreadyResolved
	}
	if tx.Status != StatusDisputed {
		return nil, ErrInvalidStatus
	}

	if decision == DecisionRelease {
		err = s.release(ctx, tx, arbiterID)
	} else {
		err = s.refund(ctx, tx, arbiterID)
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// release captures the payment and commits the released state. The caller
// holds the escrow lock and has verified the transition is allowed.
func (s *Service) release(ctx context.Context, tx *Transaction, resolvedBy string) error {
	ctx, span := traces.StartSpan(ctx, "escrow.release",
		traces.EscrowID(tx.ID), traces.Amount(tx.Amount))
	defer span.End()

	if err := s.gateway.Release(ctx, tx.PaymentRef); err != nil {
		// Never mark released before the gateway confirms: that would
		// create funds-moved/state-mismatched records.
		slog.Warn("escrow release blocked by gateway failure",
			"escrow", tx.ID, "payment_ref", tx.PaymentRef, "error", err)
		return err
	}

	now := time.Now().UTC()
	tx.Status = StatusReleased
	tx.ResolvedBy = resolvedBy
	tx.ReleasedAt = &now
	tx.UpdatedAt = now

	if err := s.store.Update(ctx, tx); err != nil {
		// Funds moved to the seller but the record is stale. There is no
		// inverse for a capture; retry once, then flag for manual fixup.
		if retryErr := s.store.Update(ctx, tx); retryErr != nil {
			slog.Error("CRITICAL: escrow funds released but status update failed",
				"escrow", tx.ID, "seller", tx.SellerID, "error", retryErr)
			return fmt.Errorf("failed to update escrow after release (requires manual resolution): %w", err)
		}
	}

	// State is committed; everything below is best-effort.
	if err := s.marker.MarkSold(ctx, tx.ListingID); err != nil {
		slog.Error("failed to mark listing sold after escrow release",
			"escrow", tx.ID, "listing", tx.ListingID, "error", err)
	}

	s.notifier.Notify(ctx, tx.SellerID, notify.TypePaymentReceived,
		"Escrow Released",
		fmt.Sprintf("Escrow of %s %s has been released to you (commission %s)",
			tx.Amount, tx.Currency, tx.Commission))
	return nil
}

// refund returns the payment and commits the refunded state.
func (s *Service) refund(ctx context.Context, tx *Transaction, resolvedBy string) error {
	ctx, span := traces.StartSpan(ctx, "escrow.refund",
		traces.EscrowID(tx.ID), traces.Amount(tx.Amount))
	defer span.End()

	if err := s.gateway.Refund(ctx, tx.PaymentRef, ""); err != nil {
		slog.Warn("escrow refund blocked by gateway failure",
			"escrow", tx.ID, "payment_ref", tx.PaymentRef, "error", err)
		return err
	}

	tx.Status = StatusRefunded
	tx.ResolvedBy = resolvedBy
	tx.UpdatedAt = time.Now().UTC()

	if err := s.store.Update(ctx, tx); err != nil {
		if retryErr := s.store.Update(ctx, tx); retryErr != nil {
			slog.Error("CRITICAL: escrow funds refunded but status update failed",
				"escrow", tx.ID, "buyer", tx.BuyerID, "error", retryErr)
			return fmt.Errorf("failed to update escrow after refund (requires manual resolution): %w", err)
		}
	}

	s.notifier.Notify(ctx, tx.BuyerID, notify.TypePaymentRefunded,
		"Escrow Refunded",
		fmt.Sprintf("Escrow of %s %s has been refunded to you", tx.Amount, tx.Currency))
	return nil
}

// Get returns an escrow by ID.
func (s *Service) Get(ctx context.Context, id string) (*Transaction, error) {
	return s.store.Get(ctx, id)
}

// GetByOffer returns the escrow created for an accepted offer.
func (s *Service) GetByOffer(ctx context.Context, offerID string) (*Transaction, error) {
	return s.store.GetByOffer(ctx, offerID)
}

// ListByAccount returns escrows involving an account as buyer or seller.
func (s *Service) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByAccount(ctx, accountID, limit)
}
