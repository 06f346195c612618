package subscriptions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/assetmarket/internal/notify"
	"github.com/mbd888/assetmarket/internal/payments"
	"github.com/mbd888/assetmarket/internal/retry"
	"github.com/mbd888/assetmarket/internal/sweep"
)

const (
	reconcileBatchSize = 500
	billingRetries     = 3
	billingRetryDelay  = 500 * time.Millisecond
)

// Subscribe creates a subscription row for an account. Paid plans carry the
// billing processor's reference; free plans have none and are never
// reconciled.
func (s *Service) Subscribe(ctx context.Context, accountID string, plan Plan, billingRef string, periodStart, periodEnd time.Time) (*Subscription, error) {
	switch plan {
	case PlanFree, PlanMonthly, PlanAnnual:
	default:
		return nil, ErrInvalidPlan
	}
	if existing, err := s.store.GetActiveByAccount(ctx, accountID); err == nil && existing != nil {
		return nil, ErrAlreadySubscribed
	}

	now := time.Now().UTC()
	sub := &Subscription{
		ID:          generateSubscriptionID(),
		AccountID:   accountID,
		Plan:        plan,
		Status:      StatusActive,
		BillingRef:  billingRef,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return sub, nil
}

// Cancel marks a subscription cancelled locally. Cancelling at the billing
// processor is the caller's responsibility; reconciliation will converge
// either way.
func (s *Service) Cancel(ctx context.Context, id, callerAccount string) (*Subscription, error) {
	mu := s.subLock(id)
	mu.Lock()
	defer mu.Unlock()

	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.AccountID != callerAccount {
		return nil, ErrSubscriptionNotFound
	}
	if sub.Status != StatusActive && sub.Status != StatusPastDue {
		return nil, ErrInvalidStatus
	}

	sub.Status = StatusCancelled
	sub.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	return sub, nil
}

// IsPremium reports whether the account currently has an active or past-due
// paid subscription. Past-due keeps benefits until reconciliation expires it.
func (s *Service) IsPremium(ctx context.Context, accountID string) (bool, error) {
	sub, err := s.store.GetActiveByAccount(ctx, accountID)
	if err == ErrSubscriptionNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sub.Plan.Paid(), nil
}

// GetByAccount returns the account's current subscription, if any.
func (s *Service) GetByAccount(ctx context.Context, accountID string) (*Subscription, error) {
	return s.store.GetActiveByAccount(ctx, accountID)
}

// ReconcileSweep checks every locally-active paid subscription whose period
// has lapsed against the billing processor and converges the local row to
// the processor's answer. Transient processor errors are retried; a row that
// still fails is recorded and left untouched for the next run.
func (s *Service) ReconcileSweep(ctx context.Context, now time.Time) (*sweep.Result, error) {
	result := &sweep.Result{}

	subs, err := s.store.ListDueForReconcile(ctx, now, reconcileBatchSize)
	if err != nil {
		return result, fmt.Errorf("failed to list subscriptions for reconcile: %w", err)
	}

	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.reconcileOne(ctx, sub.ID); err != nil {
			if err == ErrInvalidStatus {
				result.Skipped++
				continue
			}
			slog.Warn("subscription reconcile failed", "subscription", sub.ID, "error", err)
			result.Fail(sub.ID, err)
			continue
		}
		result.Processed++
	}
	return result, result.Err()
}

// reconcileOne re-reads the row under its lock and applies the processor's
// verdict. Concurrent local changes between listing and locking are handled
// by the re-read.
func (s *Service) reconcileOne(ctx context.Context, id string) error {
	mu := s.subLock(id)
	mu.Lock()
	defer mu.Unlock()

	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !sub.Plan.Paid() || (sub.Status != StatusActive && sub.Status != StatusPastDue) {
		return ErrInvalidStatus
	}

	var state *payments.SubscriptionState
	err = retry.Do(ctx, billingRetries, billingRetryDelay, func() error {
		var rerr error
		state, rerr = s.billing.GetSubscription(ctx, sub.BillingRef)
		return rerr
	})
	if err != nil {
		return fmt.Errorf("billing processor query failed: %w", err)
	}

	switch state.Status {
	case payments.BillingActive:
		// Refresh cached period bounds; no status change.
		if sub.PeriodStart.Equal(state.PeriodStart) && sub.PeriodEnd.Equal(state.PeriodEnd) && sub.Status == StatusActive {
			return nil
		}
		sub.Status = StatusActive
		sub.PeriodStart = state.PeriodStart
		sub.PeriodEnd = state.PeriodEnd
	case payments.BillingPastDue:
		if sub.Status == StatusPastDue {
			return nil
		}
		sub.Status = StatusPastDue
	default:
		// Cancelled or unknown at the processor: expire and notify.
		sub.Status = StatusExpired
	}

	sub.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, sub); err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	if sub.Status == StatusExpired {
		s.notifier.Notify(ctx, sub.AccountID, notify.TypeSubscriptionExpired,
			"Subscription Expired",
			"Your subscription is no longer active with the billing provider and has been expired")
	}
	return nil
}
