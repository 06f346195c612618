// Package payments defines the capability contracts for moving funds and for
// querying the external billing processor, plus their Stripe implementations.
//
// The marketplace core never talks to a payment processor wire format
// directly. It holds, captures and refunds funds for an opaque external
// reference, and treats the billing processor as the authoritative source of
// subscription state.
package payments

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConfigured is returned when a Stripe-backed implementation is
	// constructed without an API key.
	ErrNotConfigured = errors.New("payments: stripe api key not configured")
)

// GatewayError wraps a failed or timed-out call to the payment processor.
// It blocks the dependent local state transition: the caller must leave the
// entity in its prior state and surface the error for retry.
type GatewayError struct {
	Op  string // "hold", "release", "refund", "subscription"
	Ref string // external reference, if any
	Err error
}

func (e *GatewayError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("payments: %s %s failed: %v", e.Op, e.Ref, e.Err)
	}
	return fmt.Sprintf("payments: %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Gateway moves funds for a transaction reference.
// Implementations report success or failure and never silently retry.
type Gateway interface {
	// Hold authorizes amount (decimal string, e.g. "9500.00") against the
	// buyer's payment method and returns the external reference.
	Hold(ctx context.Context, amount, currency, buyerRef string) (string, error)
	// Release captures a previously held amount, paying the seller.
	Release(ctx context.Context, externalRef string) error
	// Refund returns held or captured funds to the buyer. An empty amount
	// refunds the full charge.
	Refund(ctx context.Context, externalRef, amount string) error
}

// BillingStatus is the billing processor's view of a subscription.
type BillingStatus string

const (
	BillingActive    BillingStatus = "active"
	BillingPastDue   BillingStatus = "past_due"
	BillingCancelled BillingStatus = "cancelled"
	BillingNotFound  BillingStatus = "not_found"
)

// SubscriptionState is the authoritative subscription snapshot returned by
// the billing processor. Period bounds are only meaningful when Status is
// BillingActive.
type SubscriptionState struct {
	Status      BillingStatus
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// BillingProcessor reports authoritative subscription status.
// Local subscription rows are a cache of this.
type BillingProcessor interface {
	GetSubscription(ctx context.Context, externalRef string) (*SubscriptionState, error)
}
