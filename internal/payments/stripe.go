package payments

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/mbd888/assetmarket/internal/money"
)

// callTimeout bounds every Stripe call. A timeout is a failure, never
// success-pending.
const callTimeout = 30 * time.Second

// StripeGateway implements Gateway over Stripe PaymentIntents with manual
// capture: Hold creates an uncaptured intent, Release captures it, Refund
// refunds it.
type StripeGateway struct {
	api *client.API
}

// NewStripeGateway creates a Stripe-backed payment gateway.
func NewStripeGateway(apiKey string) (*StripeGateway, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	return &StripeGateway{api: client.New(apiKey, nil)}, nil
}

func (g *StripeGateway) Hold(ctx context.Context, amount, currency, buyerRef string) (string, error) {
	cents, ok := money.Parse(amount)
	if !ok || cents.Sign() <= 0 {
		return "", &GatewayError{Op: "hold", Err: errors.New("invalid amount")}
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(cents.Int64()),
		Currency:      stripe.String(strings.ToLower(currency)),
		Customer:      stripe.String(buyerRef),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx

	intent, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return "", &GatewayError{Op: "hold", Err: err}
	}
	return intent.ID, nil
}

func (g *StripeGateway) Release(ctx context.Context, externalRef string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx

	if _, err := g.api.PaymentIntents.Capture(externalRef, params); err != nil {
		return &GatewayError{Op: "release", Ref: externalRef, Err: err}
	}
	return nil
}

func (g *StripeGateway) Refund(ctx context.Context, externalRef, amount string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(externalRef),
	}
	if amount != "" {
		cents, ok := money.Parse(amount)
		if !ok {
			return &GatewayError{Op: "refund", Ref: externalRef, Err: errors.New("invalid amount")}
		}
		params.Amount = stripe.Int64(cents.Int64())
	}
	params.Context = ctx

	if _, err := g.api.Refunds.New(params); err != nil {
		return &GatewayError{Op: "refund", Ref: externalRef, Err: err}
	}
	return nil
}

// StripeBilling implements BillingProcessor over Stripe subscriptions.
type StripeBilling struct {
	api *client.API
}

// NewStripeBilling creates a Stripe-backed billing processor.
func NewStripeBilling(apiKey string) (*StripeBilling, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	return &StripeBilling{api: client.New(apiKey, nil)}, nil
}

func (b *StripeBilling) GetSubscription(ctx context.Context, externalRef string) (*SubscriptionState, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := b.api.Subscriptions.Get(externalRef, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return &SubscriptionState{Status: BillingNotFound}, nil
		}
		return nil, &GatewayError{Op: "subscription", Ref: externalRef, Err: err}
	}

	state := &SubscriptionState{
		PeriodStart: time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		PeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
	}
	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		state.Status = BillingActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		state.Status = BillingPastDue
	default:
		state.Status = BillingCancelled
	}
	return state, nil
}
