package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mbd888/assetmarket/internal/escrow"
	"github.com/mbd888/assetmarket/internal/idgen"
	"github.com/mbd888/assetmarket/internal/listings"
	"github.com/mbd888/assetmarket/internal/payments"
)

// listingMarker adapts the listing service to the release callback the
// escrow service invokes, dropping the updated listing it has no use for.
type listingMarker struct {
	listings *listings.Service
}

var _ escrow.ListingMarker = (*listingMarker)(nil)

func (m *listingMarker) MarkSold(ctx context.Context, listingID string) error {
	_, err := m.listings.MarkSold(ctx, listingID)
	return err
}

// demoGateway is an auto-confirming payments.Gateway used when no Stripe API
// key is configured. Every hold succeeds and release/refund accept any
// reference previously issued by Hold.
type demoGateway struct {
	mu    sync.Mutex
	holds map[string]string // ref -> amount
}

func (g *demoGateway) Hold(_ context.Context, amount, _, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holds == nil {
		g.holds = make(map[string]string)
	}
	ref := "demo_" + idgen.Hex(12)
	g.holds[ref] = amount
	return ref, nil
}

func (g *demoGateway) Release(_ context.Context, externalRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.holds[externalRef]; !ok {
		return &payments.GatewayError{Op: "release", Ref: externalRef, Err: errUnknownRef}
	}
	delete(g.holds, externalRef)
	return nil
}

func (g *demoGateway) Refund(_ context.Context, externalRef, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	// Captured charges can be refunded too, so an unknown ref is not an error
	// here. Demo mode just forgets the hold if it still exists.
	delete(g.holds, externalRef)
	return nil
}

var errUnknownRef = errors.New("unknown payment reference")

// demoBilling reports every subscription as active on a rolling 30-day
// period, so demo deployments never expire anyone.
type demoBilling struct{}

func (demoBilling) GetSubscription(_ context.Context, _ string) (*payments.SubscriptionState, error) {
	now := time.Now().UTC()
	return &payments.SubscriptionState{
		Status:      payments.BillingActive,
		PeriodStart: now,
		PeriodEnd:   now.Add(30 * 24 * time.Hour),
	}, nil
}

// staticAdminDirectory serves the escalation fan-out list from configuration.
type staticAdminDirectory struct {
	ids []string
}

func (d *staticAdminDirectory) ActiveAdminIDs(_ context.Context) ([]string, error) {
	out := make([]string, len(d.ids))
	copy(out, d.ids)
	return out, nil
}
