package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/adapters/memory"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/clock"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/domain"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/holds"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/inventory"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/observability"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/payment"
	"github.com/stretchr/testify/require"
)

type stubGateway struct {
	mu      sync.Mutex
	decline bool
	charges []payment.Charge
}

func (g *stubGateway) Charge(_ context.Context, c payment.Charge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges = append(g.charges, c)
	if g.decline {
		return errors.Wrap(domain.ErrPaymentDeclined, "stub")
	}
	return nil
}

type recordingAuditor struct {
	bookings []domain.Booking
	declines int
}

func (a *recordingAuditor) LogBooking(_ context.Context, b domain.Booking) error {
	a.bookings = append(a.bookings, b)
	return nil
}

func (a *recordingAuditor) LogPaymentDeclined(context.Context, string, string, float64) error {
	a.declines++
	return nil
}

type fixture struct {
	store     *memory.Store
	clock     *clock.Manual
	holds     *holds.Manager
	finalizer *Finalizer
	gateway   *stubGateway
	auditor   *recordingAuditor
}

var testPolicy = domain.HoldPolicy{
	HoldDuration:      5 * time.Minute,
	InactivityTimeout: 2 * time.Minute,
	GracePeriod:       time.Minute,
	HardCap:           15 * time.Minute,
	MaxPerTier:        10,
	MaxPerOrder:       20,
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	catalog := domain.StaticCatalog{
		"concert": {ID: "concert", Name: "Concert", Tiers: []domain.Tier{
			{Name: "VIP", Price: 150, Total: 100},
			{Name: "GA", Price: 40, Total: 5},
		}},
	}
	store := memory.NewStore(time.Second)
	for _, tier := range catalog["concert"].Tiers {
		require.NoError(t, store.EnsureInventory(ctx, "concert", tier.Name, tier.Total))
	}

	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := observability.NewDiscardLogger()
	calc := inventory.NewCalculator(store, clk)
	gw := &stubGateway{}
	aud := &recordingAuditor{}

	return &fixture{
		store:     store,
		clock:     clk,
		holds:     holds.NewManager(store, calc, catalog, nil, testPolicy, clk, logger),
		finalizer: NewFinalizer(store, catalog, gw, aud, nil, testPolicy, clk, logger),
		gateway:   gw,
		auditor:   aud,
	}
}

func (f *fixture) hold(t *testing.T, session, tier string, qty int) {
	t.Helper()
	res, err := f.holds.CreateOrUpdateHolds(context.Background(), session, "concert", []domain.Selection{{Tier: tier, Quantity: qty}})
	require.NoError(t, err)
	require.True(t, res.Success)
}

func (f *fixture) sold(t *testing.T, tier string) int {
	t.Helper()
	recs, err := f.store.GetInventory(context.Background(), "concert")
	require.NoError(t, err)
	for _, r := range recs {
		if r.Tier == tier {
			return r.SoldQuantity
		}
	}
	t.Fatalf("tier %s not found", tier)
	return 0
}

func TestProcessBooking_PaymentSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.hold(t, "A", "VIP", 3)

	res, err := f.finalizer.ProcessBooking(ctx, "A", "concert", []domain.Selection{{Tier: "VIP", Quantity: 3}})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NoError(t, res.Err)
	require.Equal(t, domain.BookingStatusConfirmed, res.Booking.Status)
	require.Len(t, res.Booking.Items, 1)
	require.Equal(t, "VIP", res.Booking.Items[0].Tier)
	require.Equal(t, 3, res.Booking.Items[0].Quantity)
	require.InDelta(t, 450.0, res.Booking.TotalAmount, 0.001)

	require.Equal(t, 3, f.sold(t, "VIP"))

	remaining, err := f.holds.GetHoldsForItem(ctx, "A", "concert")
	require.NoError(t, err)
	require.Empty(t, remaining)

	stored, err := f.finalizer.GetBookingByID(ctx, res.Booking.ID)
	require.NoError(t, err)
	require.Equal(t, res.Booking.ID, stored.ID)

	events := f.store.Events()
	require.Len(t, events, 1)
	require.Equal(t, EventBookingConfirmed, events[0].Type)
	require.Len(t, f.auditor.bookings, 1)
}

func TestProcessBooking_PaymentDeclinedKeepsHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.hold(t, "A", "VIP", 3)
	f.gateway.decline = true

	res, err := f.finalizer.ProcessBooking(ctx, "A", "concert", []domain.Selection{{Tier: "VIP", Quantity: 3}})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.True(t, res.RetryAllowed)
	require.True(t, errors.Is(res.Err, domain.ErrPaymentDeclined))

	held, err := f.holds.GetHoldsForItem(ctx, "A", "concert")
	require.NoError(t, err)
	require.Len(t, held, 1)
	require.Equal(t, 3, held[0].Quantity)
	require.Equal(t, 0, f.sold(t, "VIP"))
	require.Empty(t, f.store.Events())
	require.Equal(t, 1, f.auditor.declines)

	bookings, err := f.finalizer.GetBookingsForSession(ctx, "A")
	require.NoError(t, err)
	require.Empty(t, bookings)

	f.gateway.decline = false
	res, err = f.finalizer.ProcessBooking(ctx, "A", "concert", []domain.Selection{{Tier: "VIP", Quantity: 3}})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 3, f.sold(t, "VIP"))
}

func TestProcessBooking_HoldMissingOrInsufficient(t *testing.T) {
	ctx := context.Background()

	t.Run("no hold", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.finalizer.ProcessBooking(ctx, "A", "concert", []domain.Selection{{Tier: "VIP", Quantity: 1}})
		require.NoError(t, err)
		require.False(t, res.Success)
		require.False(t, res.RetryAllowed)
		require.True(t, errors.Is(res.Err, domain.ErrHoldMissingOrInsufficient))
		require.Empty(t, f.gateway.charges)
	})

	t.Run("more than held", func(t *testing.T) {
		f := newFixture(t)
		f.hold(t, "A", "VIP", 2)
		res, err := f.finalizer.ProcessBooking(ctx, "A", "concert", []domain.Selection{{Tier: "VIP", Quantity: 3}})
		require.NoError(t, err)
		require.True(t, errors.Is(res.Err, domain.ErrHoldMissingOrInsufficient))
		require.Equal(t, 0, f.sold(t, "VIP"))
	})

	t.Run("expired hold", func(t *testing.T) {
		f := newFixture(t)
		f.hold(t, "A", "VIP", 2)
		f.clock.Advance(testPolicy.HoldDuration)
		res, err := f.finalizer.ProcessBooking(ctx, "A", "concert", []domain.Selection{{Tier: "VIP", Quantity: 2}})
		require.NoError(t, err)
		require.True(t, errors.Is(res.Err, domain.ErrHoldMissingOrInsufficient))
		require.Equal(t, 0, f.sold(t, "VIP"))
	})

	t.Run("another session's hold", func(t *testing.T) {
		f := newFixture(t)
		f.hold(t, "B", "VIP", 2)
		res, err := f.finalizer.ProcessBooking(ctx, "A", "concert", []domain.Selection{{Tier: "VIP", Quantity: 2}})
		require.NoError(t, err)
		require.True(t, errors.Is(res.Err, domain.ErrHoldMissingOrInsufficient))
	})
}

func TestProcessBooking_BooksSubsetOfHeldTiersAndReleasesAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.hold(t, "A", "VIP", 2)
	f.hold(t, "A", "GA", 4)

	res, err := f.finalizer.ProcessBooking(ctx, "A", "concert", []domain.Selection{
		{Tier: "VIP", Quantity: 1},
		{Tier: "GA", Quantity: 0},
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Len(t, res.Booking.Items, 1)
	require.Equal(t, 1, f.sold(t, "VIP"))
	require.Equal(t, 0, f.sold(t, "GA"))

	remaining, err := f.holds.GetHoldsForItem(ctx, "A", "concert")
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestProcessBooking_RejectsInvalidSelections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.finalizer.ProcessBooking(ctx, "A", "concert", []domain.Selection{{Tier: "VIP", Quantity: 0}})
	require.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = f.finalizer.ProcessBooking(ctx, "A", "concert", []domain.Selection{{Tier: "Balcony", Quantity: 1}})
	require.True(t, errors.Is(err, domain.ErrUnknownTier))

	_, err = f.finalizer.ProcessBooking(ctx, "A", "missing", []domain.Selection{{Tier: "VIP", Quantity: 1}})
	require.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestProcessBooking_InconsistentLedgerIsNotCommitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.hold(t, "A", "GA", 3)

	// Simulate an out-of-band sale that leaves the hold larger than what remains.
	require.NoError(t, f.store.IncrementSold(ctx, "concert", "GA", 4))

	res, err := f.finalizer.ProcessBooking(ctx, "A", "concert", []domain.Selection{{Tier: "GA", Quantity: 3}})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.False(t, res.RetryAllowed)
	require.True(t, errors.Is(res.Err, domain.ErrInventoryInconsistency))
	require.Empty(t, f.gateway.charges)
	require.Equal(t, 4, f.sold(t, "GA"))

	bookings, err := f.finalizer.GetBookingsForSession(ctx, "A")
	require.NoError(t, err)
	require.Empty(t, bookings)
}
