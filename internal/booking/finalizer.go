package booking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/clock"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/domain"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/observability"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/payment"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const EventBookingConfirmed = "booking.confirmed"

type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockInventory(ctx context.Context, itemID string) ([]domain.InventoryRecord, error)
	ListActiveHolds(ctx context.Context, sessionID, itemID string, now time.Time) ([]domain.Hold, error)
	IncrementSold(ctx context.Context, itemID, tier string, qty int) error
	InsertBooking(ctx context.Context, b domain.Booking) error
	DeleteHoldsForItem(ctx context.Context, sessionID, itemID string) (int, error)
	RecordEvent(ctx context.Context, eventType string, aggregateID uuid.UUID, payload []byte) error
	GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	ListBookings(ctx context.Context, sessionID string) ([]domain.Booking, error)
}

// Auditor keeps an external trail of sales and declines.
type Auditor interface {
	LogBooking(ctx context.Context, b domain.Booking) error
	LogPaymentDeclined(ctx context.Context, sessionID, itemID string, amount float64) error
}

type nopAuditor struct{}

func (nopAuditor) LogBooking(context.Context, domain.Booking) error { return nil }

func (nopAuditor) LogPaymentDeclined(context.Context, string, string, float64) error { return nil }

// Finalizer converts a session's holds into a confirmed booking. It is the
// only writer of bookings and of sold quantities.
type Finalizer struct {
	store    Store
	catalog  domain.Catalog
	payments payment.Gateway
	auditor  Auditor
	notifier domain.InventoryNotifier
	policy   domain.HoldPolicy
	clock    clock.Clock
	logger   observability.Logger
	tracer   trace.Tracer
}

func NewFinalizer(store Store, catalog domain.Catalog, payments payment.Gateway, auditor Auditor, notifier domain.InventoryNotifier, policy domain.HoldPolicy, clk clock.Clock, logger observability.Logger) *Finalizer {
	if auditor == nil {
		auditor = nopAuditor{}
	}
	if notifier == nil {
		notifier = domain.NopNotifier{}
	}
	return &Finalizer{
		store:    store,
		catalog:  catalog,
		payments: payments,
		auditor:  auditor,
		notifier: notifier,
		policy:   policy,
		clock:    clk,
		logger:   logger,
		tracer:   observability.Tracer("booking"),
	}
}

type BookingResult struct {
	Success      bool
	Booking      *domain.Booking
	RetryAllowed bool
	// Err classifies a failed attempt: ErrHoldMissingOrInsufficient,
	// ErrInventoryInconsistency or ErrPaymentDeclined.
	Err error
}

// ProcessBooking validates holds, charges, and on success records the sale,
// bumps sold quantities and releases the holds, all in one unit of work.
func (f *Finalizer) ProcessBooking(ctx context.Context, sessionID, itemID string, selections []domain.Selection) (BookingResult, error) {
	ctx, span := f.tracer.Start(ctx, "booking.ProcessBooking", trace.WithAttributes(
		attribute.String("session.id", sessionID), attribute.String("item.id", itemID)))
	defer span.End()

	if sessionID == "" {
		return BookingResult{}, errors.Wrap(domain.ErrInvalidInput, "session id required")
	}
	item, err := f.catalog.GetItem(ctx, itemID)
	if err != nil {
		return BookingResult{}, errors.Wrapf(err, "load item %s", itemID)
	}
	if err := f.policy.ValidateSelections(item, selections, true); err != nil {
		return BookingResult{}, err
	}

	var result BookingResult
	var declinedAmount float64
	err = f.store.WithTx(ctx, func(ctx context.Context) error {
		result = BookingResult{}
		now := f.clock.Now()

		recs, err := f.store.LockInventory(ctx, itemID)
		if err != nil {
			return err
		}
		ledger := make(map[string]domain.InventoryRecord, len(recs))
		for _, rec := range recs {
			ledger[rec.Tier] = rec
		}

		holds, err := f.store.ListActiveHolds(ctx, sessionID, itemID, now)
		if err != nil {
			return err
		}
		held := make(map[string]int, len(holds))
		for _, h := range holds {
			held[h.Tier] = h.Quantity
		}

		for _, sel := range selections {
			if sel.Quantity == 0 {
				continue
			}
			if held[sel.Tier] < sel.Quantity {
				result.Err = errors.Wrapf(domain.ErrHoldMissingOrInsufficient,
					"tier %s: held %d, requested %d", sel.Tier, held[sel.Tier], sel.Quantity)
				return nil
			}
		}
		for _, sel := range selections {
			if sel.Quantity == 0 {
				continue
			}
			if rec, ok := ledger[sel.Tier]; !ok || rec.Remaining() < sel.Quantity {
				result.Err = errors.Wrapf(domain.ErrInventoryInconsistency,
					"tier %s: remaining %d, requested %d", sel.Tier, rec.Remaining(), sel.Quantity)
				return nil
			}
		}

		b, err := domain.NewBooking(sessionID, item, selections, now)
		if err != nil {
			return err
		}

		if err := f.payments.Charge(ctx, payment.Charge{SessionID: sessionID, ItemID: itemID, Amount: b.TotalAmount}); err != nil {
			if errors.Is(err, domain.ErrPaymentDeclined) {
				result.Err = err
				result.RetryAllowed = true
				declinedAmount = b.TotalAmount
				return nil
			}
			return errors.Wrap(err, "charge")
		}

		if err := f.store.InsertBooking(ctx, b); err != nil {
			return err
		}
		for _, bi := range b.Items {
			if err := f.store.IncrementSold(ctx, itemID, bi.Tier, bi.Quantity); err != nil {
				return err
			}
		}
		if _, err := f.store.DeleteHoldsForItem(ctx, sessionID, itemID); err != nil {
			return err
		}

		payload, err := json.Marshal(map[string]interface{}{
			"booking_id": b.ID,
			"session_id": b.SessionID,
			"item_id":    b.ItemID,
			"total":      b.TotalAmount,
			"items":      b.Items,
		})
		if err != nil {
			return errors.Wrap(err, "marshal booking event")
		}
		if err := f.store.RecordEvent(ctx, EventBookingConfirmed, b.ID, payload); err != nil {
			return err
		}

		result.Success = true
		result.Booking = &b
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInventoryInconsistency) {
			// IncrementSold refused inside the unit; nothing was committed.
			return f.inconsistent(ctx, sessionID, itemID, err), nil
		}
		span.RecordError(err)
		observability.Bookings.WithLabelValues("error").Inc()
		return BookingResult{}, err
	}

	switch {
	case result.Success:
		observability.Bookings.WithLabelValues("confirmed").Inc()
		if err := f.auditor.LogBooking(ctx, *result.Booking); err != nil {
			f.logger.WithError(err).WithField("booking_id", result.Booking.ID).Warn("audit booking failed")
		}
		f.notifier.InventoryChanged(ctx, itemID)
	case result.RetryAllowed:
		observability.Bookings.WithLabelValues("payment_declined").Inc()
		if err := f.auditor.LogPaymentDeclined(ctx, sessionID, itemID, declinedAmount); err != nil {
			f.logger.WithError(err).Warn("audit payment decline failed")
		}
	case errors.Is(result.Err, domain.ErrInventoryInconsistency):
		return f.inconsistent(ctx, sessionID, itemID, result.Err), nil
	default:
		observability.Bookings.WithLabelValues("hold_missing").Inc()
	}
	return result, nil
}

func (f *Finalizer) inconsistent(ctx context.Context, sessionID, itemID string, err error) BookingResult {
	observability.Bookings.WithLabelValues("inconsistent").Inc()
	observability.InventoryInconsistencies.Inc()
	trace.SpanFromContext(ctx).RecordError(err)
	f.logger.WithError(err).
		WithField("session_id", sessionID).
		WithField("item_id", itemID).
		Error("inventory inconsistency at booking final check")
	return BookingResult{Err: err}
}

func (f *Finalizer) GetBookingsForSession(ctx context.Context, sessionID string) ([]domain.Booking, error) {
	return f.store.ListBookings(ctx, sessionID)
}

func (f *Finalizer) GetBookingByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	return f.store.GetBooking(ctx, id)
}
