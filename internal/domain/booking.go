package domain

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// NewBooking prices the non-zero selections against the catalog and returns
// a confirmed booking.
func NewBooking(sessionID string, item *Item, selections []Selection, now time.Time) (Booking, error) {
	b := Booking{
		ID:          uuid.New(),
		SessionID:   sessionID,
		ItemID:      item.ID,
		Status:      BookingStatusConfirmed,
		CreatedAt:   now,
		ConfirmedAt: &now,
	}
	for _, s := range selections {
		if s.Quantity == 0 {
			continue
		}
		tier, ok := item.Tier(s.Tier)
		if !ok {
			return Booking{}, errors.Wrapf(ErrUnknownTier, "tier %q", s.Tier)
		}
		subtotal := tier.Price * float64(s.Quantity)
		b.Items = append(b.Items, BookingItem{
			Tier:         s.Tier,
			Quantity:     s.Quantity,
			PricePerUnit: tier.Price,
			Subtotal:     subtotal,
		})
		b.TotalAmount += subtotal
	}
	return b, nil
}

