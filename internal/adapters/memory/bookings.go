package memory

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/domain"
)

func (s *Store) InsertBooking(ctx context.Context, b domain.Booking) error {
	return s.run(ctx, func() error {
		b.Items = append([]domain.BookingItem(nil), b.Items...)
		s.st.bookings = append(s.st.bookings, b)
		return nil
	})
}

func (s *Store) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	var found *domain.Booking
	err := s.run(ctx, func() error {
		for _, b := range s.st.bookings {
			if b.ID == id {
				b := b
				found = &b
				return nil
			}
		}
		return errors.Wrapf(domain.ErrNotFound, "booking %s", id)
	})
	return found, err
}

func (s *Store) ListBookings(ctx context.Context, sessionID string) ([]domain.Booking, error) {
	var out []domain.Booking
	err := s.run(ctx, func() error {
		for _, b := range s.st.bookings {
			if b.SessionID == sessionID {
				out = append(out, b)
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) RecordEvent(ctx context.Context, eventType string, aggregateID uuid.UUID, payload []byte) error {
	return s.run(ctx, func() error {
		s.st.events = append(s.st.events, Event{Type: eventType, AggregateID: aggregateID, Payload: payload})
		return nil
	})
}

// Events returns the recorded outbox events.
func (s *Store) Events() []Event {
	var out []Event
	_ = s.run(context.Background(), func() error {
		out = append(out, s.st.events...)
		return nil
	})
	return out
}
