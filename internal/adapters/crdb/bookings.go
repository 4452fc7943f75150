package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/domain"
)

// InsertBooking appends the booking and its items. Bookings are never
// updated or deleted afterwards.
func (r *Repository) InsertBooking(ctx context.Context, b domain.Booking) error {
	_, err := r.exec(ctx, `
		INSERT INTO bookings (id, session_id, item_id, total_amount, status, created_at, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, b.ID, b.SessionID, b.ItemID, b.TotalAmount, string(b.Status), b.CreatedAt, b.ConfirmedAt)
	if err != nil {
		return errors.Wrap(err, "insert booking")
	}

	for i, item := range b.Items {
		_, err := r.exec(ctx, `
			INSERT INTO booking_items (booking_id, position, tier, quantity, price_per_unit, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, b.ID, i, item.Tier, item.Quantity, item.PricePerUnit, item.Subtotal)
		if err != nil {
			return errors.Wrapf(err, "insert booking item %s", item.Tier)
		}
	}
	return nil
}

func (r *Repository) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	var b domain.Booking
	err := r.queryRow(ctx, `
		SELECT id, session_id, item_id, total_amount::FLOAT8, status, created_at, confirmed_at
		FROM bookings WHERE id = $1
	`, id).Scan(&b.ID, &b.SessionID, &b.ItemID, &b.TotalAmount, &b.Status, &b.CreatedAt, &b.ConfirmedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.Wrapf(domain.ErrNotFound, "booking %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get booking")
	}

	items, err := r.bookingItems(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	b.Items = items
	return &b, nil
}

func (r *Repository) ListBookings(ctx context.Context, sessionID string) ([]domain.Booking, error) {
	rows, err := r.query(ctx, `
		SELECT id, session_id, item_id, total_amount::FLOAT8, status, created_at, confirmed_at
		FROM bookings WHERE session_id = $1 ORDER BY created_at
	`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "list bookings")
	}

	var bookings []domain.Booking
	for rows.Next() {
		var b domain.Booking
		if err := rows.Scan(&b.ID, &b.SessionID, &b.ItemID, &b.TotalAmount, &b.Status, &b.CreatedAt, &b.ConfirmedAt); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan booking")
		}
		bookings = append(bookings, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate bookings")
	}

	for i := range bookings {
		items, err := r.bookingItems(ctx, bookings[i].ID)
		if err != nil {
			return nil, err
		}
		bookings[i].Items = items
	}
	return bookings, nil
}

func (r *Repository) bookingItems(ctx context.Context, bookingID uuid.UUID) ([]domain.BookingItem, error) {
	rows, err := r.query(ctx, `
		SELECT tier, quantity, price_per_unit::FLOAT8, subtotal::FLOAT8
		FROM booking_items WHERE booking_id = $1 ORDER BY position
	`, bookingID)
	if err != nil {
		return nil, errors.Wrap(err, "query booking items")
	}
	defer rows.Close()

	var items []domain.BookingItem
	for rows.Next() {
		var item domain.BookingItem
		if err := rows.Scan(&item.Tier, &item.Quantity, &item.PricePerUnit, &item.Subtotal); err != nil {
			return nil, errors.Wrap(err, "scan booking item")
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
