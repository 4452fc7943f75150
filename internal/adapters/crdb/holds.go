package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/domain"
)

const holdColumns = `id, session_id, item_id, tier, quantity, created_at, expires_at, last_activity_at`

func scanHold(row pgx.Row) (domain.Hold, error) {
	var h domain.Hold
	err := row.Scan(&h.ID, &h.SessionID, &h.ItemID, &h.Tier, &h.Quantity, &h.CreatedAt, &h.ExpiresAt, &h.LastActivityAt)
	return h, err
}

func (r *Repository) SumActiveHolds(ctx context.Context, itemID, tier string, now time.Time) (int, error) {
	var total int
	err := r.queryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)::INT
		FROM holds WHERE item_id = $1 AND tier = $2 AND expires_at > $3
	`, itemID, tier, now).Scan(&total)
	if err != nil {
		return 0, errors.Wrap(err, "sum active holds")
	}
	return total, nil
}

func (r *Repository) SumActiveHoldsByTier(ctx context.Context, itemID string, now time.Time) (map[string]int, error) {
	rows, err := r.query(ctx, `
		SELECT tier, COALESCE(SUM(quantity), 0)::INT
		FROM holds WHERE item_id = $1 AND expires_at > $2
		GROUP BY tier
	`, itemID, now)
	if err != nil {
		return nil, errors.Wrap(err, "sum active holds by tier")
	}
	defer rows.Close()

	held := make(map[string]int)
	for rows.Next() {
		var tier string
		var qty int
		if err := rows.Scan(&tier, &qty); err != nil {
			return nil, errors.Wrap(err, "scan held quantity")
		}
		held[tier] = qty
	}
	return held, rows.Err()
}

// GetHold returns the (possibly expired) hold for the triple, or nil.
func (r *Repository) GetHold(ctx context.Context, sessionID, itemID, tier string) (*domain.Hold, error) {
	h, err := scanHold(r.queryRow(ctx, `
		SELECT `+holdColumns+`
		FROM holds WHERE session_id = $1 AND item_id = $2 AND tier = $3
	`, sessionID, itemID, tier))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get hold")
	}
	return &h, nil
}

// UpsertHold writes the hold for its (session, item, tier). An existing row
// keeps its id.
func (r *Repository) UpsertHold(ctx context.Context, hold domain.Hold) (domain.Hold, error) {
	h, err := scanHold(r.queryRow(ctx, `
		INSERT INTO holds (`+holdColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id, item_id, tier) DO UPDATE SET
			quantity = excluded.quantity,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			last_activity_at = excluded.last_activity_at
		RETURNING `+holdColumns,
		hold.ID, hold.SessionID, hold.ItemID, hold.Tier, hold.Quantity, hold.CreatedAt, hold.ExpiresAt, hold.LastActivityAt))
	if err != nil {
		return domain.Hold{}, errors.Wrap(err, "upsert hold")
	}
	return h, nil
}

func (r *Repository) DeleteHold(ctx context.Context, sessionID, itemID, tier string) error {
	_, err := r.exec(ctx, `
		DELETE FROM holds WHERE session_id = $1 AND item_id = $2 AND tier = $3
	`, sessionID, itemID, tier)
	return errors.Wrap(err, "delete hold")
}

func (r *Repository) DeleteHoldsForItem(ctx context.Context, sessionID, itemID string) (int, error) {
	result, err := r.exec(ctx, `
		DELETE FROM holds WHERE session_id = $1 AND item_id = $2
	`, sessionID, itemID)
	if err != nil {
		return 0, errors.Wrap(err, "delete holds for item")
	}
	return int(result.RowsAffected()), nil
}

// DeleteHoldsForSession removes every hold of the session and returns the
// distinct items affected.
func (r *Repository) DeleteHoldsForSession(ctx context.Context, sessionID string) ([]string, error) {
	return r.deleteReturningItems(ctx, `
		DELETE FROM holds WHERE session_id = $1 RETURNING item_id
	`, sessionID)
}

// DeleteExpiredHolds removes holds whose expiry is at or before now.
func (r *Repository) DeleteExpiredHolds(ctx context.Context, now time.Time) ([]string, int, error) {
	rows, err := r.query(ctx, `DELETE FROM holds WHERE expires_at <= $1 RETURNING item_id`, now)
	if err != nil {
		return nil, 0, errors.Wrap(err, "delete expired holds")
	}
	items, n, err := collectItems(rows)
	return items, n, errors.Wrap(err, "delete expired holds")
}

func (r *Repository) deleteReturningItems(ctx context.Context, sql string, args ...any) ([]string, error) {
	rows, err := r.query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "delete holds")
	}
	items, _, err := collectItems(rows)
	return items, errors.Wrap(err, "delete holds")
}

func collectItems(rows pgx.Rows) ([]string, int, error) {
	defer rows.Close()
	seen := make(map[string]struct{})
	var items []string
	n := 0
	for rows.Next() {
		var itemID string
		if err := rows.Scan(&itemID); err != nil {
			return nil, 0, err
		}
		n++
		if _, ok := seen[itemID]; !ok {
			seen[itemID] = struct{}{}
			items = append(items, itemID)
		}
	}
	return items, n, rows.Err()
}

// ListActiveHolds returns the session's non-expired holds, optionally
// narrowed to one item.
func (r *Repository) ListActiveHolds(ctx context.Context, sessionID, itemID string, now time.Time) ([]domain.Hold, error) {
	rows, err := r.query(ctx, `
		SELECT `+holdColumns+`
		FROM holds
		WHERE session_id = $1 AND ($2 = '' OR item_id = $2) AND expires_at > $3
		ORDER BY item_id, tier
	`, sessionID, itemID, now)
	if err != nil {
		return nil, errors.Wrap(err, "list active holds")
	}
	defer rows.Close()

	var holds []domain.Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan hold")
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}

// UpdateHoldsExpiry moves every active hold of the (session, item) to the
// same expiry.
func (r *Repository) UpdateHoldsExpiry(ctx context.Context, sessionID, itemID string, expiresAt, lastActivityAt, now time.Time) error {
	_, err := r.exec(ctx, `
		UPDATE holds SET expires_at = $3, last_activity_at = $4
		WHERE session_id = $1 AND item_id = $2 AND expires_at > $5
	`, sessionID, itemID, expiresAt, lastActivityAt, now)
	return errors.Wrap(err, "update holds expiry")
}
