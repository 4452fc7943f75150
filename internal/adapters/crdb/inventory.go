package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/domain"
)

// EnsureInventory provisions a ledger row; an existing row is left untouched.
func (r *Repository) EnsureInventory(ctx context.Context, itemID, tier string, total int) error {
	_, err := r.exec(ctx, `
		INSERT INTO inventory (item_id, tier, total_quantity, sold_quantity)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (item_id, tier) DO NOTHING
	`, itemID, tier, total)
	return errors.Wrap(err, "ensure inventory")
}

// LockInventory reads the item's ledger rows with FOR UPDATE, taking the
// write intent before any dependent read. Rows lock in tier order.
func (r *Repository) LockInventory(ctx context.Context, itemID string) ([]domain.InventoryRecord, error) {
	return r.inventory(ctx, `
		SELECT item_id, tier, total_quantity, sold_quantity
		FROM inventory WHERE item_id = $1 ORDER BY tier FOR UPDATE
	`, itemID)
}

// GetInventory is the non-locking snapshot read.
func (r *Repository) GetInventory(ctx context.Context, itemID string) ([]domain.InventoryRecord, error) {
	return r.inventory(ctx, `
		SELECT item_id, tier, total_quantity, sold_quantity
		FROM inventory WHERE item_id = $1 ORDER BY tier
	`, itemID)
}

func (r *Repository) inventory(ctx context.Context, sql, itemID string) ([]domain.InventoryRecord, error) {
	rows, err := r.query(ctx, sql, itemID)
	if err != nil {
		return nil, errors.Wrap(err, "query inventory")
	}
	defer rows.Close()

	var recs []domain.InventoryRecord
	for rows.Next() {
		var rec domain.InventoryRecord
		if err := rows.Scan(&rec.ItemID, &rec.Tier, &rec.TotalQuantity, &rec.SoldQuantity); err != nil {
			return nil, errors.Wrap(err, "scan inventory")
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate inventory")
	}
	if len(recs) == 0 {
		return nil, errors.Wrapf(domain.ErrNotFound, "inventory for item %s", itemID)
	}
	return recs, nil
}

// IncrementSold records a sale. The guard makes an oversell surface as an
// inconsistency instead of a constraint violation.
func (r *Repository) IncrementSold(ctx context.Context, itemID, tier string, qty int) error {
	result, err := r.exec(ctx, `
		UPDATE inventory SET sold_quantity = sold_quantity + $3
		WHERE item_id = $1 AND tier = $2 AND sold_quantity + $3 <= total_quantity
	`, itemID, tier, qty)
	if err != nil {
		return errors.Wrap(err, "increment sold")
	}
	if result.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrInventoryInconsistency, "item %s tier %s cannot absorb %d", itemID, tier, qty)
	}
	return nil
}
