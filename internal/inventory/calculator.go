package inventory

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/clock"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/domain"
)

type Store interface {
	GetInventory(ctx context.Context, itemID string) ([]domain.InventoryRecord, error)
	SumActiveHolds(ctx context.Context, itemID, tier string, now time.Time) (int, error)
	SumActiveHoldsByTier(ctx context.Context, itemID string, now time.Time) (map[string]int, error)
}

// Calculator derives availability from the ledger and the hold store. It
// never caches: every call reads current state, through the caller's
// transaction when the context carries one.
type Calculator struct {
	store Store
	clock clock.Clock
}

func NewCalculator(store Store, clk clock.Clock) *Calculator {
	return &Calculator{store: store, clock: clk}
}

// Available is total - sold - active held for the record's tier at now. The
// record must have been read in the same unit of work.
func (c *Calculator) Available(ctx context.Context, rec domain.InventoryRecord, now time.Time) (int, error) {
	held, err := c.store.SumActiveHolds(ctx, rec.ItemID, rec.Tier, now)
	if err != nil {
		return 0, err
	}
	return domain.Available(rec, held)
}

// Inventory is the getInventory read: one row per tier.
func (c *Calculator) Inventory(ctx context.Context, itemID string) ([]domain.TierInventory, error) {
	now := c.clock.Now()
	recs, err := c.store.GetInventory(ctx, itemID)
	if err != nil {
		return nil, err
	}
	held, err := c.store.SumActiveHoldsByTier(ctx, itemID, now)
	if err != nil {
		return nil, err
	}

	out := make([]domain.TierInventory, 0, len(recs))
	for _, rec := range recs {
		avail, err := domain.Available(rec, held[rec.Tier])
		if err != nil {
			// Snapshot reads may straddle a commit.
			if !errors.Is(err, domain.ErrInventoryInconsistency) {
				return nil, err
			}
			avail = 0
		}
		out = append(out, domain.TierInventory{
			Tier:      rec.Tier,
			Total:     rec.TotalQuantity,
			Sold:      rec.SoldQuantity,
			Held:      held[rec.Tier],
			Available: avail,
		})
	}
	return out, nil
}
