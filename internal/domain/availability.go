package domain

import "github.com/cockroachdb/errors"

// Available derives available = total - sold - held. A negative result means
// the ledger and the hold store disagree and is reported as an inconsistency.
func Available(rec InventoryRecord, held int) (int, error) {
	avail := rec.TotalQuantity - rec.SoldQuantity - held
	if avail < 0 || rec.SoldQuantity > rec.TotalQuantity {
		return 0, errors.Wrapf(ErrInventoryInconsistency,
			"item %s tier %s: total=%d sold=%d held=%d", rec.ItemID, rec.Tier, rec.TotalQuantity, rec.SoldQuantity, held)
	}
	return avail, nil
}
