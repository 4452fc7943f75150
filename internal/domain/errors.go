package domain

import "github.com/cockroachdb/errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrBusy                 = errors.New("store busy")
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")

	ErrUnknownTier        = errors.Wrap(ErrInvalidInput, "unknown tier")
	ErrTierLimitExceeded  = errors.Wrap(ErrInvalidInput, "per-tier limit exceeded")
	ErrOrderLimitExceeded = errors.Wrap(ErrInvalidInput, "per-order limit exceeded")

	ErrCapacityUnavailable       = errors.New("capacity unavailable")
	ErrNoActiveHolds             = errors.New("no active holds")
	ErrHoldMissingOrInsufficient = errors.New("hold missing or insufficient")
	ErrPaymentDeclined           = errors.New("payment declined")
	ErrInventoryInconsistency    = errors.New("inventory inconsistency")
)

// Retryable reports whether a business outcome may be retried without
// re-reserving.
func Retryable(err error) bool {
	return errors.Is(err, ErrPaymentDeclined)
}
