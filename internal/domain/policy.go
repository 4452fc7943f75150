package domain

import (
	"time"

	"github.com/cockroachdb/errors"
)

// HoldPolicy carries the timing and quantity limits of the hold lifecycle.
type HoldPolicy struct {
	HoldDuration      time.Duration
	InactivityTimeout time.Duration
	GracePeriod       time.Duration
	HardCap           time.Duration
	MaxPerTier        int
	MaxPerOrder       int
}

// FreshExpiry is the expiry given to a hold on reservation, never later than
// the hard cap measured from createdAt.
func (p HoldPolicy) FreshExpiry(createdAt, now time.Time) time.Time {
	return p.clamp(now.Add(p.HoldDuration), createdAt)
}

// HeartbeatExpiry computes the shared expiry for a checkout session's holds.
// extended is false when the user is idle and current expiry is kept.
func (p HoldPolicy) HeartbeatExpiry(oldestCreatedAt, currentExpiry, lastActivityAt, now time.Time, tabVisible bool) (expiry time.Time, extended bool) {
	switch {
	case !tabVisible:
		expiry = now.Add(p.GracePeriod)
	case now.Sub(lastActivityAt) > p.InactivityTimeout:
		return p.clamp(currentExpiry, oldestCreatedAt), false
	default:
		expiry = now.Add(p.HoldDuration)
	}
	return p.clamp(expiry, oldestCreatedAt), true
}

func (p HoldPolicy) clamp(expiry, createdAt time.Time) time.Time {
	ceiling := createdAt.Add(p.HardCap)
	if expiry.After(ceiling) {
		return ceiling
	}
	return expiry
}

// ValidateSelections rejects malformed or over-limit selections against the
// item's catalog tiers. requireAny demands at least one non-zero quantity.
func (p HoldPolicy) ValidateSelections(item *Item, selections []Selection, requireAny bool) error {
	if len(selections) == 0 {
		return errors.Wrap(ErrInvalidInput, "no selections")
	}
	seen := make(map[string]struct{}, len(selections))
	total := 0
	for _, s := range selections {
		if _, ok := item.Tier(s.Tier); !ok {
			return errors.Wrapf(ErrUnknownTier, "tier %q", s.Tier)
		}
		if _, dup := seen[s.Tier]; dup {
			return errors.Wrapf(ErrInvalidInput, "duplicate tier %q", s.Tier)
		}
		seen[s.Tier] = struct{}{}
		if s.Quantity < 0 {
			return errors.Wrapf(ErrInvalidInput, "negative quantity for tier %q", s.Tier)
		}
		if p.MaxPerTier > 0 && s.Quantity > p.MaxPerTier {
			return errors.Wrapf(ErrTierLimitExceeded, "tier %q: %d > %d", s.Tier, s.Quantity, p.MaxPerTier)
		}
		total += s.Quantity
	}
	if p.MaxPerOrder > 0 && total > p.MaxPerOrder {
		return errors.Wrapf(ErrOrderLimitExceeded, "%d > %d", total, p.MaxPerOrder)
	}
	if requireAny && total == 0 {
		return errors.Wrap(ErrInvalidInput, "nothing selected")
	}
	return nil
}
