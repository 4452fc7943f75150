package holds

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/clock"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/domain"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/inventory"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockInventory(ctx context.Context, itemID string) ([]domain.InventoryRecord, error)
	GetHold(ctx context.Context, sessionID, itemID, tier string) (*domain.Hold, error)
	UpsertHold(ctx context.Context, hold domain.Hold) (domain.Hold, error)
	DeleteHold(ctx context.Context, sessionID, itemID, tier string) error
	DeleteHoldsForItem(ctx context.Context, sessionID, itemID string) (int, error)
	DeleteHoldsForSession(ctx context.Context, sessionID string) ([]string, error)
	DeleteExpiredHolds(ctx context.Context, now time.Time) ([]string, int, error)
	ListActiveHolds(ctx context.Context, sessionID, itemID string, now time.Time) ([]domain.Hold, error)
	UpdateHoldsExpiry(ctx context.Context, sessionID, itemID string, expiresAt, lastActivityAt, now time.Time) error
}

// Manager owns every write to holds.
type Manager struct {
	store    Store
	calc     *inventory.Calculator
	catalog  domain.Catalog
	notifier domain.InventoryNotifier
	policy   domain.HoldPolicy
	clock    clock.Clock
	logger   observability.Logger
	tracer   trace.Tracer
}

func NewManager(store Store, calc *inventory.Calculator, catalog domain.Catalog, notifier domain.InventoryNotifier, policy domain.HoldPolicy, clk clock.Clock, logger observability.Logger) *Manager {
	if notifier == nil {
		notifier = domain.NopNotifier{}
	}
	return &Manager{
		store:    store,
		calc:     calc,
		catalog:  catalog,
		notifier: notifier,
		policy:   policy,
		clock:    clk,
		logger:   logger,
		tracer:   observability.Tracer("holds"),
	}
}

// UnavailableTier reports a tier whose increase could not be granted.
type UnavailableTier struct {
	Tier      string `json:"tier"`
	Requested int    `json:"requested"`
	Held      int    `json:"held"`
	Available int    `json:"available"`
}

type HoldResult struct {
	Success          bool
	Holds            []domain.Hold
	UnavailableTiers []UnavailableTier
	// Err is domain.ErrCapacityUnavailable when some tier was rejected.
	Err error
}

// CreateOrUpdateHolds sets the session's held quantity per tier in one unit
// of work. Tiers that cannot grow are reported; the others are applied.
func (m *Manager) CreateOrUpdateHolds(ctx context.Context, sessionID, itemID string, selections []domain.Selection) (HoldResult, error) {
	ctx, span := m.tracer.Start(ctx, "holds.CreateOrUpdateHolds", trace.WithAttributes(
		attribute.String("session.id", sessionID), attribute.String("item.id", itemID)))
	defer span.End()

	if sessionID == "" {
		return HoldResult{}, errors.Wrap(domain.ErrInvalidInput, "session id required")
	}
	item, err := m.catalog.GetItem(ctx, itemID)
	if err != nil {
		return HoldResult{}, errors.Wrapf(err, "load item %s", itemID)
	}
	if err := m.policy.ValidateSelections(item, selections, false); err != nil {
		return HoldResult{}, err
	}

	var result HoldResult
	err = m.store.WithTx(ctx, func(ctx context.Context) error {
		result = HoldResult{}
		now := m.clock.Now()

		recs, err := m.store.LockInventory(ctx, itemID)
		if err != nil {
			return err
		}
		ledger := make(map[string]domain.InventoryRecord, len(recs))
		for _, rec := range recs {
			ledger[rec.Tier] = rec
		}

		for _, sel := range selections {
			if sel.Quantity == 0 {
				if err := m.store.DeleteHold(ctx, sessionID, itemID, sel.Tier); err != nil {
					return err
				}
				continue
			}

			rec, ok := ledger[sel.Tier]
			if !ok {
				return errors.Wrapf(domain.ErrNotFound, "inventory for item %s tier %s", itemID, sel.Tier)
			}

			existing, err := m.store.GetHold(ctx, sessionID, itemID, sel.Tier)
			if err != nil {
				return err
			}
			held, createdAt := 0, now
			if existing != nil && existing.Active(now) {
				held, createdAt = existing.Quantity, existing.CreatedAt
			}

			if delta := sel.Quantity - held; delta > 0 {
				avail, err := m.calc.Available(ctx, rec, now)
				if err != nil {
					return err
				}
				if delta > avail {
					result.UnavailableTiers = append(result.UnavailableTiers, UnavailableTier{
						Tier: sel.Tier, Requested: sel.Quantity, Held: held, Available: avail,
					})
					continue
				}
			}

			if _, err := m.store.UpsertHold(ctx, domain.Hold{
				ID:             uuid.New(),
				SessionID:      sessionID,
				ItemID:         itemID,
				Tier:           sel.Tier,
				Quantity:       sel.Quantity,
				CreatedAt:      createdAt,
				ExpiresAt:      m.policy.FreshExpiry(createdAt, now),
				LastActivityAt: now,
			}); err != nil {
				return err
			}
		}

		holds, err := m.store.ListActiveHolds(ctx, sessionID, itemID, now)
		if err != nil {
			return err
		}
		result.Holds = holds
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return HoldResult{}, err
	}

	rejected := make(map[string]bool, len(result.UnavailableTiers))
	for _, u := range result.UnavailableTiers {
		rejected[u.Tier] = true
		observability.HoldsRejected.WithLabelValues(u.Tier).Inc()
	}
	for _, sel := range selections {
		if sel.Quantity > 0 && !rejected[sel.Tier] {
			observability.HoldsReserved.WithLabelValues(sel.Tier).Inc()
		}
	}

	result.Success = len(result.UnavailableTiers) == 0
	if !result.Success {
		result.Err = domain.ErrCapacityUnavailable
		m.logger.WithField("session_id", sessionID).WithField("item_id", itemID).
			WithField("rejected", result.UnavailableTiers).Debug("hold increase rejected")
	}
	m.notifier.InventoryChanged(ctx, itemID)
	return result, nil
}

type HeartbeatResult struct {
	Success   bool
	Holds     []domain.Hold
	NewExpiry time.Time
	Extended  bool
	// Err is domain.ErrNoActiveHolds when there was nothing to extend.
	Err error
}

// ProcessHeartbeat moves all of the (session, item) holds to one expiry
// chosen by the heartbeat policy. It never creates holds.
func (m *Manager) ProcessHeartbeat(ctx context.Context, sessionID, itemID string, lastActivityAt time.Time, tabVisible bool) (HeartbeatResult, error) {
	ctx, span := m.tracer.Start(ctx, "holds.ProcessHeartbeat", trace.WithAttributes(
		attribute.String("session.id", sessionID), attribute.String("item.id", itemID), attribute.Bool("tab.visible", tabVisible)))
	defer span.End()

	var result HeartbeatResult
	err := m.store.WithTx(ctx, func(ctx context.Context) error {
		result = HeartbeatResult{}
		now := m.clock.Now()

		if _, err := m.store.LockInventory(ctx, itemID); err != nil {
			return err
		}
		holds, err := m.store.ListActiveHolds(ctx, sessionID, itemID, now)
		if err != nil {
			return err
		}
		if len(holds) == 0 {
			result.Err = domain.ErrNoActiveHolds
			return nil
		}

		oldest, current := holds[0].CreatedAt, holds[0].ExpiresAt
		for _, h := range holds[1:] {
			if h.CreatedAt.Before(oldest) {
				oldest = h.CreatedAt
			}
			if h.ExpiresAt.Before(current) {
				current = h.ExpiresAt
			}
		}

		expiry, extended := m.policy.HeartbeatExpiry(oldest, current, lastActivityAt, now, tabVisible)
		result.NewExpiry, result.Extended = expiry, extended
		if !extended {
			result.Holds = holds
			return nil
		}

		if err := m.store.UpdateHoldsExpiry(ctx, sessionID, itemID, expiry, lastActivityAt, now); err != nil {
			return err
		}
		result.Holds, err = m.store.ListActiveHolds(ctx, sessionID, itemID, now)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return HeartbeatResult{}, err
	}

	switch {
	case result.Err != nil:
		observability.Heartbeats.WithLabelValues("no_holds").Inc()
	case result.Extended:
		observability.Heartbeats.WithLabelValues("extended").Inc()
		result.Success = true
	default:
		observability.Heartbeats.WithLabelValues("idle").Inc()
		result.Success = true
	}
	return result, nil
}

// ReleaseHolds drops every hold the session has on the item.
func (m *Manager) ReleaseHolds(ctx context.Context, sessionID, itemID string) error {
	var n int
	err := m.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		n, err = m.store.DeleteHoldsForItem(ctx, sessionID, itemID)
		return err
	})
	if err != nil {
		return err
	}
	if n > 0 {
		m.notifier.InventoryChanged(ctx, itemID)
	}
	return nil
}

// ReleaseAllHolds drops every hold of the session.
func (m *Manager) ReleaseAllHolds(ctx context.Context, sessionID string) error {
	var items []string
	err := m.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		items, err = m.store.DeleteHoldsForSession(ctx, sessionID)
		return err
	})
	if err != nil {
		return err
	}
	if len(items) > 0 {
		m.notifier.InventoryChanged(ctx, items...)
	}
	return nil
}

// CleanupExpiredHolds deletes holds with expiresAt <= now and returns how
// many were removed.
func (m *Manager) CleanupExpiredHolds(ctx context.Context) (int, error) {
	var (
		items []string
		n     int
	)
	err := m.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		items, n, err = m.store.DeleteExpiredHolds(ctx, m.clock.Now())
		return err
	})
	if err != nil {
		return 0, err
	}
	if len(items) > 0 {
		m.notifier.InventoryChanged(ctx, items...)
	}
	return n, nil
}

func (m *Manager) GetHoldsForSession(ctx context.Context, sessionID string) ([]domain.Hold, error) {
	return m.store.ListActiveHolds(ctx, sessionID, "", m.clock.Now())
}

func (m *Manager) GetHoldsForItem(ctx context.Context, sessionID, itemID string) ([]domain.Hold, error) {
	return m.store.ListActiveHolds(ctx, sessionID, itemID, m.clock.Now())
}
