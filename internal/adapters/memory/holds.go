package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/domain"
)

func (s *Store) SumActiveHolds(ctx context.Context, itemID, tier string, now time.Time) (int, error) {
	total := 0
	err := s.run(ctx, func() error {
		for _, h := range s.st.holds {
			if h.ItemID == itemID && h.Tier == tier && h.Active(now) {
				total += h.Quantity
			}
		}
		return nil
	})
	return total, err
}

func (s *Store) SumActiveHoldsByTier(ctx context.Context, itemID string, now time.Time) (map[string]int, error) {
	held := make(map[string]int)
	err := s.run(ctx, func() error {
		for _, h := range s.st.holds {
			if h.ItemID == itemID && h.Active(now) {
				held[h.Tier] += h.Quantity
			}
		}
		return nil
	})
	return held, err
}

func (s *Store) GetHold(ctx context.Context, sessionID, itemID, tier string) (*domain.Hold, error) {
	var found *domain.Hold
	err := s.run(ctx, func() error {
		if h, ok := s.st.holds[holdKey{sessionID, itemID, tier}]; ok {
			found = &h
		}
		return nil
	})
	return found, err
}

func (s *Store) UpsertHold(ctx context.Context, hold domain.Hold) (domain.Hold, error) {
	err := s.run(ctx, func() error {
		k := holdKey{hold.SessionID, hold.ItemID, hold.Tier}
		if existing, ok := s.st.holds[k]; ok {
			hold.ID = existing.ID
		}
		if hold.ID == uuid.Nil {
			hold.ID = uuid.New()
		}
		s.st.holds[k] = hold
		return nil
	})
	return hold, err
}

func (s *Store) DeleteHold(ctx context.Context, sessionID, itemID, tier string) error {
	return s.run(ctx, func() error {
		delete(s.st.holds, holdKey{sessionID, itemID, tier})
		return nil
	})
}

func (s *Store) DeleteHoldsForItem(ctx context.Context, sessionID, itemID string) (int, error) {
	n := 0
	err := s.run(ctx, func() error {
		for k := range s.st.holds {
			if k.session == sessionID && k.item == itemID {
				delete(s.st.holds, k)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (s *Store) DeleteHoldsForSession(ctx context.Context, sessionID string) ([]string, error) {
	var items []string
	err := s.run(ctx, func() error {
		items, _ = s.deleteWhere(func(h domain.Hold) bool { return h.SessionID == sessionID })
		return nil
	})
	return items, err
}

func (s *Store) DeleteExpiredHolds(ctx context.Context, now time.Time) ([]string, int, error) {
	var items []string
	n := 0
	err := s.run(ctx, func() error {
		items, n = s.deleteWhere(func(h domain.Hold) bool { return !h.Active(now) })
		return nil
	})
	return items, n, err
}

func (s *Store) deleteWhere(match func(domain.Hold) bool) ([]string, int) {
	seen := make(map[string]struct{})
	var items []string
	n := 0
	for k, h := range s.st.holds {
		if !match(h) {
			continue
		}
		delete(s.st.holds, k)
		n++
		if _, ok := seen[h.ItemID]; !ok {
			seen[h.ItemID] = struct{}{}
			items = append(items, h.ItemID)
		}
	}
	sort.Strings(items)
	return items, n
}

func (s *Store) ListActiveHolds(ctx context.Context, sessionID, itemID string, now time.Time) ([]domain.Hold, error) {
	var holds []domain.Hold
	err := s.run(ctx, func() error {
		for _, h := range s.st.holds {
			if h.SessionID == sessionID && (itemID == "" || h.ItemID == itemID) && h.Active(now) {
				holds = append(holds, h)
			}
		}
		return nil
	})
	sort.Slice(holds, func(i, j int) bool {
		if holds[i].ItemID != holds[j].ItemID {
			return holds[i].ItemID < holds[j].ItemID
		}
		return holds[i].Tier < holds[j].Tier
	})
	return holds, err
}

func (s *Store) UpdateHoldsExpiry(ctx context.Context, sessionID, itemID string, expiresAt, lastActivityAt, now time.Time) error {
	return s.run(ctx, func() error {
		for k, h := range s.st.holds {
			if k.session == sessionID && k.item == itemID && h.Active(now) {
				h.ExpiresAt = expiresAt
				h.LastActivityAt = lastActivityAt
				s.st.holds[k] = h
			}
		}
		return nil
	})
}
