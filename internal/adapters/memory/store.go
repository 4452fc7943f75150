// Package memory is a single-writer in-process store with the same contract
// as the crdb repository. Units of work are serialized and rolled back on
// error.
package memory

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/domain"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/observability"
)

type txKey struct{}

type invKey struct{ item, tier string }

type holdKey struct{ session, item, tier string }

type Event struct {
	Type        string
	AggregateID uuid.UUID
	Payload     []byte
}

type state struct {
	inventory map[invKey]domain.InventoryRecord
	holds     map[holdKey]domain.Hold
	bookings  []domain.Booking
	events    []Event
}

func (s state) clone() state {
	c := state{
		inventory: make(map[invKey]domain.InventoryRecord, len(s.inventory)),
		holds:     make(map[holdKey]domain.Hold, len(s.holds)),
		bookings:  append([]domain.Booking(nil), s.bookings...),
		events:    append([]Event(nil), s.events...),
	}
	for k, v := range s.inventory {
		c.inventory[k] = v
	}
	for k, v := range s.holds {
		c.holds[k] = v
	}
	return c
}

type Store struct {
	writer      chan struct{}
	lockTimeout time.Duration
	st          state
}

// NewStore returns an empty store. Callers waiting longer than lockTimeout
// for the writer slot fail with domain.ErrBusy.
func NewStore(lockTimeout time.Duration) *Store {
	return &Store{
		writer:      make(chan struct{}, 1),
		lockTimeout: lockTimeout,
		st: state{
			inventory: make(map[invKey]domain.InventoryRecord),
			holds:     make(map[holdKey]domain.Hold),
		},
	}
}

func (s *Store) acquire(ctx context.Context) error {
	var timeout <-chan time.Time
	if s.lockTimeout > 0 {
		t := time.NewTimer(s.lockTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case s.writer <- struct{}{}:
		return nil
	case <-timeout:
		return errors.Mark(errors.New("writer slot wait timed out"), domain.ErrBusy)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release() {
	<-s.writer
}

// WithTx runs fn holding the writer slot. State is restored if fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	start := time.Now()
	snapshot := s.st.clone()
	defer func() {
		result := "commit"
		if err != nil {
			s.st = snapshot
			result = "rollback"
		}
		observability.StoreTxDuration.WithLabelValues("memory", result).Observe(time.Since(start).Seconds())
	}()
	return fn(context.WithValue(ctx, txKey{}, true))
}

// run executes a single statement, inside the caller's unit if any.
func (s *Store) run(ctx context.Context, fn func() error) error {
	if ctx.Value(txKey{}) != nil {
		return fn()
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return fn()
}

func (s *Store) EnsureInventory(ctx context.Context, itemID, tier string, total int) error {
	return s.run(ctx, func() error {
		k := invKey{itemID, tier}
		if _, ok := s.st.inventory[k]; !ok {
			s.st.inventory[k] = domain.InventoryRecord{ItemID: itemID, Tier: tier, TotalQuantity: total}
		}
		return nil
	})
}

func (s *Store) LockInventory(ctx context.Context, itemID string) ([]domain.InventoryRecord, error) {
	return s.GetInventory(ctx, itemID)
}

func (s *Store) GetInventory(ctx context.Context, itemID string) ([]domain.InventoryRecord, error) {
	var recs []domain.InventoryRecord
	err := s.run(ctx, func() error {
		for k, rec := range s.st.inventory {
			if k.item == itemID {
				recs = append(recs, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, errors.Wrapf(domain.ErrNotFound, "inventory for item %s", itemID)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Tier < recs[j].Tier })
	return recs, nil
}

func (s *Store) IncrementSold(ctx context.Context, itemID, tier string, qty int) error {
	return s.run(ctx, func() error {
		k := invKey{itemID, tier}
		rec, ok := s.st.inventory[k]
		if !ok || rec.SoldQuantity+qty > rec.TotalQuantity {
			return errors.Wrapf(domain.ErrInventoryInconsistency, "item %s tier %s cannot absorb %d", itemID, tier, qty)
		}
		rec.SoldQuantity += qty
		s.st.inventory[k] = rec
		return nil
	})
}
