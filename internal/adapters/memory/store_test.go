package memory

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/domain"
)

func TestStore_WithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore(time.Second)
	if err := s.EnsureInventory(ctx, "show", "VIP", 10); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context) error {
		if err := s.IncrementSold(ctx, "show", "VIP", 4); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	recs, err := s.GetInventory(ctx, "show")
	if err != nil {
		t.Fatal(err)
	}
	if recs[0].SoldQuantity != 0 {
		t.Fatalf("expected sold 0 after rollback, got %d", recs[0].SoldQuantity)
	}
}

func TestStore_BusyWhenWriterHeld(t *testing.T) {
	ctx := context.Background()
	s := NewStore(20 * time.Millisecond)

	entered := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithTx(ctx, func(ctx context.Context) error {
			close(entered)
			<-done
			return nil
		})
	}()
	<-entered

	err := s.WithTx(ctx, func(ctx context.Context) error { return nil })
	close(done)
	if !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestStore_IncrementSoldGuardsTotal(t *testing.T) {
	ctx := context.Background()
	s := NewStore(time.Second)
	_ = s.EnsureInventory(ctx, "show", "VIP", 3)

	if err := s.IncrementSold(ctx, "show", "VIP", 3); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := s.IncrementSold(ctx, "show", "VIP", 1); !errors.Is(err, domain.ErrInventoryInconsistency) {
		t.Fatalf("expected inconsistency, got %v", err)
	}
}
