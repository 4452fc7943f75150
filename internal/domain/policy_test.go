package domain

import (
	"errors"
	"testing"
	"time"
)

var testPolicy = HoldPolicy{
	HoldDuration:      5 * time.Minute,
	InactivityTimeout: 2 * time.Minute,
	GracePeriod:       time.Minute,
	HardCap:           15 * time.Minute,
	MaxPerTier:        10,
	MaxPerOrder:       12,
}

func TestHoldPolicy_HeartbeatExpiry(t *testing.T) {
	created := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	current := created.Add(5 * time.Minute)

	t.Run("active user gets full refresh", func(t *testing.T) {
		now := created.Add(3 * time.Minute)
		got, extended := testPolicy.HeartbeatExpiry(created, current, now.Add(-10*time.Second), now, true)
		if !extended || !got.Equal(now.Add(5*time.Minute)) {
			t.Fatalf("expected %v extended, got %v %v", now.Add(5*time.Minute), got, extended)
		}
	})

	t.Run("hidden tab gets grace period", func(t *testing.T) {
		now := created.Add(3 * time.Minute)
		got, _ := testPolicy.HeartbeatExpiry(created, current, now, now, false)
		if !got.Equal(now.Add(time.Minute)) {
			t.Fatalf("expected %v, got %v", now.Add(time.Minute), got)
		}
	})

	t.Run("idle user keeps current expiry", func(t *testing.T) {
		now := created.Add(4 * time.Minute)
		got, extended := testPolicy.HeartbeatExpiry(created, current, now.Add(-3*time.Minute), now, true)
		if extended || !got.Equal(current) {
			t.Fatalf("expected %v unchanged, got %v %v", current, got, extended)
		}
	})

	t.Run("hard cap clamps every branch", func(t *testing.T) {
		now := created.Add(13 * time.Minute)
		got, _ := testPolicy.HeartbeatExpiry(created, now.Add(time.Minute), now, now, true)
		if !got.Equal(created.Add(15 * time.Minute)) {
			t.Fatalf("expected clamp to %v, got %v", created.Add(15*time.Minute), got)
		}
	})
}

func TestHoldPolicy_ValidateSelections(t *testing.T) {
	item := &Item{ID: "show", Tiers: []Tier{{Name: "VIP", Price: 100, Total: 100}, {Name: "GA", Price: 40, Total: 500}}}

	cases := []struct {
		name       string
		selections []Selection
		requireAny bool
		want       error
	}{
		{"ok", []Selection{{Tier: "VIP", Quantity: 2}, {Tier: "GA", Quantity: 0}}, false, nil},
		{"unknown tier", []Selection{{Tier: "BALCONY", Quantity: 1}}, false, ErrUnknownTier},
		{"duplicate tier", []Selection{{Tier: "VIP", Quantity: 1}, {Tier: "VIP", Quantity: 1}}, false, ErrInvalidInput},
		{"negative", []Selection{{Tier: "VIP", Quantity: -1}}, false, ErrInvalidInput},
		{"tier cap", []Selection{{Tier: "VIP", Quantity: 11}}, false, ErrTierLimitExceeded},
		{"order cap", []Selection{{Tier: "VIP", Quantity: 7}, {Tier: "GA", Quantity: 6}}, false, ErrOrderLimitExceeded},
		{"empty booking", []Selection{{Tier: "VIP", Quantity: 0}}, true, ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := testPolicy.ValidateSelections(item, tc.selections, tc.requireAny)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestAvailable(t *testing.T) {
	got, err := Available(InventoryRecord{ItemID: "show", Tier: "VIP", TotalQuantity: 100, SoldQuantity: 10}, 5)
	if err != nil || got != 85 {
		t.Fatalf("expected 85, got %d (%v)", got, err)
	}
	if _, err := Available(InventoryRecord{TotalQuantity: 5, SoldQuantity: 4}, 2); !errors.Is(err, ErrInventoryInconsistency) {
		t.Fatalf("expected inconsistency, got %v", err)
	}
}

func TestNewBooking(t *testing.T) {
	item := &Item{ID: "show", Tiers: []Tier{{Name: "VIP", Price: 100}, {Name: "GA", Price: 40}}}
	now := time.Now()
	b, err := NewBooking("s1", item, []Selection{{Tier: "VIP", Quantity: 3}, {Tier: "GA", Quantity: 0}}, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Items) != 1 || b.Items[0].Subtotal != 300 || b.TotalAmount != 300 {
		t.Fatalf("unexpected booking %+v", b)
	}
	if b.Status != BookingStatusConfirmed || b.ConfirmedAt == nil {
		t.Fatalf("expected confirmed booking, got %s", b.Status)
	}
}
