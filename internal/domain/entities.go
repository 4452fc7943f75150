package domain

import (
	"time"

	"github.com/google/uuid"
)

// InventoryRecord is the ledger row for one (item, tier).
type InventoryRecord struct {
	ItemID        string
	Tier          string
	TotalQuantity int
	SoldQuantity  int
}

// Remaining is the headroom left by permanent sales only.
func (r InventoryRecord) Remaining() int {
	return r.TotalQuantity - r.SoldQuantity
}

type Hold struct {
	ID             uuid.UUID `json:"id"`
	SessionID      string    `json:"session_id"`
	ItemID         string    `json:"item_id"`
	Tier           string    `json:"tier"`
	Quantity       int       `json:"quantity"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Active reports whether the hold still counts against availability at now.
func (h Hold) Active(now time.Time) bool {
	return h.ExpiresAt.After(now)
}

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusFailed    BookingStatus = "FAILED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
)

type Booking struct {
	ID          uuid.UUID     `json:"id"`
	SessionID   string        `json:"session_id"`
	ItemID      string        `json:"item_id"`
	TotalAmount float64       `json:"total_amount"`
	Status      BookingStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	ConfirmedAt *time.Time    `json:"confirmed_at,omitempty"`
	Items       []BookingItem `json:"items"`
}

type BookingItem struct {
	Tier         string  `json:"tier"`
	Quantity     int     `json:"quantity"`
	PricePerUnit float64 `json:"price_per_unit"`
	Subtotal     float64 `json:"subtotal"`
}

// Selection is one requested (tier, quantity) pair of a checkout form.
type Selection struct {
	Tier     string `json:"tier"`
	Quantity int    `json:"quantity"`
}

// TierInventory is the derived availability view of one tier.
type TierInventory struct {
	Tier      string `json:"tier"`
	Total     int    `json:"total"`
	Sold      int    `json:"sold"`
	Held      int    `json:"held"`
	Available int    `json:"available"`
}
