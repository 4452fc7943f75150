package domain

import "context"

// Tier is the catalog entry of a priced category of an item.
type Tier struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Total int     `json:"total"`
}

type Item struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Tiers []Tier `json:"tiers"`
}

// Tier looks up a tier by name.
func (i Item) Tier(name string) (Tier, bool) {
	for _, t := range i.Tiers {
		if t.Name == name {
			return t, true
		}
	}
	return Tier{}, false
}

// Catalog supplies items, tiers and pricing. It is read-only to the engine.
type Catalog interface {
	GetItem(ctx context.Context, itemID string) (*Item, error)
}

// StaticCatalog is an in-process catalog keyed by item id.
type StaticCatalog map[string]Item

func (c StaticCatalog) GetItem(_ context.Context, itemID string) (*Item, error) {
	item, ok := c[itemID]
	if !ok {
		return nil, ErrNotFound
	}
	return &item, nil
}

// InventoryNotifier is told about items whose inventory changed.
type InventoryNotifier interface {
	InventoryChanged(ctx context.Context, itemIDs ...string)
}

type NopNotifier struct{}

func (NopNotifier) InventoryChanged(context.Context, ...string) {}
