package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/domain"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("items"),
		logger: logger,
	}
}

type ItemDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Tiers     []TierDoc `bson:"tiers"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type TierDoc struct {
	Name  string  `bson:"name"`
	Price float64 `bson:"price"`
	Total int     `bson:"total"`
}

func (d ItemDoc) toDomain() *domain.Item {
	item := &domain.Item{ID: d.ID, Name: d.Name, Tiers: make([]domain.Tier, 0, len(d.Tiers))}
	for _, t := range d.Tiers {
		item.Tiers = append(item.Tiers, domain.Tier{Name: t.Name, Price: t.Price, Total: t.Total})
	}
	return item
}

func (c *CatalogRepository) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	var doc ItemDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": itemID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrapf(domain.ErrNotFound, "item %s", itemID)
	}
	if err != nil {
		c.logger.WithError(err).Error("failed to get item")
		return nil, err
	}
	return doc.toDomain(), nil
}

// ListItems returns the whole catalog, used to provision inventory rows.
func (c *CatalogRepository) ListItems(ctx context.Context) ([]domain.Item, error) {
	cur, err := c.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var items []domain.Item
	for cur.Next(ctx) {
		var doc ItemDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		items = append(items, *doc.toDomain())
	}
	return items, cur.Err()
}

func (c *CatalogRepository) UpsertItem(ctx context.Context, item domain.Item) error {
	now := time.Now()
	tiers := make([]TierDoc, 0, len(item.Tiers))
	for _, t := range item.Tiers {
		tiers = append(tiers, TierDoc{Name: t.Name, Price: t.Price, Total: t.Total})
	}
	_, err := c.coll.UpdateOne(
		ctx,
		bson.M{"_id": item.ID},
		bson.M{
			"$set":         bson.M{"name": item.Name, "tiers": tiers, "updated_at": now},
			"$setOnInsert": bson.M{"created_at": now},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		c.logger.WithError(err).Error("failed to upsert item")
		return err
	}
	return nil
}
