package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/domain"
	"github.com/robertarktes/ticket-holds-and-bookings/internal/observability"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// CachedCatalog reads items through Redis. Cache errors fall back to the
// underlying catalog.
type CachedCatalog struct {
	cache  *Cache
	next   domain.Catalog
	ttl    time.Duration
	logger observability.Logger
}

func NewCachedCatalog(cache *Cache, next domain.Catalog, ttl time.Duration, logger observability.Logger) *CachedCatalog {
	return &CachedCatalog{cache: cache, next: next, ttl: ttl, logger: logger}
}

func catalogKey(itemID string) string {
	return "catalog:item:" + itemID
}

func (c *CachedCatalog) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	raw, err := c.cache.client.Get(ctx, catalogKey(itemID)).Bytes()
	switch {
	case err == nil:
		var item domain.Item
		if err := json.Unmarshal(raw, &item); err == nil {
			return &item, nil
		}
		c.logger.WithField("item_id", itemID).Warn("discarding undecodable catalog entry")
	case err != redis.Nil:
		c.logger.WithError(err).Warn("catalog cache read failed")
	}

	item, err := c.next.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(item); err == nil {
		if err := c.cache.client.Set(ctx, catalogKey(itemID), data, c.ttl).Err(); err != nil {
			c.logger.WithError(err).Warn("catalog cache write failed")
		}
	}
	return item, nil
}

