package repositories

import (
	"context"
	"time"

	"github.com/dealmoa/deal-crawler/internal/domain/models"
	gocache "github.com/patrickmn/go-cache"
)

type dealStore interface {
	FindBySourceAndExternalID(ctx context.Context, source models.Source, externalID string) (*models.DealRecord, error)
	Create(ctx context.Context, item models.DealItem) (*models.DealRecord, error)
	Update(ctx context.Context, id string, item models.DealItem) (*models.DealRecord, error)
	RemoveOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// CachedDeals keeps recently seen records by identity key so repeated crawls of
// the same listing skip the lookup query. Writes always go to the wrapped store.
type CachedDeals struct {
	store dealStore
	cache *gocache.Cache
}

func NewCachedDeals(store dealStore, ttl time.Duration) *CachedDeals {
	return &CachedDeals{store: store, cache: gocache.New(ttl, 2*ttl)}
}

func (c *CachedDeals) FindBySourceAndExternalID(ctx context.Context, source models.Source, externalID string) (*models.DealRecord, error) {
	if externalID == "" {
		return nil, nil
	}

	if value, found := c.cache.Get(identityKey(source, externalID)); found {
		record := value.(models.DealRecord)
		return &record, nil
	}

	record, err := c.store.FindBySourceAndExternalID(ctx, source, externalID)
	if record != nil {
		c.remember(*record)
	}
	return record, err
}

func (c *CachedDeals) Create(ctx context.Context, item models.DealItem) (*models.DealRecord, error) {
	record, err := c.store.Create(ctx, item)
	if record != nil {
		c.remember(*record)
	}
	return record, err
}

func (c *CachedDeals) Update(ctx context.Context, id string, item models.DealItem) (*models.DealRecord, error) {
	record, err := c.store.Update(ctx, id, item)
	if err != nil {
		c.forget(item.Source, item.ExternalPostID)
		return nil, err
	}
	c.remember(*record)
	return record, nil
}

// RemoveOlderThan purges the wrapped store and drops every cached record.
func (c *CachedDeals) RemoveOlderThan(ctx context.Context, before time.Time) (int64, error) {
	removed, err := c.store.RemoveOlderThan(ctx, before)
	c.cache.Flush()
	return removed, err
}

func (c *CachedDeals) remember(record models.DealRecord) {
	if record.ExternalPostID == "" {
		return
	}
	c.cache.Set(identityKey(record.Source, record.ExternalPostID), record, gocache.DefaultExpiration)
}

func (c *CachedDeals) forget(source models.Source, externalID string) {
	c.cache.Delete(identityKey(source, externalID))
}

func identityKey(source models.Source, externalID string) string {
	return string(source) + "\x00" + externalID
}
