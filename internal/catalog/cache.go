package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-grocery/internal/common"
	"github.com/noah-isme/backend-grocery/internal/obs"
)

const (
	productVersionKey = "catalog:products:version"
	categoriesKey     = "categories"
)

// Cache stores product listings in Redis. Every write bumps a version
// counter that is part of each listing key, so stale pages simply stop being
// addressed and expire on their own.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

// ListKey derives the cache key for a listing under the current version.
func (c *Cache) ListKey(ctx context.Context, params ListParams) (string, error) {
	version, err := c.client.Get(ctx, productVersionKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return "catalog:products:v" + strconv.FormatInt(version, 10) + ":" + common.Sha256Hex(string(raw)), nil
}

// GetJSON unmarshals a cached JSON payload into dst. It reports whether the key existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if !c.enabled() || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON serialises v as JSON and stores it with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if !c.enabled() || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Invalidate bumps the listing version.
func (c *Cache) Invalidate(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	return c.client.Incr(ctx, productVersionKey).Err()
}

// categoryCache keeps the category list in process memory.
type categoryCache struct {
	c *gocache.Cache
}

func newCategoryCache(ttl time.Duration) *categoryCache {
	if ttl <= 0 {
		return &categoryCache{}
	}
	return &categoryCache{c: gocache.New(ttl, 2*ttl)}
}

func (cc *categoryCache) get() ([]Category, bool) {
	if cc == nil || cc.c == nil {
		return nil, false
	}
	v, ok := cc.c.Get(categoriesKey)
	if !ok {
		obs.ObserveCatalogCache(false)
		return nil, false
	}
	obs.ObserveCatalogCache(true)
	return v.([]Category), true
}

func (cc *categoryCache) set(items []Category) {
	if cc == nil || cc.c == nil {
		return
	}
	cc.c.SetDefault(categoriesKey, items)
}

func (cc *categoryCache) flush() {
	if cc == nil || cc.c == nil {
		return
	}
	cc.c.Delete(categoriesKey)
}
