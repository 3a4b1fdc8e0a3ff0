// Package cache is a small JSON read-through cache on the shared store,
// namespaced under cache:. Callers use it to memoize run metadata lookups
// that are expensive to recompute per request.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/techtuber101/irisrun/internal/keys"
	"github.com/techtuber101/irisrun/internal/store"
)

// Cache stores JSON-encoded values with bounded TTLs.
type Cache struct {
	store store.Store
}

// New creates a Cache on the given store.
func New(st store.Store) *Cache {
	return &Cache{store: st}
}

// Get decodes the cached value for key into dest. ok is false on a miss.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, ok, err := c.store.Get(ctx, keys.Cache(key))
	if err != nil || !ok {
		return false, err
	}
	if err := sonic.UnmarshalString(raw, dest); err != nil {
		return false, fmt.Errorf("decode cache entry %q: %w", key, err)
	}
	return true, nil
}

// Set encodes value and stores it under key. ttl <= 0 uses the default
// retention.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = keys.CacheTTL
	}
	raw, err := sonic.MarshalString(value)
	if err != nil {
		return fmt.Errorf("encode cache entry %q: %w", key, err)
	}
	return c.store.Set(ctx, keys.Cache(key), raw, ttl)
}

// Invalidate removes the cached value for key.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.store.Del(ctx, keys.Cache(key))
}
