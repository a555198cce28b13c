package cache

import (
	"context"
	"time"
)

// LayeredCache implements a multi-layer cache (memory + disk)
type LayeredCache struct {
	memory Cache
	disk   Cache
}

// NewLayeredCache creates a new layered cache
func NewLayeredCache(memoryTTL time.Duration, diskDir string, diskTTL time.Duration) *LayeredCache {
	return &LayeredCache{
		memory: NewMemoryCache(memoryTTL, 10*time.Minute),
		disk:   NewDiskCache(diskDir, diskTTL),
	}
}

// Get retrieves a value from the cache (checks memory first, then disk)
func (c *LayeredCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if val, found := c.memory.Get(ctx, key); found {
		return val, true
	}

	if val, found := c.disk.Get(ctx, key); found {
		// Promote to memory with the default TTL
		_ = c.memory.Set(ctx, key, val, 0)
		return val, true
	}

	return nil, false
}

// Set stores a value in both caches
func (c *LayeredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.memory.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return c.disk.Set(ctx, key, value, ttl)
}

// Delete removes a value from both caches
func (c *LayeredCache) Delete(ctx context.Context, key string) error {
	_ = c.memory.Delete(ctx, key)
	return c.disk.Delete(ctx, key)
}

// Clear removes all values from both caches
func (c *LayeredCache) Clear(ctx context.Context) error {
	_ = c.memory.Clear(ctx)
	return c.disk.Clear(ctx)
}
