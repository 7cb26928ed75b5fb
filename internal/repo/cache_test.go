package repo

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/miradorstack/mirador-incidents/internal/cache"
)

// countingCache records how the log source uses its cache.
type countingCache struct {
	*cache.MemoryProvider
	gets atomic.Int32
	sets atomic.Int32
	ttl  atomic.Int64
}

func newCountingCache() *countingCache {
	return &countingCache{MemoryProvider: cache.NewMemoryProvider()}
}

func (c *countingCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.gets.Add(1)
	return c.MemoryProvider.Get(ctx, key)
}

func (c *countingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.sets.Add(1)
	c.ttl.Store(int64(ttl))
	return c.MemoryProvider.Set(ctx, key, value, ttl)
}
