package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultMemorySize = 10000

type memoryCache struct {
	ttl     time.Duration
	entries *expirable.LRU[string, Entry]
}

// NewMemory builds a bounded in-process cache. Entries expire after ttl and
// the least recently used entry is evicted once size is reached. A caller
// supplied ExpiresAt is overwritten; the LRU's ttl is the only expiry.
func NewMemory(size int, ttl time.Duration) LookupCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if size <= 0 {
		size = defaultMemorySize
	}
	return &memoryCache{ttl: ttl, entries: expirable.NewLRU[string, Entry](size, nil, ttl)}
}

func (c *memoryCache) Lookup(_ context.Context, key string) (Entry, bool, error) {
	entry, ok := c.entries.Get(key)
	return entry, ok, nil
}

func (c *memoryCache) Store(_ context.Context, key string, entry Entry) error {
	now := time.Now().UTC()
	if entry.StoredAt.IsZero() {
		entry.StoredAt = now
	}
	entry.ExpiresAt = now.Add(c.ttl)
	c.entries.Add(key, entry)
	return nil
}

func (c *memoryCache) Close(context.Context) error {
	c.entries.Purge()
	return nil
}
