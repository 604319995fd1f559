package cache

import (
	"context"
	"time"
)

// Entry records an origin URL resolved for an item.
type Entry struct {
	URL       string    `json:"url"`
	StoredAt  time.Time `json:"storedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LookupCache memoizes index resolutions keyed by item identifier.
type LookupCache interface {
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	Store(ctx context.Context, key string, entry Entry) error
	Close(ctx context.Context) error
}

type noopCache struct{}

// NewNoop returns a cache that never holds anything.
func NewNoop() LookupCache { return noopCache{} }

func (noopCache) Lookup(context.Context, string) (Entry, bool, error) { return Entry{}, false, nil }
func (noopCache) Store(context.Context, string, Entry) error          { return nil }
func (noopCache) Close(context.Context) error                         { return nil }
