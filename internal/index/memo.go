package index

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/l0p7/thumbproxy/internal/cache"
	"github.com/l0p7/thumbproxy/internal/thumb"
)

const memoKeyPrefix = "thumbproxy:origin:v1:"

// Memo remembers successful resolutions and collapses concurrent lookups for
// the same item into a single index query. Failures are never remembered.
type Memo struct {
	next   Finder
	cache  cache.LookupCache
	group  singleflight.Group
	logger *slog.Logger
}

func NewMemo(next Finder, store cache.LookupCache, logger *slog.Logger) *Memo {
	if store == nil {
		store = cache.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Memo{
		next:   next,
		cache:  store,
		logger: logger.With(slog.String("agent", "index_memo")),
	}
}

func (m *Memo) FindOriginURL(ctx context.Context, id thumb.ItemID) (string, error) {
	key := memoKeyPrefix + id.String()

	entry, ok, err := m.cache.Lookup(ctx, key)
	switch {
	case err != nil:
		m.logger.Warn("lookup cache read failed", slog.String("item_id", id.String()), slog.Any("error", err))
	case ok && entry.URL != "":
		return entry.URL, nil
	}

	// The shared query runs detached from any single caller; the index client
	// timeout still bounds it.
	shared := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (any, error) {
		rawURL, err := m.next.FindOriginURL(shared, id)
		if err != nil {
			return "", err
		}
		if storeErr := m.cache.Store(shared, key, cache.Entry{URL: rawURL}); storeErr != nil {
			m.logger.Warn("lookup cache write failed", slog.String("item_id", id.String()), slog.Any("error", storeErr))
		}
		return rawURL, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			m.logger.Debug("index lookup shared", slog.String("item_id", id.String()))
		}
		return res.Val.(string), nil
	}
}

// Close releases the underlying cache.
func (m *Memo) Close(ctx context.Context) error {
	return m.cache.Close(ctx)
}
