// Package item memoizes marketplace item metadata. Lookups hit an
// external fetch once and are cached for the life of the process; there is
// no eviction.
package item

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Info is the item metadata the reply pipeline needs.
type Info struct {
	Description string
	SoldPrice   string
}

// Context renders the item metadata as reply-engine context.
func (i Info) Context() string {
	return fmt.Sprintf("%s; current asking price: %s", i.Description, i.SoldPrice)
}

// Fetcher fetches item metadata from the marketplace API.
type Fetcher interface {
	FetchItemInfo(ctx context.Context, itemID string) (Info, error)
}

// Cache memoizes Fetcher results. Safe for concurrent use; concurrent
// lookups of the same uncached item share a single fetch.
type Cache struct {
	fetcher Fetcher
	group   singleflight.Group

	mu    sync.RWMutex
	items map[string]Info
}

// NewCache creates a cache over the given fetcher.
func NewCache(fetcher Fetcher) *Cache {
	return &Cache{
		fetcher: fetcher,
		items:   make(map[string]Info),
	}
}

// Get returns the item's metadata, fetching and caching it on first use.
// A failed or malformed fetch reports not-found; the caller skips reply
// generation for that message and no retry is scheduled here.
func (c *Cache) Get(ctx context.Context, itemID string) (Info, bool) {
	if itemID == "" {
		return Info{}, false
	}

	c.mu.RLock()
	info, ok := c.items[itemID]
	c.mu.RUnlock()
	if ok {
		return info, true
	}

	v, err, _ := c.group.Do(itemID, func() (any, error) {
		info, err := c.fetcher.FetchItemInfo(ctx, itemID)
		if err != nil {
			return Info{}, err
		}
		if info.Description == "" {
			return Info{}, fmt.Errorf("item: %s: empty metadata", itemID)
		}
		c.mu.Lock()
		c.items[itemID] = info
		c.mu.Unlock()
		return info, nil
	})
	if err != nil {
		slog.Warn("item info fetch failed", "item_id", itemID, "error", err)
		return Info{}, false
	}
	return v.(Info), true
}

// Len returns the number of cached items.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
