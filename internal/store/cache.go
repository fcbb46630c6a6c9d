package store

import (
	"container/list"
	"sync"
	"time"
)

const cacheMaxEntries = 512

// summaryCache keeps the hottest summaries in memory so repeated opens of
// the same article skip sqlite entirely. LRU with per-entry expiry.
type summaryCache struct {
	mu         sync.Mutex
	byKey      map[string]*list.Element
	order      *list.List
	maxEntries int
}

type cacheEntry struct {
	key       string
	summary   string
	expiresAt time.Time
}

func newSummaryCache(maxEntries int) *summaryCache {
	if maxEntries <= 0 {
		return nil
	}

	return &summaryCache{
		byKey:      make(map[string]*list.Element, maxEntries),
		order:      list.New(),
		maxEntries: maxEntries,
	}
}

func (c *summaryCache) get(key string, now time.Time) (string, bool) {
	if c == nil || key == "" {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.byKey[key]
	if !ok {
		return "", false
	}

	entry := elem.Value.(*cacheEntry)
	if now.After(entry.expiresAt) {
		delete(c.byKey, entry.key)
		c.order.Remove(elem)

		return "", false
	}

	c.order.MoveToFront(elem)

	return entry.summary, true
}

func (c *summaryCache) set(key, summary string, expiresAt, now time.Time) {
	if c == nil || key == "" || summary == "" || !expiresAt.After(now) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.byKey[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.summary = summary
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)

		return
	}

	elem := c.order.PushFront(&cacheEntry{
		key:       key,
		summary:   summary,
		expiresAt: expiresAt,
	})
	c.byKey[key] = elem

	for len(c.byKey) > c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			return
		}

		entry := oldest.Value.(*cacheEntry)
		delete(c.byKey, entry.key)
		c.order.Remove(oldest)
	}
}
