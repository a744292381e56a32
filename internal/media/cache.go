package media

import (
	"container/list"
	"sync"

	"github.com/offcast/offcast/internal/jellyfin"
)

// itemCache is a bounded LRU over fetched items, keyed by serverID/itemID.
// Invalidation of an absent key is a no-op.
type itemCache struct {
	mu      sync.Mutex
	cap     int
	order   *list.List
	entries map[string]*list.Element
}

type cacheEntry struct {
	key  string
	item *jellyfin.Item
}

func newItemCache(capacity int) *itemCache {
	return &itemCache{
		cap:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func cacheKey(serverID, itemID string) string {
	return serverID + "/" + itemID
}

func (c *itemCache) get(serverID, itemID string) *jellyfin.Item {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[cacheKey(serverID, itemID)]
	if !ok {
		return nil
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).item
}

func (c *itemCache) put(serverID string, item *jellyfin.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(serverID, item.ID)
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).item = item
		c.order.MoveToFront(el)
		return
	}

	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, item: item})
	for c.order.Len() > c.cap {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *itemCache) invalidate(serverID, itemID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(serverID, itemID)
	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

func (c *itemCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
}

func (c *itemCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
