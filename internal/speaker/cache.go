package speaker

import (
	"container/list"
	"sync"
	"time"
)

type cacheEntry struct {
	key       string
	audio     []byte
	createdAt time.Time
}

// lruCache is a fixed-capacity least-recently-used map of synthesized audio.
type lruCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front is most recently used
	items    map[string]*list.Element
}

func newLRUCache(capacity int) *lruCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &lruCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

func (c *lruCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).audio, true
}

// add inserts audio under key unless the key is already present, and returns
// the number of evicted entries.
func (c *lruCache) add(key string, audio []byte, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		return 0
	}
	c.items[key] = c.order.PushFront(&cacheEntry{key: key, audio: audio, createdAt: now})

	evicted := 0
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
		evicted++
	}
	return evicted
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
