package tilecache

import (
	"container/list"
	"sync"
)

type entry struct {
	key   Key
	value []byte
}

// MemoryCache implements an in-memory LRU tile cache, for deployments where
// tiles are cheap to recompute and disk churn is unwanted.
type MemoryCache struct {
	mu      sync.RWMutex
	maxSize int
	items   map[Key]*list.Element
	lruList *list.List
}

// NewMemoryCache creates a new in-memory LRU cache bounded to maxSize tiles.
func NewMemoryCache(maxSize int) *MemoryCache {
	return &MemoryCache{
		maxSize: maxSize,
		items:   make(map[Key]*list.Element),
		lruList: list.New(),
	}
}

func (c *MemoryCache) Has(key Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.items[key]
	return ok
}

func (c *MemoryCache) Get(key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}

	c.lruList.MoveToFront(elem)
	return elem.Value.(*entry).value, true
}

func (c *MemoryCache) Set(key Key, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*entry).value = value
		c.lruList.MoveToFront(elem)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		oldest := c.lruList.Back()
		if oldest != nil {
			delete(c.items, oldest.Value.(*entry).key)
			c.lruList.Remove(oldest)
		}
	}

	ent := &entry{key: key, value: value}
	c.items[key] = c.lruList.PushFront(ent)
}

func (c *MemoryCache) DeleteSlide(slideID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, elem := range c.items {
		if key.SlideID == slideID {
			delete(c.items, key)
			c.lruList.Remove(elem)
		}
	}
}

func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[Key]*list.Element)
	c.lruList = list.New()
}
