// Package readercache bounds the number of concurrently open slides. It
// keeps a strict-LRU map of slide id to open reader, pins handles while
// requests render from them, and closes evicted readers synchronously so
// file handles and rasters never outlive their cache entry.
package readercache

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"wsiview/internal/reader"
	"wsiview/internal/slide"
)

// Factory opens the reader for a slide id on a cache miss.
type Factory func(id string) (reader.Reader, error)

// DefaultCapacity matches the expected number of slides viewed concurrently.
const DefaultCapacity = 5

type Cache struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	ll       *list.List // front = most recently used
	items    map[string]*list.Element
	group    singleflight.Group
	log      *zap.Logger
}

type entry struct {
	id     string
	handle *Handle
}

// New builds a cache holding at most capacity open readers.
func New(capacity int, log *zap.Logger) (*Cache, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: reader cache capacity must be at least 1, got %d", slide.ErrConfig, capacity)
	}
	c := &Cache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		log:      log,
	}
	c.cond = sync.NewCond(&c.mu)
	return c, nil
}

// Get returns the pinned handle for id if resident, marking it most recently
// used. It never opens a reader. The caller must Release the handle.
func (c *Cache) Get(id string) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[id]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(elem)
	h := elem.Value.(*entry).handle
	h.pins++
	return h, true
}

// GetOrCreate returns the pinned handle for id, opening it through factory on
// a miss. Concurrent misses for the same id share one factory invocation; the
// open runs outside the cache lock, which only guards map mutation. The
// caller must Release the handle.
func (c *Cache) GetOrCreate(ctx context.Context, id string, factory Factory) (*Handle, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if h, ok := c.Get(id); ok {
			return h, nil
		}

		_, err, _ := c.group.Do(id, func() (interface{}, error) {
			c.mu.Lock()
			_, resident := c.items[id]
			c.mu.Unlock()
			if resident {
				return nil, nil
			}

			rd, err := factory(id)
			if err != nil {
				return nil, err
			}
			if err := c.insert(ctx, id, rd); err != nil {
				rd.Close()
				return nil, err
			}
			return nil, nil
		})
		if err != nil {
			return nil, err
		}
		// The entry can already be evicted again between the flight
		// completing and our pin; loop rather than hand out a closed handle.
	}
}

// insert adds a freshly opened reader, evicting the least-recently-used
// unpinned entry when at capacity. When every resident handle is pinned it
// waits for a release; that is the degraded case of concurrency exceeding
// capacity, surfaced as ErrAllHandlesBusy only if ctx expires first.
func (c *Cache) insert(ctx context.Context, id string, rd reader.Reader) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.ll.Len() >= c.capacity {
		if c.evictOneLocked() {
			continue
		}
		if err := c.waitLocked(ctx); err != nil {
			return fmt.Errorf("%w: %v", slide.ErrAllHandlesBusy, err)
		}
	}

	h := &Handle{id: id, reader: rd, cache: c}
	c.items[id] = c.ll.PushFront(&entry{id: id, handle: h})
	return nil
}

// evictOneLocked removes the least-recently-used unpinned entry and closes
// its reader. Reports whether an entry was evicted.
func (c *Cache) evictOneLocked() bool {
	for elem := c.ll.Back(); elem != nil; elem = elem.Prev() {
		ent := elem.Value.(*entry)
		if ent.handle.pins > 0 {
			continue
		}
		c.removeLocked(elem)
		return true
	}
	return false
}

func (c *Cache) removeLocked(elem *list.Element) {
	ent := elem.Value.(*entry)
	c.ll.Remove(elem)
	delete(c.items, ent.id)
	if err := ent.handle.reader.Close(); err != nil {
		c.log.Warn("Failed to close evicted reader", zap.String("slide_id", ent.id), zap.Error(err))
	} else {
		c.log.Debug("Evicted slide reader", zap.String("slide_id", ent.id))
	}
}

// waitLocked blocks on the condition variable until a handle is released or
// ctx is done. Called with c.mu held; returns with it held.
func (c *Cache) waitLocked(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.cond.Broadcast()
		case <-done:
		}
	}()
	c.cond.Wait()
	close(done)
	return ctx.Err()
}

// Evict removes the entry for id, waiting for in-flight renders against it to
// release their pins. Used when a slide is deleted.
func (c *Cache) Evict(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		elem, ok := c.items[id]
		if !ok {
			return nil
		}
		if elem.Value.(*entry).handle.pins == 0 {
			c.removeLocked(elem)
			return nil
		}
		if err := c.waitLocked(ctx); err != nil {
			return fmt.Errorf("%w: %v", slide.ErrAllHandlesBusy, err)
		}
	}
}

// Len reports the number of resident handles.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Close evicts every entry unconditionally. Only safe once no renders are in
// flight, i.e. after the request layer has drained.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for elem := c.ll.Front(); elem != nil; elem = c.ll.Front() {
		c.removeLocked(elem)
	}
}
