package readercache

import (
	"wsiview/internal/reader"
	"wsiview/internal/slide"
)

// Handle is one resident open slide. A handle stays pinned from Get or
// GetOrCreate until Release; eviction skips pinned handles, so the wrapped
// reader is never closed mid-render.
type Handle struct {
	id     string
	reader reader.Reader
	cache  *Cache
	pins   int // guarded by cache.mu
}

func (h *Handle) ID() string {
	return h.id
}

func (h *Handle) Info() *slide.Info {
	return h.reader.Info()
}

func (h *Handle) RenderTile(level, x, y, size int) ([]byte, error) {
	return h.reader.RenderTile(level, x, y, size)
}

// Release unpins the handle, making it evictable again and waking any caller
// blocked on a full, fully pinned cache.
func (h *Handle) Release() {
	c := h.cache
	c.mu.Lock()
	if h.pins > 0 {
		h.pins--
	}
	c.mu.Unlock()
	c.cond.Broadcast()
}
