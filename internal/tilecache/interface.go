package tilecache

import "fmt"

// Key identifies one persisted tile.
type Key struct {
	SlideID string
	Level   int
	X       int
	Y       int
	Size    int
}

// Filename is the deterministic cache file name for the key. Slide ids are
// UUIDs, so the underscore separators are unambiguous.
func (k Key) Filename() string {
	return fmt.Sprintf("%s_%d_%d_%d_%d.jpg", k.SlideID, k.Level, k.X, k.Y, k.Size)
}

type Cache interface {
	Get(key Key) ([]byte, bool)
	Set(key Key, value []byte)
	Has(key Key) bool // Check if tile exists without reading it (lightweight check)
	// DeleteSlide removes every entry belonging to the slide. Entries are
	// otherwise never expired; sources are immutable once uploaded.
	DeleteSlide(slideID string)
	Clear()
}
