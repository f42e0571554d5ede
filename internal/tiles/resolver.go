// Package tiles maps (slide, level, x, y, size) requests to JPEG bytes. The
// resolver is cache-first: a persisted tile is returned unconditionally, and
// a miss builds the tile through a pinned reader handle, persists it, then
// returns it, so repeated requests never recompute.
package tiles

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"wsiview/internal/reader"
	"wsiview/internal/readercache"
	"wsiview/internal/slide"
	"wsiview/internal/tilecache"
)

// SourceResolver maps a slide id to its source file path.
type SourceResolver interface {
	Path(id string) (string, bool)
}

type Resolver struct {
	readers *readercache.Cache
	cache   tilecache.Cache
	source  SourceResolver
	opts    reader.Options
	group   singleflight.Group
	log     *zap.Logger

	// open builds a reader for a source path. Swappable in tests.
	open func(path string) (reader.Reader, error)
}

func New(readers *readercache.Cache, cache tilecache.Cache, source SourceResolver, opts reader.Options, log *zap.Logger) *Resolver {
	r := &Resolver{
		readers: readers,
		cache:   cache,
		source:  source,
		opts:    opts,
		log:     log,
	}
	r.open = func(path string) (reader.Reader, error) {
		return reader.Open(path, opts, log)
	}
	return r
}

// Info returns the pyramid metadata for a slide, opening it if needed.
func (r *Resolver) Info(ctx context.Context, slideID string) (*slide.Info, error) {
	h, err := r.readers.GetOrCreate(ctx, slideID, r.factory)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	return h.Info(), nil
}

// GetTile returns the JPEG bytes for one tile. size <= 0 selects the
// configured default tile size.
func (r *Resolver) GetTile(ctx context.Context, slideID string, level, x, y, size int) ([]byte, error) {
	if size <= 0 {
		size = r.opts.TileSize
	}
	key := tilecache.Key{SlideID: slideID, Level: level, X: x, Y: y, Size: size}

	if data, ok := r.cache.Get(key); ok {
		return data, nil
	}

	// One builder per key; concurrent first requests for the same tile
	// share the winner's bytes instead of racing the render.
	v, err, _ := r.group.Do(key.Filename(), func() (interface{}, error) {
		if data, ok := r.cache.Get(key); ok {
			return data, nil
		}
		return r.buildTile(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (r *Resolver) buildTile(ctx context.Context, key tilecache.Key) ([]byte, error) {
	h, err := r.readers.GetOrCreate(ctx, key.SlideID, r.factory)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	info := h.Info()
	lv, err := info.LevelAt(key.Level)
	if err != nil {
		return nil, err
	}
	if _, _, err := slide.TileRegion(lv, key.X, key.Y, key.Size); err != nil {
		return nil, err
	}

	data, err := h.RenderTile(key.Level, key.X, key.Y, key.Size)
	if err != nil {
		return nil, err
	}

	r.cache.Set(key, data)
	return data, nil
}

// Remove drops every cached artifact of a slide: its persisted tiles and its
// resident reader handle. Called when the slide is deleted.
func (r *Resolver) Remove(ctx context.Context, slideID string) error {
	r.cache.DeleteSlide(slideID)
	if err := r.readers.Evict(ctx, slideID); err != nil {
		return fmt.Errorf("failed to evict reader for %s: %w", slideID, err)
	}
	return nil
}

func (r *Resolver) factory(id string) (reader.Reader, error) {
	path, ok := r.source.Path(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", slide.ErrNotFound, id)
	}
	return r.open(path)
}
