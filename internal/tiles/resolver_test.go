package tiles

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wsiview/internal/reader"
	"wsiview/internal/readercache"
	"wsiview/internal/slide"
	"wsiview/internal/tilecache"
)

type countingReader struct {
	info    *slide.Info
	renders atomic.Int32
}

func (f *countingReader) Info() *slide.Info { return f.info }

func (f *countingReader) RenderTile(level, x, y, size int) ([]byte, error) {
	f.renders.Add(1)
	return []byte(fmt.Sprintf("tile-%d-%d-%d-%d", level, x, y, size)), nil
}

func (f *countingReader) Close() error { return nil }

type fakeSource map[string]string

func (s fakeSource) Path(id string) (string, bool) {
	p, ok := s[id]
	return p, ok
}

func newTestResolver(t *testing.T) (*Resolver, *countingReader, *atomic.Int32) {
	t.Helper()

	readers, err := readercache.New(2, zap.NewNop())
	require.NoError(t, err)

	fake := &countingReader{
		info: &slide.Info{
			Width:      1000,
			Height:     1000,
			LevelCount: 3,
			Levels:     slide.BuildLevels(1000, 1000, 256),
			TileSize:   256,
		},
	}
	var opens atomic.Int32

	r := New(readers, tilecache.NewMemoryCache(100), fakeSource{"slide-1": "/data/slide-1.svs"}, reader.Options{TileSize: 256, Quality: 82}, zap.NewNop())
	r.open = func(path string) (reader.Reader, error) {
		opens.Add(1)
		return fake, nil
	}
	return r, fake, &opens
}

func TestGetTileCachesResult(t *testing.T) {
	r, fake, _ := newTestResolver(t)
	ctx := context.Background()

	first, err := r.GetTile(ctx, "slide-1", 0, 1, 2, 256)
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.renders.Load())

	// The second request is a cache hit: byte-identical, no recompute.
	second, err := r.GetTile(ctx, "slide-1", 0, 1, 2, 256)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), fake.renders.Load())
}

func TestGetTileDistinctKeysRenderSeparately(t *testing.T) {
	r, fake, _ := newTestResolver(t)
	ctx := context.Background()

	_, err := r.GetTile(ctx, "slide-1", 0, 0, 0, 256)
	require.NoError(t, err)
	_, err = r.GetTile(ctx, "slide-1", 1, 0, 0, 256)
	require.NoError(t, err)
	_, err = r.GetTile(ctx, "slide-1", 0, 0, 0, 512)
	require.NoError(t, err)

	assert.Equal(t, int32(3), fake.renders.Load())
}

func TestGetTileDefaultSize(t *testing.T) {
	r, _, _ := newTestResolver(t)

	data, err := r.GetTile(context.Background(), "slide-1", 0, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "tile-0-0-0-256", string(data))
}

func TestGetTileInvalidLevel(t *testing.T) {
	r, fake, _ := newTestResolver(t)

	_, err := r.GetTile(context.Background(), "slide-1", 3, 0, 0, 256)
	assert.ErrorIs(t, err, slide.ErrInvalidLevel)

	_, err = r.GetTile(context.Background(), "slide-1", -1, 0, 0, 256)
	assert.ErrorIs(t, err, slide.ErrInvalidLevel)

	assert.Equal(t, int32(0), fake.renders.Load())
}

func TestGetTileOutOfRange(t *testing.T) {
	r, fake, _ := newTestResolver(t)

	// Level 2 is 250x250: tile (1, 0) starts at pixel 256, past the edge.
	_, err := r.GetTile(context.Background(), "slide-1", 2, 1, 0, 256)
	assert.ErrorIs(t, err, slide.ErrOutOfRange)

	_, err = r.GetTile(context.Background(), "slide-1", 0, 0, 4, 256)
	assert.ErrorIs(t, err, slide.ErrOutOfRange)

	assert.Equal(t, int32(0), fake.renders.Load())
}

func TestGetTileUnknownSlide(t *testing.T) {
	r, _, _ := newTestResolver(t)

	_, err := r.GetTile(context.Background(), "nope", 0, 0, 0, 256)
	assert.ErrorIs(t, err, slide.ErrNotFound)
}

func TestInfoIdempotent(t *testing.T) {
	r, _, opens := newTestResolver(t)
	ctx := context.Background()

	first, err := r.Info(ctx, "slide-1")
	require.NoError(t, err)

	second, err := r.Info(ctx, "slide-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), opens.Load(), "reader opened once across repeated info requests")
}

func TestConcurrentRequestsBuildOnce(t *testing.T) {
	r, fake, _ := newTestResolver(t)

	var wg sync.WaitGroup
	results := make([][]byte, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := r.GetTile(context.Background(), "slide-1", 1, 1, 1, 256)
			if assert.NoError(t, err) {
				results[i] = data
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), fake.renders.Load(), "concurrent requests for one tile share a single build")
	for i := 1; i < len(results); i++ {
		assert.Equal(t, results[0], results[i])
	}
}

func TestRemoveDropsTilesAndHandle(t *testing.T) {
	r, fake, opens := newTestResolver(t)
	ctx := context.Background()

	_, err := r.GetTile(ctx, "slide-1", 0, 0, 0, 256)
	require.NoError(t, err)

	require.NoError(t, r.Remove(ctx, "slide-1"))

	// The tile rebuilds and the reader reopens.
	_, err = r.GetTile(ctx, "slide-1", 0, 0, 0, 256)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.renders.Load())
	assert.Equal(t, int32(2), opens.Load())
}

func TestRenderErrorDoesNotPoisonCache(t *testing.T) {
	readers, err := readercache.New(2, zap.NewNop())
	require.NoError(t, err)

	cache := tilecache.NewMemoryCache(100)
	var fail atomic.Bool
	fail.Store(true)

	fake := &countingReader{
		info: &slide.Info{
			Width: 1000, Height: 1000, LevelCount: 3,
			Levels: slide.BuildLevels(1000, 1000, 256), TileSize: 256,
		},
	}
	r := New(readers, cache, fakeSource{"s": "/data/s.svs"}, reader.Options{TileSize: 256}, zap.NewNop())
	r.open = func(path string) (reader.Reader, error) { return failingReader{fake, &fail}, nil }

	_, err = r.GetTile(context.Background(), "s", 0, 0, 0, 256)
	require.Error(t, err)
	assert.False(t, cache.Has(tilecache.Key{SlideID: "s", Level: 0, X: 0, Y: 0, Size: 256}))

	// Once the renderer recovers, the same key succeeds and is cached.
	fail.Store(false)
	data, err := r.GetTile(context.Background(), "s", 0, 0, 0, 256)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.True(t, cache.Has(tilecache.Key{SlideID: "s", Level: 0, X: 0, Y: 0, Size: 256}))
}

type failingReader struct {
	*countingReader
	fail *atomic.Bool
}

func (f failingReader) RenderTile(level, x, y, size int) ([]byte, error) {
	if f.fail.Load() {
		return nil, fmt.Errorf("%w: simulated decode failure", slide.ErrDecode)
	}
	return f.countingReader.RenderTile(level, x, y, size)
}
