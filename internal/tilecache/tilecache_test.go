package tilecache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKeyFilename(t *testing.T) {
	key := Key{SlideID: "e5300f71-79ce-4390-bc0e-7748144aedf5", Level: 2, X: 7, Y: 48, Size: 256}
	assert.Equal(t, "e5300f71-79ce-4390-bc0e-7748144aedf5_2_7_48_256.jpg", key.Filename())

	// Same parameters, same name; the layout must be reproducible.
	assert.Equal(t, key.Filename(), Key{SlideID: key.SlideID, Level: 2, X: 7, Y: 48, Size: 256}.Filename())
}

func TestFileCacheRoundTrip(t *testing.T) {
	cache, err := NewFileCache(t.TempDir())
	require.NoError(t, err)

	key := Key{SlideID: "abc", Level: 0, X: 1, Y: 2, Size: 256}

	_, ok := cache.Get(key)
	assert.False(t, ok)
	assert.False(t, cache.Has(key))

	tile := []byte("jpeg-bytes")
	cache.Set(key, tile)

	assert.True(t, cache.Has(key))
	got, ok := cache.Get(key)
	require.True(t, ok)
	assert.Equal(t, tile, got)

	// A second read is byte-identical.
	again, ok := cache.Get(key)
	require.True(t, ok)
	assert.Equal(t, got, again)
}

func TestFileCacheLayout(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewFileCache(dir)
	require.NoError(t, err)

	key := Key{SlideID: "abc", Level: 1, X: 3, Y: 4, Size: 512}
	cache.Set(key, []byte("x"))

	_, err = os.Stat(filepath.Join(dir, "abc_1_3_4_512.jpg"))
	assert.NoError(t, err)
}

func TestFileCacheNoPartialFiles(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewFileCache(dir)
	require.NoError(t, err)

	cache.Set(Key{SlideID: "abc", Level: 0, X: 0, Y: 0, Size: 256}, []byte("tile"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "abc_0_0_0_256.jpg", entries[0].Name())
}

func TestFileCacheDeleteSlide(t *testing.T) {
	cache, err := NewFileCache(t.TempDir())
	require.NoError(t, err)

	kept := Key{SlideID: "other", Level: 0, X: 0, Y: 0, Size: 256}
	cache.Set(Key{SlideID: "gone", Level: 0, X: 0, Y: 0, Size: 256}, []byte("a"))
	cache.Set(Key{SlideID: "gone", Level: 1, X: 2, Y: 3, Size: 256}, []byte("b"))
	cache.Set(kept, []byte("c"))

	cache.DeleteSlide("gone")

	assert.False(t, cache.Has(Key{SlideID: "gone", Level: 0, X: 0, Y: 0, Size: 256}))
	assert.False(t, cache.Has(Key{SlideID: "gone", Level: 1, X: 2, Y: 3, Size: 256}))
	assert.True(t, cache.Has(kept))
}

func TestFileCacheClear(t *testing.T) {
	cache, err := NewFileCache(t.TempDir())
	require.NoError(t, err)

	key := Key{SlideID: "abc", Level: 0, X: 0, Y: 0, Size: 256}
	cache.Set(key, []byte("a"))
	cache.Clear()

	assert.False(t, cache.Has(key))

	// The cache directory survives a clear.
	cache.Set(key, []byte("b"))
	assert.True(t, cache.Has(key))
}

func TestMemoryCacheLRU(t *testing.T) {
	cache := NewMemoryCache(2)

	a := Key{SlideID: "s", Level: 0, X: 0, Y: 0, Size: 256}
	b := Key{SlideID: "s", Level: 0, X: 1, Y: 0, Size: 256}
	c := Key{SlideID: "s", Level: 0, X: 2, Y: 0, Size: 256}

	cache.Set(a, []byte("a"))
	cache.Set(b, []byte("b"))

	// Touch a so b becomes the eviction candidate.
	_, ok := cache.Get(a)
	require.True(t, ok)

	cache.Set(c, []byte("c"))

	assert.True(t, cache.Has(a))
	assert.False(t, cache.Has(b))
	assert.True(t, cache.Has(c))
}

func TestMemoryCacheDeleteSlide(t *testing.T) {
	cache := NewMemoryCache(10)

	cache.Set(Key{SlideID: "gone", Level: 0, X: 0, Y: 0, Size: 256}, []byte("a"))
	cache.Set(Key{SlideID: "kept", Level: 0, X: 0, Y: 0, Size: 256}, []byte("b"))

	cache.DeleteSlide("gone")

	assert.False(t, cache.Has(Key{SlideID: "gone", Level: 0, X: 0, Y: 0, Size: 256}))
	assert.True(t, cache.Has(Key{SlideID: "kept", Level: 0, X: 0, Y: 0, Size: 256}))
}

func TestMemoryCacheUpdateExisting(t *testing.T) {
	cache := NewMemoryCache(2)
	key := Key{SlideID: "s", Level: 0, X: 0, Y: 0, Size: 256}

	cache.Set(key, []byte("old"))
	cache.Set(key, []byte("new"))

	got, ok := cache.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("new"), got)
}

func TestNoopCache(t *testing.T) {
	cache := NewNoopCache()
	key := Key{SlideID: "s", Level: 0, X: 0, Y: 0, Size: 256}

	cache.Set(key, []byte("a"))
	_, ok := cache.Get(key)
	assert.False(t, ok)
	assert.False(t, cache.Has(key))
}

func TestFactory(t *testing.T) {
	log := zap.NewNop()

	c, err := NewCache("memory", "", 10, log)
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, c)

	c, err = NewCache("file", t.TempDir(), 0, log)
	require.NoError(t, err)
	assert.IsType(t, &FileCache{}, c)

	c, err = NewCache("disabled", "", 0, log)
	require.NoError(t, err)
	assert.IsType(t, &NoopCache{}, c)

	_, err = NewCache("redis", "", 0, log)
	assert.Error(t, err)
}
