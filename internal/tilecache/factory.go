package tilecache

import (
	"fmt"

	"go.uber.org/zap"
)

// NewCache creates a cache instance based on the cache type
func NewCache(cacheType, cacheDir string, memoryTiles int, log *zap.Logger) (Cache, error) {
	switch cacheType {
	case "file":
		log.Info("Using file tile cache", zap.String("cache_dir", cacheDir))
		return NewFileCache(cacheDir)
	case "memory":
		log.Info("Using memory tile cache", zap.Int("max_tiles", memoryTiles))
		return NewMemoryCache(memoryTiles), nil
	case "disabled":
		log.Info("Tile cache disabled")
		return NewNoopCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s (supported: file, memory, disabled)", cacheType)
	}
}
