package tilecache

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

// FileCache persists tiles as flat files named {slideId}_{level}_{x}_{y}_{size}.jpg.
// Writes go through a temp file and rename, so a file is only ever observed
// complete; concurrent writers of the same key are last-writer-wins.
type FileCache struct {
	cacheDir string
}

func NewFileCache(cacheDir string) (*FileCache, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &FileCache{
		cacheDir: cacheDir,
	}, nil
}

func (c *FileCache) path(key Key) string {
	return filepath.Join(c.cacheDir, key.Filename())
}

func (c *FileCache) Get(key Key) ([]byte, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *FileCache) Has(key Key) bool {
	_, err := os.Stat(c.path(key))
	return err == nil
}

func (c *FileCache) Set(key Key, value []byte) {
	// A failed write only costs a future recompute.
	_ = atomic.WriteFile(c.path(key), bytes.NewReader(value))
}

func (c *FileCache) DeleteSlide(slideID string) {
	entries, err := os.ReadDir(c.cacheDir)
	if err != nil {
		return
	}
	prefix := slideID + "_"
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		os.Remove(filepath.Join(c.cacheDir, entry.Name()))
	}
}

func (c *FileCache) Clear() {
	if err := os.RemoveAll(c.cacheDir); err != nil {
		return
	}
	os.MkdirAll(c.cacheDir, 0755)
}
