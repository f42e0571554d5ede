// Package store keeps the registry of slide sources under the data
// directory. Every slide is a UUID-named file plus a JSON sidecar carrying
// its identity; the UUID is the stable slide identifier used as the cache key
// everywhere else.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"wsiview/internal/slide"
)

// Slide is the persisted identity record for one source file.
type Slide struct {
	ID               string `json:"id"`
	OriginalFilename string `json:"original_filename"`
	CurrentFilename  string `json:"current_filename"`
	Bytes            int64  `json:"bytes"`
	Format           string `json:"format"`
}

type Store struct {
	mu      sync.RWMutex
	dataDir string
	slides  map[string]Slide
	log     *zap.Logger

	// Validate proves a source decodes before it is accepted. Upload
	// validation failures delete the file so no corrupt state survives.
	Validate func(path string) error
}

func New(dataDir string, log *zap.Logger) *Store {
	return &Store{
		dataDir: dataDir,
		slides:  make(map[string]Slide),
		log:     log,
	}
}

// Scan rebuilds the registry from the data directory: loads existing
// sidecars, migrates bare image files to UUID names, and removes orphaned or
// inconsistent sidecars.
func (s *Store) Scan() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.slides = make(map[string]Slide)

	if err := s.cleanupOrphanedJSON(); err != nil {
		return err
	}

	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read data directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !slide.SupportedExt(name) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			s.log.Warn("Error getting file info", zap.String("name", name), zap.Error(err))
			continue
		}

		ext := strings.ToLower(filepath.Ext(name))
		basename := strings.TrimSuffix(name, ext)
		sidecarPath := s.filePath(basename + ".json")

		var record Slide
		if _, err := os.Stat(sidecarPath); err != nil {
			record, err = s.migrate(name, ext, info.Size())
			if err != nil {
				s.log.Warn("Failed to migrate file", zap.String("name", name), zap.Error(err))
				continue
			}
		} else {
			record, err = s.loadSidecar(sidecarPath)
			if err != nil {
				s.log.Warn("Failed to load sidecar, skipping", zap.String("path", sidecarPath), zap.Error(err))
				continue
			}
		}

		s.slides[record.ID] = record
	}

	s.log.Info("Scanned data directory", zap.Int("slides", len(s.slides)))
	return nil
}

// migrate renames a pre-existing bare file to a UUID name and writes its
// sidecar. Called with s.mu held.
func (s *Store) migrate(name, ext string, size int64) (Slide, error) {
	id := uuid.New().String()
	oldPath := s.filePath(name)
	newPath := s.filePath(id + ext)

	if err := os.Rename(oldPath, newPath); err != nil {
		return Slide{}, fmt.Errorf("failed to rename to UUID: %w", err)
	}

	if s.Validate != nil {
		if err := s.Validate(newPath); err != nil {
			// Pre-existing files are left in place on validation failure;
			// only uploads get deleted.
			s.log.Warn("Migrated file failed validation, skipping",
				zap.String("path", newPath), zap.Error(err))
			return Slide{}, err
		}
	}

	record := Slide{
		ID:               id,
		OriginalFilename: name,
		CurrentFilename:  id + ext,
		Bytes:            size,
		Format:           strings.TrimPrefix(ext, "."),
	}
	if err := s.saveSidecar(record); err != nil {
		return Slide{}, err
	}

	s.log.Info("Migrated file to UUID",
		zap.String("original", name),
		zap.String("id", id),
		zap.String("size", humanize.Bytes(uint64(size))),
	)
	return record, nil
}

// Add registers an uploaded file: moves it from tempPath to a UUID name,
// validates it, and writes its sidecar. On validation failure the uploaded
// file is removed and the error surfaced.
func (s *Store) Add(tempPath, originalFilename string) (Slide, error) {
	ext := strings.ToLower(filepath.Ext(originalFilename))
	if !slide.SupportedExt(originalFilename) {
		return Slide{}, fmt.Errorf("%w: unsupported format %q", slide.ErrDecode, ext)
	}

	id := uuid.New().String()
	finalPath := s.filePath(id + ext)

	if err := os.Rename(tempPath, finalPath); err != nil {
		return Slide{}, fmt.Errorf("failed to move uploaded file: %w", err)
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return Slide{}, fmt.Errorf("failed to stat uploaded file: %w", err)
	}

	if s.Validate != nil {
		if err := s.Validate(finalPath); err != nil {
			os.Remove(finalPath)
			return Slide{}, fmt.Errorf("uploaded file failed validation: %w", err)
		}
	}

	record := Slide{
		ID:               id,
		OriginalFilename: originalFilename,
		CurrentFilename:  id + ext,
		Bytes:            info.Size(),
		Format:           strings.TrimPrefix(ext, "."),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.saveSidecar(record); err != nil {
		os.Remove(finalPath)
		return Slide{}, err
	}
	s.slides[id] = record

	s.log.Info("Registered uploaded slide",
		zap.String("id", id),
		zap.String("original_filename", originalFilename),
		zap.String("size", humanize.Bytes(uint64(info.Size()))),
	)
	return record, nil
}

// Get returns the record for a slide id.
func (s *Store) Get(id string) (Slide, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.slides[id]
	return rec, ok
}

// Path returns the source file path for a slide id.
func (s *Store) Path(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.slides[id]
	if !ok {
		return "", false
	}
	return s.filePath(rec.CurrentFilename), true
}

// List returns all registered slides, ordered by original filename.
func (s *Store) List() []Slide {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Slide, 0, len(s.slides))
	for _, rec := range s.slides {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OriginalFilename != out[j].OriginalFilename {
			return out[i].OriginalFilename < out[j].OriginalFilename
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Delete removes a slide's source file and sidecar and drops it from the
// registry. Cached tiles and reader handles are the resolver's to clean up.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.slides[id]
	if !ok {
		return fmt.Errorf("%w: %s", slide.ErrNotFound, id)
	}

	if err := os.Remove(s.filePath(rec.CurrentFilename)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete source file: %w", err)
	}
	if err := os.Remove(s.filePath(id + ".json")); err != nil && !os.IsNotExist(err) {
		s.log.Warn("Failed to delete sidecar", zap.String("id", id), zap.Error(err))
	}

	delete(s.slides, id)
	s.log.Info("Deleted slide", zap.String("id", id), zap.String("original_filename", rec.OriginalFilename))
	return nil
}

// cleanupOrphanedJSON removes sidecars that are unreadable, mismatch their
// filename, or point at a missing source. Called with s.mu held.
func (s *Store) cleanupOrphanedJSON() error {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read data directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || strings.ToLower(filepath.Ext(entry.Name())) != ".json" {
			continue
		}

		path := s.filePath(entry.Name())
		basename := strings.TrimSuffix(entry.Name(), ".json")

		rec, err := s.loadSidecar(path)
		if err != nil {
			s.removeSidecar(path, "invalid sidecar")
			continue
		}
		if rec.ID != basename {
			s.log.Warn("UUID mismatch in sidecar",
				zap.String("path", path),
				zap.String("filename_uuid", basename),
				zap.String("sidecar_uuid", rec.ID))
			s.removeSidecar(path, "UUID mismatch")
			continue
		}
		if _, err := os.Stat(s.filePath(rec.CurrentFilename)); err != nil {
			s.removeSidecar(path, "missing source")
		}
	}

	return nil
}

func (s *Store) removeSidecar(path, reason string) {
	if err := os.Remove(path); err != nil {
		s.log.Warn("Failed to delete sidecar", zap.String("path", path), zap.Error(err))
		return
	}
	s.log.Info("Deleted sidecar", zap.String("path", path), zap.String("reason", reason))
}

func (s *Store) filePath(filename string) string {
	return filepath.Join(s.dataDir, filename)
}

func (s *Store) loadSidecar(path string) (Slide, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Slide{}, err
	}

	var rec Slide
	if err := json.Unmarshal(data, &rec); err != nil {
		return Slide{}, fmt.Errorf("failed to parse sidecar: %w", err)
	}
	return rec, nil
}

func (s *Store) saveSidecar(rec Slide) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sidecar: %w", err)
	}
	if err := atomic.WriteFile(s.filePath(rec.ID+".json"), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write sidecar: %w", err)
	}
	return nil
}
