package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wsiview/internal/slide"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestAddRegistersUpload(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, zap.NewNop())
	s.Validate = func(path string) error { return nil }

	temp := writeFile(t, t.TempDir(), "upload_1.svs", "fake slide bytes")

	rec, err := s.Add(temp, "biopsy.svs")
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	_, err = uuid.Parse(rec.ID)
	assert.NoError(t, err, "slide ids are UUIDs")
	assert.Equal(t, "biopsy.svs", rec.OriginalFilename)
	assert.Equal(t, rec.ID+".svs", rec.CurrentFilename)
	assert.Equal(t, int64(len("fake slide bytes")), rec.Bytes)
	assert.Equal(t, "svs", rec.Format)

	// Temp file was moved, source and sidecar exist under the data dir.
	_, err = os.Stat(temp)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, rec.CurrentFilename))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, rec.ID+".json"))
	assert.NoError(t, err)

	got, ok := s.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, rec, got)

	path, ok := s.Path(rec.ID)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, rec.CurrentFilename), path)
}

func TestAddRejectsUnsupportedExtension(t *testing.T) {
	s := New(t.TempDir(), zap.NewNop())

	temp := writeFile(t, t.TempDir(), "upload.pdf", "not an image")
	_, err := s.Add(temp, "report.pdf")
	assert.ErrorIs(t, err, slide.ErrDecode)
}

func TestAddValidationFailureDeletesFile(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, zap.NewNop())
	s.Validate = func(path string) error {
		return errors.New("corrupt image")
	}

	temp := writeFile(t, t.TempDir(), "upload_2.png", "garbage")

	_, err := s.Add(temp, "broken.png")
	require.Error(t, err)

	// No file or sidecar survives a failed validation.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, s.List())
}

func TestScanMigratesBareFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "CMU-1.svs", "slide content")

	s := New(dir, zap.NewNop())
	s.Validate = func(path string) error { return nil }
	require.NoError(t, s.Scan())

	slides := s.List()
	require.Len(t, slides, 1)
	assert.Equal(t, "CMU-1.svs", slides[0].OriginalFilename)
	assert.NotEqual(t, "CMU-1.svs", slides[0].CurrentFilename)

	_, err := os.Stat(filepath.Join(dir, "CMU-1.svs"))
	assert.True(t, os.IsNotExist(err), "bare file is renamed to its UUID")
	_, err = os.Stat(filepath.Join(dir, slides[0].ID+".json"))
	assert.NoError(t, err)
}

func TestScanIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.png", "content-a")
	writeFile(t, dir, "b.tif", "content-b")

	s := New(dir, zap.NewNop())
	require.NoError(t, s.Scan())
	first := s.List()
	require.Len(t, first, 2)

	// A rescan loads the sidecars instead of re-migrating.
	require.NoError(t, s.Scan())
	assert.Equal(t, first, s.List())
}

func TestScanIgnoresUnsupportedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes.txt", "text")
	writeFile(t, dir, "scan.png", "image")

	s := New(dir, zap.NewNop())
	require.NoError(t, s.Scan())
	assert.Len(t, s.List(), 1)
}

func TestScanRemovesOrphanedSidecars(t *testing.T) {
	dir := t.TempDir()

	// Invalid JSON.
	writeFile(t, dir, "11111111-1111-1111-1111-111111111111.json", "{nope")
	// Valid JSON pointing at a missing source.
	writeFile(t, dir, "22222222-2222-2222-2222-222222222222.json",
		`{"id":"22222222-2222-2222-2222-222222222222","current_filename":"22222222-2222-2222-2222-222222222222.svs"}`)
	// UUID mismatch between filename and body.
	writeFile(t, dir, "33333333-3333-3333-3333-333333333333.json",
		`{"id":"44444444-4444-4444-4444-444444444444","current_filename":"x.svs"}`)

	s := New(dir, zap.NewNop())
	require.NoError(t, s.Scan())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, zap.NewNop())
	s.Validate = func(path string) error { return nil }

	temp := writeFile(t, t.TempDir(), "u.png", "bytes")
	rec, err := s.Add(temp, "image.png")
	require.NoError(t, err)

	require.NoError(t, s.Delete(rec.ID))

	_, ok := s.Get(rec.ID)
	assert.False(t, ok)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "source and sidecar are both removed")
}

func TestDeleteUnknown(t *testing.T) {
	s := New(t.TempDir(), zap.NewNop())
	assert.ErrorIs(t, s.Delete("missing"), slide.ErrNotFound)
}

func TestListOrdering(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, zap.NewNop())

	for _, name := range []string{"zebra.png", "alpha.png", "mid.png"} {
		temp := writeFile(t, t.TempDir(), "u"+name, "x")
		_, err := s.Add(temp, name)
		require.NoError(t, err)
	}

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, "alpha.png", list[0].OriginalFilename)
	assert.Equal(t, "mid.png", list[1].OriginalFilename)
	assert.Equal(t, "zebra.png", list[2].OriginalFilename)
}
