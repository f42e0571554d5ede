package slide

import (
	"path/filepath"
	"strings"
)

// Kind selects which reader implementation serves a source file.
type Kind int

const (
	KindUnknown Kind = iota
	// KindImage covers general single-resolution formats served by an
	// in-memory pyramid.
	KindImage
	// KindSlide covers whole-slide microscopy containers served by lazy
	// region extraction.
	KindSlide
)

var generalImageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
}

var wholeSlideExts = map[string]bool{
	".svs":  true,
	".tif":  true,
	".tiff": true,
	".ndpi": true,
	".vms":  true,
	".vmu":  true,
	".scn":  true,
	".mrxs": true,
	".sdpc": true,
	".kfb":  true,
	".tmap": true,
}

// KindOf routes a source path by file extension. Plain tif/tiff appear in
// both format families; they resolve to the general reader.
func KindOf(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case generalImageExts[ext]:
		return KindImage
	case wholeSlideExts[ext]:
		return KindSlide
	default:
		return KindUnknown
	}
}

// SupportedExt reports whether a file with the given name can be served.
func SupportedExt(name string) bool {
	return KindOf(name) != KindUnknown
}
