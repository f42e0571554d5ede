package reader

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"wsiview/internal/slide"
)

// Reader serves tiles from one opened slide. Implementations are safe for
// concurrent RenderTile calls; Close must only be called once no render is
// in flight, which the reader cache guarantees via pinning.
type Reader interface {
	// Info returns the slide's pyramid metadata. Immutable after open.
	Info() *slide.Info

	// RenderTile produces JPEG bytes for tile (x, y) of the given level.
	// Tiles touching the image boundary are padded to size×size with a
	// white background anchored at the top-left.
	RenderTile(level, x, y, size int) ([]byte, error)

	// Close releases the reader's rasters and file handles.
	Close() error
}

// Options configure how sources are opened and tiles encoded.
type Options struct {
	// TileSize is the default tile extent and the minimum dimension at
	// which pyramid generation stops.
	TileSize int
	// Quality is the JPEG quality for rendered tiles.
	Quality int
}

func (o Options) withDefaults() Options {
	if o.TileSize <= 0 {
		o.TileSize = 256
	}
	if o.Quality <= 0 {
		o.Quality = 82
	}
	return o
}

// Open builds a Reader for the source at path, routed by file extension.
func Open(path string, opts Options, log *zap.Logger) (Reader, error) {
	opts = opts.withDefaults()

	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", slide.ErrSourceNotFound, filepath.Base(path))
	}
	if fi.Size() == 0 {
		return nil, fmt.Errorf("%w: %s is a zero-byte file", slide.ErrEmptyContent, filepath.Base(path))
	}

	switch slide.KindOf(path) {
	case slide.KindImage:
		return openImage(path, opts, log)
	case slide.KindSlide:
		return openSlide(path, opts, log)
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", slide.ErrDecode, filepath.Ext(path))
	}
}
