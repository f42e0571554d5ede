package reader

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"wsiview/internal/slide"
)

// SlideReader serves whole-slide microscopy sources. The pyramid geometry is
// computed once at open time; level rasters are never materialized. Each
// tile is cut straight from the source at full resolution and downsampled to
// level scale, the same region-first technique used for display rendering:
// with random access the decoder only reads the pages backing the region, so
// memory stays bounded even for gigapixel files.
//
// A fresh vips image is opened per render; vips operations mutate their
// receiver, so a shared open image cannot serve concurrent extractions.
// Repeated opens of the same file are cheap through the vips operation cache.
type SlideReader struct {
	path string
	info *slide.Info
	opts Options
	log  *zap.Logger
}

func openSlide(path string, opts Options, log *zap.Logger) (*SlideReader, error) {
	src, err := loadSource(path, vips.AccessSequential)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", slide.ErrDecode, err)
	}
	defer src.Close()

	w, h := src.Width(), src.Height()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: %s decodes to %dx%d", slide.ErrEmptyContent, filepath.Base(path), w, h)
	}

	levels := slide.BuildLevels(w, h, opts.TileSize)
	desc := imageDescription(src)

	info := &slide.Info{
		Width:         w,
		Height:        h,
		LevelCount:    len(levels),
		Levels:        levels,
		TileSize:      opts.TileSize,
		MPP:           slide.ParseMPP(desc),
		Magnification: slide.ParseMagnification(desc),
		Format:        strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
		Properties:    slide.FilterScalarProperties(rawProperties(src, path), log),
	}

	log.Debug("Opened whole-slide source",
		zap.String("source", filepath.Base(path)),
		zap.Int("width", w),
		zap.Int("height", h),
		zap.Int("levels", len(levels)),
		zap.Float64p("mpp", info.MPP),
		zap.Float64p("magnification", info.Magnification),
	)

	return &SlideReader{path: path, info: info, opts: opts, log: log}, nil
}

func (r *SlideReader) Info() *slide.Info {
	return r.info
}

func (r *SlideReader) RenderTile(level, x, y, size int) ([]byte, error) {
	lv, err := r.info.LevelAt(level)
	if err != nil {
		return nil, err
	}
	reg, pad, err := slide.TileRegion(lv, x, y, size)
	if err != nil {
		return nil, err
	}

	img, err := loadSource(r.path, vips.AccessRandom)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", slide.ErrDecode, err)
	}
	defer img.Close()

	// Map the level region back to source coordinates, clamped so float
	// scaling never reads past the source edge.
	srcX := int(float64(reg.X) * lv.Downsample)
	srcY := int(float64(reg.Y) * lv.Downsample)
	srcW := int(float64(reg.Width) * lv.Downsample)
	srcH := int(float64(reg.Height) * lv.Downsample)
	if srcX+srcW > img.Width() {
		srcW = img.Width() - srcX
	}
	if srcY+srcH > img.Height() {
		srcH = img.Height() - srcY
	}
	if srcW <= 0 || srcH <= 0 {
		return nil, fmt.Errorf("%w: tile (%d, %d) maps to an empty source region", slide.ErrOutOfRange, x, y)
	}

	if err := img.ExtractArea(srcX, srcY, srcW, srcH); err != nil {
		return nil, fmt.Errorf("failed to extract region: %w", err)
	}
	if lv.Downsample > 1 {
		if err := downsampleTo(img, reg.Width, reg.Height); err != nil {
			return nil, err
		}
	}
	if pad {
		if err := padTile(img, size); err != nil {
			return nil, err
		}
	}
	return encodeJpeg(img, r.opts.Quality)
}

func (r *SlideReader) Close() error {
	return nil
}
