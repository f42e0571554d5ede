package reader

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"wsiview/internal/slide"
)

// ImageReader serves general single-resolution images (jpeg, png, tiff, ...)
// from an in-memory pyramid. Every level is materialized at open time as a
// losslessly encoded raster, so tile rendering never touches the source file
// again. Suited to sources that fit comfortably in memory; gigapixel
// whole-slide sources use SlideReader instead.
type ImageReader struct {
	info    *slide.Info
	rasters [][]byte // per-level PNG buffers, index matching info.Levels
	opts    Options
	log     *zap.Logger
}

func openImage(path string, opts Options, log *zap.Logger) (*ImageReader, error) {
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

	base, err := src.PngsaveBuffer(vips.DefaultPngsaveBufferOptions())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", slide.ErrDecode, err)
	}

	// Each level is produced from the previous one, halving at every step,
	// so downsampling cost stays proportional to the source size.
	rasters := make([][]byte, len(levels))
	rasters[0] = base
	for i := 1; i < len(levels); i++ {
		rasters[i], err = downsampleRaster(rasters[i-1], levels[i])
		if err != nil {
			return nil, err
		}
	}

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

	log.Debug("Built in-memory pyramid",
		zap.String("source", filepath.Base(path)),
		zap.Int("width", w),
		zap.Int("height", h),
		zap.Int("levels", len(levels)),
	)

	return &ImageReader{info: info, rasters: rasters, opts: opts, log: log}, nil
}

func downsampleRaster(prev []byte, lv slide.Level) ([]byte, error) {
	img, err := vips.NewPngloadBuffer(prev, vips.DefaultPngloadBufferOptions())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", slide.ErrDecode, err)
	}
	defer img.Close()

	if err := downsampleTo(img, lv.Width, lv.Height); err != nil {
		return nil, err
	}
	return img.PngsaveBuffer(vips.DefaultPngsaveBufferOptions())
}

func (r *ImageReader) Info() *slide.Info {
	return r.info
}

func (r *ImageReader) RenderTile(level, x, y, size int) ([]byte, error) {
	lv, err := r.info.LevelAt(level)
	if err != nil {
		return nil, err
	}
	reg, pad, err := slide.TileRegion(lv, x, y, size)
	if err != nil {
		return nil, err
	}

	img, err := vips.NewPngloadBuffer(r.rasters[level], vips.DefaultPngloadBufferOptions())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", slide.ErrDecode, err)
	}
	defer img.Close()

	if err := img.ExtractArea(reg.X, reg.Y, reg.Width, reg.Height); err != nil {
		return nil, fmt.Errorf("failed to extract region: %w", err)
	}
	if pad {
		if err := padTile(img, size); err != nil {
			return nil, err
		}
	}
	return encodeJpeg(img, r.opts.Quality)
}

func (r *ImageReader) Close() error {
	r.rasters = nil
	return nil
}
