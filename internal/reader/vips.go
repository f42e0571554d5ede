package reader

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cshum/vipsgen/vips"

	"wsiview/internal/slide"
)

// loadSource opens a source file with the loader matching its extension.
// Whole-slide formats (svs, ndpi, scn, ...) are TIFF containers, so anything
// without a dedicated loader goes through tiffload, which reads their base
// resolution.
func loadSource(path string, access vips.Access) (*vips.Image, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".jpg", ".jpeg":
		opts := vips.DefaultJpegloadOptions()
		opts.Access = access
		return vips.NewJpegload(path, opts)
	case ".png":
		opts := vips.DefaultPngloadOptions()
		opts.Access = access
		return vips.NewPngload(path, opts)
	case ".webp":
		opts := vips.DefaultWebploadOptions()
		opts.Access = access
		return vips.NewWebpload(path, opts)
	case ".bmp":
		opts := vips.DefaultMagickloadOptions()
		opts.Access = access
		return vips.NewMagickload(path, opts)
	default:
		opts := vips.DefaultTiffloadOptions()
		opts.Access = access
		return vips.NewTiffload(path, opts)
	}
}

// downsampleTo resizes an image to the exact target dimensions using linear
// interpolation. The kernel is fixed: tile pixel values must be reproducible
// across runs, and nearest-neighbor would alias.
func downsampleTo(img *vips.Image, width, height int) error {
	opts := vips.DefaultResizeOptions()
	opts.Kernel = vips.KernelLinear
	opts.Vscale = float64(height) / float64(img.Height())
	if err := img.Resize(float64(width)/float64(img.Width()), opts); err != nil {
		return fmt.Errorf("failed to resize to %dx%d: %w", width, height, err)
	}
	return nil
}

// padTile extends an edge tile to size×size with a white background, content
// anchored at the top-left.
func padTile(img *vips.Image, size int) error {
	opts := vips.DefaultEmbedOptions()
	opts.Extend = vips.ExtendBackground
	opts.Background = []float64{255, 255, 255}
	if err := img.Embed(0, 0, size, size, opts); err != nil {
		return fmt.Errorf("failed to pad tile: %w", err)
	}
	return nil
}

func encodeJpeg(img *vips.Image, quality int) ([]byte, error) {
	opts := vips.DefaultJpegsaveBufferOptions()
	opts.Q = quality
	opts.Interlace = false
	data, err := img.JpegsaveBuffer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tile: %w", err)
	}
	return data, nil
}

// imageDescription returns the free-text description header when the source
// carries one, else the empty string.
func imageDescription(img *vips.Image) string {
	desc, err := img.GetString("image-description")
	if err != nil {
		return ""
	}
	return desc
}

// rawProperties snapshots the scalar-relevant header values the decoder
// reports, as an untyped map ready for slide.FilterScalarProperties.
func rawProperties(img *vips.Image, path string) map[string]interface{} {
	raw := map[string]interface{}{
		"width":  img.Width(),
		"height": img.Height(),
		"format": strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
	}
	if desc := imageDescription(img); desc != "" {
		raw["image-description"] = desc
	}
	return raw
}
