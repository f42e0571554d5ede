package slide

import (
	"fmt"
	"math"
)

// Level is one resolution step of an image pyramid. Level 0 is the full
// source resolution with downsample 1.0; each subsequent level halves both
// dimensions.
type Level struct {
	Index      int     `json:"index"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Downsample float64 `json:"downsample"`
}

// Info is the derived pyramid metadata for one slide. It is built once when
// the slide is opened and never mutated afterwards; opening the same slide
// twice yields identical Info.
type Info struct {
	Width         int               `json:"width"`
	Height        int               `json:"height"`
	LevelCount    int               `json:"level_count"`
	Levels        []Level           `json:"levels"`
	TileSize      int               `json:"tile_size"`
	MPP           *float64          `json:"mpp"`
	Magnification *float64          `json:"magnification"`
	Format        string            `json:"format"`
	Properties    map[string]string `json:"properties,omitempty"`
}

// BuildLevels computes the pyramid geometry for a source of the given
// dimensions. Each level halves both dimensions of the previous one, with a
// floor of 1 pixel, and the pyramid ends once both dimensions are at or
// below minTileDim. There is always at least one level.
func BuildLevels(width, height, minTileDim int) []Level {
	maxDim := width
	if height > maxDim {
		maxDim = height
	}

	count := 1
	if maxDim > minTileDim {
		count = int(math.Ceil(math.Log2(float64(maxDim)/float64(minTileDim)))) + 1
	}

	levels := make([]Level, 0, count)
	w, h := width, height
	for i := 0; i < count; i++ {
		levels = append(levels, Level{
			Index:      i,
			Width:      w,
			Height:     h,
			Downsample: math.Pow(2, float64(i)),
		})
		w = halve(w)
		h = halve(h)
	}
	return levels
}

func halve(dim int) int {
	if dim/2 < 1 {
		return 1
	}
	return dim / 2
}

// LevelAt returns the pyramid level with the given index.
func (in *Info) LevelAt(level int) (Level, error) {
	if level < 0 || level >= in.LevelCount {
		return Level{}, fmt.Errorf("%w: level %d not in [0, %d)", ErrInvalidLevel, level, in.LevelCount)
	}
	return in.Levels[level], nil
}

// Region is a rectangle within one pyramid level, in level pixel coordinates.
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
}

// TileRegion computes the pixel region covered by tile (x, y) of a level,
// clamped to the level boundary. The second return reports whether the
// region is smaller than size in either dimension, meaning the tile touches
// the boundary and must be padded back out to size by the renderer.
func TileRegion(lv Level, x, y, size int) (Region, bool, error) {
	if x < 0 || y < 0 {
		return Region{}, false, fmt.Errorf("%w: negative tile coordinates (%d, %d)", ErrOutOfRange, x, y)
	}

	px := x * size
	py := y * size
	if px >= lv.Width || py >= lv.Height {
		return Region{}, false, fmt.Errorf("%w: tile (%d, %d) at origin (%d, %d) is outside level %d (%dx%d)",
			ErrOutOfRange, x, y, px, py, lv.Index, lv.Width, lv.Height)
	}

	w := size
	if px+w > lv.Width {
		w = lv.Width - px
	}
	h := size
	if py+h > lv.Height {
		h = lv.Height - py
	}

	return Region{X: px, Y: py, Width: w, Height: h}, w < size || h < size, nil
}
