// Package dzi renders Deep Zoom Image descriptors for slide pyramids and
// owns the level-order remap between the canonical internal convention
// (level 0 = full resolution) and the viewer-facing DZI convention
// (level 0 = most downsampled). No other package remaps levels.
package dzi

import (
	"encoding/xml"
	"fmt"

	"wsiview/internal/slide"
)

const namespace = "http://schemas.microsoft.com/deepzoom/2008"

// Manifest is the <Image> descriptor element.
type Manifest struct {
	XMLName  xml.Name `xml:"Image"`
	Xmlns    string   `xml:"xmlns,attr"`
	Format   string   `xml:"Format,attr"`
	Overlap  int      `xml:"Overlap,attr"`
	TileSize int      `xml:"TileSize,attr"`
	Sizes    []Size   `xml:"Size"`
}

// Size is one per-level <Size> element.
type Size struct {
	Width  int `xml:"Width,attr"`
	Height int `xml:"Height,attr"`
}

// FromInfo builds the descriptor for a slide, one Size per pyramid level
// ordered from finest (level 0) to coarsest. Overlap is always 0.
func FromInfo(info *slide.Info) *Manifest {
	m := &Manifest{
		Xmlns:    namespace,
		Format:   "jpg",
		Overlap:  0,
		TileSize: info.TileSize,
		Sizes:    make([]Size, 0, len(info.Levels)),
	}
	for _, lv := range info.Levels {
		m.Sizes = append(m.Sizes, Size{Width: lv.Width, Height: lv.Height})
	}
	return m
}

// Encode renders the descriptor as an XML document.
func (m *Manifest) Encode() ([]byte, error) {
	body, err := xml.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode DZI manifest: %w", err)
	}
	return append([]byte(xml.Header), append(body, '\n')...), nil
}

// Parse reads a descriptor document.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := xml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse DZI manifest: %w", err)
	}
	return &m, nil
}

// ViewerLevel converts between the canonical level index and the DZI viewer
// index. The mapping is its own inverse.
func ViewerLevel(levelCount, level int) int {
	return levelCount - 1 - level
}
