package types

import (
	"encoding/json"
	"fmt"
	"image"

	"github.com/paulmach/orb"
)

// Box represents an axis-aligned box in pixel coordinates
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Ring returns the box as a closed rectangular ring, clockwise from the
// top-left corner in image coordinates.
func (b Box) Ring() orb.Ring {
	return orb.Ring{
		{b.X, b.Y},
		{b.X + b.W, b.Y},
		{b.X + b.W, b.Y + b.H},
		{b.X, b.Y + b.H},
		{b.X, b.Y},
	}
}

// TileSpec is the requested tile size and stride, both as (height, width)
type TileSpec struct {
	TileHeight   int `json:"tile_height"`
	TileWidth    int `json:"tile_width"`
	StrideHeight int `json:"stride_height"`
	StrideWidth  int `json:"stride_width"`
}

// NewTileSpec builds a TileSpec from (height, width) pairs
func NewTileSpec(tileSize, stride [2]int) TileSpec {
	return TileSpec{
		TileHeight:   tileSize[0],
		TileWidth:    tileSize[1],
		StrideHeight: stride[0],
		StrideWidth:  stride[1],
	}
}

// Annotation is a labeled region of one image. Exactly one of Polygon and
// Box is expected; Polygon wins when both are set.
type Annotation struct {
	Index      int      `json:"index"`
	CategoryID int      `json:"category_id"`
	Polygon    orb.Ring `json:"polygon,omitempty"`
	Box        *Box     `json:"box,omitempty"`
}

// Ring returns the annotation geometry as a closed ring. The result never
// shares memory with Polygon.
func (a Annotation) Ring() (orb.Ring, error) {
	switch {
	case len(a.Polygon) > 0:
		return closeRing(a.Polygon), nil
	case a.Box != nil:
		return a.Box.Ring(), nil
	default:
		return nil, fmt.Errorf("annotation %d has neither polygon nor box", a.Index)
	}
}

// RingFromFlat converts [x0,y0,x1,y1,...] into an open ring
func RingFromFlat(flat []float64) (orb.Ring, error) {
	if len(flat)%2 != 0 {
		return nil, fmt.Errorf("odd number of coordinates: %d", len(flat))
	}
	ring := make(orb.Ring, 0, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		ring = append(ring, orb.Point{flat[i], flat[i+1]})
	}
	return ring, nil
}

// Flatten converts a ring into [x0,y0,x1,y1,...], dropping the closing point
func Flatten(r orb.Ring) []float64 {
	r = OpenRing(r)
	flat := make([]float64, 0, 2*len(r))
	for _, p := range r {
		flat = append(flat, p[0], p[1])
	}
	return flat
}

// OpenRing drops the closing point of a closed ring
func OpenRing(r orb.Ring) orb.Ring {
	if len(r) > 1 && r[0] == r[len(r)-1] {
		return r[:len(r)-1]
	}
	return r
}

func closeRing(r orb.Ring) orb.Ring {
	closed := make(orb.Ring, len(r), len(r)+1)
	copy(closed, r)
	if len(r) == 0 || r[0] == r[len(r)-1] {
		return closed
	}
	return append(closed, r[0])
}

// Tile is one fixed-size window of an image. Rect is expressed in the
// image's own frame with the origin at its top-left pixel.
type Tile struct {
	ID    int             `json:"id"`
	Rect  image.Rectangle `json:"-"`
	Image image.Image     `json:"-"`
}

// Width of the tile in pixels
func (t Tile) Width() int { return t.Rect.Dx() }

// Height of the tile in pixels
func (t Tile) Height() int { return t.Rect.Dy() }

// Bound returns the tile rectangle as an orb bound
func (t Tile) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{float64(t.Rect.Min.X), float64(t.Rect.Min.Y)},
		Max: orb.Point{float64(t.Rect.Max.X), float64(t.Rect.Max.Y)},
	}
}

// Ring returns the four tile corners clockwise from the top-left:
// (x0,y0) -> (x1,y0) -> (x1,y1) -> (x0,y1).
func (t Tile) Ring() orb.Ring {
	x0, y0 := float64(t.Rect.Min.X), float64(t.Rect.Min.Y)
	x1, y1 := float64(t.Rect.Max.X), float64(t.Rect.Max.Y)
	return orb.Ring{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}}
}

// Corners returns Ring as 8 numbers
func (t Tile) Corners() []float64 {
	return Flatten(t.Ring())
}

// MarshalJSON writes the tile id, size and corner polygon. Pixels are
// written to their own files by the caller.
func (t Tile) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID            int       `json:"id"`
		Width         int       `json:"width"`
		Height        int       `json:"height"`
		CornerPolygon []float64 `json:"corner_polygon"`
	}{t.ID, t.Width(), t.Height(), t.Corners()})
}

// Entry is one annotation retained by a tile, in tile-local coordinates
type Entry struct {
	Polygon         orb.Ring `json:"-"`
	CategoryID      int      `json:"category_id"`
	AnnotationIndex int      `json:"source_annotation_index"`
	Visibility      float64  `json:"visibility"`
}

// Flat returns the entry polygon as [x0,y0,x1,y1,...]
func (e Entry) Flat() []float64 {
	return Flatten(e.Polygon)
}

func (e Entry) MarshalJSON() ([]byte, error) {
	type alias Entry
	return json.Marshal(struct {
		Polygon []float64 `json:"polygon"`
		alias
	}{e.Flat(), alias(e)})
}

// TileAnnotationGroup lists the annotations visible enough in one tile,
// ascending by annotation index.
type TileAnnotationGroup struct {
	TileID  int     `json:"tile_id"`
	Entries []Entry `json:"entries"`
}

// Covered returns the annotation indices of the group's entries
func (g TileAnnotationGroup) Covered() []int {
	ids := make([]int, len(g.Entries))
	for i, e := range g.Entries {
		ids[i] = e.AnnotationIndex
	}
	return ids
}

// Result is the selected tiles of one image, ascending by tile id, with
// Groups parallel to Tiles.
type Result struct {
	Tiles     []Tile                `json:"tiles"`
	Groups    []TileAnnotationGroup `json:"groups"`
	Selection []int                 `json:"selection"`
	TileCount int                   `json:"tile_count"`
	Skipped   []int                 `json:"skipped,omitempty"`
}

// AnnotationCount is the number of entries across all selected groups
func (r *Result) AnnotationCount() int {
	n := 0
	for _, g := range r.Groups {
		n += len(g.Entries)
	}
	return n
}
