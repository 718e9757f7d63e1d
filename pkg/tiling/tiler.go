// Package tiling splits an image into a deterministic grid of fixed-size,
// possibly overlapping tiles.
//
// Tile origins along each axis start at 0 and advance by the stride. When the
// stride does not land exactly on the last valid origin (size - tile), that
// origin is appended, so the final row and column always end flush with the
// image's bottom and right edges. Tiles are numbered row-major: every x origin
// of one row before the next y origin.
package tiling

import (
	"fmt"
	"image"

	"github.com/menta2k/tile-selector/pkg/apperr"
	"github.com/menta2k/tile-selector/pkg/types"
)

// Tiler produces the tiles of an image for a fixed TileSpec
type Tiler struct {
	spec types.TileSpec
}

// New creates a Tiler
func New(spec types.TileSpec) *Tiler {
	return &Tiler{spec: spec}
}

// Spec returns the tiler's TileSpec
func (t *Tiler) Spec() types.TileSpec {
	return t.spec
}

// ValidateSpec checks the parts of a TileSpec that do not depend on the image
func ValidateSpec(spec types.TileSpec) error {
	if spec.TileHeight <= 0 || spec.TileWidth <= 0 {
		return apperr.Config(apperr.CodeInvalidValue, "tile_size must be positive",
			fmt.Sprintf("[%d, %d]", spec.TileHeight, spec.TileWidth))
	}
	if spec.StrideHeight <= 0 || spec.StrideWidth <= 0 {
		return apperr.Config(apperr.CodeInvalidValue, "stride must be positive",
			fmt.Sprintf("[%d, %d]", spec.StrideHeight, spec.StrideWidth))
	}
	if spec.StrideHeight > spec.TileHeight || spec.StrideWidth > spec.TileWidth {
		return apperr.Config(apperr.CodeInvalidValue, "stride must not exceed tile_size",
			fmt.Sprintf("stride [%d, %d], tile_size [%d, %d]",
				spec.StrideHeight, spec.StrideWidth, spec.TileHeight, spec.TileWidth))
	}
	return nil
}

// Offsets returns the tile origins along one axis of length size
func Offsets(size, tile, stride int) []int {
	last := size - tile
	if last < 0 || stride <= 0 {
		return nil
	}
	offsets := make([]int, 0, last/stride+2)
	for o := 0; o <= last; o += stride {
		offsets = append(offsets, o)
	}
	if offsets[len(offsets)-1] != last {
		offsets = append(offsets, last)
	}
	return offsets
}

// Rects returns the tile rectangles for an image of the given height and
// width, in tile id order.
func (t *Tiler) Rects(height, width int) ([]image.Rectangle, error) {
	if err := ValidateSpec(t.spec); err != nil {
		return nil, err
	}
	if t.spec.TileHeight > height || t.spec.TileWidth > width {
		return nil, apperr.Config(apperr.CodeTileTooLarge, "tile_size is larger than the image",
			fmt.Sprintf("tile %dx%d, image %dx%d", t.spec.TileHeight, t.spec.TileWidth, height, width))
	}

	ys := Offsets(height, t.spec.TileHeight, t.spec.StrideHeight)
	xs := Offsets(width, t.spec.TileWidth, t.spec.StrideWidth)

	rects := make([]image.Rectangle, 0, len(ys)*len(xs))
	for _, y := range ys {
		for _, x := range xs {
			rects = append(rects, image.Rect(x, y, x+t.spec.TileWidth, y+t.spec.TileHeight))
		}
	}
	return rects, nil
}

// Tile splits img into tiles. Each tile holds a read-only view of img; no
// pixels are copied.
func (t *Tiler) Tile(img image.Image) ([]types.Tile, error) {
	bounds := img.Bounds()
	rects, err := t.Rects(bounds.Dy(), bounds.Dx())
	if err != nil {
		return nil, err
	}

	tiles := make([]types.Tile, len(rects))
	for id, r := range rects {
		tiles[id] = types.Tile{
			ID:    id,
			Rect:  r,
			Image: NewView(img, r),
		}
	}
	return tiles, nil
}
