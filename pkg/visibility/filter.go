// Package visibility decides, for every tile, which annotations stay visible
// enough inside it.
//
// The visibility of an annotation in a tile is the area of the annotation
// polygon clipped to the tile rectangle divided by the area of the whole
// polygon. Annotations at or above the threshold are kept, re-expressed in
// the tile's own coordinates.
package visibility

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/menta2k/tile-selector/pkg/apperr"
	"github.com/menta2k/tile-selector/pkg/types"
)

// DefaultThreshold is used when no threshold is configured
const DefaultThreshold = 0.8

// Config holds configuration for the visibility filter
type Config struct {
	Threshold float64
	// SkipDegenerate drops zero-area annotations instead of failing the image
	SkipDegenerate bool
}

// Filter computes per-tile annotation groups
type Filter struct {
	config Config
}

// NormalizeThreshold maps 0 to DefaultThreshold and rejects anything outside (0, 1].
func NormalizeThreshold(threshold float64) (float64, error) {
	if threshold == 0 {
		return DefaultThreshold, nil
	}
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return 0, apperr.Config(apperr.CodeInvalidValue,
			"polygon_visibility_threshold must be in (0, 1]", fmt.Sprint(threshold))
	}
	return threshold, nil
}

// New creates a Filter with the given threshold
func New(threshold float64) (*Filter, error) {
	return NewWithConfig(Config{Threshold: threshold})
}

// NewWithConfig creates a Filter with custom configuration
func NewWithConfig(config Config) (*Filter, error) {
	threshold, err := NormalizeThreshold(config.Threshold)
	if err != nil {
		return nil, err
	}
	config.Threshold = threshold
	return &Filter{config: config}, nil
}

// Threshold returns the effective visibility threshold
func (f *Filter) Threshold() float64 {
	return f.config.Threshold
}

type prepared struct {
	source types.Annotation
	ring   orb.Ring
	area   float64
	bound  orb.Bound
}

// resolve returns the closed ring and unsigned area of an annotation, or
// false when it has no usable geometry.
func resolve(a types.Annotation) (orb.Ring, float64, bool) {
	ring, err := a.Ring()
	if err != nil || len(types.OpenRing(ring)) < 3 {
		return nil, 0, false
	}
	area := RingArea(ring)
	if area == 0 || math.IsNaN(area) || math.IsInf(area, 0) {
		return nil, 0, false
	}
	return ring, area, true
}

func degenerate(index int) error {
	return apperr.Data(apperr.CodeDegenerateGeometry,
		"annotation geometry has zero area", fmt.Sprintf("annotation index %d", index))
}

// prepare resolves every annotation once. Degenerate annotations are a data
// error unless SkipDegenerate is set, in which case their indices are
// returned.
func (f *Filter) prepare(annotations []types.Annotation) ([]prepared, []int, error) {
	out := make([]prepared, 0, len(annotations))
	var skipped []int
	for i, a := range annotations {
		ring, area, ok := resolve(a)
		if !ok {
			if f.config.SkipDegenerate {
				skipped = append(skipped, i)
				continue
			}
			return nil, nil, degenerate(i)
		}
		// the list position is the index every group refers to
		a.Index = i
		out = append(out, prepared{source: a, ring: ring, area: area, bound: ring.Bound()})
	}
	return out, skipped, nil
}

// Visibility returns the visible fraction of annotation inside tile and the
// clipped region. A zero-area annotation is a data error.
func (f *Filter) Visibility(tile types.Tile, annotation types.Annotation) (float64, Region, error) {
	ring, area, ok := resolve(annotation)
	if !ok {
		return 0, Region{}, degenerate(annotation.Index)
	}
	region := Clip(ring, tile.Bound())
	return region.Area() / area, region, nil
}

// Apply produces one group per tile, in tile order, and the indices of any
// skipped degenerate annotations.
func (f *Filter) Apply(tiles []types.Tile, annotations []types.Annotation) ([]types.TileAnnotationGroup, []int, error) {
	anns, skipped, err := f.prepare(annotations)
	if err != nil {
		return nil, nil, err
	}

	groups := make([]types.TileAnnotationGroup, len(tiles))
	for i, tile := range tiles {
		groups[i] = f.group(tile, anns)
	}
	return groups, skipped, nil
}

func (f *Filter) group(tile types.Tile, anns []prepared) types.TileAnnotationGroup {
	g := types.TileAnnotationGroup{TileID: tile.ID, Entries: []types.Entry{}}
	tb := tile.Bound()
	x0, y0 := tb.Min[0], tb.Min[1]

	for _, a := range anns {
		// disjoint bounds clip to nothing
		if !a.bound.Intersects(tb) {
			continue
		}
		region := Clip(a.ring, tb)
		if region.Empty() {
			continue
		}
		visibility := region.Area() / a.area
		if visibility < f.config.Threshold {
			continue
		}
		g.Entries = append(g.Entries, types.Entry{
			Polygon:         Translate(region.Primary(), x0, y0),
			CategoryID:      a.source.CategoryID,
			AnnotationIndex: a.source.Index,
			Visibility:      visibility,
		})
	}
	return g
}
