// Package selector is the per-image entry point: it tiles an image, finds
// which annotations each tile keeps, and returns only the tiles needed to
// retain every coverable annotation.
//
// A Selector holds configuration only. Run is a pure function of its
// arguments, so callers may run one image per goroutine without locking as
// long as images and annotation slices are not shared.
package selector

import (
	"fmt"
	"image"

	"github.com/menta2k/tile-selector/pkg/apperr"
	"github.com/menta2k/tile-selector/pkg/cover"
	"github.com/menta2k/tile-selector/pkg/tiling"
	"github.com/menta2k/tile-selector/pkg/types"
	"github.com/menta2k/tile-selector/pkg/visibility"
)

// Config holds configuration for tile selection
type Config struct {
	Spec           types.TileSpec
	Threshold      float64
	SkipDegenerate bool
}

// Selector runs tiling, visibility filtering and coverage selection
type Selector struct {
	tiler  *tiling.Tiler
	filter *visibility.Filter
}

// New creates a Selector for the given tile spec and visibility threshold
func New(spec types.TileSpec, threshold float64) (*Selector, error) {
	return NewWithConfig(Config{Spec: spec, Threshold: threshold})
}

// NewWithConfig creates a Selector with custom configuration. Configuration
// errors are reported here, before any image is processed.
func NewWithConfig(config Config) (*Selector, error) {
	if err := tiling.ValidateSpec(config.Spec); err != nil {
		return nil, err
	}
	filter, err := visibility.NewWithConfig(visibility.Config{
		Threshold:      config.Threshold,
		SkipDegenerate: config.SkipDegenerate,
	})
	if err != nil {
		return nil, err
	}
	return &Selector{tiler: tiling.New(config.Spec), filter: filter}, nil
}

// Threshold returns the effective visibility threshold
func (s *Selector) Threshold() float64 {
	return s.filter.Threshold()
}

// Spec returns the tile spec
func (s *Selector) Spec() types.TileSpec {
	return s.tiler.Spec()
}

// Run selects the informative tiles of img. The result lists tiles in
// ascending id order with their annotation groups alongside; Selection keeps
// the greedy pick order.
func (s *Selector) Run(img image.Image, annotations []types.Annotation) (*types.Result, error) {
	tiles, err := s.tiler.Tile(img)
	if err != nil {
		return nil, apperr.AtStage("tile", err)
	}

	groups, skipped, err := s.filter.Apply(tiles, annotations)
	if err != nil {
		return nil, apperr.AtStage("filter", err)
	}

	coverage := make([][]int, len(tiles))
	for i, g := range groups {
		if g.TileID != i {
			return nil, apperr.Internal("select", fmt.Errorf("group %d belongs to tile %d", i, g.TileID))
		}
		coverage[i] = g.Covered()
	}
	selection, err := cover.Select(len(annotations), coverage)
	if err != nil {
		return nil, apperr.Internal("select", err)
	}

	return project(tiles, groups, selection, skipped), nil
}

// Run is a convenience wrapper around New and Selector.Run
func Run(img image.Image, spec types.TileSpec, annotations []types.Annotation, threshold float64) (*types.Result, error) {
	s, err := New(spec, threshold)
	if err != nil {
		return nil, err
	}
	return s.Run(img, annotations)
}

// project keeps the selected tiles and their groups, in tile id order
func project(tiles []types.Tile, groups []types.TileAnnotationGroup, selection, skipped []int) *types.Result {
	if selection == nil {
		selection = []int{}
	}
	chosen := make([]bool, len(tiles))
	for _, id := range selection {
		chosen[id] = true
	}

	result := &types.Result{
		Tiles:     make([]types.Tile, 0, len(selection)),
		Groups:    make([]types.TileAnnotationGroup, 0, len(selection)),
		Selection: selection,
		TileCount: len(tiles),
		Skipped:   skipped,
	}
	for id, tile := range tiles {
		if !chosen[id] {
			continue
		}
		result.Tiles = append(result.Tiles, tile)
		result.Groups = append(result.Groups, groups[id])
	}
	return result
}
