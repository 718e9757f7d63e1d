// Package tileselector cuts annotated images into fixed-size tiles and keeps
// only the tiles needed so that every annotation survives, whole enough, in
// at least one of them.
//
// Basic usage:
//
//	package main
//
//	import (
//		"fmt"
//		"log"
//
//		tileselector "github.com/menta2k/tile-selector"
//		"github.com/menta2k/tile-selector/pkg/types"
//	)
//
//	func main() {
//		ts := tileselector.New()
//
//		img, err := ts.LoadImage("field.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		anns := []types.Annotation{
//			{CategoryID: 1, Box: &types.Box{X: 120, Y: 80, W: 40, H: 30}},
//		}
//		result, err := ts.SelectTiles(img, anns)
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Printf("kept %d of %d tiles\n", len(result.Tiles), result.TileCount)
//	}
//
// The work is split over four packages:
//
// 1. Tiling (pkg/tiling): lays a grid of tiles over the image so that every
// pixel is covered, shifting the last row and column back inside the image.
// 2. Visibility (pkg/visibility): clips every annotation to every tile and
// keeps those whose visible area fraction reaches the threshold.
// 3. Cover (pkg/cover): greedily picks tiles until every annotation that can
// be kept is kept.
// 4. Selector (pkg/selector): runs the three steps for one image.
//
// pkg/pipeline adds COCO dataset input and output on top, and
// cmd/tile-selector exposes it on the command line and over HTTP.
package tileselector

import (
	"context"
	"image"
	"path/filepath"

	"github.com/menta2k/tile-selector/internal/config"
	"github.com/menta2k/tile-selector/pkg/pipeline"
	"github.com/menta2k/tile-selector/pkg/processing"
	"github.com/menta2k/tile-selector/pkg/selector"
	"github.com/menta2k/tile-selector/pkg/types"
)

// Version of the tile selector library
const Version = "1.0.0"

// TileSelector provides a high-level interface for tile selection
type TileSelector struct {
	config    selector.Config
	selector  *selector.Selector
	processor *processing.Processor
}

// DefaultConfig returns the tiling configuration New uses
func DefaultConfig() selector.Config {
	tiling := config.Default().Tiling
	return selector.Config{
		Spec:           tiling.Spec(),
		Threshold:      float64(tiling.Threshold),
		SkipDegenerate: tiling.SkipDegenerate,
	}
}

// New creates a TileSelector with default configuration
func New() *TileSelector {
	ts, err := NewWithConfig(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return ts
}

// NewWithConfig creates a TileSelector with custom configuration.
// Configuration errors are returned here, before any image is processed.
func NewWithConfig(cfg selector.Config) (*TileSelector, error) {
	sel, err := selector.NewWithConfig(cfg)
	if err != nil {
		return nil, err
	}
	cfg.Threshold = sel.Threshold()
	return &TileSelector{
		config:    cfg,
		selector:  sel,
		processor: processing.NewProcessor(),
	}, nil
}

// Config returns the effective configuration
func (ts *TileSelector) Config() selector.Config {
	return ts.config
}

// LoadImage loads an image from file
func (ts *TileSelector) LoadImage(path string) (image.Image, error) {
	return ts.processor.LoadImage(path)
}

// SelectTiles runs tile selection on an in-memory image
func (ts *TileSelector) SelectTiles(img image.Image, annotations []types.Annotation) (*types.Result, error) {
	return ts.selector.Run(img, annotations)
}

// ProcessImageFile is a convenience function that tiles one image of a COCO
// dataset, writing the tiles and outputDir/annotations.json.
func (ts *TileSelector) ProcessImageFile(ctx context.Context, imagePath, annotationPath, outputDir string) (*pipeline.Summary, error) {
	cfg := config.Default()
	cfg.Input.ImagePath = imagePath
	cfg.Input.AnnotationPath = annotationPath
	cfg.Output.OutputDir = outputDir
	cfg.Output.AnnotationPath = filepath.Join(outputDir, "annotations.json")

	spec := ts.config.Spec
	cfg.Tiling.TileSize = []int{spec.TileHeight, spec.TileWidth}
	cfg.Tiling.Stride = []int{spec.StrideHeight, spec.StrideWidth}
	cfg.Tiling.Threshold = config.Threshold(ts.config.Threshold)
	cfg.Tiling.SkipDegenerate = ts.config.SkipDegenerate

	return pipeline.RunImage(ctx, cfg)
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
