// Package pipeline runs tile selection end to end: it reads a COCO dataset
// and the referenced images, writes the selected tiles and a new dataset
// describing them, and optionally renders annotation overlays.
//
// Every error leaving a pipeline is an *apperr.Error. Configuration errors
// are reported before any image is read; a data error in one image aborts
// the whole run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/menta2k/tile-selector/internal/config"
	"github.com/menta2k/tile-selector/internal/utils"
	"github.com/menta2k/tile-selector/pkg/apperr"
	"github.com/menta2k/tile-selector/pkg/coco"
	"github.com/menta2k/tile-selector/pkg/processing"
	"github.com/menta2k/tile-selector/pkg/selector"
	"github.com/menta2k/tile-selector/pkg/types"
)

// ImageSummary describes the outcome for one source image
type ImageSummary struct {
	Image             string `json:"image"`
	TileCount         int    `json:"tile_count"`
	Selected          []int  `json:"selected"`
	SourceAnnotations int    `json:"source_annotations"`
	Annotations       int    `json:"annotations"`
	Skipped           []int  `json:"skipped,omitempty"`
}

// Summary is the result of a pipeline run
type Summary struct {
	Images         []ImageSummary `json:"images"`
	Tiles          int            `json:"tiles"`
	Annotations    int            `json:"annotations"`
	AnnotationPath string         `json:"annotation_path"`
	TilePaths      []string       `json:"tile_paths"`
	OverlayPaths   []string       `json:"overlay_paths,omitempty"`
	Polygons       int            `json:"polygons_drawn,omitempty"`
}

type runner struct {
	cfg       *config.Config
	selector  *selector.Selector
	processor *processing.Processor
	dataset   *coco.Dataset
	logger    *slog.Logger
}

// outcome is one processed image, with tile pixels already written
type outcome struct {
	name   string
	stem   string
	result *types.Result
	paths  []string
	source int
}

func newRunner(cfg *config.Config) (*runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sel, err := selector.NewWithConfig(selector.Config{
		Spec:           cfg.Tiling.Spec(),
		Threshold:      float64(cfg.Tiling.Threshold),
		SkipDegenerate: cfg.Tiling.SkipDegenerate,
	})
	if err != nil {
		return nil, err
	}
	return &runner{
		cfg:       cfg,
		selector:  sel,
		processor: processing.NewProcessor(),
		logger:    slog.Default(),
	}, nil
}

// RunImage tiles the single image cfg.Input.ImagePath
func RunImage(ctx context.Context, cfg *config.Config) (summary *Summary, err error) {
	stage := "validate"
	defer recoverTo(&stage, &err)

	r, err := newRunner(cfg)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateImageInput(); err != nil {
		return nil, err
	}

	stage = "load"
	if err := r.loadDataset(); err != nil {
		return nil, err
	}

	stage = "process"
	o, err := r.processImage(ctx, cfg.Input.ImagePath)
	if err != nil {
		return nil, err
	}
	return r.finish(&stage, []*outcome{o})
}

// RunDirectory tiles every image directly inside cfg.Input.ImagesDir.
// Images are processed concurrently, at most runtime.workers at a time; the
// first failure cancels the remaining images and is returned. Results are
// merged in file name order, so dataset ids do not depend on scheduling.
func RunDirectory(ctx context.Context, cfg *config.Config) (summary *Summary, err error) {
	stage := "validate"
	defer recoverTo(&stage, &err)

	r, err := newRunner(cfg)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateDirectoryInput(); err != nil {
		return nil, err
	}

	stage = "list"
	files, err := utils.ListImageFiles(cfg.Input.ImagesDir)
	if err != nil {
		return nil, apperr.Internal(stage, err)
	}

	stage = "load"
	if err := r.loadDataset(); err != nil {
		return nil, err
	}

	stage = "process"
	workers := cfg.Runtime.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	r.logger.Info("processing directory", "dir", cfg.Input.ImagesDir, "images", len(files), "workers", workers)

	outcomes := make([]*outcome, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() (err error) {
			imageStage := "process"
			defer recoverTo(&imageStage, &err)
			o, err := r.processImage(gctx, path)
			if err != nil {
				return err
			}
			outcomes[i] = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperr.AtStage(stage, err)
	}

	return r.finish(&stage, outcomes)
}

func (r *runner) loadDataset() error {
	ds, err := coco.Load(r.cfg.Input.AnnotationPath)
	if err != nil {
		return apperr.AtStage("load", err)
	}
	r.dataset = ds
	return nil
}

// processImage selects and writes the tiles of one image
func (r *runner) processImage(ctx context.Context, path string) (*outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := filepath.Base(path)
	info, ok := r.dataset.ImageByFileName(name)
	if !ok {
		return nil, apperr.Data(apperr.CodeImageNotInDataset, fmt.Sprintf("No image with %s found.", name), path)
	}
	sourceAnns := r.dataset.AnnotationsForImage(info.ID)
	anns, err := coco.ToAnnotations(sourceAnns)
	if err != nil {
		return nil, apperr.AtStage("annotations", err)
	}

	img, err := r.processor.LoadImage(path)
	if err != nil {
		return nil, apperr.AtStage("decode", err)
	}

	result, err := r.selector.Run(img, anns)
	if err != nil {
		return nil, err
	}
	if len(result.Skipped) > 0 {
		r.logger.Warn("skipped degenerate annotations", "image", name, "annotations", result.Skipped)
	}

	stem := utils.FileStem(name)
	out := r.cfg.Output
	paths, err := r.processor.SaveTiles(result, out.OutputDir, stem, out.Format, out.Quality, out.Lossless)
	if err != nil {
		return nil, apperr.Internal("save", err)
	}
	// pixels are on disk; drop the views so the source image can be freed
	for i := range result.Tiles {
		result.Tiles[i].Image = nil
	}

	r.logger.Info("image tiled", "image", name, "tiles", result.TileCount,
		"selected", len(result.Selection), "annotations", result.AnnotationCount())
	return &outcome{name: name, stem: stem, result: result, paths: paths, source: len(sourceAnns)}, nil
}

// finish merges the outcomes into one dataset, exports it and draws the
// overlays when requested.
func (r *runner) finish(stage *string, outcomes []*outcome) (*Summary, error) {
	*stage = "merge"
	out := r.cfg.Output
	ext := processing.Extension(out.Format)
	merged := coco.NewDataset(r.dataset.Categories)
	summary := &Summary{
		Images:         make([]ImageSummary, 0, len(outcomes)),
		AnnotationPath: out.AnnotationPath,
		TilePaths:      []string{},
	}
	for _, o := range outcomes {
		merged.Append(o.stem, ext, o.result)
		summary.Images = append(summary.Images, ImageSummary{
			Image:             o.name,
			TileCount:         o.result.TileCount,
			Selected:          o.result.Selection,
			SourceAnnotations: o.source,
			Annotations:       o.result.AnnotationCount(),
			Skipped:           o.result.Skipped,
		})
		summary.TilePaths = append(summary.TilePaths, o.paths...)
	}
	summary.Tiles = len(merged.Images)
	summary.Annotations = len(merged.Annotations)

	*stage = "export"
	if err := merged.Save(out.AnnotationPath); err != nil {
		return nil, apperr.Internal(*stage, err)
	}
	r.logger.Info("dataset exported", "path", out.AnnotationPath, "images", summary.Tiles, "annotations", summary.Annotations)

	if out.DrawAnnotations {
		*stage = "draw"
		paths, drawn, err := r.processor.DrawDataset(merged, out.OutputDir, out.Format, out.Quality)
		if err != nil {
			return nil, apperr.AtStage(*stage, err)
		}
		summary.OverlayPaths = paths
		summary.Polygons = drawn
		r.logger.Info("annotated images saved", "dir", filepath.Join(out.OutputDir, processing.AnnotatedDir), "labels", drawn)
	}
	return summary, nil
}

// recoverTo turns a panic into an internal error at the current stage and
// makes sure any returned error is structured.
func recoverTo(stage *string, err *error) {
	if p := recover(); p != nil {
		*err = apperr.Internal(*stage, fmt.Errorf("panic: %v", p))
		return
	}
	if *err != nil {
		*err = apperr.AtStage(*stage, *err)
	}
}
