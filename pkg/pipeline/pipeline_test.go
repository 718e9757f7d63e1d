package pipeline

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/menta2k/tile-selector/internal/config"
	"github.com/menta2k/tile-selector/pkg/apperr"
	"github.com/menta2k/tile-selector/pkg/coco"
	"github.com/menta2k/tile-selector/pkg/processing"
)

// dataset: a.png has three small squares that all fit in the bottom-right
// tile of a 60/40 grid; b.png has one box in the top-left corner.
const dataset = `{
  "images": [
    {"id": 10, "file_name": "a.png", "height": 100, "width": 100},
    {"id": 20, "file_name": "b.png", "height": 100, "width": 100}
  ],
  "annotations": [
    {"id": 1, "image_id": 10, "category_id": 1, "bbox": [42, 42, 10, 10], "area": 100,
     "segmentation": [[42, 42, 52, 42, 52, 52, 42, 52]], "iscrowd": 0},
    {"id": 2, "image_id": 10, "category_id": 2, "bbox": [85, 45, 10, 10], "area": 100,
     "segmentation": [[85, 45, 95, 45, 95, 55, 85, 55]], "iscrowd": 0},
    {"id": 3, "image_id": 10, "category_id": 2, "bbox": [45, 85, 10, 10], "area": 100,
     "segmentation": [], "iscrowd": 0},
    {"id": 4, "image_id": 20, "category_id": 1, "bbox": [5, 5, 10, 10], "area": 100,
     "segmentation": [], "iscrowd": 0}
  ],
  "categories": [{"id": 1, "name": "weed"}, {"id": 2, "name": "crop"}]
}`

func writePNG(t *testing.T, path string, width, height int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{uint8(x * 2), uint8(y * 2), 90, 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

type fixture struct {
	root   string
	images string
	cfg    *config.Config
}

func newFixture(t *testing.T, images ...string) fixture {
	t.Helper()
	root := t.TempDir()
	imagesDir := filepath.Join(root, "images")
	require.NoError(t, os.MkdirAll(imagesDir, 0755))
	for _, name := range images {
		writePNG(t, filepath.Join(imagesDir, name), 100, 100)
	}
	annPath := filepath.Join(root, "annotations.json")
	require.NoError(t, os.WriteFile(annPath, []byte(dataset), 0644))

	cfg := config.Default()
	cfg.Input.AnnotationPath = annPath
	cfg.Input.ImagesDir = imagesDir
	if len(images) > 0 {
		cfg.Input.ImagePath = filepath.Join(imagesDir, images[0])
	}
	cfg.Tiling.TileSize = []int{60, 60}
	cfg.Tiling.Stride = []int{40, 40}
	cfg.Output.OutputDir = filepath.Join(root, "out")
	cfg.Output.AnnotationPath = filepath.Join(root, "out", "tiles.json")
	cfg.Output.Format = "png"
	cfg.Runtime.Workers = 2
	return fixture{root: root, images: imagesDir, cfg: cfg}
}

func requireCode(t *testing.T, err error, kind apperr.Kind, code int) *apperr.Error {
	t.Helper()
	e, ok := apperr.As(err)
	require.True(t, ok, "expected a structured error, got %v", err)
	require.Equal(t, kind, e.Kind)
	require.Equal(t, code, e.Code)
	return e
}

func TestRunImage(t *testing.T) {
	f := newFixture(t, "a.png")
	f.cfg.Output.DrawAnnotations = true

	summary, err := RunImage(context.Background(), f.cfg)
	require.NoError(t, err)
	require.Len(t, summary.Images, 1)
	require.Equal(t, "a.png", summary.Images[0].Image)
	require.Equal(t, 4, summary.Images[0].TileCount)
	require.Equal(t, []int{3}, summary.Images[0].Selected)
	require.Equal(t, 3, summary.Images[0].SourceAnnotations)
	require.Equal(t, 1, summary.Tiles)
	require.Equal(t, 3, summary.Annotations)
	require.Equal(t, []string{filepath.Join(f.cfg.Output.OutputDir, "a_3.png")}, summary.TilePaths)
	require.FileExists(t, summary.TilePaths[0])

	ds, err := coco.Load(f.cfg.Output.AnnotationPath)
	require.NoError(t, err)
	require.Equal(t, []coco.Image{{ID: 0, FileName: "a_3.png", Height: 60, Width: 60}}, ds.Images)
	require.Len(t, ds.Annotations, 3)
	require.Len(t, ds.Categories, 2)
	// first square, shifted by the tile origin (40,40)
	require.Equal(t, []float64{2, 2, 10, 10}, ds.Annotations[0].BBox)

	require.Len(t, summary.OverlayPaths, 1)
	require.Equal(t, filepath.Join(f.cfg.Output.OutputDir, processing.AnnotatedDir, "a_3_with_boundary_boxes.png"), summary.OverlayPaths[0])
	require.FileExists(t, summary.OverlayPaths[0])
	require.Equal(t, 3, summary.Polygons)
}

func TestRunImageNotInDataset(t *testing.T) {
	f := newFixture(t, "c.png")
	_, err := RunImage(context.Background(), f.cfg)
	requireCode(t, err, apperr.KindData, apperr.CodeImageNotInDataset)
	require.NoFileExists(t, f.cfg.Output.AnnotationPath)
}

func TestRunImageConfigErrors(t *testing.T) {
	f := newFixture(t, "a.png")
	f.cfg.Input.AnnotationPath = filepath.Join(f.root, "missing.json")
	_, err := RunImage(context.Background(), f.cfg)
	requireCode(t, err, apperr.KindConfig, apperr.CodePathNotFound)

	f = newFixture(t, "a.png")
	f.cfg.Tiling.Stride = []int{40}
	_, err = RunImage(context.Background(), f.cfg)
	requireCode(t, err, apperr.KindConfig, apperr.CodeInvalidValue)

	f = newFixture(t, "a.png")
	f.cfg.Tiling.TileSize = []int{200, 200}
	_, err = RunImage(context.Background(), f.cfg)
	e := requireCode(t, err, apperr.KindConfig, apperr.CodeTileTooLarge)
	require.Equal(t, "tile", e.Stage)
}

func TestRunImageDegenerate(t *testing.T) {
	f := newFixture(t, "a.png")
	degenerate := `{
	  "images": [{"id": 1, "file_name": "a.png", "height": 100, "width": 100}],
	  "annotations": [
	    {"id": 1, "image_id": 1, "category_id": 1, "bbox": [5, 5, 0, 0], "segmentation": []},
	    {"id": 2, "image_id": 1, "category_id": 1, "bbox": [5, 5, 10, 10], "segmentation": []}
	  ],
	  "categories": [{"id": 1, "name": "weed"}]
	}`
	require.NoError(t, os.WriteFile(f.cfg.Input.AnnotationPath, []byte(degenerate), 0644))

	_, err := RunImage(context.Background(), f.cfg)
	e := requireCode(t, err, apperr.KindData, apperr.CodeDegenerateGeometry)
	require.Equal(t, "filter", e.Stage)

	f.cfg.Tiling.SkipDegenerate = true
	summary, err := RunImage(context.Background(), f.cfg)
	require.NoError(t, err)
	require.Equal(t, []int{0}, summary.Images[0].Skipped)
	require.Equal(t, []int{0}, summary.Images[0].Selected)
}

func TestRunDirectoryMergesInFileOrder(t *testing.T) {
	f := newFixture(t, "b.png", "a.png")

	summary, err := RunDirectory(context.Background(), f.cfg)
	require.NoError(t, err)
	require.Len(t, summary.Images, 2)
	require.Equal(t, "a.png", summary.Images[0].Image)
	require.Equal(t, "b.png", summary.Images[1].Image)
	require.Equal(t, []int{0}, summary.Images[1].Selected)
	require.Equal(t, 4, summary.Annotations)

	ds, err := coco.Load(f.cfg.Output.AnnotationPath)
	require.NoError(t, err)
	require.Equal(t, []coco.Image{
		{ID: 0, FileName: "a_3.png", Height: 60, Width: 60},
		{ID: 1, FileName: "b_0.png", Height: 60, Width: 60},
	}, ds.Images)
	for i, a := range ds.Annotations {
		require.Equal(t, i, a.ID)
	}
	require.Equal(t, 1, ds.Annotations[3].ImageID)

	// the same run with a single worker gives the same dataset
	f.cfg.Runtime.Workers = 1
	_, err = RunDirectory(context.Background(), f.cfg)
	require.NoError(t, err)
	again, err := coco.Load(f.cfg.Output.AnnotationPath)
	require.NoError(t, err)
	require.Equal(t, ds.Images, again.Images)
	require.Equal(t, ds.Annotations, again.Annotations)
}

func TestRunDirectoryAbortsOnFirstBadImage(t *testing.T) {
	f := newFixture(t, "a.png", "b.png", "unknown.png")

	_, err := RunDirectory(context.Background(), f.cfg)
	requireCode(t, err, apperr.KindData, apperr.CodeImageNotInDataset)
	require.NoFileExists(t, f.cfg.Output.AnnotationPath)
}

func TestRunDirectoryMissingDir(t *testing.T) {
	f := newFixture(t)
	f.cfg.Input.ImagesDir = filepath.Join(f.root, "nope")
	_, err := RunDirectory(context.Background(), f.cfg)
	requireCode(t, err, apperr.KindConfig, apperr.CodeDirNotFound)
}

func TestRunDirectoryCancelled(t *testing.T) {
	f := newFixture(t, "a.png", "b.png")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunDirectory(ctx, f.cfg)
	e := requireCode(t, err, apperr.KindInternal, apperr.CodeInternal)
	require.ErrorIs(t, e, context.Canceled)
}

func TestRecoverToConvertsPanics(t *testing.T) {
	run := func() (err error) {
		stage := "draw"
		defer recoverTo(&stage, &err)
		panic("boom")
	}
	err := run()
	e := requireCode(t, err, apperr.KindInternal, apperr.CodeInternal)
	require.Equal(t, "draw", e.Stage)
	require.Contains(t, e.Error(), "boom")
}
