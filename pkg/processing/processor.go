package processing

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/tile-selector/internal/utils"
	"github.com/menta2k/tile-selector/pkg/apperr"
	"github.com/menta2k/tile-selector/pkg/coco"
	"github.com/menta2k/tile-selector/pkg/types"
)

// AnnotatedDir is the subdirectory DrawDataset writes overlays to
const AnnotatedDir = "annotated_image"

// Processor handles image processing operations
type Processor struct{}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{}
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	// Try imaging.Open (registered decoders)
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	// Fallback: explicit WebP decode
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Data(apperr.CodePathNotFound, "image cannot be opened", err.Error())
	}
	defer f.Close()

	if strings.HasSuffix(strings.ToLower(path), ".webp") {
		if img, err := webp.Decode(f); err == nil {
			return img, nil
		}
		if _, err := f.Seek(0, 0); err == nil {
			if img, _, err := image.Decode(f); err == nil {
				return img, nil
			}
		}
	} else {
		if img, _, err := image.Decode(f); err == nil {
			return img, nil
		}
	}
	return nil, apperr.Data(apperr.CodeUndecodableImage, "image cannot be decoded", path)
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// Extension maps an output format to the file extension used for it
func Extension(format string) string {
	switch strings.ToLower(format) {
	case "png":
		return "png"
	case "webp":
		return "webp"
	default:
		return "jpg"
	}
}

// SaveTiles writes the pixels of every selected tile to dir as
// <stem>_<tileID>.<ext> and returns the written paths in tile order.
func (p *Processor) SaveTiles(result *types.Result, dir, stem, format string, quality int, lossless bool) ([]string, error) {
	if err := utils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	ext := Extension(format)
	paths := make([]string, 0, len(result.Tiles))
	for _, tile := range result.Tiles {
		path := filepath.Join(dir, coco.TileFileName(stem, tile.ID, ext))
		if err := p.SaveImage(imaging.Clone(tile.Image), path, format, quality, lossless); err != nil {
			return nil, fmt.Errorf("failed to save tile %d: %w", tile.ID, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// DrawDataset reads every image of ds from imagesDir, outlines its
// annotation polygons in a per-category color and writes the result to
// imagesDir/annotated_image/<stem>_with_boundary_boxes.<ext>. It returns
// the written paths and the number of polygons drawn.
func (p *Processor) DrawDataset(ds *coco.Dataset, imagesDir, format string, quality int) ([]string, int, error) {
	outDir := filepath.Join(imagesDir, AnnotatedDir)
	if err := utils.EnsureDir(outDir); err != nil {
		return nil, 0, fmt.Errorf("failed to create overlay directory: %w", err)
	}

	colors := CategoryColors(ds.Categories)
	byImage := make(map[int][]coco.Annotation)
	for _, ann := range ds.Annotations {
		byImage[ann.ImageID] = append(byImage[ann.ImageID], ann)
	}

	var paths []string
	drawn := 0
	for _, info := range ds.Images {
		src := filepath.Join(imagesDir, info.FileName)
		if !utils.FileExists(src) {
			return nil, 0, apperr.Data(apperr.CodePathNotFound, "tile image does not exist", src)
		}
		img, err := p.LoadImage(src)
		if err != nil {
			return nil, 0, err
		}

		canvas := imaging.Clone(img)
		stroke := int(math.Max(2, 0.01*float64(minInt(canvas.Bounds().Dx(), canvas.Bounds().Dy()))))
		for _, ann := range byImage[info.ID] {
			if !ann.Segmentation.HasPolygon() {
				return nil, 0, apperr.Data(apperr.CodeDegenerateGeometry,
					"annotation has no segmentation polygon", fmt.Sprintf("annotation id %d", ann.ID))
			}
			c, ok := colors[ann.CategoryID]
			if !ok {
				c = color.NRGBA{255, 255, 255, 255}
			}
			for _, flat := range ann.Segmentation.Polygons {
				drawPolygon(canvas, flat, c, stroke)
				drawn++
			}
		}

		ext := Extension(format)
		dst := filepath.Join(outDir, utils.FileStem(info.FileName)+"_with_boundary_boxes."+ext)
		if err := p.SaveImage(canvas, dst, format, quality, false); err != nil {
			return nil, 0, fmt.Errorf("failed to save overlay %s: %w", dst, err)
		}
		paths = append(paths, dst)
	}
	return paths, drawn, nil
}

// CategoryColors assigns every category a stable color. Hues follow the
// golden angle over the category list, so neighbours stay distinguishable.
func CategoryColors(categories []coco.Category) map[int]color.NRGBA {
	colors := make(map[int]color.NRGBA, len(categories))
	for i, cat := range categories {
		hue := math.Mod(float64(i)*0.618033988749895, 1)
		colors[cat.ID] = hsv(hue, 0.85, 0.95)
	}
	return colors
}

func hsv(h, s, v float64) color.NRGBA {
	i := math.Floor(h * 6)
	f := h*6 - i
	p, q, t := v*(1-s), v*(1-f*s), v*(1-(1-f)*s)
	var r, g, b float64
	switch int(i) % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}
	return color.NRGBA{uint8(r*255 + 0.5), uint8(g*255 + 0.5), uint8(b*255 + 0.5), 255}
}

// Helper functions
func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// drawPolygon outlines the closed polygon [x0,y0,x1,y1,...]
func drawPolygon(img *image.NRGBA, flat []float64, c color.NRGBA, stroke int) {
	n := len(flat) / 2
	if n < 2 {
		return
	}
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		drawLine(img,
			int(math.Round(flat[2*i])), int(math.Round(flat[2*i+1])),
			int(math.Round(flat[2*j])), int(math.Round(flat[2*j+1])),
			c, stroke)
	}
}

// drawLine draws a Bresenham line with a square brush of side stroke
func drawLine(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA, stroke int) {
	dx := absInt(x1 - x0)
	dy := -absInt(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	lo := (stroke - 1) / 2
	hi := stroke - lo

	e := dx + dy
	for {
		for y := y0 - lo; y < y0+hi; y++ {
			drawHLine(img, y, x0-lo, x0+hi, c)
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	if x0 < 0 {
		x0 = 0
	}
	if x1 > img.Bounds().Dx() {
		x1 = img.Bounds().Dx()
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}
