package coco

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/pkg/errors"

	"github.com/menta2k/tile-selector/pkg/apperr"
	"github.com/menta2k/tile-selector/pkg/types"
)

// Load reads a dataset from a JSON file
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't read annotation file %s", path)
	}
	var d Dataset
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, apperr.Data(apperr.CodeInvalidValue, "annotation file is not a valid COCO dataset", err.Error())
	}
	return &d, nil
}

// NewDataset creates an empty dataset sharing the given categories
func NewDataset(categories []Category) *Dataset {
	cats := make([]Category, len(categories))
	copy(cats, categories)
	return &Dataset{
		Images:      []Image{},
		Annotations: []Annotation{},
		Categories:  cats,
	}
}

// Save writes the dataset as indented JSON, creating the parent directory
func (d *Dataset) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "Can't create annotation directory")
		}
	}
	data, err := json.MarshalIndent(d, "", "    ")
	if err != nil {
		return errors.Wrap(err, "Can't encode dataset")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0644), "Can't write annotation file %s", path)
}

// TileFileName names the file of one saved tile: <stem>_<tileID>.<ext>
func TileFileName(stem string, tileID int, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "jpg"
	}
	return fmt.Sprintf("%s_%d.%s", stem, tileID, ext)
}

// ToAnnotations converts dataset annotations into selector input, indexed
// by their position in anns. The first polygon of the segmentation is used;
// annotations without one fall back to their bbox.
func ToAnnotations(anns []Annotation) ([]types.Annotation, error) {
	out := make([]types.Annotation, len(anns))
	for i, a := range anns {
		out[i] = types.Annotation{Index: i, CategoryID: a.CategoryID}
		switch {
		case a.Segmentation.HasPolygon():
			ring, err := types.RingFromFlat(a.Segmentation.Polygons[0])
			if err != nil {
				return nil, apperr.Data(apperr.CodeDegenerateGeometry,
					"annotation has a malformed polygon", fmt.Sprintf("annotation id %d: %v", a.ID, err))
			}
			out[i].Polygon = ring
		case len(a.BBox) == 4:
			out[i].Box = &types.Box{X: a.BBox[0], Y: a.BBox[1], W: a.BBox[2], H: a.BBox[3]}
		}
	}
	return out, nil
}

// Append adds one image entry per selected tile and one annotation per
// retained entry. Ids continue from the current list lengths, so appending
// images in a fixed order gives dense, reproducible ids.
func (d *Dataset) Append(stem, ext string, result *types.Result) {
	for i, tile := range result.Tiles {
		imageID := len(d.Images)
		d.Images = append(d.Images, Image{
			ID:       imageID,
			FileName: TileFileName(stem, tile.ID, ext),
			Height:   tile.Height(),
			Width:    tile.Width(),
		})

		for _, entry := range result.Groups[i].Entries {
			d.Annotations = append(d.Annotations, Annotation{
				ID:           len(d.Annotations),
				ImageID:      imageID,
				CategoryID:   entry.CategoryID,
				BBox:         extent(entry.Polygon),
				Area:         area(entry.Polygon),
				Segmentation: Segmentation{Polygons: [][]float64{entry.Flat()}},
			})
		}
	}
}

func extent(r orb.Ring) []float64 {
	if len(r) == 0 {
		return []float64{0, 0, 0, 0}
	}
	b := r.Bound()
	return []float64{b.Min[0], b.Min[1], b.Max[0] - b.Min[0], b.Max[1] - b.Min[1]}
}

func area(r orb.Ring) float64 {
	if len(r) > 0 && r[0] != r[len(r)-1] {
		r = append(r[:len(r):len(r)], r[0])
	}
	return math.Abs(planar.Area(r))
}
