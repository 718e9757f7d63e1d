package coco

import (
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/tile-selector/pkg/apperr"
	"github.com/menta2k/tile-selector/pkg/types"
)

const sample = `{
  "info": {"description": "field survey"},
  "images": [
    {"id": 7, "file_name": "a.jpg", "height": 100, "width": 100},
    {"id": 9, "file_name": "b.jpg", "height": 50, "width": 80}
  ],
  "annotations": [
    {"id": 1, "image_id": 7, "category_id": 2, "bbox": [10, 10, 20, 20], "area": 400,
     "segmentation": [[10, 10, 30, 10, 30, 30, 10, 30]], "iscrowd": 0},
    {"id": 2, "image_id": 9, "category_id": 1, "bbox": [0, 0, 5, 5], "area": 25,
     "segmentation": [], "iscrowd": 0},
    {"id": 3, "image_id": 7, "category_id": 1, "bbox": [50, 60, 10, 5], "area": 50,
     "segmentation": {"counts": [0, 10, 90], "size": [100, 100]}, "iscrowd": 1}
  ],
  "categories": [{"id": 1, "name": "weed"}, {"id": 2, "name": "crop", "supercategory": "plant"}]
}`

func loadSample(t *testing.T) *Dataset {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ann.json")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))
	d, err := Load(path)
	require.NoError(t, err)
	return d
}

func TestLoadAndLookup(t *testing.T) {
	d := loadSample(t)
	require.Len(t, d.Images, 2)
	require.Len(t, d.Categories, 2)

	img, ok := d.ImageByFileName("a.jpg")
	require.True(t, ok)
	require.Equal(t, 7, img.ID)

	_, ok = d.ImageByFileName("missing.jpg")
	require.False(t, ok)

	anns := d.AnnotationsForImage(7)
	require.Len(t, anns, 2)
	require.Equal(t, 1, anns[0].ID)
	require.Equal(t, 3, anns[1].ID)
	require.NotEmpty(t, anns[1].Segmentation.RLE)
	require.False(t, anns[1].Segmentation.HasPolygon())

	require.Empty(t, d.AnnotationsForImage(100))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "none.json"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"annotations": [{"segmentation": 5}]}`), 0644))
	_, err = Load(path)
	require.True(t, apperr.IsKind(err, apperr.KindData))
}

func TestToAnnotations(t *testing.T) {
	d := loadSample(t)
	anns, err := ToAnnotations(d.AnnotationsForImage(7))
	require.NoError(t, err)
	require.Len(t, anns, 2)

	require.Equal(t, 0, anns[0].Index)
	require.Equal(t, 2, anns[0].CategoryID)
	require.Equal(t, orb.Ring{{10, 10}, {30, 10}, {30, 30}, {10, 30}}, anns[0].Polygon)
	require.Nil(t, anns[0].Box)

	// RLE falls back to the bbox
	require.Equal(t, 1, anns[1].Index)
	require.Nil(t, anns[1].Polygon)
	require.Equal(t, &types.Box{X: 50, Y: 60, W: 10, H: 5}, anns[1].Box)

	// empty segmentation list falls back to the bbox too
	anns, err = ToAnnotations(d.AnnotationsForImage(9))
	require.NoError(t, err)
	require.NotNil(t, anns[0].Box)

	_, err = ToAnnotations([]Annotation{{Segmentation: Segmentation{Polygons: [][]float64{{1, 2, 3}}}}})
	require.True(t, apperr.IsKind(err, apperr.KindData))
}

func TestSegmentationRoundTripKeepsRLE(t *testing.T) {
	in := `{"counts":"abc","size":[4,4]}`
	var s Segmentation
	require.NoError(t, json.Unmarshal([]byte(in), &s))
	out, err := json.Marshal(s)
	require.NoError(t, err)
	require.JSONEq(t, in, string(out))

	out, err = json.Marshal(Segmentation{})
	require.NoError(t, err)
	require.Equal(t, "[]", string(out))
}

func result() *types.Result {
	return &types.Result{
		Tiles: []types.Tile{
			{ID: 1, Rect: image.Rect(40, 0, 100, 60)},
			{ID: 3, Rect: image.Rect(40, 40, 100, 100)},
		},
		Groups: []types.TileAnnotationGroup{
			{TileID: 1, Entries: []types.Entry{
				{Polygon: orb.Ring{{0, 0}, {10, 0}, {10, 10}, {0, 10}}, CategoryID: 2, AnnotationIndex: 0},
			}},
			{TileID: 3, Entries: []types.Entry{
				{Polygon: orb.Ring{{2, 4}, {8, 4}, {2, 10}}, CategoryID: 1, AnnotationIndex: 1},
				{Polygon: orb.Ring{{0, 0}, {4, 0}, {4, 4}, {0, 4}}, CategoryID: 2, AnnotationIndex: 2},
			}},
		},
		Selection: []int{3, 1},
		TileCount: 4,
	}
}

func TestAppendRenumbers(t *testing.T) {
	d := NewDataset([]Category{{ID: 1, Name: "weed"}})
	d.Append("field", "jpg", result())
	d.Append("other", "PNG", result())

	want := []Image{
		{ID: 0, FileName: "field_1.jpg", Height: 60, Width: 60},
		{ID: 1, FileName: "field_3.jpg", Height: 60, Width: 60},
		{ID: 2, FileName: "other_1.png", Height: 60, Width: 60},
		{ID: 3, FileName: "other_3.png", Height: 60, Width: 60},
	}
	if diff := cmp.Diff(want, d.Images); diff != "" {
		t.Errorf("images mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, d.Annotations, 6)
	for i, a := range d.Annotations {
		require.Equal(t, i, a.ID)
		require.Zero(t, a.IsCrowd)
	}
	require.Equal(t, []int{0, 1, 1, 2, 3, 3}, []int{
		d.Annotations[0].ImageID, d.Annotations[1].ImageID, d.Annotations[2].ImageID,
		d.Annotations[3].ImageID, d.Annotations[4].ImageID, d.Annotations[5].ImageID,
	})

	tri := d.Annotations[1]
	require.Equal(t, 1, tri.CategoryID)
	require.Equal(t, []float64{2, 4, 6, 6}, tri.BBox)
	require.InDelta(t, 18, tri.Area, 1e-9)
	require.Equal(t, [][]float64{{2, 4, 8, 4, 2, 10}}, tri.Segmentation.Polygons)
}

func TestSaveAndReload(t *testing.T) {
	d := NewDataset([]Category{{ID: 1, Name: "weed"}, {ID: 2, Name: "crop"}})
	d.Append("field", "jpg", result())

	path := filepath.Join(t.TempDir(), "out", "annotations.json")
	require.NoError(t, d.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	opts := cmpopts.IgnoreUnexported(Dataset{})
	if diff := cmp.Diff(d, loaded, opts); diff != "" {
		t.Errorf("dataset mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptyDatasetSerializesLists(t *testing.T) {
	data, err := json.Marshal(NewDataset(nil))
	require.NoError(t, err)
	require.JSONEq(t, `{"images": [], "annotations": [], "categories": []}`, string(data))
}
