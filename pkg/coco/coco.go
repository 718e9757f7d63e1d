// Package coco reads and writes COCO-style annotation datasets.
//
// Only the parts the tile selector needs are modeled: images, polygon or
// box annotations and categories. Crowd annotations stored as RLE masks are
// kept verbatim but have no polygon, so their bounding box is used instead.
package coco

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
)

// Dataset is a COCO annotation file
type Dataset struct {
	Info        json.RawMessage `json:"info,omitempty"`
	Licenses    json.RawMessage `json:"licenses,omitempty"`
	Images      []Image         `json:"images"`
	Annotations []Annotation    `json:"annotations"`
	Categories  []Category      `json:"categories"`

	once    sync.Once
	byName  map[string]int
	byImage map[int][]int
}

// Image is one entry of the images list
type Image struct {
	ID       int    `json:"id"`
	FileName string `json:"file_name"`
	Height   int    `json:"height"`
	Width    int    `json:"width"`
}

// Category is one entry of the categories list
type Category struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Supercategory string `json:"supercategory,omitempty"`
}

// Annotation is one entry of the annotations list
type Annotation struct {
	ID           int          `json:"id"`
	ImageID      int          `json:"image_id"`
	CategoryID   int          `json:"category_id"`
	BBox         []float64    `json:"bbox"`
	Area         float64      `json:"area"`
	Segmentation Segmentation `json:"segmentation"`
	IsCrowd      int          `json:"iscrowd"`
}

// Segmentation is either a list of flat polygons or an RLE mask
type Segmentation struct {
	Polygons [][]float64
	RLE      json.RawMessage
}

// HasPolygon reports whether the segmentation carries at least one polygon
func (s Segmentation) HasPolygon() bool {
	return len(s.Polygons) > 0 && len(s.Polygons[0]) > 0
}

func (s *Segmentation) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*s = Segmentation{}
		return nil
	case data[0] == '[':
		var polygons [][]float64
		if err := json.Unmarshal(data, &polygons); err != nil {
			return fmt.Errorf("segmentation polygons: %w", err)
		}
		*s = Segmentation{Polygons: polygons}
		return nil
	case data[0] == '{':
		*s = Segmentation{RLE: append(json.RawMessage(nil), data...)}
		return nil
	default:
		return fmt.Errorf("unsupported segmentation %.20s", data)
	}
}

func (s Segmentation) MarshalJSON() ([]byte, error) {
	if len(s.RLE) > 0 {
		return s.RLE, nil
	}
	if s.Polygons == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Polygons)
}

// index is built on first lookup, so lookups belong on complete datasets
// only. It is safe for concurrent readers.
func (d *Dataset) index() {
	d.once.Do(func() {
		d.byName = make(map[string]int, len(d.Images))
		for i, img := range d.Images {
			if _, ok := d.byName[img.FileName]; !ok {
				d.byName[img.FileName] = i
			}
		}
		d.byImage = make(map[int][]int)
		for i, ann := range d.Annotations {
			d.byImage[ann.ImageID] = append(d.byImage[ann.ImageID], i)
		}
	})
}

// ImageByFileName returns the first image whose file_name equals name
func (d *Dataset) ImageByFileName(name string) (Image, bool) {
	d.index()
	i, ok := d.byName[name]
	if !ok {
		return Image{}, false
	}
	return d.Images[i], true
}

// AnnotationsForImage returns the annotations of one image in file order
func (d *Dataset) AnnotationsForImage(imageID int) []Annotation {
	d.index()
	idx := d.byImage[imageID]
	anns := make([]Annotation, len(idx))
	for i, j := range idx {
		anns[i] = d.Annotations[j]
	}
	return anns
}
