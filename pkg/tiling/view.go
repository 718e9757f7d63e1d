package tiling

import (
	"image"
	"image/color"
)

// View is a read-only window into another image, rebased so that its
// top-left pixel is (0, 0).
type View struct {
	original image.Image
	rect     image.Rectangle // relative to original.Bounds().Min
}

// NewView returns the window r of img. r is expressed relative to the
// top-left corner of img.
func NewView(img image.Image, r image.Rectangle) *View {
	return &View{original: img, rect: r}
}

func (v *View) ColorModel() color.Model {
	return v.original.ColorModel()
}

func (v *View) Bounds() image.Rectangle {
	return image.Rect(0, 0, v.rect.Dx(), v.rect.Dy())
}

func (v *View) At(x, y int) color.Color {
	pt := image.Point{x, y}
	if !pt.In(v.Bounds()) {
		return color.RGBA{}
	}
	origin := v.original.Bounds().Min
	return v.original.At(x+v.rect.Min.X+origin.X, y+v.rect.Min.Y+origin.Y)
}

// Rect returns the window in the original image's frame
func (v *View) Rect() image.Rectangle {
	return v.rect
}
