package visibility

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"
)

// Region is the result of clipping one polygon against a tile rectangle.
// Contours are open rings in the polygon's own frame.
type Region struct {
	Contours []orb.Ring
}

// Clip intersects a simple polygon (convex or not) with an axis-aligned
// rectangle. The ring may be open or closed. The input ring is not modified.
//
// Clipping runs edge by edge against the four sides of the rectangle. When a
// concave polygon enters the rectangle more than once, the pieces come back
// as a single contour joined by zero-area seams along the rectangle border,
// so Area is the sum of the pieces and no piece is lost from Primary.
func Clip(subject orb.Ring, bound orb.Bound) Region {
	// clip.Polygon rewrites its input and drops the closing edge of an
	// open ring, so it gets a closed copy.
	clipped := clip.Polygon(bound, orb.Polygon{closedCopy(subject)})
	if len(clipped) == 0 {
		return Region{}
	}

	contours := make([]orb.Ring, 0, len(clipped))
	for _, r := range clipped {
		if c := cleanRing(r); len(c) >= 3 {
			contours = append(contours, c)
		}
	}
	return Region{Contours: contours}
}

// Empty reports whether the clip produced no contour
func (r Region) Empty() bool {
	return len(r.Contours) == 0
}

// Area is the sum of the absolute contour areas
func (r Region) Area() float64 {
	var total float64
	for _, c := range r.Contours {
		total += RingArea(c)
	}
	return total
}

// Primary is the contour kept as output geometry: the first one.
func (r Region) Primary() orb.Ring {
	if len(r.Contours) == 0 {
		return nil
	}
	return r.Contours[0]
}

func closedCopy(r orb.Ring) orb.Ring {
	out := make(orb.Ring, len(r), len(r)+1)
	copy(out, r)
	if len(out) > 0 && out[0] != out[len(out)-1] {
		out = append(out, out[0])
	}
	return out
}

// RingArea returns the unsigned area of a ring, closed or open
func RingArea(r orb.Ring) float64 {
	if len(r) < 3 {
		return 0
	}
	if r[0] != r[len(r)-1] {
		closed := make(orb.Ring, len(r), len(r)+1)
		copy(closed, r)
		r = append(closed, r[0])
	}
	return math.Abs(planar.Area(r))
}

// cleanRing copies r without its closing point and without consecutive
// duplicate vertices.
func cleanRing(r orb.Ring) orb.Ring {
	out := make(orb.Ring, 0, len(r))
	for _, p := range r {
		if len(out) > 0 && out[len(out)-1] == p {
			continue
		}
		out = append(out, p)
	}
	for len(out) > 1 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	return out
}

// Translate returns a copy of r shifted by (-dx, -dy)
func Translate(r orb.Ring, dx, dy float64) orb.Ring {
	out := make(orb.Ring, len(r))
	for i, p := range r {
		out[i] = orb.Point{p[0] - dx, p[1] - dy}
	}
	return out
}
