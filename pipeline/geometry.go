package pipeline

import (
	"math"

	"golang.org/x/image/math/f64"
)

// BoundingBox returns the axis-aligned size of a w×h rectangle rotated by
// degrees about its centre.
func BoundingBox(w, h int, degrees float64) (float64, float64) {
	theta := degrees * math.Pi / 180
	c, s := math.Abs(math.Cos(theta)), math.Abs(math.Sin(theta))
	fw, fh := float64(w), float64(h)
	return c*fw + s*fh, s*fw + c*fh
}

// SurfaceSize rounds a bounding box to whole pixels.
func SurfaceSize(bw, bh float64) (int, int) {
	return int(math.Round(bw)), int(math.Round(bh))
}

// rotateFlip builds the source→destination matrix that moves the source
// centre (cx, cy) to the origin, mirrors it per the flip flags, rotates it by
// degrees and moves it to the destination centre (dx, dy).
func rotateFlip(cx, cy, dx, dy, degrees float64, flipH, flipV bool) f64.Aff3 {
	theta := degrees * math.Pi / 180
	cos, sin := math.Cos(theta), math.Sin(theta)
	sx, sy := 1.0, 1.0
	if flipH {
		sx = -1
	}
	if flipV {
		sy = -1
	}
	a, b := cos*sx, -sin*sy
	d, e := sin*sx, cos*sy
	return f64.Aff3{
		a, b, dx - (a*cx + b*cy),
		d, e, dy - (d*cx + e*cy),
	}
}
