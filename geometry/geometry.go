// Package geometry holds the pure measurement kernels. Every function takes
// points in normalized image coordinates (fractions of width/height), the
// calibration scale in pixels per unit, and the image pixel dimensions, and
// returns a physical quantity. The functions are stateless and idempotent, so
// callers are free to re-invoke them during recompute cascades.
package geometry

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Point is a normalized image coordinate, each component in [0, 1].
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// InUnitRange reports whether both coordinates lie in [0, 1].
func (p Point) InUnitRange() bool {
	return p.X >= 0 && p.X <= 1 && p.Y >= 0 && p.Y <= 1
}

// round4 rounds to 4 decimal places, the precision stored for quantities.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// segmentLengths returns the pixel-space length of each consecutive segment.
// When closed is true the list wraps from the last point back to the first.
func segmentLengths(points []Point, imgW, imgH float64, closed bool) []float64 {
	n := len(points)
	if n < 2 {
		return nil
	}
	count := n - 1
	if closed {
		count = n
	}
	lengths := make([]float64, 0, count)
	for i := 0; i < count; i++ {
		a := points[i]
		b := points[(i+1)%n]
		dx := (b.X - a.X) * imgW
		dy := (b.Y - a.Y) * imgH
		lengths = append(lengths, math.Hypot(dx, dy))
	}
	return lengths
}

// PolylineLength is the calibrated length of an open polyline. Fewer than two
// points yields 0.
func PolylineLength(points []Point, ppu, imgW, imgH float64) float64 {
	lengths := segmentLengths(points, imgW, imgH, false)
	if lengths == nil {
		return 0
	}
	return round4(floats.Sum(lengths) / ppu)
}

// PolygonArea is the calibrated area of the polygon described by points,
// implicitly closed from the last point back to the first. It uses the
// shoelace formula in pixel space, so self-intersecting input still produces
// a non-negative value. Fewer than three points yields 0.
func PolygonArea(points []Point, ppu, imgW, imgH float64) float64 {
	n := len(points)
	if n < 3 {
		return 0
	}
	signed := 0.0
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		xi := points[i].X * imgW
		yi := points[i].Y * imgH
		xj := points[j].X * imgW
		yj := points[j].Y * imgH
		signed += xi*yj - xj*yi
	}
	pixelArea := math.Abs(signed) / 2
	return round4(pixelArea / (ppu * ppu))
}

// PolygonPerimeter is the calibrated perimeter of the implicitly closed
// polygon. Fewer than two points yields 0.
func PolygonPerimeter(points []Point, ppu, imgW, imgH float64) float64 {
	lengths := segmentLengths(points, imgW, imgH, true)
	if lengths == nil {
		return 0
	}
	return round4(floats.Sum(lengths) / ppu)
}

// PixelDistance is the pixel-space distance between two normalized points.
func PixelDistance(a, b Point, imgW, imgH float64) float64 {
	return math.Hypot((b.X-a.X)*imgW, (b.Y-a.Y)*imgH)
}
