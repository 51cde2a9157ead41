package takeoff

import (
	"fmt"
	"regexp"

	"github.com/draftline/takeoff-engine/geometry"
)

// Kind is the measurement kind. Each kind carries its own quantity
// computation, dispatched through computeByKind so every kind is handled in
// exactly one place.
type Kind string

const (
	KindLinear Kind = "linear"
	KindArea   Kind = "area"
	KindCount  Kind = "count"
)

// Scale is the calibration view the quantity computations need: the stored
// pixels-per-unit factor and the unit it was expressed in.
type Scale struct {
	PixelsPerUnit float64
	Unit          string
}

// Quantity is a computed measurement result. Value and Unit are nil for
// linear/area measurements on an uncalibrated drawing; Perimeter is set for
// area measurements only.
type Quantity struct {
	Value     *float64
	Perimeter *float64
	Unit      *string
}

type computeFunc func(points []geometry.Point, scale *Scale, imgW, imgH float64) Quantity

var computeByKind = map[Kind]computeFunc{
	KindCount: func(points []geometry.Point, _ *Scale, _, _ float64) Quantity {
		// Counts are calibration-independent: one per placed point.
		v := float64(len(points))
		u := "ea"
		return Quantity{Value: &v, Unit: &u}
	},
	KindLinear: func(points []geometry.Point, scale *Scale, imgW, imgH float64) Quantity {
		if scale == nil {
			return Quantity{}
		}
		v := geometry.PolylineLength(points, scale.PixelsPerUnit, imgW, imgH)
		u := scale.Unit
		return Quantity{Value: &v, Unit: &u}
	},
	KindArea: func(points []geometry.Point, scale *Scale, imgW, imgH float64) Quantity {
		if scale == nil {
			return Quantity{}
		}
		v := geometry.PolygonArea(points, scale.PixelsPerUnit, imgW, imgH)
		p := geometry.PolygonPerimeter(points, scale.PixelsPerUnit, imgW, imgH)
		u := "sq " + scale.Unit
		return Quantity{Value: &v, Perimeter: &p, Unit: &u}
	},
}

// minPointsByKind is the write-time floor; the geometry kernels themselves
// tolerate degenerate input by returning zero.
var minPointsByKind = map[Kind]int{
	KindCount:  1,
	KindLinear: 2,
	KindArea:   3,
}

// Valid reports whether k is one of the three measurement kinds.
func (k Kind) Valid() bool {
	_, ok := computeByKind[k]
	return ok
}

// MinPoints is the smallest point list accepted for this kind.
func (k Kind) MinPoints() int {
	return minPointsByKind[k]
}

// Deductible reports whether a measurement of this kind may act as a parent
// for deduction children.
func (k Kind) Deductible() bool {
	return k == KindArea || k == KindLinear
}

// Compute derives the quantity for a measurement of kind k. scale may be nil
// when the drawing has no calibration.
func Compute(k Kind, points []geometry.Point, scale *Scale, imgW, imgH float64) (Quantity, error) {
	fn, ok := computeByKind[k]
	if !ok {
		return Quantity{}, &ValidationError{Field: "type", Message: fmt.Sprintf("unknown measurement type %q", k)}
	}
	return fn(points, scale, imgW, imgH), nil
}

// ValidatePoints checks the point list against the kind's minimum and the
// normalized coordinate range.
func ValidatePoints(k Kind, points []geometry.Point) error {
	if len(points) < k.MinPoints() {
		return &ValidationError{
			Field:   "points",
			Message: fmt.Sprintf("%s measurements need at least %d points, got %d", k, k.MinPoints(), len(points)),
		}
	}
	for i, p := range points {
		if !p.InUnitRange() {
			return &ValidationError{
				Field:   "points",
				Message: fmt.Sprintf("point %d is outside the normalized [0,1] range", i),
			}
		}
	}
	return nil
}

var hexColorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// ValidColor reports whether color is a #RRGGBB hex string.
func ValidColor(color string) bool {
	return hexColorRe.MatchString(color)
}
