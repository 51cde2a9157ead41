// Package takeoff contains the calibration and measurement domain rules:
// converting calibration inputs into a pixels-per-unit scale, and computing
// measurement quantities per kind.
package takeoff

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/draftline/takeoff-engine/geometry"
)

// Method selects how a drawing was calibrated.
type Method string

const (
	// MethodManual derives the scale from a user-drawn reference segment of
	// known real-world length.
	MethodManual Method = "manual"
	// MethodPreset derives the scale from the paper size and the printed
	// drawing scale, e.g. "1:50" on an A1 sheet.
	MethodPreset Method = "preset"
)

// mmPerUnit converts one target unit into millimetres.
var mmPerUnit = map[string]float64{
	"mm": 1,
	"cm": 10,
	"m":  1000,
	"in": 25.4,
	"ft": 304.8,
}

// paperSizesMM holds ISO 216 sheet dimensions in millimetres.
var paperSizesMM = map[string][2]float64{
	"A0": {1189, 841},
	"A1": {841, 594},
	"A2": {594, 420},
	"A3": {420, 297},
	"A4": {297, 210},
}

var scaleRatioRe = regexp.MustCompile(`^1:(\d+(?:\.\d+)?)$`)

// ValidUnit reports whether unit is one of the supported physical units.
func ValidUnit(unit string) bool {
	_, ok := mmPerUnit[unit]
	return ok
}

// ValidPaperSize reports whether size is a known ISO sheet.
func ValidPaperSize(size string) bool {
	_, ok := paperSizesMM[size]
	return ok
}

// ValidationError reports a calibration or measurement input that fails
// domain validation. Field names the offending input when known.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ComputationError reports degenerate calibration geometry: inputs that pass
// validation but would produce a zero or negative scale.
type ComputationError struct {
	Message string
}

func (e *ComputationError) Error() string {
	return e.Message
}

// ParseScaleRatio extracts the denominator N from a "1:N" scale string. An
// unparsable string is a validation error rather than a silent 1:1 default;
// a zero denominator is a computation error because it would divide by zero.
func ParseScaleRatio(s string) (float64, error) {
	m := scaleRatioRe.FindStringSubmatch(s)
	if m == nil {
		return 0, &ValidationError{Field: "drawing_scale", Message: fmt.Sprintf("scale %q is not in 1:N form", s)}
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, &ValidationError{Field: "drawing_scale", Message: fmt.Sprintf("scale %q is not in 1:N form", s)}
	}
	if n <= 0 {
		return 0, &ComputationError{Message: fmt.Sprintf("scale %q has a zero denominator", s)}
	}
	return n, nil
}

// CalibrationInput carries the method-specific inputs for a calibration
// request. Manual requests use PointA/PointB/RealDistance; preset requests
// use PaperSize/DrawingScale.
type CalibrationInput struct {
	Method       Method
	Unit         string
	PointA       geometry.Point
	PointB       geometry.Point
	RealDistance float64
	PaperSize    string
	DrawingScale string
}

// Validate checks the fields relevant to the chosen method.
func (in CalibrationInput) Validate() error {
	if in.Method != MethodManual && in.Method != MethodPreset {
		return &ValidationError{Field: "method", Message: fmt.Sprintf("unknown calibration method %q", in.Method)}
	}
	if !ValidUnit(in.Unit) {
		return &ValidationError{Field: "unit", Message: fmt.Sprintf("unsupported unit %q", in.Unit)}
	}
	switch in.Method {
	case MethodManual:
		if !in.PointA.InUnitRange() {
			return &ValidationError{Field: "point_a", Message: "coordinates must be within [0,1]"}
		}
		if !in.PointB.InUnitRange() {
			return &ValidationError{Field: "point_b", Message: "coordinates must be within [0,1]"}
		}
		if in.RealDistance <= 0 {
			return &ValidationError{Field: "real_distance", Message: "must be greater than zero"}
		}
	case MethodPreset:
		if !ValidPaperSize(in.PaperSize) {
			return &ValidationError{Field: "paper_size", Message: fmt.Sprintf("unsupported paper size %q", in.PaperSize)}
		}
		if _, err := ParseScaleRatio(in.DrawingScale); err != nil {
			return err
		}
	}
	return nil
}

// ComputePixelsPerUnit turns a validated input into the scale factor. The
// result is guaranteed strictly positive; degenerate geometry (coincident
// reference points, zero denominator) is rejected instead.
func ComputePixelsPerUnit(in CalibrationInput, imgW, imgH float64) (float64, error) {
	if err := in.Validate(); err != nil {
		return 0, err
	}

	var ppu float64
	switch in.Method {
	case MethodManual:
		pixelDistance := geometry.PixelDistance(in.PointA, in.PointB, imgW, imgH)
		if pixelDistance == 0 {
			return 0, &ComputationError{Message: "calibration points coincide, reference segment has zero length"}
		}
		ppu = pixelDistance / in.RealDistance
	case MethodPreset:
		dims := paperSizesMM[in.PaperSize]
		// Construction drawings are printed landscape, so the wider sheet
		// dimension maps to the image width.
		paperWidthMm := max(dims[0], dims[1])
		denominator, err := ParseScaleRatio(in.DrawingScale)
		if err != nil {
			return 0, err
		}
		pixelsPerPaperMm := imgW / paperWidthMm
		pixelsPerRealMm := pixelsPerPaperMm / denominator
		ppu = pixelsPerRealMm * mmPerUnit[in.Unit]
	}

	if ppu <= 0 {
		return 0, &ComputationError{Message: fmt.Sprintf("computed pixels per unit %g is not positive", ppu)}
	}
	return ppu, nil
}
