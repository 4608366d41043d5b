// Package descriptor computes the per-view shape and color modalities of a
// segmented walnut: physical size, masked color histograms and Hu-moment
// contour signatures.
package descriptor

import (
	"errors"

	"walnut-pair/internal/region"
	"walnut-pair/internal/walnut"
)

// ErrEmptyMask is returned when a mask has no foreground to describe.
var ErrEmptyMask = errors.New("mask has no foreground")

// SizeDim is the length of the walnut size vector: height, width, girth.
const SizeDim = 3

// ViewSize holds the physical extents measured in one view.
type ViewSize struct {
	Height float64 `json:"height"`
	Width  float64 `json:"width"`
	Girth  float64 `json:"girth"` // Short side of the minimum-area rectangle
}

// MeasureView converts the region's source-pixel geometry to physical units.
//
// pixelsPerUnit is not checked here. Zero, negative or implausible values
// flow straight into the size modality; config.Validate is the only guard.
func MeasureView(r *region.Region, pixelsPerUnit float64) ViewSize {
	return ViewSize{
		Height: float64(r.Bounds.Dy()) / pixelsPerUnit,
		Width:  float64(r.Bounds.Dx()) / pixelsPerUnit,
		Girth:  r.MinRectH / pixelsPerUnit,
	}
}

// CombineSizes folds per-view measurements into [height, width, girth].
//
// Height comes from the side views (front, back, left, right), width from the
// front/back widths and the top/down widths, girth from the left/right widths
// and both top/down extents. When no view contributes to girth, the per-view
// girth of whatever views exist is used. Zero measurements are ignored.
func CombineSizes(views map[walnut.Angle]ViewSize) [SizeDim]float64 {
	var heights, widths, girths []float64
	add := func(dst *[]float64, v float64) {
		if v != 0 {
			*dst = append(*dst, v)
		}
	}

	for _, a := range walnut.Angles {
		v, ok := views[a]
		if !ok {
			continue
		}
		switch a {
		case walnut.AngleFront, walnut.AngleBack:
			add(&heights, v.Height)
			add(&widths, v.Width)
		case walnut.AngleLeft, walnut.AngleRight:
			add(&heights, v.Height)
			add(&girths, v.Width)
		case walnut.AngleTop, walnut.AngleDown:
			add(&widths, v.Width)
			add(&girths, v.Height)
			add(&girths, v.Width)
		}
	}

	if len(girths) == 0 {
		for _, a := range walnut.Angles {
			if v, ok := views[a]; ok {
				add(&girths, v.Girth)
			}
		}
	}

	return [SizeDim]float64{mean(heights), mean(widths), mean(girths)}
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
