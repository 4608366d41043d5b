package descriptor

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// HuDim is the number of Hu moment invariants.
const HuDim = 7

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// logEpsilon keeps log10 finite for vanishing moments.
const logEpsilon = 1e-12

// ContourParams controls the contour descriptor.
type ContourParams struct {
	// KernelSize of the elliptical smoothing element. Larger kernels erase
	// shell ridges from the outline; the descriptor is sensitive to it.
	KernelSize int
}

// DefaultContourParams returns a 5x5 smoothing kernel.
func DefaultContourParams() ContourParams {
	return ContourParams{KernelSize: 5}
}

// Contour smooths the mask, fills its largest outer contour and returns the
// seven Hu invariants compressed with sign(h)*log10(|h|+eps).
func Contour(mask gocv.Mat, params ContourParams) ([]float64, error) {
	if params.KernelSize < 1 {
		return nil, fmt.Errorf("contour kernel %d must be positive", params.KernelSize)
	}

	smooth := mask.Clone()
	defer smooth.Close()
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{params.KernelSize, params.KernelSize})
	defer kernel.Close()
	gocv.MorphologyEx(smooth, &smooth, gocv.MorphClose, kernel)
	gocv.MorphologyEx(smooth, &smooth, gocv.MorphOpen, kernel)

	contours := gocv.FindContours(smooth, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	best := -1
	bestArea := 0.0
	for i := 0; i < contours.Size(); i++ {
		if area := gocv.ContourArea(contours.At(i)); area > bestArea {
			bestArea = area
			best = i
		}
	}
	if best < 0 {
		return nil, ErrEmptyMask
	}

	filled := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), smooth.Rows(), smooth.Cols(), gocv.MatTypeCV8U)
	defer filled.Close()
	gocv.DrawContours(&filled, contours, best, white, -1)

	hu := HuMoments(gocv.Moments(filled, true))
	out := make([]float64, HuDim)
	for i, h := range hu {
		out[i] = LogCompress(h)
	}
	return out, nil
}

// HuMoments computes the seven Hu invariants from normalized central moments
// as returned by gocv.Moments.
func HuMoments(m map[string]float64) [HuDim]float64 {
	n20, n11, n02 := m["nu20"], m["nu11"], m["nu02"]
	n30, n21, n12, n03 := m["nu30"], m["nu21"], m["nu12"], m["nu03"]

	t0 := n30 + n12
	t1 := n21 + n03
	q0 := n30 - 3*n12
	q1 := 3*n21 - n03

	return [HuDim]float64{
		n20 + n02,
		(n20-n02)*(n20-n02) + 4*n11*n11,
		q0*q0 + q1*q1,
		t0*t0 + t1*t1,
		q0*t0*(t0*t0-3*t1*t1) + q1*t1*(3*t0*t0-t1*t1),
		(n20-n02)*(t0*t0-t1*t1) + 4*n11*t0*t1,
		q1*t0*(t0*t0-3*t1*t1) - q0*t1*(3*t0*t0-t1*t1),
	}
}

// LogCompress maps h to sign(h)*log10(|h|+eps).
func LogCompress(h float64) float64 {
	switch {
	case h > 0:
		return math.Log10(h + logEpsilon)
	case h < 0:
		return -math.Log10(-h + logEpsilon)
	default:
		return 0
	}
}
