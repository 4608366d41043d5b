package descriptor

import (
	"fmt"

	"gocv.io/x/gocv"
)

// ColorParams controls the color histogram.
type ColorParams struct {
	Bins      int  // Bins per channel
	Normalize bool // Scale each channel histogram to sum to 1
}

// DefaultColorParams returns 8 bins per channel, normalized.
func DefaultColorParams() ColorParams {
	return ColorParams{Bins: 8, Normalize: true}
}

// colorSpaces are histogrammed in this order; each contributes three channels.
var colorSpaces = []struct {
	name   string
	code   gocv.ColorConversionCode
	ranges [3][2]float64
}{
	{"bgr", 0, [3][2]float64{{0, 256}, {0, 256}, {0, 256}}},
	{"hsv", gocv.ColorBGRToHSV, [3][2]float64{{0, 180}, {0, 256}, {0, 256}}},
	{"lab", gocv.ColorBGRToLab, [3][2]float64{{0, 256}, {0, 256}, {0, 256}}},
}

// ColorDim returns the color vector length for the given bin count.
func ColorDim(bins int) int {
	return bins * 3 * len(colorSpaces)
}

// Color computes masked per-channel histograms of crop in BGR, HSV and Lab
// and concatenates them. crop must be BGR; mask must match its size.
func Color(crop, mask gocv.Mat, params ColorParams) ([]float64, error) {
	if params.Bins < 1 {
		return nil, fmt.Errorf("color bins %d must be positive", params.Bins)
	}
	if crop.Rows() != mask.Rows() || crop.Cols() != mask.Cols() {
		return nil, fmt.Errorf("crop %dx%d and mask %dx%d differ",
			crop.Cols(), crop.Rows(), mask.Cols(), mask.Rows())
	}
	if gocv.CountNonZero(mask) == 0 {
		return nil, ErrEmptyMask
	}

	out := make([]float64, 0, ColorDim(params.Bins))
	for _, cs := range colorSpaces {
		converted := crop
		if cs.name != "bgr" {
			converted = gocv.NewMat()
			gocv.CvtColor(crop, &converted, cs.code)
		}

		for ch := 0; ch < 3; ch++ {
			out = append(out, channelHistogram(converted, ch, mask, params, cs.ranges[ch])...)
		}

		if cs.name != "bgr" {
			converted.Close()
		}
	}
	return out, nil
}

func channelHistogram(src gocv.Mat, channel int, mask gocv.Mat, params ColorParams, rng [2]float64) []float64 {
	hist := gocv.NewMat()
	defer hist.Close()
	gocv.CalcHist([]gocv.Mat{src}, []int{channel}, mask, &hist, []int{params.Bins}, []float64{rng[0], rng[1]}, false)

	vals := make([]float64, params.Bins)
	var sum float64
	for i := range vals {
		vals[i] = float64(hist.GetFloatAt(i, 0))
		sum += vals[i]
	}
	if params.Normalize && sum > 0 {
		for i := range vals {
			vals[i] /= sum
		}
	}
	return vals
}
