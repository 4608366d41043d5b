package region

import (
	"fmt"
	"image"
	"math"

	"walnut-pair/pkg/colorutil"
)

// Params holds the silhouette segmentation parameters.
type Params struct {
	// HSV color window for walnut shell pixels (OpenCV scale)
	HueMin, HueMax float64 // Hue range (0-180)
	SatMin, SatMax float64 // Saturation range (0-255)
	ValMin, ValMax float64 // Value/brightness range (0-255)

	// KernelSize is the square structuring element used for the close/open
	// cleanup of the threshold mask. Must be odd.
	KernelSize int

	// MinAreaFraction rejects silhouettes smaller than this share of the frame.
	MinAreaFraction float64

	// CanonicalSize is the side of the square crop every view is resized into.
	CanonicalSize int
}

// DefaultParams returns parameters tuned for walnut shells photographed on a
// light background.
func DefaultParams() Params {
	return Params{
		// Brown/orange band; low saturation background is rejected
		HueMin: 0,
		HueMax: 30,
		SatMin: 30,
		SatMax: 255,
		ValMin: 30,
		ValMax: 255,

		KernelSize:      5,
		MinAreaFraction: 0.001,
		CanonicalSize:   640,
	}
}

// WithHSV returns a copy of params with custom HSV color ranges.
func (p Params) WithHSV(hMin, hMax, sMin, sMax, vMin, vMax float64) Params {
	p.HueMin = hMin
	p.HueMax = hMax
	p.SatMin = sMin
	p.SatMax = sMax
	p.ValMin = vMin
	p.ValMax = vMax
	return p
}

// WithKernelSize returns a copy of params with a different cleanup kernel.
func (p Params) WithKernelSize(size int) Params {
	p.KernelSize = size
	return p
}

// WithCanonicalSize returns a copy of params with a different crop size.
func (p Params) WithCanonicalSize(size int) Params {
	p.CanonicalSize = size
	return p
}

// WithMinAreaFraction returns a copy of params with a different size floor.
func (p Params) WithMinAreaFraction(f float64) Params {
	p.MinAreaFraction = f
	return p
}

// Validate checks that the parameters describe a usable segmentation.
func (p Params) Validate() error {
	for _, v := range []float64{p.HueMin, p.HueMax, p.SatMin, p.SatMax, p.ValMin, p.ValMax, p.MinAreaFraction} {
		if math.IsNaN(v) {
			return fmt.Errorf("threshold parameters must be numbers")
		}
	}
	if p.HueMin < 0 || p.HueMax > 180 || p.HueMin > p.HueMax {
		return fmt.Errorf("hue range %.0f-%.0f outside 0-180", p.HueMin, p.HueMax)
	}
	if p.SatMin < 0 || p.SatMax > 255 || p.SatMin > p.SatMax {
		return fmt.Errorf("saturation range %.0f-%.0f outside 0-255", p.SatMin, p.SatMax)
	}
	if p.ValMin < 0 || p.ValMax > 255 || p.ValMin > p.ValMax {
		return fmt.Errorf("value range %.0f-%.0f outside 0-255", p.ValMin, p.ValMax)
	}
	if p.KernelSize < 1 || p.KernelSize%2 == 0 {
		return fmt.Errorf("kernel size %d must be odd and positive", p.KernelSize)
	}
	if p.MinAreaFraction < 0 || p.MinAreaFraction >= 1 {
		return fmt.Errorf("min area fraction %g outside [0,1)", p.MinAreaFraction)
	}
	if p.CanonicalSize < 32 {
		return fmt.Errorf("canonical size %d below 32", p.CanonicalSize)
	}
	return nil
}

// ParamsFromSample derives an HSV window from a patch known to contain only
// shell, widening each channel by tolerance standard deviations. The other
// parameters keep their defaults.
func ParamsFromSample(img image.Image, patch image.Rectangle, tolerance float64) (Params, error) {
	st := colorutil.SampleHSV(img, patch)
	if st.Pixels == 0 {
		return Params{}, fmt.Errorf("sample patch %v is outside the image", patch)
	}

	// Never narrower than a few units, a perfectly flat patch would otherwise
	// produce an unusable zero-width window.
	spread := func(std, floor float64) float64 {
		return math.Max(std*tolerance, floor)
	}
	hs := spread(st.StdH, 5)
	ss := spread(st.StdS, 20)
	vs := spread(st.StdV, 30)

	return DefaultParams().WithHSV(
		clampF(st.MeanH-hs, 0, 180), clampF(st.MeanH+hs, 0, 180),
		clampF(st.MeanS-ss, 0, 255), clampF(st.MeanS+ss, 0, 255),
		clampF(st.MeanV-vs, 0, 255), clampF(st.MeanV+vs, 0, 255),
	), nil
}

func clampF(v, minVal, maxVal float64) float64 {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}
