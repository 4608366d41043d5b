// Package colorutil provides color-space helpers that follow OpenCV's 8-bit
// conventions, so values can be compared directly with gocv thresholds.
package colorutil

import (
	"image"
	"math"
)

// RGBToHSV converts RGB (0-255) to HSV (OpenCV convention: H 0-180, S 0-255, V 0-255).
func RGBToHSV(r, g, b float64) (h, s, v float64) {
	r /= 255.0
	g /= 255.0
	b /= 255.0

	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	diff := maxC - minC

	v = maxC * 255.0 // V in 0-255

	if maxC == 0 {
		s = 0
	} else {
		s = (diff / maxC) * 255.0 // S in 0-255
	}

	if diff == 0 {
		h = 0
	} else if maxC == r {
		h = 60 * math.Mod((g-b)/diff, 6)
	} else if maxC == g {
		h = 60 * ((b-r)/diff + 2)
	} else {
		h = 60 * ((r-g)/diff + 4)
	}

	if h < 0 {
		h += 360
	}

	h = h / 2 // Convert to OpenCV's 0-180 range

	return h, s, v
}

// HSVStats holds per-channel mean and standard deviation of a patch.
type HSVStats struct {
	MeanH, MeanS, MeanV float64
	StdH, StdS, StdV    float64
	Pixels              int
}

// SampleHSV measures the HSV distribution of img inside rect (clipped to the
// image). Hue is averaged linearly, which is adequate for the narrow
// brown/orange band walnut shells occupy away from the 0/180 seam.
func SampleHSV(img image.Image, rect image.Rectangle) HSVStats {
	rect = rect.Intersect(img.Bounds())
	var st HSVStats
	if rect.Empty() {
		return st
	}

	var sumH, sumS, sumV, sqH, sqS, sqV float64
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			h, s, v := RGBToHSV(float64(r>>8), float64(g>>8), float64(b>>8))
			sumH += h
			sumS += s
			sumV += v
			sqH += h * h
			sqS += s * s
			sqV += v * v
			st.Pixels++
		}
	}

	n := float64(st.Pixels)
	st.MeanH, st.MeanS, st.MeanV = sumH/n, sumS/n, sumV/n
	st.StdH = math.Sqrt(math.Max(0, sqH/n-st.MeanH*st.MeanH))
	st.StdS = math.Sqrt(math.Max(0, sqS/n-st.MeanS*st.MeanS))
	st.StdV = math.Sqrt(math.Max(0, sqV/n-st.MeanV*st.MeanV))
	return st
}
