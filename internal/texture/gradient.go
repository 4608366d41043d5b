package texture

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"walnut-pair/internal/region"
)

const (
	gradientSize  = 64 // Side of the grayscale resample
	gradientCells = 4  // Cells per side
	gradientBins  = 8  // Unsigned orientation bins over [0, pi)

	// GradientDim is the length of the gradient embedding.
	GradientDim = gradientCells * gradientCells * gradientBins
)

// Gradient is a model-free encoder: a histogram of oriented gradients over a
// 4x4 grid of a 64x64 grayscale resample.
type Gradient struct{}

// NewGradient returns the gradient encoder.
func NewGradient() *Gradient { return &Gradient{} }

func (*Gradient) Kind() Kind { return KindGradient }
func (*Gradient) Name() string { return fmt.Sprintf("gradient-%dx%dx%d", gradientCells, gradientCells, gradientBins) }
func (*Gradient) Dim() int { return GradientDim }
func (*Gradient) Close() error { return nil }

// Embed computes the gradient histogram of a BGR or grayscale crop.
func (g *Gradient) Embed(crop gocv.Mat) ([]float64, error) {
	if crop.Empty() {
		return nil, fmt.Errorf("empty crop")
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if crop.Channels() == 1 {
		crop.CopyTo(&gray)
	} else {
		gocv.CvtColor(crop, &gray, gocv.ColorBGRToGray)
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(gray, &resized, image.Pt(gradientSize, gradientSize), 0, 0, gocv.InterpolationLinear)
	small := gocv.NewMat()
	defer small.Close()
	resized.ConvertTo(&small, gocv.MatTypeCV32F)

	// ksize 1 is the central difference [-1 0 1].
	gx := gocv.NewMat()
	defer gx.Close()
	gy := gocv.NewMat()
	defer gy.Close()
	gocv.Sobel(small, &gx, gocv.MatTypeCV32F, 1, 0, 1, 1, 0, gocv.BorderReplicate)
	gocv.Sobel(small, &gy, gocv.MatTypeCV32F, 0, 1, 1, 1, 0, gocv.BorderReplicate)

	mag := gocv.NewMat()
	defer mag.Close()
	ang := gocv.NewMat()
	defer ang.Close()
	gocv.CartToPolar(gx, gy, &mag, &ang, false)

	vec := make([]float64, GradientDim)
	cell := gradientSize / gradientCells
	for y := 1; y < gradientSize-1; y++ {
		for x := 1; x < gradientSize-1; x++ {
			m := float64(mag.GetFloatAt(y, x))
			if m == 0 {
				continue
			}
			c := (y/cell)*gradientCells + x/cell
			vec[c*gradientBins+orientationBin(float64(ang.GetFloatAt(y, x)))] += m
		}
	}

	if err := normalize(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedImage computes the gradient histogram of a decoded image.
func (g *Gradient) EmbedImage(img image.Image) ([]float64, error) {
	m, err := region.ImageToMat(img)
	if err != nil {
		return nil, err
	}
	defer m.Close()
	return g.Embed(m)
}

// orientationBin folds an angle in [0, 2pi) onto [0, pi) and bins it.
func orientationBin(theta float64) int {
	theta = math.Mod(theta, math.Pi)
	if theta < 0 {
		theta += math.Pi
	}
	return min(int(theta/math.Pi*gradientBins), gradientBins-1)
}
