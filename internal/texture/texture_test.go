package texture

import (
	"image"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"walnut-pair/internal/region"
	"walnut-pair/internal/walnut/walnuttest"
)

func norm(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
		dim  int
	}{
		{"gradient", KindGradient, 128},
		{"ResNet50", KindResNet50, 2048},
		{" resnet18 ", KindResNet18, 512},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			k, err := ParseKind(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, k)
			assert.Equal(t, tt.dim, k.Dim())
		})
	}

	_, err := ParseKind("vgg16")
	assert.Error(t, err)
}

func TestNewRequiresModel(t *testing.T) {
	_, err := New(KindResNet50, "")
	assert.ErrorIs(t, err, ErrModelRequired)

	_, err = New(KindResNet18, filepath.Join(t.TempDir(), "missing.onnx"))
	assert.Error(t, err)

	enc, err := New(KindGradient, "")
	require.NoError(t, err)
	assert.Equal(t, KindGradient, enc.Kind())
	assert.NoError(t, enc.Close())
}

func TestGradientEmbed(t *testing.T) {
	r, err := region.Extract(walnuttest.Draw(walnuttest.Default()), region.DefaultParams().WithCanonicalSize(128))
	require.NoError(t, err)
	defer r.Close()

	enc := NewGradient()
	vec, err := enc.Embed(r.Crop)
	require.NoError(t, err)
	require.Len(t, vec, enc.Dim())
	assert.InDelta(t, 1, norm(vec), 1e-9)
	for _, v := range vec {
		assert.GreaterOrEqual(t, v, 0.0)
	}

	again, err := enc.Embed(r.Crop)
	require.NoError(t, err)
	assert.Equal(t, vec, again)
}

func TestGradientOrientation(t *testing.T) {
	// Vertical stripes only have horizontal gradients: every cell's mass
	// sits in the first orientation bin.
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			if (x/4)%2 == 0 {
				img.Pix[y*img.Stride+x] = 200
			}
		}
	}

	vec, err := NewGradient().EmbedImage(img)
	require.NoError(t, err)
	var first, rest float64
	for i, v := range vec {
		if i%gradientBins == 0 {
			first += v
		} else {
			rest += v
		}
	}
	assert.Greater(t, first, 10*rest)
}

func TestGradientGrayAndColorAgree(t *testing.T) {
	img := walnuttest.Draw(walnuttest.Default())
	bgr, err := region.ImageToMat(img)
	require.NoError(t, err)
	defer bgr.Close()
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)

	enc := NewGradient()
	a, err := enc.Embed(bgr)
	require.NoError(t, err)
	b, err := enc.Embed(gray)
	require.NoError(t, err)
	assert.InDeltaSlice(t, a, b, 1e-9)

	c, err := enc.EmbedImage(img)
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestOrientationBin(t *testing.T) {
	tests := []struct {
		theta float64
		want  int
	}{
		{0, 0},
		{math.Pi, 0},
		{math.Pi / 2, 4},
		{3 * math.Pi / 2, 4},
		{math.Pi - 1e-9, gradientBins - 1},
		{2*math.Pi - 1e-9, gradientBins - 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, orientationBin(tt.theta), "theta %g", tt.theta)
	}
}

func TestGradientDegenerate(t *testing.T) {
	_, err := NewGradient().EmbedImage(image.NewGray(image.Rect(0, 0, 32, 32)))
	assert.ErrorIs(t, err, ErrDegenerateEmbedding)
}

func TestNormalize(t *testing.T) {
	v := []float64{3, 4}
	require.NoError(t, normalize(v))
	assert.InDelta(t, 0.6, v[0], 1e-12)
	assert.InDelta(t, 0.8, v[1], 1e-12)

	assert.ErrorIs(t, normalize([]float64{0, 0}), ErrDegenerateEmbedding)
	assert.ErrorIs(t, normalize([]float64{1, math.NaN()}), ErrDegenerateEmbedding)
	assert.ErrorIs(t, normalize([]float64{math.Inf(1)}), ErrDegenerateEmbedding)
}
