package walnut

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestParseAngle(t *testing.T) {
	tests := []struct {
		in   string
		want Angle
	}{
		{"F", AngleFront},
		{"front", AngleFront},
		{"Back", AngleBack},
		{"l", AngleLeft},
		{"RIGHT", AngleRight},
		{"t", AngleTop},
		{"D", AngleDown},
		{"bottom", AngleDown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAngle(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseAngle("sideways")
	assert.True(t, errors.Is(err, ErrUnknownAngle))
}

func TestAngleFromFilename(t *testing.T) {
	a, ok := AngleFromFilename("/x/w01_T_0003.jpg")
	require.True(t, ok)
	assert.Equal(t, AngleTop, a)

	_, ok = AngleFromFilename("w01_front.jpg")
	assert.False(t, ok)
}

func TestNewViewSet(t *testing.T) {
	t.Run("empty id", func(t *testing.T) {
		_, err := NewViewSet(" ", map[Angle]image.Image{AngleFront: solid(4, 4, color.White)})
		assert.ErrorIs(t, err, ErrEmptyID)
	})

	t.Run("no views", func(t *testing.T) {
		_, err := NewViewSet("w1", map[Angle]image.Image{AngleFront: nil})
		assert.ErrorIs(t, err, ErrNoViews)
	})

	t.Run("angles in declared order", func(t *testing.T) {
		vs, err := NewViewSet("w1", map[Angle]image.Image{
			AngleDown:  solid(4, 4, color.White),
			AngleFront: solid(4, 4, color.Black),
			AngleLeft:  solid(4, 4, color.White),
		})
		require.NoError(t, err)
		assert.Equal(t, []Angle{AngleFront, AngleLeft, AngleDown}, vs.Angles())
		assert.Equal(t, 3, vs.Len())
		assert.NotEmpty(t, vs.AngleFingerprint(AngleFront))
		assert.Empty(t, vs.AngleFingerprint(AngleTop))
	})
}

func TestFingerprint(t *testing.T) {
	a := solid(8, 6, color.RGBA{R: 120, G: 80, B: 40, A: 255})
	b := solid(8, 6, color.RGBA{R: 120, G: 80, B: 40, A: 255})
	c := solid(8, 6, color.RGBA{R: 121, G: 80, B: 40, A: 255})
	d := solid(6, 8, color.RGBA{R: 120, G: 80, B: 40, A: 255})

	assert.Equal(t, FingerprintImage(a), FingerprintImage(b))
	assert.NotEqual(t, FingerprintImage(a), FingerprintImage(c))
	assert.NotEqual(t, FingerprintImage(a), FingerprintImage(d), "dimensions are part of the key")

	// Sub-images hash only their visible pixels, wherever they sit.
	big := image.NewNRGBA(image.Rect(0, 0, 12, 10))
	fill := color.NRGBA{R: 120, G: 80, B: 40, A: 255}
	for y := 0; y < 10; y++ {
		for x := 0; x < 12; x++ {
			big.SetNRGBA(x, y, fill)
		}
	}
	big.SetNRGBA(11, 9, color.NRGBA{A: 255})
	exact := image.NewNRGBA(image.Rect(0, 0, 8, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			exact.SetNRGBA(x, y, fill)
		}
	}
	corner := big.SubImage(image.Rect(0, 0, 8, 6))
	inner := big.SubImage(image.Rect(2, 3, 10, 9))
	assert.Equal(t, FingerprintImage(exact), FingerprintImage(corner))
	assert.Equal(t, FingerprintImage(exact), FingerprintImage(inner))
	assert.Equal(t, FingerprintImage(exact), FingerprintImage(a), "decoded format does not matter")

	// Same pixels in a different angle slot must change the combined key.
	vs1, err := NewViewSet("w", map[Angle]image.Image{AngleFront: a})
	require.NoError(t, err)
	vs2, err := NewViewSet("w", map[Angle]image.Image{AngleBack: a})
	require.NoError(t, err)
	vs3, err := NewViewSet("other", map[Angle]image.Image{AngleFront: b})
	require.NoError(t, err)
	assert.NotEqual(t, vs1.Fingerprint(), vs2.Fingerprint())
	assert.Equal(t, vs1.Fingerprint(), vs3.Fingerprint(), "fingerprint depends on content only")
}

func TestLoadDir(t *testing.T) {
	root := t.TempDir()

	w1 := filepath.Join(root, "w01")
	require.NoError(t, os.MkdirAll(w1, 0o755))
	writePNG(t, filepath.Join(w1, "w01_F_0001.png"), solid(5, 5, color.White))
	writePNG(t, filepath.Join(w1, "w01_F_0002.png"), solid(5, 5, color.Black))
	writePNG(t, filepath.Join(w1, "w01_L_0001.png"), solid(5, 5, color.White))
	writePNG(t, filepath.Join(w1, "notes.png"), solid(5, 5, color.White))

	w0 := filepath.Join(root, "w00")
	require.NoError(t, os.MkdirAll(w0, 0o755))
	writePNG(t, filepath.Join(w0, "w00_D_0001.png"), solid(5, 5, color.White))

	empty := filepath.Join(root, "empty")
	require.NoError(t, os.MkdirAll(empty, 0o755))

	sets, err := LoadDir(root)
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.Equal(t, "w00", sets[0].ID())
	assert.Equal(t, "w01", sets[1].ID())
	assert.Equal(t, []Angle{AngleFront, AngleLeft}, sets[1].Angles())

	// The first front image by name wins.
	front, _ := sets[1].View(AngleFront)
	assert.Equal(t, FingerprintImage(solid(5, 5, color.White)), FingerprintImage(front))
}
