// Package walnuttest draws synthetic walnut photos for tests.
package walnuttest

import (
	"image"
	"image/color"
	"math"

	"walnut-pair/internal/walnut"
)

// Background is the light backdrop of the capture booth.
var Background = color.RGBA{R: 245, G: 245, B: 240, A: 255}

// Shell is a mid-brown that sits inside the default HSV window.
var Shell = color.RGBA{R: 150, G: 100, B: 50, A: 255}

// Shape describes one synthetic walnut photo.
type Shape struct {
	W, H   int     // Frame size
	CX, CY float64 // Ellipse center
	RX, RY float64 // Ellipse radii
	Shell  color.RGBA
	Ridges int // Number of darker ridge bands across the shell (texture)
}

// Draw renders the walnut as an ellipse on the backdrop. Ridges darken the
// shell in sinusoidal bands so texture encoders have something to see.
func Draw(s Shape) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.W, s.H))
	for y := 0; y < s.H; y++ {
		for x := 0; x < s.W; x++ {
			dx := (float64(x) - s.CX) / s.RX
			dy := (float64(y) - s.CY) / s.RY
			if dx*dx+dy*dy > 1 {
				img.SetRGBA(x, y, Background)
				continue
			}
			c := s.Shell
			if s.Ridges > 0 {
				k := 0.85 + 0.15*math.Sin(float64(s.Ridges)*math.Pi*(dx+1))
				c = color.RGBA{R: uint8(float64(c.R) * k), G: uint8(float64(c.G) * k), B: uint8(float64(c.B) * k), A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// Default returns a 320x240 frame with a centered 60x45 radius walnut.
func Default() Shape {
	return Shape{W: 320, H: 240, CX: 160, CY: 120, RX: 60, RY: 45, Shell: Shell, Ridges: 3}
}

// Blank returns a frame with no walnut in it.
func Blank(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, Background)
		}
	}
	return img
}

// ViewSet builds a view set for the given angles. variant perturbs the
// walnut size, tint and ridge count so distinct variants produce distinct
// features while equal variants are pixel-identical.
func ViewSet(id string, variant int, angles ...walnut.Angle) (*walnut.ViewSet, error) {
	views := make(map[walnut.Angle]image.Image, len(angles))
	for _, a := range angles {
		views[a] = Draw(VariantShape(variant, a))
	}
	return walnut.NewViewSet(id, views)
}

// VariantShape returns the drawing shape for one angle of one variant.
func VariantShape(variant int, a walnut.Angle) Shape {
	s := Default()
	s.RX += float64(variant*7 + int(a)*2)
	s.RY += float64(variant*3 + int(a))
	s.Ridges = 2 + (variant+int(a))%4
	s.Shell = color.RGBA{
		R: uint8(150 - 9*variant),
		G: uint8(100 - 4*variant),
		B: uint8(50 - 2*variant),
		A: 255,
	}
	return s
}
