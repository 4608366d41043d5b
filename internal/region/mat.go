package region

import (
	"fmt"
	"image"
	"runtime"
	"sync"

	"gocv.io/x/gocv"
)

// ImageToMat converts a Go image to a BGR OpenCV Mat. RGBA and opaque NRGBA
// images are copied straight from their pixel buffers; anything else goes
// through At in parallel row stripes.
func ImageToMat(img image.Image) (gocv.Mat, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return gocv.NewMat(), fmt.Errorf("empty image")
	}

	bgr := make([]byte, 3*w*h)
	var row func(y int)

	switch src := img.(type) {
	case *image.RGBA:
		row = func(y int) { swizzle(bgr[3*w*y:], src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):], w) }
	case *image.NRGBA:
		if src.Opaque() {
			row = func(y int) { swizzle(bgr[3*w*y:], src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):], w) }
		}
	}
	if row == nil {
		row = func(y int) {
			dst := bgr[3*w*y:]
			for x := 0; x < w; x++ {
				r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				dst[3*x+0] = uint8(bl >> 8)
				dst[3*x+1] = uint8(g >> 8)
				dst[3*x+2] = uint8(r >> 8)
			}
		}
	}

	stripe := (h + runtime.NumCPU() - 1) / runtime.NumCPU()
	var wg sync.WaitGroup
	for start := 0; start < h; start += stripe {
		end := min(start+stripe, h)
		wg.Add(1)
		go func(y0, y1 int) {
			defer wg.Done()
			for y := y0; y < y1; y++ {
				row(y)
			}
		}(start, end)
	}
	wg.Wait()

	return gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, bgr)
}

// swizzle writes n RGBA pixels from src into dst as BGR.
func swizzle(dst, src []byte, n int) {
	for x := 0; x < n; x++ {
		dst[3*x+0] = src[4*x+2]
		dst[3*x+1] = src[4*x+1]
		dst[3*x+2] = src[4*x+0]
	}
}
