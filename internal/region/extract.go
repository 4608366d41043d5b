// Package region isolates the walnut silhouette in a photo and produces a
// canonical square crop plus a binary mask of the shell.
package region

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// ErrRegionNotFound is returned when no walnut-colored region of usable size
// exists in a photo. Callers drop the angle rather than zero-filling it.
var ErrRegionNotFound = errors.New("no walnut region found")

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Region is the segmented walnut in one view.
// Crop and Mask are CanonicalSize x CanonicalSize; geometry fields are in
// source-image pixels. Call Close to release the Mats.
type Region struct {
	Crop gocv.Mat // BGR, black padded
	Mask gocv.Mat // 8-bit, 255 inside the shell

	Bounds     image.Rectangle // Axis-aligned bounding box in the source
	MinRectW   float64         // Long side of the minimum-area rectangle
	MinRectH   float64         // Short side of the minimum-area rectangle
	Area       int             // Shell pixel count in the source
	SourceSize image.Point
}

// Close releases the crop and mask.
func (r *Region) Close() {
	r.Crop.Close()
	r.Mask.Close()
}

// Extract converts img and segments it.
func Extract(img image.Image, params Params) (*Region, error) {
	mat, err := ImageToMat(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	defer mat.Close()

	return ExtractMat(mat, params)
}

// ExtractMat segments a BGR Mat: HSV threshold, morphological cleanup, largest
// external contour, crop and aspect-preserving resize into a padded square.
func ExtractMat(src gocv.Mat, params Params) (*Region, error) {
	if src.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	mask := ShellMask(src, params)
	defer mask.Close()

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	best := -1
	bestArea := 0.0
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area > bestArea {
			bestArea = area
			best = i
		}
	}

	rows, cols := src.Rows(), src.Cols()
	minArea := params.MinAreaFraction * float64(rows*cols)
	if best < 0 || bestArea <= minArea {
		return nil, ErrRegionNotFound
	}

	// Keep only the largest component, with holes filled.
	component := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), rows, cols, gocv.MatTypeCV8U)
	defer component.Close()
	gocv.DrawContours(&component, contours, best, white, -1)

	bounds := gocv.BoundingRect(contours.At(best))
	if bounds.Dx() < 2 || bounds.Dy() < 2 {
		return nil, ErrRegionNotFound
	}
	rr := gocv.MinAreaRect(contours.At(best))

	r := &Region{
		Bounds:     bounds,
		MinRectW:   math.Max(float64(rr.Width), float64(rr.Height)),
		MinRectH:   math.Min(float64(rr.Width), float64(rr.Height)),
		Area:       gocv.CountNonZero(component),
		SourceSize: image.Pt(cols, rows),
	}

	srcROI := src.Region(bounds)
	defer srcROI.Close()
	maskROI := component.Region(bounds)
	defer maskROI.Close()

	r.Crop = fitSquare(srcROI, params.CanonicalSize, gocv.MatTypeCV8UC3, gocv.InterpolationLinear)
	r.Mask = fitSquare(maskROI, params.CanonicalSize, gocv.MatTypeCV8U, gocv.InterpolationNearestNeighbor)

	if gocv.CountNonZero(r.Mask) == 0 {
		r.Close()
		return nil, ErrRegionNotFound
	}
	return r, nil
}

// ShellMask thresholds src in HSV and applies a close then open with the
// configured kernel. The caller owns the returned Mat.
func ShellMask(src gocv.Mat, params Params) gocv.Mat {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(src, &hsv, gocv.ColorBGRToHSV)

	mask := gocv.NewMat()
	lower := gocv.NewScalar(params.HueMin, params.SatMin, params.ValMin, 0)
	upper := gocv.NewScalar(params.HueMax, params.SatMax, params.ValMax, 0)
	gocv.InRangeWithScalar(hsv, lower, upper, &mask)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{params.KernelSize, params.KernelSize})
	defer kernel.Close()
	gocv.MorphologyEx(mask, &mask, gocv.MorphClose, kernel)
	gocv.MorphologyEx(mask, &mask, gocv.MorphOpen, kernel)

	return mask
}

// fitSquare scales roi to fit inside a size x size black canvas, keeping the
// aspect ratio and centering it.
func fitSquare(roi gocv.Mat, size int, mt gocv.MatType, interp gocv.InterpolationFlags) gocv.Mat {
	w, h := roi.Cols(), roi.Rows()
	scale := math.Min(float64(size)/float64(w), float64(size)/float64(h))
	newW := max(1, int(float64(w)*scale))
	newH := max(1, int(float64(h)*scale))

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(roi, &resized, image.Point{newW, newH}, 0, 0, interp)

	canvas := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), size, size, mt)
	offX := (size - newW) / 2
	offY := (size - newH) / 2
	dst := canvas.Region(image.Rect(offX, offY, offX+newW, offY+newH))
	resized.CopyTo(&dst)
	dst.Close()

	return canvas
}
