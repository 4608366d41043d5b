// Command regiontest segments one walnut photo and prints the per-view
// measurements and descriptors. With -out it writes the crop and mask.
package main

import (
	"flag"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gocv.io/x/gocv"

	"walnut-pair/internal/descriptor"
	"walnut-pair/internal/region"
	"walnut-pair/internal/texture"
	"walnut-pair/internal/walnut"
)

func main() {
	imagePath := flag.String("image", "", "Path to walnut photo (JPEG, PNG, TIFF, BMP or WebP)")
	ppu := flag.Float64("ppu", 515, "Pixels per physical unit")
	size := flag.Int("size", 640, "Canonical crop size")
	kernel := flag.Int("kernel", 5, "Morphology kernel size")
	outDir := flag.String("out", "", "Directory for crop and mask PNGs")
	sample := flag.String("sample", "", "Shell-only patch x,y,w,h to derive the HSV window from")
	tol := flag.Float64("tol", 2, "Sample tolerance in standard deviations")
	flag.Parse()

	if *imagePath == "" {
		fmt.Println("Usage: regiontest -image <path> [-ppu 515] [-size 640] [-kernel 5] [-sample x,y,w,h -tol 2] [-out dir]")
		os.Exit(1)
	}

	img, err := walnut.LoadImage(*imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	bounds := img.Bounds()
	fmt.Printf("Loaded image: %dx%d pixels\n", bounds.Dx(), bounds.Dy())
	if a, ok := walnut.AngleFromFilename(*imagePath); ok {
		fmt.Printf("Angle: %s\n", a)
	}

	params := region.DefaultParams()
	if *sample != "" {
		patch, err := parseRect(*sample)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -sample: %v\n", err)
			os.Exit(1)
		}
		params, err = region.ParamsFromSample(img, patch, *tol)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Sampling failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Sampled HSV window from %v (tolerance %.1f)\n", patch, *tol)
		fmt.Printf("  region: {hue_min: %.0f, hue_max: %.0f, sat_min: %.0f, sat_max: %.0f, val_min: %.0f, val_max: %.0f}\n",
			params.HueMin, params.HueMax, params.SatMin, params.SatMax, params.ValMin, params.ValMax)
	}
	params = params.WithCanonicalSize(*size).WithKernelSize(*kernel)
	if err := params.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid parameters: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nSegmentation parameters:\n")
	fmt.Printf("  HSV: H(%.0f-%.0f) S(%.0f-%.0f) V(%.0f-%.0f)\n",
		params.HueMin, params.HueMax, params.SatMin, params.SatMax, params.ValMin, params.ValMax)
	fmt.Printf("  Kernel: %d  Min area: %.2f%%  Canvas: %d\n",
		params.KernelSize, params.MinAreaFraction*100, params.CanonicalSize)

	r, err := region.Extract(img, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Segmentation failed: %v\n", err)
		os.Exit(1)
	}
	defer r.Close()

	fmt.Printf("\nRegion:\n")
	fmt.Printf("  Bounds: %v (%d px)\n", r.Bounds, r.Area)
	fmt.Printf("  Min-area rect: %.1f x %.1f px\n", r.MinRectW, r.MinRectH)

	vs := descriptor.MeasureView(r, *ppu)
	fmt.Printf("  Height %.3f  Width %.3f  Girth %.3f\n", vs.Height, vs.Width, vs.Girth)

	if hu, err := descriptor.Contour(r.Mask, descriptor.DefaultContourParams()); err == nil {
		fmt.Printf("\nHu (log): ")
		for _, h := range hu {
			fmt.Printf("%8.3f", h)
		}
		fmt.Println()
	} else {
		fmt.Printf("\nContour failed: %v\n", err)
	}

	if c, err := descriptor.Color(r.Crop, r.Mask, descriptor.DefaultColorParams()); err == nil {
		fmt.Printf("Color: %d values\n", len(c))
	} else {
		fmt.Printf("Color failed: %v\n", err)
	}

	if t, err := texture.NewGradient().Embed(r.Crop); err == nil {
		fmt.Printf("Gradient texture: %d values\n", len(t))
	} else {
		fmt.Printf("Texture failed: %v\n", err)
	}

	if *outDir != "" {
		if err := os.MkdirAll(*outDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		base := strings.TrimSuffix(filepath.Base(*imagePath), filepath.Ext(*imagePath))
		cropPath := filepath.Join(*outDir, base+"_crop.png")
		maskPath := filepath.Join(*outDir, base+"_mask.png")
		if !gocv.IMWrite(cropPath, r.Crop) || !gocv.IMWrite(maskPath, r.Mask) {
			fmt.Fprintf(os.Stderr, "Failed to write crop or mask\n")
			os.Exit(1)
		}
		fmt.Printf("\nWrote %s and %s\n", cropPath, maskPath)
	}
}

// parseRect parses "x,y,w,h" into a rectangle.
func parseRect(s string) (image.Rectangle, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("want x,y,w,h, got %q", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, err
		}
		v[i] = n
	}
	if v[2] <= 0 || v[3] <= 0 {
		return image.Rectangle{}, fmt.Errorf("width and height must be positive")
	}
	return image.Rect(v[0], v[1], v[0]+v[2], v[1]+v[3]), nil
}
