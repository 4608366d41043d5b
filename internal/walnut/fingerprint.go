package walnut

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"image"

	"golang.org/x/image/draw"
)

// FingerprintImage hashes the decoded pixels of img. Two images with the same
// dimensions and pixel values share a fingerprint regardless of file format.
func FingerprintImage(img image.Image) string {
	b := img.Bounds()
	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		nrgba = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	}

	h := sha256.New()
	var dims [8]byte
	binary.LittleEndian.PutUint32(dims[0:4], uint32(b.Dx()))
	binary.LittleEndian.PutUint32(dims[4:8], uint32(b.Dy()))
	h.Write(dims[:])

	// Rows only; Pix of a sub-image runs past the visible area.
	r := nrgba.Rect
	row := 4 * r.Dx()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		off := nrgba.PixOffset(r.Min.X, y)
		h.Write(nrgba.Pix[off : off+row])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CombineFingerprints folds per-angle fingerprints into one key, walking the
// angles in declared order so map iteration order never leaks into the key.
func CombineFingerprints(prints map[Angle]string) string {
	h := sha256.New()
	for _, a := range Angles {
		h.Write([]byte(a.Tag()))
		h.Write([]byte{':'})
		if p, ok := prints[a]; ok {
			h.Write([]byte(p))
		} else {
			h.Write([]byte{'-'})
		}
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
