// Package pipeline runs feature extraction for a batch of walnuts and drives
// the corpus reduction and pair ranking that follow it.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"

	"walnut-pair/internal/config"
	"walnut-pair/internal/descriptor"
	"walnut-pair/internal/fusion"
	"walnut-pair/internal/region"
	"walnut-pair/internal/texture"
	"walnut-pair/internal/version"
	"walnut-pair/internal/walnut"
)

// Extractor turns a walnut's views into a fused feature tensor. It is
// immutable and safe for concurrent use.
type Extractor struct {
	region        region.Params
	color         descriptor.ColorParams
	contour       descriptor.ContourParams
	pixelsPerUnit float64
	encoder       texture.Encoder
	fuser         *fusion.Fuser
	version       string
}

// NewExtractor validates cfg and binds it to an encoder.
func NewExtractor(cfg config.Config, enc texture.Encoder) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fp, err := cfg.FusionParams(descriptor.ColorDim(cfg.Color.Bins), enc.Dim())
	if err != nil {
		return nil, err
	}
	fuser, err := fusion.New(fp)
	if err != nil {
		return nil, err
	}

	digest, err := cfg.ExtractionDigest()
	if err != nil {
		return nil, err
	}
	h := sha256.New()
	fmt.Fprintf(h, "schema=%d\nconfig=%s\nencoder=%s\n", version.ExtractorSchema, digest, enc.Name())

	return &Extractor{
		region:        cfg.RegionParams(),
		color:         cfg.ColorParams(),
		contour:       cfg.ContourParams(),
		pixelsPerUnit: cfg.Size.PixelsPerUnit,
		encoder:       enc,
		fuser:         fuser,
		version:       hex.EncodeToString(h.Sum(nil))[:16],
	}, nil
}

// Version identifies the extraction configuration; tensors from different
// versions are not comparable.
func (e *Extractor) Version() string { return e.version }

// Len returns the tensor length.
func (e *Extractor) Len() int { return e.fuser.Len() }

// Extract segments and describes every view concurrently, then fuses them.
// An angle whose silhouette cannot be found is dropped; a modality that fails
// on one angle is left out for that angle only.
func (e *Extractor) Extract(ctx context.Context, vs *walnut.ViewSet) (*walnut.FeatureTensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	angles := vs.Angles()
	results := make([]*fusion.ViewFeatures, len(angles))

	var wg sync.WaitGroup
	for i, a := range angles {
		wg.Add(1)
		go func(i int, a walnut.Angle) {
			defer wg.Done()
			img, _ := vs.View(a)
			results[i] = e.describe(vs.ID(), a, img)
		}(i, a)
	}
	wg.Wait()

	views := make(map[walnut.Angle]fusion.ViewFeatures, len(angles))
	for i, a := range angles {
		if results[i] != nil {
			views[a] = *results[i]
		}
	}

	t, err := e.fuser.Fuse(vs.ID(), views)
	if err != nil {
		return nil, err
	}
	t.Fingerprint = vs.Fingerprint()
	t.Version = e.version
	return t, nil
}

// describe returns nil when the angle yields nothing usable.
func (e *Extractor) describe(id string, a walnut.Angle, img image.Image) *fusion.ViewFeatures {
	r, err := region.Extract(img, e.region)
	if err != nil {
		if errors.Is(err, region.ErrRegionNotFound) {
			log.Printf("pipeline: %s/%s: no walnut region, dropping angle", id, a)
		} else {
			log.Printf("pipeline: %s/%s: segmentation failed: %v", id, a, err)
		}
		return nil
	}
	defer r.Close()

	size := descriptor.MeasureView(r, e.pixelsPerUnit)
	v := &fusion.ViewFeatures{Size: &size}

	if c, err := descriptor.Color(r.Crop, r.Mask, e.color); err != nil {
		log.Printf("pipeline: %s/%s: color: %v", id, a, err)
	} else {
		v.Color = c
	}

	if c, err := descriptor.Contour(r.Mask, e.contour); err != nil {
		log.Printf("pipeline: %s/%s: contour: %v", id, a, err)
	} else {
		v.Contour = c
	}

	if t, err := e.encoder.Embed(r.Crop); err != nil {
		log.Printf("pipeline: %s/%s: texture: %v", id, a, err)
	} else {
		v.Texture = t
	}
	return v
}
