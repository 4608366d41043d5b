// Package fusion combines the per-view modality vectors of one walnut into a
// single fixed-length feature tensor.
package fusion

import (
	"fmt"
	"math"
	"strings"

	"walnut-pair/internal/descriptor"
	"walnut-pair/internal/walnut"
)

// Reducer pools one modality's vectors across angles.
type Reducer int

const (
	ReduceMean   Reducer = iota // Angle-weighted mean
	ReduceMax                   // Element-wise max over angles with weight > 0
	ReduceMedian                // Angle-weighted median
)

func (r Reducer) String() string {
	switch r {
	case ReduceMean:
		return "mean"
	case ReduceMax:
		return "max"
	case ReduceMedian:
		return "median"
	}
	return fmt.Sprintf("Reducer(%d)", int(r))
}

// ParseReducer parses "mean", "max" or "median".
func ParseReducer(s string) (Reducer, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mean":
		return ReduceMean, nil
	case "max":
		return ReduceMax, nil
	case "median":
		return ReduceMedian, nil
	}
	return 0, fmt.Errorf("unknown angle reducer %q", s)
}

// Layout controls how texture embeddings enter the tensor.
type Layout int

const (
	// LayoutPerAngle concatenates one texture block per angle in fixed angle
	// order; absent angles are zero-filled.
	LayoutPerAngle Layout = iota
	// LayoutPooled reduces the texture blocks to one before concatenation.
	LayoutPooled
)

func (l Layout) String() string {
	switch l {
	case LayoutPerAngle:
		return "per_angle"
	case LayoutPooled:
		return "pooled"
	}
	return fmt.Sprintf("Layout(%d)", int(l))
}

// ParseLayout parses "per_angle" or "pooled".
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "per_angle", "per-angle", "perangle":
		return LayoutPerAngle, nil
	case "pooled":
		return LayoutPooled, nil
	}
	return 0, fmt.Errorf("unknown texture layout %q", s)
}

// Weights scales each modality before concatenation.
type Weights struct {
	Size    float64 `yaml:"size" toml:"size" json:"size"`
	Color   float64 `yaml:"color" toml:"color" json:"color"`
	Contour float64 `yaml:"contour" toml:"contour" json:"contour"`
	Texture float64 `yaml:"texture" toml:"texture" json:"texture"`
}

// DefaultWeights favors color, then contour.
func DefaultWeights() Weights {
	return Weights{Size: 1, Color: 2, Contour: 1.5, Texture: 1}
}

// Params configures a Fuser.
type Params struct {
	Weights Weights

	// AngleWeights scales each angle's contribution. Angles not listed weigh
	// 1; a weight of 0 excludes the angle.
	AngleWeights map[walnut.Angle]float64

	Reducer Reducer
	Layout  Layout

	ColorDim   int
	ContourDim int
	TextureDim int
}

// DefaultParams returns default fusion parameters for the given color and
// texture lengths.
func DefaultParams(colorDim, textureDim int) Params {
	return Params{
		Weights:    DefaultWeights(),
		Reducer:    ReduceMean,
		Layout:     LayoutPerAngle,
		ColorDim:   colorDim,
		ContourDim: descriptor.HuDim,
		TextureDim: textureDim,
	}
}

// WithAngleWeights returns a copy with the given angle weights.
func (p Params) WithAngleWeights(w map[walnut.Angle]float64) Params {
	p.AngleWeights = make(map[walnut.Angle]float64, len(w))
	for a, v := range w {
		p.AngleWeights[a] = v
	}
	return p
}

// WithReducer returns a copy with a different angle reducer.
func (p Params) WithReducer(r Reducer) Params {
	p.Reducer = r
	return p
}

// WithLayout returns a copy with a different texture layout.
func (p Params) WithLayout(l Layout) Params {
	p.Layout = l
	return p
}

// AngleWeight returns the weight for angle a.
func (p Params) AngleWeight(a walnut.Angle) float64 {
	if w, ok := p.AngleWeights[a]; ok {
		return w
	}
	return 1
}

// Len returns the fused tensor length.
func (p Params) Len() int {
	tex := p.TextureDim
	if p.Layout == LayoutPerAngle {
		tex *= walnut.NumAngles
	}
	return descriptor.SizeDim + p.ColorDim + p.ContourDim + tex
}

// Validate checks dimensions and weights.
func (p Params) Validate() error {
	if p.ColorDim < 1 || p.ContourDim < 1 || p.TextureDim < 1 {
		return fmt.Errorf("modality dimensions must be positive")
	}
	w := p.Weights
	for name, v := range map[string]float64{"size": w.Size, "color": w.Color, "contour": w.Contour, "texture": w.Texture} {
		if !validWeight(v) {
			return fmt.Errorf("%s weight %g must be finite and non-negative", name, v)
		}
	}
	for a, v := range p.AngleWeights {
		if !a.Valid() {
			return fmt.Errorf("angle weight for %v: %w", a, walnut.ErrUnknownAngle)
		}
		if !validWeight(v) {
			return fmt.Errorf("angle weight %g for %v must be finite and non-negative", v, a)
		}
	}
	if p.Reducer < ReduceMean || p.Reducer > ReduceMedian {
		return fmt.Errorf("unknown reducer %v", p.Reducer)
	}
	if p.Layout < LayoutPerAngle || p.Layout > LayoutPooled {
		return fmt.Errorf("unknown layout %v", p.Layout)
	}
	return nil
}

func validWeight(v float64) bool {
	return v >= 0 && !math.IsInf(v, 1)
}
