package fusion

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"

	"walnut-pair/internal/descriptor"
	"walnut-pair/internal/walnut"
)

// ErrNoUsableModality is returned when no view of a walnut yielded anything.
var ErrNoUsableModality = errors.New("no usable modality")

// ViewFeatures holds what one angle contributed. Nil fields mean the
// modality is missing for that angle.
type ViewFeatures struct {
	Size    *descriptor.ViewSize
	Color   []float64
	Contour []float64
	Texture []float64
}

func (v ViewFeatures) empty() bool {
	return v.Size == nil && v.Color == nil && v.Contour == nil && v.Texture == nil
}

// Fuser builds feature tensors with fixed parameters.
type Fuser struct {
	params Params
}

// New creates a Fuser.
func New(params Params) (*Fuser, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Fuser{params: params.WithAngleWeights(params.AngleWeights)}, nil
}

// Params returns the fuser's parameters.
func (f *Fuser) Params() Params { return f.params }

// Len returns the length of every tensor this fuser produces.
func (f *Fuser) Len() int { return f.params.Len() }

type weighted struct {
	vec []float64
	w   float64
}

// Fuse concatenates size | color | contour | texture, each scaled by its
// modality weight. Missing modalities are zero-filled so every tensor has
// length Len.
func (f *Fuser) Fuse(id string, views map[walnut.Angle]ViewFeatures) (*walnut.FeatureTensor, error) {
	p := f.params

	sizes := make(map[walnut.Angle]descriptor.ViewSize)
	var colors, contours, textures []weighted
	var angles []walnut.Angle
	usable := false

	for _, a := range walnut.Angles {
		v, ok := views[a]
		if !ok || v.empty() {
			continue
		}
		w := p.AngleWeight(a)
		if w == 0 {
			continue
		}
		if err := f.checkDims(a, v); err != nil {
			return nil, fmt.Errorf("walnut %s: %w", id, err)
		}
		usable = true
		angles = append(angles, a)

		if v.Size != nil {
			sizes[a] = *v.Size
		}
		if v.Color != nil {
			colors = append(colors, weighted{v.Color, w})
		}
		if v.Contour != nil {
			contours = append(contours, weighted{v.Contour, w})
		}
		if v.Texture != nil {
			textures = append(textures, weighted{v.Texture, w})
		}
	}
	if !usable {
		return nil, fmt.Errorf("walnut %s: %w", id, ErrNoUsableModality)
	}

	out := make([]float64, 0, p.Len())

	size := descriptor.CombineSizes(sizes)
	out = appendScaled(out, size[:], p.Weights.Size)
	out = appendScaled(out, pool(colors, p.ColorDim, p.Reducer), p.Weights.Color)
	out = appendScaled(out, pool(contours, p.ContourDim, p.Reducer), p.Weights.Contour)

	switch p.Layout {
	case LayoutPooled:
		out = appendScaled(out, pool(textures, p.TextureDim, p.Reducer), p.Weights.Texture)
	default:
		for _, a := range walnut.Angles {
			v, ok := views[a]
			w := p.AngleWeight(a)
			if !ok || v.Texture == nil || w == 0 {
				out = append(out, make([]float64, p.TextureDim)...)
				continue
			}
			out = appendScaled(out, v.Texture, w*p.Weights.Texture)
		}
	}

	return &walnut.FeatureTensor{ID: id, Angles: angles, Values: out}, nil
}

func (f *Fuser) checkDims(a walnut.Angle, v ViewFeatures) error {
	p := f.params
	if v.Color != nil && len(v.Color) != p.ColorDim {
		return fmt.Errorf("%v color length %d, want %d", a, len(v.Color), p.ColorDim)
	}
	if v.Contour != nil && len(v.Contour) != p.ContourDim {
		return fmt.Errorf("%v contour length %d, want %d", a, len(v.Contour), p.ContourDim)
	}
	if v.Texture != nil && len(v.Texture) != p.TextureDim {
		return fmt.Errorf("%v texture length %d, want %d", a, len(v.Texture), p.TextureDim)
	}
	return nil
}

func appendScaled(dst, src []float64, w float64) []float64 {
	n := len(dst)
	dst = append(dst, src...)
	floats.Scale(w, dst[n:])
	return dst
}

// pool reduces weighted vectors of length dim; no vectors yields zeros.
func pool(vecs []weighted, dim int, r Reducer) []float64 {
	out := make([]float64, dim)
	if len(vecs) == 0 {
		return out
	}

	switch r {
	case ReduceMax:
		copy(out, vecs[0].vec)
		for _, wv := range vecs[1:] {
			for i, v := range wv.vec {
				out[i] = max(out[i], v)
			}
		}
	case ReduceMedian:
		col := make([]weighted, len(vecs))
		for i := range out {
			for j, wv := range vecs {
				col[j] = weighted{vec: []float64{wv.vec[i]}, w: wv.w}
			}
			out[i] = weightedMedian(col)
		}
	default:
		var total float64
		for _, wv := range vecs {
			total += wv.w
			floats.AddScaled(out, wv.w, wv.vec)
		}
		floats.Scale(1/total, out)
	}
	return out
}

// weightedMedian returns the value where the cumulative weight reaches half
// the total. An exact tie averages the two straddling values.
func weightedMedian(col []weighted) float64 {
	sort.SliceStable(col, func(i, j int) bool { return col[i].vec[0] < col[j].vec[0] })
	var total float64
	for _, c := range col {
		total += c.w
	}
	half := total / 2
	var cum float64
	for i, c := range col {
		cum += c.w
		if cum > half {
			return c.vec[0]
		}
		if cum == half && i+1 < len(col) {
			return (c.vec[0] + col[i+1].vec[0]) / 2
		}
	}
	return col[len(col)-1].vec[0]
}
