// Package reduce standardizes a corpus of feature tensors and optionally
// projects it onto its principal components. Fitting sees the whole corpus,
// so the result for one walnut depends on every other walnut in the batch.
package reduce

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"walnut-pair/internal/walnut"
)

var (
	ErrEmptyCorpus    = errors.New("empty corpus")
	ErrLengthMismatch = errors.New("feature tensors differ in length")
	ErrDuplicateID    = errors.New("duplicate walnut id")
	// ErrStaleState is returned when a fitted state is applied to a corpus
	// other than the one it was fitted on.
	ErrStaleState = errors.New("reducer state does not match corpus")
)

// Params configures the reducer.
type Params struct {
	PCA        bool // Project onto principal components after standardizing
	Components int  // Requested components; capped at min(n-1, d)
}

// DefaultParams enables PCA with up to 256 components.
func DefaultParams() Params {
	return Params{PCA: true, Components: 256}
}

// Validate rejects a target dimensionality that cannot be met. With PCA
// off, Components is ignored.
func (p Params) Validate() error {
	if p.PCA && p.Components < 1 {
		return fmt.Errorf("components %d must be at least 1 when PCA is enabled", p.Components)
	}
	return nil
}

// Reduced is one walnut's vector in the shared reduced space.
type Reduced struct {
	ID     string    `json:"id"`
	Values []float64 `json:"values"`
}

// State is a fitted reducer. It is read-only after FitAndReduce returns.
type State struct {
	key    string
	params Params
	n, d   int

	mean  []float64
	scale []float64

	// components is d x k with unit columns; nil when no projection applies.
	components *mat.Dense
	variances  []float64
}

// Key returns the corpus membership key the state was fitted on.
func (s *State) Key() string { return s.key }

// InputDim returns the raw tensor length.
func (s *State) InputDim() int { return s.d }

// Dim returns the reduced vector length.
func (s *State) Dim() int {
	if s.components == nil {
		return s.d
	}
	_, k := s.components.Dims()
	return k
}

// Projected reports whether vectors were projected onto components.
func (s *State) Projected() bool { return s.components != nil }

// Variances returns the variance captured by each kept component.
func (s *State) Variances() []float64 {
	return append([]float64(nil), s.variances...)
}

// FitAndReduce fits standardization and PCA on the corpus and returns the
// reduced vectors in input order.
func FitAndReduce(tensors []*walnut.FeatureTensor, params Params) (*State, []Reduced, error) {
	if len(tensors) == 0 {
		return nil, nil, ErrEmptyCorpus
	}
	if err := params.Validate(); err != nil {
		return nil, nil, err
	}
	d := tensors[0].Len()
	if d == 0 {
		return nil, nil, fmt.Errorf("walnut %s: %w", tensors[0].ID, ErrLengthMismatch)
	}
	seen := make(map[string]bool, len(tensors))
	for _, t := range tensors {
		if t.Len() != d {
			return nil, nil, fmt.Errorf("walnut %s has %d features, want %d: %w", t.ID, t.Len(), d, ErrLengthMismatch)
		}
		if seen[t.ID] {
			return nil, nil, fmt.Errorf("%s: %w", t.ID, ErrDuplicateID)
		}
		seen[t.ID] = true
	}

	n := len(tensors)
	s := &State{
		key:    membershipKey(tensors, params),
		params: params,
		n:      n,
		d:      d,
		mean:   make([]float64, d),
		scale:  make([]float64, d),
	}

	col := make([]float64, n)
	for j := 0; j < d; j++ {
		for i, t := range tensors {
			col[i] = t.Values[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.mean[j] = mean
		s.scale[j] = std
	}

	x := s.standardize(tensors)

	k := min(params.Components, n-1, d)
	if params.PCA && k >= 1 {
		if err := s.fitPCA(x, k); err != nil {
			return nil, nil, err
		}
	}

	return s, s.project(tensors, x), nil
}

// Reduce applies the fitted state to the same corpus it was fitted on.
func (s *State) Reduce(tensors []*walnut.FeatureTensor) ([]Reduced, error) {
	if membershipKey(tensors, s.params) != s.key {
		return nil, ErrStaleState
	}
	return s.project(tensors, s.standardize(tensors)), nil
}

func (s *State) standardize(tensors []*walnut.FeatureTensor) *mat.Dense {
	x := mat.NewDense(len(tensors), s.d, nil)
	for i, t := range tensors {
		for j, v := range t.Values {
			x.Set(i, j, (v-s.mean[j])/s.scale[j])
		}
	}
	return x
}

func (s *State) fitPCA(x *mat.Dense, k int) error {
	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return fmt.Errorf("principal component analysis failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)

	comps := mat.DenseCopyOf(vecs.Slice(0, s.d, 0, k))
	for c := 0; c < k; c++ {
		best, bestAbs := 0.0, -1.0
		for r := 0; r < s.d; r++ {
			if v := comps.At(r, c); math.Abs(v) > bestAbs {
				best, bestAbs = v, math.Abs(v)
			}
		}
		if best < 0 {
			for r := 0; r < s.d; r++ {
				comps.Set(r, c, -comps.At(r, c))
			}
		}
	}

	s.components = comps
	s.variances = append([]float64(nil), vars[:k]...)
	return nil
}

func (s *State) project(tensors []*walnut.FeatureTensor, x *mat.Dense) []Reduced {
	out := make([]Reduced, len(tensors))
	if s.components == nil {
		for i, t := range tensors {
			out[i] = Reduced{ID: t.ID, Values: mat.Row(nil, i, x)}
		}
		return out
	}

	var proj mat.Dense
	proj.Mul(x, s.components)
	for i, t := range tensors {
		out[i] = Reduced{ID: t.ID, Values: mat.Row(nil, i, &proj)}
	}
	return out
}

// membershipKey hashes each tensor's id, fingerprint, version and values,
// sorted, together with the parameters. Tensor order does not matter.
func membershipKey(tensors []*walnut.FeatureTensor, params Params) string {
	entries := make([]string, len(tensors))
	buf := make([]byte, 8)
	for i, t := range tensors {
		vh := sha256.New()
		for _, v := range t.Values {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
			vh.Write(buf)
		}
		entries[i] = fmt.Sprintf("%s\x00%s\x00%s\x00%x", t.ID, t.Fingerprint, t.Version, vh.Sum(nil))
	}
	sort.Strings(entries)

	h := sha256.New()
	fmt.Fprintf(h, "pca=%t k=%d\n", params.PCA, params.Components)
	for _, e := range entries {
		h.Write([]byte(e))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
