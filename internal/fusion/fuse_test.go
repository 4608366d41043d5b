package fusion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walnut-pair/internal/descriptor"
	"walnut-pair/internal/walnut"
)

func testParams() Params {
	p := DefaultParams(2, 3)
	p.ContourDim = 2
	p.Weights = Weights{Size: 1, Color: 1, Contour: 1, Texture: 1}
	return p
}

func view(v float64) ViewFeatures {
	return ViewFeatures{
		Size:    &descriptor.ViewSize{Height: v, Width: v, Girth: v},
		Color:   []float64{v, v},
		Contour: []float64{v, -v},
		Texture: []float64{v, v, v},
	}
}

func TestFuseLengthInvariant(t *testing.T) {
	for _, layout := range []Layout{LayoutPerAngle, LayoutPooled} {
		f, err := New(testParams().WithLayout(layout))
		require.NoError(t, err)

		subsets := []map[walnut.Angle]ViewFeatures{
			{walnut.AngleFront: view(1)},
			{walnut.AngleFront: view(1), walnut.AngleTop: view(2)},
			{walnut.AngleLeft: {Color: []float64{1, 1}}},
		}
		all := map[walnut.Angle]ViewFeatures{}
		for _, a := range walnut.Angles {
			all[a] = view(float64(a) + 1)
		}
		subsets = append(subsets, all)

		for _, views := range subsets {
			ft, err := f.Fuse("w", views)
			require.NoError(t, err)
			assert.Len(t, ft.Values, f.Len(), layout.String())
		}
	}

	p := testParams()
	assert.Equal(t, 3+2+2+3*6, p.Len())
	assert.Equal(t, 3+2+2+3, p.WithLayout(LayoutPooled).Len())
}

func TestFusePerAngleZeroFill(t *testing.T) {
	f, err := New(testParams())
	require.NoError(t, err)

	ft, err := f.Fuse("w", map[walnut.Angle]ViewFeatures{
		walnut.AngleFront: view(1),
		walnut.AngleRight: view(2),
	})
	require.NoError(t, err)
	assert.Equal(t, []walnut.Angle{walnut.AngleFront, walnut.AngleRight}, ft.Angles)
	assert.Equal(t, "w", ft.ID)

	tex := ft.Values[7:]
	block := func(a walnut.Angle) []float64 { return tex[int(a)*3 : int(a)*3+3] }
	assert.Equal(t, []float64{1, 1, 1}, block(walnut.AngleFront))
	assert.Equal(t, []float64{0, 0, 0}, block(walnut.AngleBack))
	assert.Equal(t, []float64{0, 0, 0}, block(walnut.AngleLeft))
	assert.Equal(t, []float64{2, 2, 2}, block(walnut.AngleRight))
	assert.Equal(t, []float64{0, 0, 0}, block(walnut.AngleDown))
}

func TestFuseWeights(t *testing.T) {
	p := testParams()
	p.Weights = Weights{Size: 0, Color: 2, Contour: 0.5, Texture: 3}
	p = p.WithAngleWeights(map[walnut.Angle]float64{walnut.AngleBack: 0, walnut.AngleFront: 2})
	f, err := New(p)
	require.NoError(t, err)

	ft, err := f.Fuse("w", map[walnut.Angle]ViewFeatures{
		walnut.AngleFront: view(1),
		walnut.AngleBack:  view(100),
		walnut.AngleLeft:  view(4),
	})
	require.NoError(t, err)

	v := ft.Values
	assert.Equal(t, []float64{0, 0, 0}, v[0:3])
	// Weighted mean of front (w=2) and left (w=1); back is excluded.
	assert.InDelta(t, 2*(2*1+4)/3.0, v[3], 1e-12)
	assert.InDelta(t, 0.5*(2*1+4)/3.0, v[5], 1e-12)
	assert.InDelta(t, 3*2*1.0, v[7], 1e-12)
	assert.Equal(t, 0.0, v[7+3])
	assert.NotContains(t, ft.Angles, walnut.AngleBack)
}

func TestFuseReducers(t *testing.T) {
	views := map[walnut.Angle]ViewFeatures{
		walnut.AngleFront: {Color: []float64{1, 9}},
		walnut.AngleBack:  {Color: []float64{5, 2}},
		walnut.AngleLeft:  {Color: []float64{9, 4}},
	}
	tests := []struct {
		r    Reducer
		want []float64
	}{
		{ReduceMean, []float64{5, 5}},
		{ReduceMax, []float64{9, 9}},
		{ReduceMedian, []float64{5, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.r.String(), func(t *testing.T) {
			f, err := New(testParams().WithReducer(tt.r))
			require.NoError(t, err)
			ft, err := f.Fuse("w", views)
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.want, ft.Values[3:5], 1e-12)
		})
	}
}

func TestWeightedMedian(t *testing.T) {
	col := func(vals, ws []float64) []weighted {
		out := make([]weighted, len(vals))
		for i := range vals {
			out[i] = weighted{vec: []float64{vals[i]}, w: ws[i]}
		}
		return out
	}
	assert.Equal(t, 5.0, weightedMedian(col([]float64{1, 9}, []float64{1, 1})))
	assert.Equal(t, 9.0, weightedMedian(col([]float64{1, 9}, []float64{1, 3})))
	assert.Equal(t, 2.0, weightedMedian(col([]float64{3, 1, 2}, []float64{1, 1, 1})))
}

func TestFuseErrors(t *testing.T) {
	f, err := New(testParams())
	require.NoError(t, err)

	_, err = f.Fuse("w", nil)
	assert.ErrorIs(t, err, ErrNoUsableModality)

	_, err = f.Fuse("w", map[walnut.Angle]ViewFeatures{walnut.AngleTop: {}})
	assert.ErrorIs(t, err, ErrNoUsableModality)

	_, err = f.Fuse("w", map[walnut.Angle]ViewFeatures{walnut.AngleTop: {Color: []float64{1}}})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoUsableModality)

	_, err = New(testParams().WithAngleWeights(map[walnut.Angle]float64{walnut.AngleTop: -1}))
	assert.Error(t, err)
}

func TestValidateRejectsNonFinite(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		p := testParams()
		p.Weights.Color = v
		assert.Error(t, p.Validate(), "weight %g", v)

		p = testParams().WithAngleWeights(map[walnut.Angle]float64{walnut.AngleLeft: v})
		assert.Error(t, p.Validate(), "angle weight %g", v)
	}
	assert.NoError(t, testParams().WithAngleWeights(map[walnut.Angle]float64{walnut.AngleLeft: 0}).Validate())
}

func TestParse(t *testing.T) {
	r, err := ParseReducer("Median")
	require.NoError(t, err)
	assert.Equal(t, ReduceMedian, r)
	_, err = ParseReducer("mode")
	assert.Error(t, err)

	l, err := ParseLayout("pooled")
	require.NoError(t, err)
	assert.Equal(t, LayoutPooled, l)
	_, err = ParseLayout("stacked")
	assert.Error(t, err)
}
