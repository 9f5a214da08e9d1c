package distance

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/timmatch/internal/domain/covariate"
)

func mixedMatrix(n int, seed int64) covariate.Matrix {
	rng := rand.New(rand.NewSource(seed))
	x := make([]float64, n)
	g := make([]float64, n)
	h := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = rng.NormFloat64()
		g[i] = float64(rng.Intn(3))
		h[i] = float64(rng.Intn(2))
	}
	return covariate.Matrix{
		Specs: []covariate.Spec{
			{Name: "x", Kind: covariate.Continuous},
			{Name: "g", Kind: covariate.Discrete, Categories: []string{"a", "b", "c"}},
			{Name: "h", Kind: covariate.Discrete, Categories: []string{"x", "y"}},
		},
		Values: [][]float64{x, g, h},
	}
}

func TestMetricProperties(t *testing.T) {
	m := mixedMatrix(40, 1)
	scores := []float64{0.6, 0.3, 0.1}
	for name, opts := range map[string][]Option{
		"sum/indicator":       nil,
		"euclidean/indicator": {WithCombine(Euclidean)},
		"sum/crosstab":        {WithDiscreteTerm(Crosstab)},
		"euclidean/crosstab":  {WithCombine(Euclidean), WithDiscreteTerm(Crosstab)},
	} {
		t.Run(name, func(t *testing.T) {
			dm, err := New(m, scores, opts...)
			require.NoError(t, err)
			for u := 0; u < m.Rows(); u++ {
				assert.Zero(t, dm.Between(u, u))
				for v := u + 1; v < m.Rows(); v++ {
					d := dm.Between(u, v)
					assert.GreaterOrEqual(t, d, 0.0)
					assert.Equal(t, d, dm.Between(v, u))
				}
			}
		})
	}
}

func TestWeightedSumAndEuclidean(t *testing.T) {
	m := covariate.Matrix{
		Specs: []covariate.Spec{
			{Name: "x", Kind: covariate.Continuous},
			{Name: "g", Kind: covariate.Discrete, Categories: []string{"a", "b"}},
		},
		Values: [][]float64{{0, 2}, {0, 1}},
	}
	sum, err := New(m, []float64{3, 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.75, 0.25}, sum.CovariateWeights())
	assert.InDelta(t, 0.75*2+0.25*1, sum.Between(0, 1), 1e-12)

	euc, err := New(m, []float64{3, 1}, WithCombine(Euclidean))
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(0.75*4+0.25*1), euc.Between(0, 1), 1e-12)

	assert.Equal(t, []float64{sum.Between(0, 1), 0}, sum.To(0, []int{1, 0}))
}

func TestZeroScoresGiveUniformWeights(t *testing.T) {
	assert.Equal(t, []float64{0.25, 0.25, 0.25, 0.25}, Weights([]float64{0, 0, 0, 0}))
	assert.Empty(t, Weights(nil))
}

func TestCrosstabTerm(t *testing.T) {
	// P(h|g=a) = (1, 0) and P(h|g=b) = (.5, .5): distance 0.5
	// P(g|h=x) = (2/3, 1/3) and P(g|h=y) = (0, 1): distance 2/3
	m := covariate.Matrix{
		Specs: []covariate.Spec{
			{Name: "g", Kind: covariate.Discrete, Categories: []string{"a", "b"}},
			{Name: "h", Kind: covariate.Discrete, Categories: []string{"x", "y"}},
		},
		Values: [][]float64{{0, 0, 1, 1}, {0, 0, 0, 1}},
	}
	dm, err := New(m, []float64{1, 1}, WithDiscreteTerm(Crosstab))
	require.NoError(t, err)
	assert.InDelta(t, 0.5*0.5+0.5*2.0/3.0, dm.Between(0, 3), 1e-12)
	assert.InDelta(t, 0.5*0.5, dm.Between(0, 2), 1e-12)

	ind, err := New(m, []float64{1, 1})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, ind.Between(0, 3), 1e-12)
}

func TestCrosstabFallsBackToIndicator(t *testing.T) {
	m := covariate.Matrix{
		Specs: []covariate.Spec{
			{Name: "x", Kind: covariate.Continuous},
			{Name: "g", Kind: covariate.Discrete, Categories: []string{"a", "b"}},
		},
		Values: [][]float64{{1, 1}, {0, 1}},
	}
	dm, err := New(m, []float64{0, 1}, WithDiscreteTerm(Crosstab))
	require.NoError(t, err)
	assert.Equal(t, 1.0, dm.Between(0, 1))
}

func TestNewRejectsBadScores(t *testing.T) {
	m := mixedMatrix(5, 2)
	_, err := New(m, []float64{1, 1})
	assert.Error(t, err)
	_, err = New(m, []float64{1, -1, 1})
	assert.Error(t, err)
	_, err = New(m, []float64{1, math.NaN(), 1})
	assert.Error(t, err)
}
