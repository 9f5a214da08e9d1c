package importance

import (
	"context"
	"math"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/timmatch/internal/domain/covariate"
	"github.com/sawpanic/timmatch/internal/errs"
)

// confounded builds n units where treatment depends only on covariate "a".
func confounded(n int, seed int64) (covariate.Matrix, []bool) {
	rng := rand.New(rand.NewSource(seed))
	a := make([]float64, n)
	b := make([]float64, n)
	c := make([]float64, n)
	treated := make([]bool, n)
	for i := 0; i < n; i++ {
		a[i] = rng.NormFloat64()
		b[i] = rng.NormFloat64()
		c[i] = float64(rng.Intn(2))
		treated[i] = rng.Float64() < 1/(1+math.Exp(-2*a[i]))
	}
	m := covariate.Matrix{
		Specs: []covariate.Spec{
			{Name: "a", Kind: covariate.Continuous},
			{Name: "b", Kind: covariate.Continuous},
			{Name: "c", Kind: covariate.Discrete, Categories: []string{"0", "1"}},
		},
		Values: [][]float64{a, b, c},
	}
	return m, treated
}

func TestDesignOneHot(t *testing.T) {
	m := covariate.Matrix{
		Specs: []covariate.Spec{
			{Name: "x", Kind: covariate.Continuous},
			{Name: "g", Kind: covariate.Discrete, Categories: []string{"a", "b", "c"}},
		},
		Values: [][]float64{{0.5, -1}, {2, float64(covariate.UnseenCategory)}},
	}
	d := newDesign(m)
	assert.Equal(t, 4, d.width)
	assert.Equal(t, [][]int{{0}, {1, 2, 3}}, d.groups)
	assert.Equal(t, []float64{0.5, 0, 0, 1}, d.rows[0])
	// unseen categories have no active indicator
	assert.Equal(t, []float64{-1, 0, 0, 0}, d.rows[1])
}

func TestLogisticSeparatesClasses(t *testing.T) {
	rows := [][]float64{{-2}, {-1}, {-0.5}, {0.5}, {1}, {2}}
	y := []float64{0, 0, 0, 1, 1, 1}
	m, err := fitLogistic(context.Background(), rows, y, 1, 500, 0.5, 0)
	require.NoError(t, err)
	assert.Greater(t, m.w[0], 0.0)
	assert.Less(t, m.logLoss(rows, y), math.Ln2)

	// swapping the only feature with its mirror destroys the signal
	perm := []int{5, 4, 3, 2, 1, 0}
	assert.Greater(t, m.permutedLoss(rows, y, []int{0}, perm), m.logLoss(rows, y))
}

func TestPermutationScorerRanksConfounderFirst(t *testing.T) {
	m, treated := confounded(200, 11)
	scorer := NewPermutationScorer(42, WithWorkers(2))

	scores, err := scorer.Score(context.Background(), m, treated)
	require.NoError(t, err)
	require.Len(t, scores, 3)
	for _, s := range scores {
		assert.GreaterOrEqual(t, s, 0.0)
	}
	assert.Greater(t, scores[0], scores[1])
	assert.Greater(t, scores[0], scores[2])

	r, err := Rank([]string{"a", "b", "c"}, scores)
	require.NoError(t, err)
	assert.Equal(t, "a", r[0].Name)
}

func TestPermutationScorerDeterministic(t *testing.T) {
	m, treated := confounded(120, 3)
	first, err := NewPermutationScorer(7, WithWorkers(1)).Score(context.Background(), m, treated)
	require.NoError(t, err)
	second, err := NewPermutationScorer(7, WithWorkers(4)).Score(context.Background(), m, treated)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPermutationScorerRejectsBadInput(t *testing.T) {
	m, treated := confounded(10, 1)
	_, err := NewPermutationScorer(1).Score(context.Background(), m, treated[:5])
	assert.Error(t, err)

	_, err = NewPermutationScorer(1, WithRepeats(0)).Score(context.Background(), m, treated)
	assert.Error(t, err)
}

func TestRidgeScorerRanksConfounderFirst(t *testing.T) {
	m, treated := confounded(200, 5)
	scores, err := NewRidgeScorer(1).Score(context.Background(), m, treated)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, scores[0], 1e-12)
	assert.Less(t, scores[1], 1.0)
	assert.Less(t, scores[2], 1.0)
	for _, s := range scores {
		assert.GreaterOrEqual(t, s, 0.0)
	}

	_, err = NewRidgeScorer(0).Score(context.Background(), m, treated)
	assert.Error(t, err)
}

// cancelAfter reports cancellation once Err has been called more than n times.
type cancelAfter struct {
	context.Context
	left atomic.Int64
}

func newCancelAfter(n int64) *cancelAfter {
	c := &cancelAfter{Context: context.Background()}
	c.left.Store(n)
	return c
}

func (c *cancelAfter) Err() error {
	if c.left.Add(-1) < 0 {
		return context.Canceled
	}
	return nil
}

func TestFitLogisticStopsWhenCancelled(t *testing.T) {
	rows := [][]float64{{-1}, {1}}
	y := []float64{0, 1}
	_, err := fitLogistic(newCancelAfter(10), rows, y, 1, math.MaxInt, 0.1, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPermutationScorerHonoursDeadline(t *testing.T) {
	m, treated := confounded(200, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewPermutationScorer(1, WithEpochs(math.MaxInt)).Score(ctx, m, treated)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// withOutcome builds n units where a drives treatment and outcome, o drives
// only the outcome and b is noise.
func withOutcome(n int, seed int64) (covariate.Matrix, []bool, []float64) {
	rng := rand.New(rand.NewSource(seed))
	a := make([]float64, n)
	o := make([]float64, n)
	b := make([]float64, n)
	y := make([]float64, n)
	treated := make([]bool, n)
	for i := 0; i < n; i++ {
		a[i] = rng.NormFloat64()
		o[i] = rng.NormFloat64()
		b[i] = rng.NormFloat64()
		treated[i] = rng.Float64() < 1/(1+math.Exp(-2*a[i]))
		var t float64
		if treated[i] {
			t = 1
		}
		y[i] = 2*t + a[i] + 1.5*o[i] + 0.3*rng.NormFloat64()
	}
	m := covariate.Matrix{
		Specs: []covariate.Spec{
			{Name: "a", Kind: covariate.Continuous},
			{Name: "o", Kind: covariate.Continuous},
			{Name: "b", Kind: covariate.Continuous},
		},
		Values: [][]float64{a, o, b},
	}
	return m, treated, y
}

func TestConfounderScorerCreditsOutcomePredictors(t *testing.T) {
	m, treated, y := withOutcome(400, 17)
	scores, err := NewConfounderScorer(y, 1).Score(context.Background(), m, treated)
	require.NoError(t, err)
	require.Len(t, scores, 3)

	assert.InDelta(t, 1.0, max(scores[0], scores[1]), 1e-12)
	assert.Greater(t, scores[1], scores[2], "outcome-only covariate outranks noise")
	assert.Greater(t, scores[0], scores[2])

	// a treatment-only scorer cannot see o
	ridge, err := NewRidgeScorer(1).Score(context.Background(), m, treated)
	require.NoError(t, err)
	assert.Greater(t, scores[1], ridge[1])

	again, err := NewConfounderScorer(y, 1).Score(context.Background(), m, treated)
	require.NoError(t, err)
	assert.Equal(t, scores, again)
}

func TestConfounderScorerRejectsBadInput(t *testing.T) {
	m, treated, y := withOutcome(50, 1)
	ctx := context.Background()

	_, err := NewConfounderScorer(y[:10], 1).Score(ctx, m, treated)
	assert.ErrorContains(t, err, "outcomes")

	_, err = NewConfounderScorer(y, 0).Score(ctx, m, treated)
	assert.ErrorContains(t, err, "alpha")

	_, err = NewConfounderScorer(y, 1).Score(ctx, m, treated[:5])
	assert.Error(t, err)
}

func TestStandardized(t *testing.T) {
	z := standardized([]float64{1, 2, 3})
	assert.InDelta(t, 0.0, z[0]+z[1]+z[2], 1e-12)
	assert.InDelta(t, -z[2], z[0], 1e-12)
	assert.Equal(t, []float64{0, 0}, standardized([]float64{4, 4}))
}

func TestRankTiesKeepDeclarationOrder(t *testing.T) {
	r, err := Rank([]string{"x", "y", "z", "w"}, []float64{0.5, 1, 0.5, 0})
	require.NoError(t, err)
	assert.Equal(t, []string{"y", "x", "z", "w"}, r.Names())
	assert.Equal(t, []int{1, 0, 2, 3}, r.Order())
	assert.Equal(t, []float64{0.5, 1, 0.5, 0}, r.Scores())

	zero, err := Rank([]string{"p", "q", "r"}, []float64{0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, []string{"p", "q", "r"}, zero.Names())
}

func TestRankRejectsContractViolations(t *testing.T) {
	for name, scores := range map[string][]float64{
		"negative":   {1, -0.1},
		"nan":        {math.NaN(), 1},
		"infinite":   {math.Inf(1), 1},
		"wrong size": {1},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Rank([]string{"a", "b"}, scores)
			require.Error(t, err)
			assert.True(t, errs.IsEstimation(err))
		})
	}
}

func TestScorerFunc(t *testing.T) {
	var s Scorer = ScorerFunc(func(_ context.Context, m covariate.Matrix, _ []bool) ([]float64, error) {
		return make([]float64, m.Cols()), nil
	})
	m, treated := confounded(5, 1)
	scores, err := s.Score(context.Background(), m, treated)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, scores)
}
