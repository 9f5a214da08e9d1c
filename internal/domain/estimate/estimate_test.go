package estimate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/timmatch/internal/errs"
)

func fixture() Input {
	return Input{
		Outcome: []float64{5, 1, 7, 2, 3},
		Treated: []bool{true, false, true, false, false},
		Groups: []Group{
			{Unit: 0, Treated: true, Level: 1, Partners: []int{1, 3}, Weights: []float64{0.5, 0.5}},
			{Unit: 1, Treated: false, Level: 0, Partners: []int{0}, Weights: []float64{1}},
			{Unit: 2, Treated: true, Level: 0, Partners: []int{3}, Weights: []float64{1}},
			{Unit: 3, Treated: false, Level: 1, Partners: []int{0, 2}, Weights: []float64{0.5, 0.5}},
		},
		Unmatched: []Unmatched{{Unit: 4, Treated: false, Reason: errs.NoViableStratum}},
		Cells:     []int32{0, 1, 0, 0, 2},
		Subgroups: []string{"r=a", "r=a", "r=b", "r=b", "r=b"},
		Levels:    2,
	}
}

func TestEstimateEffects(t *testing.T) {
	res, err := Estimate(fixture())
	require.NoError(t, err)

	// treated effects 3.5 (reliability 2) and 5 (reliability 1)
	assert.InDelta(t, 4.25, res.ATT.Estimate, 1e-12)
	assert.InDelta(t, math.Sqrt(0.703125), res.ATT.StdErr, 1e-12)
	assert.Equal(t, 2, res.ATT.Units)
	assert.InDelta(t, 1.8, res.ATT.EffectiveN, 1e-12)

	assert.InDelta(t, 4.0, res.ATC.Estimate, 1e-12)
	assert.Zero(t, res.ATC.StdErr)

	assert.InDelta(t, 4.125, res.ATE.Estimate, 1e-12)
	assert.InDelta(t, math.Sqrt(0.25*0.703125), res.ATE.StdErr, 1e-12)
	assert.Equal(t, 4, res.ATE.Units)
}

func TestEstimateDiagnostics(t *testing.T) {
	res, err := Estimate(fixture())
	require.NoError(t, err)

	assert.Equal(t, Arm{Total: 2, Matched: 2, Unmatched: 0, Levels: []int{1, 1}}, res.Treated)
	assert.Equal(t, Arm{Total: 3, Matched: 2, Unmatched: 1, Levels: []int{1, 1}}, res.Control)
	assert.Equal(t, 1.0, res.Retention)
	assert.Equal(t, map[errs.Reason]int{errs.NoViableStratum: 1}, res.Reasons)

	assert.InDelta(t, 2.0/3.0, res.Imbalance.Before, 1e-12)
	assert.InDelta(t, 0.25, res.Imbalance.After, 1e-12)
}

func TestEstimateCATE(t *testing.T) {
	res, err := Estimate(fixture())
	require.NoError(t, err)
	require.Len(t, res.CATE, 2)

	a, b := res.CATE[0], res.CATE[1]
	assert.Equal(t, "r=a", a.Label)
	assert.InDelta(t, 3.5, a.ATT.Estimate, 1e-12)
	assert.InDelta(t, 4.0, a.ATC.Estimate, 1e-12)
	assert.InDelta(t, 3.75, a.ATE.Estimate, 1e-12)
	// a single unit has no spread to estimate
	assert.Zero(t, a.ATT.StdErr)

	assert.Equal(t, "r=b", b.Label)
	assert.InDelta(t, 4.5, b.ATE.Estimate, 1e-12)
}

func TestEstimateWithoutOptionalInputs(t *testing.T) {
	in := fixture()
	in.Subgroups = nil
	in.Cells = nil
	res, err := Estimate(in)
	require.NoError(t, err)
	assert.Nil(t, res.CATE)
	assert.Zero(t, res.Imbalance)
}

func TestEstimateFailsWithoutMatchedTreated(t *testing.T) {
	in := fixture()
	in.Groups = []Group{in.Groups[1], in.Groups[3]}
	_, err := Estimate(in)
	require.Error(t, err)
	assert.True(t, errs.IsEstimation(err))
}

func TestATTOnlyWhenNoControlMatched(t *testing.T) {
	in := fixture()
	in.Groups = []Group{in.Groups[0], in.Groups[2]}
	res, err := Estimate(in)
	require.NoError(t, err)
	assert.Zero(t, res.ATC.Units)
	assert.InDelta(t, res.ATT.Estimate, res.ATE.Estimate, 1e-12)
}

func TestWeigh(t *testing.T) {
	w := Weigh([]float64{0, 1, 4}, 0.5)
	// raw weights 2, 1, 0.25
	assert.InDeltaSlice(t, []float64{2 / 3.25, 1 / 3.25, 0.25 / 3.25}, w, 1e-12)

	same := Weigh([]float64{0.2, 0.2, 0.2, 0.2}, DefaultFloor)
	assert.InDeltaSlice(t, []float64{0.25, 0.25, 0.25, 0.25}, same, 1e-12)

	exact := Weigh([]float64{0, 0}, 0)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, exact, 1e-12)

	var sum float64
	for _, v := range Weigh([]float64{0.01, 3, 7, 0.3, 2.5}, DefaultFloor) {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
}

func TestGroupEffectSign(t *testing.T) {
	outcome := []float64{10, 4, 6}
	treated := Group{Unit: 0, Treated: true, Partners: []int{1, 2}, Weights: []float64{0.25, 0.75}}
	control := Group{Unit: 1, Treated: false, Partners: []int{0}, Weights: []float64{1}}
	assert.InDelta(t, 5.5, treated.Counterfactual(outcome), 1e-12)
	assert.InDelta(t, 4.5, treated.Effect(outcome), 1e-12)
	assert.InDelta(t, 6.0, control.Effect(outcome), 1e-12)
	assert.InDelta(t, 1/(0.0625+0.5625), treated.Reliability(), 1e-12)
}
