package estimate

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// DefaultFloor bounds inverse-distance weights for exact-profile partners.
const DefaultFloor = 1e-3

// Weigh converts partner distances into normalized inverse-distance
// weights: w_i = 1/max(d_i, floor), scaled to sum 1. A non-positive floor
// is replaced by DefaultFloor.
func Weigh(distances []float64, floor float64) []float64 {
	if floor <= 0 {
		floor = DefaultFloor
	}
	w := make([]float64, len(distances))
	for i, d := range distances {
		w[i] = 1 / math.Max(d, floor)
	}
	if total := floats.Sum(w); total > 0 {
		floats.Scale(1/total, w)
	}
	return w
}

// Counterfactual is the weighted mean outcome of the group's partners.
func (g Group) Counterfactual(outcome []float64) float64 {
	var cf float64
	for i, p := range g.Partners {
		cf += g.Weights[i] * outcome[p]
	}
	return cf
}

// Effect is the focal unit's individual effect: y - cf for a treated unit,
// cf - y for a control unit.
func (g Group) Effect(outcome []float64) float64 {
	cf := g.Counterfactual(outcome)
	if g.Treated {
		return outcome[g.Unit] - cf
	}
	return cf - outcome[g.Unit]
}

// Reliability is the Kish effective partner count 1/sum(w^2), used as the
// unit's weight in standard errors.
func (g Group) Reliability() float64 {
	ss := floats.Dot(g.Weights, g.Weights)
	if ss == 0 {
		return 0
	}
	return 1 / ss
}
