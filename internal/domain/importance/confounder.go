package importance

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/sawpanic/timmatch/internal/domain/covariate"
)

// ConfounderScorer ranks covariates by how strongly they are associated
// with both the outcome and the treatment. Two ridge regressions share the
// one-hot design: the standardized outcome on the covariates plus the
// treatment indicator, and the standardized treatment indicator on the
// covariates alone. A covariate scores the sum of the spreads (standard
// deviations) of its fitted contributions in the two models, normalized so
// the top covariate scores 1.
type ConfounderScorer struct {
	Outcome []float64
	Alpha   float64
}

// NewConfounderScorer returns a scorer for the given outcome column, one
// value per unit in the same order as the treatment labels.
func NewConfounderScorer(outcome []float64, alpha float64) *ConfounderScorer {
	return &ConfounderScorer{Outcome: outcome, Alpha: alpha}
}

// Score implements Scorer.
func (s *ConfounderScorer) Score(ctx context.Context, m covariate.Matrix, treated []bool) ([]float64, error) {
	n := m.Rows()
	if n == 0 || len(treated) != n {
		return nil, fmt.Errorf("confounder scorer: %d rows but %d treatment labels", n, len(treated))
	}
	if len(s.Outcome) != n {
		return nil, fmt.Errorf("confounder scorer: %d rows but %d outcomes", n, len(s.Outcome))
	}
	if s.Alpha <= 0 {
		return nil, fmt.Errorf("confounder scorer: alpha must be positive, got %g", s.Alpha)
	}

	d := newDesign(m)
	t := labels(treated)

	// the treatment column absorbs the effect so it is not credited to covariates
	xOut := centeredDesign(d, t)
	betaOut, err := solveRidge(xOut, standardized(s.Outcome), s.Alpha)
	if err != nil {
		return nil, fmt.Errorf("confounder scorer: outcome model: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("confounder scorer: %w", err)
	}

	xTreat := centeredDesign(d)
	betaTreat, err := solveRidge(xTreat, standardized(t), s.Alpha)
	if err != nil {
		return nil, fmt.Errorf("confounder scorer: treatment model: %w", err)
	}

	outVar := contributionVariance(xOut, betaOut, d.groups)
	treatVar := contributionVariance(xTreat, betaTreat, d.groups)
	scores := make([]float64, m.Cols())
	for j := range scores {
		scores[j] = math.Sqrt(outVar[j]) + math.Sqrt(treatVar[j])
	}
	normalizeByMax(scores)
	return scores, nil
}

// standardized returns y centered and scaled to unit variance. A constant
// column becomes all zeros.
func standardized(y []float64) []float64 {
	mean, std := stat.PopMeanStdDev(y, nil)
	out := make([]float64, len(y))
	if std == 0 || math.IsNaN(std) {
		return out
	}
	for i, v := range y {
		out[i] = (v - mean) / std
	}
	return out
}
