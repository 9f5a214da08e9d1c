// Package importance ranks covariates by how strongly they confound the
// treatment. The ranking decides which covariate the stratification
// engine relaxes first and how much each covariate counts in the unified
// distance.
package importance

import (
	"context"

	"github.com/sawpanic/timmatch/internal/domain/covariate"
)

// Scorer is the pluggable importance capability. Implementations return one
// nonnegative score per covariate of m, comparable across continuous and
// discrete covariates, and must be deterministic for a fixed seed.
type Scorer interface {
	Score(ctx context.Context, m covariate.Matrix, treated []bool) ([]float64, error)
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(ctx context.Context, m covariate.Matrix, treated []bool) ([]float64, error)

// Score calls f.
func (f ScorerFunc) Score(ctx context.Context, m covariate.Matrix, treated []bool) ([]float64, error) {
	return f(ctx, m, treated)
}
