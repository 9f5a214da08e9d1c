package importance

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/sawpanic/timmatch/internal/domain/covariate"
)

// RidgeScorer fits a ridge linear-probability model of treatment on the
// centered design and scores each covariate by the variance of its fitted
// contribution across units, normalized so the top covariate scores 1.
// Contribution variance rather than raw coefficients keeps one-hot groups
// and z-scored columns on the same scale.
type RidgeScorer struct {
	Alpha float64
}

// NewRidgeScorer returns a ridge scorer with the given penalty.
func NewRidgeScorer(alpha float64) *RidgeScorer {
	return &RidgeScorer{Alpha: alpha}
}

// Score implements Scorer. The fit has no random component.
func (s *RidgeScorer) Score(ctx context.Context, m covariate.Matrix, treated []bool) ([]float64, error) {
	n := m.Rows()
	if n == 0 || len(treated) != n {
		return nil, fmt.Errorf("ridge scorer: %d rows but %d treatment labels", n, len(treated))
	}
	if s.Alpha <= 0 {
		return nil, fmt.Errorf("ridge scorer: alpha must be positive, got %g", s.Alpha)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ridge scorer: %w", err)
	}

	d := newDesign(m)
	x := centeredDesign(d)
	beta, err := solveRidge(x, labels(treated), s.Alpha)
	if err != nil {
		return nil, fmt.Errorf("ridge scorer: %w", err)
	}
	scores := contributionVariance(x, beta, d.groups)
	normalizeByMax(scores)
	return scores, nil
}

// centeredDesign copies the design into a dense matrix, appends any extra
// columns after the covariate features and centers every column.
func centeredDesign(d design, extra ...[]float64) *mat.Dense {
	n := len(d.rows)
	width := d.width + len(extra)
	x := mat.NewDense(n, width, nil)
	for i, row := range d.rows {
		for f, v := range row {
			x.Set(i, f, v)
		}
		for k, col := range extra {
			x.Set(i, d.width+k, col[i])
		}
	}
	for f := 0; f < width; f++ {
		col := mat.Col(nil, f, x)
		mean := stat.Mean(col, nil)
		for i := range col {
			x.Set(i, f, col[i]-mean)
		}
	}
	return x
}

// solveRidge solves (XᵀX + αI)β = Xᵀ(y - ȳ) by Cholesky. y is not modified.
func solveRidge(x *mat.Dense, y []float64, alpha float64) (*mat.VecDense, error) {
	n, width := x.Dims()
	yc := make([]float64, n)
	mean := stat.Mean(y, nil)
	for i, v := range y {
		yc[i] = v - mean
	}

	var gram mat.SymDense
	gram.SymOuterK(1, x.T())
	for f := 0; f < width; f++ {
		gram.SetSym(f, f, gram.At(f, f)+alpha)
	}
	var rhs mat.VecDense
	rhs.MulVec(x.T(), mat.NewVecDense(n, yc))

	var chol mat.Cholesky
	if ok := chol.Factorize(&gram); !ok {
		return nil, fmt.Errorf("normal equations are not positive definite")
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &rhs); err != nil {
		return nil, fmt.Errorf("solve failed: %w", err)
	}
	return &beta, nil
}

// contributionVariance is, per covariate, the variance across units of the
// fitted contribution of its feature columns.
func contributionVariance(x *mat.Dense, beta *mat.VecDense, groups [][]int) []float64 {
	n, _ := x.Dims()
	scores := make([]float64, len(groups))
	contrib := make([]float64, n)
	for j, group := range groups {
		for i := 0; i < n; i++ {
			var c float64
			for _, f := range group {
				c += beta.AtVec(f) * x.At(i, f)
			}
			contrib[i] = c
		}
		scores[j] = stat.PopVariance(contrib, nil)
	}
	return scores
}

func normalizeByMax(scores []float64) {
	var top float64
	for _, v := range scores {
		top = max(top, v)
	}
	if top <= 0 {
		return
	}
	for j := range scores {
		scores[j] /= top
	}
}
