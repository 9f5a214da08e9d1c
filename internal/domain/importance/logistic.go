package importance

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"
)

// logistic is an L2-regularized logistic regression of treatment on the
// design, fitted by full-batch gradient descent from zero weights. Having no
// random initialisation keeps the fit deterministic. The loop stops with
// ctx.Err() once ctx is done.
type logistic struct {
	w []float64
	b float64
}

const probEps = 1e-12

func fitLogistic(ctx context.Context, rows [][]float64, y []float64, width, epochs int, lr, l2 float64) (*logistic, error) {
	m := &logistic{w: make([]float64, width)}
	n := float64(len(rows))
	grad := make([]float64, width)
	for epoch := 0; epoch < epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for f := range grad {
			grad[f] = 0
		}
		var gradB float64
		for i, x := range rows {
			r := sigmoid(floats.Dot(m.w, x)+m.b) - y[i]
			floats.AddScaled(grad, r, x)
			gradB += r
		}
		floats.Scale(1/n, grad)
		floats.AddScaled(grad, l2, m.w)
		floats.AddScaled(m.w, -lr, grad)
		m.b -= lr * gradB / n
	}
	return m, nil
}

// logLoss is the mean negative log-likelihood on rows.
func (m *logistic) logLoss(rows [][]float64, y []float64) float64 {
	var loss float64
	for i, x := range rows {
		loss += pointLoss(sigmoid(floats.Dot(m.w, x)+m.b), y[i])
	}
	return loss / float64(len(rows))
}

// permutedLoss is logLoss with the features of one covariate taken from row
// perm[i] instead of row i.
func (m *logistic) permutedLoss(rows [][]float64, y []float64, group []int, perm []int) float64 {
	var loss float64
	for i, x := range rows {
		z := floats.Dot(m.w, x) + m.b
		donor := rows[perm[i]]
		for _, f := range group {
			z += m.w[f] * (donor[f] - x[f])
		}
		loss += pointLoss(sigmoid(z), y[i])
	}
	return loss / float64(len(rows))
}

func pointLoss(p, y float64) float64 {
	p = math.Min(math.Max(p, probEps), 1-probEps)
	return -(y*math.Log(p) + (1-y)*math.Log(1-p))
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
