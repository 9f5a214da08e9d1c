// Package distance computes the importance-weighted dissimilarity between two
// units over all covariates, continuous and discrete alike.
package distance

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/sawpanic/timmatch/internal/domain/covariate"
)

// Combine selects how per-covariate terms are aggregated.
type Combine int

const (
	// WeightedSum is sum_j w_j * t_j.
	WeightedSum Combine = iota
	// Euclidean is sqrt(sum_j w_j * t_j^2).
	Euclidean
)

// DiscreteTerm selects the per-covariate term of a discrete covariate.
type DiscreteTerm int

const (
	// Indicator is 0 for equal categories and 1 otherwise.
	Indicator DiscreteTerm = iota
	// Crosstab is the mean total-variation distance between the distributions
	// of the other discrete covariates conditional on each category.
	Crosstab
)

// Option configures a Metric.
type Option func(*Metric)

// WithCombine sets the aggregation of per-covariate terms.
func WithCombine(c Combine) Option { return func(m *Metric) { m.combine = c } }

// WithDiscreteTerm sets the discrete per-covariate term.
func WithDiscreteTerm(t DiscreteTerm) Option { return func(m *Metric) { m.discrete = t } }

// Metric is an immutable unit-to-unit distance over a covariate matrix. It is
// safe for concurrent use.
type Metric struct {
	values   [][]float64
	kinds    []covariate.Kind
	weights  []float64
	combine  Combine
	discrete DiscreteTerm

	// tables[j][a][b] is the crosstab distance between categories a and b of
	// discrete covariate j; nil when the indicator applies.
	tables [][][]float64
}

// New builds a metric over m whose per-covariate weights are the importance
// scores normalized to sum 1. All-zero scores give uniform weights.
func New(m covariate.Matrix, scores []float64, opts ...Option) (*Metric, error) {
	p := m.Cols()
	if len(scores) != p {
		return nil, fmt.Errorf("distance: %d scores for %d covariates", len(scores), p)
	}
	if len(m.Values) != p {
		return nil, fmt.Errorf("distance: %d value columns for %d covariates", len(m.Values), p)
	}
	for j, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 {
			return nil, fmt.Errorf("distance: score %d must be finite and nonnegative, got %v", j, s)
		}
	}

	dm := &Metric{
		values:  m.Values,
		kinds:   make([]covariate.Kind, p),
		weights: Weights(scores),
	}
	for j, spec := range m.Specs {
		dm.kinds[j] = spec.Kind
	}
	for _, o := range opts {
		o(dm)
	}
	if dm.discrete == Crosstab {
		dm.tables = crosstabs(m)
	}
	return dm, nil
}

// Weights normalizes scores to sum 1, or returns uniform weights when every
// score is zero.
func Weights(scores []float64) []float64 {
	w := append([]float64(nil), scores...)
	if len(w) == 0 {
		return w
	}
	total := floats.Sum(w)
	if total <= 0 {
		for j := range w {
			w[j] = 1 / float64(len(w))
		}
		return w
	}
	floats.Scale(1/total, w)
	return w
}

// CovariateWeights returns a copy of the normalized covariate weights.
func (m *Metric) CovariateWeights() []float64 {
	return append([]float64(nil), m.weights...)
}

// Between returns the distance between units u and v.
func (m *Metric) Between(u, v int) float64 {
	var d float64
	for j, w := range m.weights {
		if w == 0 {
			continue
		}
		t := m.term(j, u, v)
		if m.combine == Euclidean {
			d += w * t * t
		} else {
			d += w * t
		}
	}
	if m.combine == Euclidean {
		return math.Sqrt(d)
	}
	return d
}

// To returns the distances from unit u to each of units.
func (m *Metric) To(u int, units []int) []float64 {
	out := make([]float64, len(units))
	for i, v := range units {
		out[i] = m.Between(u, v)
	}
	return out
}

func (m *Metric) term(j, u, v int) float64 {
	a, b := m.values[j][u], m.values[j][v]
	if m.kinds[j] == covariate.Continuous {
		return math.Abs(a - b)
	}
	if a == b {
		return 0
	}
	if m.tables != nil && m.tables[j] != nil {
		ca, cb := int(a), int(b)
		t := m.tables[j]
		if ca >= 0 && cb >= 0 && ca < len(t) && cb < len(t) {
			return t[ca][cb]
		}
	}
	return 1
}

// crosstabs returns, for each discrete covariate, the pairwise category
// distance table, or nil for continuous covariates and when there is no
// other discrete covariate to condition on.
func crosstabs(m covariate.Matrix) [][][]float64 {
	var discrete []int
	for j, spec := range m.Specs {
		if spec.Kind == covariate.Discrete {
			discrete = append(discrete, j)
		}
	}
	tables := make([][][]float64, m.Cols())
	if len(discrete) < 2 {
		return tables
	}

	for _, j := range discrete {
		kj := len(m.Specs[j].Categories)
		table := make([][]float64, kj)
		for a := range table {
			table[a] = make([]float64, kj)
		}
		for _, l := range discrete {
			if l == j {
				continue
			}
			cond := conditional(m.Values[j], m.Values[l], kj, len(m.Specs[l].Categories))
			for a := 0; a < kj; a++ {
				for b := a + 1; b < kj; b++ {
					tv := totalVariation(cond[a], cond[b])
					table[a][b] += tv
					table[b][a] += tv
				}
			}
		}
		others := float64(len(discrete) - 1)
		for a := range table {
			floats.Scale(1/others, table[a])
		}
		tables[j] = table
	}
	return tables
}

// conditional returns P(other = c | this = a) for every category a of this.
// Rows of categories without observations stay zero.
func conditional(this, other []float64, kThis, kOther int) [][]float64 {
	cond := make([][]float64, kThis)
	for a := range cond {
		cond[a] = make([]float64, kOther)
	}
	for i := range this {
		a, c := int(this[i]), int(other[i])
		if a < 0 || c < 0 || a >= kThis || c >= kOther {
			continue
		}
		cond[a][c]++
	}
	for _, row := range cond {
		if total := floats.Sum(row); total > 0 {
			floats.Scale(1/total, row)
		}
	}
	return cond
}

func totalVariation(p, q []float64) float64 {
	var d float64
	for i := range p {
		d += math.Abs(p[i] - q[i])
	}
	return d / 2
}
