package importance

import (
	"math"
	"sort"

	"github.com/sawpanic/timmatch/internal/errs"
)

// Entry is one ranked covariate.
type Entry struct {
	Name  string  `json:"name"`
	Index int     `json:"index"` // declaration position of the covariate
	Score float64 `json:"score"`
}

// Ranking lists covariates by descending importance. It is a permutation of
// all covariates; equal scores keep declaration order.
type Ranking []Entry

// Rank validates scores against the scorer contract and orders covariates.
func Rank(names []string, scores []float64) (Ranking, error) {
	if len(scores) != len(names) {
		return nil, errs.Estimationf("importance scorer returned %d scores for %d covariates", len(scores), len(names))
	}
	r := make(Ranking, len(names))
	for j, name := range names {
		s := scores[j]
		if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 {
			return nil, errs.Estimationf("importance score for %q must be finite and nonnegative, got %v", name, s)
		}
		r[j] = Entry{Name: name, Index: j, Score: s}
	}
	sort.SliceStable(r, func(a, b int) bool { return r[a].Score > r[b].Score })
	return r, nil
}

// Order returns covariate declaration indices, most important first.
func (r Ranking) Order() []int {
	out := make([]int, len(r))
	for i, e := range r {
		out[i] = e.Index
	}
	return out
}

// Scores returns scores indexed by declaration position.
func (r Ranking) Scores() []float64 {
	out := make([]float64, len(r))
	for _, e := range r {
		out[e.Index] = e.Score
	}
	return out
}

// Names returns covariate names, most important first.
func (r Ranking) Names() []string {
	out := make([]string, len(r))
	for i, e := range r {
		out[i] = e.Name
	}
	return out
}
