package strata

import (
	"context"

	"github.com/sawpanic/timmatch/internal/parallel"
)

// Level walks unit u up the relaxation levels and returns the smallest k
// whose stratum is viable. It returns P when no level below P is viable;
// the caller records such a unit as unmatched.
func (ix *Index) Level(u int) int {
	p := len(ix.order)
	for k := 0; k < p; k++ {
		if ix.Viable(u, k) {
			return k
		}
	}
	return p
}

// Matched reports whether a level returned by Level or Resolve is a match.
func (ix *Index) Matched(level int) bool {
	return level < len(ix.order)
}

// Resolve returns Level(u) for every unit in units, computed on a bounded
// worker pool. Each unit's level depends only on the index, so the result is
// independent of scheduling.
func (ix *Index) Resolve(ctx context.Context, units []int, workers int) ([]int, error) {
	levels := make([]int, len(units))
	err := parallel.ForEach(ctx, len(units), workers, func(i int) error {
		levels[i] = ix.Level(units[i])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return levels, nil
}

// Arm returns the treated (true) or control (false) units in ascending order.
func (ix *Index) Arm(treated bool) []int {
	var out []int
	for u, t := range ix.treated {
		if t == treated {
			out = append(out, u)
		}
	}
	return out
}

// Histogram counts matched units per level; index k holds the count at
// level k for k in [0, P). Unmatched levels are skipped.
func (ix *Index) Histogram(levels []int) []int {
	h := make([]int, len(ix.order))
	for _, k := range levels {
		if ix.Matched(k) {
			h[k]++
		}
	}
	return h
}
