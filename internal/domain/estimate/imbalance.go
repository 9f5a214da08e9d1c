package estimate

import (
	"math"
	"sort"
)

// imbalanceBefore compares raw treated and control cell frequencies.
func imbalanceBefore(cells []int32, treated []bool) float64 {
	t := make(map[int32]float64)
	c := make(map[int32]float64)
	for u, cell := range cells {
		if treated[u] {
			t[cell]++
		} else {
			c[cell]++
		}
	}
	return l1(t, c)
}

// imbalanceAfter compares matched treated units, each with weight 1, against
// controls weighted by the total weight they received as partners.
func imbalanceAfter(cells []int32, treatedGroups []Group) float64 {
	t := make(map[int32]float64)
	c := make(map[int32]float64)
	for _, g := range treatedGroups {
		t[cells[g.Unit]]++
		for i, p := range g.Partners {
			c[cells[p]] += g.Weights[i]
		}
	}
	return l1(t, c)
}

// l1 is half the summed absolute difference of the two normalized
// histograms. An empty side counts as complete separation.
func l1(a, b map[int32]float64) float64 {
	ta, tb := total(a), total(b)
	if ta == 0 || tb == 0 {
		return 1
	}
	keys := make([]int32, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	// fixed summation order keeps the result reproducible
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var d float64
	for _, k := range keys {
		d += math.Abs(a[k]/ta - b[k]/tb)
	}
	return d / 2
}

func total(m map[int32]float64) float64 {
	keys := make([]int32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	var s float64
	for _, k := range keys {
		s += m[k]
	}
	return s
}
