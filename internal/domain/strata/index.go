// Package strata implements coarsened exact matching with progressive
// relaxation: a unit is first matched on all coarsened covariates, and while
// its stratum holds no unit of the opposite arm the least important retained
// covariate is dropped.
//
// Strata for every prefix of the importance order are interned up front, so
// resolving a unit is a walk over at most P precomputed ids.
package strata

import (
	"context"
	"fmt"
)

// Index holds the interned strata of every importance-order prefix.
//
// Level k keeps the top P-k covariates. Level 0 is the full coarse profile;
// level P is the empty key, which is never used for matching.
type Index struct {
	n       int
	order   []int
	treated []bool

	// ids[m][u] is the stratum of unit u keyed on the first m covariates of
	// order. ids[0] is all zeros.
	ids      [][]int32
	prefixes []prefix
}

// prefix holds per-stratum arm counts and CSR member lists for one prefix
// length. Members are stored in ascending unit order.
type prefix struct {
	count    int
	treatedN []int32
	controlN []int32

	treatedStart []int32
	treatedUnits []int32
	controlStart []int32
	controlUnits []int32
}

type internKey struct {
	parent int32
	value  int32
}

// Build interns strata for prefix lengths 0..P of order, where P = len(order).
// coarse[j][u] is the coarse value of covariate j for unit u. Stratum ids are
// assigned in order of first appearance, so the index depends only on its
// inputs.
func Build(ctx context.Context, coarse [][]int32, treated []bool, order []int) (*Index, error) {
	n := len(treated)
	p := len(order)
	seen := make(map[int]bool, p)
	for _, j := range order {
		if j < 0 || j >= len(coarse) {
			return nil, fmt.Errorf("strata: covariate %d out of range", j)
		}
		if seen[j] {
			return nil, fmt.Errorf("strata: covariate %d repeated in order", j)
		}
		seen[j] = true
		if len(coarse[j]) != n {
			return nil, fmt.Errorf("strata: covariate %d has %d rows, expected %d", j, len(coarse[j]), n)
		}
	}

	ix := &Index{
		n:        n,
		order:    append([]int(nil), order...),
		treated:  treated,
		ids:      make([][]int32, p+1),
		prefixes: make([]prefix, p+1),
	}
	ix.ids[0] = make([]int32, n)
	ix.prefixes[0] = newPrefix(ix.ids[0], 1, treated)

	for m := 1; m <= p; m++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		parent := ix.ids[m-1]
		col := coarse[order[m-1]]
		ids := make([]int32, n)
		intern := make(map[internKey]int32)
		for u := 0; u < n; u++ {
			k := internKey{parent: parent[u], value: col[u]}
			id, ok := intern[k]
			if !ok {
				id = int32(len(intern))
				intern[k] = id
			}
			ids[u] = id
		}
		ix.ids[m] = ids
		ix.prefixes[m] = newPrefix(ids, len(intern), treated)
	}
	return ix, nil
}

func newPrefix(ids []int32, count int, treated []bool) prefix {
	pf := prefix{
		count:        count,
		treatedN:     make([]int32, count),
		controlN:     make([]int32, count),
		treatedStart: make([]int32, count+1),
		controlStart: make([]int32, count+1),
	}
	for u, id := range ids {
		if treated[u] {
			pf.treatedN[id]++
		} else {
			pf.controlN[id]++
		}
	}
	for id := 0; id < count; id++ {
		pf.treatedStart[id+1] = pf.treatedStart[id] + pf.treatedN[id]
		pf.controlStart[id+1] = pf.controlStart[id] + pf.controlN[id]
	}
	pf.treatedUnits = make([]int32, pf.treatedStart[count])
	pf.controlUnits = make([]int32, pf.controlStart[count])

	tNext := append([]int32(nil), pf.treatedStart[:count]...)
	cNext := append([]int32(nil), pf.controlStart[:count]...)
	for u, id := range ids {
		if treated[u] {
			pf.treatedUnits[tNext[id]] = int32(u)
			tNext[id]++
		} else {
			pf.controlUnits[cNext[id]] = int32(u)
			cNext[id]++
		}
	}
	return pf
}

// Covariates returns P, the number of covariates in the order.
func (ix *Index) Covariates() int { return len(ix.order) }

// Units returns the number of indexed units.
func (ix *Index) Units() int { return ix.n }

// Order returns the covariate order the index was built with.
func (ix *Index) Order() []int { return append([]int(nil), ix.order...) }

// Retained returns the covariate indices kept at level k.
func (ix *Index) Retained(level int) []int {
	m := ix.prefixLen(level)
	return append([]int(nil), ix.order[:m]...)
}

// Strata returns the number of distinct strata at level k.
func (ix *Index) Strata(level int) int {
	return ix.prefixes[ix.prefixLen(level)].count
}

// Stratum returns the id of unit u's stratum at level k.
func (ix *Index) Stratum(u, level int) int32 {
	return ix.ids[ix.prefixLen(level)][u]
}

// Cells returns the full-profile stratum id of every unit.
func (ix *Index) Cells() []int32 {
	return append([]int32(nil), ix.ids[len(ix.order)]...)
}

// Viable reports whether unit u's stratum at level k contains at least one
// unit of the opposite arm.
func (ix *Index) Viable(u, level int) bool {
	pf := &ix.prefixes[ix.prefixLen(level)]
	id := ix.ids[ix.prefixLen(level)][u]
	if ix.treated[u] {
		return pf.controlN[id] > 0
	}
	return pf.treatedN[id] > 0
}

// Partners returns the opposite-arm members of unit u's stratum at level k
// in ascending unit order.
func (ix *Index) Partners(u, level int) []int {
	m := ix.prefixLen(level)
	pf := &ix.prefixes[m]
	id := ix.ids[m][u]
	var units []int32
	if ix.treated[u] {
		units = pf.controlUnits[pf.controlStart[id]:pf.controlStart[id+1]]
	} else {
		units = pf.treatedUnits[pf.treatedStart[id]:pf.treatedStart[id+1]]
	}
	return widen(units)
}

// Members returns every unit, of either arm, sharing unit u's stratum at
// level k, in ascending unit order.
func (ix *Index) Members(u, level int) []int {
	m := ix.prefixLen(level)
	pf := &ix.prefixes[m]
	id := ix.ids[m][u]
	t := pf.treatedUnits[pf.treatedStart[id]:pf.treatedStart[id+1]]
	c := pf.controlUnits[pf.controlStart[id]:pf.controlStart[id+1]]

	out := make([]int, 0, len(t)+len(c))
	i, j := 0, 0
	for i < len(t) || j < len(c) {
		if j == len(c) || (i < len(t) && t[i] < c[j]) {
			out = append(out, int(t[i]))
			i++
			continue
		}
		out = append(out, int(c[j]))
		j++
	}
	return out
}

func (ix *Index) prefixLen(level int) int {
	p := len(ix.order)
	if level < 0 || level > p {
		panic(fmt.Sprintf("strata: level %d outside [0, %d]", level, p))
	}
	return p - level
}

func widen(units []int32) []int {
	out := make([]int, len(units))
	for i, u := range units {
		out[i] = int(u)
	}
	return out
}
