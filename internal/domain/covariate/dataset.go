// Package covariate turns raw tabular columns into the standardized,
// coarsened and encoded covariate arrays consumed by the matching engine.
//
// All per-unit data is stored column-major in flat slices indexed by unit id
// (the row index), so downstream loops iterate contiguous memory.
package covariate

import (
	"strconv"
)

// Dataset is a column-oriented table. Numeric columns use NaN for missing
// values, categorical columns use the empty string.
type Dataset struct {
	Numeric     map[string][]float64
	Categorical map[string][]string
}

// NewDataset returns an empty dataset ready for columns.
func NewDataset() Dataset {
	return Dataset{
		Numeric:     make(map[string][]float64),
		Categorical: make(map[string][]string),
	}
}

// Has reports whether a column exists in either map.
func (d Dataset) Has(name string) bool {
	if _, ok := d.Numeric[name]; ok {
		return true
	}
	_, ok := d.Categorical[name]
	return ok
}

// categorical returns a column as strings. Numeric columns are formatted so
// integer-coded categories can be supplied as numbers; NaN becomes "".
func (d Dataset) categorical(name string) ([]string, bool) {
	if col, ok := d.Categorical[name]; ok {
		return col, true
	}
	num, ok := d.Numeric[name]
	if !ok {
		return nil, false
	}
	out := make([]string, len(num))
	for i, v := range num {
		if v != v { // NaN
			continue
		}
		out[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return out, true
}

// Params selects the columns to prepare.
type Params struct {
	Treatment   string
	Outcome     string
	Continuous  []string
	Discrete    []string
	CoarsenBins int
}

// Sample is the prepared, immutable view of a dataset.
type Sample struct {
	N       int
	Treated []bool
	Outcome []float64
	Specs   []Spec

	// Values[j][i]: z-score of continuous covariate j for unit i, or the
	// category code (as float64) for a discrete covariate.
	Values [][]float64
	// Coarse[j][i]: bin index or category code.
	Coarse [][]int32
}

// Matrix returns the uncoarsened covariates.
func (s *Sample) Matrix() Matrix {
	return Matrix{Specs: s.Specs, Values: s.Values}
}

// Names returns covariate names in declaration order.
func (s *Sample) Names() []string {
	out := make([]string, len(s.Specs))
	for j, sp := range s.Specs {
		out[j] = sp.Name
	}
	return out
}

// TreatedCount returns the number of treated units.
func (s *Sample) TreatedCount() int {
	n := 0
	for _, t := range s.Treated {
		if t {
			n++
		}
	}
	return n
}

// Matrix is the preprocessed but uncoarsened covariate matrix handed to
// importance scorers and the distance engine.
type Matrix struct {
	Specs  []Spec
	Values [][]float64
}

// Rows returns the number of units.
func (m Matrix) Rows() int {
	if len(m.Values) == 0 {
		return 0
	}
	return len(m.Values[0])
}

// Cols returns the number of covariates.
func (m Matrix) Cols() int { return len(m.Specs) }
