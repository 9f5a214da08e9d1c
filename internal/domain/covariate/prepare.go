package covariate

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/sawpanic/timmatch/internal/errs"
)

// Prepare validates a dataset against params, fits per-covariate specs and
// returns the standardized and coarsened sample. Every input problem is
// reported as an errs.ConfigurationError; no rows are dropped silently.
func Prepare(ds Dataset, p Params) (*Sample, error) {
	if p.CoarsenBins < 2 {
		return nil, errs.Configf("coarsen_bins", "must be >= 2, got %d", p.CoarsenBins)
	}
	if len(p.Continuous)+len(p.Discrete) == 0 {
		return nil, errs.Configf("covariates", "at least one covariate is required")
	}

	treatment, ok := ds.Numeric[p.Treatment]
	if !ok {
		return nil, errs.Configf(p.Treatment, "treatment column not found")
	}
	n := len(treatment)
	if n < 2 {
		return nil, errs.Configf(p.Treatment, "need at least 2 rows, got %d", n)
	}
	outcome, ok := ds.Numeric[p.Outcome]
	if !ok {
		return nil, errs.Configf(p.Outcome, "outcome column not found")
	}
	if len(outcome) != n {
		return nil, errs.Configf(p.Outcome, "has %d rows, treatment has %d", len(outcome), n)
	}

	s := &Sample{
		N:       n,
		Treated: make([]bool, n),
		Outcome: make([]float64, n),
		Specs:   make([]Spec, 0, len(p.Continuous)+len(p.Discrete)),
	}

	var treatedN int
	for i, v := range treatment {
		switch v {
		case 1:
			s.Treated[i] = true
			treatedN++
		case 0:
		default:
			return nil, errs.Configf(p.Treatment, "row %d: treatment must be 0 or 1, got %v", i, v)
		}
	}
	if treatedN == 0 || treatedN == n {
		return nil, errs.Configf(p.Treatment, "both treated and control units are required (treated=%d, control=%d)", treatedN, n-treatedN)
	}
	for i, v := range outcome {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errs.Configf(p.Outcome, "row %d: missing or non-finite outcome", i)
		}
		s.Outcome[i] = v
	}

	for _, name := range p.Continuous {
		col, ok := ds.Numeric[name]
		if !ok {
			return nil, errs.Configf(name, "continuous column not found")
		}
		spec, values, coarse, err := fitContinuous(name, col, n, p.CoarsenBins)
		if err != nil {
			return nil, err
		}
		s.Specs = append(s.Specs, spec)
		s.Values = append(s.Values, values)
		s.Coarse = append(s.Coarse, coarse)
	}
	for _, name := range p.Discrete {
		col, ok := ds.categorical(name)
		if !ok {
			return nil, errs.Configf(name, "discrete column not found")
		}
		spec, values, coarse, err := fitDiscrete(name, col, n)
		if err != nil {
			return nil, err
		}
		s.Specs = append(s.Specs, spec)
		s.Values = append(s.Values, values)
		s.Coarse = append(s.Coarse, coarse)
	}
	return s, nil
}

func fitContinuous(name string, col []float64, n, bins int) (Spec, []float64, []int32, error) {
	if len(col) != n {
		return Spec{}, nil, nil, errs.Configf(name, "has %d rows, expected %d", len(col), n)
	}
	for i, v := range col {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Spec{}, nil, nil, errs.Configf(name, "row %d: missing or non-finite value", i)
		}
	}

	sorted := append([]float64(nil), col...)
	sort.Float64s(sorted)
	if distinct := countDistinct(sorted); bins > distinct {
		return Spec{}, nil, nil, errs.Configf(name, "coarsen_bins %d exceeds %d distinct values", bins, distinct)
	}

	mean, std := stat.MeanStdDev(col, nil)
	if std == 0 || math.IsNaN(std) {
		std = 1
	}
	spec := Spec{
		Name:  name,
		Kind:  Continuous,
		Mean:  mean,
		Std:   std,
		Edges: quantileEdges(sorted, bins),
	}

	values := make([]float64, n)
	coarse := make([]int32, n)
	for i, v := range col {
		values[i] = spec.Standardize(v)
		coarse[i] = spec.Bin(v)
	}
	return spec, values, coarse, nil
}

// quantileEdges returns bins+1 equal-frequency edges over sorted values:
// the observed minimum, the empirical j/bins quantiles, the observed maximum.
func quantileEdges(sorted []float64, bins int) []float64 {
	edges := make([]float64, bins+1)
	edges[0] = sorted[0]
	edges[bins] = sorted[len(sorted)-1]
	for j := 1; j < bins; j++ {
		edges[j] = stat.Quantile(float64(j)/float64(bins), stat.Empirical, sorted, nil)
	}
	return edges
}

func countDistinct(sorted []float64) int {
	if len(sorted) == 0 {
		return 0
	}
	d := 1
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			d++
		}
	}
	return d
}

func fitDiscrete(name string, col []string, n int) (Spec, []float64, []int32, error) {
	if len(col) != n {
		return Spec{}, nil, nil, errs.Configf(name, "has %d rows, expected %d", len(col), n)
	}
	seen := make(map[string]struct{})
	for i, v := range col {
		if v == "" {
			return Spec{}, nil, nil, errs.Configf(name, "row %d: missing category", i)
		}
		seen[v] = struct{}{}
	}
	categories := make([]string, 0, len(seen))
	for v := range seen {
		categories = append(categories, v)
	}
	sort.Strings(categories)

	spec := Spec{Name: name, Kind: Discrete, Categories: categories}
	values := make([]float64, n)
	coarse := make([]int32, n)
	for i, v := range col {
		c := spec.Code(v)
		coarse[i] = c
		values[i] = float64(c)
	}
	return spec, values, coarse, nil
}

// Schema is the ordered set of fitted specs of a model.
type Schema []Spec

// Names returns the covariate names in schema order.
func (sc Schema) Names() []string {
	out := make([]string, len(sc))
	for j, spec := range sc {
		out[j] = spec.Name
	}
	return out
}

// Encoded holds new data encoded with a fitted schema.
type Encoded struct {
	N      int
	Values [][]float64
	Coarse [][]int32
}

// Transform encodes new rows with the stored training parameters. Moments,
// edges and category codes are never re-estimated; unseen categories get
// UnseenCategory. Missing values are rejected as at fit time.
func (sc Schema) Transform(ds Dataset) (*Encoded, error) {
	out := &Encoded{N: -1}
	for _, spec := range sc {
		var (
			values []float64
			coarse []int32
		)
		switch spec.Kind {
		case Continuous:
			col, ok := ds.Numeric[spec.Name]
			if !ok {
				return nil, errs.Configf(spec.Name, "continuous column not found")
			}
			values = make([]float64, len(col))
			coarse = make([]int32, len(col))
			for i, v := range col {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return nil, errs.Configf(spec.Name, "row %d: missing or non-finite value", i)
				}
				values[i] = spec.Standardize(v)
				coarse[i] = spec.Bin(v)
			}
		case Discrete:
			col, ok := ds.categorical(spec.Name)
			if !ok {
				return nil, errs.Configf(spec.Name, "discrete column not found")
			}
			values = make([]float64, len(col))
			coarse = make([]int32, len(col))
			for i, v := range col {
				if v == "" {
					return nil, errs.Configf(spec.Name, "row %d: missing category", i)
				}
				c := spec.Code(v)
				coarse[i] = c
				values[i] = float64(c)
			}
		}
		if out.N >= 0 && len(values) != out.N {
			return nil, errs.Configf(spec.Name, "has %d rows, expected %d", len(values), out.N)
		}
		out.N = len(values)
		out.Values = append(out.Values, values)
		out.Coarse = append(out.Coarse, coarse)
	}
	if out.N < 0 {
		out.N = 0
	}
	return out, nil
}
