package covariate

import (
	"fmt"
	"sort"
)

// Kind distinguishes continuous from discrete covariates.
type Kind int

const (
	Continuous Kind = iota
	Discrete
)

func (k Kind) String() string {
	switch k {
	case Continuous:
		return "continuous"
	case Discrete:
		return "discrete"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText encodes the kind by name so snapshots stay readable.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "continuous":
		*k = Continuous
	case "discrete":
		*k = Discrete
	default:
		return fmt.Errorf("unknown covariate kind %q", string(b))
	}
	return nil
}

// UnseenCategory is the code returned for a discrete value that was not
// observed when the spec was fitted.
const UnseenCategory int32 = -1

// Spec holds the fitted metadata of one covariate. Specs are computed once
// per fit and never mutated afterwards.
type Spec struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`

	// Continuous only: training moments and equal-frequency bin edges in raw
	// units. Edges has Bins()+1 non-decreasing entries; the first and last
	// intervals are open-ended when binning unseen data.
	Mean  float64   `json:"mean,omitempty"`
	Std   float64   `json:"std,omitempty"`
	Edges []float64 `json:"edges,omitempty"`

	// Discrete only: observed categories, sorted. A category's code is its index.
	Categories []string `json:"categories,omitempty"`
}

// Bins is the number of coarse values the covariate can take.
func (s Spec) Bins() int {
	if s.Kind == Discrete {
		return len(s.Categories)
	}
	if len(s.Edges) == 0 {
		return 0
	}
	return len(s.Edges) - 1
}

// Standardize maps a raw continuous value to its training z-score.
func (s Spec) Standardize(x float64) float64 {
	return (x - s.Mean) / s.Std
}

// Bin returns the coarse bin of a raw continuous value. A value equal to an
// inner edge belongs to the lower bin; values outside the fitted range fall
// into the outer bins.
func (s Spec) Bin(x float64) int32 {
	if len(s.Edges) < 3 {
		return 0
	}
	inner := s.Edges[1 : len(s.Edges)-1]
	// number of inner edges strictly below x
	return int32(sort.SearchFloat64s(inner, x))
}

// Code returns the integer code of a category, or UnseenCategory.
func (s Spec) Code(v string) int32 {
	i := sort.SearchStrings(s.Categories, v)
	if i < len(s.Categories) && s.Categories[i] == v {
		return int32(i)
	}
	return UnseenCategory
}

// Label renders a coarse value for humans, e.g. "age=bin2" or "region=north".
func (s Spec) Label(coarse int32) string {
	if s.Kind == Discrete {
		if coarse >= 0 && int(coarse) < len(s.Categories) {
			return s.Name + "=" + s.Categories[coarse]
		}
		return s.Name + "=<unseen>"
	}
	return fmt.Sprintf("%s=bin%d", s.Name, coarse)
}
