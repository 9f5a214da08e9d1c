// Package estimate turns matched groups into weighted counterfactuals and
// treatment-effect estimates with standard errors.
package estimate

import (
	"github.com/sawpanic/timmatch/internal/errs"
)

// Group is one focal unit with its opposite-arm partners from the viable
// stratum. Partners, Distances and Weights are parallel slices; Weights sum
// to 1.
type Group struct {
	Unit      int       `json:"unit"`
	Treated   bool      `json:"treated"`
	Level     int       `json:"level"`
	Partners  []int     `json:"partners"`
	Distances []float64 `json:"distances"`
	Weights   []float64 `json:"weights"`
}

// Unmatched records a unit for which no level produced a viable stratum.
type Unmatched struct {
	Unit    int         `json:"unit"`
	Treated bool        `json:"treated"`
	Reason  errs.Reason `json:"reason"`
}

// Effect is a point estimate with its standard error.
type Effect struct {
	Estimate float64 `json:"estimate"`
	StdErr   float64 `json:"std_err"`
	// Units is the number of focal units the estimate averages over.
	Units int `json:"units"`
	// EffectiveN is the Kish effective sample size of those units under
	// their reliability weights.
	EffectiveN float64 `json:"effective_n"`
}

// Subgroup holds conditional effects for units sharing a coarse profile on
// the CATE covariates.
type Subgroup struct {
	Label string `json:"label"`
	ATE   Effect `json:"ate"`
	ATT   Effect `json:"att"`
	ATC   Effect `json:"atc"`
}

// Arm summarizes matching for one treatment arm.
type Arm struct {
	Total     int `json:"total"`
	Matched   int `json:"matched"`
	Unmatched int `json:"unmatched"`
	// Levels[k] is the number of matched units resolved at level k.
	Levels []int `json:"levels"`
}

// Imbalance is the L1 multivariate imbalance over full coarse profiles:
// half the summed absolute difference of treated and control cell
// frequencies. 0 is perfect balance, 1 is complete separation.
type Imbalance struct {
	Before float64 `json:"before"`
	After  float64 `json:"after"`
}

// Result is the complete estimation output of a fit.
type Result struct {
	ATE  Effect     `json:"ate"`
	ATT  Effect     `json:"att"`
	ATC  Effect     `json:"atc"`
	CATE []Subgroup `json:"cate,omitempty"`

	Treated Arm `json:"treated"`
	Control Arm `json:"control"`
	// Retention is the share of treated units that were matched.
	Retention float64             `json:"retention"`
	Reasons   map[errs.Reason]int `json:"unmatched_reasons,omitempty"`
	Imbalance Imbalance           `json:"imbalance"`
}
