package config

import (
	"math"

	"github.com/sawpanic/timmatch/internal/errs"
)

// Importance scoring methods.
const (
	MethodPermutation = "permutation"
	MethodRidge       = "ridge"
	MethodConfounder  = "confounder"
)

// Upper bounds on the permutation scorer's work per fit.
const (
	MaxImportanceRepeats = 100
	MaxImportanceEpochs  = 20000
)

// Distance combination and discrete-term options.
const (
	CombineWeightedSum = "weighted_sum"
	CombineEuclidean   = "euclidean"

	DiscreteIndicator = "indicator"
	DiscreteCrosstab  = "crosstab"
)

// Match configures a single fit.
type Match struct {
	TreatmentCol   string   `yaml:"treatment_col" json:"treatment_col"`
	OutcomeCol     string   `yaml:"outcome_col" json:"outcome_col"`
	ContinuousCols []string `yaml:"continuous_cols" json:"continuous_cols"`
	DiscreteCols   []string `yaml:"discrete_cols" json:"discrete_cols"`
	CoarsenBins    int      `yaml:"coarsen_bins" json:"coarsen_bins"` // equal-frequency bins per continuous covariate (>= 2)
	RandomSeed     int64    `yaml:"random_seed" json:"random_seed"`
	CATEBy         []string `yaml:"cate_by" json:"cate_by,omitempty"` // covariates defining CATE subgroups
	Workers        int      `yaml:"workers" json:"workers"`           // 0 => GOMAXPROCS

	Importance ImportanceConfig `yaml:"importance" json:"importance"`
	Distance   DistanceConfig   `yaml:"distance" json:"distance"`
}

// ImportanceConfig tunes the importance scorer.
type ImportanceConfig struct {
	Method       string  `yaml:"method" json:"method"`               // "permutation" (default), "ridge" or "confounder"
	Repeats      int     `yaml:"repeats" json:"repeats"`             // permutations per covariate
	Epochs       int     `yaml:"epochs" json:"epochs"`               // gradient steps for the logistic model
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate"` // gradient step size
	L2           float64 `yaml:"l2" json:"l2"`                       // logistic L2 penalty
	RidgeAlpha   float64 `yaml:"ridge_alpha" json:"ridge_alpha"`     // penalty for ridge and confounder
}

// DistanceConfig tunes the unified distance and inverse-distance weights.
type DistanceConfig struct {
	Combine  string  `yaml:"combine" json:"combine"`   // "weighted_sum" or "euclidean"
	Discrete string  `yaml:"discrete" json:"discrete"` // "indicator" or "crosstab"
	Floor    float64 `yaml:"floor" json:"floor"`       // minimum distance before inversion
}

// DefaultMatch returns the default fit configuration. Column names are left
// empty and must be supplied by the caller.
func DefaultMatch() Match {
	return Match{
		CoarsenBins: 4,
		RandomSeed:  42,
		Importance: ImportanceConfig{
			Method:       MethodPermutation,
			Repeats:      5,
			Epochs:       400,
			LearningRate: 0.5,
			L2:           1e-3,
			RidgeAlpha:   1.0,
		},
		Distance: DistanceConfig{
			Combine:  CombineWeightedSum,
			Discrete: DiscreteIndicator,
			Floor:    1e-3,
		},
	}
}

// Covariates returns continuous then discrete covariate names, which is the
// declaration order used to break importance ties.
func (m Match) Covariates() []string {
	out := make([]string, 0, len(m.ContinuousCols)+len(m.DiscreteCols))
	out = append(out, m.ContinuousCols...)
	return append(out, m.DiscreteCols...)
}

// Validate checks the configuration without looking at data.
func (m Match) Validate() error {
	if m.TreatmentCol == "" {
		return errs.Configf("treatment_col", "must be set")
	}
	if m.OutcomeCol == "" {
		return errs.Configf("outcome_col", "must be set")
	}
	if m.TreatmentCol == m.OutcomeCol {
		return errs.Configf("outcome_col", "must differ from treatment_col %q", m.TreatmentCol)
	}
	if m.CoarsenBins < 2 {
		return errs.Configf("coarsen_bins", "must be >= 2, got %d", m.CoarsenBins)
	}

	covariates := m.Covariates()
	if len(covariates) == 0 {
		return errs.Configf("continuous_cols", "at least one covariate is required")
	}
	seen := map[string]bool{m.TreatmentCol: true, m.OutcomeCol: true}
	for _, name := range covariates {
		if name == "" {
			return errs.Configf("covariates", "empty column name")
		}
		if seen[name] {
			return errs.Configf(name, "column listed more than once or reused as treatment/outcome")
		}
		seen[name] = true
	}
	inCovariates := make(map[string]bool, len(covariates))
	for _, name := range covariates {
		inCovariates[name] = true
	}
	for _, name := range m.CATEBy {
		if !inCovariates[name] {
			return errs.Configf("cate_by", "%q is not a declared covariate", name)
		}
	}
	if m.Workers < 0 {
		return errs.Configf("workers", "cannot be negative, got %d", m.Workers)
	}

	if err := m.Importance.Validate(); err != nil {
		return err
	}
	return m.Distance.Validate()
}

// Validate checks the importance scorer settings.
func (c ImportanceConfig) Validate() error {
	switch c.Method {
	case MethodPermutation:
		if c.Repeats <= 0 || c.Repeats > MaxImportanceRepeats {
			return errs.Configf("importance.repeats", "must be in [1, %d], got %d", MaxImportanceRepeats, c.Repeats)
		}
		if c.Epochs <= 0 || c.Epochs > MaxImportanceEpochs {
			return errs.Configf("importance.epochs", "must be in [1, %d], got %d", MaxImportanceEpochs, c.Epochs)
		}
		if c.LearningRate <= 0 || math.IsNaN(c.LearningRate) {
			return errs.Configf("importance.learning_rate", "must be positive, got %g", c.LearningRate)
		}
		if c.L2 < 0 {
			return errs.Configf("importance.l2", "cannot be negative, got %g", c.L2)
		}
	case MethodRidge, MethodConfounder:
		if c.RidgeAlpha <= 0 || math.IsNaN(c.RidgeAlpha) {
			return errs.Configf("importance.ridge_alpha", "must be positive, got %g", c.RidgeAlpha)
		}
	default:
		return errs.Configf("importance.method", "unknown method %q", c.Method)
	}
	return nil
}

// Validate checks the distance settings.
func (c DistanceConfig) Validate() error {
	switch c.Combine {
	case CombineWeightedSum, CombineEuclidean:
	default:
		return errs.Configf("distance.combine", "unknown combination %q", c.Combine)
	}
	switch c.Discrete {
	case DiscreteIndicator, DiscreteCrosstab:
	default:
		return errs.Configf("distance.discrete", "unknown discrete distance %q", c.Discrete)
	}
	if !(c.Floor > 0) || math.IsInf(c.Floor, 0) {
		return errs.Configf("distance.floor", "must be a positive finite number, got %g", c.Floor)
	}
	return nil
}
