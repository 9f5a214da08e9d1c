package matcher

import (
	"sort"
	"time"

	"github.com/sawpanic/timmatch/internal/config"
	"github.com/sawpanic/timmatch/internal/domain/covariate"
	"github.com/sawpanic/timmatch/internal/domain/estimate"
	"github.com/sawpanic/timmatch/internal/domain/importance"
	"github.com/sawpanic/timmatch/internal/errs"
)

// Model is a fitted matching model. It is immutable: every accessor returns
// a copy, and a re-fit produces a new Model.
type Model struct {
	id        string
	createdAt time.Time
	cfg       config.Match
	method    string

	schema    covariate.Schema
	ranking   importance.Ranking
	units     UnitData
	groups    []estimate.Group // ascending unit order
	unmatched []estimate.Unmatched

	result *estimate.Result
}

// UnitData holds the per-unit data estimation depends on, indexed by unit id.
type UnitData struct {
	Treated   []bool    `json:"treated"`
	Outcome   []float64 `json:"outcome"`
	Cells     []int32   `json:"cells"`
	Subgroups []string  `json:"subgroups,omitempty"`
}

// Row is one matched unit with its partners, as returned by MatchedData.
type Row struct {
	Unit    int  `json:"unit"`
	Treated bool `json:"treated"`
	Level   int  `json:"level"`
	// Retained lists the covariates the match was exact on.
	Retained       []string  `json:"retained"`
	Partners       []int     `json:"partners"`
	Distances      []float64 `json:"distances"`
	Weights        []float64 `json:"weights"`
	Outcome        float64   `json:"outcome"`
	Counterfactual float64   `json:"counterfactual"`
	Effect         float64   `json:"effect"`
}

// ID returns the unique fit id.
func (m *Model) ID() string { return m.id }

// CreatedAt returns the fit time in UTC.
func (m *Model) CreatedAt() time.Time { return m.createdAt }

// Method returns the importance method used, or "custom" for an injected scorer.
func (m *Model) Method() string { return m.method }

// Config returns the configuration the model was fitted with.
func (m *Model) Config() config.Match { return cloneConfig(m.cfg) }

// Units returns the number of units in the fitted sample.
func (m *Model) Units() int { return len(m.units.Treated) }

// Result returns the effect estimates and diagnostics.
func (m *Model) Result() estimate.Result { return cloneResult(m.result) }

// Ranking returns the covariate importance ranking.
func (m *Model) Ranking() importance.Ranking {
	return append(importance.Ranking(nil), m.ranking...)
}

// Schema returns the fitted covariate specs.
func (m *Model) Schema() covariate.Schema { return cloneSchema(m.schema) }

// Transform encodes new data with the fitted standardization, bin edges and
// category codes.
func (m *Model) Transform(ds covariate.Dataset) (*covariate.Encoded, error) {
	return m.schema.Transform(ds)
}

// MatchedData returns one row per matched unit, in ascending unit order.
func (m *Model) MatchedData() []Row {
	names := m.ranking.Names()
	p := len(names)
	rows := make([]Row, len(m.groups))
	for i, g := range m.groups {
		rows[i] = Row{
			Unit:           g.Unit,
			Treated:        g.Treated,
			Level:          g.Level,
			Retained:       append([]string(nil), names[:p-g.Level]...),
			Partners:       append([]int(nil), g.Partners...),
			Distances:      append([]float64(nil), g.Distances...),
			Weights:        append([]float64(nil), g.Weights...),
			Outcome:        m.units.Outcome[g.Unit],
			Counterfactual: g.Counterfactual(m.units.Outcome),
			Effect:         g.Effect(m.units.Outcome),
		}
	}
	return rows
}

// Unmatched returns the units no level could match, in ascending unit order.
func (m *Model) Unmatched() []estimate.Unmatched {
	return append([]estimate.Unmatched(nil), m.unmatched...)
}

func (m *Model) estimateInput() estimate.Input {
	return estimate.Input{
		Outcome:   m.units.Outcome,
		Treated:   m.units.Treated,
		Groups:    m.groups,
		Unmatched: m.unmatched,
		Cells:     m.units.Cells,
		Subgroups: m.units.Subgroups,
		Levels:    len(m.ranking),
	}
}

func sortUnmatched(u []estimate.Unmatched) {
	sort.Slice(u, func(i, j int) bool { return u[i].Unit < u[j].Unit })
}

func cloneConfig(c config.Match) config.Match {
	c.ContinuousCols = append([]string(nil), c.ContinuousCols...)
	c.DiscreteCols = append([]string(nil), c.DiscreteCols...)
	c.CATEBy = append([]string(nil), c.CATEBy...)
	return c
}

func cloneSchema(s covariate.Schema) covariate.Schema {
	out := make(covariate.Schema, len(s))
	for i, spec := range s {
		spec.Edges = append([]float64(nil), spec.Edges...)
		spec.Categories = append([]string(nil), spec.Categories...)
		out[i] = spec
	}
	return out
}

func cloneResult(r *estimate.Result) estimate.Result {
	out := *r
	out.Treated.Levels = append([]int(nil), r.Treated.Levels...)
	out.Control.Levels = append([]int(nil), r.Control.Levels...)
	if r.CATE != nil {
		out.CATE = append([]estimate.Subgroup(nil), r.CATE...)
	}
	if r.Reasons != nil {
		out.Reasons = make(map[errs.Reason]int, len(r.Reasons))
		for k, v := range r.Reasons {
			out.Reasons[k] = v
		}
	}
	return out
}
