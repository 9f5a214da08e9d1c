package matcher

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sawpanic/timmatch/internal/config"
	"github.com/sawpanic/timmatch/internal/domain/covariate"
	"github.com/sawpanic/timmatch/internal/domain/estimate"
	"github.com/sawpanic/timmatch/internal/domain/importance"
)

// SnapshotVersion is the current snapshot format.
const SnapshotVersion = 1

// Snapshot is the serializable form of a Model. It stores everything
// estimation depends on, so a restored model reproduces the original Result
// without matching again.
type Snapshot struct {
	Version   int                  `json:"version"`
	ID        string               `json:"id"`
	CreatedAt time.Time            `json:"created_at"`
	Method    string               `json:"method"`
	Config    config.Match         `json:"config"`
	Schema    covariate.Schema     `json:"schema"`
	Ranking   importance.Ranking   `json:"ranking"`
	Units     UnitData             `json:"units"`
	Groups    []estimate.Group     `json:"groups"`
	Unmatched []estimate.Unmatched `json:"unmatched"`
}

// Snapshot captures the model.
func (m *Model) Snapshot() Snapshot {
	groups := make([]estimate.Group, len(m.groups))
	for i, g := range m.groups {
		g.Partners = append([]int(nil), g.Partners...)
		g.Distances = append([]float64(nil), g.Distances...)
		g.Weights = append([]float64(nil), g.Weights...)
		groups[i] = g
	}
	return Snapshot{
		Version:   SnapshotVersion,
		ID:        m.id,
		CreatedAt: m.createdAt,
		Method:    m.method,
		Config:    cloneConfig(m.cfg),
		Schema:    cloneSchema(m.schema),
		Ranking:   m.Ranking(),
		Units: UnitData{
			Treated:   append([]bool(nil), m.units.Treated...),
			Outcome:   append([]float64(nil), m.units.Outcome...),
			Cells:     append([]int32(nil), m.units.Cells...),
			Subgroups: append([]string(nil), m.units.Subgroups...),
		},
		Groups:    groups,
		Unmatched: m.Unmatched(),
	}
}

// MarshalJSON encodes the model as its snapshot.
func (m *Model) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Snapshot())
}

// Restore rebuilds a model from a snapshot and recomputes its Result.
func Restore(s Snapshot) (*Model, error) {
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("snapshot: unsupported version %d", s.Version)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", s.ID, err)
	}
	m := &Model{
		id:        s.ID,
		createdAt: s.CreatedAt,
		cfg:       s.Config,
		method:    s.Method,
		schema:    s.Schema,
		ranking:   s.Ranking,
		units:     s.Units,
		groups:    s.Groups,
		unmatched: s.Unmatched,
	}
	if len(m.units.Subgroups) == 0 {
		m.units.Subgroups = nil
	}
	res, err := estimate.Estimate(m.estimateInput())
	if err != nil {
		return nil, err
	}
	m.result = res
	return m, nil
}

// Decode parses a JSON snapshot and restores the model.
func Decode(data []byte) (*Model, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return Restore(s)
}

func (s *Snapshot) validate() error {
	n := len(s.Units.Treated)
	p := len(s.Ranking)
	if len(s.Units.Outcome) != n || len(s.Units.Cells) != n {
		return fmt.Errorf("unit columns have inconsistent lengths")
	}
	if len(s.Units.Subgroups) != 0 && len(s.Units.Subgroups) != n {
		return fmt.Errorf("subgroup labels cover %d of %d units", len(s.Units.Subgroups), n)
	}
	if len(s.Schema) != p {
		return fmt.Errorf("schema has %d covariates, ranking has %d", len(s.Schema), p)
	}
	for _, g := range s.Groups {
		if g.Unit < 0 || g.Unit >= n {
			return fmt.Errorf("group unit %d out of range", g.Unit)
		}
		if g.Treated != s.Units.Treated[g.Unit] {
			return fmt.Errorf("group %d arm does not match unit arm", g.Unit)
		}
		if g.Level < 0 || g.Level >= p {
			return fmt.Errorf("group %d level %d out of range", g.Unit, g.Level)
		}
		if len(g.Partners) == 0 || len(g.Weights) != len(g.Partners) || len(g.Distances) != len(g.Partners) {
			return fmt.Errorf("group %d has malformed partners", g.Unit)
		}
		for _, v := range g.Partners {
			if v < 0 || v >= n || s.Units.Treated[v] == g.Treated {
				return fmt.Errorf("group %d has invalid partner %d", g.Unit, v)
			}
		}
	}
	for _, u := range s.Unmatched {
		if u.Unit < 0 || u.Unit >= n {
			return fmt.Errorf("unmatched unit %d out of range", u.Unit)
		}
	}
	return nil
}
