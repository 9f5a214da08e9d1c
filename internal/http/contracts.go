// Package http holds the JSON contracts of the read/fit API.
package http

import (
	"math"
	"time"

	"github.com/sawpanic/timmatch/internal/config"
	"github.com/sawpanic/timmatch/internal/domain/covariate"
	"github.com/sawpanic/timmatch/internal/domain/estimate"
	"github.com/sawpanic/timmatch/internal/domain/importance"
	"github.com/sawpanic/timmatch/internal/matcher"
	"github.com/sawpanic/timmatch/internal/persistence"
)

// Data is a column-oriented table on the wire. A null numeric cell is a
// missing value.
type Data struct {
	Numeric     map[string][]*float64 `json:"numeric"`
	Categorical map[string][]string   `json:"categorical,omitempty"`
}

// Dataset converts the payload, mapping nulls to NaN.
func (d Data) Dataset() covariate.Dataset {
	ds := covariate.NewDataset()
	for name, col := range d.Numeric {
		out := make([]float64, len(col))
		for i, v := range col {
			if v == nil {
				out[i] = math.NaN()
				continue
			}
			out[i] = *v
		}
		ds.Numeric[name] = out
	}
	for name, col := range d.Categorical {
		ds.Categorical[name] = append([]string(nil), col...)
	}
	return ds
}

// FitRequest is the body of POST /fits. Unset config fields take the
// server defaults.
type FitRequest struct {
	Config config.Match `json:"config"`
	Data   Data         `json:"data"`
}

// FitResponse describes one fit.
type FitResponse struct {
	ID        string             `json:"id"`
	CreatedAt time.Time          `json:"created_at"`
	Method    string             `json:"method"`
	Units     int                `json:"units"`
	Config    config.Match       `json:"config"`
	Ranking   importance.Ranking `json:"ranking"`
	Result    estimate.Result    `json:"result"`
}

// NewFitResponse summarizes a model.
func NewFitResponse(m *matcher.Model) FitResponse {
	return FitResponse{
		ID:        m.ID(),
		CreatedAt: m.CreatedAt(),
		Method:    m.Method(),
		Units:     m.Units(),
		Config:    m.Config(),
		Ranking:   m.Ranking(),
		Result:    m.Result(),
	}
}

// FitListResponse is the body of GET /fits.
type FitListResponse struct {
	Timestamp time.Time               `json:"timestamp"`
	Count     int                     `json:"count"`
	Fits      []persistence.FitRecord `json:"fits"`
}

// MatchesResponse is the body of GET /fits/{id}/matches.
type MatchesResponse struct {
	ID        string               `json:"id"`
	Matched   []matcher.Row        `json:"matched"`
	Unmatched []estimate.Unmatched `json:"unmatched"`
}

// TransformRequest is the body of POST /fits/{id}/transform.
type TransformRequest struct {
	Data Data `json:"data"`
}

// TransformResponse carries encoded rows, one slice per covariate in
// schema order.
type TransformResponse struct {
	ID         string      `json:"id"`
	Rows       int         `json:"rows"`
	Covariates []string    `json:"covariates"`
	Values     [][]float64 `json:"values"`
	Coarse     [][]int32   `json:"coarse"`
}

// SchemaResponse is the body of GET /fits/{id}/schema.
type SchemaResponse struct {
	ID     string           `json:"id"`
	Schema covariate.Schema `json:"schema"`
}

// RankingResponse is the body of GET /fits/{id}/ranking.
type RankingResponse struct {
	ID      string             `json:"id"`
	Method  string             `json:"method"`
	Ranking importance.Ranking `json:"ranking"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Uptime    string                   `json:"uptime"`
	Version   string                   `json:"version"`
	Store     StoreHealth              `json:"store"`
	Database  *persistence.HealthCheck `json:"database,omitempty"`
}

// StoreHealth reports the fit store.
type StoreHealth struct {
	Backend string `json:"backend"`
	Cache   bool   `json:"cache"`
	Breaker string `json:"breaker"`
}

// ErrorResponse represents standardized error response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	Field     string    `json:"field,omitempty"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}
