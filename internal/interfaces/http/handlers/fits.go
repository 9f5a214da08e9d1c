package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/sawpanic/timmatch/internal/config"
	httpContracts "github.com/sawpanic/timmatch/internal/http"
	"github.com/sawpanic/timmatch/internal/matcher"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// CreateFit handles POST /fits. Config fields omitted from the body keep
// the server defaults.
func (h *Handlers) CreateFit(w http.ResponseWriter, r *http.Request) {
	req := httpContracts.FitRequest{Config: cloneMatch(h.deps.Defaults)}
	if err := h.decode(w, r, &req); err != nil {
		h.writeFailure(w, r, err)
		return
	}

	logger := h.logger.With().Str("request_id", RequestID(r.Context())).Logger()
	opts := []matcher.Option{matcher.WithLogger(logger)}
	if h.deps.Metrics != nil {
		opts = append(opts, matcher.WithMetrics(h.deps.Metrics))
	}
	m, err := matcher.Fit(r.Context(), req.Data.Dataset(), req.Config, opts...)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	if _, err := h.deps.Store.Save(r.Context(), m); err != nil {
		h.writeFailure(w, r, err)
		return
	}

	w.Header().Set("Location", "/fits/"+m.ID())
	h.writeJSON(w, http.StatusCreated, httpContracts.NewFitResponse(m))
}

// ListFits handles GET /fits?limit=N.
func (h *Handlers) ListFits(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			h.writeError(w, r, http.StatusBadRequest, "invalid_limit",
				"limit must be an integer between 1 and "+strconv.Itoa(maxListLimit))
			return
		}
		limit = n
	}

	recs, err := h.deps.Store.List(r.Context(), limit)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, httpContracts.FitListResponse{
		Timestamp: time.Now().UTC(),
		Count:     len(recs),
		Fits:      recs,
	})
}

// GetFit handles GET /fits/{id}.
func (h *Handlers) GetFit(w http.ResponseWriter, r *http.Request) {
	m, ok := h.load(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, httpContracts.NewFitResponse(m))
}

// Matches handles GET /fits/{id}/matches.
func (h *Handlers) Matches(w http.ResponseWriter, r *http.Request) {
	m, ok := h.load(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, httpContracts.MatchesResponse{
		ID:        m.ID(),
		Matched:   m.MatchedData(),
		Unmatched: m.Unmatched(),
	})
}

// Ranking handles GET /fits/{id}/ranking.
func (h *Handlers) Ranking(w http.ResponseWriter, r *http.Request) {
	m, ok := h.load(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, httpContracts.RankingResponse{
		ID:      m.ID(),
		Method:  m.Method(),
		Ranking: m.Ranking(),
	})
}

// Schema handles GET /fits/{id}/schema.
func (h *Handlers) Schema(w http.ResponseWriter, r *http.Request) {
	m, ok := h.load(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, httpContracts.SchemaResponse{ID: m.ID(), Schema: m.Schema()})
}

// Snapshot handles GET /fits/{id}/snapshot.
func (h *Handlers) Snapshot(w http.ResponseWriter, r *http.Request) {
	m, ok := h.load(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, m.Snapshot())
}

// Transform handles POST /fits/{id}/transform.
func (h *Handlers) Transform(w http.ResponseWriter, r *http.Request) {
	m, ok := h.load(w, r)
	if !ok {
		return
	}
	var req httpContracts.TransformRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeFailure(w, r, err)
		return
	}
	enc, err := m.Transform(req.Data.Dataset())
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, httpContracts.TransformResponse{
		ID:         m.ID(),
		Rows:       enc.N,
		Covariates: m.Schema().Names(),
		Values:     enc.Values,
		Coarse:     enc.Coarse,
	})
}

func (h *Handlers) load(w http.ResponseWriter, r *http.Request) (*matcher.Model, bool) {
	m, err := h.deps.Store.Load(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeFailure(w, r, err)
		return nil, false
	}
	return m, true
}

func cloneMatch(c config.Match) config.Match {
	c.ContinuousCols = append([]string(nil), c.ContinuousCols...)
	c.DiscreteCols = append([]string(nil), c.DiscreteCols...)
	c.CATEBy = append([]string(nil), c.CATEBy...)
	return c
}
