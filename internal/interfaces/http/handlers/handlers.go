// Package handlers implements the HTTP endpoints over fitted models.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/timmatch/internal/config"
	"github.com/sawpanic/timmatch/internal/errs"
	httpContracts "github.com/sawpanic/timmatch/internal/http"
	"github.com/sawpanic/timmatch/internal/metrics"
	"github.com/sawpanic/timmatch/internal/persistence"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// WithRequestID stores the request id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id stored in ctx, or "unknown".
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return "unknown"
}

// Deps are the collaborators of the handlers.
type Deps struct {
	Store    *persistence.Store
	Defaults config.Match
	Metrics  *metrics.MetricsRegistry
	// Database is nil when fits are kept in memory.
	Database     persistence.RepositoryHealth
	Backend      string
	Cache        bool
	Version      string
	MaxBodyBytes int64
	Logger       *zerolog.Logger
}

// Handlers manages all HTTP endpoint handlers
type Handlers struct {
	deps      Deps
	logger    zerolog.Logger
	startTime time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(deps Deps) *Handlers {
	logger := log.Logger
	if deps.Logger != nil {
		logger = *deps.Logger
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 32 << 20
	}
	return &Handlers{
		deps:      deps,
		logger:    logger.With().Str("component", "http").Logger(),
		startTime: time.Now(),
	}
}

// writeJSON writes JSON response with proper error handling
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError writes standardized error response
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	h.writeJSON(w, status, httpContracts.ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: RequestID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

// writeFailure maps engine and store errors onto status codes.
func (h *Handlers) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var ce *errs.ConfigurationError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &ce):
		h.writeJSON(w, http.StatusBadRequest, httpContracts.ErrorResponse{
			Error:     http.StatusText(http.StatusBadRequest),
			Message:   err.Error(),
			Code:      "configuration_error",
			Field:     ce.Field,
			RequestID: RequestID(r.Context()),
			Timestamp: time.Now().UTC(),
		})
	case errs.IsEstimation(err):
		h.writeError(w, r, http.StatusUnprocessableEntity, "estimation_error", err.Error())
	case errors.As(err, &tooLarge):
		h.writeError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", err.Error())
	case errors.Is(err, persistence.ErrNotFound):
		h.writeError(w, r, http.StatusNotFound, "fit_not_found", "No fit exists with the requested id")
	case errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, r, http.StatusGatewayTimeout, "timeout", "The request exceeded its deadline")
	case errors.Is(err, context.Canceled):
		h.writeError(w, r, http.StatusServiceUnavailable, "canceled", "The request was canceled")
	case errors.Is(err, persistence.ErrDisabled):
		h.writeError(w, r, http.StatusServiceUnavailable, "store_disabled", err.Error())
	default:
		h.logger.Error().Err(err).Str("request_id", RequestID(r.Context())).Msg("Request failed")
		h.writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// decode reads a bounded JSON body into v.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, h.deps.MaxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return errs.Configf("body", "invalid JSON: %v", err)
	}
	return nil
}

// NotFound handles 404 responses
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"The requested endpoint does not exist")
}

// MethodNotAllowed handles 405 responses
func (h *Handlers) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed",
		"The endpoint does not support "+r.Method)
}
