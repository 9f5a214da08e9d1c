// Package http serves fitted models over a JSON API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/timmatch/internal/config"
	"github.com/sawpanic/timmatch/internal/interfaces/http/handlers"
	"github.com/sawpanic/timmatch/internal/metrics"
	"github.com/sawpanic/timmatch/internal/net/ratelimit"
)

const clientSweepInterval = time.Minute

// Server represents the fit/query HTTP server
type Server struct {
	router   *mux.Router
	server   *http.Server
	handlers *handlers.Handlers
	limiter  *ratelimit.Limiter
	metrics  *metrics.MetricsRegistry
	config   config.ServerConfig
	logger   zerolog.Logger

	sweepCtx  context.Context
	stopSweep context.CancelFunc
}

// NewServer creates a new HTTP server instance. metrics may be nil.
func NewServer(cfg config.ServerConfig, h *handlers.Handlers, reg *metrics.MetricsRegistry) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: h,
		limiter:  ratelimit.NewLimiter(cfg.RPS, cfg.Burst),
		metrics:  reg,
		config:   cfg,
		logger:   log.Logger.With().Str("component", "server").Logger(),
	}
	s.sweepCtx, s.stopSweep = context.WithCancel(context.Background())
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.Address(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.limiter.Middleware)
	api.Use(s.timeoutMiddleware)
	api.Use(s.jsonContentTypeMiddleware)

	api.HandleFunc("/health", s.handlers.Health).Methods(http.MethodGet)

	api.HandleFunc("/fits", s.handlers.CreateFit).Methods(http.MethodPost)
	api.HandleFunc("/fits", s.handlers.ListFits).Methods(http.MethodGet)
	api.HandleFunc("/fits/{id}", s.handlers.GetFit).Methods(http.MethodGet)
	api.HandleFunc("/fits/{id}/matches", s.handlers.Matches).Methods(http.MethodGet)
	api.HandleFunc("/fits/{id}/ranking", s.handlers.Ranking).Methods(http.MethodGet)
	api.HandleFunc("/fits/{id}/schema", s.handlers.Schema).Methods(http.MethodGet)
	api.HandleFunc("/fits/{id}/snapshot", s.handlers.Snapshot).Methods(http.MethodGet)
	api.HandleFunc("/fits/{id}/transform", s.handlers.Transform).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(s.handlers.NotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.handlers.MethodNotAllowed)
}

// requestIDMiddleware adds unique request ID to each request
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()[:8]
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(handlers.WithRequestID(r.Context(), requestID)))
	})
}

// requestLoggingMiddleware logs every request and counts it by route
func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if s.metrics != nil {
			s.metrics.RecordRequest(route, wrapper.statusCode)
		}

		s.logger.Info().
			Str("request_id", handlers.RequestID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("Request")
	})
}

// timeoutMiddleware bounds each request, including the fit it may run
func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.RequestTimeout <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// jsonContentTypeMiddleware sets JSON content type for API responses
func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.Address()).Msg("Starting HTTP server")
	if s.limiter.Enabled() {
		go s.limiter.Run(s.sweepCtx, clientSweepInterval, ratelimit.DefaultIdleTTL)
	}
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	s.stopSweep()
	return s.server.Shutdown(ctx)
}

// Address returns the listen address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// responseWrapper captures HTTP status codes for logging
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
