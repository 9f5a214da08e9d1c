package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/timmatch/internal/matcher"
	"github.com/sawpanic/timmatch/internal/metrics"
)

// ErrDisabled is returned by a Store without a repository.
var ErrDisabled = errors.New("fit persistence is disabled")

const cacheType = "snapshot"

// StoreConfig tunes a Store.
type StoreConfig struct {
	CacheTTL time.Duration
	// Breaker trips after this many consecutive repository failures.
	ConsecutiveFailures uint32
	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration
	Metrics        *metrics.MetricsRegistry
	Logger         *zerolog.Logger
}

// DefaultStoreConfig returns the defaults used by the CLI.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		CacheTTL:            24 * time.Hour,
		ConsecutiveFailures: 5,
		BreakerTimeout:      30 * time.Second,
	}
}

// Store reads and writes fitted models: cache-aside over a repository
// guarded by a circuit breaker. The cache is optional.
type Store struct {
	repo    FitRepo
	cache   Cache
	breaker *gobreaker.CircuitBreaker
	cfg     StoreConfig
	logger  zerolog.Logger
}

// NewStore creates a store. repo may be nil, in which case every call fails
// with ErrDisabled; cache may be nil.
func NewStore(repo FitRepo, cache Cache, cfg StoreConfig) *Store {
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	logger = logger.With().Str("component", "store").Logger()

	failures := cfg.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}
	settings := gobreaker.Settings{
		Name:    "fit-repo",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// a missing fit is an answer, not a repository failure
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	}
	return &Store{
		repo:    repo,
		cache:   cache,
		breaker: gobreaker.NewCircuitBreaker(settings),
		cfg:     cfg,
		logger:  logger,
	}
}

// Enabled reports whether the store has a repository.
func (s *Store) Enabled() bool { return s.repo != nil }

// BreakerState returns the repository breaker state name.
func (s *Store) BreakerState() string { return s.breaker.State().String() }

// Save persists a model and warms the cache.
func (s *Store) Save(ctx context.Context, m *matcher.Model) (FitRecord, error) {
	if s.repo == nil {
		return FitRecord{}, ErrDisabled
	}
	rec, err := NewRecord(m)
	if err != nil {
		return FitRecord{}, err
	}
	_, err = s.breaker.Execute(func() (interface{}, error) {
		return nil, s.repo.Save(ctx, rec)
	})
	if err != nil {
		return FitRecord{}, fmt.Errorf("failed to save fit %s: %w", rec.ID, err)
	}
	s.cacheSet(ctx, rec.ID, rec.Snapshot)
	s.logger.Info().Str("fit_id", rec.ID).Int("bytes", len(rec.Snapshot)).Msg("Fit saved")
	return rec, nil
}

// Load returns the model for id, from the cache when possible.
func (s *Store) Load(ctx context.Context, id string) (*matcher.Model, error) {
	if s.repo == nil {
		return nil, ErrDisabled
	}
	if data, ok := s.cacheGet(ctx, id); ok {
		m, err := matcher.Decode(data)
		if err == nil {
			return m, nil
		}
		s.logger.Warn().Err(err).Str("fit_id", id).Msg("Discarding undecodable cached snapshot")
	}

	out, err := s.breaker.Execute(func() (interface{}, error) {
		rec, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, ErrNotFound
		}
		return rec, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load fit %s: %w", id, err)
	}
	rec := out.(*FitRecord)
	m, err := rec.Model()
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, id, rec.Snapshot)
	return m, nil
}

// List returns the newest fits first.
func (s *Store) List(ctx context.Context, limit int) ([]FitRecord, error) {
	if s.repo == nil {
		return nil, ErrDisabled
	}
	out, err := s.breaker.Execute(func() (interface{}, error) {
		return s.repo.List(ctx, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list fits: %w", err)
	}
	return out.([]FitRecord), nil
}

func (s *Store) cacheGet(ctx context.Context, id string) ([]byte, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, ok, err := s.cache.Get(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Str("fit_id", id).Msg("Cache read failed")
		return nil, false
	}
	if s.cfg.Metrics != nil {
		if ok {
			s.cfg.Metrics.RecordCacheHit(cacheType)
		} else {
			s.cfg.Metrics.RecordCacheMiss(cacheType)
		}
	}
	return data, ok
}

func (s *Store) cacheSet(ctx context.Context, id string, data []byte) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, id, data, s.cfg.CacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("fit_id", id).Msg("Cache write failed")
	}
}
