package matcher

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/timmatch/internal/domain/importance"
	"github.com/sawpanic/timmatch/internal/metrics"
)

// Option customizes a Fit.
type Option func(*options)

type options struct {
	scorer  importance.Scorer
	logger  zerolog.Logger
	metrics *metrics.MetricsRegistry
	clock   func() time.Time
	newID   func() string
}

func defaultOptions() options {
	return options{
		logger: log.Logger,
		clock:  time.Now,
		newID:  uuid.NewString,
	}
}

// WithScorer replaces the configured importance scorer.
func WithScorer(s importance.Scorer) Option {
	return func(o *options) { o.scorer = s }
}

// WithLogger sets the logger for stage progress.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records stage timings and matching outcomes.
func WithMetrics(m *metrics.MetricsRegistry) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock sets the clock used for the model's creation time.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// WithID sets the model id generator.
func WithID(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}
