// Package metrics exposes Prometheus telemetry for fits, the snapshot cache
// and the query server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Stage names a step of a fit.
type Stage string

const (
	StagePrepare    Stage = "prepare"
	StageImportance Stage = "importance"
	StageStrata     Stage = "strata"
	StageResolve    Stage = "resolve"
	StageDistance   Stage = "distance"
	StageEstimate   Stage = "estimate"
)

// Result labels the outcome of a stage.
type Result string

const (
	ResultSuccess Result = "success"
	ResultError   Result = "error"
)

// cacheTypes are the cache label values the hit ratio is computed over.
var cacheTypes = []string{"snapshot"}

// MetricsRegistry holds all Prometheus metrics of timmatch.
type MetricsRegistry struct {
	gatherer prometheus.Gatherer

	// Fit pipeline
	StageDuration *prometheus.HistogramVec
	Stages        *prometheus.CounterVec
	FitErrors     *prometheus.CounterVec
	ActiveFits    prometheus.Gauge
	TotalFits     prometheus.Counter

	// Matching outcome
	Units     *prometheus.CounterVec
	Levels    *prometheus.CounterVec
	Retention prometheus.Gauge
	Imbalance *prometheus.GaugeVec

	// Snapshot cache
	CacheHitRatio prometheus.Gauge
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec

	// Query server
	Requests *prometheus.CounterVec
}

// NewMetricsRegistry creates the metrics and registers them with reg. A nil
// reg uses a fresh private registry.
func NewMetricsRegistry(reg *prometheus.Registry) *MetricsRegistry {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &MetricsRegistry{
		gatherer: reg,

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "timmatch_stage_duration_seconds",
				Help:    "Duration of each fit stage in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"stage", "result"},
		),

		Stages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timmatch_stages_total",
				Help: "Total number of fit stages executed",
			},
			[]string{"stage", "result"},
		),

		FitErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timmatch_fit_errors_total",
				Help: "Total number of failed fits by stage and error kind",
			},
			[]string{"stage", "kind"},
		),

		ActiveFits: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "timmatch_active_fits",
				Help: "Number of fits currently running",
			},
		),

		TotalFits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "timmatch_fits_total",
				Help: "Total number of fits started",
			},
		),

		Units: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timmatch_units_total",
				Help: "Units processed by arm and match status",
			},
			[]string{"arm", "status"},
		),

		Levels: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timmatch_resolution_level_total",
				Help: "Matched units by arm and relaxation level",
			},
			[]string{"arm", "level"},
		),

		Retention: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "timmatch_treated_retention",
				Help: "Share of treated units matched by the last fit",
			},
		),

		Imbalance: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "timmatch_l1_imbalance",
				Help: "L1 multivariate imbalance of the last fit",
			},
			[]string{"phase"},
		),

		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "timmatch_cache_hit_ratio",
				Help: "Current snapshot cache hit ratio (0.0 to 1.0)",
			},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timmatch_cache_hits_total",
				Help: "Total number of cache hits by cache type",
			},
			[]string{"cache_type"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timmatch_cache_misses_total",
				Help: "Total number of cache misses by cache type",
			},
			[]string{"cache_type"},
		),

		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timmatch_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
	}

	reg.MustRegister(
		m.StageDuration,
		m.Stages,
		m.FitErrors,
		m.ActiveFits,
		m.TotalFits,
		m.Units,
		m.Levels,
		m.Retention,
		m.Imbalance,
		m.CacheHitRatio,
		m.CacheHits,
		m.CacheMisses,
		m.Requests,
	)
	return m
}

// StageTimer tracks execution time for a fit stage.
type StageTimer struct {
	metrics *MetricsRegistry
	stage   Stage
	start   time.Time
}

// StartStage begins timing a stage.
func (m *MetricsRegistry) StartStage(stage Stage) *StageTimer {
	return &StageTimer{metrics: m, stage: stage, start: time.Now()}
}

// Stop records the stage duration and outcome.
func (st *StageTimer) Stop(result Result) time.Duration {
	duration := time.Since(st.start)
	st.metrics.StageDuration.WithLabelValues(string(st.stage), string(result)).Observe(duration.Seconds())
	st.metrics.Stages.WithLabelValues(string(st.stage), string(result)).Inc()

	log.Debug().
		Str("stage", string(st.stage)).
		Str("result", string(result)).
		Dur("duration", duration).
		Msg("Fit stage completed")
	return duration
}

// FitStarted marks a fit as running.
func (m *MetricsRegistry) FitStarted() {
	m.ActiveFits.Inc()
	m.TotalFits.Inc()
}

// FitFinished marks a running fit as done.
func (m *MetricsRegistry) FitFinished() {
	m.ActiveFits.Dec()
}

// RecordFitError counts a failed fit.
func (m *MetricsRegistry) RecordFitError(stage Stage, kind string) {
	m.FitErrors.WithLabelValues(string(stage), kind).Inc()
	log.Warn().
		Str("stage", string(stage)).
		Str("kind", kind).
		Msg("Fit error recorded")
}

// RecordUnits counts matched and unmatched units of one arm.
func (m *MetricsRegistry) RecordUnits(arm string, matched, unmatched int) {
	m.Units.WithLabelValues(arm, "matched").Add(float64(matched))
	m.Units.WithLabelValues(arm, "unmatched").Add(float64(unmatched))
}

// RecordLevels counts matched units per relaxation level.
func (m *MetricsRegistry) RecordLevels(arm string, histogram []int) {
	for k, n := range histogram {
		if n > 0 {
			m.Levels.WithLabelValues(arm, strconv.Itoa(k)).Add(float64(n))
		}
	}
}

// RecordBalance sets the retention and imbalance gauges.
func (m *MetricsRegistry) RecordBalance(retention, before, after float64) {
	m.Retention.Set(retention)
	m.Imbalance.WithLabelValues("before").Set(before)
	m.Imbalance.WithLabelValues("after").Set(after)
}

// RecordCacheHit records a cache hit for the specified cache type.
func (m *MetricsRegistry) RecordCacheHit(cacheType string) {
	m.CacheHits.WithLabelValues(cacheType).Inc()
	m.updateCacheHitRatio()
}

// RecordCacheMiss records a cache miss for the specified cache type.
func (m *MetricsRegistry) RecordCacheMiss(cacheType string) {
	m.CacheMisses.WithLabelValues(cacheType).Inc()
	m.updateCacheHitRatio()
}

// RecordRequest counts an HTTP request.
func (m *MetricsRegistry) RecordRequest(route string, code int) {
	m.Requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func (m *MetricsRegistry) updateCacheHitRatio() {
	var totalHits, totalMisses float64
	for _, cacheType := range cacheTypes {
		totalHits += counterValue(m.CacheHits, cacheType)
		totalMisses += counterValue(m.CacheMisses, cacheType)
	}
	if total := totalHits + totalMisses; total > 0 {
		m.CacheHitRatio.Set(totalHits / total)
	}
}

func counterValue(vec *prometheus.CounterVec, labels ...string) float64 {
	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		return 0
	}
	return out.GetCounter().GetValue()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
