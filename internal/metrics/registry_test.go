package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageTimerRecordsDuration(t *testing.T) {
	m := NewMetricsRegistry(nil)
	timer := m.StartStage(StageStrata)
	d := timer.Stop(ResultSuccess)
	assert.GreaterOrEqual(t, d.Nanoseconds(), int64(0))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Stages.WithLabelValues("strata", "success")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))
}

func TestFitLifecycle(t *testing.T) {
	m := NewMetricsRegistry(nil)
	m.FitStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveFits))
	m.FitFinished()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveFits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TotalFits))

	m.RecordFitError(StageEstimate, "estimation")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FitErrors.WithLabelValues("estimate", "estimation")))
}

func TestMatchingOutcome(t *testing.T) {
	m := NewMetricsRegistry(nil)
	m.RecordUnits("treated", 8, 2)
	m.RecordLevels("treated", []int{5, 0, 3})
	m.RecordBalance(0.8, 0.4, 0.1)

	assert.Equal(t, 8.0, testutil.ToFloat64(m.Units.WithLabelValues("treated", "matched")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Units.WithLabelValues("treated", "unmatched")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.Levels.WithLabelValues("treated", "0")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Levels.WithLabelValues("treated", "2")))
	// empty levels are not exported
	assert.Equal(t, 2, testutil.CollectAndCount(m.Levels))
	assert.Equal(t, 0.8, testutil.ToFloat64(m.Retention))
	assert.Equal(t, 0.1, testutil.ToFloat64(m.Imbalance.WithLabelValues("after")))
}

func TestCacheHitRatio(t *testing.T) {
	m := NewMetricsRegistry(nil)
	m.RecordCacheHit("snapshot")
	m.RecordCacheHit("snapshot")
	m.RecordCacheHit("snapshot")
	m.RecordCacheMiss("snapshot")

	assert.Equal(t, 0.75, testutil.ToFloat64(m.CacheHitRatio))
	assert.Equal(t, 3.0, counterValue(m.CacheHits, "snapshot"))
	assert.Equal(t, 0.0, counterValue(m.CacheHits, "a", "b"))
}

func TestHandlerExposesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsRegistry(reg)
	m.RecordRequest("/fits", http.StatusOK)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `timmatch_http_requests_total{code="200",route="/fits"} 1`)
}
