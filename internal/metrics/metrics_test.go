package metrics_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wp-statistics/wp-statistics-sub019/internal/cache"
	"github.com/wp-statistics/wp-statistics-sub019/internal/metrics"
	"github.com/wp-statistics/wp-statistics-sub019/internal/storage"
)

var (
	_ cache.Recorder   = (*metrics.Metrics)(nil)
	_ storage.Observer = (*metrics.Metrics)(nil)
)

func TestObserveQuery(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.ObserveQuery("table", metrics.OutcomeSuccess, 20*time.Millisecond)
	m.ObserveQuery("table", metrics.OutcomeSuccess, 10*time.Millisecond)
	m.ObserveQuery("chart", metrics.OutcomeError, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("table", metrics.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("chart", metrics.OutcomeError)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.QueryDuration))
}

func TestCacheAndStorageObservers(t *testing.T) {
	m := metrics.New(nil)

	m.CacheResult(cache.ResultHit)
	m.CacheResult(cache.ResultMiss)
	m.CacheResult(cache.ResultHit)
	m.ObserveStorage("aggregate", time.Millisecond, nil)
	m.ObserveStorage("totals", time.Millisecond, errors.New("locked"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheRequestsTotal.WithLabelValues(cache.ResultHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequestsTotal.WithLabelValues(cache.ResultMiss)))

	expected := `
		# HELP wpstats_storage_errors_total Total number of failed aggregation queries
		# TYPE wpstats_storage_errors_total counter
		wpstats_storage_errors_total{operation="totals"} 1
	`
	require.NoError(t, testutil.CollectAndCompare(m.StorageErrorsTotal, strings.NewReader(expected)))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := metrics.New(nil)
	m.ObserveQuery("flat", metrics.OutcomeCached, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `wpstats_queries_total{format="flat",outcome="cached"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
