package analytics_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wp-statistics/wp-statistics-sub019/internal/analytics"
	"github.com/wp-statistics/wp-statistics-sub019/internal/auth"
	"github.com/wp-statistics/wp-statistics-sub019/internal/cache"
	"github.com/wp-statistics/wp-statistics-sub019/internal/executor"
	"github.com/wp-statistics/wp-statistics-sub019/internal/formatter"
	"github.com/wp-statistics/wp-statistics-sub019/internal/labels"
	"github.com/wp-statistics/wp-statistics-sub019/internal/query"
	"github.com/wp-statistics/wp-statistics-sub019/internal/queryerr"
	"github.com/wp-statistics/wp-statistics-sub019/internal/registry"
	"github.com/wp-statistics/wp-statistics-sub019/internal/storage"
	"github.com/wp-statistics/wp-statistics-sub019/internal/testsupport"
	"github.com/wp-statistics/wp-statistics-sub019/internal/timeframe"
)

var viewer = auth.Grant(auth.LevelViewer)

type queryLog struct {
	mu       sync.Mutex
	outcomes []string
}

func (l *queryLog) ObserveQuery(format, outcome string, _ time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes = append(l.outcomes, format+":"+outcome)
}

func (l *queryLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.outcomes...)
}

func newHandler(store storage.Storage) *analytics.Handler {
	reg := registry.NewDefault()
	clock := testsupport.FixedClock{Time: time.Date(2024, 11, 30, 12, 0, 0, 0, time.UTC)}
	parser := query.NewParser(reg, timeframe.NewTimeFrameParser(clock), query.DefaultOptions())
	logger := testsupport.GetLogger()
	results := cache.NewManager[*executor.Result](cache.NewMemoryStore(100, time.Hour), cache.DefaultPolicy(), logger)
	return analytics.NewHandler(parser, executor.New(store, reg, logger), results, formatter.New(reg, labels.New()), 4, logger)
}

func dailyRequest(extra map[string]any) map[string]any {
	raw := map[string]any{
		"sources":   []any{"views"},
		"group_by":  []any{"date"},
		"date_from": "2024-11-01",
		"date_to":   "2024-11-03",
	}
	for k, v := range extra {
		raw[k] = v
	}
	return raw
}

func dailyStorage() *testsupport.CountingStorage {
	return &testsupport.CountingStorage{RowsByFrom: map[string][]storage.Row{
		"2024-11-01": testsupport.DailyRows("2024-11-01", "views", 10, 20, 30),
		"2024-10-29": testsupport.DailyRows("2024-10-29", "views", 5, 5, 5),
	}}
}

func TestQueryDailyTable(t *testing.T) {
	store := dailyStorage()
	h := newHandler(store)

	out, err := h.Query(context.Background(), dailyRequest(nil))
	require.NoError(t, err)

	resp, ok := out.Payload.(*formatter.TableResponse)
	require.True(t, ok)
	assert.Len(t, resp.Data.Rows, 3)
	assert.Equal(t, int64(3), resp.Meta.Total)
	assert.Equal(t, int64(1), resp.Meta.TotalPages)
	assert.False(t, out.Cached)
	assert.Equal(t, []analytics.State{
		analytics.StateReceived,
		analytics.StateValidated,
		analytics.StateCacheChecked,
		analytics.StateExecuting,
		analytics.StateFormatted,
		analytics.StateDone,
	}, out.States)
}

func TestQueryCacheHitSkipsStorage(t *testing.T) {
	store := dailyStorage()
	log := &queryLog{}
	h := newHandler(store).WithObserver(log)

	_, err := h.Query(context.Background(), dailyRequest(nil))
	require.NoError(t, err)
	out, err := h.Query(context.Background(), dailyRequest(nil))
	require.NoError(t, err)

	assert.True(t, out.Cached)
	assert.Equal(t, int64(1), store.AggregateCalls())
	assert.Contains(t, out.States, analytics.StateCacheHit)
	assert.NotContains(t, out.States, analytics.StateExecuting)
	assert.Equal(t, []string{"table:success", "table:cached"}, log.all())

	// The fingerprint ignores the format, so another shape reuses the cached result.
	_, err = h.Query(context.Background(), dailyRequest(map[string]any{"format": "flat"}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), store.AggregateCalls())

	// A time-series chart is unpaginated and cannot reuse a paged result.
	_, err = h.Query(context.Background(), dailyRequest(map[string]any{"format": "chart"}))
	require.NoError(t, err)
	assert.Equal(t, int64(2), store.AggregateCalls())
}

func TestQueryChartPlotsEveryDayBeyondPageSize(t *testing.T) {
	views := make([]float64, 30)
	for i := range views {
		views[i] = 7
	}
	store := &testsupport.CountingStorage{RowsByFrom: map[string][]storage.Row{
		"2024-11-01": testsupport.DailyRows("2024-11-01", "views", views...),
	}}
	h := newHandler(store)

	for _, extra := range []map[string]any{
		{"format": "chart"},
		{"format": "chart", "order_by": "views", "order": "desc"},
		{"format": "chart", "per_page": 5, "page": 2},
	} {
		extra["date_to"] = "2024-11-30"
		out, err := h.Query(context.Background(), dailyRequest(extra))
		require.NoError(t, err)

		chart, ok := out.Payload.(*formatter.ChartResponse)
		require.True(t, ok)
		require.Len(t, chart.Labels, 30)
		assert.Equal(t, "2024-11-01", chart.Labels[0])
		assert.Equal(t, "2024-11-30", chart.Labels[29])
		require.Len(t, chart.Datasets, 1)
		assert.Equal(t, views, chart.Datasets[0].Data, "no day may be zero-filled for lack of a page")
	}

	for _, req := range store.Requests() {
		assert.Equal(t, 0, req.PerPage)
	}
}

func TestQueryExportComparison(t *testing.T) {
	store := dailyStorage()
	h := newHandler(store)

	out, err := h.Query(context.Background(), dailyRequest(map[string]any{"compare": true, "format": "export"}))
	require.NoError(t, err)

	require.Len(t, out.Result.Rows, 3)
	for _, r := range out.Result.Rows {
		assert.Equal(t, 5.0, r.Previous["views"])
	}
	exp, ok := out.Payload.(*formatter.ExportResponse)
	require.True(t, ok)
	assert.Equal(t, "Views Change %", exp.Headers[3])
	assert.Equal(t, "+100%", exp.Rows[0][3])
	assert.Equal(t, int64(2), store.AggregateCalls())
}

func TestQueryChartRequiresGroupBy(t *testing.T) {
	store := dailyStorage()
	h := newHandler(store)

	out, err := h.Query(context.Background(), map[string]any{
		"sources":   []any{"views"},
		"date_from": "2024-11-01",
		"date_to":   "2024-11-03",
		"format":    "chart",
	})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Equal(t, queryerr.ChartRequiresGroupBy, queryerr.CodeOf(err))
	assert.Equal(t, int64(0), store.AggregateCalls())
	assert.Equal(t, int64(0), store.TotalsCalls())
}

func TestQueryValidationErrors(t *testing.T) {
	h := newHandler(dailyStorage())
	tests := []struct {
		name string
		raw  map[string]any
		code queryerr.Code
	}{
		{"unknown source", map[string]any{"sources": []any{"nope"}}, queryerr.InvalidSources},
		{"missing sources", map[string]any{}, queryerr.InvalidSources},
		{"unknown group by", map[string]any{"sources": []any{"views"}, "group_by": []any{"planet"}}, queryerr.InvalidGroupBy},
		{
			"inverted range",
			map[string]any{"sources": []any{"views"}, "date_from": "2024-11-05", "date_to": "2024-11-01"},
			queryerr.InvalidDateRange,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Query(context.Background(), tt.raw)
			require.Error(t, err)
			assert.Equal(t, tt.code, queryerr.CodeOf(err))
		})
	}
}

func TestQueryStorageFailureIsNotCached(t *testing.T) {
	store := dailyStorage()
	store.Err = errors.New("disk I/O error")
	h := newHandler(store)

	_, err := h.Query(context.Background(), dailyRequest(nil))
	require.Error(t, err)
	assert.Equal(t, queryerr.ExecutionFailed, queryerr.CodeOf(err))

	store.Err = nil
	out, err := h.Query(context.Background(), dailyRequest(nil))
	require.NoError(t, err)
	assert.False(t, out.Cached)
	assert.Equal(t, int64(2), store.AggregateCalls())
}

func TestBatchIsolatesFailures(t *testing.T) {
	store := dailyStorage()
	h := newHandler(store)

	resp, err := h.Batch(context.Background(), map[string]any{
		"date_from": "2024-11-01",
		"date_to":   "2024-11-03",
		"queries": []any{
			map[string]any{"id": "daily", "sources": []any{"views"}, "group_by": []any{"date"}},
			map[string]any{"id": "broken", "sources": []any{"nope"}},
			map[string]any{"sources": []any{"views"}, "format": "flat"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"daily", "broken", "query_3"}, resp.Results.Keys())
	assert.Equal(t, analytics.BatchMeta{Queries: 3, Succeeded: 2, Failed: 1}, resp.Meta)

	daily, _ := resp.Results.Get("daily")
	table, ok := daily.(*formatter.TableResponse)
	require.True(t, ok)
	assert.Len(t, table.Data.Rows, 3)

	broken, _ := resp.Results.Get("broken")
	errResp, ok := broken.(*analytics.ErrorResponse)
	require.True(t, ok)
	assert.False(t, errResp.Success)
	assert.Equal(t, string(queryerr.InvalidSources), errResp.Error.Code)

	flat, _ := resp.Results.Get("query_3")
	assert.IsType(t, &formatter.FlatResponse{}, flat)
}

func TestBatchRejectsMalformedRequest(t *testing.T) {
	h := newHandler(dailyStorage())

	_, err := h.Batch(context.Background(), map[string]any{"queries": []any{}})
	assert.Equal(t, queryerr.InvalidRequest, queryerr.CodeOf(err))

	_, err = h.Batch(context.Background(), map[string]any{"queries": []any{
		map[string]any{"id": "a", "sources": []any{"views"}},
		map[string]any{"id": "a", "sources": []any{"visits"}},
	}})
	assert.Equal(t, queryerr.InvalidRequest, queryerr.CodeOf(err))
}

type stubNetwork struct {
	authErr error
	calls   int
}

func (s *stubNetwork) Authorize(access auth.Checker) error { return s.authErr }

func (s *stubNetwork) Aggregate(_ context.Context, q *query.Query) (any, error) {
	s.calls++
	return q.Sources(), nil
}

func TestHandleAccessAndDispatch(t *testing.T) {
	h := newHandler(dailyStorage())

	_, err := h.Handle(context.Background(), dailyRequest(nil), nil)
	assert.Equal(t, queryerr.Forbidden, queryerr.CodeOf(err))
	_, err = h.Handle(context.Background(), dailyRequest(nil), auth.Grant(auth.LevelNone))
	assert.Equal(t, queryerr.Forbidden, queryerr.CodeOf(err))

	payload, err := h.Handle(context.Background(), dailyRequest(nil), viewer)
	require.NoError(t, err)
	assert.IsType(t, &formatter.TableResponse{}, payload)

	payload, err = h.Handle(context.Background(), map[string]any{
		"queries": []any{map[string]any{"sources": []any{"views"}}},
	}, viewer)
	require.NoError(t, err)
	assert.IsType(t, &analytics.BatchResponse{}, payload)

	_, err = h.Handle(context.Background(), map[string]any{"network": true}, viewer)
	assert.Equal(t, queryerr.Forbidden, queryerr.CodeOf(err), "a viewer learns nothing about multisite support")

	_, err = h.Handle(context.Background(), map[string]any{"network": true}, auth.Grant(auth.LevelNetworkAdmin))
	assert.Equal(t, queryerr.NotMultiTenant, queryerr.CodeOf(err))
}

func TestHandleNetwork(t *testing.T) {
	denied := &stubNetwork{authErr: queryerr.New(queryerr.Forbidden, "network admin required")}
	h := newHandler(dailyStorage()).WithNetwork(denied)

	_, err := h.Handle(context.Background(), map[string]any{"network": true, "sources": []any{"nope"}}, viewer)
	assert.Equal(t, queryerr.Forbidden, queryerr.CodeOf(err), "access is checked before validation")
	assert.Equal(t, 0, denied.calls)

	allowed := &stubNetwork{}
	h = newHandler(dailyStorage()).WithNetwork(allowed)
	payload, err := h.Handle(context.Background(), map[string]any{"network": true, "group_by": []any{"date"}}, viewer)
	require.NoError(t, err)
	assert.Equal(t, query.NetworkSources, payload)
	assert.Equal(t, 1, allowed.calls)
}

func TestResultSharesCacheWithQuery(t *testing.T) {
	store := dailyStorage()
	h := newHandler(store)

	out, err := h.Query(context.Background(), dailyRequest(nil))
	require.NoError(t, err)

	res, cached, err := h.Result(context.Background(), out.Query)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Len(t, res.Rows, 3)
	assert.Equal(t, int64(1), store.AggregateCalls())
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, analytics.CanTransition(analytics.StateReceived, analytics.StateValidated))
	assert.True(t, analytics.CanTransition(analytics.StateCacheHit, analytics.StateFormatted))
	assert.True(t, analytics.CanTransition(analytics.StateExecuting, analytics.StateErrored))
	assert.False(t, analytics.CanTransition(analytics.StateCacheChecked, analytics.StateErrored))
	assert.False(t, analytics.CanTransition(analytics.StateDone, analytics.StateReceived))
	assert.False(t, analytics.CanTransition(analytics.StateReceived, analytics.StateExecuting))

	assert.True(t, analytics.StateDone.IsTerminal())
	assert.True(t, analytics.StateErrored.IsTerminal())
	assert.False(t, analytics.StateFormatted.IsTerminal())
}
