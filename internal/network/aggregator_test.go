package network_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wp-statistics/wp-statistics-sub019/internal/auth"
	"github.com/wp-statistics/wp-statistics-sub019/internal/executor"
	"github.com/wp-statistics/wp-statistics-sub019/internal/formatter"
	"github.com/wp-statistics/wp-statistics-sub019/internal/network"
	"github.com/wp-statistics/wp-statistics-sub019/internal/query"
	"github.com/wp-statistics/wp-statistics-sub019/internal/queryerr"
	"github.com/wp-statistics/wp-statistics-sub019/internal/registry"
	"github.com/wp-statistics/wp-statistics-sub019/internal/sites"
	"github.com/wp-statistics/wp-statistics-sub019/internal/storage"
	"github.com/wp-statistics/wp-statistics-sub019/internal/testsupport"
	"github.com/wp-statistics/wp-statistics-sub019/internal/timeframe"
)

type staticDirectory []sites.Site

func (d staticDirectory) Tenants(context.Context) ([]sites.Site, error) { return d, nil }

type siteRunner struct {
	mu      sync.Mutex
	totals  map[uint]map[string]float64
	prev    map[uint]map[string]float64
	failFor uint
	seen    []uint
}

func (r *siteRunner) Result(_ context.Context, q *query.Query) (*executor.Result, bool, error) {
	r.mu.Lock()
	r.seen = append(r.seen, q.Site())
	r.mu.Unlock()
	if q.Site() == r.failFor {
		return nil, false, errors.New("database is locked")
	}
	row := storage.NewRow()
	for k, v := range r.totals[q.Site()] {
		row.Values[k] = v
	}
	if p, ok := r.prev[q.Site()]; ok {
		row.Previous = p
	}
	return &executor.Result{Rows: []storage.Row{row}, Totals: &row, Total: 1}, q.Site() == 2, nil
}

func networkQuery(t *testing.T, raw map[string]any) *query.Query {
	t.Helper()
	clock := testsupport.FixedClock{Time: time.Date(2024, 11, 30, 12, 0, 0, 0, time.UTC)}
	p := query.NewParser(registry.NewDefault(), timeframe.NewTimeFrameParser(clock), query.DefaultOptions())
	q, err := p.ParseNetwork(raw)
	require.NoError(t, err)
	return q
}

var tenants = staticDirectory{
	{ID: 1, Domain: "a.example.com", Name: "A", Active: true},
	{ID: 2, Domain: "b.example.com", Name: "B", Active: true},
	{ID: 3, Domain: "c.example.com", Name: "C", Active: true},
}

func TestAuthorize(t *testing.T) {
	agg := network.NewAggregator(&siteRunner{}, tenants, registry.NewDefault(), true, 2, testsupport.GetLogger())
	single := network.NewAggregator(&siteRunner{}, tenants, registry.NewDefault(), false, 2, testsupport.GetLogger())

	viewer := auth.Grant(auth.LevelViewer)

	assert.Equal(t, queryerr.Forbidden, queryerr.CodeOf(agg.Authorize(viewer)))
	assert.Equal(t, queryerr.Forbidden, queryerr.CodeOf(agg.Authorize(nil)))
	assert.Equal(t, queryerr.Forbidden, queryerr.CodeOf(single.Authorize(viewer)))

	hash, err := auth.HashKey("network-secret")
	require.NoError(t, err)
	grant, err := auth.NewVerifier("", hash).Verify("network-secret")
	require.NoError(t, err)

	assert.NoError(t, agg.Authorize(grant))
	assert.Equal(t, queryerr.NotMultiTenant, queryerr.CodeOf(single.Authorize(grant)))
}

func TestAggregateSumsAdditiveAndAveragesRates(t *testing.T) {
	runner := &siteRunner{totals: map[uint]map[string]float64{
		1: {"visitors": 10, "views": 100, "bounce_rate": 40},
		2: {"visitors": 5, "views": 50, "bounce_rate": 60},
		3: {},
	}}
	agg := network.NewAggregator(runner, tenants, registry.NewDefault(), true, 2, testsupport.GetLogger())
	q := networkQuery(t, map[string]any{
		"network":   true,
		"sources":   []any{"visitors", "views", "bounce_rate"},
		"group_by":  []any{"date"},
		"date_from": "2024-11-01",
		"date_to":   "2024-11-03",
	})
	assert.False(t, q.HasGroupBy())

	out, err := agg.Aggregate(context.Background(), q)
	require.NoError(t, err)
	resp := out.(*network.Response)

	assert.True(t, resp.Success)
	assert.Equal(t, 3, resp.Meta.Sites)
	assert.Equal(t, "Bounce Rate", resp.Meta.Labels["bounce_rate"])
	assert.ElementsMatch(t, []uint{1, 2, 3}, runner.seen)

	require.Len(t, resp.Data.Sites, 3)
	assert.Equal(t, "a.example.com", resp.Data.Sites[0].Domain)
	assert.True(t, resp.Data.Sites[1].Cached)
	v, _ := resp.Data.Sites[2].Totals.Get("views")
	assert.Equal(t, 0.0, v)

	visitors, _ := resp.Data.Totals.Get("visitors")
	views, _ := resp.Data.Totals.Get("views")
	bounce, _ := resp.Data.Totals.Get("bounce_rate")
	assert.Equal(t, 15.0, visitors)
	assert.Equal(t, 150.0, views)
	assert.Equal(t, 50.0, bounce, "averaged over the two sites with data")
}

func TestAggregateDefaultsSourcesAndCompares(t *testing.T) {
	runner := &siteRunner{
		totals: map[uint]map[string]float64{1: {"visitors": 4, "visits": 6, "views": 8}},
		prev:   map[uint]map[string]float64{1: {"visitors": 2, "visits": 3, "views": 4}},
	}
	agg := network.NewAggregator(runner, tenants[:1], registry.NewDefault(), true, 1, testsupport.GetLogger())
	q := networkQuery(t, map[string]any{
		"network":   true,
		"date_from": "2024-11-01",
		"date_to":   "2024-11-03",
		"compare":   true,
	})
	assert.Equal(t, query.NetworkSources, q.Sources())

	out, err := agg.Aggregate(context.Background(), q)
	require.NoError(t, err)
	resp := out.(*network.Response)

	assert.Equal(t, "2024-10-29", resp.Meta.CompareFrom)
	assert.Equal(t, "2024-10-31", resp.Meta.CompareTo)
	prev, ok := resp.Data.Totals.Get("previous")
	require.True(t, ok)
	views, _ := prev.(*formatter.Record).Get("views")
	assert.Equal(t, 4.0, views)
}

func TestAggregateFailsWhenAnyTenantFails(t *testing.T) {
	runner := &siteRunner{failFor: 2}
	agg := network.NewAggregator(runner, tenants, registry.NewDefault(), true, 3, testsupport.GetLogger())
	q := networkQuery(t, map[string]any{"network": true, "date_from": "2024-11-01", "date_to": "2024-11-03"})

	_, err := agg.Aggregate(context.Background(), q)
	require.Error(t, err)
	assert.Equal(t, queryerr.ExecutionFailed, queryerr.CodeOf(err))
}

func TestAggregateWithoutTenants(t *testing.T) {
	agg := network.NewAggregator(&siteRunner{}, staticDirectory{}, registry.NewDefault(), true, 3, testsupport.GetLogger())
	q := networkQuery(t, map[string]any{"network": true, "date_from": "2024-11-01", "date_to": "2024-11-03"})

	out, err := agg.Aggregate(context.Background(), q)
	require.NoError(t, err)
	resp := out.(*network.Response)
	assert.Empty(t, resp.Data.Sites)
	views, _ := resp.Data.Totals.Get("views")
	assert.Equal(t, 0.0, views)
}

func TestSiteDirectoryListsActiveSites(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	testsupport.CreateTestSite(t, db, "one.example.com")
	testsupport.CreateTestSite(t, db, "two.example.com")

	dir := network.NewSiteDirectory(db, testsupport.GetLogger())
	list, err := dir.Tenants(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 2)

	testsupport.CreateTestSite(t, db, "three.example.com")
	list, err = dir.Tenants(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 2, "served from cache")

	dir.Refresh()
	list, err = dir.Tenants(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 3)
}
