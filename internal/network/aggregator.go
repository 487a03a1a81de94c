// Package network answers queries across every site of a multisite installation.
package network

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/wp-statistics/wp-statistics-sub019/internal/auth"
	"github.com/wp-statistics/wp-statistics-sub019/internal/executor"
	"github.com/wp-statistics/wp-statistics-sub019/internal/formatter"
	"github.com/wp-statistics/wp-statistics-sub019/internal/query"
	"github.com/wp-statistics/wp-statistics-sub019/internal/queryerr"
	"github.com/wp-statistics/wp-statistics-sub019/internal/registry"
	"github.com/wp-statistics/wp-statistics-sub019/internal/storage"
)

// Runner returns the, possibly cached, Result of a tenant-scoped query.
type Runner interface {
	Result(ctx context.Context, q *query.Query) (*executor.Result, bool, error)
}

type SiteTotals struct {
	SiteID uint              `json:"site_id"`
	Domain string            `json:"domain"`
	Name   string            `json:"name"`
	Totals *formatter.Record `json:"totals"`
	Cached bool              `json:"cached"`
}

type Data struct {
	Sites  []SiteTotals      `json:"sites"`
	Totals *formatter.Record `json:"totals"`
}

type Meta struct {
	DateFrom    string            `json:"date_from"`
	DateTo      string            `json:"date_to"`
	CompareFrom string            `json:"compare_from,omitempty"`
	CompareTo   string            `json:"compare_to,omitempty"`
	Sites       int               `json:"sites"`
	Labels      map[string]string `json:"labels"`
}

type Response struct {
	Success bool `json:"success"`
	Data    Data `json:"data"`
	Meta    Meta `json:"meta"`
}

// Aggregator fans a query out to every tenant and merges their totals.
type Aggregator struct {
	runner    Runner
	dir       Directory
	reg       *registry.Registry
	multisite bool
	workers   int
	logger    *slog.Logger
}

// NewAggregator creates an Aggregator. multisite false makes every request fail with NotMultiTenant.
func NewAggregator(runner Runner, dir Directory, reg *registry.Registry, multisite bool, workers int, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	return &Aggregator{runner: runner, dir: dir, reg: reg, multisite: multisite, workers: workers, logger: logger}
}

// Authorize requires network-admin access and a multisite installation.
func (a *Aggregator) Authorize(access auth.Checker) error {
	if access == nil || !access.HasAccess(auth.LevelNetworkAdmin) {
		return queryerr.New(queryerr.Forbidden, "network queries require network admin access")
	}
	if !a.multisite {
		return queryerr.New(queryerr.NotMultiTenant, "network queries require a multisite installation")
	}
	return nil
}

type siteResult struct {
	res    *executor.Result
	cached bool
}

// Aggregate runs q once per tenant. Any tenant failure fails the whole request.
func (a *Aggregator) Aggregate(ctx context.Context, q *query.Query) (any, error) {
	if !a.multisite {
		return nil, queryerr.New(queryerr.NotMultiTenant, "network queries require a multisite installation")
	}

	tenants, err := a.dir.Tenants(ctx)
	if err != nil {
		return nil, queryerr.Wrap(queryerr.ExecutionFailed, err, "failed to list network sites")
	}

	results := make([]siteResult, len(tenants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, site := range tenants {
		g.Go(func() error {
			res, cached, err := a.runner.Result(gctx, q.WithSite(site.ID))
			if err != nil {
				return fmt.Errorf("site %d: %w", site.ID, err)
			}
			results[i] = siteResult{res: res, cached: cached}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.logger.Error("Network query failed", slog.Any("error", err))
		return nil, queryerr.Wrap(queryerr.ExecutionFailed, err, "network aggregation failed")
	}

	resp := &Response{
		Success: true,
		Data:    Data{Sites: make([]SiteTotals, 0, len(tenants))},
		Meta: Meta{
			DateFrom: q.DateRange().FromString(),
			DateTo:   q.DateRange().ToString(),
			Sites:    len(tenants),
			Labels:   make(map[string]string),
		},
	}
	if prev, ok := q.ComparisonRange(); ok {
		resp.Meta.CompareFrom = prev.FromString()
		resp.Meta.CompareTo = prev.ToString()
	}
	for _, s := range q.Sources() {
		resp.Meta.Labels[s] = a.reg.SourceLabel(s)
	}

	rows := make([]storage.Row, 0, len(tenants))
	for i, site := range tenants {
		row := totalsOf(results[i].res)
		rows = append(rows, row)
		resp.Data.Sites = append(resp.Data.Sites, SiteTotals{
			SiteID: site.ID,
			Domain: site.Domain,
			Name:   site.Name,
			Totals: record(q, row),
			Cached: results[i].cached,
		})
	}
	resp.Data.Totals = record(q, a.Merge(q.Sources(), rows))
	return resp, nil
}

// Merge combines per-site rows. Additive sources are summed; the others are
// averaged over the sites that have any data in that period.
func (a *Aggregator) Merge(sources []string, rows []storage.Row) storage.Row {
	out := storage.NewRow()
	out.Values = mergeValues(a.reg, sources, rows, func(r storage.Row) map[string]float64 { return r.Values })

	comparing := false
	for _, r := range rows {
		if r.Previous != nil {
			comparing = true
			break
		}
	}
	if comparing {
		out.Previous = mergeValues(a.reg, sources, rows, func(r storage.Row) map[string]float64 { return r.Previous })
	}
	return out
}

func mergeValues(reg *registry.Registry, sources []string, rows []storage.Row, pick func(storage.Row) map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(sources))
	withData := 0
	for _, r := range rows {
		if hasData(pick(r)) {
			withData++
		}
	}
	for _, s := range sources {
		def, _ := reg.Sources.Get(s)
		var sum float64
		for _, r := range rows {
			sum += pick(r)[s]
		}
		switch {
		case def.Additive:
			out[s] = sum
		case withData > 0:
			out[s] = math.Round(sum/float64(withData)*100) / 100
		default:
			out[s] = 0
		}
	}
	return out
}

func hasData(values map[string]float64) bool {
	for _, v := range values {
		if v != 0 {
			return true
		}
	}
	return false
}

func totalsOf(res *executor.Result) storage.Row {
	if res == nil {
		return storage.NewRow()
	}
	if res.Totals != nil {
		return *res.Totals
	}
	if len(res.Rows) > 0 {
		return res.Rows[0]
	}
	return storage.NewRow()
}

func record(q *query.Query, row storage.Row) *formatter.Record {
	rec := &formatter.Record{}
	for _, s := range q.Sources() {
		rec.Set(s, row.Values[s])
	}
	if q.Compare() {
		prev := &formatter.Record{}
		for _, s := range q.Sources() {
			prev.Set(s, row.Previous[s])
		}
		rec.Set("previous", prev)
	}
	return rec
}
