// Package executor resolves a validated Query against the storage collaborator
// and assembles a Result, merging the comparison period when requested.
package executor

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/wp-statistics/wp-statistics-sub019/internal/query"
	"github.com/wp-statistics/wp-statistics-sub019/internal/queryerr"
	"github.com/wp-statistics/wp-statistics-sub019/internal/registry"
	"github.com/wp-statistics/wp-statistics-sub019/internal/storage"
	"github.com/wp-statistics/wp-statistics-sub019/internal/timeframe"
)

// Result is the shape-independent outcome of a query. It is what the cache stores.
type Result struct {
	Rows        []storage.Row `json:"rows"`
	Totals      *storage.Row  `json:"totals,omitempty"`
	Total       int64         `json:"total"`
	CompareFrom string        `json:"compare_from,omitempty"`
	CompareTo   string        `json:"compare_to,omitempty"`
}

// Executor runs queries.
type Executor struct {
	store  storage.Storage
	reg    *registry.Registry
	logger *slog.Logger
}

// New creates an Executor.
func New(store storage.Storage, reg *registry.Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{store: store, reg: reg, logger: logger}
}

// Execute runs the primary aggregation plus, as requested, the comparison and
// totals aggregations. Any storage failure fails the whole run.
func (e *Executor) Execute(ctx context.Context, q *query.Query) (*Result, error) {
	orderBy, desc := q.OrderBy()
	base := storage.AggregateRequest{
		Sources:   q.Sources(),
		GroupBy:   q.GroupBy(),
		Filters:   q.Filters(),
		Range:     q.DateRange(),
		Site:      q.Site(),
		OrderBy:   orderBy,
		OrderDesc: desc,
	}
	prevRange, comparing := q.ComparisonRange()
	// Comparing pages over the merged groups of both periods, so both sides are
	// fetched whole and paginated here.
	if q.HasGroupBy() && !comparing {
		base.Page = q.Page()
		base.PerPage = q.PerPage()
	}

	var (
		rows, prevRows []storage.Row
		total          int64
		totals         storage.Row
		prevTotals     storage.Row
	)
	wantTotals := q.ShowTotals() && q.HasGroupBy()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, total, err = e.store.Aggregate(gctx, base)
		return err
	})
	if comparing {
		g.Go(func() error {
			req := base
			req.Range = prevRange
			var err error
			prevRows, _, err = e.store.Aggregate(gctx, req)
			return err
		})
	}
	if wantTotals {
		g.Go(func() error {
			var err error
			totals, err = e.store.AggregateTotals(gctx, totalsRequest(q, q.DateRange()))
			return err
		})
		if comparing {
			g.Go(func() error {
				var err error
				prevTotals, err = e.store.AggregateTotals(gctx, totalsRequest(q, prevRange))
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		e.logger.Error("Query execution failed", slog.String("fingerprint", q.Fingerprint()), slog.Any("error", err))
		return nil, queryerr.Wrap(queryerr.ExecutionFailed, err, "aggregation failed")
	}

	res := &Result{}
	sources := q.Sources()

	if !q.HasGroupBy() {
		row := firstOrZero(rows, sources)
		if comparing {
			row.Previous = valuesOf(firstOrZero(prevRows, sources), sources)
		}
		res.Rows = []storage.Row{row}
		res.Total = 1
		if q.ShowTotals() {
			t := copyRow(row)
			res.Totals = &t
		}
	} else {
		res.Rows = rows
		if res.Rows == nil {
			res.Rows = []storage.Row{}
		}
		res.Total = total
		if comparing {
			merged := e.mergePrevious(q, res.Rows, prevRows)
			res.Total = int64(len(merged))
			res.Rows = paginate(merged, q.Page(), q.PerPage())
		}
		if wantTotals {
			zeroFill(&totals, sources)
			if comparing {
				totals.Previous = valuesOf(prevTotals, sources)
			}
			res.Totals = &totals
		}
	}

	if comparing {
		res.CompareFrom = prevRange.FromString()
		res.CompareTo = prevRange.ToString()
	}
	return res, nil
}

func totalsRequest(q *query.Query, r timeframe.Range) storage.TotalsRequest {
	return storage.TotalsRequest{Sources: q.Sources(), Filters: q.Filters(), Range: r, Site: q.Site()}
}

// mergePrevious attaches each previous-period row to its current counterpart.
// Temporal axes are matched by bucket position, the others by value. Groups that only
// exist in the previous period are added zero-filled, so they count towards the total
// and take their place in the requested order.
func (e *Executor) mergePrevious(q *query.Query, rows, prevRows []storage.Row) []storage.Row {
	sources := q.Sources()
	axes := e.axes(q)
	cur := q.DateRange()
	prev, _ := q.ComparisonRange()

	prevByKey := make(map[string]storage.Row, len(prevRows))
	prevOrder := make([]string, 0, len(prevRows))
	for _, r := range prevRows {
		k := axes.matchKey(r, prev)
		if _, dup := prevByKey[k]; !dup {
			prevOrder = append(prevOrder, k)
		}
		prevByKey[k] = r
	}

	matched := make(map[string]bool, len(rows))
	for i := range rows {
		k := axes.matchKey(rows[i], cur)
		matched[k] = true
		rows[i].Previous = valuesOf(prevByKey[k], sources)
	}

	added := false
	for _, k := range prevOrder {
		if matched[k] {
			continue
		}
		p := prevByKey[k]
		keys, ok := axes.currentKeys(p, prev, cur)
		if !ok {
			continue
		}
		row := storage.NewRow()
		row.Keys = keys
		for _, s := range sources {
			row.Values[s] = 0
		}
		row.Previous = valuesOf(p, sources)
		rows = append(rows, row)
		added = true
	}

	if added {
		axes.resort(q, rows)
	}
	return rows
}

// paginate slices the 1-based page out of rows. perPage 0 returns every row.
func paginate(rows []storage.Row, page, perPage int) []storage.Row {
	if perPage <= 0 {
		return rows
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(rows) {
		return []storage.Row{}
	}
	return rows[start:min(start+perPage, len(rows))]
}

type axis struct {
	alias    string
	temporal timeframe.TimeFrameBucketSize
}

type axisSet []axis

func (e *Executor) axes(q *query.Query) axisSet {
	out := make(axisSet, 0, len(q.GroupBy()))
	for _, name := range q.GroupBy() {
		g, _ := e.reg.GroupBys.Get(name)
		out = append(out, axis{alias: g.Alias, temporal: g.Temporal})
	}
	return out
}

// matchKey builds the cross-period identity of a row within range r.
func (a axisSet) matchKey(row storage.Row, r timeframe.Range) string {
	parts := make([]string, len(a))
	for i, ax := range a {
		v := row.Keys[ax.alias]
		if ax.temporal != timeframe.TimeFrameBucketSizeNone {
			if idx, ok := r.BucketIndex(ax.temporal)[v]; ok {
				v = "#" + strconv.Itoa(idx)
			}
		}
		parts[i] = v
	}
	return strings.Join(parts, "\x1f")
}

// currentKeys maps a previous-period row's keys onto the current range.
// Temporal buckets beyond the current range have no counterpart.
func (a axisSet) currentKeys(row storage.Row, prev, cur timeframe.Range) (map[string]string, bool) {
	keys := make(map[string]string, len(a))
	for _, ax := range a {
		v := row.Keys[ax.alias]
		if ax.temporal != timeframe.TimeFrameBucketSizeNone {
			idx, ok := prev.BucketIndex(ax.temporal)[v]
			curBuckets := cur.Buckets(ax.temporal)
			if !ok || idx >= len(curBuckets) {
				return nil, false
			}
			v = curBuckets[idx]
		}
		keys[ax.alias] = v
	}
	return keys, true
}

// resort restores the requested order after zero rows were added. The sort is
// stable, so storage tie-breaks survive.
func (a axisSet) resort(q *query.Query, rows []storage.Row) {
	col, desc := q.OrderBy()
	byKey := false
	for _, ax := range a {
		if ax.alias == col {
			byKey = true
			break
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if byKey {
			if desc {
				return rows[i].Keys[col] > rows[j].Keys[col]
			}
			return rows[i].Keys[col] < rows[j].Keys[col]
		}
		if desc {
			return rows[i].Values[col] > rows[j].Values[col]
		}
		return rows[i].Values[col] < rows[j].Values[col]
	})
}

func firstOrZero(rows []storage.Row, sources []string) storage.Row {
	if len(rows) == 0 {
		row := storage.NewRow()
		zeroFill(&row, sources)
		return row
	}
	row := rows[0]
	zeroFill(&row, sources)
	return row
}

func zeroFill(row *storage.Row, sources []string) {
	if row.Values == nil {
		row.Values = map[string]float64{}
	}
	if row.Keys == nil {
		row.Keys = map[string]string{}
	}
	for _, s := range sources {
		if _, ok := row.Values[s]; !ok {
			row.Values[s] = 0
		}
	}
}

func valuesOf(row storage.Row, sources []string) map[string]float64 {
	out := make(map[string]float64, len(sources))
	for _, s := range sources {
		out[s] = row.Values[s]
	}
	return out
}

func copyRow(r storage.Row) storage.Row {
	c := storage.NewRow()
	for k, v := range r.Keys {
		c.Keys[k] = v
	}
	for k, v := range r.Values {
		c.Values[k] = v
	}
	if r.Previous != nil {
		c.Previous = make(map[string]float64, len(r.Previous))
		for k, v := range r.Previous {
			c.Previous[k] = v
		}
	}
	return c
}
