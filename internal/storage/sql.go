package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gorm.io/gorm"

	"github.com/wp-statistics/wp-statistics-sub019/internal/registry"
)

// Observer is notified of every storage round trip.
type Observer interface {
	ObserveStorage(operation string, elapsed time.Duration, err error)
}

// SQLStore aggregates visits with dynamically built SQL.
// Expressions come from the registry, never from request input.
type SQLStore struct {
	db       *gorm.DB
	reg      *registry.Registry
	logger   *slog.Logger
	observer Observer
}

// NewSQLStore creates a store over db.
func NewSQLStore(db *gorm.DB, reg *registry.Registry, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{db: db, reg: reg, logger: logger}
}

// WithObserver attaches an observer and returns the store.
func (s *SQLStore) WithObserver(o Observer) *SQLStore {
	s.observer = o
	return s
}

type statement struct {
	query string
	args  []any
}

type sqlPlan struct {
	rows  statement
	count statement
}

// buildPlan turns a request into the row and count statements.
func (s *SQLStore) buildPlan(req AggregateRequest) (*sqlPlan, error) {
	sources, err := s.resolveSources(req.Sources)
	if err != nil {
		return nil, err
	}
	groups := make([]registry.GroupBy, 0, len(req.GroupBy))
	for _, name := range req.GroupBy {
		g, ok := s.reg.GroupBys.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown group-by %q", name)
		}
		groups = append(groups, g)
	}

	joinNames := [][]string{}
	selects := make([]string, 0, len(groups)+len(sources))
	groupExprs := make([]string, 0, len(groups))
	for _, g := range groups {
		selects = append(selects, fmt.Sprintf("%s AS %s", g.Expression, quoteIdent(g.Alias)))
		groupExprs = append(groupExprs, g.Expression)
		joinNames = append(joinNames, g.Joins)
	}
	for _, src := range sources {
		selects = append(selects, fmt.Sprintf("%s AS %s", src.Expression, quoteIdent(src.Name)))
		joinNames = append(joinNames, src.Joins)
	}

	where, whereArgs, filterJoins, err := s.buildWhere(req.Filters, req)
	if err != nil {
		return nil, err
	}
	joinNames = append(joinNames, filterJoins)
	from := s.buildFrom(joinNames)

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(selects, ", "))
	b.WriteString(from)
	b.WriteString(where)
	if len(groupExprs) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(groupExprs, ", "))
		b.WriteString(buildOrder(req, groups))
	}

	rowArgs := append([]any{}, whereArgs...)
	if len(groupExprs) > 0 && req.PerPage > 0 {
		page := req.Page
		if page < 1 {
			page = 1
		}
		b.WriteString(" LIMIT ? OFFSET ?")
		rowArgs = append(rowArgs, req.PerPage, (page-1)*req.PerPage)
	}

	plan := &sqlPlan{rows: statement{query: b.String(), args: rowArgs}}
	if len(groupExprs) > 0 {
		plan.count = statement{
			query: "SELECT COUNT(*) FROM (SELECT 1" + from + where + " GROUP BY " + strings.Join(groupExprs, ", ") + ") AS grouped",
			args:  append([]any{}, whereArgs...),
		}
	}
	return plan, nil
}

func (s *SQLStore) resolveSources(names []string) ([]registry.Source, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no sources requested")
	}
	out := make([]registry.Source, 0, len(names))
	for _, name := range names {
		src, ok := s.reg.Sources.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown source %q", name)
		}
		out = append(out, src)
	}
	return out, nil
}

func (s *SQLStore) buildFrom(joinNames [][]string) string {
	var b strings.Builder
	b.WriteString(" FROM visits v")
	for _, j := range s.reg.ResolveJoins(joinNames...) {
		b.WriteString(" ")
		b.WriteString(j.Clause)
	}
	return b.String()
}

// buildWhere scopes to the site and range, then adds one IN clause per filter in key order.
func (s *SQLStore) buildWhere(filters map[string][]string, req AggregateRequest) (string, []any, []string, error) {
	clauses := []string{"v.site_id = ?", "v.date BETWEEN ? AND ?"}
	args := []any{int64(req.Site), req.Range.FromString(), req.Range.ToString()}
	var joins []string

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		def, ok := s.reg.Filters.Get(key)
		if !ok {
			return "", nil, nil, fmt.Errorf("unknown filter %q", key)
		}
		values := def.Normalize(filters[key])
		if len(values) == 0 {
			continue
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", def.Column, placeholders))
		args = append(args, values...)
		joins = append(joins, def.Joins...)
	}

	return " WHERE " + strings.Join(clauses, " AND "), args, joins, nil
}

// buildOrder sorts by the requested column, then by every other group-by alias
// so pagination is deterministic.
func buildOrder(req AggregateRequest, groups []registry.GroupBy) string {
	var parts []string
	if req.OrderBy != "" {
		dir := "ASC"
		if req.OrderDesc {
			dir = "DESC"
		}
		parts = append(parts, quoteIdent(req.OrderBy)+" "+dir)
	}

	aliases := make([]string, 0, len(groups))
	for _, g := range groups {
		if g.Alias != req.OrderBy {
			aliases = append(aliases, g.Alias)
		}
	}
	sort.Strings(aliases)
	for _, a := range aliases {
		parts = append(parts, quoteIdent(a)+" ASC")
	}
	if len(parts) == 0 {
		return ""
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Aggregate implements Storage.
func (s *SQLStore) Aggregate(ctx context.Context, req AggregateRequest) ([]Row, int64, error) {
	start := time.Now()
	rows, total, err := s.aggregate(ctx, req)
	s.observe("aggregate", start, err)
	return rows, total, err
}

func (s *SQLStore) aggregate(ctx context.Context, req AggregateRequest) ([]Row, int64, error) {
	plan, err := s.buildPlan(req)
	if err != nil {
		return nil, 0, err
	}

	s.logger.Debug("Running aggregation", slog.String("sql", plan.rows.query), slog.Int("args", len(plan.rows.args)))
	rows, err := s.scan(ctx, plan.rows, req.GroupBy, req.Sources)
	if err != nil {
		return nil, 0, fmt.Errorf("error fetching aggregated rows: %w", err)
	}

	if len(req.GroupBy) == 0 {
		return rows, int64(len(rows)), nil
	}

	var total int64
	if err := s.queryScalar(ctx, plan.count, &total); err != nil {
		return nil, 0, fmt.Errorf("error counting groups: %w", err)
	}
	return rows, total, nil
}

// AggregateTotals implements Storage.
func (s *SQLStore) AggregateTotals(ctx context.Context, req TotalsRequest) (Row, error) {
	start := time.Now()
	row, err := s.aggregateTotals(ctx, req)
	s.observe("totals", start, err)
	return row, err
}

func (s *SQLStore) aggregateTotals(ctx context.Context, req TotalsRequest) (Row, error) {
	plan, err := s.buildPlan(AggregateRequest{
		Sources: req.Sources,
		Filters: req.Filters,
		Range:   req.Range,
		Site:    req.Site,
	})
	if err != nil {
		return Row{}, err
	}

	rows, err := s.scan(ctx, plan.rows, nil, req.Sources)
	if err != nil {
		return Row{}, fmt.Errorf("error fetching totals: %w", err)
	}
	if len(rows) == 0 {
		row := NewRow()
		for _, src := range req.Sources {
			row.Values[src] = 0
		}
		return row, nil
	}
	return rows[0], nil
}

func (s *SQLStore) observe(op string, start time.Time, err error) {
	if err != nil {
		s.logger.Error("Storage operation failed", slog.String("operation", op), slog.Any("error", err))
	}
	if s.observer != nil {
		s.observer.ObserveStorage(op, time.Since(start), err)
	}
}

func (s *SQLStore) scan(ctx context.Context, stmt statement, groupBy, sources []string) ([]Row, error) {
	aliases := make([]string, 0, len(groupBy))
	for _, name := range groupBy {
		g, _ := s.reg.GroupBys.Get(name)
		aliases = append(aliases, g.Alias)
	}

	rs, err := s.db.WithContext(ctx).Raw(stmt.query, stmt.args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	// Columns are dynamic, so values land in interfaces and are coerced per alias.
	width := len(aliases) + len(sources)
	var out []Row
	for rs.Next() {
		values := make([]any, width)
		ptrs := make([]any, width)
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rs.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := NewRow()
		for i, alias := range aliases {
			row.Keys[alias] = toKey(values[i])
		}
		for i, src := range sources {
			row.Values[src] = toFloat(values[len(aliases)+i])
		}
		out = append(out, row)
	}
	return out, rs.Err()
}

func (s *SQLStore) queryScalar(ctx context.Context, stmt statement, dest *int64) error {
	return s.db.WithContext(ctx).Raw(stmt.query, stmt.args...).Scan(dest).Error
}

func toKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format("2006-01-02")
	default:
		return cast.ToString(t)
	}
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case nil:
		return 0
	case []byte:
		return cast.ToFloat64(string(t))
	default:
		return cast.ToFloat64(t)
	}
}
