package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/wp-statistics/wp-statistics-sub019/internal/queryerr"
	"github.com/wp-statistics/wp-statistics-sub019/internal/registry"
	"github.com/wp-statistics/wp-statistics-sub019/internal/timeframe"
)

// Options are the request defaults and bounds applied by the Parser.
type Options struct {
	DefaultPerPage int
	MaxPerPage     int
	DefaultSite    uint
	Timezone       string
	// MaxRangeDays bounds the primary range. Negative disables the bound.
	MaxRangeDays   int
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{DefaultPerPage: 10, MaxPerPage: 100, DefaultSite: 1, Timezone: "UTC", MaxRangeDays: 3660}
}

// Parser validates raw request input against a Registry.
type Parser struct {
	reg    *registry.Registry
	frames *timeframe.TimeFrameParser
	opts   Options
}

// NewParser creates a Parser. A nil frames parser uses the wall clock.
func NewParser(reg *registry.Registry, frames *timeframe.TimeFrameParser, opts Options) *Parser {
	if frames == nil {
		frames = timeframe.NewTimeFrameParser()
	}
	if opts.DefaultPerPage <= 0 {
		opts.DefaultPerPage = DefaultOptions().DefaultPerPage
	}
	if opts.MaxPerPage < opts.DefaultPerPage {
		opts.MaxPerPage = opts.DefaultPerPage
	}
	if opts.DefaultSite == 0 {
		opts.DefaultSite = DefaultOptions().DefaultSite
	}
	if opts.MaxRangeDays == 0 {
		opts.MaxRangeDays = DefaultOptions().MaxRangeDays
	}
	return &Parser{reg: reg, frames: frames, opts: opts}
}

// Registry returns the catalog the parser validates against.
func (p *Parser) Registry() *registry.Registry { return p.reg }

// Parse validates raw input and builds a Query.
// Validation runs in a fixed order: sources, group-by, dates, filters, pagination, format.
func (p *Parser) Parse(raw map[string]any) (*Query, error) {
	q := &Query{id: cast.ToString(raw["id"])}

	sources, err := p.parseSources(raw["sources"])
	if err != nil {
		return nil, err
	}
	q.sources = sources

	groupBy, err := p.parseGroupBy(raw["group_by"])
	if err != nil {
		return nil, err
	}
	q.groupBy = groupBy

	tz := cast.ToString(raw["timezone"])
	if tz == "" {
		tz = p.opts.Timezone
	}
	dateRange, err := p.frames.ParseRange(timeframe.TimeFrameParserParams{
		FromDate: strings.TrimSpace(cast.ToString(raw["date_from"])),
		ToDate:   strings.TrimSpace(cast.ToString(raw["date_to"])),
		Period:   strings.TrimSpace(cast.ToString(raw["period"])),
		Tz:       tz,
		MaxDays:  p.opts.MaxRangeDays,
	})
	if err != nil {
		return nil, dateError(err)
	}
	q.dateRange = dateRange
	q.today, _ = p.frames.Today(tz)

	q.filters = p.parseFilters(raw["filters"])

	q.page = cast.ToInt(raw["page"])
	if q.page < 1 {
		q.page = 1
	}
	q.perPage = cast.ToInt(raw["per_page"])
	if q.perPage < 1 {
		q.perPage = p.opts.DefaultPerPage
	}
	if q.perPage > p.opts.MaxPerPage {
		q.perPage = p.opts.MaxPerPage
	}

	q.format = ParseFormat(strings.ToLower(strings.TrimSpace(cast.ToString(raw["format"]))))
	// A time-series chart plots every bucket of the range, so it is never paged.
	if q.format == FormatChart && p.temporalAxis(q.groupBy) {
		q.page, q.perPage = 1, 0
	}
	q.compare = cast.ToBool(raw["compare"])
	q.showTotals = cast.ToBool(raw["show_totals"])

	q.site = cast.ToUint(raw["site"])
	if q.site == 0 {
		q.site = p.opts.DefaultSite
	}

	q.orderBy, q.orderDesc = p.resolveOrder(q, cast.ToString(raw["order_by"]), cast.ToString(raw["order"]))
	q.fingerprint = q.computeFingerprint()
	return q, nil
}

func (p *Parser) parseSources(v any) ([]string, error) {
	names := dedupe(toStringList(v))
	if len(names) == 0 {
		return nil, queryerr.New(queryerr.InvalidSources, "at least one source is required")
	}
	for _, n := range names {
		if !p.reg.Sources.Has(n) {
			return nil, queryerr.New(queryerr.InvalidSources, "unknown source %q", n)
		}
	}
	return names, nil
}

func (p *Parser) parseGroupBy(v any) ([]string, error) {
	names := dedupe(toStringList(v))
	for _, n := range names {
		if !p.reg.GroupBys.Has(n) {
			return nil, queryerr.New(queryerr.InvalidGroupBy, "unknown group_by %q", n)
		}
	}
	return names, nil
}

// parseFilters keeps known keys only and stores values in canonical form.
func (p *Parser) parseFilters(v any) map[string][]string {
	out := make(map[string][]string)
	raw, err := cast.ToStringMapE(v)
	if err != nil {
		return out
	}
	for key, val := range raw {
		def, ok := p.reg.Filters.Get(key)
		if !ok {
			continue
		}
		var values []string
		for _, n := range def.Normalize(toStringList(val)) {
			values = append(values, cast.ToString(n))
		}
		values = dedupe(values)
		if len(values) > 0 {
			out[key] = values
		}
	}
	return out
}

// resolveOrder picks the ordering column: an explicit selected column if valid,
// otherwise the natural order of the first group-by.
func (p *Parser) resolveOrder(q *Query, orderBy, order string) (string, bool) {
	if len(q.groupBy) == 0 {
		return "", false
	}

	var column string
	var desc bool
	first, _ := p.reg.GroupBys.Get(q.groupBy[0])
	switch first.Order {
	case registry.OrderByValue:
		column, desc = q.sources[0], true
	default:
		column, desc = first.Alias, false
	}

	if orderBy != "" {
		if isSelected(q, p.reg, orderBy) {
			column = orderBy
		}
	}
	switch strings.ToLower(order) {
	case "asc":
		desc = false
	case "desc":
		desc = true
	}
	return column, desc
}

func (p *Parser) temporalAxis(groupBy []string) bool {
	if len(groupBy) == 0 {
		return false
	}
	g, ok := p.reg.GroupBys.Get(groupBy[0])
	return ok && g.IsTemporal()
}

func isSelected(q *Query, reg *registry.Registry, name string) bool {
	for _, s := range q.sources {
		if s == name {
			return true
		}
	}
	for _, g := range q.groupBy {
		def, _ := reg.GroupBys.Get(g)
		if def.Alias == name {
			return true
		}
	}
	return false
}

func dateError(err error) error {
	msg := err.Error()
	if errors.Is(err, timeframe.ErrInvertedRange) {
		msg = "date_from must not be after date_to"
	}
	return queryerr.Wrap(queryerr.InvalidDateRange, err, msg)
}

// toStringList accepts a list, a single value or a comma-separated string.
func toStringList(v any) []string {
	if v == nil {
		return nil
	}
	var items []string
	switch t := v.(type) {
	case string:
		items = strings.Split(t, ",")
	case []string:
		items = t
	case []any:
		for _, x := range t {
			items = append(items, cast.ToString(x))
		}
	default:
		items = []string{cast.ToString(t)}
	}

	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// IsBatch reports whether the raw request is a batch.
func IsBatch(raw map[string]any) bool {
	_, ok := raw["queries"]
	return ok
}

// IsNetwork reports whether the raw request asks for network aggregation.
func IsNetwork(raw map[string]any) bool {
	return cast.ToBool(raw["network"])
}

// NetworkSources are aggregated when a network request names none.
var NetworkSources = []string{"visitors", "visits", "views"}

// ParseNetwork builds the query fanned out to every tenant: ungrouped, with totals.
// The site is set per tenant by the caller.
func (p *Parser) ParseNetwork(raw map[string]any) (*Query, error) {
	merged := make(map[string]any, len(raw)+2)
	for k, v := range raw {
		merged[k] = v
	}
	delete(merged, "group_by")
	delete(merged, "queries")
	if len(toStringList(raw["sources"])) == 0 {
		var sources []any
		for _, s := range NetworkSources {
			if p.reg.Sources.Has(s) {
				sources = append(sources, s)
			}
		}
		merged["sources"] = sources
	}
	merged["show_totals"] = true
	return p.Parse(merged)
}

// sharedKeys are inherited by every sub-query of a batch.
var sharedKeys = []string{
	"date_from", "date_to", "period", "timezone", "filters", "compare",
	"show_totals", "format", "page", "per_page", "site",
}

// BatchEntry is one sub-query of a batch: either a parsed Query or its validation error.
type BatchEntry struct {
	ID    string
	Query *Query
	Err   error
}

// ParseBatch splits a batch request into independently validated entries.
// A structurally broken batch fails as a whole; an invalid sub-query only fails its entry.
func (p *Parser) ParseBatch(raw map[string]any) ([]BatchEntry, error) {
	list, ok := raw["queries"].([]any)
	if !ok || len(list) == 0 {
		return nil, queryerr.New(queryerr.InvalidRequest, "queries must be a non-empty list")
	}

	entries := make([]BatchEntry, 0, len(list))
	seen := make(map[string]bool, len(list))
	for i, item := range list {
		sub, err := cast.ToStringMapE(item)
		if err != nil {
			return nil, queryerr.New(queryerr.InvalidRequest, "queries[%d] must be an object", i)
		}
		id := strings.TrimSpace(cast.ToString(sub["id"]))
		if id == "" {
			id = fmt.Sprintf("query_%d", i+1)
		}
		if seen[id] {
			return nil, queryerr.New(queryerr.InvalidRequest, "duplicate query id %q", id)
		}
		seen[id] = true

		merged := make(map[string]any, len(sub)+len(sharedKeys))
		for _, k := range sharedKeys {
			if v, ok := raw[k]; ok {
				merged[k] = v
			}
		}
		for k, v := range sub {
			merged[k] = v
		}
		merged["id"] = id

		q, err := p.Parse(merged)
		entries = append(entries, BatchEntry{ID: id, Query: q, Err: err})
	}
	return entries, nil
}
