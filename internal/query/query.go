// Package query builds validated, immutable query descriptors from raw request input.
package query

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"sort"
	"time"

	"github.com/wp-statistics/wp-statistics-sub019/internal/timeframe"
)

// Format selects the response shape.
type Format string

const (
	FormatChart  Format = "chart"
	FormatTable  Format = "table"
	FormatFlat   Format = "flat"
	FormatExport Format = "export"
)

// ParseFormat maps a raw value to a Format, falling back to table.
func ParseFormat(s string) Format {
	switch f := Format(s); f {
	case FormatChart, FormatTable, FormatFlat, FormatExport:
		return f
	default:
		return FormatTable
	}
}

// Query is an immutable request descriptor. Build it with a Parser.
type Query struct {
	id         string
	sources    []string
	groupBy    []string
	dateRange  timeframe.Range
	today      time.Time
	filters    map[string][]string
	compare    bool
	page       int
	perPage    int
	showTotals bool
	format     Format
	orderBy    string
	orderDesc  bool
	site       uint

	fingerprint string
}

// ID is the caller-supplied identifier of a batch sub-query.
func (q *Query) ID() string { return q.id }

// Sources returns the requested source names in output column order.
func (q *Query) Sources() []string { return slices.Clone(q.sources) }

// GroupBy returns the requested group-by names in order.
func (q *Query) GroupBy() []string { return slices.Clone(q.groupBy) }

// HasGroupBy reports whether rows are grouped.
func (q *Query) HasGroupBy() bool { return len(q.groupBy) > 0 }

// DateRange returns the inclusive primary range.
func (q *Query) DateRange() timeframe.Range { return q.dateRange }

// Today is the day the range was resolved against.
func (q *Query) Today() time.Time { return q.today }

// Filters returns a copy of the sanitized filters.
func (q *Query) Filters() map[string][]string {
	out := make(map[string][]string, len(q.filters))
	for k, v := range q.filters {
		out[k] = slices.Clone(v)
	}
	return out
}

// FilterKeys returns the filter keys in sorted order.
func (q *Query) FilterKeys() []string {
	keys := make([]string, 0, len(q.filters))
	for k := range q.filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Compare reports whether a previous-period result is requested.
func (q *Query) Compare() bool { return q.compare }

// ComparisonRange returns the previous period when comparing.
func (q *Query) ComparisonRange() (timeframe.Range, bool) {
	if !q.compare {
		return timeframe.Range{}, false
	}
	return q.dateRange.Previous(), true
}

// Page is the 1-based page over grouped rows.
func (q *Query) Page() int { return q.page }

// PerPage is the page size over grouped rows. 0 means every row.
func (q *Query) PerPage() int { return q.perPage }

// ShowTotals reports whether a totals row is requested.
func (q *Query) ShowTotals() bool { return q.showTotals }

// Format returns the response shape.
func (q *Query) Format() Format { return q.format }

// OrderBy returns the resolved ordering column and direction.
// An empty column means the result is a single ungrouped row.
func (q *Query) OrderBy() (column string, desc bool) { return q.orderBy, q.orderDesc }

// Site is the tenant the query is scoped to.
func (q *Query) Site() uint { return q.site }

// Fingerprint is a stable hash of every field that affects the Result.
// Format is excluded since every shape renders the same Result.
func (q *Query) Fingerprint() string { return q.fingerprint }

// WithSite returns a copy scoped to another tenant.
func (q *Query) WithSite(site uint) *Query {
	c := q.clone()
	c.site = site
	c.fingerprint = c.computeFingerprint()
	return c
}

// WithFormat returns a copy rendering a different shape. Pagination is kept as parsed.
func (q *Query) WithFormat(f Format) *Query {
	c := q.clone()
	c.format = f
	return c
}

func (q *Query) clone() *Query {
	c := *q
	c.sources = slices.Clone(q.sources)
	c.groupBy = slices.Clone(q.groupBy)
	c.filters = q.Filters()
	return &c
}

type canonicalQuery struct {
	Sources    []string            `json:"sources"`
	GroupBy    []string            `json:"group_by"`
	DateFrom   string              `json:"date_from"`
	DateTo     string              `json:"date_to"`
	Filters    map[string][]string `json:"filters"`
	Compare    bool                `json:"compare"`
	Page       int                 `json:"page"`
	PerPage    int                 `json:"per_page"`
	ShowTotals bool                `json:"show_totals"`
	OrderBy    string              `json:"order_by"`
	OrderDesc  bool                `json:"order_desc"`
	Site       uint                `json:"site"`
}

func (q *Query) computeFingerprint() string {
	c := canonicalQuery{
		Sources:    sortedCopy(q.sources),
		GroupBy:    sortedCopy(q.groupBy),
		DateFrom:   q.dateRange.FromString(),
		DateTo:     q.dateRange.ToString(),
		Filters:    make(map[string][]string, len(q.filters)),
		Compare:    q.compare,
		ShowTotals: q.showTotals,
		OrderBy:    q.orderBy,
		OrderDesc:  q.orderDesc,
		Site:       q.site,
	}
	for k, v := range q.filters {
		c.Filters[k] = sortedCopy(v)
	}
	// Pagination is meaningless for a single ungrouped row.
	if len(q.groupBy) > 0 {
		c.Page = q.page
		c.PerPage = q.perPage
	}

	// json.Marshal sorts map keys, so the encoding is canonical.
	payload, _ := json.Marshal(c)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func sortedCopy(in []string) []string {
	out := slices.Clone(in)
	if out == nil {
		out = []string{}
	}
	sort.Strings(out)
	return out
}
