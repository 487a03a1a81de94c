package formatter

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/wp-statistics/wp-statistics-sub019/internal/executor"
	"github.com/wp-statistics/wp-statistics-sub019/internal/labels"
	"github.com/wp-statistics/wp-statistics-sub019/internal/query"
	"github.com/wp-statistics/wp-statistics-sub019/internal/registry"
	"github.com/wp-statistics/wp-statistics-sub019/internal/storage"
)

// NotApplicable is the change reported when both periods are zero.
const NotApplicable = "N/A"

// Meta is the metadata block shared by every response shape.
type Meta struct {
	DateFrom    string            `json:"date_from"`
	DateTo      string            `json:"date_to"`
	CompareFrom string            `json:"compare_from,omitempty"`
	CompareTo   string            `json:"compare_to,omitempty"`
	CacheTTL    int               `json:"cache_ttl"`
	Cached      bool              `json:"cached"`
	Labels      map[string]string `json:"labels"`
}

// Base holds the behavior shared by all formatters.
type Base struct {
	reg    *registry.Registry
	labels *labels.Labeler
}

func (b *Base) meta(q *query.Query, res *executor.Result, st State) Meta {
	m := Meta{
		DateFrom:    q.DateRange().FromString(),
		DateTo:      q.DateRange().ToString(),
		CompareFrom: res.CompareFrom,
		CompareTo:   res.CompareTo,
		CacheTTL:    int(st.TTL.Seconds()),
		Cached:      st.Cached,
		Labels:      make(map[string]string),
	}
	for _, g := range q.GroupBy() {
		m.Labels[b.alias(g)] = b.reg.GroupByLabel(g)
	}
	for _, s := range q.Sources() {
		m.Labels[s] = b.reg.SourceLabel(s)
	}
	return m
}

func (b *Base) alias(groupBy string) string {
	if g, ok := b.reg.GroupBys.Get(groupBy); ok {
		return g.Alias
	}
	return groupBy
}

// record lays out a row as group-by aliases, then sources, then previous values.
func (b *Base) record(q *query.Query, row storage.Row) *Record {
	rec := &Record{}
	for _, g := range q.GroupBy() {
		alias := b.alias(g)
		rec.Set(alias, row.Keys[alias])
	}
	for _, s := range q.Sources() {
		rec.Set(s, row.Values[s])
	}
	if q.Compare() {
		prev := &Record{}
		for _, s := range q.Sources() {
			prev.Set(s, row.Previous[s])
		}
		rec.Set("previous", prev)
	}
	return rec
}

// Change returns the percentage change from previous to current rounded to one
// decimal. A rise from zero counts as 100 percent; ok is false when no change
// can be expressed.
func Change(current, previous float64) (pct float64, ok bool) {
	if previous == 0 {
		if current > 0 {
			return 100, true
		}
		return 0, false
	}
	return round(((current-previous)/previous)*100, 1), true
}

// FormatChange renders Change as a signed percentage string such as "+12.5%".
func FormatChange(current, previous float64) string {
	pct, ok := Change(current, previous)
	if !ok {
		return NotApplicable
	}
	s := strconv.FormatFloat(pct, 'f', -1, 64) + "%"
	if pct > 0 {
		s = "+" + s
	}
	return s
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(round(v, 2), 'f', -1, 64)
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(round(v, 1), 'f', -1, 64) + "%"
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	r := math.Round(v*p) / p
	if r == 0 {
		return 0 // drop negative zero
	}
	return r
}

// Record is a JSON object that keeps insertion order.
type Record struct {
	keys   []string
	values map[string]any
}

// Set adds or replaces a field. Replacing keeps the original position.
func (r *Record) Set(key string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns a field value.
func (r *Record) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns field names in order.
func (r *Record) Keys() []string {
	return append([]string(nil), r.keys...)
}

func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (b *Base) displayKey(q *query.Query, row storage.Row) string {
	parts := make([]string, 0, len(q.GroupBy()))
	for _, g := range q.GroupBy() {
		parts = append(parts, b.labels.Value(g, row.Keys[b.alias(g)]))
	}
	return strings.Join(parts, " / ")
}
