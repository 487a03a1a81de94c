package registry

import (
	"strings"

	"github.com/spf13/cast"

	"github.com/wp-statistics/wp-statistics-sub019/internal/timeframe"
)

// ValueFormat tells formatters how to render a source value.
type ValueFormat string

const (
	FormatNumber   ValueFormat = "number"
	FormatPercent  ValueFormat = "percent"
	FormatDuration ValueFormat = "duration"
	FormatDecimal  ValueFormat = "decimal"
)

// SortOrder is the natural ordering of a grouped result.
type SortOrder string

const (
	// OrderByKey sorts ascending by the group-by column.
	OrderByKey SortOrder = "key"
	// OrderByValue sorts descending by the first source.
	OrderByValue SortOrder = "value"
)

// FilterKind controls how raw filter values are coerced before binding.
type FilterKind string

const (
	FilterString FilterKind = "string"
	FilterNumber FilterKind = "number"
	FilterBool   FilterKind = "bool"
)

// Join is a related dataset that can be attached to the base visits table.
type Join struct {
	Name   string `yaml:"name"`
	Clause string `yaml:"clause"`
}

func (j Join) Key() string { return j.Name }

// Source is a metric.
type Source struct {
	Name       string      `yaml:"name"`
	Expression string      `yaml:"expression"`
	Label      string      `yaml:"label"`
	Joins      []string    `yaml:"joins"`
	Format     ValueFormat `yaml:"format"`
	// Additive sources can be summed across tenants. Others are averaged.
	Additive bool `yaml:"additive"`
}

func (s Source) Key() string { return s.Name }

// GroupBy is a grouping axis. Alias is the output key of its column.
type GroupBy struct {
	Name       string                        `yaml:"name"`
	Expression string                        `yaml:"expression"`
	Alias      string                        `yaml:"alias"`
	Label      string                        `yaml:"label"`
	Joins      []string                      `yaml:"joins"`
	Temporal   timeframe.TimeFrameBucketSize `yaml:"temporal"`
	Order      SortOrder                     `yaml:"order"`
}

func (g GroupBy) Key() string { return g.Name }

// IsTemporal reports whether the axis is a date bucket.
func (g GroupBy) IsTemporal() bool {
	return g.Temporal != timeframe.TimeFrameBucketSizeNone
}

// Filter is a sanitized request filter key bound to a column.
type Filter struct {
	Name   string     `yaml:"name"`
	Column string     `yaml:"column"`
	Joins  []string   `yaml:"joins"`
	Kind   FilterKind `yaml:"kind"`
}

func (f Filter) Key() string { return f.Name }

// Normalize coerces raw values to the filter's kind, dropping those that do not convert.
func (f Filter) Normalize(values []string) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		switch f.Kind {
		case FilterNumber:
			n, err := cast.ToInt64E(v)
			if err != nil {
				continue
			}
			out = append(out, n)
		case FilterBool:
			b, err := cast.ToBoolE(v)
			if err != nil {
				continue
			}
			if b {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		default:
			out = append(out, v)
		}
	}
	return out
}
