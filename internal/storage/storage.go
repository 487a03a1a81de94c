// Package storage is the only boundary between the query engine and persisted data.
package storage

import (
	"context"

	"github.com/wp-statistics/wp-statistics-sub019/internal/timeframe"
)

// Row is one aggregated record: group-by aliases to values, sources to numbers.
// Previous is set by the executor when a comparison period is merged in.
type Row struct {
	Keys     map[string]string  `json:"keys,omitempty"`
	Values   map[string]float64 `json:"values"`
	Previous map[string]float64 `json:"previous,omitempty"`
}

// NewRow returns a row with initialized maps.
func NewRow() Row {
	return Row{Keys: map[string]string{}, Values: map[string]float64{}}
}

// AggregateRequest describes a grouped aggregation. PerPage 0 disables pagination.
type AggregateRequest struct {
	Sources   []string
	GroupBy   []string
	Filters   map[string][]string
	Range     timeframe.Range
	Site      uint
	Page      int
	PerPage   int
	OrderBy   string
	OrderDesc bool
}

// TotalsRequest describes an ungrouped aggregation over the full filtered set.
type TotalsRequest struct {
	Sources []string
	Filters map[string][]string
	Range   timeframe.Range
	Site    uint
}

// Storage is the aggregation collaborator consumed by the executor.
// Implementations must be read-only.
type Storage interface {
	// Aggregate returns one page of grouped rows and the total number of groups.
	Aggregate(ctx context.Context, req AggregateRequest) ([]Row, int64, error)
	// AggregateTotals returns a single row aggregated across every group.
	AggregateTotals(ctx context.Context, req TotalsRequest) (Row, error)
}
