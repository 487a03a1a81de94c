// Package formatter renders executor results into the response shapes served to
// callers: chart series, paginated tables, flat item lists and export grids.
package formatter

import (
	"time"

	"github.com/wp-statistics/wp-statistics-sub019/internal/executor"
	"github.com/wp-statistics/wp-statistics-sub019/internal/labels"
	"github.com/wp-statistics/wp-statistics-sub019/internal/query"
	"github.com/wp-statistics/wp-statistics-sub019/internal/registry"
)

// State describes how the Result was obtained.
type State struct {
	TTL    time.Duration
	Cached bool
}

// Formatter turns a Result into a JSON-serializable payload.
type Formatter interface {
	Format(q *query.Query, res *executor.Result, st State) (any, error)
}

// Checker is implemented by formatters that can reject a query before it runs.
type Checker interface {
	Check(q *query.Query) error
}

// Set holds one formatter per format.
type Set struct {
	byFormat map[query.Format]Formatter
}

// New builds the formatter set over a shared Base.
func New(reg *registry.Registry, lbl *labels.Labeler) *Set {
	base := &Base{reg: reg, labels: lbl}
	return &Set{byFormat: map[query.Format]Formatter{
		query.FormatChart:  &Chart{base},
		query.FormatTable:  &Table{base},
		query.FormatFlat:   &Flat{base},
		query.FormatExport: &Export{base},
	}}
}

// For returns the formatter for f, falling back to table.
func (s *Set) For(f query.Format) Formatter {
	if fm, ok := s.byFormat[f]; ok {
		return fm
	}
	return s.byFormat[query.FormatTable]
}

// Export returns the export formatter for callers that need the typed payload.
func (s *Set) Export() *Export {
	return s.byFormat[query.FormatExport].(*Export)
}
