package formatter

import (
	"github.com/wp-statistics/wp-statistics-sub019/internal/executor"
	"github.com/wp-statistics/wp-statistics-sub019/internal/query"
)

type FlatResponse struct {
	Success bool      `json:"success"`
	Items   []*Record `json:"items"`
	Totals  *Record   `json:"totals,omitempty"`
	Meta    Meta      `json:"meta"`
}

// Flat renders raw rows without pagination metadata.
type Flat struct{ *Base }

func (f *Flat) Format(q *query.Query, res *executor.Result, st State) (any, error) {
	resp := &FlatResponse{
		Success: true,
		Items:   make([]*Record, 0, len(res.Rows)),
		Meta:    f.meta(q, res, st),
	}
	for _, r := range res.Rows {
		resp.Items = append(resp.Items, f.record(q, r))
	}
	if res.Totals != nil {
		resp.Totals = f.totals(q, res)
	}
	return resp, nil
}
