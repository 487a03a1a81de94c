package formatter

import (
	"github.com/wp-statistics/wp-statistics-sub019/internal/executor"
	"github.com/wp-statistics/wp-statistics-sub019/internal/query"
)

type TableData struct {
	Rows   []*Record `json:"rows,omitempty"`
	Totals *Record   `json:"totals,omitempty"`
}

type TableMeta struct {
	Meta
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"total_pages"`
}

type TableResponse struct {
	Success bool      `json:"success"`
	Data    TableData `json:"data"`
	Meta    TableMeta `json:"meta"`
}

// Table renders paginated rows and optional totals. Without a group-by the single
// aggregate row is reported as totals.
type Table struct{ *Base }

func (t *Table) Format(q *query.Query, res *executor.Result, st State) (any, error) {
	resp := &TableResponse{
		Success: true,
		Meta: TableMeta{
			Meta:    t.meta(q, res, st),
			Page:    q.Page(),
			PerPage: q.PerPage(),
			Total:   res.Total,
		},
	}
	resp.Meta.TotalPages = TotalPages(res.Total, q.PerPage())

	if !q.HasGroupBy() {
		if len(res.Rows) > 0 {
			resp.Data.Totals = t.record(q, res.Rows[0])
		}
		return resp, nil
	}

	resp.Data.Rows = make([]*Record, 0, len(res.Rows))
	for _, r := range res.Rows {
		resp.Data.Rows = append(resp.Data.Rows, t.record(q, r))
	}
	if res.Totals != nil {
		resp.Data.Totals = t.totals(q, res)
	}
	return resp, nil
}

func (b *Base) totals(q *query.Query, res *executor.Result) *Record {
	rec := &Record{}
	for _, s := range q.Sources() {
		rec.Set(s, res.Totals.Values[s])
	}
	if q.Compare() {
		prev := &Record{}
		for _, s := range q.Sources() {
			prev.Set(s, res.Totals.Previous[s])
		}
		rec.Set("previous", prev)
	}
	return rec
}

// TotalPages is ceil(total / perPage).
func TotalPages(total int64, perPage int) int64 {
	if perPage <= 0 {
		return 0
	}
	return (total + int64(perPage) - 1) / int64(perPage)
}
