package formatter

import (
	"github.com/wp-statistics/wp-statistics-sub019/internal/executor"
	"github.com/wp-statistics/wp-statistics-sub019/internal/query"
	"github.com/wp-statistics/wp-statistics-sub019/internal/storage"
)

// TotalLabel heads the totals line of an export.
const TotalLabel = "Total"

type ExportResponse struct {
	Success bool       `json:"success"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
	Meta    Meta       `json:"meta"`
}

// Export renders a grid of pre-stringified cells. Comparing adds a previous and a
// change column per source; totals add a share column per source and a totals line.
type Export struct{ *Base }

func (e *Export) Format(q *query.Query, res *executor.Result, st State) (any, error) {
	return e.Grid(q, res, st), nil
}

// Grid is Format with a typed result.
func (e *Export) Grid(q *query.Query, res *executor.Result, st State) *ExportResponse {
	sources := q.Sources()
	share := q.HasGroupBy() && res.Totals != nil

	resp := &ExportResponse{
		Success: true,
		Headers: e.headers(q, share),
		Rows:    make([][]string, 0, len(res.Rows)+1),
		Meta:    e.meta(q, res, st),
	}

	for _, r := range res.Rows {
		line := make([]string, 0, len(resp.Headers))
		for _, g := range q.GroupBy() {
			line = append(line, e.labels.Value(g, r.Keys[e.alias(g)]))
		}
		line = append(line, e.cells(q, r)...)
		if share {
			for _, s := range sources {
				line = append(line, shareOf(r.Values[s], res.Totals.Values[s]))
			}
		}
		resp.Rows = append(resp.Rows, line)
	}

	if share {
		line := make([]string, 0, len(resp.Headers))
		for i := range q.GroupBy() {
			if i == 0 {
				line = append(line, TotalLabel)
			} else {
				line = append(line, "")
			}
		}
		line = append(line, e.cells(q, *res.Totals)...)
		for _, s := range sources {
			line = append(line, shareOf(res.Totals.Values[s], res.Totals.Values[s]))
		}
		resp.Rows = append(resp.Rows, line)
	}
	return resp
}

func (e *Export) headers(q *query.Query, share bool) []string {
	var h []string
	for _, g := range q.GroupBy() {
		h = append(h, e.reg.GroupByLabel(g))
	}
	for _, s := range q.Sources() {
		h = append(h, e.reg.SourceLabel(s))
	}
	if q.Compare() {
		for _, s := range q.Sources() {
			label := e.reg.SourceLabel(s)
			h = append(h, label+PreviousSuffix, label+" Change %")
		}
	}
	if share {
		for _, s := range q.Sources() {
			h = append(h, e.reg.SourceLabel(s)+" Share %")
		}
	}
	return h
}

// cells renders the value columns of one row, then previous and change pairs.
func (e *Export) cells(q *query.Query, r storage.Row) []string {
	var out []string
	for _, s := range q.Sources() {
		out = append(out, formatNumber(r.Values[s]))
	}
	if q.Compare() {
		for _, s := range q.Sources() {
			out = append(out, formatNumber(r.Previous[s]), FormatChange(r.Values[s], r.Previous[s]))
		}
	}
	return out
}

func shareOf(v, total float64) string {
	if total == 0 {
		return formatPercent(0)
	}
	return formatPercent(v / total * 100)
}
