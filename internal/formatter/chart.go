package formatter

import (
	"github.com/wp-statistics/wp-statistics-sub019/internal/executor"
	"github.com/wp-statistics/wp-statistics-sub019/internal/query"
	"github.com/wp-statistics/wp-statistics-sub019/internal/queryerr"
	"github.com/wp-statistics/wp-statistics-sub019/internal/storage"
)

// PreviousSuffix is appended to the label of comparison datasets.
const PreviousSuffix = " (Previous)"

type Dataset struct {
	Key      string    `json:"key"`
	Label    string    `json:"label"`
	Data     []float64 `json:"data"`
	Previous bool      `json:"previous,omitempty"`
}

type ChartResponse struct {
	Success  bool      `json:"success"`
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
	Meta     Meta      `json:"meta"`
}

// Chart renders one series per source over the first group-by.
type Chart struct{ *Base }

// Check rejects queries without an x-axis.
func (c *Chart) Check(q *query.Query) error {
	if !q.HasGroupBy() {
		return queryerr.New(queryerr.ChartRequiresGroupBy, "chart format requires at least one group_by")
	}
	return nil
}

func (c *Chart) Format(q *query.Query, res *executor.Result, st State) (any, error) {
	if err := c.Check(q); err != nil {
		return nil, err
	}

	labels, rows := c.axis(q, res.Rows)

	resp := &ChartResponse{
		Success: true,
		Labels:  labels,
		Meta:    c.meta(q, res, st),
	}
	for _, s := range q.Sources() {
		data := make([]float64, len(rows))
		for i, r := range rows {
			data[i] = r.Values[s]
		}
		resp.Datasets = append(resp.Datasets, Dataset{Key: s, Label: c.reg.SourceLabel(s), Data: data})
	}
	if q.Compare() {
		for _, s := range q.Sources() {
			data := make([]float64, len(rows))
			for i, r := range rows {
				data[i] = r.Previous[s]
			}
			resp.Datasets = append(resp.Datasets, Dataset{
				Key:      s,
				Label:    c.reg.SourceLabel(s) + PreviousSuffix,
				Data:     data,
				Previous: true,
			})
		}
	}
	if resp.Datasets == nil {
		resp.Datasets = []Dataset{}
	}
	return resp, nil
}

// axis returns the x-axis labels and the row for each label. A single temporal
// group-by spans every bucket of the range, missing buckets as zero rows.
func (c *Chart) axis(q *query.Query, rows []storage.Row) ([]string, []storage.Row) {
	groupBy := q.GroupBy()
	if len(groupBy) == 1 {
		if g, ok := c.reg.GroupBys.Get(groupBy[0]); ok && g.IsTemporal() {
			byKey := make(map[string]storage.Row, len(rows))
			for _, r := range rows {
				byKey[r.Keys[g.Alias]] = r
			}
			buckets := q.DateRange().Buckets(g.Temporal)
			out := make([]storage.Row, len(buckets))
			for i, key := range buckets {
				if r, ok := byKey[key]; ok {
					out[i] = r
				} else {
					out[i] = storage.NewRow()
				}
			}
			return buckets, out
		}
	}

	labels := make([]string, len(rows))
	for i, r := range rows {
		labels[i] = c.displayKey(q, r)
	}
	return labels, rows
}
