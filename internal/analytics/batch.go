package analytics

import (
	"context"
	"log/slog"

	"github.com/wp-statistics/wp-statistics-sub019/internal/formatter"
	"github.com/wp-statistics/wp-statistics-sub019/internal/pkg/async"
)

type BatchMeta struct {
	Queries   int `json:"queries"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// BatchResponse holds one payload or error envelope per sub-query id, in request order.
type BatchResponse struct {
	Success bool              `json:"success"`
	Results *formatter.Record `json:"results"`
	Meta    BatchMeta         `json:"meta"`
}

// Batch validates, caches, runs and formats every sub-query independently. A failing
// sub-query reports its own error and never aborts its siblings.
func (h *Handler) Batch(ctx context.Context, raw map[string]any) (*BatchResponse, error) {
	entries, err := h.parser.ParseBatch(raw)
	if err != nil {
		return nil, err
	}

	tasks := make([]async.Task, 0, len(entries))
	for _, e := range entries {
		if e.Err != nil {
			continue
		}
		q := e.Query
		tasks = append(tasks, async.Task{
			Name: e.ID,
			Execute: func(ctx context.Context) (any, error) {
				out, err := h.Run(ctx, q)
				if err != nil {
					return nil, err
				}
				return out.Payload, nil
			},
		})
	}
	done := h.pool.Execute(ctx, tasks)

	resp := &BatchResponse{Success: true, Results: &formatter.Record{}}
	resp.Meta.Queries = len(entries)
	for _, e := range entries {
		err := e.Err
		var payload any
		if err == nil {
			r := done[e.ID]
			payload, err = r.Data, r.Err
		}
		if err != nil {
			h.logger.Debug("Batch sub-query failed", slog.String("id", e.ID), slog.Any("error", err))
			resp.Results.Set(e.ID, NewErrorResponse(err))
			resp.Meta.Failed++
			continue
		}
		resp.Results.Set(e.ID, payload)
		resp.Meta.Succeeded++
	}
	return resp, nil
}
