package v1

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"github.com/wp-statistics/wp-statistics-sub019/internal/analytics"
	"github.com/wp-statistics/wp-statistics-sub019/internal/auth"
	"github.com/wp-statistics/wp-statistics-sub019/internal/formatter"
	"github.com/wp-statistics/wp-statistics-sub019/internal/query"
	"github.com/wp-statistics/wp-statistics-sub019/internal/queryerr"
)

const (
	exportCSV  = "csv"
	exportXLSX = "xlsx"
)

// API serves the query endpoints.
type API struct {
	handler  *analytics.Handler
	verifier *auth.Verifier
}

// New creates the API over a query handler and a key verifier.
func New(handler *analytics.Handler, verifier *auth.Verifier) *API {
	return &API{handler: handler, verifier: verifier}
}

// QueryAction answers a single, batch or network query. POST reads a JSON body,
// GET reads the query string.
func (a *API) QueryAction(ctx *cartridge.Context) error {
	raw, err := requestInput(ctx.Ctx)
	if err != nil {
		return writeError(ctx, err)
	}

	if query.IsBatch(raw) || query.IsNetwork(raw) {
		payload, err := a.handler.Handle(ctx.Ctx.Context(), raw, grantFrom(ctx.Ctx))
		if err != nil {
			return writeError(ctx, err)
		}
		return writeJSON(ctx, payload)
	}

	grant := grantFrom(ctx.Ctx)
	if !grant.HasAccess(auth.LevelViewer) {
		return writeError(ctx, queryerr.New(queryerr.Forbidden, "viewer access required"))
	}
	out, err := a.handler.Query(ctx.Ctx.Context(), raw)
	if err != nil {
		return writeError(ctx, err)
	}

	if out.Cached {
		ctx.Set("X-Cache", "HIT")
	} else {
		ctx.Set("X-Cache", "MISS")
	}
	ctx.Set(fiber.HeaderCacheControl, "private, max-age="+strconv.Itoa(int(out.TTL.Seconds())))
	return writeJSON(ctx, out.Payload)
}

// ExportAction streams a single query as a CSV or XLSX download.
func (a *API) ExportAction(ctx *cartridge.Context) error {
	raw, err := requestInput(ctx.Ctx)
	if err != nil {
		return writeError(ctx, err)
	}
	if query.IsBatch(raw) || query.IsNetwork(raw) {
		return writeError(ctx, queryerr.New(queryerr.InvalidRequest, "export accepts a single query"))
	}
	if !grantFrom(ctx.Ctx).HasAccess(auth.LevelViewer) {
		return writeError(ctx, queryerr.New(queryerr.Forbidden, "viewer access required"))
	}

	kind := ctx.Query("type", exportCSV)
	if kind != exportCSV && kind != exportXLSX {
		return writeError(ctx, queryerr.New(queryerr.InvalidRequest, "type must be %s or %s", exportCSV, exportXLSX))
	}
	raw["format"] = string(query.FormatExport)
	delete(raw, "type")

	out, err := a.handler.Query(ctx.Ctx.Context(), raw)
	if err != nil {
		return writeError(ctx, err)
	}
	grid, ok := out.Payload.(*formatter.ExportResponse)
	if !ok {
		return writeError(ctx, queryerr.New(queryerr.Internal, "unexpected export payload %T", out.Payload))
	}

	var buf bytes.Buffer
	contentType := formatter.ContentTypeCSV
	if kind == exportXLSX {
		contentType = formatter.ContentTypeXLSX
		err = formatter.WriteXLSX(&buf, grid)
	} else {
		err = formatter.WriteCSV(&buf, grid)
	}
	if err != nil {
		ctx.Logger.Error("Failed to encode export", slog.String("type", kind), slog.Any("error", err))
		return writeError(ctx, queryerr.Wrap(queryerr.Internal, err, "failed to encode export"))
	}

	ctx.Set(fiber.HeaderContentType, contentType)
	ctx.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", formatter.Filename(out.Query, kind)))
	return ctx.Status(http.StatusOK).Send(buf.Bytes())
}

// writeJSON sends payload with a strong ETag and answers 304 when the client has it.
func writeJSON(ctx *cartridge.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		ctx.Logger.Error("Failed to encode response", slog.Any("error", err))
		return writeError(ctx, queryerr.Wrap(queryerr.Internal, err, "failed to encode response"))
	}

	etag := generateETag(body)
	ctx.Set(fiber.HeaderETag, etag)
	if ctx.Get(fiber.HeaderIfNoneMatch) == etag {
		return ctx.SendStatus(http.StatusNotModified)
	}
	ctx.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return ctx.Status(http.StatusOK).Send(body)
}

func writeError(ctx *cartridge.Context, err error) error {
	status := queryerr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		ctx.Logger.Error("Query failed", slog.String("path", ctx.Path()), slog.Any("error", err))
	} else {
		ctx.Logger.Debug("Query rejected", slog.String("path", ctx.Path()), slog.Any("error", err))
	}
	return ctx.Status(status).JSON(analytics.NewErrorResponse(err))
}
