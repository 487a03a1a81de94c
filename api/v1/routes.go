package v1

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
)

// Mount registers the query endpoints. routeCfg middleware runs before key verification.
func (a *API) Mount(srv *cartridge.Server, routeCfg *cartridge.RouteConfig, logger *slog.Logger) {
	base := &cartridge.RouteConfig{}
	if routeCfg != nil {
		*base = *routeCfg
	}
	cfg := *base
	cfg.CustomMiddleware = append(append([]fiber.Handler{}, base.CustomMiddleware...), BearerAuth(a.verifier, logger))

	preflight := func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}

	srv.Get("/api/v1/query", a.QueryAction, &cfg)
	srv.Post("/api/v1/query", a.QueryAction, &cfg)
	srv.Options("/api/v1/query", preflight, base)
	srv.Get("/api/v1/export", a.ExportAction, &cfg)
	srv.Post("/api/v1/export", a.ExportAction, &cfg)
	srv.Options("/api/v1/export", preflight, base)
}
