package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "github.com/wp-statistics/wp-statistics-sub019/api/v1"
	"github.com/wp-statistics/wp-statistics-sub019/internal/config"
	"github.com/wp-statistics/wp-statistics-sub019/internal/engine"
	"github.com/wp-statistics/wp-statistics-sub019/internal/http"
)

// apiCORSConfig lets dashboards on other origins call the query API with a key.
var apiCORSConfig = &cors.Config{
	AllowOrigins:  "*",
	AllowMethods:  "GET,POST,OPTIONS",
	AllowHeaders:  "Origin, Content-Type, Accept, Authorization, If-None-Match",
	ExposeHeaders: "ETag, X-Cache, Content-Disposition",
}

// MountRoutes returns the route mount function for eng.
func MountRoutes(cfg *config.Config, eng *engine.Engine) func(*cartridge.Server) {
	return func(srv *cartridge.Server) {
		mountRoutes(srv, cfg, eng)
	}
}

func mountRoutes(srv *cartridge.Server, cfg *config.Config, eng *engine.Engine) {
	// In development/test, rate limiting would interfere with testing
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	apiRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(120),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// API callers are servers and scripts, not browsers.
	apiConfig := &cartridge.RouteConfig{
		EnableCORS:         true,
		CORSConfig:         apiCORSConfig,
		CustomMiddleware:   []fiber.Handler{apiRateLimiter},
		EnableSecFetchSite: cartridge.Bool(false),
	}
	probeConfig := &cartridge.RouteConfig{
		EnableSecFetchSite: cartridge.Bool(false),
	}

	srv.Get("/_health", http.HealthIndexAction, probeConfig)
	srv.Head("/_health", http.HealthIndexAction, probeConfig)

	metricsHandler := adaptor.HTTPHandler(eng.Metrics.Handler())
	srv.Get("/metrics", func(ctx *cartridge.Context) error {
		return metricsHandler(ctx.Ctx)
	}, probeConfig)

	v1.New(eng.Handler, eng.Verifier).Mount(srv, apiConfig, srv.GetLogger())
}
