// Package http holds the operational endpoints served next to the query API.
package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	"github.com/wp-statistics/wp-statistics-sub019/internal/sites"
)

const (
	statusOK       = "ok"
	statusError    = "error"
	statusDegraded = "degraded"
	pingTimeout    = 2 * time.Second
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	DBStatus  string    `json:"db_status"`
	Sites     int       `json:"sites"`
}

// HealthIndexAction reports whether the visit database answers.
func HealthIndexAction(ctx *cartridge.Context) error {
	health := HealthStatus{Status: statusOK, Timestamp: time.Now().UTC(), DBStatus: statusOK}

	db := ctx.DBManager.GetConnection()
	if db == nil {
		health.DBStatus = statusError
		ctx.Logger.Error("Database connection unavailable")
	} else if sqlDB, err := db.DB(); err != nil {
		health.DBStatus = statusError
		ctx.Logger.Error("Database connection error", slog.Any("error", err))
	} else {
		pingCtx, cancel := context.WithTimeout(ctx.Ctx.Context(), pingTimeout)
		defer cancel()
		if err := sqlDB.PingContext(pingCtx); err != nil {
			health.DBStatus = statusError
			ctx.Logger.Error("Database ping failed", slog.Any("error", err))
		} else if active, err := sites.ListActive(db); err == nil {
			health.Sites = len(active)
		}
	}

	if health.DBStatus != statusOK {
		health.Status = statusDegraded
	}
	return ctx.JSON(health)
}
