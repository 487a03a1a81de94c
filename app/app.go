// Package app exports the pieces an embedding program needs to run the query
// service or to mount extra routes next to it.
package app

import (
	"github.com/karloscodes/cartridge"

	"github.com/wp-statistics/wp-statistics-sub019/internal"
	"github.com/wp-statistics/wp-statistics-sub019/internal/config"
	"github.com/wp-statistics/wp-statistics-sub019/internal/database"
	"github.com/wp-statistics/wp-statistics-sub019/internal/engine"
)

// Re-export core types
type (
	Application = internal.Application
	Config      = config.Config
	DBManager   = database.DBManager
	Engine      = engine.Engine
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	return config.GetConfig()
}

// NewApp creates a new application with default routes
func NewApp() (*Application, error) {
	return internal.NewApp()
}

// NewAppWithRoutes creates a new application. routeMount runs after the
// built-in routes are mounted.
func NewAppWithRoutes(cfg *Config, routeMount func(*cartridge.Server)) (*Application, error) {
	return internal.NewAppWithRoutes(cfg, routeMount)
}

// MountRoutes returns the mount function for the built-in routes over eng.
func MountRoutes(cfg *Config, eng *Engine) func(*cartridge.Server) {
	return internal.MountRoutes(cfg, eng)
}
