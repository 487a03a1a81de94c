// Package internal contains core application functionality
package internal

import (
	"context"
	"fmt"

	"github.com/karloscodes/cartridge"

	"github.com/wp-statistics/wp-statistics-sub019/internal/config"
	"github.com/wp-statistics/wp-statistics-sub019/internal/database"
	"github.com/wp-statistics/wp-statistics-sub019/internal/engine"
)

// Application wraps cartridge.Application with the query engine
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager
	Engine    *engine.Engine
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	cfg := config.GetConfig()
	return NewAppWithConfig(cfg)
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	return NewAppWithRoutes(cfg, nil)
}

// NewAppWithRoutes creates a new application. extra, when set, mounts routes after the built-in ones.
func NewAppWithRoutes(cfg *config.Config, extra func(*cartridge.Server)) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := dbManager.MigrateDatabase(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	eng, err := engine.Build(context.Background(), cfg, dbManager.GetConnection(), logger, engine.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to build query engine: %w", err)
	}

	mount := MountRoutes(cfg, eng)
	if extra != nil {
		builtin := mount
		mount = func(srv *cartridge.Server) {
			builtin(srv)
			extra(srv)
		}
	}

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:         cfg,
		Logger:         logger,
		DBManager:      dbManager,
		RouteMountFunc: mount,
	})
	if err != nil {
		eng.Close()
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		Engine:      eng,
	}, nil
}

// Close releases the engine's connections.
func (a *Application) Close() error {
	return a.Engine.Close()
}
