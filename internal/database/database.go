package database

import (
	"fmt"
	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"github.com/wp-statistics/wp-statistics-sub019/internal/config"
	"github.com/wp-statistics/wp-statistics-sub019/internal/sites"
	"github.com/wp-statistics/wp-statistics-sub019/internal/storage"
)

// DBManager wraps cartridge's sqlite.Manager with the analytics schema migrations.
type DBManager struct {
	*sqlite.Manager
	logger *slog.Logger
	path   string
}

// NewDBManager opens the visit database in WAL mode so aggregation reads never
// block the writer feeding it.
func NewDBManager(cfg *config.Config, logger *slog.Logger) *DBManager {
	sqliteCfg := sqlite.Config{
		Path:         cfg.DatabaseName,
		MaxOpenConns: cfg.GetMaxOpenConns(),
		MaxIdleConns: cfg.GetMaxIdleConns(),
		Logger:       logger,
		EnableWAL:    true,
		TxImmediate:  true,
		BusyTimeout:  5000,
	}

	return &DBManager{
		Manager: sqlite.NewManager(sqliteCfg),
		logger:  logger,
		path:    cfg.DatabaseName,
	}
}

// Init opens the connection pool.
func (dm *DBManager) Init() error {
	if _, err := dm.Manager.Connect(); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", dm.path, err)
	}
	return nil
}

// Models returns every table the engine reads.
func Models() []any {
	return append([]any{&sites.Site{}}, storage.Models()...)
}

// MigrateDatabase creates or updates the sites and visit tables.
func (dm *DBManager) MigrateDatabase() error {
	db := dm.GetConnection()
	if db == nil {
		return gorm.ErrInvalidDB
	}

	models := Models()
	if err := db.Transaction(func(tx *gorm.DB) error {
		return tx.AutoMigrate(models...)
	}); err != nil {
		dm.logger.Error("Failed to auto-migrate database", slog.Any("error", err))
		return err
	}

	// Refresh planner statistics so range scans pick idx_visits_site_date.
	if err := db.Exec("PRAGMA optimize").Error; err != nil {
		dm.logger.Warn("Failed to optimize database after migration", slog.Any("error", err))
	}
	if err := dm.CheckpointWAL("FULL"); err != nil {
		dm.logger.Warn("Failed to checkpoint WAL after migration", slog.Any("error", err))
	}

	dm.logger.Info("Database migration completed", slog.Int("tables", len(models)))
	return nil
}
