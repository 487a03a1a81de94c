package testsupport

import (
	"context"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/wp-statistics/wp-statistics-sub019/internal"
	"github.com/wp-statistics/wp-statistics-sub019/internal/config"
	"github.com/wp-statistics/wp-statistics-sub019/internal/engine"
)

// TestConfig returns a private copy of the configuration in test mode.
func TestConfig() *config.Config {
	cfg := *config.GetConfig()
	cfg.Environment = config.Test
	cfg.Multisite = false
	cfg.ViewerKeyHash = ""
	cfg.NetworkAdminKeyHash = ""
	cfg.RegistryFile = ""
	cfg.CacheBackend = config.CacheMemory
	return &cfg
}

// CreateTestApp creates a test Fiber app with all routes over db.
func CreateTestApp(t *testing.T, db *gorm.DB, cfg *config.Config, opts engine.Options) (*fiber.App, *engine.Engine) {
	t.Helper()

	logger := GetLogger()
	eng, err := engine.Build(context.Background(), cfg, db, logger, opts)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	serverCfg := cartridge.DefaultServerConfig()
	serverCfg.Config = cfg
	serverCfg.Logger = logger
	serverCfg.DBManager = NewTestDBManager(db)

	srv, err := cartridge.NewServer(serverCfg)
	require.NoError(t, err)

	internal.MountRoutes(cfg, eng)(srv)
	return srv.App(), eng
}
