// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Database types
const (
	SQLiteDatabase = "sqlite"
)

// Cache backends
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`

	// File paths
	DatabasePath          string `mapstructure:"storagepath"`
	DatabaseName          string `mapstructure:"-"` // Derived from other settings
	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"publicassetsurlprefix"`
	RegistryFile          string `mapstructure:"registryfile"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseType         string `mapstructure:"dbtype"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`

	// Result cache
	CacheBackend           string `mapstructure:"cachebackend"`
	RedisURL               string `mapstructure:"redisurl"`
	CacheMaxEntries        int    `mapstructure:"cachemaxentries"`
	CacheTodayTTLSeconds   int    `mapstructure:"cachetodayttlseconds"`
	CacheHistoryTTLSeconds int    `mapstructure:"cachehistoryttlseconds"`

	// Query defaults
	DefaultPerPage  int    `mapstructure:"defaultperpage"`
	MaxPerPage      int    `mapstructure:"maxperpage"`
	MaxRangeDays    int    `mapstructure:"maxrangedays"`
	DefaultSiteID   uint   `mapstructure:"defaultsiteid"`
	DefaultTimezone string `mapstructure:"defaulttimezone"`
	BatchWorkers    int    `mapstructure:"batchworkers"`

	// Multisite and access
	Multisite           bool   `mapstructure:"multisite"`
	ViewerKeyHash       string `mapstructure:"viewerkeyhash"`
	NetworkAdminKeyHash string `mapstructure:"networkadminkeyhash"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		v.SetDefault("appname", "wpstats")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("storagepath", "storage")
		v.SetDefault("publicdir", "public")
		v.SetDefault("publicassetsurlprefix", "/")
		v.SetDefault("registryfile", "")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbtype", SQLiteDatabase)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("cachebackend", CacheMemory)
		v.SetDefault("redisurl", "redis://localhost:6379/0")
		v.SetDefault("cachemaxentries", 1000)
		v.SetDefault("cachetodayttlseconds", 300)
		v.SetDefault("cachehistoryttlseconds", 86400)
		v.SetDefault("defaultperpage", 10)
		v.SetDefault("maxperpage", 100)
		v.SetDefault("maxrangedays", 3660)
		v.SetDefault("defaultsiteid", 1)
		v.SetDefault("defaulttimezone", "UTC")
		v.SetDefault("batchworkers", 4)
		v.SetDefault("multisite", false)
		v.SetDefault("viewerkeyhash", "")
		v.SetDefault("networkadminkeyhash", "")

		v.BindEnv("appname", "WPSTATS_APP_NAME")
		v.BindEnv("appport", "WPSTATS_APP_PORT")
		v.BindEnv("environment", "WPSTATS_ENV")
		v.BindEnv("loglevel", "WPSTATS_LOG_LEVEL")
		v.BindEnv("storagepath", "WPSTATS_STORAGE_PATH")
		v.BindEnv("publicdir", "WPSTATS_PUBLIC_DIR")
		v.BindEnv("publicassetsurlprefix", "WPSTATS_PUBLIC_ASSETS_URL_PREFIX")
		v.BindEnv("registryfile", "WPSTATS_REGISTRY_FILE")
		v.BindEnv("logsdir", "WPSTATS_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "WPSTATS_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "WPSTATS_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "WPSTATS_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbtype", "WPSTATS_DB_TYPE")
		v.BindEnv("dbmaxopenconns", "WPSTATS_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "WPSTATS_DB_MAX_IDLE_CONNS")
		v.BindEnv("cachebackend", "WPSTATS_CACHE_BACKEND")
		v.BindEnv("redisurl", "WPSTATS_REDIS_URL")
		v.BindEnv("cachemaxentries", "WPSTATS_CACHE_MAX_ENTRIES")
		v.BindEnv("cachetodayttlseconds", "WPSTATS_CACHE_TODAY_TTL_SECONDS")
		v.BindEnv("cachehistoryttlseconds", "WPSTATS_CACHE_HISTORY_TTL_SECONDS")
		v.BindEnv("defaultperpage", "WPSTATS_DEFAULT_PER_PAGE")
		v.BindEnv("maxperpage", "WPSTATS_MAX_PER_PAGE")
		v.BindEnv("maxrangedays", "WPSTATS_MAX_RANGE_DAYS")
		v.BindEnv("defaultsiteid", "WPSTATS_DEFAULT_SITE_ID")
		v.BindEnv("defaulttimezone", "WPSTATS_TIMEZONE")
		v.BindEnv("batchworkers", "WPSTATS_BATCH_WORKERS")
		v.BindEnv("multisite", "WPSTATS_MULTISITE")
		v.BindEnv("viewerkeyhash", "WPSTATS_VIEWER_KEY_HASH")
		v.BindEnv("networkadminkeyhash", "WPSTATS_NETWORK_ADMIN_KEY_HASH")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		// Set derived values
		cfg.DatabaseName = cfg.GetDatabasePath()

		if cfg.IsProduction() && cfg.ViewerKeyHash == "" {
			log.Fatal("Production requires WPSTATS_VIEWER_KEY_HASH")
		}
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validDBTypes := map[string]bool{
		SQLiteDatabase: true,
	}
	if !validDBTypes[c.DatabaseType] {
		return fmt.Errorf("invalid database type: %s", c.DatabaseType)
	}

	validBackends := map[string]bool{
		CacheMemory: true,
		CacheRedis:  true,
	}
	if !validBackends[c.CacheBackend] {
		return fmt.Errorf("invalid cache backend: %s", c.CacheBackend)
	}

	if c.DefaultPerPage <= 0 || c.MaxPerPage <= 0 {
		return fmt.Errorf("per page bounds must be positive: default=%d max=%d", c.DefaultPerPage, c.MaxPerPage)
	}
	if c.MaxPerPage < c.DefaultPerPage {
		return fmt.Errorf("max per page %d is below default %d", c.MaxPerPage, c.DefaultPerPage)
	}
	if c.MaxRangeDays <= 0 {
		return fmt.Errorf("max range days must be positive: %d", c.MaxRangeDays)
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// CacheTodayTTL is how long results for ranges reaching today stay fresh.
func (c *Config) CacheTodayTTL() time.Duration {
	return time.Duration(c.CacheTodayTTLSeconds) * time.Second
}

// CacheHistoryTTL is how long results for past ranges stay fresh.
func (c *Config) CacheHistoryTTL() time.Duration {
	return time.Duration(c.CacheHistoryTTLSeconds) * time.Second
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.PublicAssetsUrlPrefix
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret implements cartridge.FactoryConfig. The API is stateless, the
// viewer key hash only seeds cookie signing should a session ever be enabled.
func (c *Config) GetSessionSecret() string {
	return c.ViewerKeyHash
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1
// - Development/Production: 10 (aggregations of one request run in parallel)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
