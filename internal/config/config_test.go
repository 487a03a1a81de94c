package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConfigDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	t.Setenv("WPSTATS_ENV", Test)

	c := GetConfig()
	assert.Equal(t, "wpstats", c.AppName)
	assert.Equal(t, CacheMemory, c.CacheBackend)
	assert.Equal(t, 10, c.DefaultPerPage)
	assert.Equal(t, 100, c.MaxPerPage)
	assert.Equal(t, 3660, c.MaxRangeDays)
	assert.Equal(t, uint(1), c.DefaultSiteID)
	assert.Equal(t, 5*time.Minute, c.CacheTodayTTL())
	assert.Equal(t, 24*time.Hour, c.CacheHistoryTTL())
	assert.Equal(t, "storage/wpstats-test.db", c.DatabaseName)
	assert.Equal(t, 1, c.GetMaxOpenConns())
}

func TestGetConfigFromEnv(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	t.Setenv("WPSTATS_ENV", Development)
	t.Setenv("WPSTATS_CACHE_BACKEND", CacheRedis)
	t.Setenv("WPSTATS_MAX_PER_PAGE", "50")
	t.Setenv("WPSTATS_MAX_RANGE_DAYS", "400")
	t.Setenv("WPSTATS_MULTISITE", "true")
	t.Setenv("WPSTATS_DB_MAX_OPEN_CONNS", "3")

	c := GetConfig()
	assert.Equal(t, CacheRedis, c.CacheBackend)
	assert.Equal(t, 50, c.MaxPerPage)
	assert.Equal(t, 400, c.MaxRangeDays)
	assert.True(t, c.Multisite)
	assert.Equal(t, 3, c.GetMaxOpenConns())
	assert.Equal(t, 5, c.GetMaxIdleConns())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Environment:    Test,
			DatabaseType:   SQLiteDatabase,
			CacheBackend:   CacheMemory,
			DefaultPerPage: 10,
			MaxPerPage:     100,
			MaxRangeDays:   3660,
		}
	}
	require.NoError(t, valid().validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown environment", func(c *Config) { c.Environment = "staging" }},
		{"unknown database", func(c *Config) { c.DatabaseType = "postgres" }},
		{"unknown cache backend", func(c *Config) { c.CacheBackend = "memcached" }},
		{"zero default per page", func(c *Config) { c.DefaultPerPage = 0 }},
		{"max below default", func(c *Config) { c.MaxPerPage = 5 }},
		{"unbounded range", func(c *Config) { c.MaxRangeDays = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.validate())
		})
	}
}
