package network

import (
	"context"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/cache"
	"gorm.io/gorm"

	"github.com/wp-statistics/wp-statistics-sub019/internal/sites"
)

// Directory lists the tenants of the network.
type Directory interface {
	Tenants(ctx context.Context) ([]sites.Site, error)
}

const (
	tenantsKey = "active_sites"
	tenantsTTL = 5 * time.Minute
)

// SiteDirectory reads active sites through a read-through cache.
type SiteDirectory struct {
	sites *cache.Cache[string, []sites.Site]
}

// NewSiteDirectory creates a directory over db.
func NewSiteDirectory(db *gorm.DB, logger *slog.Logger) *SiteDirectory {
	fetch := func(string) ([]sites.Site, error) {
		return sites.ListActive(db)
	}
	return &SiteDirectory{sites: cache.NewCache[string, []sites.Site](logger, tenantsTTL, fetch)}
}

// Tenants implements Directory.
func (d *SiteDirectory) Tenants(_ context.Context) ([]sites.Site, error) {
	return d.sites.Get(tenantsKey)
}

// Refresh drops the cached list so the next call reads the database.
func (d *SiteDirectory) Refresh() {
	d.sites.Clear()
}
