package seeder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"github.com/wp-statistics/wp-statistics-sub019/internal/sites"
	"github.com/wp-statistics/wp-statistics-sub019/internal/storage"
	"github.com/wp-statistics/wp-statistics-sub019/internal/timeframe"
)

const batchSize = 500

// Seeder fills the database with realistic visits for local development.
type Seeder struct {
	DBManager  cartridge.DBManager
	Logger     *slog.Logger
	VisitCount int
	Days       int
	Domains    []string

	rng *rand.Rand
	now func() time.Time
}

// NewSeeder creates a new seeder instance
func NewSeeder(dbManager cartridge.DBManager, logger *slog.Logger, visitCount int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		DBManager:  dbManager,
		Logger:     logger,
		VisitCount: visitCount,
		Days:       60,
		Domains:    []string{"example.com", "blog.example.com", "shop.example.com"},
		rng:        rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 42)),
		now:        time.Now,
	}
}

// WithSeed makes the generated data reproducible.
func (s *Seeder) WithSeed(seed uint64, now time.Time) *Seeder {
	s.rng = rand.New(rand.NewPCG(seed, seed))
	s.now = func() time.Time { return now }
	return s
}

// Run creates the sites and spreads VisitCount visits over them.
func (s *Seeder) Run(ctx context.Context) error {
	start := time.Now()
	s.Logger.Info("Starting database seeding...", slog.Int("visitCount", s.VisitCount))

	siteList, err := s.seedSites()
	if err != nil {
		return fmt.Errorf("failed to seed sites: %w", err)
	}

	perSite := max(s.VisitCount/max(len(siteList), 1), 1)
	for _, site := range siteList {
		if err := s.SeedSite(ctx, site, perSite); err != nil {
			return fmt.Errorf("failed to generate data for %s: %w", site.Domain, err)
		}
	}

	s.Logger.Info("Seeding completed successfully", slog.Duration("elapsed", time.Since(start)))
	return nil
}

func (s *Seeder) seedSites() ([]sites.Site, error) {
	db := s.DBManager.GetConnection()
	out := make([]sites.Site, 0, len(s.Domains))
	for _, domain := range s.Domains {
		site, err := sites.Create(db, domain, domain)
		if err != nil {
			return nil, err
		}
		s.Logger.Info("Site ready", slog.Uint64("id", uint64(site.ID)), slog.String("domain", site.Domain))
		out = append(out, *site)
	}
	return out, nil
}

var pages = []struct {
	uri, kind, title string
}{
	{"/", "home", "Home"},
	{"/about", "page", "About"},
	{"/contact", "page", "Contact"},
	{"/blog", "archive", "Blog"},
	{"/blog/hello-world", "post", "Hello World"},
	{"/blog/release-notes", "post", "Release Notes"},
	{"/shop", "page", "Shop"},
	{"/product/widget", "product", "Widget"},
}

var (
	browsers  = []string{"chrome", "firefox", "safari", "edge", "opera"}
	oses      = []string{"windows", "macos", "linux", "android", "ios"}
	devices   = []string{"desktop", "desktop", "desktop", "mobile", "mobile", "tablet"}
	countries = []struct{ code, city string }{
		{"US", "New York"}, {"US", "Austin"}, {"DE", "Berlin"}, {"GB", "London"},
		{"FR", "Paris"}, {"IR", "Tehran"}, {"BR", "São Paulo"}, {"JP", "Tokyo"},
	}
	referrers = []struct{ host, channel string }{
		{"", "direct"}, {"", "direct"},
		{"google.com", "search"}, {"google.com", "search"}, {"bing.com", "search"},
		{"facebook.com", "social"}, {"twitter.com", "social"},
		{"news.ycombinator.com", "referral"},
	}
	roles = []string{"", "", "", "subscriber", "editor", "administrator"}
)

// SeedSite writes visitCount visits for site spread over the last Days days.
func (s *Seeder) SeedSite(ctx context.Context, site sites.Site, visitCount int) error {
	db := s.DBManager.GetConnection()

	resources, err := s.seedResources(db, site)
	if err != nil {
		return err
	}

	today := timeframe.Day(s.now().UTC())
	visitors := max(visitCount/3, 1)
	visits := make([]storage.Visit, 0, visitCount)
	for range visitCount {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res := resources[s.rng.IntN(len(resources))]
		ref := referrers[s.rng.IntN(len(referrers))]
		views := 1 + s.rng.IntN(6)
		role := roles[s.rng.IntN(len(roles))]
		visits = append(visits, storage.Visit{
			SiteID:      site.ID,
			Date:        today.AddDate(0, 0, -s.rng.IntN(max(s.Days, 1))).Format(timeframe.DateLayout),
			Hour:        s.rng.IntN(24),
			VisitorHash: visitorHash(site.ID, s.rng.IntN(visitors)),
			ResourceID:  &res.ID,
			PageViews:   views,
			Duration:    views * (10 + s.rng.IntN(120)),
			Bounced:     views == 1,
			Browser:     browsers[s.rng.IntN(len(browsers))],
			OS:          oses[s.rng.IntN(len(oses))],
			Device:      devices[s.rng.IntN(len(devices))],
			Referrer:    ref.host,
			Channel:     ref.channel,
			UserRole:    role,
			LoggedIn:    role != "",
			CreatedAt:   s.now().UTC(),
		})
	}

	err = sqlite.PerformWrite(s.Logger, db, func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(&visits, batchSize).Error; err != nil {
			return err
		}
		locations := make([]storage.VisitorLocation, 0, len(visits))
		for _, v := range visits {
			c := countries[s.rng.IntN(len(countries))]
			locations = append(locations, storage.VisitorLocation{VisitID: v.ID, Country: c.code, City: c.city})
		}
		return tx.CreateInBatches(&locations, batchSize).Error
	})
	if err != nil {
		return fmt.Errorf("failed to insert visits: %w", err)
	}

	s.Logger.Info("Generated visits for site",
		slog.String("domain", site.Domain),
		slog.Int("visits", len(visits)),
		slog.Int("days", s.Days))
	return nil
}

func (s *Seeder) seedResources(db *gorm.DB, site sites.Site) ([]storage.Resource, error) {
	var existing []storage.Resource
	if err := db.Where("site_id = ?", site.ID).Find(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to load resources: %w", err)
	}
	if len(existing) > 0 {
		return existing, nil
	}

	out := make([]storage.Resource, 0, len(pages))
	for _, p := range pages {
		out = append(out, storage.Resource{
			SiteID:       site.ID,
			ResourceType: p.kind,
			Title:        p.title,
			URI:          p.uri,
			CreatedAt:    s.now().UTC(),
		})
	}
	err := sqlite.PerformWrite(s.Logger, db, func(tx *gorm.DB) error {
		return tx.Create(&out).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resources: %w", err)
	}
	return out, nil
}

func visitorHash(site uint, n int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%d:%d", site, n))
	return hex.EncodeToString(sum[:8])
}
