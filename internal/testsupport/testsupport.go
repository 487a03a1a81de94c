package testsupport

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wp-statistics/wp-statistics-sub019/internal/database"
	"github.com/wp-statistics/wp-statistics-sub019/internal/sites"
	"github.com/wp-statistics/wp-statistics-sub019/internal/storage"
	"github.com/wp-statistics/wp-statistics-sub019/internal/timeframe"
)

// testDBCache lets several calls within one test share a database.
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager.
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

var _ cartridge.DBManager = (*TestDBManager)(nil)

// SetupTestDB creates a named in-memory database with every model migrated.
// cache=shared lets the pool's connections see the same data.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// CreateTestSite creates a site in the database
func CreateTestSite(t *testing.T, db *gorm.DB, domain string) sites.Site {
	t.Helper()
	site, err := sites.Create(db, domain, domain)
	require.NoError(t, err)
	return *site
}

// VisitFixture describes a visit to insert. Zero values get sensible defaults.
type VisitFixture struct {
	Site      uint
	Date      string
	Hour      int
	Visitor   string
	PageViews int
	Duration  int
	Bounced   bool
	Browser   string
	OS        string
	Device    string
	Referrer  string
	Channel   string
	Country   string
	City      string
	Resource  *storage.Resource
	LoggedIn  bool
	UserRole  string
}

// InsertVisits writes visits, their locations and resources.
func InsertVisits(t *testing.T, db *gorm.DB, fixtures ...VisitFixture) {
	t.Helper()
	for i, f := range fixtures {
		if f.Site == 0 {
			f.Site = 1
		}
		if f.Visitor == "" {
			f.Visitor = fmt.Sprintf("visitor-%d", i)
		}
		if f.PageViews == 0 {
			f.PageViews = 1
		}
		if f.Browser == "" {
			f.Browser = "chrome"
		}
		if f.Device == "" {
			f.Device = "desktop"
		}
		if f.OS == "" {
			f.OS = "windows"
		}

		visit := storage.Visit{
			SiteID: f.Site, Date: f.Date, Hour: f.Hour, VisitorHash: f.Visitor,
			PageViews: f.PageViews, Duration: f.Duration, Bounced: f.Bounced,
			Browser: f.Browser, OS: f.OS, Device: f.Device, Referrer: f.Referrer,
			Channel: f.Channel, UserRole: f.UserRole, LoggedIn: f.LoggedIn,
			CreatedAt: time.Now().UTC(),
		}
		if f.Resource != nil {
			if f.Resource.ID == 0 {
				f.Resource.SiteID = f.Site
				require.NoError(t, db.Create(f.Resource).Error)
			}
			visit.ResourceID = &f.Resource.ID
		}
		require.NoError(t, db.Create(&visit).Error)

		if f.Country != "" {
			loc := storage.VisitorLocation{VisitID: visit.ID, Country: f.Country, City: f.City}
			require.NoError(t, db.Create(&loc).Error)
		}
	}
}

// FixedClock is a timeframe.TimeProvider frozen at Time.
type FixedClock struct {
	Time time.Time
}

// Now returns the frozen time in loc.
func (c FixedClock) Now(loc *time.Location) time.Time {
	return c.Time.In(loc)
}

var _ timeframe.TimeProvider = FixedClock{}

// CountingStorage is a scripted storage.Storage that counts calls.
// RowsByFrom and TotalsByFrom key responses by the request's start date.
type CountingStorage struct {
	RowsByFrom   map[string][]storage.Row
	TotalsByFrom map[string]storage.Row
	Err          error
	Delay        time.Duration

	aggregateCalls atomic.Int64
	totalsCalls    atomic.Int64

	mu       sync.Mutex
	requests []storage.AggregateRequest
}

// Aggregate implements storage.Storage.
func (s *CountingStorage) Aggregate(ctx context.Context, req storage.AggregateRequest) ([]storage.Row, int64, error) {
	s.aggregateCalls.Add(1)
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if err := s.wait(ctx); err != nil {
		return nil, 0, err
	}
	if s.Err != nil {
		return nil, 0, s.Err
	}

	all := s.RowsByFrom[req.Range.FromString()]
	total := int64(len(all))
	if len(req.GroupBy) == 0 || req.PerPage == 0 {
		return cloneRows(all), total, nil
	}
	start := (req.Page - 1) * req.PerPage
	if start >= len(all) {
		return nil, total, nil
	}
	end := min(start+req.PerPage, len(all))
	return cloneRows(all[start:end]), total, nil
}

// AggregateTotals implements storage.Storage.
func (s *CountingStorage) AggregateTotals(ctx context.Context, req storage.TotalsRequest) (storage.Row, error) {
	s.totalsCalls.Add(1)
	if err := s.wait(ctx); err != nil {
		return storage.Row{}, err
	}
	if s.Err != nil {
		return storage.Row{}, s.Err
	}
	row, ok := s.TotalsByFrom[req.Range.FromString()]
	if !ok {
		row = storage.NewRow()
	}
	return cloneRows([]storage.Row{row})[0], nil
}

func (s *CountingStorage) wait(ctx context.Context) error {
	if s.Delay == 0 {
		return nil
	}
	select {
	case <-time.After(s.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AggregateCalls returns how many times Aggregate ran.
func (s *CountingStorage) AggregateCalls() int64 { return s.aggregateCalls.Load() }

// TotalsCalls returns how many times AggregateTotals ran.
func (s *CountingStorage) TotalsCalls() int64 { return s.totalsCalls.Load() }

// Requests returns every Aggregate request seen, in arrival order.
func (s *CountingStorage) Requests() []storage.AggregateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storage.AggregateRequest(nil), s.requests...)
}

// DailyRows builds rows keyed by alias "date" starting at from, one per value.
func DailyRows(from, source string, values ...float64) []storage.Row {
	start, err := time.Parse(timeframe.DateLayout, from)
	if err != nil {
		panic(err)
	}
	rows := make([]storage.Row, 0, len(values))
	for i, v := range values {
		row := storage.NewRow()
		row.Keys["date"] = start.AddDate(0, 0, i).Format(timeframe.DateLayout)
		row.Values[source] = v
		rows = append(rows, row)
	}
	return rows
}

func cloneRows(in []storage.Row) []storage.Row {
	out := make([]storage.Row, 0, len(in))
	for _, r := range in {
		c := storage.NewRow()
		for k, v := range r.Keys {
			c.Keys[k] = v
		}
		for k, v := range r.Values {
			c.Values[k] = v
		}
		out = append(out, c)
	}
	return out
}
