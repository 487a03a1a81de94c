package storage_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wp-statistics/wp-statistics-sub019/internal/registry"
	"github.com/wp-statistics/wp-statistics-sub019/internal/storage"
	"github.com/wp-statistics/wp-statistics-sub019/internal/testsupport"
	"github.com/wp-statistics/wp-statistics-sub019/internal/timeframe"
)

func exact(q string) string {
	return "^" + regexp.QuoteMeta(q) + "$"
}

// mockDB opens gorm over sqlmock. The dialector asks for the SQLite version
// once while opening.
func mockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	mock.ExpectQuery(exact("select sqlite_version()")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("3.45.1"))
	db, err := gorm.Open(sqlite.New(sqlite.Config{Conn: conn}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestSQLStore_AggregateSQL(t *testing.T) {
	t.Parallel()

	db, mock := mockDB(t)

	mock.ExpectQuery(exact(
		`SELECT v.browser AS "browser", COUNT(DISTINCT v.visitor_hash) AS "visitors" FROM visits v ` +
			`LEFT JOIN visitor_locations vl ON vl.visit_id = v.id ` +
			`WHERE v.site_id = ? AND v.date BETWEEN ? AND ? AND vl.country IN (?, ?) ` +
			`GROUP BY v.browser ORDER BY "visitors" DESC, "browser" ASC LIMIT ? OFFSET ?`,
	)).WithArgs(int64(1), "2024-11-01", "2024-11-30", "US", "DE", 10, 10).
		WillReturnRows(sqlmock.NewRows([]string{"browser", "visitors"}).
			AddRow("chrome", 12).
			AddRow([]byte("firefox"), []byte("4")))

	mock.ExpectQuery(exact(
		`SELECT COUNT(*) FROM (SELECT 1 FROM visits v ` +
			`LEFT JOIN visitor_locations vl ON vl.visit_id = v.id ` +
			`WHERE v.site_id = ? AND v.date BETWEEN ? AND ? AND vl.country IN (?, ?) ` +
			`GROUP BY v.browser) AS grouped`,
	)).WithArgs(int64(1), "2024-11-01", "2024-11-30", "US", "DE").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	store := storage.NewSQLStore(db, registry.NewDefault(), testsupport.GetLogger())
	rows, total, err := store.Aggregate(context.Background(), storage.AggregateRequest{
		Sources:   []string{"visitors"},
		GroupBy:   []string{"browser"},
		Filters:   map[string][]string{"country": {"US", "DE"}},
		Range:     timeframe.MustRange("2024-11-01", "2024-11-30"),
		Site:      1,
		Page:      2,
		PerPage:   10,
		OrderBy:   "visitors",
		OrderDesc: true,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, int64(12), total)
	require.Len(t, rows, 2)
	assert.Equal(t, "chrome", rows[0].Keys["browser"])
	assert.Equal(t, 12.0, rows[0].Values["visitors"])
	assert.Equal(t, "firefox", rows[1].Keys["browser"])
	assert.Equal(t, 4.0, rows[1].Values["visitors"])
}

func TestSQLStore_TotalsSQL(t *testing.T) {
	t.Parallel()

	db, mock := mockDB(t)

	mock.ExpectQuery(exact(
		`SELECT COALESCE(SUM(v.page_views), 0) AS "views", COUNT(DISTINCT vl.country) AS "countries" FROM visits v ` +
			`LEFT JOIN visitor_locations vl ON vl.visit_id = v.id ` +
			`LEFT JOIN resources r ON r.id = v.resource_id ` +
			`WHERE v.site_id = ? AND v.date BETWEEN ? AND ? AND r.resource_type IN (?)`,
	)).WithArgs(int64(3), "2024-11-01", "2024-11-03", "post").
		WillReturnRows(sqlmock.NewRows([]string{"views", "countries"}).AddRow(60, nil))

	store := storage.NewSQLStore(db, registry.NewDefault(), testsupport.GetLogger())
	row, err := store.AggregateTotals(context.Background(), storage.TotalsRequest{
		Sources: []string{"views", "countries"},
		Filters: map[string][]string{"resource_type": {"post"}},
		Range:   timeframe.MustRange("2024-11-01", "2024-11-03"),
		Site:    3,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 60.0, row.Values["views"])
	assert.Equal(t, 0.0, row.Values["countries"])
}

type recordingObserver struct {
	ops  []string
	errs int
}

func (o *recordingObserver) ObserveStorage(op string, _ time.Duration, err error) {
	o.ops = append(o.ops, op)
	if err != nil {
		o.errs++
	}
}

func TestSQLStore_DriverError(t *testing.T) {
	t.Parallel()

	db, mock := mockDB(t)

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("database is locked"))

	observer := &recordingObserver{}
	store := storage.NewSQLStore(db, registry.NewDefault(), testsupport.GetLogger()).WithObserver(observer)
	_, _, err := store.Aggregate(context.Background(), storage.AggregateRequest{
		Sources: []string{"views"},
		GroupBy: []string{"date"},
		Range:   timeframe.MustRange("2024-11-01", "2024-11-03"),
		Site:    1,
		PerPage: 10,
		Page:    1,
		OrderBy: "date",
	})
	assert.ErrorContains(t, err, "database is locked")
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, []string{"aggregate"}, observer.ops)
	assert.Equal(t, 1, observer.errs)
}

func TestSQLStore_UnknownNames(t *testing.T) {
	t.Parallel()

	db, _ := mockDB(t)

	store := storage.NewSQLStore(db, registry.NewDefault(), testsupport.GetLogger())
	rng := timeframe.MustRange("2024-11-01", "2024-11-03")

	_, _, err := store.Aggregate(context.Background(), storage.AggregateRequest{Sources: []string{"revenue"}, Range: rng})
	assert.ErrorContains(t, err, "unknown source")

	_, _, err = store.Aggregate(context.Background(), storage.AggregateRequest{Sources: []string{"views"}, GroupBy: []string{"planet"}, Range: rng})
	assert.ErrorContains(t, err, "unknown group-by")

	_, err = store.AggregateTotals(context.Background(), storage.TotalsRequest{Sources: []string{"views"}, Filters: map[string][]string{"planet": {"x"}}, Range: rng})
	assert.ErrorContains(t, err, "unknown filter")
}
