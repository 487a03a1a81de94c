package registry_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wp-statistics/wp-statistics-sub019/internal/registry"
	"github.com/wp-statistics/wp-statistics-sub019/internal/timeframe"
)

func TestDefaultCatalog(t *testing.T) {
	r := registry.NewDefault()

	visitors, ok := r.Sources.Get("visitors")
	require.True(t, ok)
	assert.Equal(t, "Visitors", visitors.Label)
	assert.True(t, visitors.Additive)
	assert.Equal(t, registry.FormatNumber, visitors.Format)

	_, ok = r.Sources.Get("nope")
	assert.False(t, ok, "unknown names must be reported absent")

	date, ok := r.GroupBys.Get("date")
	require.True(t, ok)
	assert.True(t, date.IsTemporal())
	assert.Equal(t, "date", date.Alias)
	assert.Equal(t, registry.OrderByKey, date.Order)

	country, ok := r.GroupBys.Get("country")
	require.True(t, ok)
	assert.False(t, country.IsTemporal())
	assert.Equal(t, registry.OrderByValue, country.Order)
	assert.Equal(t, []string{registry.JoinGeo}, country.Joins)

	hour, _ := r.GroupBys.Get("hour")
	assert.Equal(t, registry.OrderByKey, hour.Order)

	names := make([]string, 0)
	for _, s := range r.Sources.All() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"visitors", "visits", "views", "bounce_rate", "avg_duration", "pages_per_visit", "countries"}, names)
}

func TestRegisterRejectsDuplicatesAndUnknownJoins(t *testing.T) {
	r := registry.NewDefault()

	err := r.RegisterSource(registry.Source{Name: "visitors", Expression: "1"})
	assert.ErrorContains(t, err, "already registered")

	err = r.RegisterGroupBy(registry.GroupBy{Name: "author", Expression: "a.name", Joins: []string{"authors"}})
	assert.ErrorContains(t, err, "unknown join")

	err = r.RegisterFilter(registry.Filter{Name: "x"})
	assert.ErrorContains(t, err, "no column")
}

func TestResolveJoins(t *testing.T) {
	r := registry.NewDefault()
	joins := r.ResolveJoins([]string{registry.JoinResources}, nil, []string{registry.JoinGeo, registry.JoinResources})
	require.Len(t, joins, 2)
	assert.Equal(t, registry.JoinGeo, joins[0].Name)
	assert.Equal(t, registry.JoinResources, joins[1].Name)
	assert.Empty(t, r.ResolveJoins())
}

func TestLabels(t *testing.T) {
	r := registry.NewDefault()
	assert.Equal(t, "Bounce Rate", r.SourceLabel("bounce_rate"))
	assert.Equal(t, "mystery", r.SourceLabel("mystery"))
	assert.Equal(t, "Operating System", r.GroupByLabel("os"))
}

func TestFilterNormalize(t *testing.T) {
	r := registry.NewDefault()

	id, _ := r.Filters.Get("resource_id")
	assert.Equal(t, []any{int64(12), int64(7)}, id.Normalize([]string{"12", "abc", " 7 "}))

	loggedIn, _ := r.Filters.Get("logged_in")
	assert.Equal(t, []any{1, 0}, loggedIn.Normalize([]string{"true", "0"}))

	browser, _ := r.Filters.Get("browser")
	assert.Equal(t, []any{"chrome"}, browser.Normalize([]string{"chrome"}))
}

func TestLoadExtensions(t *testing.T) {
	doc := `
joins:
  - name: authors
    clause: LEFT JOIN authors a ON a.id = r.author_id
sources:
  - name: logged_in_visits
    label: Logged-in Visits
    expression: SUM(CASE WHEN v.logged_in THEN 1 ELSE 0 END)
    additive: true
group_by:
  - name: author
    label: Author
    expression: a.name
    joins: [resources, authors]
  - name: quarter
    expression: strftime('%Y', v.date)
    temporal: year
filters:
  - name: author
    column: a.name
    joins: [resources, authors]
`
	r := registry.NewDefault()
	require.NoError(t, r.Load(strings.NewReader(doc)))

	src, ok := r.Sources.Get("logged_in_visits")
	require.True(t, ok)
	assert.True(t, src.Additive)

	author, ok := r.GroupBys.Get("author")
	require.True(t, ok)
	assert.Equal(t, "author", author.Alias)
	assert.Equal(t, registry.OrderByValue, author.Order)

	quarter, _ := r.GroupBys.Get("quarter")
	assert.Equal(t, timeframe.TimeFrameBucketSizeYear, quarter.Temporal)

	f, ok := r.Filters.Get("author")
	require.True(t, ok)
	assert.Equal(t, registry.FilterString, f.Kind)
}

func TestLoadFileErrors(t *testing.T) {
	r := registry.NewDefault()

	assert.Error(t, r.LoadFile(filepath.Join(t.TempDir(), "missing.yml")))

	path := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte("sources:\n  - name: x\n    bogus: 1\n"), 0o600))
	assert.ErrorContains(t, r.LoadFile(path), "decoding")

	empty := filepath.Join(t.TempDir(), "empty.yml")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	assert.NoError(t, r.LoadFile(empty))
}
