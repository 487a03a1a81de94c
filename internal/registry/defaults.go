package registry

import "github.com/wp-statistics/wp-statistics-sub019/internal/timeframe"

// Join names of the built-in catalog.
const (
	JoinGeo       = "geo"
	JoinResources = "resources"
)

var defaultJoins = []Join{
	{Name: JoinGeo, Clause: "LEFT JOIN visitor_locations vl ON vl.visit_id = v.id"},
	{Name: JoinResources, Clause: "LEFT JOIN resources r ON r.id = v.resource_id"},
}

var defaultSources = []Source{
	{Name: "visitors", Label: "Visitors", Expression: "COUNT(DISTINCT v.visitor_hash)", Additive: true},
	{Name: "visits", Label: "Visits", Expression: "COUNT(v.id)", Additive: true},
	{Name: "views", Label: "Views", Expression: "COALESCE(SUM(v.page_views), 0)", Additive: true},
	{
		Name:       "bounce_rate",
		Label:      "Bounce Rate",
		Expression: "ROUND(100.0 * SUM(CASE WHEN v.bounced THEN 1 ELSE 0 END) / NULLIF(COUNT(v.id), 0), 1)",
		Format:     FormatPercent,
	},
	{Name: "avg_duration", Label: "Avg. Duration", Expression: "ROUND(AVG(v.duration), 0)", Format: FormatDuration},
	{
		Name:       "pages_per_visit",
		Label:      "Pages / Visit",
		Expression: "ROUND(1.0 * SUM(v.page_views) / NULLIF(COUNT(v.id), 0), 2)",
		Format:     FormatDecimal,
	},
	{Name: "countries", Label: "Countries", Expression: "COUNT(DISTINCT vl.country)", Joins: []string{JoinGeo}},
}

var defaultGroupBys = []GroupBy{
	{Name: "date", Label: "Date", Expression: "v.date", Temporal: timeframe.TimeFrameBucketSizeDay},
	{Name: "week", Label: "Week", Expression: "date(v.date, 'weekday 0', '-6 days')", Temporal: timeframe.TimeFrameBucketSizeWeek},
	{Name: "month", Label: "Month", Expression: "strftime('%Y-%m', v.date)", Temporal: timeframe.TimeFrameBucketSizeMonth},
	{Name: "year", Label: "Year", Expression: "strftime('%Y', v.date)", Temporal: timeframe.TimeFrameBucketSizeYear},
	{Name: "hour", Label: "Hour", Expression: "v.hour", Order: OrderByKey},
	{Name: "country", Label: "Country", Expression: "COALESCE(vl.country, '')", Joins: []string{JoinGeo}},
	{Name: "city", Label: "City", Expression: "COALESCE(vl.city, '')", Joins: []string{JoinGeo}},
	{Name: "browser", Label: "Browser", Expression: "v.browser"},
	{Name: "os", Label: "Operating System", Expression: "v.os"},
	{Name: "device", Label: "Device", Expression: "v.device"},
	{Name: "referrer", Label: "Referrer", Expression: "v.referrer"},
	{Name: "channel", Label: "Channel", Expression: "v.channel"},
	{Name: "user_role", Label: "User Role", Expression: "v.user_role"},
	{Name: "page", Label: "Page", Expression: "COALESCE(r.uri, '')", Joins: []string{JoinResources}},
	{Name: "resource_type", Label: "Content Type", Expression: "COALESCE(r.resource_type, '')", Joins: []string{JoinResources}},
}

var defaultFilters = []Filter{
	{Name: "resource_id", Column: "v.resource_id", Kind: FilterNumber},
	{Name: "resource_type", Column: "r.resource_type", Joins: []string{JoinResources}},
	{Name: "country", Column: "vl.country", Joins: []string{JoinGeo}},
	{Name: "city", Column: "vl.city", Joins: []string{JoinGeo}},
	{Name: "browser", Column: "v.browser"},
	{Name: "os", Column: "v.os"},
	{Name: "device", Column: "v.device"},
	{Name: "referrer", Column: "v.referrer"},
	{Name: "channel", Column: "v.channel"},
	{Name: "user_role", Column: "v.user_role"},
	{Name: "logged_in", Column: "v.logged_in", Kind: FilterBool},
}

// NewDefault returns a registry populated with the built-in catalog.
func NewDefault() *Registry {
	r := New()
	for _, j := range defaultJoins {
		mustRegister(r.RegisterJoin(j))
	}
	for _, s := range defaultSources {
		mustRegister(r.RegisterSource(s))
	}
	for _, g := range defaultGroupBys {
		mustRegister(r.RegisterGroupBy(g))
	}
	for _, f := range defaultFilters {
		mustRegister(r.RegisterFilter(f))
	}
	return r
}

func mustRegister(err error) {
	if err != nil {
		panic(err)
	}
}
