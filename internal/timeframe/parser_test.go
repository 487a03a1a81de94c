package timeframe_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wp-statistics/wp-statistics-sub019/internal/timeframe"
)

// TestTimeProvider returns a fixed instant.
type TestTimeProvider struct {
	CurrentTime time.Time
}

func (t *TestTimeProvider) Now(loc *time.Location) time.Time {
	return t.CurrentTime.In(loc)
}

func TestParseRange(t *testing.T) {
	// 2024-07-15 14:30 UTC (Monday)
	fixedTime := time.Date(2024, 7, 15, 14, 30, 0, 0, time.UTC)
	parser := timeframe.NewTimeFrameParser(&TestTimeProvider{CurrentTime: fixedTime})

	testCases := []struct {
		name         string
		params       timeframe.TimeFrameParserParams
		expectedFrom string
		expectedTo   string
		expectedErr  error
	}{
		{
			name:         "default trailing window",
			params:       timeframe.TimeFrameParserParams{},
			expectedFrom: "2024-06-16",
			expectedTo:   "2024-07-15",
		},
		{
			name:         "explicit dates",
			params:       timeframe.TimeFrameParserParams{FromDate: "2024-11-01", ToDate: "2024-11-30"},
			expectedFrom: "2024-11-01",
			expectedTo:   "2024-11-30",
		},
		{
			name:         "only from ends today",
			params:       timeframe.TimeFrameParserParams{FromDate: "2024-07-01"},
			expectedFrom: "2024-07-01",
			expectedTo:   "2024-07-15",
		},
		{
			name:         "only to starts 29 days earlier",
			params:       timeframe.TimeFrameParserParams{ToDate: "2024-03-30"},
			expectedFrom: "2024-03-01",
			expectedTo:   "2024-03-30",
		},
		{
			name:         "preset",
			params:       timeframe.TimeFrameParserParams{Period: "last_7_days"},
			expectedFrom: "2024-07-09",
			expectedTo:   "2024-07-15",
		},
		{
			name:         "explicit dates win over preset",
			params:       timeframe.TimeFrameParserParams{Period: "today", FromDate: "2024-01-01", ToDate: "2024-01-02"},
			expectedFrom: "2024-01-01",
			expectedTo:   "2024-01-02",
		},
		{
			name:        "inverted range",
			params:      timeframe.TimeFrameParserParams{FromDate: "2024-11-30", ToDate: "2024-11-01"},
			expectedErr: timeframe.ErrInvertedRange,
		},
		{
			name:        "garbage date",
			params:      timeframe.TimeFrameParserParams{FromDate: "11/01/2024"},
			expectedErr: timeframe.ErrInvalidDate,
		},
		{
			name:        "unknown preset",
			params:      timeframe.TimeFrameParserParams{Period: "fortnight"},
			expectedErr: timeframe.ErrInvalidDate,
		},
		{
			name:        "unknown timezone",
			params:      timeframe.TimeFrameParserParams{Tz: "Mars/Olympus"},
			expectedErr: timeframe.ErrInvalidDate,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := parser.ParseRange(tc.params)
			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedFrom, r.FromString())
			assert.Equal(t, tc.expectedTo, r.ToString())
		})
	}
}

func TestParseRangeEnforcesMaxDays(t *testing.T) {
	fixedTime := time.Date(2024, 7, 15, 14, 30, 0, 0, time.UTC)
	parser := timeframe.NewTimeFrameParser(&TestTimeProvider{CurrentTime: fixedTime})

	_, err := parser.ParseRange(timeframe.TimeFrameParserParams{FromDate: "1000-01-01", ToDate: "2024-01-01", MaxDays: 3660})
	assert.ErrorIs(t, err, timeframe.ErrRangeTooLong)

	_, err = parser.ParseRange(timeframe.TimeFrameParserParams{Period: "last_12_months", MaxDays: 30})
	assert.ErrorIs(t, err, timeframe.ErrRangeTooLong, "presets are bounded too")

	r, err := parser.ParseRange(timeframe.TimeFrameParserParams{FromDate: "2024-07-06", ToDate: "2024-07-15", MaxDays: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, r.Days())

	r, err = parser.ParseRange(timeframe.TimeFrameParserParams{FromDate: "1000-01-01", ToDate: "2024-01-01"})
	require.NoError(t, err)
	assert.Equal(t, 374009, r.Days())
}

func TestTodayUsesTimezone(t *testing.T) {
	// 23:30 UTC is already the next day in Tokyo.
	fixedTime := time.Date(2024, 7, 15, 23, 30, 0, 0, time.UTC)
	parser := timeframe.NewTimeFrameParser(&TestTimeProvider{CurrentTime: fixedTime})

	utc, err := parser.Today("UTC")
	require.NoError(t, err)
	assert.Equal(t, "2024-07-15", utc.Format(timeframe.DateLayout))

	tokyo, err := parser.Today("Asia/Tokyo")
	require.NoError(t, err)
	assert.Equal(t, "2024-07-16", tokyo.Format(timeframe.DateLayout))
}

func TestResolvePreset(t *testing.T) {
	today := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	testCases := []struct {
		label timeframe.TimeFrameRangeLabel
		from  string
		to    string
	}{
		{timeframe.RangeToday, "2024-03-15", "2024-03-15"},
		{timeframe.RangeYesterday, "2024-03-14", "2024-03-14"},
		{timeframe.RangeLast30Days, "2024-02-15", "2024-03-15"},
		{timeframe.RangeMonthToDate, "2024-03-01", "2024-03-15"},
		{timeframe.RangeLastMonth, "2024-02-01", "2024-02-29"},
		{timeframe.RangeYearToDate, "2024-01-01", "2024-03-15"},
		{timeframe.RangeLast12Months, "2023-03-16", "2024-03-15"},
	}

	for _, tc := range testCases {
		t.Run(string(tc.label), func(t *testing.T) {
			r, err := timeframe.ResolvePreset(tc.label, today)
			require.NoError(t, err)
			assert.Equal(t, tc.from, r.FromString())
			assert.Equal(t, tc.to, r.ToString())
		})
	}
}
