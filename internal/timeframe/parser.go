package timeframe

import (
	"errors"
	"fmt"
	"time"
)

// DefaultWindowDays is the length of the window used when no dates are given.
const DefaultWindowDays = 30

// TimeFrameRangeLabel names a preset relative to today.
type TimeFrameRangeLabel string

const (
	RangeToday        TimeFrameRangeLabel = "today"
	RangeYesterday    TimeFrameRangeLabel = "yesterday"
	RangeLast7Days    TimeFrameRangeLabel = "last_7_days"
	RangeLast30Days   TimeFrameRangeLabel = "last_30_days"
	RangeMonthToDate  TimeFrameRangeLabel = "month_to_date"
	RangeLastMonth    TimeFrameRangeLabel = "last_month"
	RangeYearToDate   TimeFrameRangeLabel = "year_to_date"
	RangeLast12Months TimeFrameRangeLabel = "last_12_months"
)

// ErrInvalidDate wraps unparsable dates, timezones and presets.
var ErrInvalidDate = errors.New("invalid date")

type TimeFrameParserParams struct {
	FromDate string
	ToDate   string
	Period   string
	Tz       string
	// MaxDays bounds the resolved range; 0 leaves it unbounded.
	MaxDays  int
}

type TimeFrameParser struct {
	timeProvider TimeProvider
}

func NewTimeFrameParser(timeProvider ...TimeProvider) *TimeFrameParser {
	var provider TimeProvider = &DefaultTimeProvider{}
	if len(timeProvider) > 0 && timeProvider[0] != nil {
		provider = timeProvider[0]
	}
	return &TimeFrameParser{timeProvider: provider}
}

// Today returns the current day in the named timezone.
func (p *TimeFrameParser) Today(tz string) (time.Time, error) {
	loc, err := loadLocation(tz)
	if err != nil {
		return time.Time{}, err
	}
	return Day(p.timeProvider.Now(loc)), nil
}

// ParseRange resolves explicit dates, a preset, or the default trailing window.
// Explicit dates win over a preset. An inverted range is rejected, never swapped.
func (p *TimeFrameParser) ParseRange(params TimeFrameParserParams) (Range, error) {
	today, err := p.Today(params.Tz)
	if err != nil {
		return Range{}, err
	}

	r, err := p.resolve(params, today)
	if err != nil {
		return Range{}, err
	}
	if params.MaxDays > 0 && r.Days() > params.MaxDays {
		return Range{}, fmt.Errorf("%w: %d days requested, at most %d allowed", ErrRangeTooLong, r.Days(), params.MaxDays)
	}
	return r, nil
}

func (p *TimeFrameParser) resolve(params TimeFrameParserParams, today time.Time) (Range, error) {
	var err error
	if params.FromDate == "" && params.ToDate == "" && params.Period != "" {
		return ResolvePreset(TimeFrameRangeLabel(params.Period), today)
	}

	to := today
	if params.ToDate != "" {
		if to, err = parseDate(params.ToDate); err != nil {
			return Range{}, fmt.Errorf("date_to: %w", err)
		}
	}

	from := to.AddDate(0, 0, -(DefaultWindowDays - 1))
	if params.FromDate != "" {
		if from, err = parseDate(params.FromDate); err != nil {
			return Range{}, fmt.Errorf("date_from: %w", err)
		}
	}

	return NewRange(from, to)
}

// ResolvePreset converts a preset label to a concrete range ending relative to today.
func ResolvePreset(label TimeFrameRangeLabel, today time.Time) (Range, error) {
	today = Day(today)
	switch label {
	case RangeToday:
		return Range{From: today, To: today}, nil
	case RangeYesterday:
		y := today.AddDate(0, 0, -1)
		return Range{From: y, To: y}, nil
	case RangeLast7Days:
		return Range{From: today.AddDate(0, 0, -6), To: today}, nil
	case RangeLast30Days:
		return Range{From: today.AddDate(0, 0, -29), To: today}, nil
	case RangeMonthToDate:
		return Range{From: TruncateToBucket(today, TimeFrameBucketSizeMonth), To: today}, nil
	case RangeLastMonth:
		first := TruncateToBucket(today, TimeFrameBucketSizeMonth)
		return Range{From: first.AddDate(0, -1, 0), To: first.AddDate(0, 0, -1)}, nil
	case RangeYearToDate:
		return Range{From: TruncateToBucket(today, TimeFrameBucketSizeYear), To: today}, nil
	case RangeLast12Months:
		return Range{From: today.AddDate(0, -12, 1), To: today}, nil
	default:
		return Range{}, fmt.Errorf("%w: unknown period %q", ErrInvalidDate, label)
	}
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not YYYY-MM-DD", ErrInvalidDate, s)
	}
	return t, nil
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: error loading timezone: %v", ErrInvalidDate, err)
	}
	return loc, nil
}
