package timeframe

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the canonical wire and storage format for a day.
const DateLayout = "2006-01-02"

// TimeFrameBucketSize is the granularity of a temporal grouping axis.
type TimeFrameBucketSize string

const (
	TimeFrameBucketSizeNone  TimeFrameBucketSize = ""
	TimeFrameBucketSizeDay   TimeFrameBucketSize = "day"
	TimeFrameBucketSizeWeek  TimeFrameBucketSize = "week"
	TimeFrameBucketSizeMonth TimeFrameBucketSize = "month"
	TimeFrameBucketSizeYear  TimeFrameBucketSize = "year"
)

// ErrInvertedRange is returned when the start of a range falls after its end.
var ErrInvertedRange = errors.New("date_from is after date_to")

// ErrRangeTooLong is returned when a range spans more days than allowed.
var ErrRangeTooLong = errors.New("date range is too long")

const secondsPerDay = 24 * 60 * 60

// TimeProvider abstracts the current time so "today" is testable.
type TimeProvider interface {
	Now(loc *time.Location) time.Time
}

// DefaultTimeProvider reads the wall clock.
type DefaultTimeProvider struct{}

// Now returns the current time in loc.
func (p *DefaultTimeProvider) Now(loc *time.Location) time.Time {
	return time.Now().In(loc)
}

// Range is an inclusive span of calendar days. Both ends are midnight UTC.
type Range struct {
	From time.Time
	To   time.Time
}

// Day truncates t to its calendar day, keeping t's wall-clock date.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NewRange builds a normalized range, rejecting from > to.
func NewRange(from, to time.Time) (Range, error) {
	from, to = Day(from), Day(to)
	if from.After(to) {
		return Range{}, ErrInvertedRange
	}
	return Range{From: from, To: to}, nil
}

// MustRange is NewRange for literals known to be valid.
func MustRange(from, to string) Range {
	f, err := time.Parse(DateLayout, from)
	if err != nil {
		panic(err)
	}
	t, err := time.Parse(DateLayout, to)
	if err != nil {
		panic(err)
	}
	r, err := NewRange(f, t)
	if err != nil {
		panic(err)
	}
	return r
}

// Days returns the number of days in the range, counting both ends.
// Counted on day numbers, not a time.Duration, which saturates near 292 years.
func (r Range) Days() int {
	return int(dayNumber(r.To)-dayNumber(r.From)) + 1
}

func dayNumber(t time.Time) int64 {
	return Day(t).Unix() / secondsPerDay
}

// Previous returns the immediately preceding range of equal length.
// The shift is a fixed number of days, not a calendar-aware one.
func (r Range) Previous() Range {
	d := r.Days()
	return Range{
		From: r.From.AddDate(0, 0, -d),
		To:   r.From.AddDate(0, 0, -1),
	}
}

// FromString returns the start date as YYYY-MM-DD.
func (r Range) FromString() string { return r.From.Format(DateLayout) }

// ToString returns the end date as YYYY-MM-DD.
func (r Range) ToString() string { return r.To.Format(DateLayout) }

// Contains reports whether the day of t lies inside the range.
func (r Range) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(r.From) && !d.After(r.To)
}

// EndsOnOrAfter reports whether the range reaches the given day.
// Ranges touching today hold data that still changes.
func (r Range) EndsOnOrAfter(day time.Time) bool {
	return !r.To.Before(Day(day))
}

func (r Range) String() string {
	return fmt.Sprintf("%s..%s", r.FromString(), r.ToString())
}

// TruncateToBucket returns the first day of the bucket containing t.
// Weeks start on Monday.
func TruncateToBucket(t time.Time, size TimeFrameBucketSize) time.Time {
	d := Day(t)
	switch size {
	case TimeFrameBucketSizeWeek:
		offset := (int(d.Weekday()) + 6) % 7
		return d.AddDate(0, 0, -offset)
	case TimeFrameBucketSizeMonth:
		return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	case TimeFrameBucketSizeYear:
		return time.Date(d.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return d
	}
}

// BucketKey renders the bucket containing t the same way storage does.
func BucketKey(t time.Time, size TimeFrameBucketSize) string {
	start := TruncateToBucket(t, size)
	switch size {
	case TimeFrameBucketSizeMonth:
		return start.Format("2006-01")
	case TimeFrameBucketSizeYear:
		return start.Format("2006")
	default:
		return start.Format(DateLayout)
	}
}

func nextBucket(t time.Time, size TimeFrameBucketSize) time.Time {
	switch size {
	case TimeFrameBucketSizeWeek:
		return t.AddDate(0, 0, 7)
	case TimeFrameBucketSizeMonth:
		return t.AddDate(0, 1, 0)
	case TimeFrameBucketSizeYear:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 0, 1)
	}
}

// Buckets enumerates every bucket key overlapping the range, in order.
func (r Range) Buckets(size TimeFrameBucketSize) []string {
	var keys []string
	for cur := TruncateToBucket(r.From, size); !cur.After(r.To); cur = nextBucket(cur, size) {
		keys = append(keys, BucketKey(cur, size))
	}
	return keys
}

// BucketIndex maps each bucket key of the range to its position.
func (r Range) BucketIndex(size TimeFrameBucketSize) map[string]int {
	keys := r.Buckets(size)
	idx := make(map[string]int, len(keys))
	for i, k := range keys {
		idx[k] = i
	}
	return idx
}
