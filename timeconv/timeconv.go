// Package timeconv holds the pure date and timezone math used by scheduling.
// Nothing in here reads the wall clock; callers pass the reference date and
// location explicitly.
package timeconv

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

var (
	ErrInvalidClock    = errors.New("time must be in HH:MM format")
	ErrInvalidDate     = errors.New("date must be in YYYY-MM-DD format")
	ErrInvalidWindow   = errors.New("window end must be after start and span at most one day")
	ErrInvalidLocation = errors.New("unknown time zone")
)

// Clock is a time of day in whole minutes since midnight. 24:00 is allowed
// so that a window can run to the end of a day.
type Clock int

func ParseClock(s string) (Clock, error) {
	t := strings.TrimSpace(s)
	if len(t) != 5 || t[2] != ':' {
		return 0, ErrInvalidClock
	}
	var h, m int
	if _, err := fmt.Sscanf(t, "%02d:%02d", &h, &m); err != nil {
		return 0, ErrInvalidClock
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, ErrInvalidClock
	}
	return Clock(h*60 + m), nil
}

func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c Clock) Duration() time.Duration {
	return time.Duration(c) * time.Minute
}

// Date is a civil calendar day with no location attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return DateOf(t), nil
}

func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) midnightUTC() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) Weekday() time.Weekday {
	return d.midnightUTC().Weekday()
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.midnightUTC().AddDate(0, 0, n))
}

func (d Date) Before(o Date) bool {
	return d.midnightUTC().Before(o.midnightUTC())
}

func (d Date) After(o Date) bool {
	return o.Before(d)
}

// DaysUntil returns the number of days from d to o (negative if o is earlier).
func (d Date) DaysUntil(o Date) int {
	return int(o.midnightUTC().Sub(d.midnightUTC()).Hours() / 24)
}

// At returns the instant at clock c on day d in loc. A 24:00 clock resolves to
// midnight of the following day.
func (d Date) At(c Clock, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, int(c), 0, 0, loc)
}

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Contains reports whether o lies entirely inside i.
func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

// Overlaps reports whether two half-open intervals share any instant:
// [s1,e1) and [s2,e2) overlap iff s1 < e2 && s2 < e1.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Merge returns the intervals sorted by start with every overlapping or
// touching pair joined into one.
func Merge(in []Interval) []Interval {
	if len(in) == 0 {
		return nil
	}
	sorted := append([]Interval(nil), in...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })
	out := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if iv.Start.After(last.End) {
			out = append(out, iv)
			continue
		}
		if iv.End.After(last.End) {
			last.End = iv.End
		}
	}
	return out
}

// Recurrence is either Weekly or SpecificDate.
type Recurrence interface {
	MatchesDate(d Date) bool
	isRecurrence()
}

type Weekly struct {
	Day time.Weekday
}

func (w Weekly) MatchesDate(d Date) bool { return d.Weekday() == w.Day }
func (Weekly) isRecurrence()             {}

type SpecificDate struct {
	Date Date
}

func (s SpecificDate) MatchesDate(d Date) bool { return s.Date == d }
func (SpecificDate) isRecurrence()             {}

// WeeklyWindow is a weekday plus a time-of-day range. End may be earlier
// than Start when the range wraps past midnight. A full day is written
// 00:00-24:00 on input; converted out of UTC it comes back with End equal
// to Start.
type WeeklyWindow struct {
	Weekday time.Weekday
	Start   Clock
	End     Clock
}

func (w WeeklyWindow) length() (time.Duration, error) {
	if w.Start < 0 || w.Start >= minutesPerDay || w.End < 0 || w.End > minutesPerDay {
		return 0, ErrInvalidWindow
	}
	// an empty window, not a full day
	if w.Start == w.End {
		return 0, ErrInvalidWindow
	}
	mins := int(w.End - w.Start)
	if mins < 0 {
		mins += minutesPerDay
	}
	return time.Duration(mins) * time.Minute, nil
}

// CrossesMidnight reports whether the window ends on the day after it starts.
func (w WeeklyWindow) CrossesMidnight() bool {
	return w.End <= w.Start && w.End != minutesPerDay
}

// ToLocal converts a window expressed in UTC to loc. The DST offset used is the
// one in force on the first occurrence of the window on or after ref, so the
// result is deterministic for a given (ref, loc) pair.
func ToLocal(ref Date, w WeeklyWindow, loc *time.Location) (WeeklyWindow, error) {
	return convert(ref, w, time.UTC, loc)
}

// ToUTC is the inverse of ToLocal.
func ToUTC(ref Date, w WeeklyWindow, loc *time.Location) (WeeklyWindow, error) {
	return convert(ref, w, loc, time.UTC)
}

func convert(ref Date, w WeeklyWindow, from, to *time.Location) (WeeklyWindow, error) {
	if from == nil || to == nil {
		return WeeklyWindow{}, ErrInvalidLocation
	}
	length, err := w.length()
	if err != nil {
		return WeeklyWindow{}, err
	}

	day := ref
	for day.Weekday() != w.Weekday {
		day = day.AddDays(1)
	}
	start := day.At(w.Start, from).In(to)
	end := start.Add(length)

	out := WeeklyWindow{
		Weekday: start.Weekday(),
		Start:   ClockOf(start),
		End:     ClockOf(end),
	}
	if out.End == 0 && DateOf(end) != DateOf(start) {
		out.End = minutesPerDay
	}
	return out, nil
}

// LoadLocation resolves an IANA zone name. An empty name yields fallback.
func LoadLocation(name string, fallback *time.Location) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		if fallback == nil {
			return time.UTC, nil
		}
		return fallback, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, ErrInvalidLocation
	}
	return loc, nil
}
