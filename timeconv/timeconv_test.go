package timeconv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    Clock
		wantErr bool
	}{
		{in: "00:00", want: 0},
		{in: "08:30", want: 510},
		{in: "23:59", want: 1439},
		{in: "24:00", want: 1440},
		{in: "24:01", wantErr: true},
		{in: "8:30", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "ab:cd", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidClock)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestDateHelpers(t *testing.T) {
	d := MustDate("2026-02-27")
	assert.Equal(t, time.Friday, d.Weekday())
	assert.Equal(t, "2026-03-01", d.AddDays(2).String())
	assert.Equal(t, "2026-02-26", d.AddDays(-1).String())
	assert.True(t, d.Before(d.AddDays(1)))
	assert.Equal(t, 3, d.DaysUntil(MustDate("2026-03-02")))

	end := d.At(MustClock("24:00"), time.UTC)
	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), end)

	_, err := ParseDate("27/02/2026")
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestOverlaps(t *testing.T) {
	day := MustDate("2026-03-02")
	at := func(c string) time.Time { return day.At(MustClock(c), time.UTC) }

	existing := Interval{Start: at("10:00"), End: at("10:45")}
	tests := []struct {
		name string
		in   Interval
		want bool
	}{
		{name: "45 minute request at 10:30 collides", in: Interval{at("10:30"), at("11:15")}, want: true},
		{name: "identical", in: existing, want: true},
		{name: "contained", in: Interval{at("10:10"), at("10:20")}, want: true},
		{name: "touching end is free", in: Interval{at("10:45"), at("11:30")}, want: false},
		{name: "touching start is free", in: Interval{at("09:15"), at("10:00")}, want: false},
		{name: "disjoint", in: Interval{at("12:00"), at("13:00")}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Overlaps(existing, tt.in))
			assert.Equal(t, tt.want, Overlaps(tt.in, existing))
		})
	}
}

func TestRecurrenceMatches(t *testing.T) {
	monday := MustDate("2026-03-02")
	var r Recurrence = Weekly{Day: time.Monday}
	assert.True(t, r.MatchesDate(monday))
	assert.False(t, r.MatchesDate(monday.AddDays(1)))

	r = SpecificDate{Date: monday.AddDays(3)}
	assert.True(t, r.MatchesDate(MustDate("2026-03-05")))
	assert.False(t, r.MatchesDate(monday))
}

func TestToLocalRollsWeekdayBackward(t *testing.T) {
	bogota := mustLoad(t, "America/Bogota") // UTC-5, no DST

	got, err := ToLocal(MustDate("2026-03-01"), WeeklyWindow{Weekday: time.Monday, Start: MustClock("02:00"), End: MustClock("04:00")}, bogota)
	require.NoError(t, err)
	assert.Equal(t, WeeklyWindow{Weekday: time.Sunday, Start: MustClock("21:00"), End: MustClock("23:00")}, got)

	got, err = ToLocal(MustDate("2026-03-01"), WeeklyWindow{Weekday: time.Monday, Start: MustClock("08:00"), End: MustClock("12:00")}, bogota)
	require.NoError(t, err)
	assert.Equal(t, WeeklyWindow{Weekday: time.Monday, Start: MustClock("03:00"), End: MustClock("07:00")}, got)
}

func TestToLocalRollsWeekdayForward(t *testing.T) {
	tokyo := mustLoad(t, "Asia/Tokyo") // UTC+9

	got, err := ToLocal(MustDate("2026-03-01"), WeeklyWindow{Weekday: time.Sunday, Start: MustClock("20:00"), End: MustClock("22:00")}, tokyo)
	require.NoError(t, err)
	assert.Equal(t, WeeklyWindow{Weekday: time.Monday, Start: MustClock("05:00"), End: MustClock("07:00")}, got)
}

func TestToLocalWindowWrappingLocalMidnight(t *testing.T) {
	bogota := mustLoad(t, "America/Bogota")

	got, err := ToLocal(MustDate("2026-03-01"), WeeklyWindow{Weekday: time.Monday, Start: MustClock("03:00"), End: MustClock("06:00")}, bogota)
	require.NoError(t, err)
	assert.Equal(t, time.Sunday, got.Weekday)
	assert.Equal(t, MustClock("22:00"), got.Start)
	assert.Equal(t, MustClock("01:00"), got.End)
	assert.True(t, got.CrossesMidnight())

	got, err = ToLocal(MustDate("2026-03-01"), WeeklyWindow{Weekday: time.Monday, Start: MustClock("03:00"), End: MustClock("05:00")}, bogota)
	require.NoError(t, err)
	assert.Equal(t, MustClock("24:00"), got.End)
	assert.False(t, got.CrossesMidnight())
}

func TestToLocalUsesDSTOfReferenceDate(t *testing.T) {
	ny := mustLoad(t, "America/New_York")
	w := WeeklyWindow{Weekday: time.Wednesday, Start: MustClock("14:00"), End: MustClock("16:00")}

	winter, err := ToLocal(MustDate("2026-01-05"), w, ny)
	require.NoError(t, err)
	assert.Equal(t, MustClock("09:00"), winter.Start)

	summer, err := ToLocal(MustDate("2026-07-06"), w, ny)
	require.NoError(t, err)
	assert.Equal(t, MustClock("10:00"), summer.Start)
	assert.Equal(t, MustClock("12:00"), summer.End)
}

func TestToUTCInvertsToLocal(t *testing.T) {
	locs := []string{"America/Bogota", "Asia/Kolkata", "Europe/London", "Pacific/Auckland", "UTC"}
	windows := []WeeklyWindow{
		{Weekday: time.Monday, Start: MustClock("00:30"), End: MustClock("02:00")},
		{Weekday: time.Thursday, Start: MustClock("12:00"), End: MustClock("18:45")},
		{Weekday: time.Saturday, Start: MustClock("22:00"), End: MustClock("24:00")},
	}
	ref := MustDate("2026-05-04")
	for _, name := range locs {
		loc := mustLoad(t, name)
		for _, w := range windows {
			local, err := ToLocal(ref, w, loc)
			require.NoError(t, err)
			back, err := ToUTC(ref.AddDays(-1), local, loc)
			require.NoError(t, err)
			assert.Equal(t, w, back, "%s %+v", name, w)
		}
	}
}

func TestToLocalRejectsBadInput(t *testing.T) {
	_, err := ToLocal(MustDate("2026-03-01"), WeeklyWindow{Weekday: time.Monday, Start: MustClock("10:00"), End: 2000}, time.UTC)
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = ToLocal(MustDate("2026-03-01"), WeeklyWindow{Weekday: time.Monday, Start: 0, End: 60}, nil)
	assert.ErrorIs(t, err, ErrInvalidLocation)

	_, err = ToLocal(MustDate("2026-03-01"), WeeklyWindow{Weekday: time.Monday, Start: MustClock("10:00"), End: MustClock("10:00")}, time.UTC)
	assert.ErrorIs(t, err, ErrInvalidWindow)
	_, err = ToUTC(MustDate("2026-03-01"), WeeklyWindow{Weekday: time.Monday, Start: 0, End: 0}, time.UTC)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestFullDayWindow(t *testing.T) {
	bogota := mustLoad(t, "America/Bogota")
	full := WeeklyWindow{Weekday: time.Monday, Start: 0, End: MustClock("24:00")}

	utc, err := ToUTC(MustDate("2026-03-01"), full, bogota)
	require.NoError(t, err)
	assert.Equal(t, WeeklyWindow{Weekday: time.Monday, Start: MustClock("05:00"), End: MustClock("05:00")}, utc)
	assert.True(t, utc.CrossesMidnight())
}

func TestMerge(t *testing.T) {
	day := MustDate("2026-03-01")
	at := func(d Date, c string) time.Time { return d.At(MustClock(c), time.UTC) }

	got := Merge([]Interval{
		{Start: at(day.AddDays(1), "00:00"), End: at(day.AddDays(1), "03:00")},
		{Start: at(day, "23:00"), End: at(day, "24:00")},
		{Start: at(day, "10:00"), End: at(day, "12:00")},
		{Start: at(day, "11:00"), End: at(day, "11:30")},
	})
	assert.Equal(t, []Interval{
		{Start: at(day, "10:00"), End: at(day, "12:00")},
		{Start: at(day, "23:00"), End: at(day.AddDays(1), "03:00")},
	}, got)
	assert.Nil(t, Merge(nil))
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	loc, err = LoadLocation("Africa/Nairobi", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "Africa/Nairobi", loc.String())

	_, err = LoadLocation("Mars/Olympus", time.UTC)
	assert.ErrorIs(t, err, ErrInvalidLocation)
}
