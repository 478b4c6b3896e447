// Package calendar implements trading-day and session-window arithmetic in
// US/Eastern time. It is pure and deterministic: given a date and a fixed
// holiday table it never consults a network or a clock.
package calendar

import (
	"fmt"
	"time"
)

// Eastern is the canonical session timezone for every timestamp this
// backtester reasons about.
var Eastern = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		// America/New_York ships with every Go toolchain's tzdata fallback;
		// a failure here means the host has no tzdata at all.
		panic(fmt.Sprintf("calendar: could not load %s: %v", name, err))
	}
	return loc
}

// Session describes the configurable intraday windows that gate watchlist
// selection, entries, and force-flat.
type Session struct {
	PremarketStart   time.Duration // offset from midnight ET, e.g. 4h for 04:00
	RTHOpen          time.Duration // 9h30m for 09:30
	RTHClose         time.Duration // 16h for 16:00
	EntryWindowStart time.Duration
	EntryWindowEnd   time.Duration
	ForceFlatTime    time.Duration
}

// DefaultSession matches the spec's default windows: premarket from 04:00,
// RTH 09:30-16:00, entries restricted to 09:30-11:00, force-flat at 16:00.
func DefaultSession() Session {
	return Session{
		PremarketStart:   4 * time.Hour,
		RTHOpen:          9*time.Hour + 30*time.Minute,
		RTHClose:         16 * time.Hour,
		EntryWindowStart: 9*time.Hour + 30*time.Minute,
		EntryWindowEnd:   11 * time.Hour,
		ForceFlatTime:    16 * time.Hour,
	}
}

func atOffset(day time.Time, offset time.Duration) time.Time {
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, Eastern)
	return midnight.Add(offset)
}

func (s Session) PremarketStartOn(day time.Time) time.Time { return atOffset(day, s.PremarketStart) }
func (s Session) RTHOpenOn(day time.Time) time.Time        { return atOffset(day, s.RTHOpen) }
func (s Session) RTHCloseOn(day time.Time) time.Time       { return atOffset(day, s.RTHClose) }
func (s Session) EntryWindowStartOn(day time.Time) time.Time {
	return atOffset(day, s.EntryWindowStart)
}
func (s Session) EntryWindowEndOn(day time.Time) time.Time { return atOffset(day, s.EntryWindowEnd) }
func (s Session) ForceFlatOn(day time.Time) time.Time      { return atOffset(day, s.ForceFlatTime) }

// InEntryWindow reports whether ts falls within [entry_window_start,
// entry_window_end] on its own calendar day.
func (s Session) InEntryWindow(ts time.Time) bool {
	ts = ts.In(Eastern)
	start := s.EntryWindowStartOn(ts)
	end := s.EntryWindowEndOn(ts)
	return !ts.Before(start) && !ts.After(end)
}

// Calendar answers trading-day questions against a fixed US equity holiday
// table. It does not know about half-days; a half-day still counts as a
// full trading day here, with the session simply ending early in the bar
// data itself.
type Calendar struct {
	session  Session
	holidays map[string]struct{} // "2025-01-01" style keys, Eastern-local
}

// NewCalendar builds a Calendar covering the given inclusive year range.
func NewCalendar(session Session, fromYear, toYear int) *Calendar {
	c := &Calendar{session: session, holidays: map[string]struct{}{}}
	for y := fromYear; y <= toYear; y++ {
		for _, d := range usEquityHolidays(y) {
			c.holidays[dateKey(d)] = struct{}{}
		}
	}
	return c
}

func dateKey(d time.Time) string { return d.Format("2006-01-02") }

// Session returns the configured session windows.
func (c *Calendar) Session() Session { return c.session }

// IsTradingDay reports whether date is a weekday that is not a holiday.
// It does not consult data availability; callers that need "was there
// actually a session with data" should use PrevTradingDayWithData.
func (c *Calendar) IsTradingDay(date time.Time) bool {
	date = dateOnly(date)
	if date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
		return false
	}
	_, isHoliday := c.holidays[dateKey(date)]
	return !isHoliday
}

func dateOnly(t time.Time) time.Time {
	t = t.In(Eastern)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Eastern)
}

// PrevTradingDay walks backward from date (exclusive) to the nearest
// calendar trading day, ignoring data availability.
func (c *Calendar) PrevTradingDay(date time.Time) time.Time {
	d := dateOnly(date).AddDate(0, 0, -1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// HasData is satisfied by any data-access layer that can confirm a prior
// session actually has bars, not just that the calendar thinks it should.
type HasData interface {
	HasDailyBar(date time.Time) bool
}

// PrevTradingDayWithData walks backward from date until it finds a day that
// is both a calendar trading day and has confirmed data, per §4.1's
// requirement that PrevTradingDay verify data availability through a C2
// callback rather than only skipping weekends/holidays. The search covers
// the 14 calendar days before date; when none of them has data it returns
// PrevTradingDay(date).
func (c *Calendar) PrevTradingDayWithData(date time.Time, data HasData) time.Time {
	const maxLookbackDays = 14
	d := dateOnly(date).AddDate(0, 0, -1)
	for i := 0; i < maxLookbackDays; i++ {
		if c.IsTradingDay(d) && data.HasDailyBar(d) {
			return d
		}
		d = d.AddDate(0, 0, -1)
	}
	return c.PrevTradingDay(date)
}

// TradingDaysBetween returns every calendar trading day in [start, end]
// inclusive, ascending.
func (c *Calendar) TradingDaysBetween(start, end time.Time) []time.Time {
	var days []time.Time
	for d := dateOnly(start); !d.After(dateOnly(end)); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

// nthWeekday returns the date of the nth occurrence of weekday in month/year
// (nth is 1-based; negative counts from the end of the month).
func nthWeekday(year int, month time.Month, weekday time.Weekday, nth int) time.Time {
	if nth > 0 {
		d := time.Date(year, month, 1, 0, 0, 0, 0, Eastern)
		offset := (int(weekday) - int(d.Weekday()) + 7) % 7
		d = d.AddDate(0, 0, offset+7*(nth-1))
		return d
	}
	d := time.Date(year, month+1, 1, 0, 0, 0, 0, Eastern).AddDate(0, 0, -1)
	offset := (int(d.Weekday()) - int(weekday) + 7) % 7
	return d.AddDate(0, 0, -offset+7*(nth+1))
}

// observedHoliday shifts a fixed-date holiday off the weekend per the usual
// US market convention: Saturday observed Friday, Sunday observed Monday.
func observedHoliday(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	default:
		return d
	}
}

// goodFriday computes Good Friday via the anonymous Gregorian Easter
// algorithm, then subtracts two days.
func goodFriday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	easter := time.Date(year, time.Month(month), day, 0, 0, 0, 0, Eastern)
	return easter.AddDate(0, 0, -2)
}

func usEquityHolidays(year int) []time.Time {
	return []time.Time{
		observedHoliday(time.Date(year, time.January, 1, 0, 0, 0, 0, Eastern)), // New Year's Day
		nthWeekday(year, time.January, time.Monday, 3),                        // MLK Day
		nthWeekday(year, time.February, time.Monday, 3),                       // Presidents Day
		goodFriday(year),
		nthWeekday(year, time.May, time.Monday, -1),                             // Memorial Day
		observedHoliday(time.Date(year, time.June, 19, 0, 0, 0, 0, Eastern)),    // Juneteenth
		observedHoliday(time.Date(year, time.July, 4, 0, 0, 0, 0, Eastern)),     // Independence Day
		nthWeekday(year, time.September, time.Monday, 1),                       // Labor Day
		nthWeekday(year, time.November, time.Thursday, 4),                      // Thanksgiving
		observedHoliday(time.Date(year, time.December, 25, 0, 0, 0, 0, Eastern)), // Christmas
	}
}
