package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.ParseInLocation("2006-01-02", s, Eastern)
	require.NoError(t, err)
	return d
}

func TestIsTradingDay_WeekendsAndHolidays(t *testing.T) {
	cal := NewCalendar(DefaultSession(), 2025, 2025)

	assert.False(t, cal.IsTradingDay(mustDate(t, "2025-01-01")), "New Year's Day")
	assert.False(t, cal.IsTradingDay(mustDate(t, "2025-07-04")), "Independence Day")
	assert.False(t, cal.IsTradingDay(mustDate(t, "2025-01-04")), "Saturday")
	assert.False(t, cal.IsTradingDay(mustDate(t, "2025-01-05")), "Sunday")
	assert.True(t, cal.IsTradingDay(mustDate(t, "2025-01-02")), "ordinary Thursday")
}

func TestGoodFridayObserved(t *testing.T) {
	cal := NewCalendar(DefaultSession(), 2025, 2025)
	// Good Friday 2025 is April 18.
	assert.False(t, cal.IsTradingDay(mustDate(t, "2025-04-18")))
	assert.True(t, cal.IsTradingDay(mustDate(t, "2025-04-17")))
}

func TestPrevTradingDay_SkipsWeekendAndHoliday(t *testing.T) {
	cal := NewCalendar(DefaultSession(), 2024, 2025)
	// Jan 1 2025 is a holiday landing on a Wednesday; previous trading day
	// is Dec 31 2024.
	prev := cal.PrevTradingDay(mustDate(t, "2025-01-01"))
	assert.Equal(t, "2024-12-31", prev.Format("2006-01-02"))
}

type fakeData struct{ missing map[string]bool }

func (f fakeData) HasDailyBar(date time.Time) bool {
	return !f.missing[date.Format("2006-01-02")]
}

func TestPrevTradingDayWithData_SkipsMissingSession(t *testing.T) {
	cal := NewCalendar(DefaultSession(), 2025, 2025)
	data := fakeData{missing: map[string]bool{"2025-01-09": true}}

	prev := cal.PrevTradingDayWithData(mustDate(t, "2025-01-10"), data)
	assert.Equal(t, "2025-01-08", prev.Format("2006-01-02"))
}

func TestInEntryWindow(t *testing.T) {
	s := DefaultSession()
	day := mustDate(t, "2025-03-10")

	inside := day.Add(10 * time.Hour) // 10:00 ET
	before := day.Add(9 * time.Hour)  // 09:00 ET
	after := day.Add(12 * time.Hour)  // 12:00 ET

	assert.True(t, s.InEntryWindow(inside))
	assert.False(t, s.InEntryWindow(before))
	assert.False(t, s.InEntryWindow(after))
}

func TestTradingDaysBetween(t *testing.T) {
	cal := NewCalendar(DefaultSession(), 2025, 2025)
	days := cal.TradingDaysBetween(mustDate(t, "2025-01-01"), mustDate(t, "2025-01-07"))
	// Jan 1 holiday, Jan 4-5 weekend; trading days are 2,3,6,7.
	require.Len(t, days, 4)
	assert.Equal(t, "2025-01-02", days[0].Format("2006-01-02"))
	assert.Equal(t, "2025-01-07", days[3].Format("2006-01-02"))
}
