package clock_test

import (
	"testing"
	"time"

	"bourse/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seoul(t *testing.T) *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	return loc
}

func TestIsOpenAt_HalfOpenBoundary(t *testing.T) {
	loc := seoul(t)
	fc := clock.NewFakeClock(time.Date(2026, 7, 29, 9, 0, 0, 0, loc))
	cal := clock.NewCalendar(fc, clock.WithLocation(loc))

	// Open at exactly 09:00.
	assert.True(t, cal.IsOpenAt(time.Date(2026, 7, 29, 9, 0, 0, 0, loc)))
	// Still open one second before close.
	assert.True(t, cal.IsOpenAt(time.Date(2026, 7, 29, 15, 29, 59, 0, loc)))
	// Closed at exactly 15:30 (half-open upper bound).
	assert.False(t, cal.IsOpenAt(time.Date(2026, 7, 29, 15, 30, 0, 0, loc)))
	// Closed one minute before open.
	assert.False(t, cal.IsOpenAt(time.Date(2026, 7, 29, 8, 59, 0, 0, loc)))
}

func TestIsOpenAt_Weekend(t *testing.T) {
	loc := seoul(t)
	fc := clock.NewFakeClock(time.Date(2026, 8, 1, 10, 0, 0, 0, loc)) // a Saturday
	cal := clock.NewCalendar(fc, clock.WithLocation(loc))
	assert.False(t, cal.IsOpen())
}

func TestNextOpen_SkipsWeekend(t *testing.T) {
	loc := seoul(t)
	// 2026-07-31 is a Friday; after close it should roll to Monday 2026-08-03.
	friAfterClose := time.Date(2026, 7, 31, 16, 0, 0, 0, loc)
	fc := clock.NewFakeClock(friAfterClose)
	cal := clock.NewCalendar(fc, clock.WithLocation(loc))

	next := cal.NextOpen(friAfterClose)
	assert.Equal(t, time.Date(2026, 8, 3, 9, 0, 0, 0, loc), next)
}

func TestNextOpen_SameDayBeforeOpen(t *testing.T) {
	loc := seoul(t)
	earlyMorning := time.Date(2026, 7, 29, 6, 0, 0, 0, loc) // Wednesday
	fc := clock.NewFakeClock(earlyMorning)
	cal := clock.NewCalendar(fc, clock.WithLocation(loc))

	next := cal.NextOpen(earlyMorning)
	assert.Equal(t, time.Date(2026, 7, 29, 9, 0, 0, 0, loc), next)
}
