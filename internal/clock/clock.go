// Package clock decides whether the market is open at an instant and
// computes the next open. Time reads are isolated behind the Clock
// interface so tests can inject a fake clock.
package clock

import "time"

// Clock abstracts the wall clock so components never call time.Now()
// directly.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock, backed by time.Now().
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// FakeClock is a test double whose Now() is controlled explicitly.
type FakeClock struct {
	t time.Time
}

// NewFakeClock returns a FakeClock pinned at t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{t: t}
}

func (f *FakeClock) Now() time.Time { return f.t }

// Set moves the fake clock to t.
func (f *FakeClock) Set(t time.Time) { f.t = t }

// Advance moves the fake clock forward by d.
func (f *FakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

// Calendar decides market-open state given a Clock and the trading
// window, Mon-Fri 09:00-15:30 Asia/Seoul by default.
type Calendar struct {
	clock       Clock
	loc         *time.Location
	openHour    int
	openMinute  int
	closeHour   int
	closeMinute int
}

// Option configures a Calendar.
type Option func(*Calendar)

// WithLocation overrides the market's time zone (default Asia/Seoul).
func WithLocation(loc *time.Location) Option {
	return func(c *Calendar) { c.loc = loc }
}

// WithHours overrides the open/close hour:minute (default 09:00–15:30).
func WithHours(openHour, openMinute, closeHour, closeMinute int) Option {
	return func(c *Calendar) {
		c.openHour, c.openMinute = openHour, openMinute
		c.closeHour, c.closeMinute = closeHour, closeMinute
	}
}

// NewCalendar builds a Calendar. loc defaults to Asia/Seoul if nil.
func NewCalendar(clock Clock, opts ...Option) *Calendar {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		loc = time.FixedZone("Asia/Seoul", 9*60*60)
	}
	c := &Calendar{
		clock:       clock,
		loc:         loc,
		openHour:    9,
		openMinute:  0,
		closeHour:   15,
		closeMinute: 30,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the current instant from the underlying Clock.
func (c *Calendar) Now() time.Time { return c.clock.Now() }

// IsOpenAt reports whether the market is open at t. Open is Mon-Fri,
// [09:00, 15:30) local time in c.loc: the close boundary itself counts
// as closed.
func (c *Calendar) IsOpenAt(t time.Time) bool {
	local := t.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	open := c.openAt(local)
	close_ := c.closeAt(local)
	return !local.Before(open) && local.Before(close_)
}

// IsOpen reports whether the market is open right now.
func (c *Calendar) IsOpen() bool {
	return c.IsOpenAt(c.Now())
}

// NextOpen computes the next market-open instant strictly after t,
// skipping weekends and rolling to the next day once t is at or past the
// close boundary.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	local := t.In(c.loc)
	candidate := local

	// If we're before today's open and today is a trading day, today's
	// open is next.
	if !isWeekend(candidate.Weekday()) && candidate.Before(c.openAt(candidate)) {
		return c.openAt(candidate)
	}

	// Otherwise roll forward a day at a time until we land on a weekday,
	// using that day's open.
	next := c.openAt(candidate).AddDate(0, 0, 1)
	for isWeekend(next.Weekday()) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (c *Calendar) openAt(local time.Time) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(), c.openHour, c.openMinute, 0, 0, c.loc)
}

func (c *Calendar) closeAt(local time.Time) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(), c.closeHour, c.closeMinute, 0, 0, c.loc)
}

func isWeekend(d time.Weekday) bool {
	return d == time.Saturday || d == time.Sunday
}
