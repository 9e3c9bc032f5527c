package marketclock

import (
	"time"
)

// session is a trading window expressed as minutes from local midnight.
type session struct {
	openMin  int
	closeMin int
}

// A-share continuous trading runs in two sessions, Monday to Friday.
// Exchange holidays are not modelled.
var sessions = []session{
	{openMin: 9*60 + 30, closeMin: 11*60 + 30},
	{openMin: 13 * 60, closeMin: 15 * 60},
}

// Clock maps wall-clock time to market open/closed state and polling cadence.
// All methods are pure functions of the input time.
type Clock struct {
	loc            *time.Location
	openInterval   time.Duration
	closedInterval time.Duration
}

// Options parameterise a Clock.
type Options struct {
	Location       *time.Location
	OpenInterval   time.Duration
	ClosedInterval time.Duration
}

// New constructs a Clock. Zero options fall back to Asia/Shanghai local time,
// 10s polling while open and 5m while closed.
func New(opts Options) *Clock {
	loc := opts.Location
	if loc == nil {
		var err error
		loc, err = time.LoadLocation("Asia/Shanghai")
		if err != nil {
			loc = time.FixedZone("CST", 8*3600)
		}
	}

	open := opts.OpenInterval
	if open <= 0 {
		open = 10 * time.Second
	}
	closed := opts.ClosedInterval
	if closed <= 0 {
		closed = 5 * time.Minute
	}

	return &Clock{loc: loc, openInterval: open, closedInterval: closed}
}

// Location returns the exchange time zone the clock evaluates against.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// IsOpen reports whether the market is trading at the given instant.
func (c *Clock) IsOpen(now time.Time) bool {
	local := now.In(c.loc)
	if !isTradingDay(local) {
		return false
	}

	minute := local.Hour()*60 + local.Minute()
	for _, s := range sessions {
		if minute >= s.openMin && minute < s.closeMin {
			return true
		}
	}
	return false
}

// PollInterval returns the polling cadence appropriate for the given instant:
// the short interval while the market is open, the long one otherwise.
func (c *Clock) PollInterval(now time.Time) time.Duration {
	if c.IsOpen(now) {
		return c.openInterval
	}
	return c.closedInterval
}

// SessionStart returns the open time of the session in progress at now, or of
// the most recently completed session when the market is closed. Alerts re-arm
// at this boundary.
func (c *Clock) SessionStart(now time.Time) time.Time {
	local := now.In(c.loc)

	// Walk backwards at most a week; there is always a trading day within that
	// horizon.
	for day := 0; day < 8; day++ {
		candidate := local.AddDate(0, 0, -day)
		if !isTradingDay(candidate) {
			continue
		}
		for i := len(sessions) - 1; i >= 0; i-- {
			open := atMinute(candidate, sessions[i].openMin)
			if !open.After(local) {
				return open
			}
		}
	}
	return local
}

// NextOpen returns the next session open strictly after now.
func (c *Clock) NextOpen(now time.Time) time.Time {
	local := now.In(c.loc)

	for day := 0; day < 8; day++ {
		candidate := local.AddDate(0, 0, day)
		if !isTradingDay(candidate) {
			continue
		}
		for _, s := range sessions {
			open := atMinute(candidate, s.openMin)
			if open.After(local) {
				return open
			}
		}
	}
	return local
}

func isTradingDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func atMinute(day time.Time, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minute/60, minute%60, 0, 0, day.Location())
}
