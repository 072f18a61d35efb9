// Package calendar resolves days, active hours and generation slots in the
// operating timezone. All day boundaries in the scheduler go through it.
package calendar

import (
	"fmt"
	"time"

	"github.com/TobiSchelling/trendpress/internal/domain"
)

// Calendar maps instants onto operating days and slots.
type Calendar struct {
	loc         *time.Location
	activeStart int
	activeEnd   int
}

// New creates a calendar for the named IANA timezone. Active hours are
// [activeStart, activeEnd) in local wall-clock hours.
func New(timezone string, activeStart, activeEnd int) (*Calendar, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", timezone, err)
	}
	if activeStart < 0 || activeStart > 23 {
		return nil, fmt.Errorf("active start hour %d out of range", activeStart)
	}
	if activeEnd <= activeStart || activeEnd > 24 {
		return nil, fmt.Errorf("active end hour %d must be after start %d and at most 24", activeEnd, activeStart)
	}
	return &Calendar{loc: loc, activeStart: activeStart, activeEnd: activeEnd}, nil
}

// MustNew is New for static configurations in tests and defaults.
func MustNew(timezone string, activeStart, activeEnd int) *Calendar {
	c, err := New(timezone, activeStart, activeEnd)
	if err != nil {
		panic(err)
	}
	return c
}

// Location returns the operating timezone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Today returns the operating-day key for now.
func (c *Calendar) Today(now time.Time) string {
	return now.In(c.loc).Format(domain.DateLayout)
}

// Yesterday returns the operating-day key before now's day.
func (c *Calendar) Yesterday(now time.Time) string {
	l := now.In(c.loc)
	return time.Date(l.Year(), l.Month(), l.Day()-1, 12, 0, 0, 0, c.loc).Format(domain.DateLayout)
}

// Month returns the YYYY-MM key for now.
func (c *Calendar) Month(now time.Time) string {
	return now.In(c.loc).Format("2006-01")
}

// IsWeekend reports whether now falls on Saturday or Sunday locally.
func (c *Calendar) IsWeekend(now time.Time) bool {
	switch now.In(c.loc).Weekday() {
	case time.Saturday, time.Sunday:
		return true
	}
	return false
}

// IsWithinActiveHours reports whether now is inside the daily active window.
func (c *Calendar) IsWithinActiveHours(now time.Time) bool {
	h := now.In(c.loc).Hour()
	return h >= c.activeStart && h < c.activeEnd
}

// Interval returns the spacing between slots when the active window is
// divided into the given number of slots.
func (c *Calendar) Interval(slots int) time.Duration {
	if slots <= 0 {
		slots = 1
	}
	return time.Duration(c.activeEnd-c.activeStart) * time.Hour / time.Duration(slots)
}

// CurrentSlot returns the 1-based slot of the day's grid containing now, or
// 0 outside active hours.
func (c *Calendar) CurrentSlot(now time.Time, slots int) int {
	if !c.IsWithinActiveHours(now) {
		return 0
	}
	base := c.windowStart(now.In(c.loc))
	idx := int(now.Sub(base)/c.Interval(slots)) + 1
	if idx > slots {
		idx = slots
	}
	return idx
}

// SlotTimes returns the start times of a plan created at from. The grid is
// the active window divided evenly; it begins at the slot containing from,
// and slots that already elapsed wrap onto the next day.
func (c *Calendar) SlotTimes(from time.Time, slots int) []time.Time {
	if slots <= 0 {
		return nil
	}
	local := from.In(c.loc)
	interval := c.Interval(slots)
	base := c.windowStart(local)
	next := c.windowStart(time.Date(local.Year(), local.Month(), local.Day()+1, 12, 0, 0, 0, c.loc))

	first := slots
	for i := 0; i < slots; i++ {
		if base.Add(time.Duration(i+1) * interval).After(local) {
			first = i
			break
		}
	}

	out := make([]time.Time, 0, slots)
	for i := first; i < slots; i++ {
		out = append(out, base.Add(time.Duration(i)*interval))
	}
	for i := 0; i < first; i++ {
		out = append(out, next.Add(time.Duration(i)*interval))
	}
	return out
}

// DayStart returns local midnight of the given day key.
func (c *Calendar) DayStart(date string) (time.Time, error) {
	return time.ParseInLocation(domain.DateLayout, date, c.loc)
}

func (c *Calendar) windowStart(local time.Time) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(), c.activeStart, 0, 0, 0, c.loc)
}
