package workbook

import (
	"fmt"
	"time"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// Week is one ISO 8601 week in a fixed location. Start is Monday 00:00 and End
// is the last millisecond of Sunday.
type Week struct {
	Year   int
	Number int
	Start  time.Time
	End    time.Time
}

// WeekOf returns the ISO week containing t, evaluated in loc.
func WeekOf(t time.Time, loc *time.Location) Week {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	year, number := local.ISOWeek()
	offset := (int(local.Weekday()) + 6) % 7
	start := time.Date(local.Year(), local.Month(), local.Day()-offset, 0, 0, 0, 0, loc)
	end := time.Date(start.Year(), start.Month(), start.Day()+6, 23, 59, 59, int(999*time.Millisecond), loc)
	return Week{Year: year, Number: number, Start: start, End: end}
}

// Key is the ISO week label, for example 2026-W42.
func (w Week) Key() string {
	return fmt.Sprintf("%04d-W%02d", w.Year, w.Number)
}

// Day returns midnight of the given weekday offset, Monday being 0.
func (w Week) Day(offset int) time.Time {
	if offset < 0 {
		offset = 0
	}
	if offset > 6 {
		offset = 6
	}
	return time.Date(w.Start.Year(), w.Start.Month(), w.Start.Day()+offset, 0, 0, 0, 0, w.Start.Location())
}

func (w Week) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// LoadLocation resolves a WEEK_TIMEZONE value. Empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load week timezone %q: %w", name, err)
	}
	return loc, nil
}
