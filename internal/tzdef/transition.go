package tzdef

import (
	"fmt"
	"time"
)

var weekPositions = map[uint16]string{
	1: "first",
	2: "second",
	3: "third",
	4: "fourth",
	5: "last",
}

// Transition is a recurring yearly switch instant: the Day-th (5 = last)
// DayOfWeek of Month at Hour:Minute. Year is unused for recurring rules.
type Transition struct {
	Year         uint16
	Month        uint16
	DayOfWeek    uint16
	Day          uint16
	Hour         uint16
	Minute       uint16
	Second       uint16
	Milliseconds uint16
}

// IsZero reports whether the descriptor is unset.
func (t Transition) IsZero() bool {
	return t == Transition{}
}

func (t Transition) valid() bool {
	_, ok := weekPositions[t.Day]
	return ok && t.Month >= 1 && t.Month <= 12 && t.DayOfWeek <= 6
}

// Describe renders the transition for year, e.g. "last Sunday of March 2025 02:00".
func (t Transition) Describe(year int) string {
	if !t.valid() {
		return "invalid transition"
	}
	return fmt.Sprintf("%s %s of %s %04d %02d:%02d",
		weekPositions[t.Day], time.Weekday(t.DayOfWeek), time.Month(t.Month), year, t.Hour, t.Minute)
}

// At returns the transition instant in year, reading the wall clock as UTC.
func (t Transition) At(year int) (time.Time, bool) {
	if !t.valid() {
		return time.Time{}, false
	}
	month := time.Month(t.Month)
	want := time.Weekday(t.DayOfWeek)

	var day int
	if t.Day == 5 {
		last := daysIn(year, month)
		back := (int(time.Date(year, month, last, 0, 0, 0, 0, time.UTC).Weekday()) - int(want) + 7) % 7
		day = last - back
	} else {
		first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Weekday()
		day = 1 + (int(want)-int(first)+7)%7 + int(t.Day-1)*7
	}
	return time.Date(year, month, day, int(t.Hour), int(t.Minute), 0, 0, time.UTC), true
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// HasTransitions reports whether both the standard and daylight descriptors are set.
func (r Rule) HasTransitions() bool {
	return !r.Standard.IsZero() && !r.Daylight.IsZero()
}

// InDaylight reports whether t falls in the daylight span of the rule for
// t's year. When the daylight switch comes after the standard switch in
// the calendar year (southern hemisphere) the daylight span wraps around
// the year end.
func (r Rule) InDaylight(t time.Time) bool {
	if !r.HasTransitions() {
		return false
	}
	year := t.UTC().Year()
	std, ok := r.Standard.At(year)
	if !ok {
		return false
	}
	dst, ok := r.Daylight.At(year)
	if !ok {
		return false
	}
	switch {
	case dst.After(std):
		return !(t.After(std) && t.Before(dst))
	case dst.Before(std):
		return t.Before(std) && t.After(dst)
	default:
		return false
	}
}
