package tzdef

import (
	"time"
	// Embedded zone database so IANA names resolve on minimal hosts.
	_ "time/tzdata"
)

// FromIANA builds a definition for the named zone as it applies in year.
func FromIANA(name string, year int) (*Definition, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	return FromLocation(loc, year), nil
}

// FromLocation derives a single effective rule from Go's zone data for year.
func FromLocation(loc *time.Location, year int) *Definition {
	jan := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	jul := time.Date(year, time.July, 1, 0, 0, 0, 0, loc)
	_, janOff := jan.Zone()
	_, julOff := jul.Zone()

	stdOff, dstOff := janOff, julOff
	if jan.IsDST() {
		stdOff, dstOff = julOff, janOff
	}

	// Year stays zero so the blob of a zone does not depend on the year
	// it was derived for.
	rule := Rule{
		Flags: RuleFlagEffective | RuleFlagRecurCurrent,
		Bias:  int32(-stdOff / 60),
	}
	if stdOff != dstOff {
		rule.DaylightBias = int32(-(dstOff - stdOff) / 60)
		for _, tr := range yearTransitions(loc, year) {
			if tr.toDaylight {
				rule.Daylight = tr.desc
			} else {
				rule.Standard = tr.desc
			}
		}
	}

	return &Definition{KeyName: loc.String(), Rules: []Rule{rule}}
}

type zoneSwitch struct {
	toDaylight bool
	desc       Transition
}

func yearTransitions(loc *time.Location, year int) []zoneSwitch {
	var out []zoneSwitch
	day := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	end := time.Date(year+1, time.January, 1, 0, 0, 0, 0, loc)
	for day.Before(end) {
		next := day.Add(24 * time.Hour)
		_, a := day.Zone()
		_, b := next.Zone()
		if a != b {
			at := findSwitch(day, next, a)
			out = append(out, zoneSwitch{
				toDaylight: at.In(loc).IsDST(),
				desc:       describeSwitch(at, a),
			})
		}
		day = next
	}
	return out
}

// findSwitch returns the first minute in (lo, hi] whose offset differs from off.
func findSwitch(lo, hi time.Time, off int) time.Time {
	for hi.Sub(lo) > time.Minute {
		mid := lo.Add(hi.Sub(lo) / 2).Truncate(time.Minute)
		if !mid.After(lo) {
			break
		}
		if _, o := mid.Zone(); o == off {
			lo = mid
		} else {
			hi = mid
		}
	}
	return hi
}

// describeSwitch expresses the switch instant in the wall clock in force before it.
func describeSwitch(at time.Time, prevOff int) Transition {
	wall := at.In(time.FixedZone("", prevOff))
	week := uint16((wall.Day()-1)/7 + 1)
	if wall.Day()+7 > daysIn(wall.Year(), wall.Month()) {
		week = 5
	}
	return Transition{
		Month:     uint16(wall.Month()),
		DayOfWeek: uint16(wall.Weekday()),
		Day:       week,
		Hour:      uint16(wall.Hour()),
		Minute:    uint16(wall.Minute()),
	}
}
