package recurrence

import (
	"encoding/json"
	"errors"
	"time"
)

// Pattern is the recurrence state stored on a series master under
// mapi.PropRecurrencePattern as a JSON blob.
type Pattern struct {
	// RRule is an RFC 5545 recurrence rule without DTSTART, e.g. "FREQ=WEEKLY;BYDAY=MO".
	RRule string `json:"rrule"`
	// TZID names the zone the rule is evaluated in, so wall-clock times
	// survive daylight saving changes. Empty means UTC.
	TZID string `json:"tzid,omitempty"`
	// Deleted lists base dates of removed occurrences.
	Deleted []time.Time `json:"deleted,omitempty"`
	// Exceptions lists modified occurrences.
	Exceptions []Exception `json:"exceptions,omitempty"`
}

// Exception overrides one occurrence identified by its base date, the
// start the occurrence would have had without modification.
type Exception struct {
	BaseDate time.Time `json:"basedate"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Subject  *string   `json:"subject,omitempty"`
	Location *string   `json:"location,omitempty"`
}

var ErrNoRule = errors.New("recurrence: pattern has no rule")

// Encode serializes the pattern for storage.
func (p *Pattern) Encode() ([]byte, error) {
	if p.RRule == "" {
		return nil, ErrNoRule
	}
	return json.Marshal(p)
}

// Decode parses a stored pattern blob.
func Decode(b []byte) (*Pattern, error) {
	var p Pattern
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	if p.RRule == "" {
		return nil, ErrNoRule
	}
	return &p, nil
}

func (p *Pattern) location() *time.Location {
	if p.TZID == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.TZID)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (p *Pattern) exception(base time.Time) (Exception, bool) {
	for _, ex := range p.Exceptions {
		if ex.BaseDate.Equal(base) {
			return ex, true
		}
	}
	return Exception{}, false
}

func (p *Pattern) deleted(base time.Time) bool {
	for _, d := range p.Deleted {
		if d.Equal(base) {
			return true
		}
	}
	return false
}
