package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "groupcal/internal/log"
)

// ParsedEvent is one VEVENT. Series masters carry RRule; modified
// occurrences carry RecurrenceID and share the master's UID.
type ParsedEvent struct {
	Source Source

	UID string
	Seq int

	Summary     string
	Description string
	Location    string
	Categories  []string
	// Private is set for CLASS:PRIVATE and CLASS:CONFIDENTIAL.
	Private bool
	// Free is set for TRANSP:TRANSPARENT.
	Free bool

	Start  time.Time
	End    time.Time
	AllDay bool
	// TZID is the zone of DTSTART, empty for UTC or floating times.
	TZID string

	RRule        string
	ExDates      []time.Time
	RecurrenceID *time.Time
}

// IsOverride reports whether the event modifies one occurrence of a series.
func (e ParsedEvent) IsOverride() bool {
	return e.RecurrenceID != nil
}

// ParseICS parses a feed. Floating and date-only values are read in loc.
// Events that cannot be parsed are logged and skipped.
func ParseICS(src Source, body []byte, loc *time.Location) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.UTC
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", src.ID, err)
	}

	var events []ParsedEvent
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(src, ve, loc)
		if err != nil {
			appLog.Warn("ics: skipping vevent", "id", src.ID, "err", err)
			continue
		}
		events = append(events, ev)
	}
	appLog.Debug("ics: parsed", "id", src.ID, "events", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	out := ParsedEvent{Source: src}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		out.Seq, _ = strconv.Atoi(strings.TrimSpace(p.Value))
	}
	out.Summary = propValue(ve, ical.ComponentPropertySummary)
	out.Description = propValue(ve, ical.ComponentPropertyDescription)
	out.Location = propValue(ve, ical.ComponentPropertyLocation)

	for _, p := range ve.GetProperties(ical.ComponentPropertyCategories) {
		for _, c := range strings.Split(p.Value, ",") {
			if c = strings.TrimSpace(c); c != "" {
				out.Categories = append(out.Categories, c)
			}
		}
	}
	switch strings.ToUpper(propValue(ve, ical.ComponentPropertyClass)) {
	case "PRIVATE", "CONFIDENTIAL":
		out.Private = true
	}
	out.Free = strings.EqualFold(propValue(ve, ical.ComponentPropertyTransp), "TRANSPARENT")

	dtstart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtstart == nil {
		return out, errors.New("missing DTSTART")
	}
	start, allDay, err := parseDateTime(dtstart, loc)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.Start, out.AllDay = start, allDay
	out.TZID = param(dtstart, "TZID")

	switch dtend := ve.GetProperty(ical.ComponentPropertyDtEnd); {
	case dtend != nil:
		if out.End, _, err = parseDateTime(dtend, loc); err != nil {
			return out, fmt.Errorf("DTEND: %w", err)
		}
	case allDay:
		out.End = start.AddDate(0, 0, 1)
	default:
		out.End = start
	}
	if out.End.Before(out.Start) {
		out.End = out.Start
	}

	out.RRule = propValue(ve, ical.ComponentPropertyRrule)
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			t, _, err := parseValue(part, param(p, "TZID"), loc)
			if err != nil {
				appLog.Warn("ics: bad EXDATE", "uid", out.UID, "value", part)
				continue
			}
			out.ExDates = append(out.ExDates, t)
		}
	}

	if rid := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); rid != nil {
		t, _, err := parseDateTime(rid, loc)
		if err != nil {
			return out, fmt.Errorf("RECURRENCE-ID: %w", err)
		}
		out.RecurrenceID = &t
	}
	return out, nil
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

func param(p *ical.IANAProperty, name string) string {
	if vs := p.ICalParameters[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func parseDateTime(p *ical.IANAProperty, loc *time.Location) (time.Time, bool, error) {
	t, allDay, err := parseValue(p.Value, param(p, "TZID"), loc)
	if strings.EqualFold(param(p, "VALUE"), "DATE") {
		allDay = true
	}
	return t, allDay, err
}

// parseValue reads a DATE or DATE-TIME value. UTC values end in Z; TZID
// names the zone of local values; anything else is read in loc.
func parseValue(v, tzid string, loc *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}
	if tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		} else {
			appLog.Warn("ics: unknown TZID", "tzid", tzid)
		}
	}
	switch {
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	case strings.Contains(v, "T"):
		t, err := time.ParseInLocation("20060102T150405", v, loc)
		return t, false, err
	default:
		t, err := time.ParseInLocation("20060102", v, loc)
		return t, true, err
	}
}
