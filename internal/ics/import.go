package ics

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	appLog "groupcal/internal/log"
	"groupcal/internal/mapi"
	"groupcal/internal/recurrence"
	"groupcal/internal/tzdef"
)

const messageClassAppointment = "IPM.Appointment"

// Busy status values stored in busystatus.
const (
	busyFree = 0
	busyBusy = 2
)

// noClipEnd is the clip end of series without UNTIL or COUNT.
var noClipEnd = time.Date(4500, time.August, 31, 23, 59, 0, 0, time.UTC)

// BuildMessages converts parsed events into store records. Overrides are
// folded into their series master as recurrence exceptions with an
// embedded-message attachment each. Overrides without a master in the
// feed become single appointments. loc is the zone assumed for all-day
// events without a TZID.
func BuildMessages(events []ParsedEvent, loc *time.Location) []mapi.NewMessage {
	if loc == nil {
		loc = time.UTC
	}
	overrides := make(map[string][]ParsedEvent)
	var order []string
	masters := make(map[string]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride() {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		if prev, ok := masters[ev.UID]; ok && prev.Seq > ev.Seq {
			continue
		}
		if _, ok := masters[ev.UID]; !ok {
			order = append(order, ev.UID)
		}
		masters[ev.UID] = ev
	}

	msgs := make([]mapi.NewMessage, 0, len(events))
	for _, uid := range order {
		master := masters[uid]
		if master.RRule == "" {
			msgs = append(msgs, mapi.NewMessage{Props: appointmentProps(master, loc)})
			continue
		}
		msg, err := seriesMessage(master, overrides[uid], loc)
		if err != nil {
			appLog.Warn("ics: importing series as single appointment", "uid", uid, "err", err)
			msgs = append(msgs, mapi.NewMessage{Props: appointmentProps(master, loc)})
			continue
		}
		msgs = append(msgs, msg)
		delete(overrides, uid)
	}

	for _, uid := range sortedKeys(overrides) {
		for _, ov := range overrides[uid] {
			if _, ok := masters[uid]; ok && masters[uid].RRule == "" {
				continue
			}
			msgs = append(msgs, mapi.NewMessage{Props: appointmentProps(ov, loc)})
		}
	}
	return msgs
}

func sortedKeys(m map[string][]ParsedEvent) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func appointmentProps(ev ParsedEvent, loc *time.Location) mapi.Props {
	busy := busyBusy
	if ev.Free {
		busy = busyFree
	}
	p := mapi.Props{
		mapi.PropMessageClass: messageClassAppointment,
		mapi.PropSubject:      ev.Summary,
		mapi.PropBody:         ev.Description,
		mapi.PropLocation:     ev.Location,
		mapi.PropStartDate:    ev.Start.UTC(),
		mapi.PropDueDate:      ev.End.UTC(),
		mapi.PropAllDayEvent:  ev.AllDay,
		mapi.PropPrivate:      ev.Private,
		mapi.PropBusyStatus:   busy,
		mapi.PropRecurring:    false,
		mapi.PropReminder:     0,
		mapi.PropAccess:       0,
		mapi.PropRead:         true,
		mapi.PropSenderName:   ev.Source.FolderName(),
	}
	if len(ev.Categories) > 0 {
		p[mapi.PropCategories] = ev.Categories
	}
	if blob := zoneBlob(ev, loc); blob != nil {
		p[mapi.PropTZDefStart] = blob
	}
	return p
}

// zoneBlob describes the zone the event was created in, used to move
// all-day events into the viewer's zone.
func zoneBlob(ev ParsedEvent, loc *time.Location) []byte {
	name := ev.TZID
	if name == "" {
		if !ev.AllDay {
			return nil
		}
		name = loc.String()
	}
	def, err := tzdef.FromIANA(name, ev.Start.UTC().Year())
	if err != nil {
		appLog.Warn("ics: no timezone definition", "uid", ev.UID, "tzid", name)
		return nil
	}
	return def.Marshal()
}

func seriesMessage(master ParsedEvent, overrides []ParsedEvent, loc *time.Location) (mapi.NewMessage, error) {
	tzid := master.TZID
	if tzid == "" && master.AllDay {
		tzid = loc.String()
	}
	pattern := &recurrence.Pattern{RRule: master.RRule, TZID: tzid}
	for _, d := range master.ExDates {
		pattern.Deleted = append(pattern.Deleted, d.UTC())
	}

	var atts []mapi.NewAttachment
	slices.SortStableFunc(overrides, func(a, b ParsedEvent) int {
		return a.RecurrenceID.Compare(*b.RecurrenceID)
	})
	for _, ov := range overrides {
		base := ov.RecurrenceID.UTC()
		ex := recurrence.Exception{BaseDate: base, Start: ov.Start.UTC(), End: ov.End.UTC()}
		if ov.Summary != master.Summary {
			ex.Subject = &ov.Summary
		}
		if ov.Location != master.Location {
			ex.Location = &ov.Location
		}
		pattern.Exceptions = append(pattern.Exceptions, ex)

		embedded := mapi.Props{
			mapi.PropSubject:   ov.Summary,
			mapi.PropLocation:  ov.Location,
			mapi.PropStartDate: ex.Start,
			mapi.PropDueDate:   ex.End,
		}
		if len(ov.Categories) > 0 {
			embedded[mapi.PropCategories] = ov.Categories
		}
		atts = append(atts, mapi.NewAttachment{
			Props:    mapi.Props{mapi.PropExceptionBaseDate: base},
			Embedded: embedded,
		})
	}

	blob, err := pattern.Encode()
	if err != nil {
		return mapi.NewMessage{}, err
	}
	clipStart, clipEnd, err := clipRange(master, pattern)
	if err != nil {
		return mapi.NewMessage{}, err
	}

	props := appointmentProps(master, loc)
	props[mapi.PropRecurring] = true
	props[mapi.PropRecurrencePattern] = blob
	props[mapi.PropClipStart] = clipStart
	props[mapi.PropClipEnd] = clipEnd
	return mapi.NewMessage{Props: props, Attachments: atts}, nil
}

// clipRange bounds the period a series can have occurrences in, including
// exceptions moved outside the rule's own range.
func clipRange(master ParsedEvent, p *recurrence.Pattern) (time.Time, time.Time, error) {
	opt, err := rrule.StrToROption(p.RRule)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid RRULE %q: %w", p.RRule, err)
	}
	start := master.Start.UTC()
	duration := master.End.Sub(master.Start)

	end := noClipEnd
	if opt.Count > 0 || !opt.Until.IsZero() {
		loc := time.UTC
		if p.TZID != "" {
			if l, err := time.LoadLocation(p.TZID); err == nil {
				loc = l
			}
		}
		opt.Dtstart = master.Start.In(loc)
		r, err := rrule.NewRRule(*opt)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid RRULE %q: %w", p.RRule, err)
		}
		all := r.All()
		if len(all) == 0 {
			return time.Time{}, time.Time{}, errors.New("series has no occurrences")
		}
		end = all[len(all)-1].UTC().Add(duration)
	}
	for _, ex := range p.Exceptions {
		if ex.Start.Before(start) {
			start = ex.Start
		}
		if ex.End.After(end) {
			end = ex.End
		}
	}
	return start, end, nil
}
