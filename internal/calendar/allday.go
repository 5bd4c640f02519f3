package calendar

import (
	"bytes"
	"context"
	"time"

	appLog "groupcal/internal/log"
	"groupcal/internal/mapi"
	"groupcal/internal/tzdef"
)

// tzdefRefetchLen is the length above which a tzdefstart read from a table
// row may have been cut and is read again from the message.
const tzdefRefetchLen = 500

// Zone is the client's timezone definition for one request.
type Zone struct {
	blob []byte
	rule tzdef.Rule
	ok   bool
}

// ZoneFromIANA builds the client zone for name as it applies in year.
func ZoneFromIANA(name string, year int) (*Zone, error) {
	def, err := tzdef.FromIANA(name, year)
	if err != nil {
		return nil, err
	}
	return NewZone(def.Marshal()), nil
}

// NewZone wraps a client timezone definition blob. A blob that does not
// parse or has no effective rule still compares against appointment
// blobs but never shifts an item.
func NewZone(blob []byte) *Zone {
	z := &Zone{blob: blob}
	def, err := tzdef.Parse(blob)
	if err != nil {
		return z
	}
	if i, ok := def.EffectiveRule(); ok {
		z.rule, z.ok = def.Rules[i], true
	}
	return z
}

// allDaySlack widens the expansion window of an all-day series so that
// occurrences moved into the window by the zone correction are found.
const allDaySlack = 48 * time.Hour

// allDayShift moves all-day items from the zone they were created in to
// the client's.
type allDayShift struct {
	app, client tzdef.Rule
}

// apply corrects the start of p and moves its due date along, keeping the
// duration. With common set the common start and end follow.
func (s *allDayShift) apply(p mapi.Props, common bool) {
	start, ok := p.Time(mapi.PropStartDate)
	if !ok {
		return
	}
	end, ok := p.Time(mapi.PropDueDate)
	if !ok {
		end = start
	}
	local := CorrectAllDayStart(start, s.app, s.client)
	due := local.Add(end.Sub(start))
	p[mapi.PropStartDate] = local
	p[mapi.PropDueDate] = due
	if common {
		p[mapi.PropCommonStart] = local
		p[mapi.PropCommonEnd] = due
	}
}

// processAllDayItem works out how an all-day item moves into the client's
// zone. It returns nil when the item stays as stored. A cut tzdefstart is
// read again from the message and stored back into row.
func (m *AppointmentList) processAllDayItem(ctx context.Context, store mapi.Store, row mapi.Props, tz *Zone, opened map[string]mapi.Message) (*allDayShift, error) {
	blob, ok := row.Binary(mapi.PropTZDefStart)
	if !ok {
		return nil, nil
	}
	start, ok := row.Time(mapi.PropStartDate)
	if !ok {
		return nil, nil
	}

	if len(blob) > tzdefRefetchLen {
		id, ok := row.EntryID(mapi.PropEntryID)
		if !ok {
			return nil, nil
		}
		msg, err := store.OpenMessage(ctx, id)
		if err != nil {
			return nil, err
		}
		if blob, err = mapi.StreamProperty(ctx, msg, mapi.PropTZDefStart); err != nil {
			return nil, err
		}
		row[mapi.PropTZDefStart] = blob
		opened[id.Hex()] = msg
	}

	if bytes.Equal(blob, tz.blob) || !tz.ok {
		return nil, nil
	}
	app, err := tzdef.Parse(blob)
	if err != nil {
		appLog.Warn("calendar: unreadable tzdefstart", "entryid", row[mapi.PropEntryID], "err", err)
		return nil, nil
	}
	idx, ok := app.EffectiveRule()
	if !ok {
		return nil, nil
	}

	shift := &allDayShift{app: app.Rules[idx], client: tz.rule}
	if shift.app.HasTransitions() {
		appLog.Debug("calendar: moving all-day item", "entryid", row[mapi.PropEntryID],
			"zone", app.KeyName, "daylight_from", shift.app.Daylight.Describe(start.UTC().Year()))
	}
	return shift, nil
}

// CorrectAllDayStart applies the bias of the appointment zone and the
// client zone to start, then each zone's daylight bias when start falls
// in that zone's daylight span for start's year.
func CorrectAllDayStart(start time.Time, app, client tzdef.Rule) time.Time {
	local := start.Add(time.Duration(client.Bias-app.Bias) * time.Minute)
	if app.InDaylight(start) {
		local = local.Add(-time.Duration(app.DaylightBias) * time.Minute)
	}
	if client.InDaylight(start) {
		local = local.Add(-time.Duration(client.DaylightBias) * time.Minute)
	}
	return local
}
