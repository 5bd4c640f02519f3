// Package calendar implements the appointment list module: calendar
// folders read either as a plain paged list or as the occurrences falling
// into a time window, with recurring series expanded.
package calendar

import (
	"context"
	"slices"
	"time"

	"groupcal/internal/i18n"
	appLog "groupcal/internal/log"
	"groupcal/internal/mapi"
	"groupcal/internal/module"
	"groupcal/internal/recurrence"
)

// ModuleName is the envelope name of the appointment list module.
const ModuleName = "appointmentlistmodule"

// Properties are the columns read for appointments. clipstart and clipend
// only take part in the window restriction and are not sent back.
var Properties = []string{
	mapi.PropEntryID,
	mapi.PropParentEntryID,
	mapi.PropStoreEntryID,
	mapi.PropMessageClass,
	mapi.PropSubject,
	mapi.PropLocation,
	mapi.PropStartDate,
	mapi.PropDueDate,
	mapi.PropCommonStart,
	mapi.PropCommonEnd,
	mapi.PropRecurring,
	mapi.PropRecurrencePattern,
	mapi.PropAllDayEvent,
	mapi.PropTZDefStart,
	mapi.PropPrivate,
	mapi.PropCategories,
	mapi.PropReminder,
	mapi.PropAccess,
	mapi.PropSenderName,
	mapi.PropSentRepresentingName,
	mapi.PropBusyStatus,
	mapi.PropRead,
}

var defaultSort = []mapi.SortOrder{{Prop: mapi.PropStartDate}}

// AppointmentList is the appointment list module.
type AppointmentList struct {
	*module.ListModule
	expander recurrence.Expander
}

// NewFactory returns the module factory using expander for recurring items.
func NewFactory(expander recurrence.Expander) module.Factory {
	return func(b *module.Base) module.Module {
		return &AppointmentList{
			ListModule: module.NewListModule(b, Properties, defaultSort),
			expander:   expander,
		}
	}
}

func (m *AppointmentList) Execute(ctx context.Context) {
	m.Run(ctx, m.handleAction)
}

func (m *AppointmentList) handleAction(ctx context.Context, actionType string, a *module.ListAction) error {
	if actionType == "list" {
		return m.messageList(ctx, actionType, a)
	}
	return m.HandleAction(ctx, actionType, a)
}

// messageList answers a list action. With a start and due date in the
// restriction it returns the occurrences in that window, otherwise the
// plain paged folder listing.
func (m *AppointmentList) messageList(ctx context.Context, actionType string, a *module.ListAction) error {
	start, end, windowed := a.Window()
	if !windowed {
		return m.MessageList(ctx, actionType, a)
	}

	targets, err := m.ActionTargets(ctx, a)
	if err != nil {
		return err
	}
	tz := m.clientZone(a, start)

	items := []mapi.Props{}
	for _, t := range targets {
		got, err := m.CalendarItems(ctx, t.Store, t.Folder, start, end, tz)
		if err != nil {
			return err
		}
		items = append(items, got...)
	}

	appLog.Debug("calendar: list", "id", m.ID, "folders", len(targets), "items", len(items),
		"start", start.Format(time.RFC3339), "end", end.Format(time.RFC3339))
	m.AddActionData(actionType, module.ListData{Item: module.Items(items)})
	return nil
}

// clientZone resolves the timezone the client registered with the
// request. Without one all-day items are left as stored.
func (m *AppointmentList) clientZone(a *module.ListAction, start time.Time) *Zone {
	name := a.TimezoneIANA
	if name == "" {
		return nil
	}
	z, err := ZoneFromIANA(name, start.Year())
	if err != nil {
		appLog.Warn("calendar: ignoring client timezone", "timezone", name, "err", err)
		return nil
	}
	return z
}

// WindowRestriction selects items overlapping [start, end), zero-length
// items exactly at start, and recurring items whose series overlaps.
func WindowRestriction(start, end time.Time) mapi.Restriction {
	return mapi.Or{
		mapi.Or{
			mapi.And{
				mapi.Property{Op: mapi.RelopGT, Prop: mapi.PropDueDate, Value: start},
				mapi.Property{Op: mapi.RelopLT, Prop: mapi.PropStartDate, Value: end},
			},
			mapi.And{
				mapi.Property{Op: mapi.RelopEQ, Prop: mapi.PropStartDate, Value: start},
				mapi.Property{Op: mapi.RelopEQ, Prop: mapi.PropDueDate, Value: start},
			},
		},
		mapi.And{
			mapi.Property{Op: mapi.RelopEQ, Prop: mapi.PropRecurring, Value: true},
			mapi.And{
				mapi.Property{Op: mapi.RelopGT, Prop: mapi.PropClipEnd, Value: start},
				mapi.Property{Op: mapi.RelopLT, Prop: mapi.PropClipStart, Value: end},
			},
		},
	}
}

// CalendarItems returns the occurrences in folder overlapping [start, end).
func (m *AppointmentList) CalendarItems(ctx context.Context, store mapi.Store, folderID mapi.EntryID, start, end time.Time, tz *Zone) ([]mapi.Props, error) {
	folder, err := store.OpenFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	table, err := folder.ContentsTable(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := table.QueryAllRows(ctx, Properties, WindowRestriction(start, end))
	if err != nil {
		return nil, err
	}
	return m.ProcessItems(ctx, store, rows, start, end, tz)
}

// ProcessItems turns table rows into client items: all-day correction,
// recurrence expansion, private redaction and common start/end backfill,
// sorted by start date.
func (m *AppointmentList) ProcessItems(ctx context.Context, store mapi.Store, rows []mapi.Props, start, end time.Time, tz *Zone) ([]mapi.Props, error) {
	items := make([]mapi.Props, 0, len(rows))
	opened := make(map[string]mapi.Message)

	for _, row := range rows {
		row = row.Clone()
		var shift *allDayShift
		if row.Bool(mapi.PropAllDayEvent) && tz != nil {
			var err error
			if shift, err = m.processAllDayItem(ctx, store, row, tz, opened); err != nil {
				return nil, err
			}
		}

		if !row.Bool(mapi.PropRecurring) {
			if shift != nil {
				shift.apply(row, false)
			}
			items = m.appendItem(items, store, row)
			continue
		}

		// Series are expanded in their own zone so base dates keep matching
		// deleted dates and exceptions. Occurrences are moved afterwards.
		expStart, expEnd := start, end
		if shift != nil {
			expStart, expEnd = start.Add(-allDaySlack), end.Add(allDaySlack)
		}
		occs, err := m.expander.Expand(ctx, store, row, expStart, expEnd)
		if err != nil {
			return nil, err
		}
		for _, occ := range occs {
			if shift != nil {
				shift.apply(occ, true)
				s, _ := occ.Time(mapi.PropStartDate)
				e, _ := occ.Time(mapi.PropDueDate)
				if !recurrence.Overlaps(s, e, start, end) {
					continue
				}
			}
			occ[mapi.PropRecurring] = false
			if occ.Bool(mapi.PropException) {
				if err := m.exceptionCategories(ctx, store, row, occ, opened); err != nil {
					return nil, err
				}
			}
			items = m.appendItem(items, store, occ)
		}
	}

	slices.SortStableFunc(items, compareCalendarItems)
	return items, nil
}

func compareCalendarItems(a, b mapi.Props) int {
	at, _ := a.Time(mapi.PropStartDate)
	bt, _ := b.Time(mapi.PropStartDate)
	return at.Compare(bt)
}

// exceptionCategories copies the categories of an exception occurrence
// from the exception's own embedded message. Masters are opened once per
// pass.
func (m *AppointmentList) exceptionCategories(ctx context.Context, store mapi.Store, master, occ mapi.Props, opened map[string]mapi.Message) error {
	id, ok := master.EntryID(mapi.PropEntryID)
	if !ok {
		return nil
	}
	basedate, ok := occ.Time(mapi.PropBaseDate)
	if !ok {
		return nil
	}

	msg, ok := opened[id.Hex()]
	if !ok {
		var err error
		if msg, err = store.OpenMessage(ctx, id); err != nil {
			return err
		}
		opened[id.Hex()] = msg
	}

	att, err := m.expander.ExceptionAttachment(ctx, msg, basedate)
	if err != nil || att == nil {
		return err
	}
	exception, err := att.OpenEmbedded(ctx)
	if err != nil {
		return err
	}
	props, err := exception.Props(ctx, []string{mapi.PropCategories})
	if err != nil {
		return err
	}
	if v, ok := props[mapi.PropCategories]; ok {
		occ[mapi.PropCategories] = v
	}
	return nil
}

func (m *AppointmentList) appendItem(items []mapi.Props, store mapi.Store, item mapi.Props) []mapi.Props {
	item = m.processPrivateItem(store, item)
	if item.IsEmpty(mapi.PropCommonStart) {
		if v, ok := item[mapi.PropStartDate]; ok {
			item[mapi.PropCommonStart] = v
		}
	}
	if item.IsEmpty(mapi.PropCommonEnd) {
		if v, ok := item[mapi.PropDueDate]; ok {
			item[mapi.PropCommonEnd] = v
		}
	}
	return append(items, item)
}

// processPrivateItem hides the details of private items the user may not
// read. The item itself stays so the time shows as busy.
func (m *AppointmentList) processPrivateItem(store mapi.Store, item mapi.Props) mapi.Props {
	if !m.CheckPrivateItem(store, item) {
		return item
	}
	item[mapi.PropSubject] = m.T.T(i18n.PrivateAppointment)
	item[mapi.PropLocation] = ""
	item[mapi.PropReminder] = 0
	item[mapi.PropAccess] = 0
	item[mapi.PropSentRepresentingName] = ""
	item[mapi.PropSenderName] = ""
	return item
}
