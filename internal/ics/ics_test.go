package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupcal/internal/mapi"
	"groupcal/internal/mapi/memstore"
	"groupcal/internal/recurrence"
	"groupcal/internal/tzdef"
)

func feed(events ...string) []byte {
	s := "BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:-//test//EN\n" + strings.Join(events, "") + "END:VCALENDAR\n"
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

const weekly = `BEGIN:VEVENT
UID:standup
DTSTAMP:20250101T000000Z
SUMMARY:Standup
LOCATION:Room 1
CATEGORIES:Work
DTSTART;TZID=Europe/Amsterdam:20250303T090000
DTEND;TZID=Europe/Amsterdam:20250303T091500
RRULE:FREQ=WEEKLY;COUNT=4
EXDATE;TZID=Europe/Amsterdam:20250317T090000
END:VEVENT
`

const moved = `BEGIN:VEVENT
UID:standup
DTSTAMP:20250101T000000Z
RECURRENCE-ID;TZID=Europe/Amsterdam:20250310T090000
SUMMARY:Standup (moved)
LOCATION:Room 1
CATEGORIES:Red
DTSTART;TZID=Europe/Amsterdam:20250311T140000
DTEND;TZID=Europe/Amsterdam:20250311T141500
END:VEVENT
`

const holiday = `BEGIN:VEVENT
UID:holiday
DTSTAMP:20250101T000000Z
SUMMARY:Holiday
CLASS:PRIVATE
TRANSP:TRANSPARENT
DTSTART;VALUE=DATE:20250305
END:VEVENT
`

const noUID = `BEGIN:VEVENT
SUMMARY:broken
DTSTART:20250305T100000Z
END:VEVENT
`

var src = Source{ID: "team", Name: "Team", URL: "https://example.com/cal.ics?token=secret"}

func TestParseICS(t *testing.T) {
	ams, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)

	events, err := ParseICS(src, feed(weekly, moved, holiday, noUID), time.UTC)
	require.NoError(t, err)
	require.Len(t, events, 3)

	series := events[0]
	assert.Equal(t, "standup", series.UID)
	assert.Equal(t, "Europe/Amsterdam", series.TZID)
	assert.True(t, series.Start.Equal(time.Date(2025, 3, 3, 9, 0, 0, 0, ams)))
	assert.Equal(t, 15*time.Minute, series.End.Sub(series.Start))
	assert.Equal(t, "FREQ=WEEKLY;COUNT=4", series.RRule)
	require.Len(t, series.ExDates, 1)
	assert.True(t, series.ExDates[0].Equal(time.Date(2025, 3, 17, 9, 0, 0, 0, ams)))
	assert.Equal(t, []string{"Work"}, series.Categories)
	assert.False(t, series.IsOverride())

	assert.True(t, events[1].IsOverride())
	assert.True(t, events[1].RecurrenceID.Equal(time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)))

	day := events[2]
	assert.True(t, day.AllDay)
	assert.True(t, day.Private)
	assert.True(t, day.Free)
	assert.Equal(t, 24*time.Hour, day.End.Sub(day.Start))

	_, err = ParseICS(src, nil, nil)
	assert.Error(t, err)
}

func TestBuildMessagesFoldsOverrides(t *testing.T) {
	events, err := ParseICS(src, feed(weekly, moved, holiday), time.UTC)
	require.NoError(t, err)

	msgs := BuildMessages(events, time.UTC)
	require.Len(t, msgs, 2)

	series := msgs[0]
	assert.Equal(t, true, series.Props[mapi.PropRecurring])
	assert.Equal(t, time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC), series.Props[mapi.PropClipStart])
	assert.Equal(t, time.Date(2025, 3, 24, 8, 15, 0, 0, time.UTC), series.Props[mapi.PropClipEnd])

	blob, ok := series.Props.Binary(mapi.PropRecurrencePattern)
	require.True(t, ok)
	p, err := recurrence.Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Amsterdam", p.TZID)
	assert.Equal(t, []time.Time{time.Date(2025, 3, 17, 8, 0, 0, 0, time.UTC)}, p.Deleted)
	require.Len(t, p.Exceptions, 1)
	require.NotNil(t, p.Exceptions[0].Subject)
	assert.Equal(t, "Standup (moved)", *p.Exceptions[0].Subject)
	assert.Nil(t, p.Exceptions[0].Location)

	require.Len(t, series.Attachments, 1)
	assert.Equal(t, time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC), series.Attachments[0].Props[mapi.PropExceptionBaseDate])
	assert.Equal(t, []string{"Red"}, series.Attachments[0].Embedded[mapi.PropCategories])

	tzBlob, ok := series.Props.Binary(mapi.PropTZDefStart)
	require.True(t, ok)
	def, err := tzdef.Parse(tzBlob)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Amsterdam", def.KeyName)

	day := msgs[1]
	assert.Equal(t, true, day.Props[mapi.PropAllDayEvent])
	assert.Equal(t, true, day.Props[mapi.PropPrivate])
	assert.Equal(t, busyFree, day.Props[mapi.PropBusyStatus])
	_, ok = day.Props.Binary(mapi.PropTZDefStart)
	assert.True(t, ok)
}

func TestBuildMessagesOrphanOverride(t *testing.T) {
	events, err := ParseICS(src, feed(moved), time.UTC)
	require.NoError(t, err)
	msgs := BuildMessages(events, time.UTC)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Standup (moved)", msgs[0].Props.String(mapi.PropSubject))
	assert.Equal(t, false, msgs[0].Props[mapi.PropRecurring])
}

func TestImportedSeriesExpands(t *testing.T) {
	ctx := context.Background()
	store := memstore.New("alice")
	im := NewImporter(NewFetcher(t.TempDir(), nil), store, nil, time.UTC)
	require.NoError(t, im.ImportBody(ctx, src, feed(weekly, moved)))

	fid, err := store.EnsureFolder(ctx, "Team")
	require.NoError(t, err)
	f, err := store.OpenFolder(ctx, fid)
	require.NoError(t, err)
	tbl, err := f.ContentsTable(ctx)
	require.NoError(t, err)
	rows, err := tbl.QueryAllRows(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	occ, err := recurrence.NewEngine().Expand(ctx, store, rows[0],
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	var got []string
	for _, o := range occ {
		s, _ := o.Time(mapi.PropStartDate)
		got = append(got, o.String(mapi.PropSubject)+" "+s.Format("01-02 15:04"))
	}
	assert.Equal(t, []string{
		"Standup 03-03 08:00",
		"Standup (moved) 03-11 13:00",
		"Standup 03-24 08:00",
	}, got)
}

func TestFetcherUsesValidatorsAndCache(t *testing.T) {
	var hits atomic.Int32
	var mode atomic.Value
	mode.Store("ok")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch mode.Load() {
		case "ok":
			w.Header().Set("ETag", `"v1"`)
			_, _ = w.Write(feed(holiday))
		case "conditional":
			if r.Header.Get("If-None-Match") == `"v1"` {
				w.WriteHeader(http.StatusNotModified)
				return
			}
			http.Error(w, "missing validator", http.StatusBadRequest)
		default:
			http.Error(w, "down", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	s := Source{ID: "s", URL: srv.URL + "/cal.ics"}
	ctx := context.Background()

	res, err := f.FetchOne(ctx, s)
	require.NoError(t, err)
	assert.False(t, res.FromCache)

	mode.Store("conditional")
	res, err = f.FetchOne(ctx, s)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, feed(holiday), res.Body)

	mode.Store("down")
	res, err = f.FetchOne(ctx, s)
	require.NoError(t, err)
	assert.True(t, res.FromCache)

	results, errs := f.FetchAll(ctx, []Source{{ID: "other", URL: srv.URL + "/other.ics"}, {ID: "empty"}})
	assert.Empty(t, results)
	assert.Len(t, errs, 2)
	assert.Equal(t, int32(4), hits.Load())
}

func TestRefreshReplacesFolderContents(t *testing.T) {
	var body atomic.Value
	body.Store(feed(weekly, holiday))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(body.Load().([]byte))
	}))
	defer srv.Close()

	ctx := context.Background()
	store := memstore.New("alice")
	sources := []Source{{ID: "team", Name: "Team", URL: srv.URL}, {ID: "bad"}}
	im := NewImporter(NewFetcher(t.TempDir(), srv.Client()), store, sources, time.UTC)

	assert.Error(t, im.Refresh(ctx))
	count := func() int {
		fid, err := store.EnsureFolder(ctx, "Team")
		require.NoError(t, err)
		f, err := store.OpenFolder(ctx, fid)
		require.NoError(t, err)
		p, err := f.Props(ctx)
		require.NoError(t, err)
		return p[mapi.PropContentCount].(int)
	}
	assert.Equal(t, 2, count())

	body.Store(feed(holiday))
	assert.Error(t, im.Refresh(ctx))
	assert.Equal(t, 1, count())
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	im := NewImporter(NewFetcher(t.TempDir(), nil), memstore.New("a"), nil, nil)
	assert.Error(t, im.Schedule(context.Background(), "not a spec"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, im.Schedule(ctx, "@every 1h"))
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://example.com/...(redacted)", redactURL(src.URL))
	assert.Equal(t, "ics://...(redacted)", redactURL("nonsense"))
}
