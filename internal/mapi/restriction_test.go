package mapi

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertyRestriction(t *testing.T) {
	t0 := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	row := Props{PropStartDate: t0, PropRecurring: true, PropReminder: 15}

	assert.True(t, Property{Op: RelopEQ, Prop: PropStartDate, Value: t0}.Match(row))
	assert.True(t, Property{Op: RelopLT, Prop: PropStartDate, Value: t0.Add(time.Minute)}.Match(row))
	assert.False(t, Property{Op: RelopGT, Prop: PropStartDate, Value: t0}.Match(row))
	assert.True(t, Property{Op: RelopEQ, Prop: PropRecurring, Value: true}.Match(row))
	assert.True(t, Property{Op: RelopGE, Prop: PropReminder, Value: int64(15)}.Match(row))

	// Missing property and mismatched types never match, not even NE.
	assert.False(t, Property{Op: RelopNE, Prop: PropDueDate, Value: t0}.Match(row))
	assert.False(t, Property{Op: RelopEQ, Prop: PropStartDate, Value: "x"}.Match(row))
}

func TestCompoundRestriction(t *testing.T) {
	row := Props{PropSubject: "Weekly Sync", PropCategories: []string{"Team", "Blue"}}

	r := Or{
		Content{Prop: PropLocation, Substring: "room"},
		And{
			Content{Prop: PropSubject, Substring: "sync", IgnoreCase: true},
			Not{R: Exist{Prop: PropLocation}},
		},
	}
	assert.True(t, r.Match(row))
	assert.True(t, Content{Prop: PropCategories, Substring: "blue", IgnoreCase: true}.Match(row))
	assert.False(t, Content{Prop: PropSubject, Substring: "sync"}.Match(row))
}

func TestApplyQuery(t *testing.T) {
	rows := []Props{
		{PropSubject: "c", PropReminder: 3, PropTZDefStart: make([]byte, 600)},
		{PropSubject: "a", PropReminder: 1},
		{PropSubject: "b", PropReminder: 2},
		{PropSubject: "skip", PropReminder: 9},
	}
	q := Query{
		Props:       []string{PropSubject, PropTZDefStart},
		Restriction: Property{Op: RelopLT, Prop: PropReminder, Value: 5},
		Sort:        []SortOrder{{Prop: PropSubject, Descending: true}},
		Start:       0,
		Limit:       2,
	}

	page, total := ApplyQuery(rows, q)
	require.Len(t, page, 2)
	assert.Equal(t, 3, total)
	assert.Equal(t, "c", page[0].String(PropSubject))
	assert.Equal(t, "b", page[1].String(PropSubject))
	assert.NotContains(t, page[1], PropReminder)

	blob, ok := page[0].Binary(PropTZDefStart)
	require.True(t, ok)
	assert.Len(t, blob, RowBinaryLimit)
	// Source row is untouched.
	assert.Len(t, rows[0][PropTZDefStart], 600)
}

func TestWireAndEmptiness(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	p := Props{PropStartDate: t0, PropEntryID: EntryID{0xab, 0x01}, PropSubject: ""}

	w := p.Wire()
	assert.Equal(t, int64(1700000000), w[PropStartDate])
	assert.Equal(t, "ab01", w[PropEntryID])

	assert.True(t, p.IsEmpty(PropSubject))
	assert.True(t, p.IsEmpty(PropCommonStart))
	assert.False(t, p.IsEmpty(PropStartDate))
}

func TestEntryIDParse(t *testing.T) {
	id, err := ParseEntryID("00ff")
	require.NoError(t, err)
	assert.True(t, id.Equal(EntryID{0x00, 0xff}))

	_, err = ParseEntryID("")
	assert.Error(t, err)
	_, err = ParseEntryID("zz")
	assert.Error(t, err)
}

func TestErrorWrapping(t *testing.T) {
	err := NewError(ErrNoAccess, "folder not shared")
	assert.ErrorIs(t, err, ErrNoAccess)
	assert.Equal(t, CodeNoAccess, err.Code)

	generic := AsError(errors.New("disk on fire"))
	assert.ErrorIs(t, generic, ErrCallFailed)
	assert.Same(t, err, AsError(err))
}
