// Package recurrence expands recurring series masters into concrete
// occurrences within a time window.
package recurrence

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	appLog "groupcal/internal/log"
	"groupcal/internal/mapi"
)

const defaultMaxOccurrences = 5000

// Expander is the contract the calendar module consumes.
type Expander interface {
	// Expand returns the occurrences of master overlapping [start, end) in
	// chronological order.
	Expand(ctx context.Context, store mapi.Store, master mapi.Props, start, end time.Time) ([]mapi.Props, error)
	// ExceptionAttachment returns the attachment holding the modified
	// occurrence for basedate, or nil when there is none.
	ExceptionAttachment(ctx context.Context, msg mapi.Message, basedate time.Time) (mapi.Attachment, error)
}

// Engine is the rrule-backed Expander.
type Engine struct {
	// MaxOccurrences caps the occurrences produced per master. Zero means
	// defaultMaxOccurrences.
	MaxOccurrences int
}

var _ Expander = (*Engine)(nil)

func NewEngine() *Engine {
	return &Engine{MaxOccurrences: defaultMaxOccurrences}
}

func (e *Engine) Expand(ctx context.Context, store mapi.Store, master mapi.Props, start, end time.Time) ([]mapi.Props, error) {
	mStart, ok := master.Time(mapi.PropStartDate)
	if !ok {
		return nil, mapi.NewError(mapi.ErrInvalidParameter, "recurring item without start date")
	}
	mEnd, ok := master.Time(mapi.PropDueDate)
	if !ok {
		mEnd = mStart
	}

	pattern, err := e.loadPattern(ctx, store, master)
	if err != nil {
		return nil, err
	}

	r, err := rrule.StrToRRule(pattern.RRule)
	if err != nil {
		return nil, mapi.NewError(mapi.ErrInvalidParameter, fmt.Sprintf("invalid recurrence rule %q: %v", pattern.RRule, err))
	}
	loc := pattern.location()
	r.DTStart(mStart.In(loc))

	var set rrule.Set
	set.RRule(r)

	duration := mEnd.Sub(mStart)
	// Occurrences starting before the window may still overlap it.
	bases := set.Between(start.Add(-duration).In(loc), end.In(loc), true)

	limit := e.MaxOccurrences
	if limit <= 0 {
		limit = defaultMaxOccurrences
	}
	if len(bases) > limit {
		appLog.Warn("recurrence: occurrence cap reached", "entryid", master[mapi.PropEntryID], "cap", limit)
		bases = bases[:limit]
	}

	seen := make(map[int64]bool, len(bases))
	out := make([]mapi.Props, 0, len(bases))
	for _, base := range bases {
		base = base.UTC()
		seen[base.Unix()] = true
		if occ, ok := e.occurrence(master, pattern, base, duration, start, end); ok {
			out = append(out, occ)
		}
	}

	// Exceptions moved into the window from a base date outside it.
	for _, ex := range pattern.Exceptions {
		base := ex.BaseDate.UTC()
		if seen[base.Unix()] || len(set.Between(base.In(loc), base.In(loc), true)) == 0 {
			continue
		}
		if occ, ok := e.occurrence(master, pattern, base, duration, start, end); ok {
			out = append(out, occ)
		}
	}

	slices.SortStableFunc(out, func(a, b mapi.Props) int {
		at, _ := a.Time(mapi.PropStartDate)
		bt, _ := b.Time(mapi.PropStartDate)
		return at.Compare(bt)
	})
	return out, nil
}

func (e *Engine) occurrence(master mapi.Props, p *Pattern, base time.Time, duration time.Duration, start, end time.Time) (mapi.Props, bool) {
	if p.deleted(base) {
		return nil, false
	}
	occStart, occEnd := base, base.Add(duration)

	occ := master.Clone()
	delete(occ, mapi.PropRecurrencePattern)
	occ[mapi.PropBaseDate] = base

	if ex, ok := p.exception(base); ok {
		occ[mapi.PropException] = true
		occStart, occEnd = ex.Start.UTC(), ex.End.UTC()
		if ex.Subject != nil {
			occ[mapi.PropSubject] = *ex.Subject
		}
		if ex.Location != nil {
			occ[mapi.PropLocation] = *ex.Location
		}
	}
	if !Overlaps(occStart, occEnd, start, end) {
		return nil, false
	}

	occ[mapi.PropStartDate] = occStart
	occ[mapi.PropDueDate] = occEnd
	occ[mapi.PropCommonStart] = occStart
	occ[mapi.PropCommonEnd] = occEnd
	return occ, true
}

// loadPattern decodes the master's pattern, re-reading it through the
// message stream when the table row may have cut it short.
func (e *Engine) loadPattern(ctx context.Context, store mapi.Store, master mapi.Props) (*Pattern, error) {
	blob, ok := master.Binary(mapi.PropRecurrencePattern)
	if !ok {
		return nil, mapi.NewError(mapi.ErrInvalidParameter, "recurring item without recurrence pattern")
	}
	if len(blob) >= mapi.RowBinaryLimit {
		id, ok := master.EntryID(mapi.PropEntryID)
		if !ok {
			return nil, mapi.NewError(mapi.ErrInvalidParameter, "truncated recurrence pattern without entryid")
		}
		msg, err := store.OpenMessage(ctx, id)
		if err != nil {
			return nil, err
		}
		if blob, err = mapi.StreamProperty(ctx, msg, mapi.PropRecurrencePattern); err != nil {
			return nil, err
		}
	}
	p, err := Decode(blob)
	if err != nil {
		if errors.Is(err, ErrNoRule) {
			return nil, mapi.NewError(mapi.ErrInvalidParameter, err.Error())
		}
		return nil, mapi.NewError(mapi.ErrCallFailed, "corrupt recurrence pattern: "+err.Error())
	}
	return p, nil
}

func (e *Engine) ExceptionAttachment(ctx context.Context, msg mapi.Message, basedate time.Time) (mapi.Attachment, error) {
	atts, err := msg.Attachments(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range atts {
		if t, ok := a.Props().Time(mapi.PropExceptionBaseDate); ok && t.Equal(basedate) {
			return a, nil
		}
	}
	return nil, nil
}

// Overlaps reports whether [s, e) intersects the window [ws, we). A
// zero-length item exactly at the window start counts as inside.
func Overlaps(s, e, ws, we time.Time) bool {
	if e.After(ws) && s.Before(we) {
		return true
	}
	return s.Equal(ws) && e.Equal(ws)
}
