// Package mapi describes the message-store contract consumed by the server
// modules: property rows, entry identifiers, restrictions, errors, and the
// store/folder/table/message interfaces. Concrete stores live in the
// memstore and sqlitestore subpackages.
package mapi

import (
	"bytes"
	"encoding/hex"
	"errors"
	"maps"
	"strings"
	"time"
)

// Property names used by the calendar and list modules.
const (
	PropEntryID              = "entryid"
	PropParentEntryID        = "parent_entryid"
	PropStoreEntryID         = "store_entryid"
	PropMessageClass         = "message_class"
	PropSubject              = "subject"
	PropBody                 = "body"
	PropLocation             = "location"
	PropStartDate            = "startdate"
	PropDueDate              = "duedate"
	PropCommonStart          = "commonstart"
	PropCommonEnd            = "commonend"
	PropClipStart            = "clipstart"
	PropClipEnd              = "clipend"
	PropRecurring            = "recurring"
	PropRecurrencePattern    = "recurrence_pattern"
	PropAllDayEvent          = "alldayevent"
	PropTZDefStart           = "tzdefstart"
	PropPrivate              = "private"
	PropCategories           = "categories"
	PropReminder             = "reminder"
	PropAccess               = "access"
	PropSenderName           = "sender_name"
	PropSentRepresentingName = "sent_representing_name"
	PropBusyStatus           = "busystatus"
	PropBaseDate             = "basedate"
	PropException            = "exception"
	PropRead                 = "read"
	PropDisplayName          = "display_name"
	PropContentCount         = "content_count"
	PropContentUnread        = "content_unread"
	PropAttachNum            = "attach_num"
	PropExceptionBaseDate    = "exception_basedate"
)

// RowBinaryLimit is the number of bytes a table row returns for a binary
// property. Longer values are truncated; read them with Message.OpenStream.
const RowBinaryLimit = 510

// EntryID identifies a store, folder or message.
type EntryID []byte

// Hex returns the lowercase hex encoding used on the wire.
func (e EntryID) Hex() string {
	return hex.EncodeToString(e)
}

// Equal reports whether both ids hold the same bytes.
func (e EntryID) Equal(o EntryID) bool {
	return bytes.Equal(e, o)
}

func (e EntryID) String() string {
	return e.Hex()
}

// ParseEntryID decodes a hex entry id as sent by the client.
func ParseEntryID(s string) (EntryID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("mapi: empty entryid")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return EntryID(b), nil
}

// Props is one row of message properties keyed by property name.
// Time values are time.Time, binaries are []byte or EntryID.
type Props map[string]any

// Clone returns a shallow copy of p.
func (p Props) Clone() Props {
	if p == nil {
		return Props{}
	}
	return maps.Clone(p)
}

// Select returns a copy containing only the named properties that are set.
func (p Props) Select(names []string) Props {
	out := make(Props, len(names))
	for _, n := range names {
		if v, ok := p[n]; ok {
			out[n] = v
		}
	}
	return out
}

// Time returns the time stored under name.
func (p Props) Time(name string) (time.Time, bool) {
	t, ok := p[name].(time.Time)
	return t, ok
}

// Bool returns the boolean stored under name; missing means false.
func (p Props) Bool(name string) bool {
	b, _ := p[name].(bool)
	return b
}

// String returns the string stored under name.
func (p Props) String(name string) string {
	s, _ := p[name].(string)
	return s
}

// Int returns the integer stored under name; missing means 0.
func (p Props) Int(name string) int64 {
	n, _ := toInt64(p[name])
	return n
}

// Binary returns the bytes stored under name.
func (p Props) Binary(name string) ([]byte, bool) {
	switch v := p[name].(type) {
	case []byte:
		return v, true
	case EntryID:
		return []byte(v), true
	default:
		return nil, false
	}
}

// EntryID returns the entry id stored under name.
func (p Props) EntryID(name string) (EntryID, bool) {
	b, ok := p.Binary(name)
	if !ok || len(b) == 0 {
		return nil, false
	}
	return EntryID(b), true
}

// IsEmpty mirrors the loose emptiness check used when backfilling
// common start/end: missing, nil, zero time, zero number or empty string.
func (p Props) IsEmpty(name string) bool {
	switch v := p[name].(type) {
	case nil:
		return true
	case time.Time:
		return v.IsZero()
	case string:
		return v == ""
	case int:
		return v == 0
	case int64:
		return v == 0
	case bool:
		return !v
	default:
		return false
	}
}

// Wire converts the row into the JSON shape sent to the client: times
// become unix seconds, binaries become hex strings.
func (p Props) Wire() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		switch tv := v.(type) {
		case time.Time:
			out[k] = tv.Unix()
		case []byte:
			out[k] = hex.EncodeToString(tv)
		case EntryID:
			out[k] = tv.Hex()
		default:
			out[k] = v
		}
	}
	return out
}

// TruncateBinaries returns a copy of p where binary values longer than
// limit are cut, as table rows do.
func TruncateBinaries(p Props, limit int) Props {
	out := p.Clone()
	for k, v := range out {
		if b, ok := v.([]byte); ok && len(b) > limit {
			out[k] = append([]byte(nil), b[:limit]...)
		}
	}
	return out
}
