package mapi

import (
	"context"
	"io"
	"slices"
)

// Session is the authenticated view on the stores a user can reach.
type Session interface {
	User() string
	DefaultStore(ctx context.Context) (Store, error)
	OpenStore(ctx context.Context, id EntryID) (Store, error)
}

// Store is one message store (a mailbox, possibly shared by a delegate).
type Store interface {
	EntryID() EntryID
	Owner() string
	// CanSeePrivate reports whether user may read private items in this store.
	CanSeePrivate(user string) bool
	OpenFolder(ctx context.Context, id EntryID) (Folder, error)
	OpenMessage(ctx context.Context, id EntryID) (Message, error)
}

// Folder is a container of messages.
type Folder interface {
	EntryID() EntryID
	// Props returns display_name, content_count and content_unread.
	Props(ctx context.Context) (Props, error)
	ContentsTable(ctx context.Context) (Table, error)
}

// Query describes a paged table read.
type Query struct {
	Props       []string
	Restriction Restriction
	Sort        []SortOrder
	Start       int
	// Limit <= 0 means no limit.
	Limit int
}

// Table is the contents table of a folder.
type Table interface {
	// QueryAllRows returns every row matching r. A nil restriction matches all.
	QueryAllRows(ctx context.Context, props []string, r Restriction) ([]Props, error)
	// QueryRows returns one page of rows and the total number of matches.
	QueryRows(ctx context.Context, q Query) ([]Props, int, error)
}

// Message is an opened message.
type Message interface {
	EntryID() EntryID
	Props(ctx context.Context, names []string) (Props, error)
	// OpenStream reads a property without the row size limit.
	OpenStream(ctx context.Context, prop string) (io.ReadCloser, error)
	Attachments(ctx context.Context) ([]Attachment, error)
}

// Attachment is one attachment of a message. Recurrence exceptions are
// stored as embedded-message attachments.
type Attachment interface {
	Props() Props
	OpenEmbedded(ctx context.Context) (Message, error)
}

// NewAttachment is an attachment written through a Writer.
type NewAttachment struct {
	Props    Props
	Embedded Props
}

// NewMessage is a message written through a Writer.
type NewMessage struct {
	Props       Props
	Attachments []NewAttachment
}

// Writer is implemented by stores that accept imported content.
type Writer interface {
	// EnsureFolder returns the folder named name, creating it if needed.
	EnsureFolder(ctx context.Context, name string) (EntryID, error)
	// ReplaceContents atomically swaps the messages of a folder.
	ReplaceContents(ctx context.Context, folder EntryID, msgs []NewMessage) error
}

// StreamProperty reads prop from msg through its stream interface.
func StreamProperty(ctx context.Context, msg Message, prop string) ([]byte, error) {
	rc, err := msg.OpenStream(ctx, prop)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// ApplyQuery evaluates q over rows held in memory: restriction, stable
// sort, paging, column selection and row binary truncation.
func ApplyQuery(rows []Props, q Query) ([]Props, int) {
	matched := make([]Props, 0, len(rows))
	for _, r := range rows {
		if q.Restriction == nil || q.Restriction.Match(r) {
			matched = append(matched, r)
		}
	}
	if len(q.Sort) > 0 {
		slices.SortStableFunc(matched, func(a, b Props) int {
			return CompareRows(a, b, q.Sort)
		})
	}

	total := len(matched)
	start := min(max(q.Start, 0), total)
	end := total
	if q.Limit > 0 {
		end = min(start+q.Limit, total)
	}

	out := make([]Props, 0, end-start)
	for _, r := range matched[start:end] {
		row := r
		if len(q.Props) > 0 {
			row = r.Select(q.Props)
		}
		out = append(out, TruncateBinaries(row, RowBinaryLimit))
	}
	return out, total
}
