package sqlitestore

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"groupcal/internal/mapi"
)

type folder struct {
	store *Store
	id    mapi.EntryID
}

func (f *folder) EntryID() mapi.EntryID { return f.id }

func (f *folder) Props(ctx context.Context) (mapi.Props, error) {
	var name string
	if err := f.store.sqlDB.QueryRowContext(ctx,
		`SELECT name FROM folders WHERE id = ?`, []byte(f.id),
	).Scan(&name); err != nil {
		return nil, fmt.Errorf("get folder: %w", err)
	}
	rows, err := f.rows(ctx)
	if err != nil {
		return nil, err
	}
	unread := 0
	for _, r := range rows {
		if !r.Bool(mapi.PropRead) {
			unread++
		}
	}
	return mapi.Props{
		mapi.PropEntryID:       f.id,
		mapi.PropDisplayName:   name,
		mapi.PropContentCount:  len(rows),
		mapi.PropContentUnread: unread,
	}, nil
}

func (f *folder) ContentsTable(_ context.Context) (mapi.Table, error) {
	return &table{folder: f}, nil
}

// rows returns every message row of the folder in insertion order.
func (f *folder) rows(ctx context.Context) ([]mapi.Props, error) {
	rs, err := f.store.sqlDB.QueryContext(ctx,
		`SELECT props FROM messages WHERE folder_id = ? ORDER BY seq`, []byte(f.id))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rs.Close()

	var out []mapi.Props
	for rs.Next() {
		var doc string
		if err := rs.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		p, err := decodeProps(doc)
		if err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, p)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

type table struct {
	folder *folder
}

func (t *table) QueryAllRows(ctx context.Context, props []string, r mapi.Restriction) ([]mapi.Props, error) {
	rows, _, err := t.QueryRows(ctx, mapi.Query{Props: props, Restriction: r})
	return rows, err
}

// QueryRows loads the folder and evaluates the query in memory. Property
// documents are opaque to SQLite, so restrictions cannot be pushed down.
func (t *table) QueryRows(ctx context.Context, q mapi.Query) ([]mapi.Props, int, error) {
	rows, err := t.folder.rows(ctx)
	if err != nil {
		return nil, 0, err
	}
	page, total := mapi.ApplyQuery(rows, q)
	return page, total, nil
}

type message struct {
	store *Store
	id    mapi.EntryID
	props mapi.Props
}

func (m *message) EntryID() mapi.EntryID { return m.id }

func (m *message) Props(_ context.Context, names []string) (mapi.Props, error) {
	if len(names) == 0 {
		return m.props.Clone(), nil
	}
	return m.props.Select(names), nil
}

func (m *message) OpenStream(_ context.Context, prop string) (io.ReadCloser, error) {
	return openStream(m.props, prop)
}

func (m *message) Attachments(ctx context.Context) ([]mapi.Attachment, error) {
	rs, err := m.store.sqlDB.QueryContext(ctx,
		`SELECT num, props, embedded FROM attachments WHERE message_id = ? ORDER BY num`, []byte(m.id))
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rs.Close()

	var out []mapi.Attachment
	for rs.Next() {
		var (
			num      int64
			doc      string
			embedded sql.NullString
		)
		if err := rs.Scan(&num, &doc, &embedded); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		props, err := decodeProps(doc)
		if err != nil {
			return nil, fmt.Errorf("decode attachment: %w", err)
		}
		props[mapi.PropAttachNum] = num
		a := &attachment{parent: m.id, props: props}
		if embedded.Valid {
			if a.embedded, err = decodeProps(embedded.String); err != nil {
				return nil, fmt.Errorf("decode embedded message: %w", err)
			}
		}
		out = append(out, a)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return out, nil
}

type attachment struct {
	parent   mapi.EntryID
	props    mapi.Props
	embedded mapi.Props
}

func (a *attachment) Props() mapi.Props { return a.props }

func (a *attachment) OpenEmbedded(_ context.Context) (mapi.Message, error) {
	if a.embedded == nil {
		return nil, mapi.NewError(mapi.ErrNotFound, "attachment has no embedded message")
	}
	return &embedded{id: a.parent, props: a.embedded}, nil
}

// embedded is a read-only message stored inside an attachment row.
type embedded struct {
	id    mapi.EntryID
	props mapi.Props
}

func (e *embedded) EntryID() mapi.EntryID { return e.id }

func (e *embedded) Props(_ context.Context, names []string) (mapi.Props, error) {
	if len(names) == 0 {
		return e.props.Clone(), nil
	}
	return e.props.Select(names), nil
}

func (e *embedded) OpenStream(_ context.Context, prop string) (io.ReadCloser, error) {
	return openStream(e.props, prop)
}

func (e *embedded) Attachments(_ context.Context) ([]mapi.Attachment, error) {
	return nil, nil
}

func openStream(p mapi.Props, prop string) (io.ReadCloser, error) {
	switch v := p[prop].(type) {
	case []byte:
		return io.NopCloser(bytes.NewReader(v)), nil
	case string:
		return io.NopCloser(strings.NewReader(v)), nil
	default:
		return nil, mapi.NewError(mapi.ErrNotFound, "property "+prop+" not found")
	}
}
