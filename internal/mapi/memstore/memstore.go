// Package memstore is an in-memory mapi.Store. It backs the default server
// configuration and the tests of the modules built on top of mapi.
package memstore

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"groupcal/internal/mapi"
)

type folder struct {
	id       mapi.EntryID
	name     string
	messages []string // message keys in insertion order
}

type message struct {
	id          mapi.EntryID
	folder      string
	props       mapi.Props
	attachments []mapi.NewAttachment
}

// Store holds folders and messages for one mailbox owner.
type Store struct {
	mu        sync.RWMutex
	id        mapi.EntryID
	owner     string
	delegates map[string]bool
	folders   map[string]*folder
	byName    map[string]string
	messages  map[string]*message

	opens atomic.Int64
}

var (
	_ mapi.Store  = (*Store)(nil)
	_ mapi.Writer = (*Store)(nil)
)

// New returns an empty store owned by owner.
func New(owner string) *Store {
	return &Store{
		id:        newEntryID(),
		owner:     owner,
		delegates: make(map[string]bool),
		folders:   make(map[string]*folder),
		byName:    make(map[string]string),
		messages:  make(map[string]*message),
	}
}

func newEntryID() mapi.EntryID {
	u := uuid.New()
	return mapi.EntryID(u[:])
}

func key(id mapi.EntryID) string {
	return id.Hex()
}

func (s *Store) EntryID() mapi.EntryID { return s.id }

func (s *Store) Owner() string { return s.owner }

// GrantPrivate lets a delegate read private items of this store.
func (s *Store) GrantPrivate(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delegates[user] = true
}

func (s *Store) CanSeePrivate(user string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return user == s.owner || s.delegates[user]
}

// MessageOpens reports how many times OpenMessage succeeded.
func (s *Store) MessageOpens() int64 {
	return s.opens.Load()
}

func (s *Store) EnsureFolder(_ context.Context, name string) (mapi.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.byName[name]; ok {
		return s.folders[k].id, nil
	}
	f := &folder{id: newEntryID(), name: name}
	s.folders[key(f.id)] = f
	s.byName[name] = key(f.id)
	return f.id, nil
}

// AddMessage stores msg in folder and returns its entry id.
func (s *Store) AddMessage(_ context.Context, folderID mapi.EntryID, msg mapi.NewMessage) (mapi.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[key(folderID)]
	if !ok {
		return nil, mapi.NewError(mapi.ErrNotFound, "folder not found")
	}
	return s.addLocked(f, msg), nil
}

func (s *Store) ReplaceContents(_ context.Context, folderID mapi.EntryID, msgs []mapi.NewMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[key(folderID)]
	if !ok {
		return mapi.NewError(mapi.ErrNotFound, "folder not found")
	}
	for _, k := range f.messages {
		delete(s.messages, k)
	}
	f.messages = nil
	for _, m := range msgs {
		s.addLocked(f, m)
	}
	return nil
}

func (s *Store) addLocked(f *folder, msg mapi.NewMessage) mapi.EntryID {
	id := newEntryID()
	if given, ok := msg.Props.EntryID(mapi.PropEntryID); ok {
		id = given
	}
	props := msg.Props.Clone()
	props[mapi.PropEntryID] = id
	props[mapi.PropParentEntryID] = f.id
	props[mapi.PropStoreEntryID] = s.id
	s.messages[key(id)] = &message{
		id:          id,
		folder:      key(f.id),
		props:       props,
		attachments: msg.Attachments,
	}
	f.messages = append(f.messages, key(id))
	return id
}

func (s *Store) OpenFolder(_ context.Context, id mapi.EntryID) (mapi.Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.folders[key(id)]; !ok {
		return nil, mapi.NewError(mapi.ErrNotFound, "folder not found")
	}
	return &folderHandle{store: s, key: key(id)}, nil
}

func (s *Store) OpenMessage(_ context.Context, id mapi.EntryID) (mapi.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[key(id)]
	if !ok {
		return nil, mapi.NewError(mapi.ErrNotFound, "message not found")
	}
	s.opens.Add(1)
	return &messageHandle{store: s, msg: m}, nil
}

type folderHandle struct {
	store *Store
	key   string
}

func (f *folderHandle) EntryID() mapi.EntryID {
	f.store.mu.RLock()
	defer f.store.mu.RUnlock()
	return f.store.folders[f.key].id
}

func (f *folderHandle) Props(_ context.Context) (mapi.Props, error) {
	f.store.mu.RLock()
	defer f.store.mu.RUnlock()
	fo := f.store.folders[f.key]
	unread := 0
	for _, k := range fo.messages {
		if !f.store.messages[k].props.Bool(mapi.PropRead) {
			unread++
		}
	}
	return mapi.Props{
		mapi.PropEntryID:       fo.id,
		mapi.PropDisplayName:   fo.name,
		mapi.PropContentCount:  len(fo.messages),
		mapi.PropContentUnread: unread,
	}, nil
}

func (f *folderHandle) ContentsTable(_ context.Context) (mapi.Table, error) {
	return &table{folder: f}, nil
}

type table struct {
	folder *folderHandle
}

func (t *table) rows() []mapi.Props {
	s := t.folder.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	fo := s.folders[t.folder.key]
	rows := make([]mapi.Props, 0, len(fo.messages))
	for _, k := range fo.messages {
		rows = append(rows, s.messages[k].props)
	}
	return rows
}

func (t *table) QueryAllRows(ctx context.Context, props []string, r mapi.Restriction) ([]mapi.Props, error) {
	rows, _, err := t.QueryRows(ctx, mapi.Query{Props: props, Restriction: r})
	return rows, err
}

func (t *table) QueryRows(ctx context.Context, q mapi.Query) ([]mapi.Props, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	rows, total := mapi.ApplyQuery(t.rows(), q)
	return rows, total, nil
}

type messageHandle struct {
	store *Store
	msg   *message
}

func (m *messageHandle) EntryID() mapi.EntryID { return m.msg.id }

func (m *messageHandle) Props(_ context.Context, names []string) (mapi.Props, error) {
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()
	if len(names) == 0 {
		return m.msg.props.Clone(), nil
	}
	return m.msg.props.Select(names), nil
}

func (m *messageHandle) OpenStream(_ context.Context, prop string) (io.ReadCloser, error) {
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()
	return openStream(m.msg.props, prop)
}

func (m *messageHandle) Attachments(_ context.Context) ([]mapi.Attachment, error) {
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()
	out := make([]mapi.Attachment, 0, len(m.msg.attachments))
	for i, a := range m.msg.attachments {
		props := a.Props.Clone()
		props[mapi.PropAttachNum] = i
		out = append(out, &attachment{
			parent:   m.msg.id,
			props:    props,
			embedded: a.Embedded,
		})
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
	return &embeddedMessage{id: a.parent, props: a.embedded.Clone()}, nil
}

// embeddedMessage is a read-only message living inside an attachment.
type embeddedMessage struct {
	id    mapi.EntryID
	props mapi.Props
}

func (e *embeddedMessage) EntryID() mapi.EntryID { return e.id }

func (e *embeddedMessage) Props(_ context.Context, names []string) (mapi.Props, error) {
	if len(names) == 0 {
		return e.props.Clone(), nil
	}
	return e.props.Select(names), nil
}

func (e *embeddedMessage) OpenStream(_ context.Context, prop string) (io.ReadCloser, error) {
	return openStream(e.props, prop)
}

func (e *embeddedMessage) Attachments(_ context.Context) ([]mapi.Attachment, error) {
	return nil, nil
}

func openStream(p mapi.Props, prop string) (io.ReadCloser, error) {
	switch v := p[prop].(type) {
	case []byte:
		return io.NopCloser(bytes.NewReader(append([]byte(nil), v...))), nil
	case string:
		return io.NopCloser(strings.NewReader(v)), nil
	default:
		return nil, mapi.NewError(mapi.ErrNotFound, "property "+prop+" not found")
	}
}
