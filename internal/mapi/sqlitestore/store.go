// Package sqlitestore is a mapi.Store persisted in a SQLite database. One
// database file holds one mailbox: its folders, messages and attachments.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	appLog "groupcal/internal/log"
	"groupcal/internal/mapi"
	"groupcal/internal/mapi/sqlitestore/migrations"
)

const metaEntryID = "entryid"

// Store persists one mailbox in SQLite.
type Store struct {
	sqlDB *sql.DB
	id    mapi.EntryID
	owner string

	opens atomic.Int64
}

var (
	_ mapi.Store  = (*Store)(nil)
	_ mapi.Writer = (*Store)(nil)
)

// Open opens the store at path for owner and applies embedded migrations.
// The store entry id is created on first open and kept afterwards.
func Open(path, owner string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if strings.TrimSpace(owner) == "" {
		return nil, fmt.Errorf("store owner is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{sqlDB: sqlDB, owner: owner}
	if s.id, err = s.loadEntryID(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	appLog.Debug("sqlitestore: opened", "path", path, "owner", owner, "store", s.id.Hex())
	return s, nil
}

func (s *Store) loadEntryID(ctx context.Context) (mapi.EntryID, error) {
	fresh := newEntryID()
	if _, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO store_meta (key, value) VALUES (?, ?)`,
		metaEntryID, fresh.Hex(),
	); err != nil {
		return nil, fmt.Errorf("init store id: %w", err)
	}
	var hexID string
	if err := s.sqlDB.QueryRowContext(ctx,
		`SELECT value FROM store_meta WHERE key = ?`, metaEntryID,
	).Scan(&hexID); err != nil {
		return nil, fmt.Errorf("read store id: %w", err)
	}
	id, err := mapi.ParseEntryID(hexID)
	if err != nil {
		return nil, fmt.Errorf("read store id: %w", err)
	}
	return id, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func newEntryID() mapi.EntryID {
	u := uuid.New()
	return mapi.EntryID(u[:])
}

func (s *Store) EntryID() mapi.EntryID { return s.id }

func (s *Store) Owner() string { return s.owner }

// GrantPrivate lets a delegate read private items of this store.
func (s *Store) GrantPrivate(ctx context.Context, user string) error {
	if _, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO delegates (user) VALUES (?)`, user,
	); err != nil {
		return fmt.Errorf("grant private: %w", err)
	}
	return nil
}

func (s *Store) CanSeePrivate(user string) bool {
	if user == s.owner {
		return true
	}
	var found int
	err := s.sqlDB.QueryRow(`SELECT 1 FROM delegates WHERE user = ?`, user).Scan(&found)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		appLog.Error("sqlitestore: delegate lookup failed", err, "user", user)
	}
	return err == nil
}

// MessageOpens reports how many times OpenMessage succeeded.
func (s *Store) MessageOpens() int64 {
	return s.opens.Load()
}

func (s *Store) EnsureFolder(ctx context.Context, name string) (mapi.EntryID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id, err := s.folderByName(ctx, name); err == nil {
		return id, nil
	} else if !errors.Is(err, mapi.ErrNotFound) {
		return nil, err
	}

	id := newEntryID()
	_, err := s.sqlDB.ExecContext(ctx, `INSERT INTO folders (id, name) VALUES (?, ?)`, []byte(id), name)
	if err != nil {
		if isUniqueViolation(err) {
			return s.folderByName(ctx, name)
		}
		return nil, fmt.Errorf("create folder: %w", err)
	}
	return id, nil
}

func (s *Store) folderByName(ctx context.Context, name string) (mapi.EntryID, error) {
	var id []byte
	err := s.sqlDB.QueryRowContext(ctx, `SELECT id FROM folders WHERE name = ?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mapi.NewError(mapi.ErrNotFound, "folder not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get folder: %w", err)
	}
	return mapi.EntryID(id), nil
}

func (s *Store) folderExists(ctx context.Context, q queryer, id mapi.EntryID) error {
	var found int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM folders WHERE id = ?`, []byte(id)).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return mapi.NewError(mapi.ErrNotFound, "folder not found")
	}
	if err != nil {
		return fmt.Errorf("get folder: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// AddMessage stores msg in folder and returns its entry id.
func (s *Store) AddMessage(ctx context.Context, folderID mapi.EntryID, msg mapi.NewMessage) (mapi.EntryID, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin add message: %w", err)
	}
	if err := s.folderExists(ctx, tx, folderID); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	id, err := s.insertMessage(ctx, tx, folderID, msg)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit add message: %w", err)
	}
	return id, nil
}

// ReplaceContents atomically swaps the messages of a folder.
func (s *Store) ReplaceContents(ctx context.Context, folderID mapi.EntryID, msgs []mapi.NewMessage) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace contents: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.folderExists(ctx, tx, folderID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM attachments WHERE message_id IN (SELECT id FROM messages WHERE folder_id = ?)`,
		[]byte(folderID),
	); err != nil {
		return fmt.Errorf("clear attachments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE folder_id = ?`, []byte(folderID)); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	for _, m := range msgs {
		if _, err := s.insertMessage(ctx, tx, folderID, m); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace contents: %w", err)
	}
	return nil
}

func (s *Store) insertMessage(ctx context.Context, tx queryer, folderID mapi.EntryID, msg mapi.NewMessage) (mapi.EntryID, error) {
	id := newEntryID()
	if given, ok := msg.Props.EntryID(mapi.PropEntryID); ok {
		id = given
	}
	props := msg.Props.Clone()
	props[mapi.PropEntryID] = id
	props[mapi.PropParentEntryID] = folderID
	props[mapi.PropStoreEntryID] = s.id
	doc, err := encodeProps(props)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, folder_id, seq, props)
		 VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE folder_id = ?), ?)`,
		[]byte(id), []byte(folderID), []byte(folderID), doc,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, mapi.NewError(mapi.ErrInvalidParameter, "duplicate message entryid "+id.Hex())
		}
		return nil, fmt.Errorf("insert message: %w", err)
	}

	for i, a := range msg.Attachments {
		attDoc, err := encodeProps(a.Props)
		if err != nil {
			return nil, fmt.Errorf("encode attachment: %w", err)
		}
		var embedded sql.NullString
		if a.Embedded != nil {
			doc, err := encodeProps(a.Embedded)
			if err != nil {
				return nil, fmt.Errorf("encode embedded message: %w", err)
			}
			embedded = sql.NullString{String: doc, Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO attachments (message_id, num, props, embedded) VALUES (?, ?, ?, ?)`,
			[]byte(id), i, attDoc, embedded,
		); err != nil {
			return nil, fmt.Errorf("insert attachment: %w", err)
		}
	}
	return id, nil
}

func (s *Store) OpenFolder(ctx context.Context, id mapi.EntryID) (mapi.Folder, error) {
	if err := s.folderExists(ctx, s.sqlDB, id); err != nil {
		return nil, err
	}
	return &folder{store: s, id: id}, nil
}

func (s *Store) OpenMessage(ctx context.Context, id mapi.EntryID) (mapi.Message, error) {
	var doc string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT props FROM messages WHERE id = ?`, []byte(id)).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mapi.NewError(mapi.ErrNotFound, "message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	props, err := decodeProps(doc)
	if err != nil {
		return nil, fmt.Errorf("decode message %s: %w", id.Hex(), err)
	}
	s.opens.Add(1)
	return &message{store: s, id: id, props: props}, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
