// Package module runs the server side of a request envelope: every
// (module name, module id) pair is handed to a Module built from a
// registered factory, and the Module answers into a shared response
// envelope.
package module

import (
	"context"
	"fmt"

	"groupcal/internal/envelope"
	"groupcal/internal/i18n"
	"groupcal/internal/mapi"
)

// Module executes the actions addressed to one module id.
type Module interface {
	Execute(ctx context.Context)
}

// Factory builds a Module around its Base.
type Factory func(base *Base) Module

// Settings are the per-server defaults modules fall back to.
type Settings struct {
	// PageSize is the row limit for list requests without one.
	PageSize int
}

// Base holds what every module needs: its address in the envelope, the
// actions sent to it, the user's session and the response being built.
type Base struct {
	Name     string
	ID       string
	Actions  []envelope.Action
	Session  mapi.Session
	Bus      *envelope.Builder
	T        *i18n.Translator
	Settings Settings
}

// AddActionData queues data as the response to actionType.
func (b *Base) AddActionData(actionType string, data any) {
	b.Bus.Add(b.Name, b.ID, actionType, data)
}

// Target is one folder an action operates on.
type Target struct {
	Store  mapi.Store
	Folder mapi.EntryID
}

// ActionTargets resolves the store/folder pairs named by an action. Store
// and folder ids may be single values or parallel lists; a missing store
// id means the user's default store.
func (b *Base) ActionTargets(ctx context.Context, a *ListAction) ([]Target, error) {
	if len(a.EntryID) == 0 {
		return nil, mapi.NewError(mapi.ErrInvalidParameter, "no folder entryid in action")
	}
	if len(a.StoreEntryID) > 1 && len(a.StoreEntryID) != len(a.EntryID) {
		return nil, mapi.NewError(mapi.ErrInvalidParameter,
			fmt.Sprintf("%d store entryids for %d folders", len(a.StoreEntryID), len(a.EntryID)))
	}

	stores := make(map[string]mapi.Store)
	targets := make([]Target, 0, len(a.EntryID))
	for i, fid := range a.EntryID {
		folderID, err := mapi.ParseEntryID(fid)
		if err != nil {
			return nil, mapi.NewError(mapi.ErrInvalidParameter, "bad folder entryid: "+err.Error())
		}

		var sid string
		switch {
		case len(a.StoreEntryID) == 1:
			sid = a.StoreEntryID[0]
		case len(a.StoreEntryID) > 1:
			sid = a.StoreEntryID[i]
		}
		store, ok := stores[sid]
		if !ok {
			if store, err = b.openStore(ctx, sid); err != nil {
				return nil, err
			}
			stores[sid] = store
		}
		targets = append(targets, Target{Store: store, Folder: folderID})
	}
	return targets, nil
}

func (b *Base) openStore(ctx context.Context, hexID string) (mapi.Store, error) {
	if hexID == "" {
		return b.Session.DefaultStore(ctx)
	}
	id, err := mapi.ParseEntryID(hexID)
	if err != nil {
		return nil, mapi.NewError(mapi.ErrInvalidParameter, "bad store entryid: "+err.Error())
	}
	return b.Session.OpenStore(ctx, id)
}

// CheckPrivateItem reports whether row is private and hidden from the
// session user in store.
func (b *Base) CheckPrivateItem(store mapi.Store, row mapi.Props) bool {
	return row.Bool(mapi.PropPrivate) && !store.CanSeePrivate(b.Session.User())
}
