package memstore

import (
	"context"

	"groupcal/internal/mapi"
)

// Session exposes a fixed set of stores to one user. The first store is
// the user's default store.
type Session struct {
	user   string
	stores []mapi.Store
}

var _ mapi.Session = (*Session)(nil)

func NewSession(user string, stores ...mapi.Store) *Session {
	return &Session{user: user, stores: stores}
}

func (s *Session) User() string { return s.user }

func (s *Session) DefaultStore(_ context.Context) (mapi.Store, error) {
	if len(s.stores) == 0 {
		return nil, mapi.NewError(mapi.ErrNotFound, "no default store")
	}
	return s.stores[0], nil
}

func (s *Session) OpenStore(_ context.Context, id mapi.EntryID) (mapi.Store, error) {
	for _, st := range s.stores {
		if st.EntryID().Equal(id) {
			return st, nil
		}
	}
	return nil, mapi.NewError(mapi.ErrNotFound, "store not found")
}
